package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedChecker answers with its script, repeating the last answer
type scriptedChecker struct {
	mu     sync.Mutex
	script []checkResult
	calls  atomic.Int32
}

type checkResult struct {
	status *StatusResponse
	err    error
}

func generating() checkResult {
	return checkResult{status: &StatusResponse{Success: true, Status: StatusGenerating}}
}

func (c *scriptedChecker) Status(ctx context.Context, userID, mode string) (*StatusResponse, error) {
	n := int(c.calls.Add(1)) - 1
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= len(c.script) {
		n = len(c.script) - 1
	}
	r := c.script[n]
	return r.status, r.err
}

var fastPoll = PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 20}

func TestPollSession_Completes(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{
		generating(),
		{err: errors.New("connection reset")},
		generating(),
		{status: &StatusResponse{Success: true, Status: StatusCompleted, HasResult: true}},
	}}

	session := NewPollSession(checker, "U", "budget", fastPoll)
	status, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected completion, got %v", err)
	}
	if !status.HasResult {
		t.Error("Expected a result")
	}
	if session.Attempts() != 4 {
		t.Errorf("Expected 4 attempts, got %d", session.Attempts())
	}
	if OutcomeOf(err) != OutcomeCompleted {
		t.Errorf("Expected completed outcome, got %s", OutcomeOf(err))
	}
}

func TestPollSession_Failed(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{
		generating(),
		{status: &StatusResponse{Success: true, Status: StatusError, ErrorMessage: "model overloaded"}},
	}}

	_, err := NewPollSession(checker, "U", "healthy", fastPoll).Run(context.Background())

	var failed *FailedError
	if !errors.As(err, &failed) || failed.Message != "model overloaded" {
		t.Fatalf("Expected FailedError, got %v", err)
	}
	if OutcomeOf(err) != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", OutcomeOf(err))
	}
}

func TestPollSession_TimesOut(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{generating()}}

	session := NewPollSession(checker, "U", "quick", PollConfig{Interval: time.Millisecond, MaxAttempts: 3})
	_, err := session.Run(context.Background())

	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("Expected ErrPollTimeout, got %v", err)
	}
	var failed *FailedError
	if errors.As(err, &failed) {
		t.Error("A timeout must be distinguishable from a failure")
	}
	if checker.calls.Load() != 3 {
		t.Errorf("Expected exactly 3 status calls, got %d", checker.calls.Load())
	}
	if OutcomeOf(err) != OutcomeTimedOut {
		t.Errorf("Expected timed_out outcome, got %s", OutcomeOf(err))
	}
}

func TestPollSession_Cancelled(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{generating()}}
	ctx, cancel := context.WithCancel(context.Background())

	session := NewPollSession(checker, "U", "budget", PollConfig{Interval: 10 * time.Millisecond, MaxAttempts: 1000})
	done := make(chan error, 1)
	go func() {
		_, err := session.Run(ctx)
		done <- err
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Session did not stop after cancellation")
	}

	calls := checker.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if checker.calls.Load() != calls {
		t.Error("Status calls continued after cancellation")
	}
}

func TestPollSession_StartTwice(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{generating()}}
	session := NewPollSession(checker, "U", "budget", fastPoll)

	if err := session.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer session.Stop()

	if err := session.Start(context.Background(), nil); err == nil {
		t.Error("Expected second Start to fail")
	}
}

func TestPollSession_StopBeforeStart(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{generating()}}
	session := NewPollSession(checker, "U", "budget", fastPoll)

	session.Stop()
	if err := session.Start(context.Background(), nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled for a stopped session, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if checker.calls.Load() != 0 {
		t.Errorf("A session stopped before Start must not poll, got %d calls", checker.calls.Load())
	}
}
