package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScope_CloseStopsPolling(t *testing.T) {
	checker := &scriptedChecker{script: []checkResult{generating()}}
	scope := NewScope(context.Background())

	var delivered atomic.Bool
	_, err := scope.Poll(checker, "U", "budget", PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 1000}, func(*StatusResponse, error) {
		delivered.Store(true)
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if !scope.Loading() {
		t.Error("Expected loading while polling")
	}

	time.Sleep(30 * time.Millisecond)
	scope.Close()

	if scope.Loading() {
		t.Error("Expected loading reset by Close")
	}
	calls := checker.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if checker.calls.Load() != calls {
		t.Error("Status calls continued after the scope closed")
	}
	if delivered.Load() {
		t.Error("A cancelled session must not deliver a result")
	}

	if _, err := scope.Poll(checker, "U", "budget", fastPoll, nil); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled from a closed scope, got %v", err)
	}
}

func TestScope_PollReplacesSession(t *testing.T) {
	stale := &scriptedChecker{script: []checkResult{generating()}}
	fresh := &scriptedChecker{script: []checkResult{
		generating(),
		{status: &StatusResponse{Success: true, Status: StatusCompleted, HasResult: true}},
	}}
	scope := NewScope(context.Background())
	defer scope.Close()

	var staleDelivered atomic.Bool
	first, _ := scope.Poll(stale, "U", "budget", PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 1000}, func(*StatusResponse, error) {
		staleDelivered.Store(true)
	})

	time.Sleep(20 * time.Millisecond)

	results := make(chan error, 1)
	_, err := scope.Poll(fresh, "U", "healthy", fastPoll, func(status *StatusResponse, err error) {
		results <- err
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	// Replacement stops the first session before the second starts
	staleCalls := stale.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if stale.calls.Load() != staleCalls {
		t.Error("Replaced session kept polling")
	}
	if user, mode := first.Key(); user != "U" || mode != "budget" {
		t.Errorf("Unexpected key %s:%s", user, mode)
	}

	select {
	case err := <-results:
		if err != nil {
			t.Errorf("Expected completion, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Replacement session never completed")
	}

	if staleDelivered.Load() {
		t.Error("Replaced session must not deliver")
	}
	if scope.Loading() {
		t.Error("Expected loading cleared after completion")
	}
}

func TestScope_DoDiscardsLateResults(t *testing.T) {
	scope := NewScope(context.Background())

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- scope.Do(func(ctx context.Context) error {
			close(started)
			// A call that ignores cancellation and answers late
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()

	<-started
	if !scope.Loading() {
		t.Error("Expected loading while a call is outstanding")
	}
	scope.Close()
	if scope.Loading() {
		t.Error("Expected loading reset synchronously by Close")
	}

	if err := <-result; !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected late result discarded as ErrCancelled, got %v", err)
	}
	if UserVisible(ErrCancelled) != nil {
		t.Error("Cancellation must not be user visible")
	}

	failure := errors.New("boom")
	if UserVisible(failure) != failure {
		t.Error("Real failures must stay visible")
	}
}

func TestScope_DoPassesContext(t *testing.T) {
	scope := NewScope(context.Background())
	defer scope.Close()

	err := scope.Do(func(ctx context.Context) error {
		if ctx != scope.Context() {
			t.Error("Expected the scope context")
		}
		return errors.New("upstream")
	})
	if err == nil || errors.Is(err, ErrCancelled) {
		t.Errorf("Expected the call's own error, got %v", err)
	}
	if scope.Loading() {
		t.Error("Expected loading cleared after the call")
	}
}

func TestLifecycle_Enter(t *testing.T) {
	lc := NewLifecycle(context.Background())

	home := lc.Enter("home")
	checker := &scriptedChecker{script: []checkResult{generating()}}
	if _, err := home.Poll(checker, "U", "budget", PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 1000}, nil); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	menu := lc.Enter("menu")
	if !home.Closed() {
		t.Error("Entering a view must close the previous scope")
	}
	if home.Context().Err() == nil {
		t.Error("Expected the previous scope's context cancelled")
	}

	current, view := lc.Current()
	if current != menu || view != "menu" {
		t.Errorf("Expected menu scope current, got %s", view)
	}

	lc.Leave()
	if !menu.Closed() {
		t.Error("Leave must close the active scope")
	}
}

func TestScope_ConcurrentPollsLeaveOneSession(t *testing.T) {
	scope := NewScope(context.Background())
	defer scope.Close()
	cfg := PollConfig{Interval: 2 * time.Millisecond, MaxAttempts: 10000}

	checkers := make([]*scriptedChecker, 50)
	var wg sync.WaitGroup
	for i := range checkers {
		checkers[i] = &scriptedChecker{script: []checkResult{generating()}}
		wg.Add(1)
		go func(checker *scriptedChecker) {
			defer wg.Done()
			_, err := scope.Poll(checker, "U", "budget", cfg, nil)
			if err != nil && !errors.Is(err, ErrCancelled) {
				t.Errorf("Unexpected Poll error: %v", err)
			}
		}(checkers[i])
	}
	wg.Wait()

	scope.mu.Lock()
	current := scope.session
	scope.mu.Unlock()
	if current == nil {
		t.Fatal("Expected one active session")
	}

	// Only the current session's checker may still be called
	time.Sleep(10 * time.Millisecond)
	before := make([]int32, len(checkers))
	for i, c := range checkers {
		before[i] = c.calls.Load()
	}
	time.Sleep(30 * time.Millisecond)
	for i, c := range checkers {
		if StatusChecker(c) == current.checker {
			continue
		}
		if c.calls.Load() != before[i] {
			t.Errorf("Replaced session %d kept polling", i)
		}
	}
}
