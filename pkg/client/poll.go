package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPollTimeout means the attempt cap was reached while generation was still running.
// The computation may still finish; a later status call can observe it.
var ErrPollTimeout = errors.New("recommendations are still being generated")

// FailedError carries the server's error message for a key whose generation failed
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string {
	return "recommendation generation failed: " + e.Message
}

// Outcome is how a poll session ended
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "cancelled"
	}
}

// OutcomeOf classifies the error returned by PollSession.Run
func OutcomeOf(err error) Outcome {
	var failed *FailedError
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.As(err, &failed):
		return OutcomeFailed
	case errors.Is(err, ErrPollTimeout):
		return OutcomeTimedOut
	default:
		return OutcomeCancelled
	}
}

// PollConfig bounds a poll session
type PollConfig struct {
	Interval    time.Duration // default 1s
	MaxAttempts int           // default 120
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 120
	}
	return c
}

// PollSession polls the status of one key until it completes, fails or runs out of attempts.
// Ticks never overlap: the next wait starts after the previous status call returned.
type PollSession struct {
	checker StatusChecker
	userID  string
	mode    string
	cfg     PollConfig

	attempts atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewPollSession creates a session; nothing runs until Run or Start
func NewPollSession(checker StatusChecker, userID, mode string, cfg PollConfig) *PollSession {
	return &PollSession{
		checker: checker,
		userID:  userID,
		mode:    mode,
		cfg:     cfg.withDefaults(),
	}
}

// Key returns the polled user and mode
func (p *PollSession) Key() (string, string) {
	return p.userID, p.mode
}

// Attempts is the number of status calls issued so far
func (p *PollSession) Attempts() int {
	return int(p.attempts.Load())
}

// Run polls synchronously. It returns the completed status, a *FailedError,
// ErrPollTimeout, or ErrCancelled when ctx ends first.
func (p *PollSession) Run(ctx context.Context) (*StatusResponse, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-timer.C:
		}

		if int(p.attempts.Load()) >= p.cfg.MaxAttempts {
			return nil, ErrPollTimeout
		}
		attempt := p.attempts.Add(1)

		status, err := p.checker.Status(ctx, p.userID, p.mode)
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		switch {
		case err != nil:
			log.Printf("⚠️  [POLL] Status check %d/%d for %s:%s failed: %v", attempt, p.cfg.MaxAttempts, p.userID, p.mode, err)
		case status.Status == StatusCompleted || status.HasResult:
			return status, nil
		case status.Status == StatusError:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return status, &FailedError{Message: msg}
		}

		timer.Reset(p.cfg.Interval)
	}
}

// Start runs the session in the background under parent and calls onDone with its result.
// onDone is not called when the session is stopped first. Starting a session that
// was already stopped returns ErrCancelled and polls nothing.
func (p *PollSession) Start(parent context.Context, onDone func(*StatusResponse, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrCancelled
	}
	if p.done != nil {
		return fmt.Errorf("poll session for %s:%s already started", p.userID, p.mode)
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer cancel()

		status, err := p.Run(ctx)
		if errors.Is(err, ErrCancelled) {
			return
		}
		if onDone != nil {
			onDone(status, err)
		}
	}()
	return nil
}

// Stop cancels a started session and waits until its goroutine has exited.
// A session stopped before Start never runs. Must not be called from inside the
// session's onDone.
func (p *PollSession) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
