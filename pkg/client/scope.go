package client

import (
	"context"
	"errors"
	"sync"
)

// Scope binds requests and at most one poll session to a consumer context, such as
// the view a user is looking at. Closing the scope cancels everything bound to it,
// and results arriving afterwards are discarded.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight int
	session  *PollSession
}

// NewScope opens a scope under parent
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the scope closes
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Do runs fn bound to the scope. When the scope closes before fn returns, Do
// returns ErrCancelled and fn's own result must not be applied.
func (s *Scope) Do(fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.inflight++
	s.mu.Unlock()

	err := fn(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrCancelled
	}
	s.inflight--
	return err
}

// Poll starts a poll session for (userID, mode), first stopping the session it replaces.
// A session replaced or closed before it started never runs, and Poll returns ErrCancelled.
// onDone runs with the scope lock held, only while the session is still current and
// the scope open, so it must not call back into the scope.
func (s *Scope) Poll(checker StatusChecker, userID, mode string, cfg PollConfig, onDone func(*StatusResponse, error)) (*PollSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	prev := s.session
	session := NewPollSession(checker, userID, mode, cfg)
	s.session = session
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	err := session.Start(s.ctx, func(status *StatusResponse, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.session != session {
			return
		}
		s.session = nil
		if onDone != nil {
			onDone(status, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Loading reports whether a bound request or a poll session is outstanding
func (s *Scope) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0 || s.session != nil
}

// Close cancels all bound requests, stops the poll session and resets loading.
// When Close returns no callback of this scope will run.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.inflight = 0
	session := s.session
	s.session = nil
	s.mu.Unlock()

	s.cancel()
	if session != nil {
		session.Stop()
	}
}

// Closed reports whether Close has been called
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Lifecycle owns the scope of the current view
type Lifecycle struct {
	parent context.Context

	mu      sync.Mutex
	view    string
	current *Scope
}

// NewLifecycle creates a lifecycle manager whose scopes derive from parent
func NewLifecycle(parent context.Context) *Lifecycle {
	return &Lifecycle{parent: parent}
}

// Enter closes the previous view's scope and opens one for view
func (l *Lifecycle) Enter(view string) *Scope {
	l.mu.Lock()
	prev := l.current
	scope := NewScope(l.parent)
	l.current = scope
	l.view = view
	l.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return scope
}

// Current returns the active scope and its view name
func (l *Lifecycle) Current() (*Scope, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.view
}

// Leave closes the active scope without opening another
func (l *Lifecycle) Leave() {
	l.mu.Lock()
	prev := l.current
	l.current = nil
	l.view = ""
	l.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// UserVisible drops cancellation so it is never reported to the user as a failure
func UserVisible(err error) error {
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
