package services

import (
	"context"
	"errors"
	"log"
	"time"

	"menurec/internal/cachestore"
	"menurec/internal/models"
)

// StatusService answers whether a key's ranking is ready without triggering anything
type StatusService struct {
	store   cachestore.Store
	tracker *InflightTracker
	lock    Locker
	now     func() time.Time
}

func NewStatusService(store cachestore.Store, tracker *InflightTracker) *StatusService {
	return &StatusService{store: store, tracker: tracker, now: time.Now}
}

// SetClock replaces the time source
func (s *StatusService) SetClock(now func() time.Time) {
	s.now = now
}

// SetLocker makes markers held by other instances visible
func (s *StatusService) SetLocker(lock Locker) {
	s.lock = lock
}

// lockHeld reports a cross-instance marker. A lock backend error counts as not held.
func (s *StatusService) lockHeld(ctx context.Context, key models.CacheKey) bool {
	if s.lock == nil {
		return false
	}
	held, err := s.lock.Held(ctx, key)
	if err != nil {
		log.Printf("⚠️  [STATUS] Lock check for %s failed: %v", key, err)
		return false
	}
	return held
}

// Status reports completed when an unexpired row carries a payload, whatever its label.
// Precedence: completed, generating (local marker, lock or pending row), error, none.
func (s *StatusService) Status(ctx context.Context, userID string, mode models.Mode) (*models.StatusReport, error) {
	key := models.CacheKey{UserID: userID, Mode: mode}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	entry, err := s.store.Get(ctx, key, s.now())
	if err != nil && !errors.Is(err, cachestore.ErrNotFound) {
		var storeErr *models.StoreError
		if !errors.As(err, &storeErr) {
			err = &models.StoreError{Op: "get", Err: err}
		}
		return nil, err
	}
	if err != nil {
		entry = nil
	}

	switch {
	case entry.Completed():
		created, expires := entry.CreatedAt, entry.ExpiresAt
		return &models.StatusReport{
			Status:    models.CacheStatusCompleted,
			HasResult: true,
			CreatedAt: &created,
			ExpiresAt: &expires,
		}, nil

	case s.tracker != nil && s.tracker.Held(key):
		return &models.StatusReport{Status: models.CacheStatusGenerating}, nil

	case s.lockHeld(ctx, key):
		return &models.StatusReport{Status: models.CacheStatusGenerating}, nil

	case entry != nil && entry.Status == models.StatusPending:
		created, expires := entry.CreatedAt, entry.ExpiresAt
		return &models.StatusReport{
			Status:    models.CacheStatusGenerating,
			CreatedAt: &created,
			ExpiresAt: &expires,
		}, nil

	case entry != nil && entry.Status == models.StatusError:
		created, expires := entry.CreatedAt, entry.ExpiresAt
		msg := entry.ErrorMessage
		if msg == "" {
			msg = "recommendation generation failed"
		}
		return &models.StatusReport{
			Status:       models.CacheStatusError,
			CreatedAt:    &created,
			ExpiresAt:    &expires,
			ErrorMessage: msg,
		}, nil
	}

	return &models.StatusReport{Status: models.CacheStatusNone}, nil
}
