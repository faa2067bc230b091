// Package cachestore persists the single recommendation cache row kept per (user, mode).
//
// Every implementation upholds the same contract: one row per key, atomic
// insert-or-overwrite, serving reads filtered on expires_at > now, and no
// completed row without a payload.
package cachestore

import (
	"context"
	"errors"
	"time"

	"menurec/internal/models"
)

// ErrNotFound is returned by Get when no unexpired row exists for the key
var ErrNotFound = errors.New("cache entry not found")

// ErrEmptyCompleted guards the no-empty-success invariant at the storage boundary
var ErrEmptyCompleted = errors.New("refusing to store a completed entry without recommendations")

// Stats summarises the table for the statistics job
type Stats struct {
	ByStatus map[models.Status]int64 // unexpired rows only
	Expired  int64
}

// Store is the cache persistence boundary
type Store interface {
	// Get returns the row for key if it is unexpired at now
	Get(ctx context.Context, key models.CacheKey, now time.Time) (*models.CacheEntry, error)

	// Upsert inserts or overwrites the single row for the entry's key
	Upsert(ctx context.Context, entry *models.CacheEntry) error

	// Inspect lists rows including expired ones. An empty userID lists every row.
	Inspect(ctx context.Context, userID string, now time.Time) ([]models.EntryInfo, error)

	// Clear removes every row and returns how many were deleted
	Clear(ctx context.Context) (int64, error)

	// RepairLabels relabels pending rows that already carry a payload as completed
	RepairLabels(ctx context.Context) (int64, error)

	// Stats counts rows by status at now
	Stats(ctx context.Context, now time.Time) (*Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// prepare normalises an entry before it is written and enforces the write invariants
func prepare(entry *models.CacheEntry) (*models.CacheEntry, error) {
	if err := entry.Key().Validate(); err != nil {
		return nil, err
	}

	e := *entry
	e.CreatedAt = normalizeTime(e.CreatedAt)
	e.ExpiresAt = normalizeTime(e.ExpiresAt)

	switch e.Status {
	case models.StatusCompleted:
		if len(e.Payload) == 0 {
			return nil, ErrEmptyCompleted
		}
		e.ErrorMessage = ""
	case models.StatusPending:
		e.ErrorMessage = ""
	case models.StatusError:
		e.PromptHash = ""
	default:
		return nil, models.NewValidationError("status", "unknown status "+string(e.Status))
	}

	return &e, nil
}

// normalizeTime keeps stored timestamps comparable across dialects
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func newStats() *Stats {
	return &Stats{ByStatus: map[models.Status]int64{
		models.StatusPending:   0,
		models.StatusCompleted: 0,
		models.StatusError:     0,
	}}
}

func entryInfo(e models.CacheEntry, now time.Time) models.EntryInfo {
	return models.EntryInfo{
		CacheEntry:         e,
		HasRecommendations: e.HasPayload(),
		IsValid:            !e.IsExpired(now),
	}
}
