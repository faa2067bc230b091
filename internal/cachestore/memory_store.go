package cachestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"menurec/internal/models"
)

// MemoryStore keeps rows in process. Used when DATABASE_URL is empty and in tests.
// Rows outlive their TTL by the retention window so they remain inspectable.
type MemoryStore struct {
	mu        sync.Mutex
	cache     *cache.Cache
	retention time.Duration
}

// NewMemoryStore creates an in-process store. A zero retention defaults to 24h.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryStore{
		cache:     cache.New(retention, 10*time.Minute),
		retention: retention,
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	e, err := prepare(entry)
	if err != nil {
		return err
	}
	e.Payload = append([]models.ScoredItem(nil), e.Payload...)

	keep := time.Until(e.ExpiresAt) + s.retention
	if keep < s.retention {
		keep = s.retention
	}

	s.mu.Lock()
	s.cache.Set(e.Key().String(), e, keep)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key models.CacheKey, now time.Time) (*models.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(*models.CacheEntry)
	if e.IsExpired(now) {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *MemoryStore) Inspect(ctx context.Context, userID string, now time.Time) ([]models.EntryInfo, error) {
	s.mu.Lock()
	items := s.cache.Items()
	s.mu.Unlock()

	infos := []models.EntryInfo{}
	for _, item := range items {
		e := item.Object.(*models.CacheEntry)
		if userID != "" && e.UserID != userID {
			continue
		}
		infos = append(infos, entryInfo(*copyEntry(e), now))
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UserID != infos[j].UserID {
			return infos[i].UserID < infos[j].UserID
		}
		return infos[i].Mode < infos[j].Mode
	})
	return infos, nil
}

func (s *MemoryStore) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(s.cache.ItemCount())
	s.cache.Flush()
	return n, nil
}

func (s *MemoryStore) RepairLabels(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repaired int64
	for k, item := range s.cache.Items() {
		e := item.Object.(*models.CacheEntry)
		if e.Status != models.StatusPending || !e.HasPayload() {
			continue
		}
		fixed := copyEntry(e)
		fixed.Status = models.StatusCompleted
		fixed.ErrorMessage = ""
		s.cache.Set(k, fixed, time.Until(time.Unix(0, item.Expiration)))
		repaired++
	}
	return repaired, nil
}

func (s *MemoryStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	s.mu.Lock()
	items := s.cache.Items()
	s.mu.Unlock()

	stats := newStats()
	for _, item := range items {
		e := item.Object.(*models.CacheEntry)
		if e.IsExpired(now) {
			stats.Expired++
			continue
		}
		stats.ByStatus[e.Status]++
	}
	return stats, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyEntry(e *models.CacheEntry) *models.CacheEntry {
	c := *e
	c.Payload = append([]models.ScoredItem(nil), e.Payload...)
	if len(c.Payload) == 0 {
		c.Payload = nil
	}
	return &c
}
