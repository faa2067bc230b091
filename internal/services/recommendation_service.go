package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"menurec/internal/cachestore"
	"menurec/internal/catalog"
	"menurec/internal/logging"
	"menurec/internal/models"
)

// RecommendationConfig is the cache policy of the orchestrator
type RecommendationConfig struct {
	SuccessTTL     time.Duration
	ErrorTTL       time.Duration
	PendingTTL     time.Duration
	ScoringTimeout time.Duration
	TopN           int
	Concurrency    int
	Modes          []models.Mode
}

func (c *RecommendationConfig) applyDefaults() {
	if c.SuccessTTL <= 0 {
		c.SuccessTTL = 2 * time.Hour
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = time.Minute
	}
	if c.ScoringTimeout <= 0 {
		c.ScoringTimeout = 45 * time.Second
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = c.ScoringTimeout + 15*time.Second
	}
	if c.TopN <= 0 {
		c.TopN = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if len(c.Modes) == 0 {
		c.Modes = models.DefaultModes
	}
}

// Recommendation is what Ensure hands to callers
type Recommendation struct {
	Items     []models.RankedItem `json:"items"`
	FromCache bool                `json:"fromCache"`
	CreatedAt time.Time           `json:"createdAt"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// RecommendationService decides hit or miss per (user, mode), runs at most one
// scoring computation per key and persists its outcome.
type RecommendationService struct {
	store    cachestore.Store
	catalog  catalog.Provider
	scorer   Scorer
	contexts ContextSource
	lock     Locker
	tracker  *InflightTracker
	metrics  *Metrics
	cfg      RecommendationConfig

	group singleflight.Group
	pool  *semaphore.Weighted
	now   func() time.Time
}

// NewRecommendationService wires the orchestrator. lock and metrics may be nil.
func NewRecommendationService(
	store cachestore.Store,
	catalogProvider catalog.Provider,
	scorer Scorer,
	contexts ContextSource,
	tracker *InflightTracker,
	cfg RecommendationConfig,
) *RecommendationService {
	cfg.applyDefaults()
	if tracker == nil {
		tracker = NewInflightTracker()
	}
	return &RecommendationService{
		store:    store,
		catalog:  catalogProvider,
		scorer:   scorer,
		contexts: contexts,
		tracker:  tracker,
		cfg:      cfg,
		pool:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:      time.Now,
	}
}

// SetLocker enables the cross-instance generation lock
func (s *RecommendationService) SetLocker(lock Locker) {
	s.lock = lock
}

// SetMetrics enables Prometheus instrumentation
func (s *RecommendationService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *RecommendationService) SetClock(now func() time.Time) {
	s.now = now
}

// Modes returns the configured mode set
func (s *RecommendationService) Modes() []models.Mode {
	return s.cfg.Modes
}

// Tracker exposes the in-flight markers for the status service
func (s *RecommendationService) Tracker() *InflightTracker {
	return s.tracker
}

func (s *RecommendationService) key(userID string, mode models.Mode) (models.CacheKey, error) {
	key := models.CacheKey{UserID: userID, Mode: mode}
	if err := key.Validate(); err != nil {
		return key, err
	}
	for _, m := range s.cfg.Modes {
		if m == mode {
			return key, nil
		}
	}
	return key, models.NewValidationError("mode", fmt.Sprintf("unknown mode %q", mode))
}

// lookup returns the unexpired row for key, or nil when there is none
func (s *RecommendationService) lookup(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	entry, err := s.store.Get(ctx, key, s.now())
	if errors.Is(err, cachestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		var storeErr *models.StoreError
		if !errors.As(err, &storeErr) {
			err = &models.StoreError{Op: "get", Err: err}
		}
		return nil, err
	}
	return entry, nil
}

// Ensure returns the cached ranking for (userID, mode), computing it when absent,
// expired or failed. Concurrent callers share one computation. Cancelling ctx stops
// the wait only; the computation runs on and persists its result.
func (s *RecommendationService) Ensure(ctx context.Context, userID string, mode models.Mode) (*Recommendation, error) {
	key, err := s.key(userID, mode)
	if err != nil {
		return nil, err
	}

	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.Completed() {
		s.metrics.hit(mode)
		log.Printf("✅ [RECOMMEND] Cache hit for %s (expires %s)", key, entry.ExpiresAt.Format(time.RFC3339))
		return s.present(entry, true), nil
	}

	s.metrics.miss(mode)

	select {
	case res := <-s.launch(key, false):
		if res.err != nil {
			return nil, res.err
		}
		return s.present(res.entry, false), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Trigger starts generation without waiting for it. The in-flight marker is in
// place when Trigger returns.
func (s *RecommendationService) Trigger(ctx context.Context, userID string, mode models.Mode) (models.TriggerStatus, error) {
	key, err := s.key(userID, mode)
	if err != nil {
		return models.TriggerError, err
	}

	entry, err := s.lookup(ctx, key)
	if err != nil {
		return models.TriggerError, err
	}

	switch {
	case entry.Completed():
		return models.TriggerReady, nil
	case s.tracker.Held(key):
		return models.TriggerGenerating, nil
	case entry != nil && entry.Status == models.StatusPending:
		// Another instance marked the key
		return models.TriggerGenerating, nil
	}

	// Absent or an unexpired error row: an error is retried immediately
	s.launch(key, false)
	log.Printf("🚀 [RECOMMEND] Background generation started for %s", key)
	return models.TriggerGenerating, nil
}

// Regenerate recomputes key even when a completed row exists. A valid completed row
// keeps being served until the new ranking replaces it, and survives a failed refresh.
func (s *RecommendationService) Regenerate(ctx context.Context, userID string, mode models.Mode) (models.TriggerStatus, error) {
	key, err := s.key(userID, mode)
	if err != nil {
		return models.TriggerError, err
	}

	s.launch(key, true)
	log.Printf("🔄 [RECOMMEND] Regeneration started for %s", key)
	return models.TriggerGenerating, nil
}

// Preload triggers every configured mode for a user
func (s *RecommendationService) Preload(ctx context.Context, userID string) (map[models.Mode]models.TriggerStatus, error) {
	if err := (models.CacheKey{UserID: userID, Mode: models.ModeBudget}).Validate(); err != nil {
		return nil, err
	}

	result := make(map[models.Mode]models.TriggerStatus, len(s.cfg.Modes))
	for _, mode := range s.cfg.Modes {
		status, err := s.Trigger(ctx, userID, mode)
		if err != nil {
			log.Printf("⚠️  [RECOMMEND] Preload of %s:%s failed: %v", userID, mode, err)
		}
		result[mode] = status
	}
	return result, nil
}

type flightResult struct {
	entry *models.CacheEntry
	err   error
}

// launch joins or starts the flight for key. The local marker is held from this
// call until the flight's outcome has been persisted.
func (s *RecommendationService) launch(key models.CacheKey, force bool) <-chan flightResult {
	s.tracker.Acquire(key)

	out := make(chan flightResult, 1)
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		return s.generate(key, force)
	})

	go func() {
		res := <-ch
		s.tracker.Release(key)

		var fr flightResult
		fr.err = res.Err
		if res.Err == nil {
			fr.entry = res.Val.(*models.CacheEntry)
		}
		out <- fr
	}()

	return out
}

// generate runs one computation for key on a context detached from every caller
func (s *RecommendationService) generate(key models.CacheKey, force bool) (*models.CacheEntry, error) {
	logger := logging.WithKey(key)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PendingTTL)
	defer cancel()

	existing, err := s.lookup(ctx, key)
	if err != nil {
		logger.Error("cache lookup failed before generation", "error", err)
		return nil, err
	}

	// Another flight or instance may have finished while this one was queued
	if !force && existing.Completed() {
		return existing, nil
	}

	locked := false
	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx, key, s.cfg.PendingTTL)
		switch {
		case err != nil:
			logger.Warn("generation lock unavailable, falling back to the pending row", "error", err)
		case !ok:
			s.metrics.generation(key.Mode, "in_progress", 0)
			return nil, models.ErrGenerationInProgress
		default:
			locked = true
			defer release()
		}
	}

	// Without the lock an unexpired pending row is the only cross-instance marker.
	// This instance never leaves one behind while its own flight is running.
	if !locked && existing != nil && existing.Status == models.StatusPending && !existing.HasPayload() {
		s.metrics.generation(key.Mode, "in_progress", 0)
		return nil, models.ErrGenerationInProgress
	}

	keepExisting := existing.Completed()
	if !keepExisting {
		now := s.now()
		pending := &models.CacheEntry{
			UserID:    key.UserID,
			Mode:      key.Mode,
			Status:    models.StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.PendingTTL),
		}
		if err := s.store.Upsert(ctx, pending); err != nil {
			logger.Error("failed to write pending marker", "error", err)
			return nil, err
		}
	}

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return nil, s.fail(ctx, key, keepExisting, fmt.Errorf("generation queue: %w", err))
	}
	defer s.pool.Release(1)

	start := time.Now()
	entry, err := s.compute(ctx, key)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.generation(key.Mode, "error", elapsed)
		return nil, s.fail(ctx, key, keepExisting, err)
	}

	if err := s.store.Upsert(ctx, entry); err != nil {
		s.metrics.generation(key.Mode, "store_error", elapsed)
		logger.Error("failed to persist recommendations", "error", err)
		// The pending marker must not outlive the computation
		s.recordError(ctx, key, keepExisting, fmt.Errorf("failed to persist recommendations: %w", err))
		return nil, err
	}

	s.metrics.generation(key.Mode, "completed", elapsed)
	log.Printf("✅ [RECOMMEND] Generated %d recommendations for %s in %dms", len(entry.Payload), key, elapsed.Milliseconds())
	return entry, nil
}

// compute assembles the context, calls the scorer and validates its batch
func (s *RecommendationService) compute(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	cat := s.catalog.Current()
	now := s.now()

	userCtx, err := s.contexts.Snapshot(ctx, key.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble user context: %w", err)
	}

	req := &models.ScoreRequest{
		UserID:     key.UserID,
		Mode:       key.Mode,
		Context:    userCtx,
		Candidates: cat.Candidates(),
	}

	scoreCtx, cancel := context.WithTimeout(ctx, s.cfg.ScoringTimeout)
	defer cancel()

	batch, err := s.scorer.ScoreBatch(scoreCtx, req)
	if err != nil {
		return nil, err
	}

	ranked, err := rankBatch(batch, cat)
	if err != nil {
		return nil, err
	}

	now = s.now()
	return &models.CacheEntry{
		UserID:     key.UserID,
		Mode:       key.Mode,
		Status:     models.StatusCompleted,
		Payload:    ranked,
		PromptHash: PromptFingerprint(BuildRecommendationPrompt(req)),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.SuccessTTL),
	}, nil
}

// fail records an upstream failure and returns it as an UpstreamError
func (s *RecommendationService) fail(ctx context.Context, key models.CacheKey, keepExisting bool, cause error) error {
	upstream := &models.UpstreamError{Key: key, Err: cause}
	log.Printf("❌ [RECOMMEND] Generation failed for %s: %v", key, cause)

	s.recordError(ctx, key, keepExisting, cause)
	return upstream
}

// recordError replaces the pending marker with an error row carrying the short TTL.
// A valid completed row is left untouched.
func (s *RecommendationService) recordError(ctx context.Context, key models.CacheKey, keepExisting bool, cause error) {
	if keepExisting {
		return
	}

	// The generation context may be the thing that expired
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := s.now()
	errEntry := &models.CacheEntry{
		UserID:       key.UserID,
		Mode:         key.Mode,
		Status:       models.StatusError,
		ErrorMessage: cause.Error(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.ErrorTTL),
	}
	if err := s.store.Upsert(writeCtx, errEntry); err != nil {
		log.Printf("⚠️  [RECOMMEND] Failed to persist error row for %s: %v", key, err)
	}
}

// rankBatch validates a scoring batch against the catalog and orders it by score,
// ties by catalog order. Any invalid entry rejects the whole batch.
func rankBatch(batch []models.ScoredItem, cat *catalog.Catalog) ([]models.ScoredItem, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	seen := make(map[string]bool, len(batch))
	for _, item := range batch {
		if _, ok := cat.Position(item.ItemID); !ok {
			return nil, fmt.Errorf("malformed ranking: unknown item %q", item.ItemID)
		}
		if item.Score < 0 || item.Score > 100 {
			return nil, fmt.Errorf("malformed ranking: score %d for item %q out of range", item.Score, item.ItemID)
		}
		if seen[item.ItemID] {
			return nil, fmt.Errorf("malformed ranking: duplicate item %q", item.ItemID)
		}
		seen[item.ItemID] = true
	}

	ranked := append([]models.ScoredItem(nil), batch...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		pi, _ := cat.Position(ranked[i].ItemID)
		pj, _ := cat.Position(ranked[j].ItemID)
		return pi < pj
	})
	return ranked, nil
}

// present cuts the stored ranking to the top N and joins catalog data.
// Items that left the catalog since the row was written are skipped.
func (s *RecommendationService) present(entry *models.CacheEntry, fromCache bool) *Recommendation {
	cat := s.catalog.Current()

	items := make([]models.RankedItem, 0, s.cfg.TopN)
	for _, scored := range entry.Payload {
		if len(items) == s.cfg.TopN {
			break
		}
		menu, ok := cat.Item(scored.ItemID)
		if !ok {
			continue
		}
		ranked := models.RankedItem{
			MenuItem:  menu,
			Score:     scored.Score,
			Reasoning: scored.Reasoning,
		}
		if r, ok := cat.Restaurant(menu.RestaurantID); ok {
			ranked.Restaurant = r
		}
		items = append(items, ranked)
	}

	return &Recommendation{
		Items:     items,
		FromCache: fromCache,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
}
