package jobs

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"menurec/internal/cachestore"
	"menurec/internal/services"
)

// LabelRepairJob relabels pending rows that already carry a ranking as completed.
// Readers treat payload presence as completion anyway; this keeps the stored labels honest.
type LabelRepairJob struct {
	store cachestore.Store
}

// NewLabelRepairJob creates a new label repair job
func NewLabelRepairJob(store cachestore.Store) *LabelRepairJob {
	return &LabelRepairJob{store: store}
}

// Run executes one repair pass
func (j *LabelRepairJob) Run(ctx context.Context) error {
	repaired, err := j.store.RepairLabels(ctx)
	if err != nil {
		return err
	}
	if repaired > 0 {
		log.Printf("🔧 [LABEL-REPAIR] Relabelled %d pending rows as completed", repaired)
	}
	return nil
}

// CacheStatsKey is the Redis key the latest statistics snapshot is published under
const CacheStatsKey = "menurec:cache_stats"

// CacheStatsSnapshot is the published form of cachestore.Stats
type CacheStatsSnapshot struct {
	ByStatus   map[string]int64 `json:"by_status"`
	Expired    int64            `json:"expired"`
	InFlight   int              `json:"in_flight"`
	InstanceID string           `json:"instance_id"`
	TakenAt    time.Time        `json:"taken_at"`
}

// CacheStatsJob samples row counts into the metrics gauges and, with Redis
// configured, publishes them for other instances and the operator CLI.
type CacheStatsJob struct {
	store      cachestore.Store
	metrics    *services.Metrics
	tracker    *services.InflightTracker
	redis      *services.RedisService
	instanceID string
	now        func() time.Time
}

// NewCacheStatsJob creates a new cache statistics job. metrics and redis may be nil.
func NewCacheStatsJob(store cachestore.Store, metrics *services.Metrics, tracker *services.InflightTracker, redis *services.RedisService, instanceID string) *CacheStatsJob {
	return &CacheStatsJob{
		store:      store,
		metrics:    metrics,
		tracker:    tracker,
		redis:      redis,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// Run takes one sample
func (j *CacheStatsJob) Run(ctx context.Context) error {
	now := j.now()
	stats, err := j.store.Stats(ctx, now)
	if err != nil {
		return err
	}

	j.metrics.ObserveStats(stats)

	if j.redis == nil {
		return nil
	}

	snapshot := CacheStatsSnapshot{
		ByStatus:   make(map[string]int64, len(stats.ByStatus)),
		Expired:    stats.Expired,
		InstanceID: j.instanceID,
		TakenAt:    now.UTC(),
	}
	for status, n := range stats.ByStatus {
		snapshot.ByStatus[string(status)] = n
	}
	if j.tracker != nil {
		snapshot.InFlight = j.tracker.Count()
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := j.redis.SetJSON(ctx, CacheStatsKey, data, 10*time.Minute); err != nil {
		log.Printf("⚠️  [CACHE-STATS] Failed to publish snapshot: %v", err)
	}
	return nil
}
