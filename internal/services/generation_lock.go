package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"menurec/internal/models"
)

// Locker is the cross-instance half of the in-flight marker
type Locker interface {
	// Acquire tries to take the marker for key. release is non-nil only when ok is true.
	Acquire(ctx context.Context, key models.CacheKey, ttl time.Duration) (release func(), ok bool, err error)
	// Held reports whether any instance holds the marker for key
	Held(ctx context.Context, key models.CacheKey) (bool, error)
}

// GenerationLock is a Redis SETNX lock per cache key. The TTL bounds how long a
// crashed instance can block a key.
type GenerationLock struct {
	redis  *RedisService
	prefix string
}

func NewGenerationLock(redis *RedisService) *GenerationLock {
	return &GenerationLock{redis: redis, prefix: "menurec:lock:"}
}

func (l *GenerationLock) lockKey(key models.CacheKey) string {
	return l.prefix + key.UserID + ":" + string(key.Mode)
}

func (l *GenerationLock) Acquire(ctx context.Context, key models.CacheKey, ttl time.Duration) (func(), bool, error) {
	lockKey := l.lockKey(key)
	token := uuid.New().String()

	ok, err := l.redis.AcquireLock(ctx, lockKey, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := l.redis.ReleaseLock(ctx, lockKey, token); err != nil {
			log.Printf("⚠️  [LOCK] Failed to release %s: %v", lockKey, err)
		}
	}
	return release, true, nil
}

func (l *GenerationLock) Held(ctx context.Context, key models.CacheKey) (bool, error) {
	return l.redis.Exists(ctx, l.lockKey(key))
}
