package cachestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"menurec/internal/database"
	"menurec/internal/models"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	store := NewSQLStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func newMemStore(t *testing.T) Store {
	return NewMemoryStore(0)
}

// forEachStore runs the contract test against every store that works without external services
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	stores := map[string]func(*testing.T) Store{
		"memory": newMemStore,
		"sqlite": newSQLiteStore,
	}
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func completedEntry(user string, mode models.Mode, createdAt time.Time) *models.CacheEntry {
	return &models.CacheEntry{
		UserID: user,
		Mode:   mode,
		Status: models.StatusCompleted,
		Payload: []models.ScoredItem{
			{ItemID: "1", Score: 92, Reasoning: "cheap and filling"},
			{ItemID: "3", Score: 80, Reasoning: "good protein"},
		},
		PromptHash: "abc123",
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(2 * time.Hour),
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := models.CacheKey{UserID: "u1", Mode: models.ModeBudget}

		if _, err := s.Get(ctx, key, baseTime); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound on empty store, got %v", err)
		}

		if err := s.Upsert(ctx, completedEntry("u1", models.ModeBudget, baseTime)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		got, err := s.Get(ctx, key, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != models.StatusCompleted {
			t.Errorf("Expected completed status, got %s", got.Status)
		}
		if len(got.Payload) != 2 || got.Payload[0].ItemID != "1" || got.Payload[1].Score != 80 {
			t.Errorf("Unexpected payload: %+v", got.Payload)
		}
		if !got.ExpiresAt.Equal(baseTime.Add(2 * time.Hour)) {
			t.Errorf("Expected expiry %v, got %v", baseTime.Add(2*time.Hour), got.ExpiresAt)
		}
		if got.PromptHash != "abc123" {
			t.Errorf("Expected prompt hash to round-trip, got %q", got.PromptHash)
		}
	})
}

func TestStore_GetFiltersExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := models.CacheKey{UserID: "u1", Mode: models.ModeBudget}

		if err := s.Upsert(ctx, completedEntry("u1", models.ModeBudget, baseTime)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		// expires_at == now is already expired
		if _, err := s.Get(ctx, key, baseTime.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound at expiry instant, got %v", err)
		}
		if _, err := s.Get(ctx, key, baseTime.Add(3*time.Hour)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after expiry, got %v", err)
		}
	})
}

func TestStore_UpsertOverwritesSingleRow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := models.CacheKey{UserID: "u1", Mode: models.ModeHealthy}

		pending := &models.CacheEntry{
			UserID:    "u1",
			Mode:      models.ModeHealthy,
			Status:    models.StatusPending,
			CreatedAt: baseTime,
			ExpiresAt: baseTime.Add(time.Minute),
		}
		if err := s.Upsert(ctx, pending); err != nil {
			t.Fatalf("Upsert pending failed: %v", err)
		}

		failed := &models.CacheEntry{
			UserID:       "u1",
			Mode:         models.ModeHealthy,
			Status:       models.StatusError,
			ErrorMessage: "scoring timed out",
			CreatedAt:    baseTime.Add(10 * time.Second),
			ExpiresAt:    baseTime.Add(70 * time.Second),
		}
		if err := s.Upsert(ctx, failed); err != nil {
			t.Fatalf("Upsert error failed: %v", err)
		}

		got, err := s.Get(ctx, key, baseTime.Add(20*time.Second))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != models.StatusError || got.ErrorMessage != "scoring timed out" {
			t.Errorf("Expected error row, got %+v", got)
		}
		if got.HasPayload() {
			t.Error("Error row must not carry a payload")
		}

		if err := s.Upsert(ctx, completedEntry("u1", models.ModeHealthy, baseTime.Add(30*time.Second))); err != nil {
			t.Fatalf("Upsert completed failed: %v", err)
		}
		got, err = s.Get(ctx, key, baseTime.Add(40*time.Second))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.ErrorMessage != "" {
			t.Errorf("Expected error message cleared on success, got %q", got.ErrorMessage)
		}

		infos, err := s.Inspect(ctx, "u1", baseTime)
		if err != nil {
			t.Fatalf("Inspect failed: %v", err)
		}
		if len(infos) != 1 {
			t.Errorf("Expected exactly one row per key, got %d", len(infos))
		}
	})
}

func TestStore_RejectsEmptyCompleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		entry := completedEntry("u1", models.ModeBudget, baseTime)
		entry.Payload = nil

		if err := s.Upsert(context.Background(), entry); !errors.Is(err, ErrEmptyCompleted) {
			t.Errorf("Expected ErrEmptyCompleted, got %v", err)
		}
	})
}

func TestStore_RejectsInvalidKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		entry := completedEntry("", models.ModeBudget, baseTime)

		var vErr *models.ValidationError
		if err := s.Upsert(context.Background(), entry); !errors.As(err, &vErr) {
			t.Errorf("Expected ValidationError on upsert, got %v", err)
		}
		if _, err := s.Get(context.Background(), models.CacheKey{UserID: "u1"}, baseTime); !errors.As(err, &vErr) {
			t.Errorf("Expected ValidationError on get, got %v", err)
		}
	})
}

func TestStore_InspectIncludesExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.Upsert(ctx, completedEntry("u1", models.ModeBudget, baseTime)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if err := s.Upsert(ctx, completedEntry("u1", models.ModeQuick, baseTime.Add(-3*time.Hour))); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if err := s.Upsert(ctx, completedEntry("u2", models.ModeBudget, baseTime)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		infos, err := s.Inspect(ctx, "u1", baseTime)
		if err != nil {
			t.Fatalf("Inspect failed: %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("Expected 2 rows for u1, got %d", len(infos))
		}
		if infos[0].Mode != models.ModeBudget || !infos[0].IsValid || !infos[0].HasRecommendations {
			t.Errorf("Unexpected first row: %+v", infos[0])
		}
		if infos[1].Mode != models.ModeQuick || infos[1].IsValid {
			t.Errorf("Expected expired quick row to be listed as invalid, got %+v", infos[1])
		}

		all, err := s.Inspect(ctx, "", baseTime)
		if err != nil {
			t.Fatalf("Inspect all failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("Expected 3 rows in total, got %d", len(all))
		}
	})
}

func TestStore_Clear(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, m := range models.DefaultModes {
			if err := s.Upsert(ctx, completedEntry("u1", m, baseTime)); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
		}

		n, err := s.Clear(ctx)
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if n != 3 {
			t.Errorf("Expected 3 rows deleted, got %d", n)
		}

		infos, _ := s.Inspect(ctx, "", baseTime)
		if len(infos) != 0 {
			t.Errorf("Expected empty store after clear, got %d rows", len(infos))
		}
	})
}

func TestStore_Stats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_ = s.Upsert(ctx, completedEntry("u1", models.ModeBudget, baseTime))
		_ = s.Upsert(ctx, completedEntry("u2", models.ModeBudget, baseTime.Add(-5*time.Hour)))
		_ = s.Upsert(ctx, &models.CacheEntry{
			UserID: "u3", Mode: models.ModeQuick, Status: models.StatusPending,
			CreatedAt: baseTime, ExpiresAt: baseTime.Add(time.Minute),
		})

		stats, err := s.Stats(ctx, baseTime)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.ByStatus[models.StatusCompleted] != 1 {
			t.Errorf("Expected 1 completed row, got %d", stats.ByStatus[models.StatusCompleted])
		}
		if stats.ByStatus[models.StatusPending] != 1 {
			t.Errorf("Expected 1 pending row, got %d", stats.ByStatus[models.StatusPending])
		}
		if stats.ByStatus[models.StatusError] != 0 {
			t.Errorf("Expected 0 error rows, got %d", stats.ByStatus[models.StatusError])
		}
		if stats.Expired != 1 {
			t.Errorf("Expected 1 expired row, got %d", stats.Expired)
		}
	})
}

func TestSQLStore_RepairLabels(t *testing.T) {
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "repair.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	store := NewSQLStore(db)
	defer store.Close()

	// Rows written by an older writer: labelled pending but already carrying a payload
	_, err = db.Exec(`INSERT INTO recommendation_cache (user_id, mode, status, recommendations, created_at, expires_at)
		VALUES ('u1', 'budget', 'pending', '[{"menuId":"2","score":70,"reasoning":"ok"}]', ?, ?),
		       ('u2', 'budget', 'pending', '[]', ?, ?),
		       ('u3', 'budget', 'pending', NULL, ?, ?)`,
		baseTime, baseTime.Add(time.Hour),
		baseTime, baseTime.Add(time.Hour),
		baseTime, baseTime.Add(time.Hour),
	)
	if err != nil {
		t.Fatalf("Failed to seed rows: %v", err)
	}

	n, err := store.RepairLabels(context.Background())
	if err != nil {
		t.Fatalf("RepairLabels failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 repaired row, got %d", n)
	}

	got, err := store.Get(context.Background(), models.CacheKey{UserID: "u1", Mode: models.ModeBudget}, baseTime)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected repaired row to be completed, got %s", got.Status)
	}
}

func TestMemoryStore_RepairLabels(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	// prepare refuses an empty completed row but a pending row with payload can be written
	entry := completedEntry("u1", models.ModeBudget, time.Now())
	entry.Status = models.StatusPending
	if err := store.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	n, err := store.RepairLabels(ctx)
	if err != nil {
		t.Fatalf("RepairLabels failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 repaired row, got %d", n)
	}

	got, err := store.Get(ctx, entry.Key(), time.Now())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected completed after repair, got %s", got.Status)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	entry := completedEntry("u1", models.ModeBudget, baseTime)
	if err := store.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	entry.Payload[0].Score = 1

	got, _ := store.Get(ctx, entry.Key(), baseTime)
	got.Payload[0].Score = 2

	again, _ := store.Get(ctx, entry.Key(), baseTime)
	if again.Payload[0].Score != 92 {
		t.Errorf("Stored payload was mutated through a caller reference: %d", again.Payload[0].Score)
	}
}
