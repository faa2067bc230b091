package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const smallCatalog = `
restaurants:
  - id: r1
    name: Corner Deli
    delivery_time: 10
    delivery_fee: 1000
items:
  - id: a
    name: Club Sandwich
    price: 5000
    restaurant_id: r1
  - id: b
    name: Soup of the Day
    price: 4000
    restaurant_id: r1
`

func TestDefault(t *testing.T) {
	c := Default()

	if c.Len() != 8 {
		t.Errorf("Expected 8 default items, got %d", c.Len())
	}
	if len(c.Restaurants) != 7 {
		t.Errorf("Expected 7 default restaurants, got %d", len(c.Restaurants))
	}

	item, ok := c.Item("6")
	if !ok {
		t.Fatal("Expected item 6 in default catalog")
	}
	if item.RestaurantID != "r2" {
		t.Errorf("Expected item 6 to belong to r2, got %s", item.RestaurantID)
	}
}

func TestParse_Order(t *testing.T) {
	c, err := Parse([]byte(smallCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if pos, ok := c.Position("a"); !ok || pos != 0 {
		t.Errorf("Expected a at position 0, got %d (%v)", pos, ok)
	}
	if pos, ok := c.Position("b"); !ok || pos != 1 {
		t.Errorf("Expected b at position 1, got %d (%v)", pos, ok)
	}
	if _, ok := c.Position("zzz"); ok {
		t.Error("Expected unknown item to have no position")
	}

	cands := c.Candidates()
	if len(cands) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(cands))
	}
	if cands[0].RestaurantName != "Corner Deli" || cands[0].DeliveryTime != 10 || cands[0].DeliveryFee != 1000 {
		t.Errorf("Candidate not joined with restaurant: %+v", cands[0])
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "items: []", "no items"},
		{"duplicate item", `
restaurants: [{id: r1, name: x}]
items:
  - {id: a, name: x, restaurant_id: r1}
  - {id: a, name: y, restaurant_id: r1}
`, "duplicate item"},
		{"unknown restaurant", `
restaurants: [{id: r1, name: x}]
items:
  - {id: a, name: x, restaurant_id: r9}
`, "unknown restaurant"},
		{"missing id", `
restaurants: [{id: r1, name: x}]
items:
  - {name: x, restaurant_id: r1}
`, "has no id"},
		{"bad yaml", "items: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(smallCatalog), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 items, got %d", c.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	def, err := Load("")
	if err != nil {
		t.Fatalf("Load of default failed: %v", err)
	}
	if def.Len() != 8 {
		t.Errorf("Expected default catalog for empty path, got %d items", def.Len())
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(smallCatalog), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store := NewStore(initial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := Watch(ctx, path, store, 20*time.Millisecond); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// An invalid write keeps the previous snapshot
	if err := os.WriteFile(path, []byte("items: ["), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if store.Current().Len() != 2 {
		t.Fatalf("Expected previous catalog to survive a bad reload, got %d items", store.Current().Len())
	}

	extended := smallCatalog + `  - id: c
    name: Bagel
    price: 2500
    restaurant_id: r1
`
	if err := os.WriteFile(path, []byte(extended), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Current().Len() == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Catalog was not reloaded, still %d items", store.Current().Len())
}
