// Package catalog holds the candidate menu items sent for scoring.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"menurec/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is an immutable snapshot of items and restaurants.
// Items keep file order; that order breaks ties between equal scores.
type Catalog struct {
	Items       []models.MenuItem   `yaml:"items"`
	Restaurants []models.Restaurant `yaml:"restaurants"`

	itemIndex       map[string]int
	restaurantIndex map[string]int
}

// Provider returns the current catalog snapshot
type Provider interface {
	Current() *Catalog
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a catalog file. An empty path loads the embedded default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

func (c *Catalog) index() error {
	if len(c.Items) == 0 {
		return fmt.Errorf("catalog has no items")
	}

	c.restaurantIndex = make(map[string]int, len(c.Restaurants))
	for i, r := range c.Restaurants {
		if r.ID == "" {
			return fmt.Errorf("restaurant #%d has no id", i)
		}
		if _, dup := c.restaurantIndex[r.ID]; dup {
			return fmt.Errorf("duplicate restaurant id %q", r.ID)
		}
		c.restaurantIndex[r.ID] = i
	}

	c.itemIndex = make(map[string]int, len(c.Items))
	for i, item := range c.Items {
		if item.ID == "" {
			return fmt.Errorf("item #%d has no id", i)
		}
		if _, dup := c.itemIndex[item.ID]; dup {
			return fmt.Errorf("duplicate item id %q", item.ID)
		}
		if _, ok := c.restaurantIndex[item.RestaurantID]; !ok {
			return fmt.Errorf("item %q references unknown restaurant %q", item.ID, item.RestaurantID)
		}
		c.itemIndex[item.ID] = i
	}
	return nil
}

// Current lets a fixed catalog act as its own Provider
func (c *Catalog) Current() *Catalog {
	return c
}

// Len returns the number of items
func (c *Catalog) Len() int {
	return len(c.Items)
}

// Position returns the catalog order of an item, used for tie-breaking
func (c *Catalog) Position(itemID string) (int, bool) {
	i, ok := c.itemIndex[itemID]
	return i, ok
}

// Item looks up an item by id
func (c *Catalog) Item(itemID string) (models.MenuItem, bool) {
	i, ok := c.itemIndex[itemID]
	if !ok {
		return models.MenuItem{}, false
	}
	return c.Items[i], true
}

// Restaurant looks up a restaurant by id
func (c *Catalog) Restaurant(id string) (*models.Restaurant, bool) {
	i, ok := c.restaurantIndex[id]
	if !ok {
		return nil, false
	}
	r := c.Restaurants[i]
	return &r, true
}

// Candidates joins every item with its restaurant, in catalog order
func (c *Catalog) Candidates() []models.Candidate {
	out := make([]models.Candidate, 0, len(c.Items))
	for _, item := range c.Items {
		cand := models.Candidate{MenuItem: item}
		if r, ok := c.Restaurant(item.RestaurantID); ok {
			cand.RestaurantName = r.Name
			cand.DeliveryTime = r.DeliveryTime
			cand.DeliveryFee = r.DeliveryFee
		}
		out = append(out, cand)
	}
	return out
}

// Store is a Provider whose snapshot can be swapped at runtime
type Store struct {
	mu      sync.RWMutex
	current *Catalog
}

// NewStore wraps an initial snapshot
func NewStore(initial *Catalog) *Store {
	return &Store{current: initial}
}

func (s *Store) Current() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap replaces the snapshot
func (s *Store) Swap(c *Catalog) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}
