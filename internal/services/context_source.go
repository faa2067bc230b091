package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"menurec/internal/database"
	"menurec/internal/models"
)

// ContextSource assembles the user snapshot the scoring call is made with
type ContextSource interface {
	Snapshot(ctx context.Context, userID string, now time.Time) (*models.UserContext, error)
}

const (
	recentMealsWindow = 7 * 24 * time.Hour
	likedMealsLimit   = 20
)

// SQLContextSource reads preferences, meal history and liked meals from the relational database
type SQLContextSource struct {
	db *database.DB
}

func NewSQLContextSource(db *database.DB) *SQLContextSource {
	return &SQLContextSource{db: db}
}

// Snapshot returns the user's context at now. Users without saved preferences get the defaults.
func (s *SQLContextSource) Snapshot(ctx context.Context, userID string, now time.Time) (*models.UserContext, error) {
	now = now.UTC()

	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, err := s.recentMeals(ctx, userID, now.Add(-recentMealsWindow))
	if err != nil {
		return nil, err
	}

	liked, err := s.likedMeals(ctx, userID)
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var spent int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM meal_records WHERE user_id = ? AND meal_date >= ? AND meal_date <= ?`,
		userID, monthStart, now,
	).Scan(&spent)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly spending: %w", err)
	}

	return &models.UserContext{
		Preferences:     prefs,
		MonthSpent:      spent,
		RemainingBudget: prefs.MonthlyBudget - spent,
		RecentMeals:     recent,
		Liked:           liked,
	}, nil
}

func (s *SQLContextSource) preferences(ctx context.Context, userID string) (models.PreferenceSnapshot, error) {
	prefs := models.DefaultPreferences()

	var (
		mode                string
		favorites, dislikes sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT preferred_mode, favorite_categories, disliked_ingredients,
		       priority_price, priority_nutrition, priority_delivery, monthly_budget
		FROM menu_preferences WHERE user_id = ?`, userID,
	).Scan(&mode, &favorites, &dislikes,
		&prefs.PriorityPrice, &prefs.PriorityNutrition, &prefs.PriorityDelivery, &prefs.MonthlyBudget)

	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPreferences(), nil
	}
	if err != nil {
		return prefs, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs.PreferredMode = models.Mode(mode)
	prefs.FavoriteCategories = decodeStringList(favorites)
	prefs.DislikedIngredients = decodeStringList(dislikes)
	return prefs, nil
}

func (s *SQLContextSource) recentMeals(ctx context.Context, userID string, since time.Time) ([]models.ConsumptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT menu_name, calories, cost, meal_date
		FROM meal_records
		WHERE user_id = ? AND meal_date >= ?
		ORDER BY meal_date DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent meals: %w", err)
	}
	defer rows.Close()

	meals := []models.ConsumptionRecord{}
	for rows.Next() {
		var m models.ConsumptionRecord
		if err := rows.Scan(&m.MenuName, &m.Calories, &m.Cost, &m.MealDate); err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, m)
	}
	return meals, rows.Err()
}

func (s *SQLContextSource) likedMeals(ctx context.Context, userID string) ([]models.LikedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT menu_name, calories, price
		FROM liked_meals
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, likedMealsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load liked meals: %w", err)
	}
	defer rows.Close()

	liked := []models.LikedItem{}
	for rows.Next() {
		var l models.LikedItem
		if err := rows.Scan(&l.MenuName, &l.Calories, &l.Price); err != nil {
			return nil, fmt.Errorf("failed to scan liked meal: %w", err)
		}
		liked = append(liked, l)
	}
	return liked, rows.Err()
}

// decodeStringList accepts the JSON array columns written by the preferences editor
func decodeStringList(raw sql.NullString) []string {
	out := []string{}
	if !raw.Valid || raw.String == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw.String), &out)
	if out == nil {
		out = []string{}
	}
	return out
}

// StaticContextSource serves fixed snapshots. Deployments without a relational
// database use it with no entries, which yields default preferences for everyone.
type StaticContextSource struct {
	mu       sync.RWMutex
	contexts map[string]*models.UserContext
}

func NewStaticContextSource() *StaticContextSource {
	return &StaticContextSource{contexts: make(map[string]*models.UserContext)}
}

// Set stores the snapshot returned for userID
func (s *StaticContextSource) Set(userID string, uc *models.UserContext) {
	s.mu.Lock()
	s.contexts[userID] = uc
	s.mu.Unlock()
}

func (s *StaticContextSource) Snapshot(ctx context.Context, userID string, now time.Time) (*models.UserContext, error) {
	s.mu.RLock()
	uc, ok := s.contexts[userID]
	s.mu.RUnlock()
	if ok {
		copied := *uc
		return &copied, nil
	}

	prefs := models.DefaultPreferences()
	return &models.UserContext{
		Preferences:     prefs,
		RemainingBudget: prefs.MonthlyBudget,
		RecentMeals:     []models.ConsumptionRecord{},
		Liked:           []models.LikedItem{},
	}, nil
}
