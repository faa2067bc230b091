package models

import "time"

// PreferenceSnapshot is the user's recommendation preferences at generation time
type PreferenceSnapshot struct {
	PreferredMode       Mode     `json:"preferred_mode"`
	FavoriteCategories  []string `json:"favorite_categories"`
	DislikedIngredients []string `json:"disliked_ingredients"`
	PriorityPrice       int      `json:"priority_price"`     // percent
	PriorityNutrition   int      `json:"priority_nutrition"` // percent
	PriorityDelivery    int      `json:"priority_delivery"`  // percent
	MonthlyBudget       int64    `json:"monthly_budget"`
}

// DefaultPreferences is used for users that never saved preferences
func DefaultPreferences() PreferenceSnapshot {
	return PreferenceSnapshot{
		PreferredMode:       ModeBudget,
		FavoriteCategories:  []string{},
		DislikedIngredients: []string{},
		PriorityPrice:       33,
		PriorityNutrition:   33,
		PriorityDelivery:    34,
		MonthlyBudget:       300000,
	}
}

// ConsumptionRecord is one logged meal
type ConsumptionRecord struct {
	MenuName string    `json:"menu_name"`
	Calories int       `json:"calories"`
	Cost     int64     `json:"cost"`
	MealDate time.Time `json:"meal_date"`
}

// LikedItem is a meal the user explicitly liked
type LikedItem struct {
	MenuName string `json:"menu_name"`
	Calories int    `json:"calories"`
	Price    int64  `json:"price"`
}

// UserContext is the snapshot handed to the scoring collaborator
type UserContext struct {
	Preferences     PreferenceSnapshot  `json:"preferences"`
	MonthSpent      int64               `json:"month_spent"`
	RemainingBudget int64               `json:"remaining_budget"`
	RecentMeals     []ConsumptionRecord `json:"recent_meals"`
	Liked           []LikedItem         `json:"liked"`
}

// ScoreRequest is everything the scoring collaborator needs for one key
type ScoreRequest struct {
	UserID     string       `json:"user_id"`
	Mode       Mode         `json:"mode"`
	Context    *UserContext `json:"context"`
	Candidates []Candidate  `json:"candidates"`
}
