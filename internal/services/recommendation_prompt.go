package services

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"menurec/internal/models"
)

// RecommendationSystemPrompt frames the scoring model's role
const RecommendationSystemPrompt = `You are a food recommendation expert. Analyse the user's preferences and eating habits and score every candidate menu item for them.

Scoring criteria:
1. Apply the user's priority weights when computing the score
2. Price: fit against the remaining monthly budget
3. Nutrition: protein content and calorie balance
4. Delivery: how quickly the item can arrive
5. Preference match: bonus for favourite categories, a strong bonus for items similar to liked items (category, calories, price range), a heavy penalty for disliked ingredients
6. Variety: bonus for items not eaten in the last 7 days
7. Adjust the weighting for the current mode

Give every candidate a score from 0 to 100 and a one or two sentence reasoning the user can understand.
Respond only with JSON matching the provided schema.`

// recommendationSchema is the structured output contract of the scoring call
var recommendationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"recommendations": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"menuId":    map[string]interface{}{"type": "string"},
					"score":     map[string]interface{}{"type": "integer"},
					"reasoning": map[string]interface{}{"type": "string"},
				},
				"required":             []string{"menuId", "score", "reasoning"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"recommendations"},
	"additionalProperties": false,
}

// BuildRecommendationPrompt renders the user message sent to the scoring model
func BuildRecommendationPrompt(req *models.ScoreRequest) string {
	var b strings.Builder
	uc := req.Context
	if uc == nil {
		uc = &models.UserContext{Preferences: models.DefaultPreferences()}
	}
	prefs := uc.Preferences

	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Monthly food budget: %d\n", prefs.MonthlyBudget)
	fmt.Fprintf(&b, "- Spent this month: %d\n", uc.MonthSpent)
	fmt.Fprintf(&b, "- Remaining budget: %d\n", uc.RemainingBudget)
	fmt.Fprintf(&b, "- Favourite categories: %s\n", listOrNone(prefs.FavoriteCategories))
	fmt.Fprintf(&b, "- Disliked ingredients: %s\n", listOrNone(prefs.DislikedIngredients))
	fmt.Fprintf(&b, "- Priorities: price %d%%, nutrition %d%%, delivery %d%%\n",
		prefs.PriorityPrice, prefs.PriorityNutrition, prefs.PriorityDelivery)

	b.WriteString("\nLIKED ITEMS:\n")
	if len(uc.Liked) == 0 {
		b.WriteString("none\n")
	}
	for _, l := range uc.Liked {
		fmt.Fprintf(&b, "- %s (%dkcal, %d)\n", l.MenuName, l.Calories, l.Price)
	}

	b.WriteString("\nMEALS IN THE LAST 7 DAYS:\n")
	if len(uc.RecentMeals) == 0 {
		b.WriteString("no records\n")
	}
	for _, m := range uc.RecentMeals {
		fmt.Fprintf(&b, "- %s %s (%dkcal, %d)\n", m.MealDate.Format("2006-01-02"), m.MenuName, m.Calories, m.Cost)
	}

	desc := models.ModeDescriptions[req.Mode]
	if desc == "" {
		desc = string(req.Mode)
	}
	fmt.Fprintf(&b, "\nCURRENT MODE: %s - %s\n", req.Mode, desc)

	b.WriteString("\nCANDIDATES:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- ID: %s\n  Name: %s\n  Category: %s\n  Price: %d\n  Calories: %dkcal\n  Protein: %dg\n  Carbs: %dg\n  Fat: %dg\n  Restaurant: %s\n  Delivery: %d min, fee %d\n",
			c.ID, c.Name, c.Category, c.Price, c.Calories, c.Protein, c.Carbs, c.Fat,
			c.RestaurantName, c.DeliveryTime, c.DeliveryFee)
	}

	return b.String()
}

// PromptFingerprint identifies the inputs a ranking was computed from
func PromptFingerprint(prompt string) string {
	sum := blake2b.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// stripCodeFences removes a ```json ... ``` wrapper some models add around JSON output
func stripCodeFences(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return strings.TrimSpace(strings.TrimPrefix(strings.Trim(text, "`"), "json"))
	}
	body := strings.TrimSpace(lines[1])
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
