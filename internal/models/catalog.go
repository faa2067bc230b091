package models

// Restaurant serves one or more menu items
type Restaurant struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Category     string `json:"category" yaml:"category"`
	Image        string `json:"image,omitempty" yaml:"image"`
	DeliveryTime int    `json:"deliveryTime" yaml:"delivery_time"` // minutes
	DeliveryFee  int64  `json:"deliveryFee" yaml:"delivery_fee"`
	MinOrder     int64  `json:"minOrder" yaml:"min_order"`
}

// MenuItem is a recommendable catalog entry
type MenuItem struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Category     string `json:"category" yaml:"category"`
	Country      string `json:"country,omitempty" yaml:"country"`
	Image        string `json:"image,omitempty" yaml:"image"`
	Price        int64  `json:"price" yaml:"price"`
	Calories     int    `json:"calories" yaml:"calories"`
	Protein      int    `json:"protein" yaml:"protein"`
	Carbs        int    `json:"carbs" yaml:"carbs"`
	Fat          int    `json:"fat" yaml:"fat"`
	RestaurantID string `json:"restaurantId" yaml:"restaurant_id"`
}

// Candidate is a menu item joined with its restaurant, as sent for scoring
type Candidate struct {
	MenuItem
	RestaurantName string `json:"restaurantName"`
	DeliveryTime   int    `json:"deliveryTime"`
	DeliveryFee    int64  `json:"deliveryFee"`
}

// RankedItem is a scored candidate returned to consumers
type RankedItem struct {
	MenuItem
	Score      int         `json:"score"`
	Reasoning  string      `json:"reasoning"`
	Restaurant *Restaurant `json:"restaurant,omitempty"`
}
