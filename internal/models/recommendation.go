package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode is a recommendation strategy. It is part of the cache key.
type Mode string

const (
	ModeBudget  Mode = "budget"
	ModeHealthy Mode = "healthy"
	ModeQuick   Mode = "quick"
)

// DefaultModes is the mode set served when RECOMMEND_MODES is not configured
var DefaultModes = []Mode{ModeBudget, ModeHealthy, ModeQuick}

// ModeDescriptions are rendered into the scoring prompt
var ModeDescriptions = map[Mode]string{
	ModeBudget:  "Value first - cheap dishes that still satisfy",
	ModeHealthy: "Nutrition first - high protein and balanced macros",
	ModeQuick:   "Delivery speed first - dishes that arrive fastest",
}

// ParseMode validates a mode against the allowed set.
// An empty value falls back to the budget mode.
func ParseMode(raw string, allowed []Mode) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeBudget, nil
	}
	for _, m := range allowed {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", NewValidationError("mode", fmt.Sprintf("unknown mode %q", raw))
}

// Status is the persisted label of a cache row
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// CacheKey identifies exactly one cache row
type CacheKey struct {
	UserID string `json:"userId"`
	Mode   Mode   `json:"mode"`
}

// Validate reports a ValidationError when a key field is missing
func (k CacheKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return NewValidationError("userId", "user ID is required")
	}
	if k.Mode == "" {
		return NewValidationError("mode", "mode is required")
	}
	return nil
}

func (k CacheKey) String() string {
	return k.UserID + ":" + string(k.Mode)
}

// ScoredItem is one entry of a ranking returned by the scoring collaborator
type ScoredItem struct {
	ItemID    string `json:"menuId" bson:"menu_id"`
	Score     int    `json:"score" bson:"score"`
	Reasoning string `json:"reasoning" bson:"reasoning"`
}

// CacheEntry is the single row stored per (user, mode)
type CacheEntry struct {
	UserID       string       `json:"userId" bson:"user_id"`
	Mode         Mode         `json:"mode" bson:"mode"`
	Status       Status       `json:"status" bson:"status"`
	Payload      []ScoredItem `json:"recommendations,omitempty" bson:"recommendations,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty" bson:"error_message,omitempty"`
	PromptHash   string       `json:"promptHash,omitempty" bson:"prompt_hash,omitempty"`
	CreatedAt    time.Time    `json:"createdAt" bson:"created_at"`
	ExpiresAt    time.Time    `json:"expiresAt" bson:"expires_at"`
}

// Key returns the cache key of the entry
func (e *CacheEntry) Key() CacheKey {
	return CacheKey{UserID: e.UserID, Mode: e.Mode}
}

// HasPayload reports whether a non-empty ranking is stored
func (e *CacheEntry) HasPayload() bool {
	return e != nil && len(e.Payload) > 0
}

// Completed treats payload presence as ground truth. The status label is advisory:
// a row labelled pending that already carries a payload is complete.
func (e *CacheEntry) Completed() bool {
	return e.HasPayload()
}

// IsExpired reports whether the entry is past its TTL at now
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// EntryInfo is the inspection view of a row, including expired rows
type EntryInfo struct {
	CacheEntry
	HasRecommendations bool `json:"has_recommendations"`
	IsValid            bool `json:"is_valid"`
}

// CacheStatus is the answer of the status query service
type CacheStatus string

const (
	CacheStatusNone       CacheStatus = "none"
	CacheStatusGenerating CacheStatus = "generating"
	CacheStatusCompleted  CacheStatus = "completed"
	CacheStatusError      CacheStatus = "error"
)

// StatusReport is returned by the status polling endpoint
type StatusReport struct {
	Status       CacheStatus `json:"status"`
	HasResult    bool        `json:"hasResult"`
	CreatedAt    *time.Time  `json:"createdAt,omitempty"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// TriggerStatus is returned by the fire-and-forget trigger endpoint
type TriggerStatus string

const (
	TriggerReady      TriggerStatus = "ready"
	TriggerGenerating TriggerStatus = "generating"
	TriggerError      TriggerStatus = "error"
)
