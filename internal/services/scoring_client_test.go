package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"menurec/internal/catalog"
	"menurec/internal/models"
)

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testScoreRequest() *models.ScoreRequest {
	return &models.ScoreRequest{
		UserID:     "U",
		Mode:       models.ModeBudget,
		Context:    &models.UserContext{Preferences: models.DefaultPreferences(), RemainingBudget: 300000},
		Candidates: catalog.Default().Candidates(),
	}
}

func TestChatScorer_ScoreBatch(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		content := "```json\n{\"recommendations\":[{\"menuId\":\"6\",\"score\":92,\"reasoning\":\"cheap\"}]}\n```"
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(content)))
	}))
	defer server.Close()

	scorer := NewChatScorer(ScorerConfig{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, quietLogger())

	batch, err := scorer.ScoreBatch(context.Background(), testScoreRequest())
	if err != nil {
		t.Fatalf("ScoreBatch failed: %v", err)
	}
	if len(batch) != 1 || batch[0].ItemID != "6" || batch[0].Score != 92 {
		t.Errorf("Unexpected batch: %+v", batch)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("Expected model in request, got %v", gotBody["model"])
	}
	format, ok := gotBody["response_format"].(map[string]interface{})
	if !ok || format["type"] != "json_schema" {
		t.Errorf("Expected json_schema response format, got %v", gotBody["response_format"])
	}
	messages, _ := gotBody["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("Expected system and user messages, got %d", len(messages))
	}
	user := messages[1].(map[string]interface{})["content"].(string)
	if !strings.Contains(user, "ID: 8") {
		t.Error("Expected every candidate in the prompt")
	}
}

func TestChatScorer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"overloaded"}`, nil},
		{"no choices", http.StatusOK, `{"choices":[]}`, nil},
		{"not json", http.StatusOK, chatResponse("I recommend the kimchi stew"), nil},
		{"empty ranking", http.StatusOK, chatResponse(`{"recommendations":[]}`), ErrEmptyBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			scorer := NewChatScorer(ScorerConfig{BaseURL: server.URL, Model: "m"}, quietLogger())
			_, err := scorer.ScoreBatch(context.Background(), testScoreRequest())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChatScorer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	scorer := NewChatScorer(ScorerConfig{BaseURL: server.URL, Model: "m"}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := scorer.ScoreBatch(ctx, testScoreRequest()); err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("Scoring call did not honour the context deadline")
	}
}

func TestChatScorer_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	scorer := NewChatScorer(ScorerConfig{BaseURL: server.URL, Model: "m"}, quietLogger())
	for i := 0; i < 8; i++ {
		_, _ = scorer.ScoreBatch(context.Background(), testScoreRequest())
	}

	if hits.Load() != 5 {
		t.Errorf("Expected the breaker to open after 5 failures, upstream saw %d requests", hits.Load())
	}
}

func TestBuildRecommendationPrompt(t *testing.T) {
	req := testScoreRequest()
	req.Context.Liked = []models.LikedItem{{MenuName: "Gyudon", Calories: 550, Price: 8000}}
	req.Context.Preferences.DislikedIngredients = []string{"cilantro"}

	prompt := BuildRecommendationPrompt(req)

	for _, want := range []string{
		"Remaining budget: 300000",
		"Disliked ingredients: cilantro",
		"- Gyudon (550kcal, 8000)",
		"no records",
		"CURRENT MODE: budget - " + models.ModeDescriptions[models.ModeBudget],
		"ID: 1",
		"Restaurant: Healthy Meal Kitchen",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}

	if PromptFingerprint(prompt) != PromptFingerprint(BuildRecommendationPrompt(req)) {
		t.Error("Fingerprint must be deterministic")
	}
	if len(PromptFingerprint(prompt)) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(PromptFingerprint(prompt)))
	}

	req.Mode = models.ModeQuick
	if PromptFingerprint(BuildRecommendationPrompt(req)) == PromptFingerprint(prompt) {
		t.Error("Fingerprint must change with the mode")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  ```json\n{\"a\":1}```": `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripCodeFences(in); got != want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
