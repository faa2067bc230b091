package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"menurec/internal/models"
)

// Scorer ranks candidates for one user and mode. Implementations treat a failed call,
// a timeout and an unusable response alike: all return an error.
type Scorer interface {
	ScoreBatch(ctx context.Context, req *models.ScoreRequest) ([]models.ScoredItem, error)
}

// ErrEmptyBatch is returned when the model answered with no recommendations
var ErrEmptyBatch = errors.New("scoring returned an empty ranking")

// ScorerConfig configures the chat-completions scoring client
type ScorerConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	RatePerMinute int
}

// ChatScorer calls an OpenAI-compatible chat completions endpoint with structured output
type ChatScorer struct {
	cfg        ScorerConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]models.ScoredItem]
	logger     *logrus.Logger
}

// NewChatScorer creates a scoring client. A nil logger gets a JSON logrus logger.
func NewChatScorer(cfg ScorerConfig, logger *logrus.Logger) *ChatScorer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	s := &ChatScorer{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute),
		logger:  logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker[[]models.ScoredItem](gobreaker.Settings{
		Name:        "scoring",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Scoring circuit breaker changed state")
		},
	})

	logger.WithFields(logrus.Fields{
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Info("Scoring client initialized")

	return s
}

// ScoreBatch asks the model to score every candidate
func (s *ChatScorer) ScoreBatch(ctx context.Context, req *models.ScoreRequest) ([]models.ScoredItem, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scoring rate limit wait: %w", err)
	}

	return s.breaker.Execute(func() ([]models.ScoredItem, error) {
		return s.call(ctx, req)
	})
}

func (s *ChatScorer) call(ctx context.Context, req *models.ScoreRequest) ([]models.ScoredItem, error) {
	start := time.Now()
	fields := logrus.Fields{
		"user_id": req.UserID,
		"mode":    string(req.Mode),
		"model":   s.cfg.Model,
	}

	requestBody := map[string]interface{}{
		"model": s.cfg.Model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": RecommendationSystemPrompt},
			{"role": "user", "content": BuildRecommendationPrompt(req)},
		},
		"stream":      false,
		"temperature": 0.3,
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "menu_recommendations",
				"strict": true,
				"schema": recommendationSchema,
			},
		},
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	s.logger.WithFields(fields).Info("Requesting recommendation scores")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	fields["elapsed_ms"] = time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(fields).WithField("status", resp.StatusCode).Warn("Scoring API error")
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return nil, fmt.Errorf("no response from scoring model")
	}

	var result struct {
		Recommendations []models.ScoredItem `json:"recommendations"`
	}
	content := stripCodeFences(apiResponse.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		s.logger.WithFields(fields).WithField("content_length", len(content)).Warn("Unparseable scoring content")
		return nil, fmt.Errorf("failed to parse recommendations: %w", err)
	}
	if len(result.Recommendations) == 0 {
		return nil, ErrEmptyBatch
	}

	fields["count"] = len(result.Recommendations)
	s.logger.WithFields(fields).Info("Recommendation scores received")

	return result.Recommendations, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
