// Package generation hands assembled prompts to an external text-completion
// service. The service's output is passed through untouched.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrEmptyCompletion is returned when the service answers without any choices.
var ErrEmptyCompletion = errors.New("completion response has no choices")

type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	SystemPrompt      string
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// OpenAI is a chat-completions client for OpenAI-compatible servers.
type OpenAI struct {
	cfg     Config
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &OpenAI{
		cfg:     cfg,
		apiKey:  key,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete sends prompt as a single user message and returns the first choice.
func (c *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	body, err := json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"messages":    msgs,
		"temperature": c.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		out, retry, err := c.do(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", fmt.Errorf("chat completion: %w", lastErr)
}

func (c *OpenAI) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("status %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", false, fmt.Errorf("decoding completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", false, ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, false, nil
}

func backoff(attempt int) time.Duration {
	d := 250 * time.Millisecond << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}
