// SPDX-License-Identifier: MIT

// Package vision talks to a vision-capable language model to describe UML
// diagrams, find modeling errors and propose corrections.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/umlgrade/umlgrade/internal/log"
)

var (
	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_vision_requests_total",
		Help: "Total number of vision model requests",
	}, []string{"op", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umlgrade_vision_request_duration_seconds",
		Help:    "Duration of vision model requests",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"op"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_vision_tokens_total",
		Help: "Total tokens consumed by vision model requests",
	}, []string{"kind"})
)

// Config configures the model client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	RPS       float64 // request rate limit toward the provider
	MaxTokens int
}

// Client is a minimal chat-completions client for OpenAI-compatible
// endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a model client.
func NewClient(cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// SetRPS adjusts the provider rate limit at runtime, for config reloads.
// Values <= 0 fall back to one request per second.
func (c *Client) SetRPS(rps float64) {
	if rps <= 0 {
		rps = 1
	}
	c.limiter.SetLimit(rate.Limit(rps))
}

const maxRetries = 3

// Complete sends one chat request and returns the model's text response.
// 429 and 5xx responses are retried with exponential backoff; other errors
// abort immediately.
func (c *Client) Complete(ctx context.Context, op string, messages []chatMessage) (string, error) {
	logger := log.WithContext(ctx, log.WithComponent("vision"))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			logger.Warn().
				Str("event", "vision.rate_limited").
				Str("op", op).
				Int("attempt", i+1).
				Msg("model endpoint rate limited, backing off")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		case resp.StatusCode != http.StatusOK:
			requestTotal.WithLabelValues(op, "error").Inc()
			return "", fmt.Errorf("model request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			requestTotal.WithLabelValues(op, "error").Inc()
			return "", fmt.Errorf("parse response: %w", err)
		}
		if chatResp.Error != nil {
			requestTotal.WithLabelValues(op, "error").Inc()
			return "", fmt.Errorf("model error: %s", chatResp.Error.Message)
		}
		if len(chatResp.Choices) == 0 {
			requestTotal.WithLabelValues(op, "error").Inc()
			return "", fmt.Errorf("no completion returned")
		}

		tokensTotal.WithLabelValues("prompt").Add(float64(chatResp.Usage.PromptTokens))
		tokensTotal.WithLabelValues("completion").Add(float64(chatResp.Usage.CompletionTokens))
		requestTotal.WithLabelValues(op, "ok").Inc()

		logger.Debug().
			Str("event", "vision.complete").
			Str("op", op).
			Int("total_tokens", chatResp.Usage.TotalTokens).
			Dur("duration", time.Since(start)).
			Msg("model request complete")

		return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
	}

	requestTotal.WithLabelValues(op, "retries_exhausted").Inc()
	return "", fmt.Errorf("model request failed after %d attempts: %w", maxRetries+1, lastErr)
}

// textMessage builds a plain user message.
func textMessage(role, text string) chatMessage {
	return chatMessage{Role: role, Content: text}
}

// imageMessage builds a user message carrying a prompt and an image data URL.
func imageMessage(prompt, dataURL string) chatMessage {
	return chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	}
}
