// Package summarizer turns collected reports into text digests using an
// OpenRouter-compatible chat completions API.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/metrics"
	"github.com/NathanEdg/SpikeReports/internal/shared"
)

const (
	appTitle         = "Slack Report Bot"
	maxResponseBytes = 4 << 20
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Error is returned when a completion could not be produced within the
// retry budget.
type Error struct {
	Model       string
	Attempts    int
	RateLimited bool
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("summarizer: %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError is a non-2xx response or an error object in the body.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func isRateLimited(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusTooManyRequests
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Provider provider  `json:"provider"`
}

type provider struct {
	Sort string `json:"sort"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the chat completions endpoint with retry, fallback and pacing.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	fallbackModel string
	timeout       time.Duration
	retry         shared.RetryPolicy
	limiter       *rate.Limiter
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client from configuration.
func NewClient(cfg config.SummarizerConfig) *Client {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		timeout:       cfg.Timeout,
		retry:         shared.RetryPolicy{MaxAttempts: attempts, BaseDelay: base},
		limiter:       limiter,
		sleep:         sleepContext,
	}
}

// Complete sends messages and returns the first choice's content. Failed
// attempts are retried with exponential backoff. Once the primary model is
// rate limited, the fallback model is used for the remaining attempts.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	model := c.model
	rateLimited := false

	var lastErr error
	attempt := 0
	for attempt < c.retry.MaxAttempts {
		if attempt > 0 {
			delay := c.retry.Delay(attempt - 1)
			slog.Info("Retrying completion", "model", model, "attempt", attempt+1, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		attempt++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		text, err := c.do(ctx, model, messages)
		if err == nil {
			metrics.SummarizerRequests.WithLabelValues(model, "ok").Inc()
			return text, nil
		}
		lastErr = err

		if isRateLimited(err) {
			metrics.SummarizerRequests.WithLabelValues(model, "rate_limited").Inc()
			rateLimited = true
			if c.fallbackModel != "" && model != c.fallbackModel {
				slog.Warn("Primary model rate limited, switching to fallback",
					"model", model, "fallback_model", c.fallbackModel)
				model = c.fallbackModel
			}
		} else {
			metrics.SummarizerRequests.WithLabelValues(model, "error").Inc()
		}
		slog.Error("Completion attempt failed",
			"model", model, "attempt", attempt, "max_attempts", c.retry.MaxAttempts, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return "", &Error{Model: model, Attempts: attempt, RateLimited: rateLimited, Err: lastErr}
}

func (c *Client) do(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:    model,
		Messages: messages,
		Provider: provider{Sort: "throughput"},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", appTitle)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var payload completionResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && payload.Error != nil {
			msg = payload.Error.Message
		}
		return "", &statusError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if payload.Error != nil {
		return "", &statusError{Status: payload.Error.Code, Message: payload.Error.Message}
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
