package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanEdg/SpikeReports/internal/config"
)

type recordedRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Provider provider  `json:"provider"`
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(n int, req recordedRequest, w http.ResponseWriter)
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req recordedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		n := len(f.requests)
		f.mu.Unlock()

		f.respond(n, req, w)
	})
}

func (f *fakeAPI) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Model
	}
	return out
}

func writeContent(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func newTestClient(t *testing.T, api *fakeAPI, fallback string) (*Client, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	c := NewClient(config.SummarizerConfig{
		APIKey:        "sk-test",
		BaseURL:       server.URL + "/",
		Model:         "primary/model",
		FallbackModel: fallback,
		Timeout:       5 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
	})
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestCompleteSendsOpenRouterRequest(t *testing.T) {
	var headers http.Header
	api := &fakeAPI{respond: func(_ int, _ recordedRequest, w http.ResponseWriter) {
		writeContent(w, "  summary text \n")
	}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		api.handler(t).ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	c := NewClient(config.SummarizerConfig{APIKey: "sk-test", BaseURL: server.URL, Model: "primary/model", Timeout: time.Second})
	text, err := c.Complete(context.Background(), userPrompt("hello"))
	require.NoError(t, err)
	assert.Equal(t, "summary text", text)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "Slack Report Bot", headers.Get("X-Title"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	require.Len(t, api.requests, 1)
	assert.Equal(t, "primary/model", api.requests[0].Model)
	assert.Equal(t, "throughput", api.requests[0].Provider.Sort)
	assert.Equal(t, []Message{{Role: "user", Content: "hello"}}, api.requests[0].Messages)
}

func TestCompleteRetriesWithBackoff(t *testing.T) {
	api := &fakeAPI{respond: func(n int, _ recordedRequest, w http.ResponseWriter) {
		if n < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		writeContent(w, "ok")
	}}
	c, sleeps := newTestClient(t, api, "")

	text, err := c.Complete(context.Background(), userPrompt("x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestCompleteExhaustsRetryBudget(t *testing.T) {
	api := &fakeAPI{respond: func(_ int, _ recordedRequest, w http.ResponseWriter) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}}
	c, sleeps := newTestClient(t, api, "fallback/model")

	_, err := c.Complete(context.Background(), userPrompt("x"))
	require.Error(t, err)

	var sumErr *Error
	require.True(t, errors.As(err, &sumErr))
	assert.Equal(t, 3, sumErr.Attempts)
	assert.False(t, sumErr.RateLimited)
	assert.Equal(t, "primary/model", sumErr.Model)
	assert.Len(t, *sleeps, 2)
	assert.Equal(t, []string{"primary/model", "primary/model", "primary/model"}, api.models())
}

func TestCompleteSwitchesToFallbackWhenRateLimited(t *testing.T) {
	api := &fakeAPI{respond: func(_ int, req recordedRequest, w http.ResponseWriter) {
		if req.Model == "primary/model" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
			return
		}
		writeContent(w, "from fallback")
	}}
	c, _ := newTestClient(t, api, "fallback/model")

	text, err := c.Complete(context.Background(), userPrompt("x"))
	require.NoError(t, err)
	assert.Equal(t, "from fallback", text)
	assert.Equal(t, []string{"primary/model", "fallback/model"}, api.models())
}

func TestCompleteRateLimitedWithoutFallback(t *testing.T) {
	api := &fakeAPI{respond: func(_ int, _ recordedRequest, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		// Some providers report rate limits inside a 200 body.
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"slow down"}}`))
	}}
	c, _ := newTestClient(t, api, "")

	_, err := c.Complete(context.Background(), userPrompt("x"))
	var sumErr *Error
	require.True(t, errors.As(err, &sumErr))
	assert.True(t, sumErr.RateLimited)
	assert.Equal(t, 3, sumErr.Attempts)
	assert.Contains(t, sumErr.Error(), "slow down")
}

func TestCompleteStopsWhenContextCancelled(t *testing.T) {
	api := &fakeAPI{respond: func(_ int, _ recordedRequest, w http.ResponseWriter) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}}
	c, _ := newTestClient(t, api, "")

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.Complete(ctx, userPrompt("x"))
	var sumErr *Error
	require.True(t, errors.As(err, &sumErr))
	assert.Equal(t, 1, sumErr.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	api := &fakeAPI{respond: func(_ int, _ recordedRequest, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}}
	c, _ := newTestClient(t, api, "")

	_, err := c.Complete(context.Background(), userPrompt("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
