package xprovider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/llm/xprovider"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := &xprovider.Error{Provider: "p", StatusCode: tt.status, Err: errors.New("x")}
		assert.Equal(t, tt.want, err.Retryable(), "status %d", tt.status)
		assert.Equal(t, tt.want, xretry.IsRetryable(err), "status %d", tt.status)
	}
}

func TestTimeoutError(t *testing.T) {
	err := error(&xprovider.TimeoutError{Provider: "p", Timeout: time.Second})
	assert.True(t, xprovider.IsTimeout(err))
	assert.ErrorIs(t, err, xprovider.ErrTimeout)
	assert.True(t, xretry.IsRetryable(err))
	assert.Contains(t, err.Error(), "1s")
}

func TestEcho(t *testing.T) {
	p := xprovider.NewEcho("", "", 0)
	assert.Equal(t, "echo", p.Name())

	c, err := p.Complete(context.Background(), &xprovider.Request{Prompt: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello world", c.Content)
	assert.Equal(t, "echo-1", c.Model)
	assert.Equal(t, int64(2), c.PromptTokens)
	assert.Equal(t, int64(3), c.CompletionTokens)

	_, err = p.Complete(context.Background(), &xprovider.Request{Prompt: "  "})
	assert.ErrorIs(t, err, xprovider.ErrEmptyPrompt)
	_, err = p.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, xprovider.ErrNilRequest)
}

func TestEcho_RespectsContext(t *testing.T) {
	p := xprovider.NewEcho("slow", "", time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, &xprovider.Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newChatServer(t *testing.T, status int, body any) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAI_Complete(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": "pong"},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
	})

	p, err := xprovider.NewOpenAI(xprovider.OpenAIConfig{Name: "primary", BaseURL: srv.URL, APIKey: "test"})
	require.NoError(t, err)

	c, err := p.Complete(context.Background(), &xprovider.Request{
		Prompt: "ping",
		Params: map[string]any{"temperature": 0.2, "max_tokens": 16},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", c.Content)
	assert.Equal(t, int64(3), c.PromptTokens)
	assert.Equal(t, int64(1), c.CompletionTokens)

	assert.Equal(t, "gpt-4o-mini", (*got)["model"])
	assert.InDelta(t, 0.2, (*got)["temperature"], 1e-9)
}

func TestOpenAI_StatusErrors(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "slow down", "type": "rate_limit"},
	})
	p, err := xprovider.NewOpenAI(xprovider.OpenAIConfig{BaseURL: srv.URL, APIKey: "test"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &xprovider.Request{Prompt: "ping"})
	var pe *xprovider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.True(t, pe.Retryable())
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := xprovider.NewOpenAI(xprovider.OpenAIConfig{})
	assert.ErrorIs(t, err, xprovider.ErrNoAPIKey)
}
