package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, retries int) *OpenAI {
	t.Helper()
	t.Setenv("RAGSTORE_TEST_KEY", "secret")
	c, err := NewOpenAI(Config{BaseURL: url + "/", APIKeyEnv: "RAGSTORE_TEST_KEY", Model: "chat", SystemPrompt: "be brief", MaxRetries: retries})
	require.NoError(t, err)
	return c
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "the prompt", body.Messages[1].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"the answer"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL, 0).Complete(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestComplete_RetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL, 1).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_Failures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("x") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 3).Complete(context.Background(), "p")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewOpenAI_MissingKey(t *testing.T) {
	t.Setenv("RAGSTORE_NO_KEY", "")
	_, err := NewOpenAI(Config{APIKeyEnv: "RAGSTORE_NO_KEY"})
	assert.Error(t, err)
}
