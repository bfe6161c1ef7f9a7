package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, "be terse", req.System)
		require.Len(t, req.Messages, 1)

		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"issues\":"},{"type":"text","text":"[]}"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer server.Close()

	c := NewAnthropic(AnthropicConfig{APIURL: server.URL, APIKey: "test-key", Model: "claude-test"})
	text, tokens, err := c.Complete(context.Background(), "be terse", "review this")
	require.NoError(t, err)
	assert.Equal(t, `{"issues":[]}`, text)
	assert.Equal(t, 15, tokens)
}

func TestAnthropicComplete_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{529, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"type":"error","error":{"type":"some_error","message":"details"}}`)
			}))
			defer server.Close()

			_, _, err := NewAnthropic(AnthropicConfig{APIURL: server.URL}).Complete(context.Background(), "", "x")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Contains(t, apiErr.Message, "details")
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestAnthropicComplete_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, _, err := NewAnthropic(AnthropicConfig{APIURL: url, Timeout: time.Second}).Complete(context.Background(), "", "x")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

type countingClient struct{ calls int }

func (c *countingClient) Complete(context.Context, string, string) (string, int, error) {
	c.calls++
	return "ok", 1, nil
}

func TestWrapWithRateLimit(t *testing.T) {
	base := &countingClient{}
	assert.Same(t, base, WrapWithRateLimit(base, 0, 1))

	limited := WrapWithRateLimit(base, rate.Every(time.Hour), 1)
	_, _, err := limited.Complete(context.Background(), "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = limited.Complete(ctx, "", "")
	assert.Error(t, err, "second call must wait beyond the deadline")
	assert.Equal(t, 1, base.calls)
}
