package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
)

const anthropicAPIVersion = "2023-06-01"

type AnthropicConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Anthropic is a single-attempt client for the Messages API. Retries are
// the caller's concern.
type Anthropic struct {
	apiURL    string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Anthropic{
		apiURL:    cfg.APIURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

var _ ports.LLMClient = (*Anthropic)(nil)

// APIError is a non-2xx response from the model backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// Retryable reports rate limiting and server-side failures.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status == 529 || e.Status >= 500
}

// IsRetryable classifies any error returned by Complete.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var te *TransportError
	return errors.As(err, &te)
}

// TransportError wraps network failures and timeouts of a single call.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "sending request: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Retryable() bool { return true }

func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, int, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	var result anthropicResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, fmt.Errorf("parsing response: %w", err)
	}
	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), result.Usage.InputTokens + result.Usage.OutputTokens, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Type + ": " + e.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Usage   anthropicUsage   `json:"usage"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
