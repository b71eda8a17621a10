// Package llm provides the narrow request/response contract SAGE uses to talk
// to a language model provider.
//
// The contract is a single call: Complete(ctx, Request) -> Response. Failures
// are typed (timeout, connection, model) so the pipeline can decide whether a
// retry is worthwhile without matching on error strings. OpenAI-compatible
// and Ollama endpoints are supported as switchable providers.
//
// Usage:
//
//	client, err := llm.NewClient(cfg.LLM, logger)
//	resp, err := client.Complete(ctx, llm.Request{System: sys, Prompt: q})
package llm

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

	"github.com/rshinytools/sage/internal/config"
)

// ErrorKind classifies an LLM failure.
type ErrorKind string

const (
	// KindTimeout marks a deadline exceeded talking to the provider.
	KindTimeout ErrorKind = "timeout"
	// KindConnection marks transport-level failures.
	KindConnection ErrorKind = "connection"
	// KindModel marks malformed or unusable model output.
	KindModel ErrorKind = "model"
)

// Error is a typed LLM failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from an error chain, defaulting to
// KindConnection for untyped failures.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindConnection
}

// Request is one completion request.
type Request struct {
	// Model overrides the configured model when set.
	Model string

	// System is the system prompt. Optional.
	System string

	// Prompt is the user prompt.
	Prompt string

	// Temperature overrides the configured temperature when >= 0.
	// Pass a negative value to use the configured default.
	Temperature float64

	// MaxTokens overrides the configured maximum when > 0.
	MaxTokens int
}

// Response is one completion response.
type Response struct {
	// Text is the raw model output.
	Text string

	// TokensUsed is the provider-reported token count, 0 when unreported.
	TokensUsed int

	// LatencyMS is the round-trip time.
	LatencyMS int64
}

// Completer is the narrow interface the pipeline depends on. Tests supply
// fakes; production uses *Client.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Client talks to a configured LLM provider over HTTP.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	switch cfg.Provider {
	case "openai", "ollama":
	default:
		return nil, fmt.Errorf("llm: unknown provider: %s", cfg.Provider)
	}

	if cfg.Provider == "openai" && cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required for the openai provider")
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("LLM client initialized",
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
	)

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With(slog.String("component", "llm")),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends one completion request and returns the model's text.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	var (
		text   string
		tokens int
		err    error
	)

	switch c.cfg.Provider {
	case "openai":
		text, tokens, err = c.completeOpenAI(ctx, model, req.System, req.Prompt, temperature, maxTokens)
	case "ollama":
		text, tokens, err = c.completeOllama(ctx, model, req.System, req.Prompt, temperature, maxTokens)
	}

	latency := time.Since(start).Milliseconds()
	if err != nil {
		c.logger.Warn("LLM call failed",
			slog.String("model", model),
			slog.Int64("latency_ms", latency),
			slog.Any("error", err),
		)
		return nil, err
	}

	c.logger.Debug("LLM call completed",
		slog.String("model", model),
		slog.Int("tokens_used", tokens),
		slog.Int64("latency_ms", latency),
	)

	return &Response{
		Text:       text,
		TokensUsed: tokens,
		LatencyMS:  latency,
	}, nil
}

// openAIRequest is the chat-completions request body.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// completeOpenAI posts to an OpenAI-compatible chat completions endpoint.
func (c *Client) completeOpenAI(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, int, error) {
	messages := []openAIMessage{}
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	raw, err := c.post(ctx, url, body, c.cfg.APIKey)
	if err != nil {
		return "", 0, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", 0, &Error{Kind: KindModel, Message: "unparseable completion response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", 0, &Error{Kind: KindModel, Message: "completion response contained no choices"}
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

// ollamaRequest is the /api/generate request body.
type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

// completeOllama posts to an Ollama generate endpoint.
func (c *Client) completeOllama(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, int, error) {
	body := ollamaRequest{
		Model:  model,
		System: system,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/generate"
	raw, err := c.post(ctx, url, body, "")
	if err != nil {
		return "", 0, err
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", 0, &Error{Kind: KindModel, Message: "unparseable generate response", Err: err}
	}

	return parsed.Response, parsed.EvalCount, nil
}

// post sends a JSON request and classifies transport failures.
func (c *Client) post(ctx context.Context, url string, body any, apiKey string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindModel, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Message: "provider request timed out", Err: err}
		}
		return nil, &Error{Kind: KindConnection, Message: "provider unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: "failed reading provider response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    KindModel,
			Message: fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}
	}

	return raw, nil
}

// isTimeout reports whether err is a net timeout.
func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
