// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FallbackModel is used when no model is configured and none can be listed.
const FallbackModel = "llama3"

// DefaultBaseURL is the address of a stock local Ollama install.
const DefaultBaseURL = "http://127.0.0.1:11434"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeNoBody
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrNoBody        = &ClientError{Type: ErrTypeNoBody, Message: "response carries no readable body"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 120s).
	// Streaming requests are bounded only by their context.
	Timeout time.Duration

	// Logger receives request diagnostics. Nil uses log.DefaultLogger.
	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 120 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	body, err := client.OpenChatStream(ctx, ollama.ChatRequest{
//	    Model:    "llama3",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	logger       *log.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		// No client timeout: a generation can legitimately run for minutes.
		streamClient: &http.Client{},
		logger:       logger,
	}
}

// BaseURL returns the API base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// ModelNames returns the installed model names, deduplicated and sorted.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return uniqueSortedNames(models), nil
}

// DefaultModel picks the model to use when none is configured: the first
// installed model in sorted order, or FallbackModel if the list is empty or
// cannot be fetched.
func (c *Client) DefaultModel(ctx context.Context) string {
	names, err := c.ModelNames(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("fallback", FallbackModel).Msg("could not list models")
		return FallbackModel
	}
	if len(names) == 0 {
		return FallbackModel
	}
	return names[0]
}

func uniqueSortedNames(models []ModelInfo) []string {
	seen := make(map[string]struct{}, len(models))
	names := make([]string, 0, len(models))
	for _, m := range models {
		if m.Name == "" {
			continue
		}
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// GetModel retrieves information about a specific model.
func (c *Client) GetModel(ctx context.Context, name string) (*ShowModelResponse, error) {
	resp, err := c.post(ctx, c.httpClient, "/api/show", ShowModelRequest{Name: name})
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if err := checkStatus(resp, "failed to get model"); err != nil {
		return nil, err
	}

	var result ShowModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// ModelExists checks if a model is available locally.
func (c *Client) ModelExists(ctx context.Context, model string) bool {
	_, err := c.GetModel(ctx, model)
	return err == nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a non-streaming chat request and returns the complete response.
func (c *Client) Chat(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	chatReq.Stream = false

	c.logger.Debug().Str("model", chatReq.Model).Int("messages", len(chatReq.Messages)).Msg("chat request")

	resp, err := c.post(ctx, c.httpClient, "/api/chat", chatReq)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if err := checkStatus(resp, "chat request failed"); err != nil {
		return nil, err
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// OpenChatStream issues a streaming chat request and returns the raw NDJSON
// response body once the server has accepted it. The caller owns the body
// and must close it. A non-success status or a missing body is an error.
func (c *Client) OpenChatStream(ctx context.Context, chatReq ChatRequest) (io.ReadCloser, error) {
	chatReq.Stream = true

	c.logger.Debug().Str("model", chatReq.Model).Int("messages", len(chatReq.Messages)).Msg("stream request")

	resp, err := c.post(ctx, c.streamClient, "/api/chat", chatReq)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp, "stream request failed"); err != nil {
		drainAndClose(resp.Body)
		return nil, err
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}

	return resp.Body, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) post(ctx context.Context, hc *http.Client, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, connError(err)
	}
	return resp, nil
}

// checkStatus maps a non-200 response to a ClientError, preferring the
// server's own error text.
func checkStatus(resp *http.Response, prefix string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var ollamaErr OllamaError
	hasBody := resp.Body != nil && resp.Body != http.NoBody
	if hasBody {
		if err := json.NewDecoder(resp.Body).Decode(&ollamaErr); err != nil {
			ollamaErr.Error = ""
		}
	}

	if resp.StatusCode == http.StatusNotFound && strings.Contains(ollamaErr.Error, "not found") {
		return &ClientError{Type: ErrTypeModelNotFound, Message: ollamaErr.Error}
	}
	if ollamaErr.Error != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: ollamaErr.Error}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: prefix + ": " + resp.Status,
	}
}

// connError classifies a failed round trip. The cause is kept so callers can
// still detect context cancellation with errors.Is.
func connError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeModelNotFound
	}
	return false
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return false
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return false
}

func drainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
