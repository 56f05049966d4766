package provider

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

	"github.com/erg0nix/palaver/internal/config"
	"github.com/erg0nix/palaver/internal/core"
)

// ErrUnavailable marks every failure to obtain a usable completion: transport
// errors, timeouts, non-2xx statuses and malformed or empty responses.
var ErrUnavailable = errors.New("completion unavailable")

// Config holds connection and sampling settings for an OpenAI-compatible endpoint.
type Config struct {
	Endpoint              string
	APIKey                string
	Model                 string
	Temperature           float64
	MaxTokens             int
	HTTPTimeout           time.Duration
	MaxConcurrent         int
	MergeConsecutiveRoles bool
}

// ConfigFrom maps the completion section of the file config.
func ConfigFrom(cfg config.CompletionConfig) Config {
	return Config{
		Endpoint:              cfg.Endpoint,
		APIKey:                cfg.APIKey,
		Model:                 cfg.Model,
		Temperature:           cfg.Temperature,
		MaxTokens:             cfg.MaxTokens,
		HTTPTimeout:           cfg.Timeout(),
		MaxConcurrent:         cfg.MaxConcurrent,
		MergeConsecutiveRoles: cfg.MergeConsecutiveRoles,
	}
}

// OpenAIClient posts chat completions to an OpenAI-compatible endpoint such as
// LM Studio or llama-server.
type OpenAIClient struct {
	cfg           Config
	client        *http.Client
	limiter       *semaphore
	requestLogger *RequestLogger
}

// NewOpenAIClient creates an OpenAIClient with the given endpoint config and optional debug logging.
func NewOpenAIClient(cfg Config, debugCfg config.DebugConfig) *OpenAIClient {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 250
	}

	client := &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}

	if cfg.MaxConcurrent > 0 {
		client.limiter = newSemaphore(cfg.MaxConcurrent)
	}

	if debugCfg.LogRequests || debugCfg.LogResponses {
		client.requestLogger = NewRequestLogger(
			debugCfg.LogDirectory,
			debugCfg.LogRequests,
			debugCfg.LogResponses,
			slog.Default(),
		)
	}

	return client
}

// Complete sends systemPrompt, history and text as a new user message and returns
// the assistant reply together with history extended by the user and assistant
// turns. The input slice is never modified.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt string, history []core.Turn, text string) (string, []core.Turn, error) {
	requestID := core.NewRequestID()

	messages := make([]core.Turn, 0, len(history)+2)
	messages = append(messages, core.Turn{Role: core.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, core.UserTurn(text))

	if c.cfg.MergeConsecutiveRoles {
		messages = mergeConsecutiveRoles(messages)
	}

	response, err := c.generate(ctx, requestID, messages)
	if err != nil {
		return "", nil, err
	}

	updated := make([]core.Turn, 0, len(history)+2)
	updated = append(updated, history...)
	updated = append(updated, core.UserTurn(text), core.AssistantTurn(response.Content))

	return response.Content, updated, nil
}

func (c *OpenAIClient) generate(ctx context.Context, requestID core.RequestID, messages []core.Turn) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.acquire(ctx); err != nil {
			return Response{}, fmt.Errorf("%w: waiting for a free slot (request_id=%s): %w", ErrUnavailable, requestID, err)
		}
		defer c.limiter.release()
	}

	msgJSON := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		msgJSON = append(msgJSON, map[string]any{"role": string(message.Role), "content": message.Content})
	}

	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    msgJSON,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
		"stream":      false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal request: %w", ErrUnavailable, err)
	}

	if c.requestLogger != nil {
		c.requestLogger.LogRequest(requestID, messages, payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	startTime := time.Now()
	httpResp, err := c.client.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		if c.requestLogger != nil {
			c.requestLogger.LogError(requestID, 0, []byte(err.Error()), messages)
		}
		return Response{}, fmt.Errorf("%w: request failed (request_id=%s): %w", ErrUnavailable, requestID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))

		if c.requestLogger != nil {
			c.requestLogger.LogError(requestID, httpResp.StatusCode, bodyBytes, messages)
		}

		if len(bodyBytes) > 0 {
			return Response{}, fmt.Errorf("%w: provider error (request_id=%s): %s: %s",
				ErrUnavailable, requestID, httpResp.Status, strings.TrimSpace(string(bodyBytes)))
		}

		return Response{}, fmt.Errorf("%w: provider error (request_id=%s): %s", ErrUnavailable, requestID, httpResp.Status)
	}

	var responsePayload map[string]any
	if err := json.NewDecoder(httpResp.Body).Decode(&responsePayload); err != nil {
		return Response{}, fmt.Errorf("%w: decode response (request_id=%s): %w", ErrUnavailable, requestID, err)
	}

	response, err := parseResponsePayload(responsePayload)
	if err != nil {
		return Response{}, fmt.Errorf("%w: response parse failed (request_id=%s): %w", ErrUnavailable, requestID, err)
	}

	if strings.TrimSpace(response.Content) == "" {
		return Response{}, fmt.Errorf("%w: empty reply (request_id=%s)", ErrUnavailable, requestID)
	}

	if c.requestLogger != nil {
		c.requestLogger.LogResponse(requestID, response, duration)
	}

	slog.Debug("completion finished", "request_id", requestID, "duration", duration, "messages", len(messages))

	return response, nil
}

type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	return &semaphore{ch: make(chan struct{}, limit)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	<-s.ch
}
