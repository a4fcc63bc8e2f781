// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

// Client is the narrow contract the generation loop and the content
// pipeline use to reach a language model.
type Client interface {
	Complete(ctx context.Context, messages []models.ChatMessage, tools []models.ChatTool) (*models.ChatMessage, error)
}

// HTTPClient is a Client over HTTP.
type HTTPClient struct {
	url         string
	apiKey      string
	model       string
	maxTokens   int
	temperature *float64
	client      *http.Client
	log         *zap.Logger
}

func NewHTTPClient(cfg config.LLMConfig, log *zap.Logger) *HTTPClient {
	suffix := cfg.PathSuffix
	if suffix == "" {
		suffix = "/chat/completions"
	}
	return &HTTPClient{
		url:         strings.TrimRight(cfg.BaseURL, "/") + suffix,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      httpclient.New("llm", config.Seconds(cfg.Timeout)),
		log:         logger.OrNamed(log, "llm"),
	}
}

// Complete sends one non-streaming chat completion and returns the first
// choice's message.
func (c *HTTPClient) Complete(ctx context.Context, messages []models.ChatMessage, tools []models.ChatTool) (*models.ChatMessage, error) {
	log := logger.FromContext(ctx, c.log)

	reqBody, err := json.Marshal(models.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, domain.Upstream("build llm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.Upstream("llm request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Upstream("read llm response", err)
	}

	log.Debug("llm response",
		zap.Int("status", resp.StatusCode),
		zap.Int("message_count", len(messages)),
	)

	if resp.StatusCode >= 400 {
		return nil, domain.Upstream(fmt.Sprintf("llm error: status %d: %s", resp.StatusCode, upstreamMessage(body)), nil)
	}

	var chatResp models.ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, domain.Upstream("parse llm response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, domain.Upstream("llm returned no choices", nil)
	}

	log.Debug("llm usage",
		zap.Int("prompt_tokens", chatResp.Usage.PromptTokens),
		zap.Int("completion_tokens", chatResp.Usage.CompletionTokens),
	)

	msg := chatResp.Choices[0].Message
	return &msg, nil
}

// upstreamMessage pulls a readable message out of an error body.
func upstreamMessage(body []byte) string {
	var errResp struct {
		Error   models.ErrorDetail `json:"error"`
		Message string             `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error.Message != "" {
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return string(body)
}
