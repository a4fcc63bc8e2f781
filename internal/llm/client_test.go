package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

func TestHTTPClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace-ID"))

		var req models.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "web_search", req.Tools[0].Function.Name)

		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Choices: []models.ChatChoice{{Message: models.ChatMessage{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: models.FunctionCall{Name: "web_search", Arguments: `{"query":"x"}`},
				}},
			}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(config.LLMConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "test-model", Timeout: 5}, nil)
	ctx := logger.ContextWithTraceID(context.Background(), "trace-1")

	msg, err := c.Complete(ctx, []models.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
	}, []models.ChatTool{{Type: "function", Function: models.FunctionDef{Name: "web_search"}}})
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
}

func TestHTTPClientErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"upstream error body", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`, "rate limited"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"garbage", http.StatusOK, `not json`, "parse llm response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(config.LLMConfig{BaseURL: srv.URL, Timeout: 5}, nil)
			_, err := c.Complete(context.Background(), nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUpstream)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}
