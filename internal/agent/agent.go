// Package agent runs the search-grounded generation loop: the model answers,
// or asks for web searches whose results are fed back until it answers.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/llm"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

const (
	DefaultMaxRounds = 6
	ToolName         = "web_search"
	errorPrefix      = "Error processing request: "
)

const DefaultSystemPrompt = `You are a helpful assistant with access to a search tool.
IMPORTANT: Do NOT say you don't have information or need to search first.
Instead, IMMEDIATELY use the search tool whenever you need to find information about:
- People
- Current events
- Facts you're not completely certain about
- Any topic that might need up-to-date information

Just use the tool directly without announcing that you're going to search.
After getting search results, provide a clear and concise summary of the information.`

// Searcher is the part of the search client the loop needs.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// Agent runs the search-grounded generation loop against one model.
type Agent struct {
	llm          llm.Client
	searcher     Searcher
	systemPrompt string
	maxRounds    int
	log          *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxRounds bounds the number of model turns. Non-positive values keep the default.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(prompt) != "" {
			a.systemPrompt = prompt
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates an agent with the default system prompt and round limit.
func New(client llm.Client, searcher Searcher, opts ...Option) *Agent {
	a := &Agent{
		llm:          client,
		searcher:     searcher,
		systemPrompt: DefaultSystemPrompt,
		maxRounds:    DefaultMaxRounds,
		log:          logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type state int

const (
	stateAssistant state = iota
	stateTool
	stateDone
)

// SearchTool is the function schema offered to the model.
func SearchTool() models.ChatTool {
	return models.ChatTool{
		Type: "function",
		Function: models.FunctionDef{
			Name:        ToolName,
			Description: "Search the web for recent results.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Run drives the loop to a final answer. Model failures are returned as is,
// search failures never are. A model still asking for tools after the last
// allowed round yields domain.ErrGenerationTimeout.
func (a *Agent) Run(ctx context.Context, query string) (string, error) {
	log := logger.FromContext(ctx, a.log)

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: a.systemPrompt},
		{Role: models.RoleUser, Content: query},
	}
	tools := []models.ChatTool{SearchTool()}

	var (
		st      = stateAssistant
		rounds  int
		pending []models.ToolCall
		final   string
	)

	for st != stateDone {
		switch st {
		case stateAssistant:
			rounds++
			log.Debug("assistant turn", zap.Int("round", rounds), zap.Int("message_count", len(messages)))

			reply, err := a.llm.Complete(ctx, messages, tools)
			if err != nil {
				return "", err
			}
			calls := withCallIDs(reply.ToolCalls)
			messages = append(messages, models.ChatMessage{
				Role:      models.RoleAssistant,
				Content:   reply.Content,
				ToolCalls: calls,
			})

			if len(calls) == 0 {
				final = reply.Content
				st = stateDone
				continue
			}
			if rounds >= a.maxRounds {
				return "", domain.New(domain.ErrGenerationTimeout,
					fmt.Sprintf("model still requesting tools after %d rounds", rounds), nil)
			}
			pending = calls
			st = stateTool

		case stateTool:
			log.Info("executing tool calls", zap.Int("count", len(pending)))
			messages = append(messages, a.runTools(ctx, pending)...)
			pending = nil
			st = stateAssistant
		}
	}

	log.Info("generation finished", zap.Int("rounds", rounds))
	return strings.TrimSpace(final), nil
}

// Invoke is the never-fails entry point for callers that want plain text:
// errors come back as text starting with "Error processing request: ".
func (a *Agent) Invoke(ctx context.Context, query string) string {
	out, err := a.Run(ctx, query)
	if err != nil {
		return errorPrefix + err.Error()
	}
	return out
}

// IsErrorText reports whether s is the sentinel produced by Invoke.
func IsErrorText(s string) bool {
	return strings.HasPrefix(s, errorPrefix)
}

// runTools executes the calls of one turn concurrently; results keep the
// order of the calls.
func (a *Agent) runTools(ctx context.Context, calls []models.ToolCall) []models.ChatMessage {
	return iter.Map(calls, func(tc *models.ToolCall) models.ChatMessage {
		return models.ChatMessage{
			Role:       models.RoleTool,
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Content:    a.executeTool(ctx, *tc),
		}
	})
}

func (a *Agent) executeTool(ctx context.Context, tc models.ToolCall) string {
	log := logger.FromContext(ctx, a.log).With(zap.String("call_id", tc.ID))

	if tc.Function.Name != ToolName {
		log.Warn("model requested unknown tool", zap.String("tool", tc.Function.Name))
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, tc.Function.Name)
	}

	query := parseQuery(tc.Function.Arguments)
	results, err := a.searcher.Search(ctx, query)
	if err != nil {
		// Search failures must not stop the loop; the model sees no results.
		log.Warn("web_search failed", zap.String("query", query), zap.Error(err))
		results = nil
	}
	if results == nil {
		results = []models.SearchResult{}
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "[]"
	}
	log.Debug("web_search completed", zap.String("query", query), zap.Int("result_count", len(results)))
	return string(out)
}

// parseQuery accepts {"query": ...}, a bare JSON string, or raw text.
func parseQuery(args string) string {
	var parsed models.WebSearchFunctionArgs
	if err := json.Unmarshal([]byte(args), &parsed); err == nil && parsed.Query != "" {
		return parsed.Query
	}
	var bare string
	if err := json.Unmarshal([]byte(args), &bare); err == nil {
		return bare
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(args), &generic); err == nil {
		for _, v := range generic {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(args)
}

func withCallIDs(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()[:12]
		}
		if out[i].Type == "" {
			out[i].Type = "function"
		}
	}
	return out
}
