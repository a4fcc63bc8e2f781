package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/young1lin/research2post/internal/agent"
	"github.com/young1lin/research2post/internal/content"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/notify"
	"github.com/young1lin/research2post/internal/oauth"
	"github.com/young1lin/research2post/internal/pending"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/publish"
	"github.com/young1lin/research2post/internal/review"
	"github.com/young1lin/research2post/internal/storage"
)

// routedLLM answers the research loop and the rewrite call differently,
// telling them apart by the system message.
type routedLLM struct {
	mu       sync.Mutex
	research []*models.ChatMessage
	rewrite  string
	err      error
}

func (l *routedLLM) Complete(ctx context.Context, messages []models.ChatMessage, tools []models.ChatTool) (*models.ChatMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if len(tools) == 0 {
		return &models.ChatMessage{Role: models.RoleAssistant, Content: l.rewrite}, nil
	}
	if len(l.research) == 0 {
		return &models.ChatMessage{Role: models.RoleAssistant, Content: "fallback research"}, nil
	}
	reply := l.research[0]
	l.research = l.research[1:]
	return reply, nil
}

type stubSearch struct{ calls atomic.Int32 }

func (s *stubSearch) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	s.calls.Add(1)
	return []models.SearchResult{{Title: "Event Sourcing", Link: "https://martinfowler.com/eaaDev/EventSourcing.html", Snippet: "Capture all changes as events."}}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

type harness struct {
	service  *Service
	llm      *routedLLM
	search   *stubSearch
	store    storage.CredentialStore
	posts    atomic.Int32
	lastPost atomic.Value
	notifier *recordingNotifier
}

const longRewrite = "Event sourcing stores every change to application state as an immutable event. " +
	"Instead of overwriting rows, the system appends facts and derives the current state by replaying them. " +
	"This gives a full audit trail and makes temporal queries natural. 🚀\n\n" +
	"**Projections** keep reads fast, and snapshots bound replay time.\n\n#EventSourcing #CQRS #DDD"

func newHarness(t *testing.T, name string, status int, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		llm: &routedLLM{
			research: []*models.ChatMessage{
				{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Type: "function",
					Function: models.FunctionCall{Name: agent.ToolName, Arguments: `{"query":"event sourcing"}`}}}},
				{Role: models.RoleAssistant, Content: "## Event sourcing\n\nEvent sourcing persists **events** instead of state."},
			},
			rewrite: longRewrite,
		},
		search:   &stubSearch{},
		notifier: &recordingNotifier{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.posts.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.lastPost.Store(body)
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"detail":"You are not allowed to create a Tweet with duplicate content."}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"1789"},"id":"urn:li:share:1"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := platform.Defaults(name)
	require.NoError(t, err)
	p.PublishURL = srv.URL

	tables := map[string]storage.Table{p.Name: {Name: p.Table, IdentityColumn: p.IdentityColumn}}
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "creds.db"), tables, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h.store = store

	verifiers := pending.NewMemoryStore(time.Minute, pending.WithoutJanitor())
	t.Cleanup(func() { _ = verifiers.Close() })

	opts = append([]Option{WithNotifier(h.notifier)}, opts...)
	h.service = NewService(p,
		agent.New(h.llm, h.search),
		content.NewPipeline(h.llm, p, nil),
		oauth.NewManager(p, verifiers, store),
		publish.New(p, store, publish.WithRate(0, 0)),
		nil,
		opts...,
	)
	return h
}

func (h *harness) authenticate(t *testing.T, userID, identity string) {
	t.Helper()
	require.NoError(t, h.store.Upsert(context.Background(), h.service.Platform().Name,
		models.Credential{UserID: userID, AccessToken: "token-" + userID, PlatformIdentity: identity}))
}

func TestResearchAndPublishLinkedIn(t *testing.T) {
	h := newHarness(t, platform.LinkedIn, http.StatusCreated)
	h.authenticate(t, "user-1", "abc123")

	res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "user-1", Query: "Explain event sourcing"})
	require.Equal(t, models.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, "linkedin", res.Platform)
	assert.Equal(t, "urn:li:share:1", res.PostID)

	assert.LessOrEqual(t, content.Length(res.Content), 3000)
	assert.NotContains(t, res.Content, "**")
	assert.True(t, strings.HasSuffix(res.Content, "\n\n#EventSourcing #CQRS #DDD"))
	assert.EqualValues(t, 1, h.search.calls.Load())
	assert.EqualValues(t, 1, h.posts.Load())

	body := h.lastPost.Load().(map[string]any)
	assert.Equal(t, "urn:li:person:abc123", body["author"])

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, models.StatusSuccess, h.notifier.events[0].Status)
}

func TestResearchAndPublishNotAuthenticated(t *testing.T) {
	h := newHarness(t, platform.X, http.StatusCreated)

	res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "stranger", Query: "Explain event sourcing"})
	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Message, "not authenticated")
	assert.Zero(t, h.posts.Load())
	assert.Equal(t, models.StatusError, h.notifier.events[0].Status)
}

func TestResearchAndPublishPlatformError(t *testing.T) {
	h := newHarness(t, platform.X, http.StatusForbidden)
	h.authenticate(t, "user-1", "42")

	res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "user-1", Query: "q"})
	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Message, "X API error (403)")
	assert.Contains(t, res.Message, "duplicate content")
}

func TestResearchAndPublishReview(t *testing.T) {
	t.Run("canceled", func(t *testing.T) {
		cancel := review.Func(func(context.Context, review.Proposal) (review.Decision, error) {
			return review.Decision{Action: review.Cancel}, nil
		})
		h := newHarness(t, platform.LinkedIn, http.StatusCreated, WithReviewer(cancel, 0))
		h.authenticate(t, "user-1", "abc")

		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "user-1", Query: "q", EnableReview: true})
		assert.Equal(t, models.StatusCanceled, res.Status)
		assert.Equal(t, "Post canceled", res.Message)
		assert.Zero(t, h.posts.Load())
	})

	t.Run("edited content is published", func(t *testing.T) {
		edit := review.Func(func(_ context.Context, p review.Proposal) (review.Decision, error) {
			if p.Round == 1 {
				return review.Decision{Action: review.Edit, Content: "Edited by a human reviewer"}, nil
			}
			return review.Decision{Action: review.Approve}, nil
		})
		h := newHarness(t, platform.X, http.StatusCreated, WithReviewer(edit, 0))
		h.authenticate(t, "user-1", "42")

		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "user-1", Query: "q", EnableReview: true})
		require.Equal(t, models.StatusSuccess, res.Status, res.Message)
		assert.Equal(t, "Edited by a human reviewer", res.Content)
		assert.Equal(t, "Edited by a human reviewer", h.lastPost.Load().(map[string]any)["text"])
	})

	t.Run("review without reviewer", func(t *testing.T) {
		h := newHarness(t, platform.X, http.StatusCreated)
		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "user-1", Query: "q", EnableReview: true})
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.Message, "no reviewer")
	})
}

func TestResearchAndPublishFailures(t *testing.T) {
	t.Run("model failure", func(t *testing.T) {
		h := newHarness(t, platform.X, http.StatusCreated)
		h.llm.err = domain.Upstream("LLM API error (500)", nil)
		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "u", Query: "q"})
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.Message, "LLM API error (500)")
		assert.False(t, agent.IsErrorText(res.Content))
	})

	t.Run("too short", func(t *testing.T) {
		h := newHarness(t, platform.LinkedIn, http.StatusCreated)
		h.authenticate(t, "u", "abc")
		h.llm.rewrite = "Too short."
		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "u", Query: "q"})
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.Message, "too short")
		assert.Zero(t, h.posts.Load())
	})

	t.Run("unknown hashtag policy", func(t *testing.T) {
		h := newHarness(t, platform.X, http.StatusCreated)
		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "u", Query: "q", HashtagPolicy: "industry"})
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.Message, "unknown hashtag policy")
	})

	t.Run("missing query", func(t *testing.T) {
		h := newHarness(t, platform.X, http.StatusCreated)
		res := h.service.ResearchAndPublish(context.Background(), Request{UserID: "u"})
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.Message, "query is required")
	})
}

func TestAuthorizationDelegates(t *testing.T) {
	h := newHarness(t, platform.X, http.StatusCreated)
	u, err := h.service.StartAuthorization(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Contains(t, u, "code_challenge=")

	_, err = h.service.CompleteAuthorization(context.Background(), oauth.Callback{Error: "access_denied"})
	assert.ErrorIs(t, err, domain.ErrAuthorizationDenied)
}
