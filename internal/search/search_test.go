package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
)

func googleItems(n int) map[string]any {
	items := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]string{
			"title":   fmt.Sprintf("Result %d", i),
			"link":    fmt.Sprintf("https://example.com/%d", i),
			"snippet": "snippet",
		})
	}
	return map[string]any{"items": items}
}

func newGoogle(t *testing.T, handler http.HandlerFunc, mutate func(*config.SearchProviderConfig)) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.SearchProviderConfig{
		Type:           "google",
		BaseURL:        srv.URL,
		APIKey:         "key",
		SearchEngineID: "cx",
		MaxResults:     3,
		SafeSearch:     true,
		Timeout:        2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewGoogleProvider("google", cfg)
}

func TestGoogleProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("sends query parameters and bounds results", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "event sourcing & CQRS", q.Get("q"))
			assert.Equal(t, "key", q.Get("key"))
			assert.Equal(t, "cx", q.Get("cx"))
			assert.Equal(t, "3", q.Get("num"))
			assert.Equal(t, "active", q.Get("safe"))
			_ = json.NewEncoder(w).Encode(googleItems(8))
		}, nil)

		results, err := p.Search(ctx, "event sourcing & CQRS")
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "Result 0", results[0].Title)
		assert.Equal(t, "https://example.com/0", results[0].Link)
		assert.Equal(t, "google", results[0].Source)
	})

	t.Run("safe search off", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "off", r.URL.Query().Get("safe"))
			_ = json.NewEncoder(w).Encode(googleItems(1))
		}, func(c *config.SearchProviderConfig) { c.SafeSearch = false })

		_, err := p.Search(ctx, "q")
		require.NoError(t, err)
	})

	t.Run("zero results is an empty slice", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"searchInformation":{"totalResults":"0"}}`))
		}, nil)

		results, err := p.Search(ctx, "nothing")
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("missing engine id is a configuration error", func(t *testing.T) {
		called := false
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) { called = true },
			func(c *config.SearchProviderConfig) { c.SearchEngineID = "" })

		_, err := p.Search(ctx, "q")
		assert.ErrorIs(t, err, domain.ErrSearchConfiguration)
		assert.False(t, called)
		assert.False(t, p.IsAvailable())
	})

	t.Run("backend error object", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded"}}`))
		}, nil)

		_, err := p.Search(ctx, "q")
		assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("malformed response", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}, nil)

		_, err := p.Search(ctx, "q")
		assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		p := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}, nil)
		p.client.Timeout = 20 * time.Millisecond

		_, err := p.Search(ctx, "q")
		assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
	})
}

func TestFirecrawlProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		var body firecrawlSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 2, body.Limit)

		_, _ = w.Write([]byte(`{"success":true,"data":{"web":[
			{"url":"https://a","title":"A","description":"a"},
			{"url":"https://b","title":"B","description":"b"},
			{"url":"https://c","title":"C","description":"c"}]}}`))
	}))
	defer srv.Close()

	p := NewFirecrawlProvider("firecrawl", config.SearchProviderConfig{BaseURL: srv.URL, APIKey: "fc-key", MaxResults: 2})
	results, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.SearchResult{Title: "A", Link: "https://a", Snippet: "a", Source: "firecrawl"}, results[0])
}

func TestFirecrawlProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"insufficient credits"}`))
	}))
	defer srv.Close()

	p := NewFirecrawlProvider("firecrawl", config.SearchProviderConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := p.Search(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
	assert.Contains(t, err.Error(), "insufficient credits")
}

type stubProvider struct {
	name      string
	available bool
	calls     int
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) IsAvailable() bool { return s.available }
func (s *stubProvider) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	s.calls++
	return []models.SearchResult{{Title: s.name}}, nil
}

func TestManager(t *testing.T) {
	t.Run("unknown type is rejected", func(t *testing.T) {
		_, err := NewManager(&config.SearchConfig{Providers: map[string]config.SearchProviderConfig{
			"bing": {Type: "bing", APIKey: "k"},
		}}, nil)
		assert.ErrorIs(t, err, domain.ErrSearchConfiguration)
	})

	t.Run("providers without keys are skipped", func(t *testing.T) {
		m, err := NewManager(&config.SearchConfig{Default: "google", Providers: map[string]config.SearchProviderConfig{
			"google": {Type: "google"},
		}}, nil)
		require.NoError(t, err)
		assert.False(t, m.IsAvailable())

		_, err = m.Search(context.Background(), "q")
		assert.ErrorIs(t, err, domain.ErrSearchConfiguration)
	})

	t.Run("default first then deterministic fallback", func(t *testing.T) {
		m, err := NewManager(&config.SearchConfig{Default: "primary"}, nil)
		require.NoError(t, err)
		primary := &stubProvider{name: "primary", available: false}
		b := &stubProvider{name: "b", available: true}
		a := &stubProvider{name: "a", available: true}
		m.Add(primary)
		m.Add(b)
		m.Add(a)

		results, err := m.Search(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "a", results[0].Title)

		primary.available = true
		results, err = m.Search(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "primary", results[0].Title)
	})

	t.Run("registered backends plug in", func(t *testing.T) {
		Register("stub", func(name string, cfg config.SearchProviderConfig) Provider {
			return &stubProvider{name: name, available: true}
		})
		m, err := NewManager(&config.SearchConfig{Default: "mine", Providers: map[string]config.SearchProviderConfig{
			"mine": {Type: "stub", APIKey: "k"},
		}}, nil)
		require.NoError(t, err)

		results, err := m.SearchWithProvider(context.Background(), "mine", "q")
		require.NoError(t, err)
		assert.Equal(t, "mine", results[0].Title)
	})
}
