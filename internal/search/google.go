package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

const (
	googleDefaultURL = "https://www.googleapis.com/customsearch/v1"
	// Custom Search returns at most 10 items per request.
	googleMaxNum = 10
)

// GoogleProvider queries the Google Custom Search JSON API.
type GoogleProvider struct {
	name       string
	apiKey     string
	engineID   string
	baseURL    string
	maxResults int
	safeSearch bool
	client     *http.Client
}

func NewGoogleProvider(name string, cfg config.SearchProviderConfig) *GoogleProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = googleDefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxResults > googleMaxNum {
		cfg.MaxResults = googleMaxNum
	}

	return &GoogleProvider{
		name:       name,
		apiKey:     cfg.APIKey,
		engineID:   cfg.SearchEngineID,
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		safeSearch: cfg.SafeSearch,
		client:     httpclient.New("search.google", config.Seconds(cfg.Timeout)),
	}
}

func (p *GoogleProvider) Name() string {
	return p.name
}

func (p *GoogleProvider) IsAvailable() bool {
	return p.apiKey != "" && p.engineID != ""
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GoogleProvider) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	log := logger.FromContext(ctx, logger.Named("search")).With(zap.String("provider", p.name))

	if p.apiKey == "" {
		return nil, domain.New(domain.ErrSearchConfiguration, p.name+": API key is required", nil)
	}
	if p.engineID == "" {
		return nil, domain.New(domain.ErrSearchConfiguration, p.name+": search engine ID is required for Google Custom Search", nil)
	}

	safe := "off"
	if p.safeSearch {
		safe = "active"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("key", p.apiKey)
	params.Set("cx", p.engineID)
	params.Set("num", strconv.Itoa(p.maxResults))
	params.Set("safe", safe)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "build search request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "search request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "read search response", err)
	}

	var parsed googleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable,
			fmt.Sprintf("invalid response format (status %d)", resp.StatusCode), err)
	}
	if parsed.Error != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "Google API error: "+parsed.Error.Message, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.New(domain.ErrSearchUnavailable, fmt.Sprintf("search returned status %d", resp.StatusCode), nil)
	}

	results := make([]models.SearchResult, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, models.SearchResult{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
			Source:  "google",
		})
	}
	results = limit(results, p.maxResults)

	log.Info("google search completed",
		zap.String("query", query),
		zap.Int("result_count", len(results)),
	)
	return results, nil
}
