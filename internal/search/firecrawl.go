package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

// FirecrawlProvider implements the Provider interface using Firecrawl API
type FirecrawlProvider struct {
	name       string
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

// NewFirecrawlProvider creates a new Firecrawl provider
func NewFirecrawlProvider(name string, cfg config.SearchProviderConfig) *FirecrawlProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.firecrawl.dev/v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}

	return &FirecrawlProvider{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		client:     httpclient.New("search.firecrawl", config.Seconds(cfg.Timeout)),
	}
}

// Name returns the provider name
func (p *FirecrawlProvider) Name() string {
	return p.name
}

// IsAvailable returns true if the provider is properly configured
func (p *FirecrawlProvider) IsAvailable() bool {
	return p.apiKey != ""
}

type firecrawlSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type firecrawlSearchResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Web []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"web,omitempty"`
	} `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Search performs a search query using Firecrawl
func (p *FirecrawlProvider) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	log := logger.FromContext(ctx, logger.Named("search")).With(zap.String("provider", p.name))

	if !p.IsAvailable() {
		return nil, domain.New(domain.ErrSearchConfiguration, p.name+": API key is required", nil)
	}

	bodyBytes, err := json.Marshal(firecrawlSearchRequest{Query: query, Limit: p.maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "search request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable, "read search response", err)
	}

	log.Debug("firecrawl response", zap.Int("status", resp.StatusCode))

	var searchResp firecrawlSearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, domain.New(domain.ErrSearchUnavailable,
			fmt.Sprintf("invalid response format (status %d)", resp.StatusCode), err)
	}
	if !searchResp.Success {
		errMsg := searchResp.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, domain.New(domain.ErrSearchUnavailable, "firecrawl search failed: "+errMsg, nil)
	}

	results := make([]models.SearchResult, 0, p.maxResults)
	if searchResp.Data != nil {
		for _, item := range searchResp.Data.Web {
			results = append(results, models.SearchResult{
				Title:   item.Title,
				Link:    item.URL,
				Snippet: item.Description,
				Source:  "firecrawl",
			})
		}
	}
	results = limit(results, p.maxResults)

	log.Info("firecrawl search completed",
		zap.String("query", query),
		zap.Int("result_count", len(results)),
	)
	return results, nil
}
