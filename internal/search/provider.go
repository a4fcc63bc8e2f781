package search

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
)

// Provider defines the interface for search backends
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// Search returns at most the configured number of results. Zero results
	// is not an error.
	Search(ctx context.Context, query string) ([]models.SearchResult, error)

	// IsAvailable returns true if the provider is properly configured
	IsAvailable() bool
}

// Factory builds a provider from its configuration.
type Factory func(name string, cfg config.SearchProviderConfig) Provider

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		"google": func(name string, cfg config.SearchProviderConfig) Provider {
			return NewGoogleProvider(name, cfg)
		},
		"firecrawl": func(name string, cfg config.SearchProviderConfig) Provider {
			return NewFirecrawlProvider(name, cfg)
		},
	}
)

// Register adds a backend type. Registering an existing type replaces it.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// New builds the provider for cfg.Type.
func New(name string, cfg config.SearchProviderConfig) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, domain.New(domain.ErrSearchConfiguration,
			fmt.Sprintf("unknown search provider type %q for %q (known: %v)", cfg.Type, name, knownTypes()), nil)
	}
	return f(name, cfg), nil
}

func knownTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func limit(results []models.SearchResult, n int) []models.SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
