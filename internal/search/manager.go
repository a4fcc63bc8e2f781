package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

// Manager manages search providers. It satisfies Provider itself, routing to
// the default provider and falling back to any available one.
type Manager struct {
	providers       map[string]Provider
	order           []string
	defaultProvider string
	log             *zap.Logger
}

// NewManager creates a new search manager. Providers of unknown type are
// reported as configuration errors.
func NewManager(cfg *config.SearchConfig, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.Default,
		log:             logger.OrNamed(log, "search"),
	}

	for name, providerCfg := range cfg.Providers {
		if providerCfg.APIKey == "" {
			m.log.Debug("skipping provider with no API key", zap.String("provider", name))
			continue
		}
		provider, err := New(name, providerCfg)
		if err != nil {
			return nil, err
		}
		m.Add(provider)
		m.log.Info("provider initialized",
			zap.String("name", name),
			zap.String("type", providerCfg.Type),
		)
	}

	m.log.Info("search manager initialized",
		zap.String("default_provider", cfg.Default),
		zap.Int("provider_count", len(m.providers)),
	)
	return m, nil
}

// Add registers a provider under its name.
func (m *Manager) Add(p Provider) {
	if _, exists := m.providers[p.Name()]; !exists {
		m.order = append(m.order, p.Name())
		sort.Strings(m.order)
	}
	m.providers[p.Name()] = p
}

func (m *Manager) Name() string {
	return "manager"
}

// IsAvailable returns true if there's at least one available provider
func (m *Manager) IsAvailable() bool {
	_, ok := m.pick()
	return ok
}

// Search performs a search using the default provider
func (m *Manager) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	p, ok := m.pick()
	if !ok {
		return nil, domain.New(domain.ErrSearchConfiguration, "no available search provider", nil)
	}
	return p.Search(ctx, query)
}

// SearchWithProvider performs a search using a specific provider
func (m *Manager) SearchWithProvider(ctx context.Context, providerName, query string) ([]models.SearchResult, error) {
	p, ok := m.providers[providerName]
	if !ok {
		return nil, domain.New(domain.ErrSearchConfiguration, "provider not found: "+providerName, nil)
	}
	return p.Search(ctx, query)
}

func (m *Manager) pick() (Provider, bool) {
	if p, ok := m.providers[m.defaultProvider]; ok && p.IsAvailable() {
		return p, true
	}
	for _, name := range m.order {
		if p := m.providers[name]; p.IsAvailable() {
			m.log.Debug("using fallback provider", zap.String("provider", name))
			return p, true
		}
	}
	return nil, false
}
