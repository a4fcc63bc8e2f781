package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/agent"
	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/content"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/llm"
	"github.com/young1lin/research2post/internal/notify"
	"github.com/young1lin/research2post/internal/oauth"
	"github.com/young1lin/research2post/internal/pending"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/publish"
	"github.com/young1lin/research2post/internal/review"
	"github.com/young1lin/research2post/internal/search"
	"github.com/young1lin/research2post/internal/storage"
	"github.com/young1lin/research2post/internal/workflow"
	"github.com/young1lin/research2post/pkg/logger"
)

// app owns everything with a lifetime: the credential store, the verifier
// store, the notifier and the research agent.
type app struct {
	registry   platform.Registry
	services   map[string]*workflow.Service
	researcher *agent.Agent
	store      storage.CredentialStore
	verifiers  *pending.MemoryStore
	notifier   notify.Notifier
}

// reviewerFunc picks the reviewer for a platform; nil disables review.
type reviewerFunc func(p *platform.Platform) review.Reviewer

func buildApp(ctx context.Context, cfg *config.Config, reviewers reviewerFunc) (*app, error) {
	log := logger.Log

	registry, err := platform.NewRegistry(cfg.Platforms)
	if err != nil {
		return nil, err
	}
	if len(registry) == 0 {
		return nil, errors.New("no platform enabled")
	}

	tables := make(map[string]storage.Table, len(registry))
	for name, p := range registry {
		tables[name] = storage.Table{Name: p.Table, IdentityColumn: p.IdentityColumn}
	}
	store, err := storage.Open(ctx, cfg.Storage, tables, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	notifier, err := notify.Connect(cfg.Notify, log.Named("notify"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	searcher, err := search.NewManager(&cfg.Search, log.Named("search"))
	if err != nil {
		_ = store.Close()
		_ = notifier.Close()
		return nil, err
	}

	a := &app{
		registry:  registry,
		services:  make(map[string]*workflow.Service, len(registry)),
		store:     store,
		verifiers: pending.NewMemoryStore(config.Seconds(cfg.OAuth.PendingTTL)),
		notifier:  notifier,
	}

	model := llm.NewHTTPClient(cfg.LLM, log.Named("llm"))
	a.researcher = agent.New(model, searcher,
		agent.WithMaxRounds(cfg.Agent.MaxRounds),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithLogger(log.Named("agent")),
	)

	for _, name := range registry.Names() {
		p := registry[name]
		auth := oauth.NewManager(p, a.verifiers, store,
			oauth.WithHTTPClient(httpclient.New("oauth."+name, config.Seconds(cfg.OAuth.HTTPTimeout))),
			oauth.WithLogger(log.Named("oauth")),
		)
		pub := publish.New(p, store,
			publish.WithHTTPClient(httpclient.New("publish."+name, config.Seconds(cfg.Publish.Timeout))),
			publish.WithRate(cfg.Publish.RatePerMinute, cfg.Publish.Burst),
			publish.WithLogger(log.Named("publish")),
		)
		opts := []workflow.Option{workflow.WithNotifier(notifier)}
		if reviewers != nil {
			opts = append(opts, workflow.WithReviewer(reviewers(p), cfg.Review.MaxRounds))
		}
		a.services[name] = workflow.NewService(p, a.researcher,
			content.NewPipeline(model, p, log.Named("content")),
			auth, pub, log.Named("workflow"), opts...)
	}

	log.Info("application wired",
		zap.Strings("platforms", registry.Names()),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("search_available", searcher.IsAvailable()),
	)
	return a, nil
}

func (a *app) service(name string) (*workflow.Service, error) {
	svc, ok := a.services[name]
	if !ok {
		return nil, fmt.Errorf("platform %q is not enabled (enabled: %v)", name, a.registry.Names())
	}
	return svc, nil
}

func (a *app) Close() error {
	_ = a.verifiers.Close()
	return errors.Join(a.notifier.Close(), a.store.Close())
}
