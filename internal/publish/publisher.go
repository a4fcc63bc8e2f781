// Package publish posts approved content to a platform on behalf of a user.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/storage"
	"github.com/young1lin/research2post/pkg/logger"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultRatePerMinute = 6
	DefaultBurst         = 2
	maxResponseBytes     = 1 << 20
)

// Publisher posts content to one platform on behalf of a stored user.
type Publisher struct {
	platform *platform.Platform
	creds    storage.CredentialStore
	client   *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) {
		if c != nil {
			p.client = c
		}
	}
}

// WithRate paces outbound posts; a non-positive perMinute disables pacing.
func WithRate(perMinute float64, burst int) Option {
	return func(p *Publisher) {
		if perMinute <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a publisher paced at the default rate.
func New(p *platform.Platform, creds storage.CredentialStore, opts ...Option) *Publisher {
	pub := &Publisher{
		platform: p,
		creds:    creds,
		client:   httpclient.New("publish."+p.Name, DefaultTimeout),
		limiter:  rate.NewLimiter(rate.Limit(float64(DefaultRatePerMinute)/60), DefaultBurst),
		log:      logger.Named("publish"),
	}
	for _, opt := range opts {
		opt(pub)
	}
	pub.log = pub.log.With(zap.String("platform", p.Name))
	return pub
}

// Publish posts content with the user's stored token. It makes exactly one
// attempt; a status outside the platform's expected set is returned as
// domain.ErrPlatformAPI carrying the response body.
func (p *Publisher) Publish(ctx context.Context, userID, content string) (models.PublishedPost, error) {
	log := logger.FromContext(ctx, p.log).With(zap.String("user_id", userID))

	cred, found, err := p.creds.Get(ctx, p.platform.Name, userID)
	if err != nil {
		return models.PublishedPost{}, fmt.Errorf("load credential: %w", err)
	}
	if !found {
		return models.PublishedPost{}, domain.NotAuthenticated("user not authenticated")
	}

	body, err := json.Marshal(p.platform.BuildBody(cred, content))
	if err != nil {
		return models.PublishedPost{}, fmt.Errorf("marshal %s post: %w", p.platform.Name, err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return models.PublishedPost{}, domain.Upstream("publish rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.platform.PublishURL, bytes.NewReader(body))
	if err != nil {
		return models.PublishedPost{}, domain.Upstream("build publish request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.platform.PublishHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.PublishedPost{}, domain.Upstream(p.platform.DisplayName+" publish request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.PublishedPost{}, domain.Upstream("read publish response", err)
	}

	if !p.platform.Expects(resp.StatusCode) {
		log.Warn("platform rejected post", zap.Int("status", resp.StatusCode))
		return models.PublishedPost{}, domain.PlatformAPI(p.platform.DisplayName, resp.StatusCode, string(respBody))
	}

	post := models.PublishedPost{}
	if len(respBody) > 0 {
		// An unparseable success body still means the post exists.
		_ = json.Unmarshal(respBody, &post.Raw)
	}
	if p.platform.PostIDField != "" && post.Raw != nil {
		post.ID = platform.Lookup(post.Raw, p.platform.PostIDField)
	}
	if post.ID == "" && p.platform.PostIDHeader != "" {
		post.ID = resp.Header.Get(p.platform.PostIDHeader)
	}

	log.Info("post published", zap.String("post_id", post.ID), zap.Int("length", len([]rune(content))))
	return post, nil
}
