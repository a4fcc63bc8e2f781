// Package workflow ties generation, content shaping, review and publishing
// into the per-platform operations exposed to callers.
package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/content"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/notify"
	"github.com/young1lin/research2post/internal/oauth"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/review"
	"github.com/young1lin/research2post/pkg/logger"
)

const maxPayloadInMessage = 500

// Generator produces grounded research text for a query.
type Generator interface {
	Run(ctx context.Context, query string) (string, error)
}

// Authorizer runs the OAuth flow that produces the credential publishing uses.
type Authorizer interface {
	AuthorizationURL(ctx context.Context, userID string) (string, error)
	Complete(ctx context.Context, cb oauth.Callback) (models.AuthorizationResult, error)
}

// Publisher posts final content for a user.
type Publisher interface {
	Publish(ctx context.Context, userID, content string) (models.PublishedPost, error)
}

// Request is one research-and-publish call.
type Request struct {
	UserID        string `json:"user_id"`
	Query         string `json:"query"`
	MaxLength     int    `json:"max_length,omitempty"`
	HashtagPolicy string `json:"hashtag_policy,omitempty"`
	EnableReview  bool   `json:"enable_review,omitempty"`
}

// Service exposes the inbound operations for one platform.
type Service struct {
	platform  *platform.Platform
	generator Generator
	pipeline  *content.Pipeline
	auth      Authorizer
	publisher Publisher
	gate      *review.Gate
	notifier  notify.Notifier
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithReviewer enables requests that ask for review.
func WithReviewer(r review.Reviewer, maxRounds int) Option {
	return func(s *Service) {
		if r != nil {
			s.gate = review.NewGate(r, maxRounds, s.log)
		}
	}
}

// WithNotifier announces every outcome on n.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewService creates a new service for p. Review is off until WithReviewer.
func NewService(p *platform.Platform, gen Generator, pipeline *content.Pipeline, auth Authorizer, pub Publisher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		platform:  p,
		generator: gen,
		pipeline:  pipeline,
		auth:      auth,
		publisher: pub,
		notifier:  notify.Nop{},
		log:       logger.OrNamed(log, "workflow").With(zap.String("platform", p.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Platform() *platform.Platform {
	return s.platform
}

// StartAuthorization returns the consent URL for userID.
func (s *Service) StartAuthorization(ctx context.Context, userID string) (string, error) {
	return s.auth.AuthorizationURL(ctx, userID)
}

// CompleteAuthorization stores the credential from a platform callback.
func (s *Service) CompleteAuthorization(ctx context.Context, cb oauth.Callback) (models.AuthorizationResult, error) {
	return s.auth.Complete(ctx, cb)
}

// ResearchAndPublish never returns an error: every failure is reported as a
// result with status "error" and a message.
func (s *Service) ResearchAndPublish(ctx context.Context, req Request) models.PublishResult {
	start := time.Now()
	log := logger.FromContext(ctx, s.log).With(zap.String("user_id", req.UserID))

	res := s.run(ctx, log, req)
	res.Platform = s.platform.Name

	log.Info("research and publish finished",
		zap.String("status", res.Status),
		zap.String("post_id", res.PostID),
		zap.Duration("duration", time.Since(start)),
	)

	event := notify.Event{
		Platform: s.platform.Name,
		UserID:   req.UserID,
		Status:   res.Status,
		Message:  res.Message,
		PostID:   res.PostID,
		Length:   len([]rune(res.Content)),
		TraceID:  logger.TraceIDFromContext(ctx),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Warn("outcome event not delivered", zap.Error(err))
	}
	return res
}

func (s *Service) run(ctx context.Context, log *zap.Logger, req Request) models.PublishResult {
	fail := func(stage string, err error) models.PublishResult {
		log.Error(s.platform.DisplayName+" posting failed",
			zap.String("stage", stage),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return models.PublishResult{Status: models.StatusError, Message: failureMessage(err)}
	}

	if strings.TrimSpace(req.UserID) == "" {
		return fail("validate", domain.Validation("user_id is required"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return fail("validate", domain.Validation("query is required"))
	}
	if req.EnableReview && s.gate == nil {
		return fail("validate", domain.Configuration("review requested but no reviewer is available"))
	}

	raw, err := s.generator.Run(ctx, req.Query)
	if err != nil {
		return fail("generate", err)
	}

	out, err := s.pipeline.Process(ctx, content.Request{
		Raw:           raw,
		MaxLength:     req.MaxLength,
		HashtagPolicy: req.HashtagPolicy,
	})
	if err != nil {
		return fail("format", err)
	}
	if err := out.Err(s.platform); err != nil {
		return fail("format", err)
	}
	final := out.Content

	if req.EnableReview {
		r, err := s.gate.Run(ctx, final, out.Budget)
		if err != nil {
			return fail("review", err)
		}
		if r.Canceled() {
			log.Info("post canceled during review", zap.Int("rounds", r.Rounds))
			return models.PublishResult{Status: models.StatusCanceled, Message: "Post canceled"}
		}
		final = r.Content
	}

	post, err := s.publisher.Publish(ctx, req.UserID, final)
	if err != nil {
		return fail("publish", err)
	}
	return models.PublishResult{Status: models.StatusSuccess, PostID: post.ID, Content: final}
}

// failureMessage appends a bounded copy of any platform payload so callers
// see what the platform objected to.
func failureMessage(err error) string {
	msg := err.Error()
	typed, ok := domain.AsError(err)
	if !ok || typed.Payload == "" {
		return msg
	}
	payload := strings.TrimSpace(typed.Payload)
	if r := []rune(payload); len(r) > maxPayloadInMessage {
		payload = string(r[:maxPayloadInMessage]) + "..."
	}
	return msg + ": " + payload
}
