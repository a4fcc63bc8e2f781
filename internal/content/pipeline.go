package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/llm"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/pkg/logger"
)

type OutcomeKind int

const (
	OutcomeReady OutcomeKind = iota
	OutcomeTooShort
	OutcomeEmpty
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReady:
		return "ready"
	case OutcomeTooShort:
		return "too_short"
	case OutcomeEmpty:
		return "empty"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of Process. Only OutcomeReady carries publishable
// content; the other kinds are expected branches, not failures.
type Outcome struct {
	Kind    OutcomeKind
	Content string
	Length  int
	Budget  int
}

// Err converts a non-ready outcome into the error reported to callers.
func (o Outcome) Err(p *platform.Platform) error {
	switch o.Kind {
	case OutcomeReady:
		return nil
	case OutcomeTooShort:
		return domain.New(domain.ErrContentTooShort, fmt.Sprintf(
			"content too short for %s (%d < %d characters)", p.DisplayName, o.Length, p.MinLength), nil)
	default:
		return domain.New(domain.ErrContentTooShort, "no content generated", nil)
	}
}

// Request is one piece of raw research to shape for the platform.
type Request struct {
	Raw           string
	MaxLength     int
	HashtagPolicy string
}

// Pipeline turns research text into a post that fits one platform.
type Pipeline struct {
	llm      llm.Client
	platform *platform.Platform
	log      *zap.Logger
}

// NewPipeline creates a pipeline for p that rewrites through client.
func NewPipeline(client llm.Client, p *platform.Platform, log *zap.Logger) *Pipeline {
	return &Pipeline{
		llm:      client,
		platform: p,
		log:      logger.OrNamed(log, "content").With(zap.String("platform", p.Name)),
	}
}

// Limits returns the truncation policy for a requested maximum length.
func (p *Pipeline) Limits(maxLength int) Limits {
	return Limits{
		Budget:      p.platform.Budget(maxLength),
		Breaks:      p.platform.Breaks,
		MinFraction: p.platform.MinFraction,
	}
}

// Process sanitizes raw research text, has the model rewrite it for the
// platform, then applies the length floor, truncation and hashtag policy.
// An unknown hashtag policy fails before the model is called.
func (p *Pipeline) Process(ctx context.Context, req Request) (Outcome, error) {
	log := logger.FromContext(ctx, p.log)

	policy, err := p.platform.Policy(req.HashtagPolicy)
	if err != nil {
		return Outcome{}, err
	}
	lim := p.Limits(req.MaxLength)

	cleaned := Sanitize(req.Raw)
	if cleaned == "" {
		return Outcome{Kind: OutcomeEmpty, Budget: lim.Budget}, nil
	}

	rewritten, err := p.Rewrite(ctx, cleaned, lim.Budget)
	if err != nil {
		return Outcome{}, err
	}
	if rewritten == "" {
		return Outcome{Kind: OutcomeEmpty, Budget: lim.Budget}, nil
	}
	if n := Length(rewritten); n < p.platform.MinLength {
		log.Info("rewritten content below minimum length", zap.Int("length", n), zap.Int("min", p.platform.MinLength))
		return Outcome{Kind: OutcomeTooShort, Content: rewritten, Length: n, Budget: lim.Budget}, nil
	}

	final := ApplyHashtags(rewritten, policy, lim)
	out := Outcome{Kind: OutcomeReady, Content: final, Length: Length(final), Budget: lim.Budget}
	log.Info("content ready",
		zap.Int("length", out.Length),
		zap.Int("budget", out.Budget),
		zap.String("hashtag_policy", policy.Name),
	)
	return out, nil
}

// Rewrite asks the model for a platform-styled version of text and sanitizes
// the answer.
func (p *Pipeline) Rewrite(ctx context.Context, text string, budget int) (string, error) {
	reply, err := p.llm.Complete(ctx, []models.ChatMessage{
		{Role: models.RoleSystem, Content: p.platform.Persona},
		{Role: models.RoleUser, Content: p.platform.Prompt(text, budget)},
	}, nil)
	if err != nil {
		return "", err
	}
	return Sanitize(reply.Content), nil
}
