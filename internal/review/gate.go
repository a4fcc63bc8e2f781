// Package review lets a reviewer approve, edit or cancel a post before it is
// published.
package review

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/pkg/logger"
)

const DefaultMaxRounds = 10

type Action int

const (
	Approve Action = iota
	Edit
	Cancel
)

func (a Action) String() string {
	switch a {
	case Approve:
		return "approve"
	case Edit:
		return "edit"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Proposal is what the reviewer sees each round. Warning explains why the
// previous decision was not accepted.
type Proposal struct {
	Content string
	Length  int
	Budget  int
	Warning string
	Round   int
}

func (p Proposal) OverLimit() int {
	return p.Length - p.Budget
}

type Decision struct {
	Action          Action
	Content         string
	AcceptOverLimit bool
}

type Reviewer interface {
	Review(ctx context.Context, p Proposal) (Decision, error)
}

// Func adapts a function to Reviewer.
type Func func(ctx context.Context, p Proposal) (Decision, error)

func (f Func) Review(ctx context.Context, p Proposal) (Decision, error) {
	return f(ctx, p)
}

// AutoApprove approves every proposal. Over-budget content is never
// accepted, so such a review ends with domain.ErrReviewAborted.
type AutoApprove struct{}

func (AutoApprove) Review(context.Context, Proposal) (Decision, error) {
	return Decision{Action: Approve}, nil
}

type Status int

const (
	StatusApproved Status = iota
	StatusCanceled
)

type Result struct {
	Status  Status
	Content string
	Rounds  int
}

func (r Result) Canceled() bool {
	return r.Status == StatusCanceled
}

type Gate struct {
	reviewer  Reviewer
	maxRounds int
	log       *zap.Logger
}

func NewGate(r Reviewer, maxRounds int, log *zap.Logger) *Gate {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Gate{reviewer: r, maxRounds: maxRounds, log: logger.OrNamed(log, "review")}
}

// Run offers content to the reviewer until it is approved within budget or
// the review is canceled.
func (g *Gate) Run(ctx context.Context, content string, budget int) (Result, error) {
	log := logger.FromContext(ctx, g.log)
	current := content
	warning := ""

	for round := 1; round <= g.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n := utf8.RuneCountInString(current)
		d, err := g.reviewer.Review(ctx, Proposal{
			Content: current,
			Length:  n,
			Budget:  budget,
			Warning: warning,
			Round:   round,
		})
		if err != nil {
			return Result{}, err
		}
		log.Debug("review decision", zap.Int("round", round), zap.Stringer("action", d.Action))
		warning = ""

		switch d.Action {
		case Approve:
			if n > budget && !d.AcceptOverLimit {
				warning = fmt.Sprintf("Warning: %d over limit!", n-budget)
				continue
			}
			return Result{Status: StatusApproved, Content: current, Rounds: round}, nil

		case Edit:
			edited := strings.TrimSpace(d.Content)
			if edited == "" {
				warning = "Empty edit, keeping original content"
				continue
			}
			if m := utf8.RuneCountInString(edited); m > budget {
				warning = fmt.Sprintf("Edit exceeds limit by %d, keeping previous content", m-budget)
				continue
			}
			current = edited

		case Cancel:
			log.Info("review canceled", zap.Int("round", round))
			return Result{Status: StatusCanceled, Content: current, Rounds: round}, nil

		default:
			warning = "Invalid choice"
		}
	}

	return Result{}, domain.New(domain.ErrReviewAborted,
		fmt.Sprintf("no approval after %d review rounds", g.maxRounds), nil)
}
