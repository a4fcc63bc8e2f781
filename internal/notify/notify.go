// Package notify announces workflow outcomes on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/pkg/logger"
)

const DefaultSubjectPrefix = "research2post.posts"

// Event describes one finished research-and-publish run. Content is never
// included.
type Event struct {
	Platform string    `json:"platform"`
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	PostID   string    `json:"post_id,omitempty"`
	Length   int       `json:"length,omitempty"`
	TraceID  string    `json:"trace_id,omitempty"`
	Time     time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

type conn interface {
	PublishMsg(m *nats.Msg) error
	Close()
}

// NATS publishes each event as JSON on <prefix>.<platform>, with the trace
// context in the message headers.
type NATS struct {
	nc     conn
	prefix string
	log    *zap.Logger
}

// Connect returns a NATS notifier, or Nop when no server is configured.
func Connect(cfg config.NotifyConfig, log *zap.Logger) (Notifier, error) {
	log = logger.OrNamed(log, "notify")
	if cfg.NATSURL == "" {
		log.Debug("no nats_url configured, outcome events disabled")
		return Nop{}, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("research2post"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info("outcome events enabled", zap.String("url", nc.ConnectedUrlRedacted()))
	return newNATS(nc, cfg.SubjectPrefix, log), nil
}

func newNATS(nc conn, prefix string, log *zap.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{nc: nc, prefix: prefix, log: logger.OrNamed(log, "notify")}
}

func (n *NATS) Subject(platform string) string {
	return n.prefix + "." + platform
}

func (n *NATS) Notify(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: n.Subject(e.Platform), Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	n.log.Debug("outcome event published", zap.String("subject", msg.Subject), zap.String("status", e.Status))
	return nil
}

func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}

// headerCarrier adapts NATS headers to the OpenTelemetry propagator.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }
func (c headerCarrier) Set(key, val string)   { nats.Header(c).Set(key, val) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
