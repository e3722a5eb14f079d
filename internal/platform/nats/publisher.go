// Package nats publishes change events to NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"entitystore/internal/entity/changeevent"
	"entitystore/internal/platform/config"
)

const flushTimeout = 5 * time.Second

// Publisher sends each event to "<prefix>.<tenant>". A single connection
// delivers messages in publish order, which keeps per-key order.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewPublisher(cfg config.NATSConfig, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("entitystore"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Warn("nats connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject events for tenantID are published on.
func Subject(prefix, tenantID string) string {
	// NATS subjects treat dots and wildcards as tokens.
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(tenantID)
	return prefix + "." + token
}

// Publish sends the payload and flushes, so a nil error means the server
// received it.
func (p *Publisher) Publish(ctx context.Context, partitionKey string, payload []byte, headers map[string]string) error {
	msg := nats.NewMsg(Subject(p.prefix, headers[changeevent.HeaderTenantID]))
	msg.Data = payload
	msg.Header.Set("partition-key", partitionKey)
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrMaxPayload) {
			return fmt.Errorf("publish to nats: %w: %w", changeevent.ErrUndeliverable, err)
		}
		return fmt.Errorf("publish to nats: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

func (p *Publisher) Health(context.Context) error {
	if !p.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}
