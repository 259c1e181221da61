package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

const (
	headerContentType = "Content-Type"
	headerRequestID   = "X-Request-ID"
)

// Publisher sends ledger events to subscribers
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close()
}

// Bus publishes JSON events on NATS under a subject prefix
type Bus struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials NATS with unlimited reconnects
func Connect(cfg config.NATSConfig, clientName string) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return &Bus{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// Publish marshals payload and publishes it on prefix.subject
func (b *Bus) Publish(ctx context.Context, subject string, payload interface{}) error {
	msg, err := newMessage(ctx, b.Subject(subject), payload)
	if err != nil {
		return err
	}
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subject returns the fully qualified subject
func (b *Bus) Subject(subject string) string {
	prefix := strings.Trim(b.prefix, ".")
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// Conn returns the underlying connection for health probes
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// Close drains pending messages and closes the connection
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func newMessage(ctx context.Context, subject string, payload interface{}) (*nats.Msg, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerContentType, "application/json")
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		msg.Header.Set(headerRequestID, requestID)
	}
	return msg, nil
}

// NopPublisher drops events. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	return nil
}

func (NopPublisher) Close() {}
