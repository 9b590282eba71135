package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/metrics"
	"github.com/opensource-finance/riskguard/internal/retry"
)

// maxDialAttempts caps the initial connect loop; the delay doubles per try.
const maxDialAttempts = 5

// MsgIDHeader carries the envelope id so JetStream streams can dedupe.
const MsgIDHeader = "Nats-Msg-Id"

// NATSBus implements EventBus on NATS core subjects. Topics are used as
// subjects verbatim. Trace context travels in message headers.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name("riskguard"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// NewNATSBus connects to NATS, retrying the initial dial with backoff.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	var conn *nats.Conn
	attempt := 0
	err := retry.Do(context.Background(), min(cfg.NATSMaxReconnects, maxDialAttempts), time.Duration(cfg.NATSReconnectWait)*time.Second, func() error {
		attempt++
		c, err := nats.Connect(cfg.NATSUrl, natsOptions(cfg)...)
		if err != nil {
			slog.Warn("nats dial failed", "attempt", attempt, "url", cfg.NATSUrl, "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats after %d attempts: %w", attempt, err)
	}

	slog.Info("nats connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:  conn,
		queue: cfg.NATSQueueGroup,
		subs:  make(map[string]*natsSubscription),
	}, nil
}

// Publish wraps payload in an envelope and sends it on the topic subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	env := Envelope(topic, payload)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(MsgIDHeader, env.ID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := b.conn.PublishMsg(msg); err != nil {
		metrics.BusMessages.WithLabelValues(topic, "publish_failed").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.BusMessages.WithLabelValues(topic, "published").Inc()
	return nil
}

// Subscribe registers handler for topic. With a queue group configured
// each message goes to exactly one member of the group.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	cb := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			metrics.BusMessages.WithLabelValues(topic, "handler_error").Inc()
			slog.Error("undecodable bus message", "subject", m.Subject, "error", err)
			return
		}

		hctx := ctx
		if m.Header != nil {
			hctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(m.Header)))
		}
		if err := handler(hctx, &msg); err != nil {
			metrics.BusMessages.WithLabelValues(topic, "handler_error").Inc()
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
			return
		}
		metrics.BusMessages.WithLabelValues(topic, "delivered").Inc()
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if b.queue != "" {
		ns, err = b.conn.QueueSubscribe(topic, b.queue, cb)
	} else {
		ns, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{id: uuid.New().String(), topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions so in-flight handlers finish, then closes the
// connection. Close falls back to a hard close if draining fails.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// Stats returns connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
