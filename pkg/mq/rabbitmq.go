package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ghazal/internal/util"
)

// DefaultQueue carries transactional email jobs.
const DefaultQueue = "ghazal.emails"

// Envelope is the JSON body of every message.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ErrMalformed marks messages that can never be handled.
var ErrMalformed = errors.New("malformed message")

// Handler processes one envelope. Returning an error wrapping ErrMalformed
// drops the message; other errors requeue it once.
type Handler func(ctx context.Context, env Envelope) error

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Publisher sends envelopes to a durable queue, redialing when the
// connection drops.
type Publisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials url and declares queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url required")
	}
	if queue = strings.TrimSpace(queue); queue == "" {
		queue = DefaultQueue
	}
	p := &Publisher{url: url, queue: queue}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, p.queue); err != nil {
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish wraps payload in an Envelope and sends it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, kind string, payload any) error {
	body, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() || p.conn.IsClosed() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         kind,
		Body:         body,
	}
	if rid := util.RequestIDFromContext(ctx); rid != "" {
		msg.CorrelationId = rid
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func encodeEnvelope(kind string, payload any) ([]byte, error) {
	if strings.TrimSpace(kind) == "" {
		return nil, errors.New("message kind required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{ID: util.NewID(), Kind: kind, Payload: raw, CreatedAt: time.Now().UTC()})
}

func decodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(env.Kind) == "" || len(env.Payload) == 0 {
		return env, fmt.Errorf("%w: kind and payload required", ErrMalformed)
	}
	return env, nil
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	URL      string
	Queue    string
	Prefetch int
	// ReconnectDelay is the pause between dial attempts after a connection loss.
	ReconnectDelay time.Duration
}

// Consumer delivers queue messages to a Handler with manual acks.
type Consumer struct {
	cfg ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url required")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Consumer{cfg: cfg}, nil
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		err := c.consumeOnce(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("amqp consumer disconnected", "queue", c.cfg.Queue, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, h Handler) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, c.cfg.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	slog.Info("amqp consumer started", "queue", c.cfg.Queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d, h)
		}
	}
}

// handle settles one delivery: ack on success, drop malformed or already
// redelivered messages, requeue the first failure.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	logger := slog.Default().With("queue", c.cfg.Queue, "delivery_tag", d.DeliveryTag)
	if d.CorrelationId != "" {
		logger = logger.With("request_id", d.CorrelationId)
		ctx = util.ContextWithRequestID(ctx, d.CorrelationId)
	}
	ctx = util.ContextWithLogger(ctx, logger)

	env, err := decodeEnvelope(d.Body)
	if err == nil {
		logger = logger.With("kind", env.Kind, "message_id", env.ID)
		err = h(ctx, env)
	}
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("amqp ack failed", "err", ackErr)
		}
	case errors.Is(err, ErrMalformed):
		logger.Warn("dropping malformed message", "err", err)
		_ = d.Nack(false, false)
	case d.Redelivered:
		logger.Error("dropping message after redelivery", "err", err)
		_ = d.Nack(false, false)
	default:
		logger.Warn("message failed, requeueing", "err", err)
		_ = d.Nack(false, true)
	}
}
