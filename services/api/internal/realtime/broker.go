package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"ghazal/pkg/domain"
)

const defaultChannelPrefix = "ghazal:notifications"

// Broker fans notifications out over Redis Pub/Sub, one channel per user.
type Broker struct {
	client redis.UniversalClient
	prefix string
}

// NewBroker builds a broker. An empty prefix uses "ghazal:notifications".
func NewBroker(client redis.UniversalClient, prefix string) (*Broker, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &Broker{client: client, prefix: prefix}, nil
}

func (b *Broker) channel(userID string) string {
	return b.prefix + ":" + userID
}

// Publish sends the notification to its owner's channel. Nobody listening is not an error.
func (b *Broker) Publish(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.UserID) == "" {
		return errors.New("realtime: notification user id required")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscription delivers a user's notifications until Close or context end.
type Subscription struct {
	pubsub *redis.PubSub
	ch     chan domain.Notification
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Notification {
	return s.ch
}

// Close unsubscribes and waits for the reader goroutine to stop.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.pubsub.Close()
	})
	<-s.done
	return err
}

// Subscribe listens on the user's channel. Receive is awaited so the caller
// does not miss messages published right after Subscribe returns.
func (b *Broker) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("realtime: user id required")
	}
	pubsub := b.client.Subscribe(ctx, b.channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}
	sub := &Subscription{
		pubsub: pubsub,
		ch:     make(chan domain.Notification, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub, nil
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.pubsub.Close()
			return
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var n domain.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				slog.Warn("realtime: drop malformed notification", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case s.ch <- n:
			case <-s.stop:
				return
			case <-ctx.Done():
				_ = s.pubsub.Close()
				return
			}
		}
	}
}
