// Package redis distributes cache invalidation signals over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure Notifier implements the interface.
var _ driven.InvalidationNotifier = (*Notifier)(nil)

// DefaultChannel is used when Config.Channel is empty.
const DefaultChannel = "scanpipe:invalidate"

const (
	pingTimeout      = 5 * time.Second
	subscriberBuffer = 16
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// message is the wire format of an invalidation signal.
type message struct {
	Origin    string `json:"origin"`
	MandateID string `json:"mandate_id"`
}

// Notifier publishes and receives invalidation signals on a Redis channel.
type Notifier struct {
	client  *redis.Client
	channel string
	origin  string

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Notifier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", domain.ErrInvalidInput)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		subs:    make(map[*redis.PubSub]struct{}),
	}, nil
}

// Publish announces that a mandate's reference data changed.
func (n *Notifier) Publish(ctx context.Context, mandateID string) error {
	if n.isClosed() {
		return domain.ErrNotifierClosed
	}
	data, err := encode(n.origin, mandateID)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of invalidated mandate IDs, including those
// published by this notifier.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan string, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, domain.ErrNotifierClosed
	}
	sub := n.client.Subscribe(ctx, n.channel)
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	// Wait for the subscription to be confirmed so no signal published
	// after Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		n.release(sub)
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		defer n.release(sub)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				m, err := decode(msg.Payload)
				if err != nil {
					logger.Warn("ignoring malformed invalidation message: %v", err)
					continue
				}
				logger.Debug("invalidation of %s from %s", m.MandateID, m.Origin)
				select {
				case out <- m.MandateID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close ends every subscription and closes the client.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*redis.PubSub, 0, len(n.subs))
	for sub := range n.subs {
		subs = append(subs, sub)
	}
	n.subs = map[*redis.PubSub]struct{}{}
	n.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, n.client.Close())
	return errors.Join(errs...)
}

func (n *Notifier) release(sub *redis.PubSub) {
	n.mu.Lock()
	_, ok := n.subs[sub]
	delete(n.subs, sub)
	n.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (n *Notifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func encode(origin, mandateID string) ([]byte, error) {
	if mandateID == "" {
		return nil, fmt.Errorf("%w: mandate id is required", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(message{Origin: origin, MandateID: mandateID})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

func decode(payload string) (message, error) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return message{}, err
	}
	if m.MandateID == "" {
		return message{}, errors.New("missing mandate id")
	}
	return m, nil
}
