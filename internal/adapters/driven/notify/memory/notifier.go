// Package memory provides an in-process invalidation notifier.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure Notifier implements the interface.
var _ driven.InvalidationNotifier = (*Notifier)(nil)

// subscriberBuffer bounds the signals queued per subscriber.
const subscriberBuffer = 16

// Notifier fans invalidation signals out to subscribers of the same process.
type Notifier struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
}

// New creates an in-process notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[chan string]struct{})}
}

// Publish delivers mandateID to every subscriber. A subscriber whose
// buffer is full misses the signal; that is logged.
func (n *Notifier) Publish(_ context.Context, mandateID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return domain.ErrNotifierClosed
	}
	for ch := range n.subs {
		select {
		case ch <- mandateID:
		default:
			logger.Warn("invalidation of %s dropped for a slow subscriber", mandateID)
		}
	}
	return nil
}

// Subscribe returns a channel of invalidated mandate IDs.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, domain.ErrNotifierClosed
	}
	ch := make(chan string, subscriberBuffer)
	n.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		n.unsubscribe(ch)
	}()
	return ch, nil
}

func (n *Notifier) unsubscribe(ch chan string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
}

// Close closes every subscription.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
	return nil
}
