// Package stream fans out order lifecycle events to SSE subscribers such as
// kitchen displays and expo screens. Delivery is best effort: the order
// transaction never waits on a display.
package stream

import (
	"context"
	"sync"
	"time"

	"tablestack.io/internal/order"
)

// OrderEvent describes one committed status transition.
type OrderEvent struct {
	TenantID  string       `json:"tenant_id"`
	OrderID   string       `json:"order_id"`
	From      order.Status `json:"from"`
	To        order.Status `json:"to"`
	Table     string       `json:"table,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type subscriber struct {
	ch       chan OrderEvent
	tenantID string
}

// Stream fan-outs order events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
	now  func() time.Time
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]subscriber),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber scoped to one tenant and returns a channel
// which will receive that tenant's events. The channel is closed when the
// provided context ends.
func (s *Stream) Subscribe(ctx context.Context, tenantID string) <-chan OrderEvent {
	ch := make(chan OrderEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, tenantID: tenantID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers of the event's tenant.
func (s *Stream) Publish(evt OrderEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.tenantID != evt.TenantID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// OrderStatusChanged adapts the stream to the order engine's notifier hook.
// It runs after commit; a full or absent subscriber set is not an error.
func (s *Stream) OrderStatusChanged(o order.Order, from order.Status, reason string) {
	s.Publish(OrderEvent{
		TenantID:  o.TenantID,
		OrderID:   o.ID,
		From:      from,
		To:        o.Status,
		Table:     o.Table,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
}
