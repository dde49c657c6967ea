// Package events provides the in-process notification fan-out used to tell
// sellers about order lifecycle changes. Delivery is fire-and-forget and
// at-most-once: a slow subscriber loses events instead of blocking the
// publishing transaction's caller.
package events

import (
	"sync"

	"go.uber.org/zap"
)

type Type string

const (
	TypeNewOrder     Type = "newOrder"
	TypeOrderDeleted Type = "orderDeleted"
)

type Event struct {
	Type     Type   `json:"type"`
	OrderID  int64  `json:"order_id"`
	BuyerID  int64  `json:"buyer_id"`
	SellerID int64  `json:"seller_id"`
	Status   string `json:"status,omitempty"`
}

type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a new subscriber with the given channel buffer.
// Events published while the buffer is full are dropped for that subscriber.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers ev to every subscriber without blocking. It never fails:
// the emitting operation has already committed by the time this runs.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("type", string(ev.Type)),
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("seller_id", ev.SellerID))
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
