// Package events implements the typed event channel described in spec.md
// §9's "Callback coupling" redesign: instead of the matching engine and
// sequencer invoking bespoke callbacks directly, they publish typed events
// to a Bus, which fans them out to an arbitrary list of subscribers over
// buffered channels. Grounded on the teacher's api.DashboardEvent envelope
// and api.Hub broadcast loop, generalized from one dashboard WebSocket hub
// to any number of subscribers (in this tree, internal/api's WebSocket hub).
package events

import (
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Kind tags an Event's variant.
type Kind string

const (
	TradeExecuted   Kind = "trade_executed"
	OrderUpdated    Kind = "order_updated"
	PositionChanged Kind = "position_changed"
	Halted          Kind = "halted"
)

// Event is the envelope published onto the Bus, mirroring the shape of the
// teacher's DashboardEvent (Type/Timestamp/Data) but carrying a typed Kind
// instead of a bare string and a symbol instead of a market ID.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Symbol    string
	Data      interface{}
}

// TradeData is the payload of a TradeExecuted event.
type TradeData struct {
	Trade types.Trade
}

// OrderData is the payload of an OrderUpdated event.
type OrderData struct {
	Order *types.Order
}

// PositionData is the payload of a PositionChanged event.
type PositionData struct {
	User     string
	Symbol   string
	Size     types.Qty
	AvgEntry types.Price
}

// HaltData is the payload of a Halted event.
type HaltData struct {
	Symbol string // empty for a market-wide halt
	State  string
}

// Bus fans out published events to every currently-subscribed channel.
// Grounded on the teacher's Hub, but without a hub goroutine: the
// subscriber set is a mutex-guarded map, Publish delivers on the caller's
// goroutine, and each subscriber has a buffered channel whose events are
// dropped (not blocked on) when its consumer falls behind.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	logger      *slog.Logger
}

// NewBus builds a Bus. logger may be nil, in which case slog.Default() is
// used.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a new subscriber and returns its channel, buffered to
// bufSize events. Call Unsubscribe when done to release it.
func (b *Bus) Subscribe(bufSize int) chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the subscriber list and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish fans evt out to every subscriber. A subscriber whose buffer is
// full has the event dropped for it rather than blocking the publisher —
// the sequencer thread must never block on a slow consumer.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("subscriber channel full, dropping event", "kind", evt.Kind, "symbol", evt.Symbol)
		}
	}
}

// PublishTrade is a convenience wrapper building a TradeExecuted event.
func (b *Bus) PublishTrade(trade types.Trade, now time.Time) {
	b.Publish(Event{Kind: TradeExecuted, Timestamp: now, Symbol: trade.Symbol, Data: TradeData{Trade: trade}})
}

// PublishOrder is a convenience wrapper building an OrderUpdated event.
func (b *Bus) PublishOrder(order *types.Order, now time.Time) {
	b.Publish(Event{Kind: OrderUpdated, Timestamp: now, Symbol: order.Symbol, Data: OrderData{Order: order}})
}

// PublishPosition is a convenience wrapper building a PositionChanged event.
func (b *Bus) PublishPosition(user, symbol string, size types.Qty, avgEntry types.Price, now time.Time) {
	b.Publish(Event{
		Kind:      PositionChanged,
		Timestamp: now,
		Symbol:    symbol,
		Data:      PositionData{User: user, Symbol: symbol, Size: size, AvgEntry: avgEntry},
	})
}

// PublishHalt is a convenience wrapper building a Halted event. symbol is
// empty for a market-wide halt.
func (b *Bus) PublishHalt(symbol, state string, now time.Time) {
	b.Publish(Event{Kind: Halted, Timestamp: now, Symbol: symbol, Data: HaltData{Symbol: symbol, State: state}})
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
