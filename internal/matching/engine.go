// Package matching is the sole canonical entrypoint for order submission,
// cancellation, and modification (spec.md §9 resolves the original's two
// parallel implementations — central_exchange::OrderBook::submit and
// lob::MatchingEngine::process_order — into this single path). Engine owns
// the full set of per-symbol internal/orderbook.Books and fans out trade
// and order-state notifications via callbacks that run on the caller's
// goroutine (the sequencer thread, per spec.md §5).
package matching

import (
	"fmt"
	"log/slog"
	"sync"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/orderbook"
	"polymarket-mm/pkg/types"
)

// TradeCallback is invoked once per produced trade, in trade order.
type TradeCallback func(trade types.Trade)

// OrderCallback is invoked whenever an order's status changes.
type OrderCallback func(order *types.Order)

// PositionSizer reports a user's current signed position size in a symbol,
// satisfied by internal/position.Manager. Kept as a narrow interface
// instead of importing the position package's full Position shape.
type PositionSizer interface {
	PositionSize(user, symbol string) (types.Qty, bool)
}

// Engine owns the map of symbol to Book and validates every order against
// the product catalog before delegating.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*orderbook.Book
	cat    *catalog.Catalog
	logger *slog.Logger

	positions PositionSizer

	onTrade TradeCallback
	onOrder OrderCallback
}

// New builds an Engine with one book per active product in cat.
func New(cat *catalog.Catalog, logger *slog.Logger) *Engine {
	e := &Engine{
		books:  make(map[string]*orderbook.Book),
		cat:    cat,
		logger: logger.With("component", "matching"),
	}
	for _, p := range cat.Active() {
		e.books[p.Symbol] = orderbook.New(p.Symbol, p.TickSize)
	}
	return e
}

// SetPositionSizer wires the position lookup used to enforce reduce-only
// orders. Reduce-only enforcement is skipped if this is never called.
func (e *Engine) SetPositionSizer(p PositionSizer) { e.positions = p }

// OnTrade registers the callback invoked for every produced trade.
func (e *Engine) OnTrade(cb TradeCallback) { e.onTrade = cb }

// OnOrder registers the callback invoked for every order-state change.
func (e *Engine) OnOrder(cb OrderCallback) { e.onOrder = cb }

func (e *Engine) bookFor(symbol string) (*orderbook.Book, error) {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewRejection(types.ErrProductUnknown, fmt.Sprintf("no book for symbol %q", symbol))
	}
	return b, nil
}

// SubmitOrder validates o against the product catalog (existence, active
// status, size bounds), snaps its price, and delegates to the symbol's book.
// Every trade produced is reported via the trade callback; the final order
// state via the order callback — both before SubmitOrder returns.
func (e *Engine) SubmitOrder(o *types.Order, now int64) ([]types.Trade, error) {
	product, err := e.cat.Lookup(o.Symbol)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, types.NewRejection(types.ErrProductInactive, fmt.Sprintf("product %q is not active", o.Symbol))
	}
	if o.Quantity < product.MinOrderSize {
		return nil, types.NewRejection(types.ErrQuantityBelowMin, fmt.Sprintf("quantity %d below minimum %d", o.Quantity, product.MinOrderSize))
	}
	if product.MaxOrderSize > 0 && o.Quantity > product.MaxOrderSize {
		return nil, types.NewRejection(types.ErrQuantityAboveMax, fmt.Sprintf("quantity %d above maximum %d", o.Quantity, product.MaxOrderSize))
	}
	if o.ReduceOnly && e.positions != nil {
		if size, ok := e.positions.PositionSize(o.UserID, o.Symbol); ok {
			signedQty := o.Quantity
			if o.Side == types.Sell {
				signedQty = -signedQty
			}
			if wouldIncreaseMagnitude(size, signedQty) {
				return nil, types.NewRejection(types.ErrQuantityAboveMax, "reduce-only order would increase position size")
			}
		} else if o.Quantity > 0 {
			// No existing position: any reduce-only order would only open one.
			return nil, types.NewRejection(types.ErrQuantityAboveMax, "reduce-only order with no position to reduce")
		}
	}

	book, err := e.bookFor(o.Symbol)
	if err != nil {
		return nil, err
	}

	trades, err := book.Submit(o, now)
	if err != nil {
		if e.onOrder != nil {
			e.onOrder(o)
		}
		return nil, err
	}

	e.dispatch(book, trades, o, now)
	return trades, nil
}

// CancelOrder delegates to the symbol's book and reports the resulting
// order-state change.
func (e *Engine) CancelOrder(symbol string, orderID uint64, now int64) (*types.Order, error) {
	book, err := e.bookFor(symbol)
	if err != nil {
		return nil, err
	}
	o, err := book.Cancel(orderID, now)
	if err != nil {
		return nil, err
	}
	if e.onOrder != nil {
		e.onOrder(o)
	}
	return o, nil
}

// ModifyOrder delegates to the symbol's book and reports the resulting
// order-state change.
func (e *Engine) ModifyOrder(symbol string, orderID uint64, newPrice *types.Price, newQty *types.Qty, now int64) (*types.Order, error) {
	book, err := e.bookFor(symbol)
	if err != nil {
		return nil, err
	}
	o, err := book.Modify(orderID, newPrice, newQty, now)
	if err != nil {
		return nil, err
	}
	if e.onOrder != nil {
		e.onOrder(o)
	}
	return o, nil
}

// dispatch reports trades and the taker's final state, updates the
// catalog's last-trade price, and cascades any triggered stop orders.
func (e *Engine) dispatch(book *orderbook.Book, trades []types.Trade, taker *types.Order, now int64) {
	for _, tr := range trades {
		if e.onTrade != nil {
			e.onTrade(tr)
		}
		if err := e.cat.SetLast(tr.Symbol, tr.Price); err != nil {
			e.logger.Warn("failed to update last price", "symbol", tr.Symbol, "error", err)
		}
	}
	if e.onOrder != nil {
		e.onOrder(taker)
	}

	for _, tr := range trades {
		cascaded := book.CheckStopOrders(tr.Price, now)
		for _, c := range cascaded {
			if e.onTrade != nil {
				e.onTrade(c)
			}
			if err := e.cat.SetLast(c.Symbol, c.Price); err != nil {
				e.logger.Warn("failed to update last price", "symbol", c.Symbol, "error", err)
			}
		}
	}
}

// wouldIncreaseMagnitude reports whether adding signedDelta to size would
// grow |size| (as opposed to reducing it or flipping through zero, both of
// which are permitted for a reduce-only order).
func wouldIncreaseMagnitude(size, signedDelta types.Qty) bool {
	if signedDelta == 0 {
		return false
	}
	if size == 0 {
		return true
	}
	return (size > 0) == (signedDelta > 0)
}

// Book exposes the resting book for a symbol, for read-only use (depth
// snapshots, mark-price composition). Returns nil if the symbol is unknown.
func (e *Engine) Book(symbol string) *orderbook.Book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[symbol]
}
