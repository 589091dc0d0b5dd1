// Package orderbook implements the per-symbol price-time-priority order book
// (spec.md §4.4), grounded on original_source/src/orderbook.cpp's
// submit/match/cancel/modify primitives and adapted to Go's container/list
// for FIFO price levels. Book.Submit is an internal primitive: the only
// supported public entrypoint into matching is internal/matching.Engine,
// which owns the set of Books (spec.md §9 resolves the original's two
// parallel matching implementations into this single canonical path).
package orderbook

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"polymarket-mm/pkg/types"
)

// level is one price level's FIFO queue of resting orders.
type level struct {
	price types.Price
	total types.Qty
	q     *list.List // of *types.Order
}

func newLevel(price types.Price) *level {
	return &level{price: price, q: list.New()}
}

// location lets Cancel/Modify find an order's level in O(1) without
// scanning every level.
type location struct {
	side types.Side
	elem *list.Element
}

// stopKey indexes resting stop orders by side and stop price.
type stopKey struct {
	side  types.Side
	price types.Price
}

// Book is one symbol's resting liquidity. All exported methods assume
// single-threaded access via the sequencer (spec.md §5); the mutex exists
// so ancillary reads (BBO, Depth, for API/metrics use) are never a data
// race with the hot path.
type Book struct {
	mu       sync.Mutex
	symbol   string
	tickSize types.Price

	bids      map[types.Price]*level
	asks      map[types.Price]*level
	bidPrices []types.Price // descending
	askPrices []types.Price // ascending

	locations map[uint64]location
	stops     map[stopKey][]*types.Order

	tradeSeq uint64
}

// New builds an empty book for symbol with the given tick size.
func New(symbol string, tickSize types.Price) *Book {
	return &Book{
		symbol:    symbol,
		tickSize:  tickSize,
		bids:      make(map[types.Price]*level),
		asks:      make(map[types.Price]*level),
		locations: make(map[uint64]location),
		stops:     make(map[stopKey][]*types.Order),
	}
}

func (b *Book) levels(side types.Side) map[types.Price]*level {
	if side == types.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) opposite(side types.Side) types.Side { return side.Opposite() }

func (b *Book) insertPrice(side types.Side, price types.Price) {
	if side == types.Buy {
		i := sort.Search(len(b.bidPrices), func(i int) bool { return b.bidPrices[i] <= price })
		b.bidPrices = append(b.bidPrices, 0)
		copy(b.bidPrices[i+1:], b.bidPrices[i:])
		b.bidPrices[i] = price
	} else {
		i := sort.Search(len(b.askPrices), func(i int) bool { return b.askPrices[i] >= price })
		b.askPrices = append(b.askPrices, 0)
		copy(b.askPrices[i+1:], b.askPrices[i:])
		b.askPrices[i] = price
	}
}

func (b *Book) removePrice(side types.Side, price types.Price) {
	prices := &b.bidPrices
	if side == types.Sell {
		prices = &b.askPrices
	}
	for i, p := range *prices {
		if p == price {
			*prices = append((*prices)[:i], (*prices)[i+1:]...)
			return
		}
	}
}

func (b *Book) bestPrice(side types.Side) (types.Price, bool) {
	if side == types.Buy {
		if len(b.bidPrices) == 0 {
			return 0, false
		}
		return b.bidPrices[0], true
	}
	if len(b.askPrices) == 0 {
		return 0, false
	}
	return b.askPrices[0], true
}

// BestBid returns the best resting bid price, if any.
func (b *Book) BestBid() (types.Price, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestPrice(types.Buy)
}

// BestAsk returns the best resting ask price, if any.
func (b *Book) BestAsk() (types.Price, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestPrice(types.Sell)
}

// MidPrice returns the midpoint of best bid and best ask, if both exist.
func (b *Book) MidPrice() (types.Price, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, bidOK := b.bestPrice(types.Buy)
	ask, askOK := b.bestPrice(types.Sell)
	if !bidOK || !askOK {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// DepthLevel is one (price, aggregated quantity) pair.
type DepthLevel struct {
	Price types.Price
	Qty   types.Qty
}

// Depth returns up to n levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []DepthLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n && i < len(b.bidPrices); i++ {
		p := b.bidPrices[i]
		bids = append(bids, DepthLevel{Price: p, Qty: b.bids[p].total})
	}
	for i := 0; i < n && i < len(b.askPrices); i++ {
		p := b.askPrices[i]
		asks = append(asks, DepthLevel{Price: p, Qty: b.asks[p].total})
	}
	return bids, asks
}

// crosses reports whether the taker's limit (if any) crosses levelPrice.
// Market orders have no limit and always cross.
func crosses(taker *types.Order, levelPrice types.Price) bool {
	if taker.Type == types.Market {
		return true
	}
	if taker.IsBuy() {
		return taker.Price >= levelPrice
	}
	return taker.Price <= levelPrice
}

// Submit accepts a new order into the book, returning any trades produced.
// See spec.md §4.4 for the full algorithm; this follows it step for step.
func (b *Book) Submit(o *types.Order, now int64) ([]types.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Quantity <= 0 {
		return nil, types.NewRejection(types.ErrQuantityNonPositive, "order quantity must be positive")
	}

	if o.Type != types.Market && o.Type != types.StopLimit {
		o.Price = types.SnapToTick(o.Price, b.tickSize)
	}
	if o.Type == types.Limit || o.Type == types.PostOnly {
		if o.Price <= 0 {
			return nil, types.NewRejection(types.ErrPriceOffTick, "limit price must be positive after tick snapping")
		}
	}

	o.Status = types.StatusNew
	o.CreatedAt = now
	o.UpdatedAt = now

	if o.Type == types.StopLimit {
		key := stopKey{side: o.Side, price: o.StopPrice}
		b.stops[key] = append(b.stops[key], o)
		o.Status = types.StatusStopPending
		return nil, nil
	}

	if o.Type == types.PostOnly {
		if best, ok := b.bestPrice(b.opposite(o.Side)); ok && crosses(o, best) {
			o.Status = types.StatusRejected
			return nil, types.NewRejection(types.ErrPostOnlyWouldMatch, "post-only order would have matched")
		}
	}

	if o.Type == types.FOK {
		if !b.canFillFully(o) {
			o.Status = types.StatusRejected
			return nil, types.NewRejection(types.ErrFillOrKillUnfillable, "insufficient resting liquidity to fill order completely")
		}
	}

	var trades []types.Trade
	if o.Type == types.Limit || o.Type == types.Market || o.Type == types.IOC || o.Type == types.FOK {
		trades = b.match(o, now)
	}

	switch o.Type {
	case types.Limit:
		if o.Remaining() > 0 {
			b.rest(o)
		} else {
			o.Status = types.StatusFilled
		}
	case types.Market, types.IOC, types.FOK:
		if o.Remaining() == 0 {
			o.Status = types.StatusFilled
		} else if o.Filled > 0 {
			o.Status = types.StatusPartiallyFilled
		} else {
			o.Status = types.StatusCancelled
		}
	}

	return trades, nil
}

// canFillFully performs a read-only walk of the crossing levels (excluding
// the taker's own resting orders, which self-trade prevention would cancel
// rather than fill against) to decide whether a FOK order can be completely
// satisfied before any mutation happens.
func (b *Book) canFillFully(taker *types.Order) bool {
	side := b.opposite(taker.Side)
	prices := b.askPrices
	m := b.asks
	if side == types.Buy {
		prices = b.bidPrices
		m = b.bids
	}

	need := taker.Remaining()
	for _, p := range prices {
		if !crosses(taker, p) {
			break
		}
		lvl := m[p]
		for e := lvl.q.Front(); e != nil; e = e.Next() {
			maker := e.Value.(*types.Order)
			if maker.UserID == taker.UserID {
				continue
			}
			need -= maker.Remaining()
			if need <= 0 {
				return true
			}
		}
	}
	return need <= 0
}

func (b *Book) match(taker *types.Order, now int64) []types.Trade {
	var trades []types.Trade
	oppSide := b.opposite(taker.Side)

	for taker.Remaining() > 0 {
		best, ok := b.bestPrice(oppSide)
		if !ok {
			break
		}
		if !crosses(taker, best) {
			break
		}

		lvl := b.levels(oppSide)[best]
		for taker.Remaining() > 0 {
			e := lvl.q.Front()
			if e == nil {
				break
			}
			maker := e.Value.(*types.Order)

			if maker.UserID == taker.UserID {
				b.removeFromLevel(oppSide, lvl, e)
				maker.Status = types.StatusCancelled
				maker.UpdatedAt = now
				continue
			}

			fillQty := maker.Remaining()
			if taker.Remaining() < fillQty {
				fillQty = taker.Remaining()
			}

			b.tradeSeq++
			trade := types.Trade{
				ID:           b.tradeSeq,
				Symbol:       b.symbol,
				MakerOrderID: maker.ID,
				MakerUserID:  maker.UserID,
				TakerOrderID: taker.ID,
				TakerUserID:  taker.UserID,
				TakerSide:    taker.Side,
				Price:        best,
				Quantity:     fillQty,
				Timestamp:    now,
			}
			trades = append(trades, trade)

			maker.Filled += fillQty
			taker.Filled += fillQty
			maker.UpdatedAt = now
			taker.UpdatedAt = now
			lvl.total -= fillQty

			if maker.Remaining() == 0 {
				maker.Status = types.StatusFilled
				b.removeFromLevel(oppSide, lvl, e)
			} else {
				maker.Status = types.StatusPartiallyFilled
			}
		}

		if lvl.q.Len() == 0 {
			delete(b.levels(oppSide), best)
			b.removePrice(oppSide, best)
		}
	}

	return trades
}

func (b *Book) removeFromLevel(side types.Side, lvl *level, e *list.Element) {
	o := e.Value.(*types.Order)
	lvl.total -= o.Remaining()
	lvl.q.Remove(e)
	delete(b.locations, o.ID)
}

func (b *Book) rest(o *types.Order) {
	m := b.levels(o.Side)
	lvl, ok := m[o.Price]
	if !ok {
		lvl = newLevel(o.Price)
		m[o.Price] = lvl
		b.insertPrice(o.Side, o.Price)
	}
	e := lvl.q.PushBack(o)
	lvl.total += o.Remaining()
	b.locations[o.ID] = location{side: o.Side, elem: e}
	if o.Filled > 0 {
		o.Status = types.StatusPartiallyFilled
	}
}

// Cancel removes a resting order from the book.
func (b *Book) Cancel(orderID uint64, now int64) (*types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelLocked(orderID, now)
}

func (b *Book) cancelLocked(orderID uint64, now int64) (*types.Order, error) {
	loc, ok := b.locations[orderID]
	if !ok {
		return nil, types.NewRejection(types.ErrOrderNotFound, fmt.Sprintf("order %d is not resting", orderID))
	}
	o := loc.elem.Value.(*types.Order)
	lvl := b.levels(loc.side)[o.Price]
	b.removeFromLevel(loc.side, lvl, loc.elem)
	if lvl.q.Len() == 0 {
		delete(b.levels(loc.side), o.Price)
		b.removePrice(loc.side, o.Price)
	}
	o.Status = types.StatusCancelled
	o.UpdatedAt = now
	return o, nil
}

// Modify changes a resting order's price and/or quantity. A price change,
// or a quantity increase, loses time priority (cancel-and-resubmit); a
// quantity decrease above the filled amount updates in place.
func (b *Book) Modify(orderID uint64, newPrice *types.Price, newQty *types.Qty, now int64) (*types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.locations[orderID]
	if !ok {
		return nil, types.NewRejection(types.ErrOrderNotFound, fmt.Sprintf("order %d is not resting", orderID))
	}
	o := loc.elem.Value.(*types.Order)

	qty := o.Quantity
	if newQty != nil {
		qty = *newQty
	}
	if qty < o.Filled {
		return nil, types.NewRejection(types.ErrQuantityNonPositive, "new quantity is below filled quantity")
	}

	price := o.Price
	if newPrice != nil {
		price = types.SnapToTick(*newPrice, b.tickSize)
	}

	priceChanged := price != o.Price
	qtyIncreased := qty > o.Quantity

	if priceChanged || qtyIncreased {
		lvl := b.levels(loc.side)[o.Price]
		b.removeFromLevel(loc.side, lvl, loc.elem)
		if lvl.q.Len() == 0 {
			delete(b.levels(loc.side), o.Price)
			b.removePrice(loc.side, o.Price)
		}

		replacement := *o
		replacement.Price = price
		replacement.Quantity = qty
		replacement.Status = types.StatusNew
		replacement.CreatedAt = now
		replacement.UpdatedAt = now
		b.rest(&replacement)
		return &replacement, nil
	}

	lvl := b.levels(loc.side)[o.Price]
	lvl.total -= o.Quantity - o.Filled
	o.Quantity = qty
	lvl.total += o.Quantity - o.Filled
	o.UpdatedAt = now
	return o, nil
}

// CheckStopOrders triggers any resting stop whose condition the new trade
// price satisfies, re-entering each as a Limit order. Returns any cascaded
// trades, in trigger order.
func (b *Book) CheckStopOrders(tradePrice types.Price, now int64) []types.Trade {
	b.mu.Lock()
	var toTrigger []*types.Order
	for key, orders := range b.stops {
		triggered := (key.side == types.Buy && key.price <= tradePrice) ||
			(key.side == types.Sell && key.price >= tradePrice)
		if !triggered {
			continue
		}
		toTrigger = append(toTrigger, orders...)
		delete(b.stops, key)
	}
	b.mu.Unlock()

	var cascaded []types.Trade
	for _, o := range toTrigger {
		o.Type = types.Limit
		o.Triggered = true
		trades, err := b.Submit(o, now)
		if err == nil {
			cascaded = append(cascaded, trades...)
		}
	}
	return cascaded
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }
