package sequencer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/circuit"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/events"
	"polymarket-mm/internal/matching"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *catalog.Catalog {
	return catalog.New(config.CatalogConfig{
		Products: []config.ProductConfig{
			{
				Symbol:                "BTC-PERP",
				Category:              "perpetual",
				QuoteCurrency:         "USD",
				TickSize:              decimal.NewFromFloat(0.5),
				MinOrderSize:          decimal.NewFromFloat(0.001),
				MaxOrderSize:          decimal.NewFromInt(100),
				InitialMarginRate:     decimal.NewFromFloat(0.10),
				MaintenanceMarginRate: decimal.NewFromFloat(0.05),
				MakerFeeRate:          decimal.NewFromFloat(0.0002),
				TakerFeeRate:          decimal.NewFromFloat(0.0005),
				MinFeeFloor:           decimal.NewFromFloat(0.01),
				Active:                true,
			},
		},
	})
}

func newTestSequencer() (*Sequencer, func()) {
	cat := testCatalog()
	engine := matching.New(cat, testLogger())
	pos := position.NewManager(cat, nil)
	brk := circuit.NewManager(circuit.DefaultConfig())

	seq := New(engine, pos, brk, cat, nil, events.NewBus(testLogger()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	return seq, cancel
}

func TestSubmitSyncMatchesAndAppliesPosition(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "alice", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "bob", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	maker := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Sell, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	res, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: maker, Now: 2}, time.Second)
	if err != nil {
		t.Fatalf("submit maker: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("expected maker to rest, got %d trades", len(res.Trades))
	}

	taker := &types.Order{ID: 2, Symbol: "BTC-PERP", UserID: "bob", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	res, err = seq.SubmitSync(Command{Kind: SubmitOrder, Order: taker, Now: 3}, time.Second)
	if err != nil {
		t.Fatalf("submit taker: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	if p, ok := seq.pos.Position("bob", "BTC-PERP"); !ok || p.Size != 1_000000 {
		t.Fatalf("bob position = %+v (ok=%v), want long 1000000", p, ok)
	}
}

func TestSubmitSyncPublishesTradeExecutedEvent(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	engine := matching.New(cat, testLogger())
	pos := position.NewManager(cat, nil)
	brk := circuit.NewManager(circuit.DefaultConfig())
	bus := events.NewBus(testLogger())

	seq := New(engine, pos, brk, cat, nil, bus, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "alice", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "bob", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	maker := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Sell, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: maker, Now: 2}, time.Second); err != nil {
		t.Fatalf("submit maker: %v", err)
	}
	taker := &types.Order{ID: 2, Symbol: "BTC-PERP", UserID: "bob", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: taker, Now: 3}, time.Second); err != nil {
		t.Fatalf("submit taker: %v", err)
	}

	sawTrade := false
	timeout := time.After(time.Second)
	for !sawTrade {
		select {
		case evt := <-sub:
			if evt.Kind == events.TradeExecuted {
				sawTrade = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for a TradeExecuted event")
		}
	}
}

func TestSubmitAsyncEnqueuesWithoutBlocking(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	o := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if err := seq.SubmitAsync(Command{Kind: SubmitOrder, Order: o, Now: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitSyncRejectsWhenSymbolHalted(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	seq.brk.HaltSymbol("BTC-PERP", time.Minute, time.UnixMicro(1))

	o := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	_, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: o, Now: 1}, time.Second)
	if err == nil {
		t.Fatal("expected MarketHalted rejection")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrMarketHalted {
		t.Fatalf("kind = %v, want MarketHalted", kind)
	}
}

func TestSubmitSyncRejectsOnRiskEngineRateLimit(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	engine := matching.New(cat, testLogger())
	pos := position.NewManager(cat, nil)
	brk := circuit.NewManager(circuit.DefaultConfig())

	seq := New(engine, pos, brk, cat, nil, events.NewBus(testLogger()), testLogger())
	seq.SetRiskEngine(risk.NewManager(config.RiskConfig{MaxOrdersPerSecond: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "alice", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	first := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: first, Now: 2}, time.Second); err != nil {
		t.Fatalf("first order should pass the risk gate: %v", err)
	}

	second := &types.Order{ID: 2, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	_, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: second, Now: 2}, time.Second)
	if err == nil {
		t.Fatal("expected RateLimitExceeded from the risk gate on the second order within the same second")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrRateLimitExceeded {
		t.Fatalf("kind = %v, want RateLimitExceeded", kind)
	}
}

func TestFundingSettleAppliesPaymentThroughPositionManager(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "alice", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "bob", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	maker := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Sell, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: maker, Now: 2}, time.Second); err != nil {
		t.Fatalf("submit maker: %v", err)
	}
	taker := &types.Order{ID: 2, Symbol: "BTC-PERP", UserID: "bob", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: taker, Now: 3}, time.Second); err != nil {
		t.Fatalf("submit taker: %v", err)
	}

	bobBefore := seq.pos.Account("bob").Available

	_, err := seq.SubmitSync(Command{Kind: FundingSettle, Symbol: "BTC-PERP", FundingRate: 100_000, Mark: 50_000_000000, Now: 4}, time.Second)
	if err != nil {
		t.Fatalf("funding settle: %v", err)
	}

	bobAfter := seq.pos.Account("bob").Available
	if bobAfter >= bobBefore {
		t.Fatalf("expected bob (long) to pay funding through the sequencer: before %d, after %d", bobBefore, bobAfter)
	}
}

func TestMarkUpdateLiquidatesUnderwaterPosition(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	// Alice deposits just enough to cover initial margin on a 1-BTC long at
	// 50,000 (10% of 50,000 = 5,000), leaving almost no cushion.
	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "alice", Amount: 6_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.SubmitSync(Command{Kind: Deposit, User: "bob", Amount: 100_000_000000, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	maker := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "bob", Side: types.Sell, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: maker, Now: 2}, time.Second); err != nil {
		t.Fatalf("submit maker: %v", err)
	}
	taker := &types.Order{ID: 2, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: taker, Now: 3}, time.Second); err != nil {
		t.Fatalf("submit taker: %v", err)
	}

	pos, ok := seq.pos.Position("alice", "BTC-PERP")
	if !ok || pos.Size != 1_000000 {
		t.Fatalf("expected alice long 1 BTC-PERP before mark update, got %+v (ok=%v)", pos, ok)
	}

	// A crash to 40,000 wipes out alice's cushion well past the 5%
	// maintenance requirement at the new mark.
	if _, err := seq.SubmitSync(Command{Kind: MarkUpdate, Symbol: "BTC-PERP", Mark: 40_000_000000, Now: 4}, time.Second); err != nil {
		t.Fatalf("mark update: %v", err)
	}

	pos, ok = seq.pos.Position("alice", "BTC-PERP")
	if !ok || pos.Size != 0 {
		t.Fatalf("expected alice's position force-closed after mark update, got %+v (ok=%v)", pos, ok)
	}
}

func TestCancelOrderRoundTrip(t *testing.T) {
	t.Parallel()
	seq, cancel := newTestSequencer()
	defer cancel()

	o := &types.Order{ID: 1, Symbol: "BTC-PERP", UserID: "alice", Side: types.Buy, Type: types.Limit, Price: 50_000_000000, Quantity: 1_000000}
	if _, err := seq.SubmitSync(Command{Kind: SubmitOrder, Order: o, Now: 1}, time.Second); err != nil {
		t.Fatal(err)
	}

	res, err := seq.SubmitSync(Command{Kind: CancelOrder, Symbol: "BTC-PERP", OrderID: 1, Now: 2}, time.Second)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.Status != types.StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Order.Status)
	}
}
