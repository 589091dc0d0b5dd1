package catalog

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

func testConfig() config.CatalogConfig {
	return config.CatalogConfig{
		Products: []config.ProductConfig{
			{
				Symbol:                "BTC-PERP",
				Category:              "perpetual",
				QuoteCurrency:         "USD",
				ExternalRef:           "BTC/USD",
				QuoteMultiplier:       decimal.NewFromInt(1),
				ContractSize:          decimal.NewFromInt(1),
				TickSize:              decimal.NewFromFloat(0.5),
				MinOrderSize:          decimal.NewFromFloat(0.001),
				MaxOrderSize:          decimal.NewFromInt(100),
				InitialMarginRate:     decimal.NewFromFloat(0.1),
				MaintenanceMarginRate: decimal.NewFromFloat(0.05),
				MakerFeeRate:          decimal.NewFromFloat(0.0002),
				TakerFeeRate:          decimal.NewFromFloat(0.0005),
				MinNotional:           decimal.NewFromInt(10),
				MinFeeFloor:           decimal.NewFromFloat(0.01),
				HedgeMode:             true,
				Active:                true,
			},
		},
	}
}

func TestLookupUnknownSymbol(t *testing.T) {
	t.Parallel()
	c := New(testConfig())
	if _, err := c.Lookup("ETH-PERP"); err == nil {
		t.Fatal("expected ProductUnknown error")
	} else if kind, ok := types.KindOf(err); !ok || kind != types.ErrProductUnknown {
		t.Fatalf("got %v, want ErrProductUnknown", err)
	}
}

func TestLookupAndMarkUpdate(t *testing.T) {
	t.Parallel()
	c := New(testConfig())

	snap, err := c.Lookup("BTC-PERP")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Mark != 0 {
		t.Fatalf("expected zero initial mark, got %d", snap.Mark)
	}

	if err := c.SetMark("BTC-PERP", 50_000_000000); err != nil {
		t.Fatal(err)
	}
	snap, err = c.Lookup("BTC-PERP")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Mark != 50_000_000000 {
		t.Fatalf("SetMark did not stick: got %d", snap.Mark)
	}
}

func TestSnapToTick(t *testing.T) {
	t.Parallel()
	c := New(testConfig())

	got, err := c.SnapToTick("BTC-PERP", 50_000_300000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 50_000_500000 {
		t.Fatalf("SnapToTick = %d, want 50000.5 in micro-units", got)
	}
}

func TestHedgeableAndActive(t *testing.T) {
	t.Parallel()
	c := New(testConfig())

	if got := c.Hedgeable(); len(got) != 1 {
		t.Fatalf("Hedgeable() returned %d products, want 1", len(got))
	}
	if got := c.Active(); len(got) != 1 {
		t.Fatalf("Active() returned %d products, want 1", len(got))
	}
	if got := c.ByCategory("perpetual"); len(got) != 1 {
		t.Fatalf("ByCategory() returned %d products, want 1", len(got))
	}
}
