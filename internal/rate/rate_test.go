package rate

import (
	"testing"

	"polymarket-mm/pkg/types"
)

func TestRateFallbackChain(t *testing.T) {
	t.Parallel()

	p := New(
		map[string]types.Price{"USD/MNT": 3450_000000},
		map[string]types.Price{"USD/MNT": 3400_000000},
	)

	if r, ok := p.Rate("USD/MNT"); !ok || r != 3450_000000 {
		t.Fatalf("expected fallback rate, got (%d, %v)", r, ok)
	}

	p.Update("USD/MNT", 3460_000000, 1)
	if r, ok := p.Rate("USD/MNT"); !ok || r != 3460_000000 {
		t.Fatalf("expected live rate to take priority, got (%d, %v)", r, ok)
	}

	if _, ok := p.Rate("EUR/MNT"); ok {
		t.Fatalf("expected no rate for unconfigured pair")
	}
}

func TestCrossDirect(t *testing.T) {
	t.Parallel()

	p := New(nil, nil)
	p.Update("BTC/USD", 50_000_000000, 1)
	p.Update("USD/MNT", 3450_000000, 1)

	got, ok := p.Cross("BTC", "MNT", "USD")
	if !ok {
		t.Fatal("expected cross to resolve")
	}
	want := scaleMul(50_000_000000, 3450_000000)
	if got != want {
		t.Fatalf("Cross = %d, want %d", got, want)
	}
}

func TestCrossSameCurrency(t *testing.T) {
	t.Parallel()
	p := New(nil, nil)
	got, ok := p.Cross("USD", "USD", "USD")
	if !ok || got != types.MicroUnit {
		t.Fatalf("Cross(USD, USD) = (%d, %v), want (%d, true)", got, ok, types.MicroUnit)
	}
}
