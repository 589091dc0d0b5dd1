package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

func testManager() *Manager {
	return NewManager(config.RiskConfig{
		MaxPositionNotional:   decimal.NewFromInt(100_000),
		DailyLossLimit:        decimal.NewFromInt(5_000),
		MaxOrdersPerSecond:    3,
		FatFingerThresholdPct: decimal.NewFromFloat(0.1),
	})
}

func TestCheckOrderAllowsWithinLimits(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 50_000_000000, now)
	if err != nil {
		t.Fatalf("expected Ok, got %v", err)
	}
}

func TestCheckOrderRateLimitExceeded(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now); err != nil {
			t.Fatalf("order %d: unexpected error %v", i, err)
		}
	}
	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now)
	if err == nil {
		t.Fatal("expected RateLimitExceeded on the 4th order within 1s")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrRateLimitExceeded {
		t.Fatalf("kind = %v, want RateLimitExceeded", kind)
	}

	// After the window rolls, orders are allowed again.
	err = m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now.Add(1100*time.Millisecond))
	if err != nil {
		t.Fatalf("expected Ok once the 1s window has rolled, got %v", err)
	}
}

func TestCheckOrderPositionLimitExceeded(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	// 3 BTC @ 50,000 = 150,000 notional > 100,000 limit.
	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 3_000000, 0, now)
	if err == nil {
		t.Fatal("expected PositionLimitExceeded")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrPositionLimitExceeded {
		t.Fatalf("kind = %v, want PositionLimitExceeded", kind)
	}
}

func TestCheckOrderFatFingerPrice(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	// 20% away from the 50,000 reference, threshold is 10%.
	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 60_000_000000, 1_000000, 50_000_000000, now)
	if err == nil {
		t.Fatal("expected FatFingerPrice")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrFatFingerPrice {
		t.Fatalf("kind = %v, want FatFingerPrice", kind)
	}
}

func TestUpdatePositionTriggersDailyLossBlock(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	m.UpdatePosition("alice", "BTC-PERP", 0, -6_000_000000, now)
	if !m.IsBlocked("alice") {
		t.Fatal("expected alice to be blocked after breaching the daily loss limit")
	}

	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now)
	if err == nil {
		t.Fatal("expected DailyLossLimit rejection while blocked")
	}
	if kind, _ := types.KindOf(err); kind != types.ErrDailyLossLimit {
		t.Fatalf("kind = %v, want DailyLossLimit", kind)
	}
}

func TestUnblockUserClearsBlockWithoutTouchingCounters(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	m.UpdatePosition("alice", "BTC-PERP", 0, -6_000_000000, now)
	m.UnblockUser("alice")
	if m.IsBlocked("alice") {
		t.Fatal("expected alice to be unblocked")
	}

	// Daily loss is still in breach, so the next check re-blocks her.
	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now)
	if err == nil {
		t.Fatal("expected DailyLossLimit rejection: daily PnL is still breached")
	}
}

func TestResetDailyPnLClearsBlockedAndCounters(t *testing.T) {
	t.Parallel()
	m := testManager()
	now := time.Unix(1_700_000_000, 0)

	m.UpdatePosition("alice", "BTC-PERP", 0, -6_000_000000, now)
	m.ResetDailyPnL(now.Add(24 * time.Hour))

	err := m.CheckOrder("alice", "BTC-PERP", types.Buy, 50_000_000000, 1_000000, 0, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("expected Ok after daily reset, got %v", err)
	}
}
