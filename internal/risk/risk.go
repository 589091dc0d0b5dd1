// Package risk implements the Risk Engine (spec.md §4.7): per-user
// pre-trade checks — a blocked flag with daily auto-reset, a rolling
// 1-second order-rate limit, a position-notional cap, a fat-finger price
// deviation check, and a daily loss limit — enforced before an order
// reaches the matching engine. Grounded on the teacher's risk.Manager
// (per-user limit configuration, kill-switch/blocked-flag shape) and
// exchange.TokenBucket (the rolling-window rate-limiting idiom), scoped
// down from the teacher's portfolio-wide kill switch to spec.md's
// per-user synchronous check_order gate.
package risk

import (
	"sync"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// Limits are one user's risk limits. Zero values fall back to the
// Manager-wide defaults from config.RiskConfig.
type Limits struct {
	MaxPositionNotional   int64
	DailyLossLimit        int64
	MaxOrdersPerSecond    int
	FatFingerThresholdPct types.Price // fraction, micro-units (e.g. 0.1 = 100_000)
}

// userState is one user's mutable risk-tracking state (spec.md §4.7).
type userState struct {
	mu sync.Mutex

	positionNotional map[string]int64 // symbol -> signed notional
	dailyRealizedPnL int64
	timestamps       []time.Time // rolling 1s window for rate limiting
	blocked          bool
	lastResetDay     int // day-of-year of the last daily reset

	limits Limits
}

// Manager tracks per-user risk state across every symbol.
type Manager struct {
	mu       sync.RWMutex
	defaults Limits
	users    map[string]*userState
}

// NewManager builds a Manager from config.RiskConfig's defaults.
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{
		defaults: Limits{
			MaxPositionNotional:   int64(config.PriceOf(cfg.MaxPositionNotional)),
			DailyLossLimit:        int64(config.PriceOf(cfg.DailyLossLimit)),
			MaxOrdersPerSecond:    cfg.MaxOrdersPerSecond,
			FatFingerThresholdPct: config.PriceOf(cfg.FatFingerThresholdPct),
		},
		users: make(map[string]*userState),
	}
}

func (m *Manager) getOrCreate(user string, now time.Time) *userState {
	m.mu.RLock()
	u, ok := m.users[user]
	m.mu.RUnlock()
	if ok {
		return u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok = m.users[user]; ok {
		return u
	}
	u = &userState{
		positionNotional: make(map[string]int64),
		lastResetDay:     now.YearDay(),
		limits:           m.defaults,
	}
	m.users[user] = u
	return u
}

// SetLimits overrides user's limits; zero fields fall back to the
// Manager-wide defaults.
func (m *Manager) SetLimits(user string, limits Limits) {
	u := m.getOrCreate(user, time.Now())
	u.mu.Lock()
	defer u.mu.Unlock()
	if limits.MaxPositionNotional != 0 {
		u.limits.MaxPositionNotional = limits.MaxPositionNotional
	}
	if limits.DailyLossLimit != 0 {
		u.limits.DailyLossLimit = limits.DailyLossLimit
	}
	if limits.MaxOrdersPerSecond != 0 {
		u.limits.MaxOrdersPerSecond = limits.MaxOrdersPerSecond
	}
	if limits.FatFingerThresholdPct != 0 {
		u.limits.FatFingerThresholdPct = limits.FatFingerThresholdPct
	}
}

// CheckOrder runs the spec.md §4.7 pre-trade gate, in the exact named
// check order. referencePrice of 0 skips the fat-finger check.
func (m *Manager) CheckOrder(user, symbol string, side types.Side, price types.Price, qty types.Qty, referencePrice types.Price, now time.Time) error {
	u := m.getOrCreate(user, now)
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.blocked {
		return types.NewRejection(types.ErrDailyLossLimit, user)
	}

	if now.YearDay() != u.lastResetDay {
		u.blocked = false
		u.dailyRealizedPnL = 0
		u.lastResetDay = now.YearDay()
	}

	u.purgeOldTimestamps(now)
	if len(u.timestamps) >= u.limits.MaxOrdersPerSecond && u.limits.MaxOrdersPerSecond > 0 {
		return types.NewRejection(types.ErrRateLimitExceeded, user)
	}

	signedQty := qty
	if side == types.Sell {
		signedQty = -signedQty
	}
	projected := u.positionNotional[symbol] + types.Notional(price, signedQty)
	if abs64(projected) > u.limits.MaxPositionNotional && u.limits.MaxPositionNotional > 0 {
		return types.NewRejection(types.ErrPositionLimitExceeded, user)
	}

	if referencePrice > 0 && u.limits.FatFingerThresholdPct > 0 {
		diff := price - referencePrice
		if diff < 0 {
			diff = -diff
		}
		if int64(diff)*types.MicroUnit > int64(u.limits.FatFingerThresholdPct)*int64(referencePrice) {
			return types.NewRejection(types.ErrFatFingerPrice, user)
		}
	}

	if u.limits.DailyLossLimit > 0 && u.dailyRealizedPnL < -u.limits.DailyLossLimit {
		u.blocked = true
		return types.NewRejection(types.ErrDailyLossLimit, user)
	}

	u.timestamps = append(u.timestamps, now)
	return nil
}

func (u *userState) purgeOldTimestamps(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(u.timestamps) && u.timestamps[i].Before(cutoff) {
		i++
	}
	u.timestamps = u.timestamps[i:]
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// UpdatePosition updates user's per-symbol position notional and daily
// realized PnL aggregates, re-evaluating the blocked flag if the daily
// loss limit is newly breached.
func (m *Manager) UpdatePosition(user, symbol string, notionalDelta, realizedPnLDelta int64, now time.Time) {
	u := m.getOrCreate(user, now)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.positionNotional[symbol] += notionalDelta
	u.dailyRealizedPnL += realizedPnLDelta

	if u.limits.DailyLossLimit > 0 && u.dailyRealizedPnL < -u.limits.DailyLossLimit {
		u.blocked = true
	}
}

// ResetDailyPnL clears every user's daily realized PnL counter and blocked
// flag (called once per trading day by the scheduler).
func (m *Manager) ResetDailyPnL(now time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		u.mu.Lock()
		u.dailyRealizedPnL = 0
		u.blocked = false
		u.lastResetDay = now.YearDay()
		u.mu.Unlock()
	}
}

// UnblockUser clears user's blocked flag without touching their counters.
func (m *Manager) UnblockUser(user string) {
	u := m.getOrCreate(user, time.Now())
	u.mu.Lock()
	u.blocked = false
	u.mu.Unlock()
}

// IsBlocked reports whether user currently has the blocked flag set.
func (m *Manager) IsBlocked(user string) bool {
	u := m.getOrCreate(user, time.Now())
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.blocked
}
