// Package circuit implements the Circuit Breaker (spec.md §4.9): per-symbol
// price-limit and halt state plus a market-wide halt flag, ported directly
// from original_source/src/circuit_breaker.h's CircuitBreakerManager (the
// same states, limit-and-halt-threshold checks, and window/cooldown
// semantics), re-expressed with an explicit per-instance Manager instead of
// the original's process-wide singleton (spec.md §9 "Singletons and global
// process state").
package circuit

import (
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// State is a symbol's circuit breaker state.
type State uint8

const (
	Normal State = iota
	LimitUp
	LimitDown
	Halted
	Auction
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case LimitUp:
		return "LIMIT_UP"
	case LimitDown:
		return "LIMIT_DOWN"
	case Halted:
		return "HALTED"
	case Auction:
		return "AUCTION"
	default:
		return "UNKNOWN"
	}
}

// Config is a symbol's (or the market-wide default's) circuit breaker
// configuration.
type Config struct {
	PriceLimitFraction  types.Price // e.g. 50_000 = 5%
	HaltThresholdFraction types.Price // e.g. 100_000 = 10%
	WindowSeconds       int
	HaltDurationSeconds int
	CooldownSeconds     int
}

// DefaultConfig matches original_source's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		PriceLimitFraction:   50_000,
		HaltThresholdFraction: 100_000,
		WindowSeconds:        300,
		HaltDurationSeconds:  300,
		CooldownSeconds:      60,
	}
}

type symbolState struct {
	state          State
	referencePrice types.Price
	upperLimit     types.Price
	lowerLimit     types.Price
	windowStart    time.Time
	haltEnd        time.Time
	triggerCount   int
}

// HaltCallback is invoked whenever a symbol's state changes.
type HaltCallback func(symbol string, state State)

// MarketHaltCallback is invoked whenever the market-wide halt flag changes.
type MarketHaltCallback func(halted bool)

// Manager tracks circuit breaker state for every symbol plus the
// market-wide halt flag.
type Manager struct {
	mu            sync.Mutex
	configs       map[string]Config
	marketConfig  Config
	states        map[string]*symbolState
	marketHalted  bool
	marketHaltEnd time.Time

	onHalt       HaltCallback
	onMarketHalt MarketHaltCallback
}

// NewManager builds a Manager using marketConfig as the fallback for any
// symbol without its own configured breaker.
func NewManager(marketConfig Config) *Manager {
	return &Manager{
		configs:      make(map[string]Config),
		marketConfig: marketConfig,
		states:       make(map[string]*symbolState),
	}
}

// OnHalt registers the callback invoked on any per-symbol state change.
func (m *Manager) OnHalt(cb HaltCallback) { m.onHalt = cb }

// OnMarketHalt registers the callback invoked when the market-wide flag changes.
func (m *Manager) OnMarketHalt(cb MarketHaltCallback) { m.onMarketHalt = cb }

// Configure sets symbol's breaker configuration.
func (m *Manager) Configure(symbol string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[symbol] = cfg
}

func (m *Manager) configFor(symbol string) Config {
	if c, ok := m.configs[symbol]; ok {
		return c
	}
	return m.marketConfig
}

func (m *Manager) getOrCreate(symbol string, now time.Time) *symbolState {
	s, ok := m.states[symbol]
	if !ok {
		s = &symbolState{windowStart: now}
		m.states[symbol] = s
	}
	return s
}

// SetReferencePrice (re)seeds symbol's reference price and limit band and
// restarts its time window.
func (m *Manager) SetReferencePrice(symbol string, price types.Price, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setReferencePriceLocked(symbol, price, now)
}

func (m *Manager) setReferencePriceLocked(symbol string, price types.Price, now time.Time) {
	s := m.getOrCreate(symbol, now)
	cfg := m.configFor(symbol)

	s.referencePrice = price
	s.windowStart = now
	s.upperLimit = types.Price(int64(price) * (types.MicroUnit + int64(cfg.PriceLimitFraction)) / types.MicroUnit)
	s.lowerLimit = types.Price(int64(price) * (types.MicroUnit - int64(cfg.PriceLimitFraction)) / types.MicroUnit)
}

func (m *Manager) rollWindow(symbol string, s *symbolState, now time.Time) {
	cfg := m.configFor(symbol)
	if now.Sub(s.windowStart) > time.Duration(cfg.WindowSeconds)*time.Second {
		s.windowStart = now
	}
}

// CheckOrder validates an incoming order's price against symbol's circuit
// breaker state, returning the resulting state. A market-wide halt always
// wins; an expired per-symbol halt clears to Normal before the price check
// runs.
func (m *Manager) CheckOrder(symbol string, side types.Side, price types.Price, now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.marketHalted {
		return Halted
	}

	s := m.getOrCreate(symbol, now)

	if s.state == Halted {
		if !now.Before(s.haltEnd) {
			m.resumeTradingLocked(symbol, s, now)
		} else {
			return Halted
		}
	}

	if s.referencePrice == 0 {
		m.setReferencePriceLocked(symbol, price, now)
		return Normal
	}

	m.rollWindow(symbol, s, now)
	cfg := m.configFor(symbol)

	if price >= s.upperLimit && side == types.Buy {
		m.triggerLimitLocked(symbol, s, LimitUp, price)
		return LimitUp
	}
	if price <= s.lowerLimit && side == types.Sell {
		m.triggerLimitLocked(symbol, s, LimitDown, price)
		return LimitDown
	}

	if movedBeyond(price, s.referencePrice, cfg.HaltThresholdFraction) {
		m.triggerHaltLocked(symbol, s, now)
		return Halted
	}

	return Normal
}

// OnTrade applies the same halt-threshold check as CheckOrder but without
// the order-side limit checks, so a print can trigger a halt on its own.
func (m *Manager) OnTrade(symbol string, price types.Price, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(symbol, now)
	if s.referencePrice == 0 {
		m.setReferencePriceLocked(symbol, price, now)
		return
	}

	cfg := m.configFor(symbol)
	if s.state == Normal && movedBeyond(price, s.referencePrice, cfg.HaltThresholdFraction) {
		m.triggerHaltLocked(symbol, s, now)
	}
}

func movedBeyond(price, reference, thresholdFraction types.Price) bool {
	if reference == 0 {
		return false
	}
	diff := price - reference
	if diff < 0 {
		diff = -diff
	}
	// |diff|/reference >= thresholdFraction  <=>  |diff|*MicroUnit >= thresholdFraction*reference
	return int64(diff)*types.MicroUnit >= int64(thresholdFraction)*int64(reference)
}

func (m *Manager) triggerLimitLocked(symbol string, s *symbolState, state State, price types.Price) {
	s.state = state
	s.triggerCount++
	if m.onHalt != nil {
		m.onHalt(symbol, state)
	}
}

func (m *Manager) triggerHaltLocked(symbol string, s *symbolState, now time.Time) {
	cfg := m.configFor(symbol)
	s.state = Halted
	s.haltEnd = now.Add(time.Duration(cfg.HaltDurationSeconds) * time.Second)
	s.triggerCount++
	if m.onHalt != nil {
		m.onHalt(symbol, Halted)
	}
}

func (m *Manager) resumeTradingLocked(symbol string, s *symbolState, now time.Time) {
	s.state = Normal
	s.referencePrice = 0
	s.windowStart = now
}

// State returns symbol's current circuit breaker state.
func (m *Manager) State(symbol string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[symbol]; ok {
		return s.state
	}
	return Normal
}

// HaltSymbol unconditionally halts symbol for duration (admin action).
func (m *Manager) HaltSymbol(symbol string, duration time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(symbol, now)
	s.state = Halted
	s.haltEnd = now.Add(duration)
	if m.onHalt != nil {
		m.onHalt(symbol, Halted)
	}
}

// HaltMarket unconditionally halts the entire market for duration.
func (m *Manager) HaltMarket(duration time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketHalted = true
	m.marketHaltEnd = now.Add(duration)
	if m.onMarketHalt != nil {
		m.onMarketHalt(true)
	}
}

// ResumeMarket clears the market-wide halt flag.
func (m *Manager) ResumeMarket() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketHalted = false
	if m.onMarketHalt != nil {
		m.onMarketHalt(false)
	}
}

// IsMarketHalted reports the market-wide halt flag.
func (m *Manager) IsMarketHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketHalted
}
