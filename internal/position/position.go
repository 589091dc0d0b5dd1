// Package position implements the Position Manager (spec.md §4.6):
// per-user balances and per-(user,symbol) open positions, margin locking,
// VWAP average-entry accounting, realized/unrealized PnL, fee collection,
// and forced liquidation. Grounded on the teacher's strategy.Inventory
// (VWAP-on-fill, reduce-realizes-PnL, SetPosition-for-restore), re-derived
// in fixed-point for margined long/short positions rather than binary-market
// spot YES/NO holdings, and using internal/margin for the margin formulas
// instead of inlining them.
package position

import (
	"sync"
	"time"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/journal"
	"polymarket-mm/internal/margin"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/pkg/types"
)

// Position is one user's open position in one symbol.
type Position struct {
	Symbol           string
	Size             types.Qty // signed: positive long, negative short, zero flat
	AvgEntry         types.Price
	LockedMargin     int64
	RealizedPnL      int64
	UnrealizedPnL    int64
	LiquidationPrice types.Price
}

// IsFlat reports whether the position has been closed.
func (p Position) IsFlat() bool { return p.Size == 0 }

// Account is one user's balance plus their open positions.
type Account struct {
	mu        sync.Mutex
	UserID    string
	Available int64
	positions map[string]*Position
}

func newAccount(user string) *Account {
	return &Account{UserID: user, positions: make(map[string]*Position)}
}

// Snapshot is a read-only copy of an account's balance and positions,
// published so callers never hold the account's lock.
type Snapshot struct {
	UserID    string
	Available int64
	Positions map[string]Position
}

// Manager owns every user's Account, grounded on the teacher's
// strategy.Inventory but scoped across all users and symbols rather than
// one Inventory per market.
type Manager struct {
	mu       sync.RWMutex
	cat      *catalog.Catalog
	jrnl     *journal.Writer
	accounts map[string]*Account

	insuranceMu   sync.Mutex
	insuranceFund int64
	insuranceBps  int
}

// NewManager builds a Manager. jrnl may be nil, in which case journal
// writes are silently skipped (used in tests that don't need replay).
func NewManager(cat *catalog.Catalog, jrnl *journal.Writer) *Manager {
	return &Manager{
		cat:      cat,
		jrnl:     jrnl,
		accounts: make(map[string]*Account),
	}
}

// SetInsuranceContributionBps configures the slice of every collected fee
// (in basis points of the fee, not the trade notional) diverted into the
// insurance fund (spec.md §9, config.RiskConfig.InsuranceContributionBps).
// Left unset, no fee contribution is made and the fund only moves on
// liquidation draws.
func (m *Manager) SetInsuranceContributionBps(bps int) { m.insuranceBps = bps }

func (m *Manager) getOrCreateAccount(user string) *Account {
	m.mu.RLock()
	a, ok := m.accounts[user]
	m.mu.RUnlock()
	if ok {
		return a
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok = m.accounts[user]; ok {
		return a
	}
	a = newAccount(user)
	m.accounts[user] = a
	return a
}

func (m *Manager) appendEvent(typ journal.EventType, payload []byte) {
	if m.jrnl == nil {
		return
	}
	// A journal append failure is discarded here: it is neither logged
	// nor retried, and account state advances regardless.
	_, _ = m.jrnl.Append(typ, payload)
}

// Deposit credits user's available balance.
func (m *Manager) Deposit(user string, amount int64, now time.Time) error {
	if amount <= 0 {
		return types.NewRejection(types.ErrQuantityNonPositive, "deposit amount must be positive")
	}
	a := m.getOrCreateAccount(user)

	a.mu.Lock()
	a.Available += amount
	a.mu.Unlock()

	m.appendEvent(journal.EventDeposit, journal.CashEvent{
		User:     user,
		Currency: "USD",
		Amount:   amount,
		Ts:       uint64(now.UnixMicro()),
	}.Encode())
	return nil
}

// Withdraw debits user's available balance, rejecting if insufficient.
func (m *Manager) Withdraw(user string, amount int64, now time.Time) error {
	if amount <= 0 {
		return types.NewRejection(types.ErrQuantityNonPositive, "withdrawal amount must be positive")
	}
	a := m.getOrCreateAccount(user)

	a.mu.Lock()
	if amount > a.Available {
		a.mu.Unlock()
		return types.NewRejection(types.ErrInsufficientFunds, user)
	}
	a.Available -= amount
	a.mu.Unlock()

	m.appendEvent(journal.EventWithdrawal, journal.CashEvent{
		User:     user,
		Currency: "USD",
		Amount:   amount,
		Ts:       uint64(now.UnixMicro()),
	}.Encode())
	return nil
}

// CheckMargin reports whether user's available balance covers the initial
// margin required to open qty contracts of symbol at price.
func (m *Manager) CheckMargin(user, symbol string, qty types.Qty, price types.Price) (bool, error) {
	prod, err := m.cat.Lookup(symbol)
	if err != nil {
		return false, err
	}
	required := margin.Initial(qty, price, prod.InitialMarginRate)

	a := m.getOrCreateAccount(user)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Available >= required, nil
}

// Account returns a snapshot of user's balance and open positions.
func (m *Manager) Account(user string) Snapshot {
	a := m.getOrCreateAccount(user)
	a.mu.Lock()
	defer a.mu.Unlock()

	out := Snapshot{UserID: a.UserID, Available: a.Available, Positions: make(map[string]Position, len(a.positions))}
	for sym, p := range a.positions {
		out.Positions[sym] = *p
	}
	return out
}

// Position returns user's position in symbol, and whether one exists.
func (m *Manager) Position(user, symbol string) (Position, bool) {
	a := m.getOrCreateAccount(user)
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// PositionSize reports user's current signed size in symbol, satisfying
// matching.PositionSizer so the matching engine can enforce reduce-only
// orders without depending on the full Position shape.
func (m *Manager) PositionSize(user, symbol string) (types.Qty, bool) {
	p, ok := m.Position(user, symbol)
	if !ok {
		return 0, false
	}
	return p.Size, true
}

func abs(q types.Qty) types.Qty {
	if q < 0 {
		return -q
	}
	return q
}

// ApplyTrade applies a completed trade to both the maker's and the taker's
// positions (spec.md §4.6 apply_trade), mutating trade.MakerFee and
// trade.TakerFee in place with the fees actually charged.
func (m *Manager) ApplyTrade(trade *types.Trade, now time.Time) error {
	prod, err := m.cat.Lookup(trade.Symbol)
	if err != nil {
		return err
	}

	makerAcct := m.getOrCreateAccount(trade.MakerUserID)
	takerAcct := m.getOrCreateAccount(trade.TakerUserID)

	makerSide := trade.TakerSide.Opposite()
	makerFee := m.applyFill(makerAcct, trade.Symbol, prod, makerSide, trade.Quantity, trade.Price, prod.MakerFeeRate, types.FeeMaker, now)
	takerFee := m.applyFill(takerAcct, trade.Symbol, prod, trade.TakerSide, trade.Quantity, trade.Price, prod.TakerFeeRate, types.FeeTaker, now)

	trade.MakerFee = makerFee
	trade.TakerFee = takerFee
	return nil
}

// applyFill applies one leg of a trade (spec.md §4.6): open/add, reduce, or
// flip-through-zero, plus fee collection. Returns the fee charged.
func (m *Manager) applyFill(acct *Account, symbol string, prod catalog.Snapshot, side types.Side, qty types.Qty, price types.Price, feeRate types.Price, feeType types.FeeType, now time.Time) int64 {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	pos, ok := acct.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		acct.positions[symbol] = pos
	}

	signedDelta := qty
	if side == types.Sell {
		signedDelta = -qty
	}

	sameSign := pos.Size == 0 || (pos.Size > 0) == (signedDelta > 0)

	if sameSign {
		m.openOrAdd(acct, pos, prod, qty, signedDelta, price, now)
	} else if qty <= abs(pos.Size) {
		m.reduce(acct, pos, qty, signedDelta, price, now)
	} else {
		// Flip through zero: close the existing side entirely, then open
		// the remainder in the new direction at the trade price.
		closingQty := abs(pos.Size)
		remainder := qty - closingQty
		m.reduce(acct, pos, closingQty, -pos.Size, price, now)

		newSignedDelta := remainder
		if signedDelta < 0 {
			newSignedDelta = -remainder
		}
		m.openOrAdd(acct, pos, prod, remainder, newSignedDelta, price, now)
	}

	notional := types.Notional(price, qty)
	fee := notional * int64(feeRate) / types.MicroUnit
	if floor := int64(prod.MinFeeFloor); fee < floor {
		fee = floor
	}
	acct.Available -= fee

	m.appendEvent(journal.EventFeeCollection, journal.FeeEvent{
		User:    acct.UserID,
		Symbol:  symbol,
		Amount:  fee,
		FeeType: feeType.String(),
		Ts:      uint64(now.UnixMicro()),
	}.Encode())

	if m.insuranceBps > 0 && fee > 0 {
		contribution := fee * int64(m.insuranceBps) / 10_000
		if contribution > 0 {
			m.ContributeInsurance(contribution, "fee:"+symbol, now)
		}
	}

	return fee
}

// openOrAdd grows |size| by qty in the direction of signedDelta, rolling
// the VWAP average entry price forward.
func (m *Manager) openOrAdd(acct *Account, pos *Position, prod catalog.Snapshot, qty types.Qty, signedDelta types.Qty, price types.Price, now time.Time) {
	absSize := abs(pos.Size)
	newAbsSize := absSize + qty
	if newAbsSize > 0 {
		num := int64(absSize)*int64(pos.AvgEntry) + int64(qty)*int64(price)
		pos.AvgEntry = types.Price(num / int64(newAbsSize))
	}
	pos.Size += signedDelta

	marginDelta := types.Notional(price, qty) * int64(prod.InitialMarginRate) / types.MicroUnit
	pos.LockedMargin += marginDelta

	m.appendEvent(journal.EventMarginLock, journal.MarginEvent{
		User:         acct.UserID,
		Symbol:       pos.Symbol,
		Amount:       marginDelta,
		BalanceAfter: pos.LockedMargin,
		Ts:           uint64(now.UnixMicro()),
	}.Encode())
}

// reduce shrinks |size| by reduceQty (reduceQty must be <= |size|),
// realizing PnL and releasing margin proportionally.
func (m *Manager) reduce(acct *Account, pos *Position, reduceQty types.Qty, signedDelta types.Qty, price types.Price, now time.Time) {
	absSize := abs(pos.Size)

	var pnl int64
	if pos.Size > 0 {
		pnl = types.Notional(price-pos.AvgEntry, reduceQty)
	} else {
		pnl = types.Notional(pos.AvgEntry-price, reduceQty)
	}
	pos.RealizedPnL += pnl
	acct.Available += pnl

	var released int64
	if absSize > 0 {
		released = pos.LockedMargin * int64(reduceQty) / int64(absSize)
	}
	pos.LockedMargin -= released
	pos.Size += signedDelta

	if pos.Size == 0 {
		pos.AvgEntry = 0
		pos.LockedMargin = 0
	}

	m.appendEvent(journal.EventMarginRelease, journal.MarginEvent{
		User:         acct.UserID,
		Symbol:       pos.Symbol,
		Amount:       -released,
		BalanceAfter: pos.LockedMargin,
		Ts:           uint64(now.UnixMicro()),
	}.Encode())
}

// UpdateAllUnrealized recomputes and caches unrealized PnL and liquidation
// price for every open position, given the latest mark price per symbol.
func (m *Manager) UpdateAllUnrealized(marks map[string]types.Price) {
	m.mu.RLock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.RUnlock()

	for _, a := range accounts {
		a.mu.Lock()
		for symbol, pos := range a.positions {
			if pos.IsFlat() {
				continue
			}
			mark, ok := marks[symbol]
			if !ok {
				continue
			}
			pos.UnrealizedPnL = margin.Unrealized(pos.Size, pos.AvgEntry, mark)

			prod, err := m.cat.Lookup(symbol)
			if err != nil {
				continue
			}
			if lp, ok := margin.LiquidationPrice(pos.Size, pos.AvgEntry, a.Available+pos.LockedMargin, prod.MaintenanceMarginRate); ok {
				pos.LiquidationPrice = lp
			}
		}
		a.mu.Unlock()
	}
}

// SweepLiquidations checks every account holding an open position in
// symbol against the maintenance margin requirement at mark and
// force-closes any that fall short (spec.md §4.6/§4.8's forced-liquidation
// responsibility). Callers run this right after UpdateAllUnrealized
// refreshes the same symbol's marks, so the equity check sees current
// unrealized PnL. Returns the liquidated users, for event publication by
// the caller.
func (m *Manager) SweepLiquidations(symbol string, mark types.Price, now time.Time) []string {
	prod, err := m.cat.Lookup(symbol)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.RUnlock()

	var due []string
	for _, a := range accounts {
		a.mu.Lock()
		pos, ok := a.positions[symbol]
		liquidate := ok && !pos.IsFlat() && margin.ShouldLiquidate(pos.Size, pos.AvgEntry, mark, a.Available+pos.LockedMargin, prod.MaintenanceMarginRate)
		a.mu.Unlock()
		if liquidate {
			due = append(due, a.UserID)
		}
	}

	for _, user := range due {
		_ = m.Liquidate(user, symbol, mark, now)
	}
	return due
}

// Liquidate force-closes user's position in symbol at mark, drawing any
// shortfall from the insurance fund (spec.md §4.6).
func (m *Manager) Liquidate(user, symbol string, mark types.Price, now time.Time) error {
	a := m.getOrCreateAccount(user)

	a.mu.Lock()
	pos, ok := a.positions[symbol]
	if !ok || pos.IsFlat() {
		a.mu.Unlock()
		return nil
	}

	closingSize := pos.Size
	pnl := margin.Unrealized(pos.Size, pos.AvgEntry, mark)

	a.Available += pos.LockedMargin + pnl
	pos.RealizedPnL += pnl
	pos.LockedMargin = 0
	pos.Size = 0
	pos.AvgEntry = 0
	pos.UnrealizedPnL = 0
	pos.LiquidationPrice = 0

	var insuranceDraw int64
	if a.Available < 0 {
		insuranceDraw = -a.Available
		a.Available = 0
	}
	a.mu.Unlock()

	if insuranceDraw > 0 {
		m.insuranceMu.Lock()
		m.insuranceFund -= insuranceDraw
		balanceAfter := m.insuranceFund
		m.insuranceMu.Unlock()

		m.appendEvent(journal.EventInsurancePayout, journal.InsuranceEvent{
			Amount:       -insuranceDraw,
			BalanceAfter: balanceAfter,
			Source:       "liquidation:" + symbol,
			Ts:           uint64(now.UnixMicro()),
		}.Encode())
	}

	m.appendEvent(journal.EventLiquidation, journal.LiquidationEvent{
		User:          user,
		Symbol:        symbol,
		Size:          int64(closingSize),
		Mark:          int64(mark),
		RealizedPnL:   pnl,
		InsuranceDraw: insuranceDraw,
		Ts:            uint64(now.UnixMicro()),
	}.Encode())
	metrics.IncLiquidation(symbol)
	metrics.SetInsuranceFund(float64(m.InsuranceFund()) / float64(types.MicroUnit))
	return nil
}

// ApplyFunding settles a funding payment against every account holding an
// open position in symbol: a long position pays when rate is positive, a
// short position receives, proportional to position size and mark price
// (spec.md §9's funding-as-scheduled-command; payment = size · mark · rate,
// same sign convention as original_source's forex_service funding loop).
func (m *Manager) ApplyFunding(symbol string, rate types.Price, mark types.Price, now time.Time) {
	m.mu.RLock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.RUnlock()

	for _, a := range accounts {
		a.mu.Lock()
		pos, ok := a.positions[symbol]
		if !ok || pos.IsFlat() {
			a.mu.Unlock()
			continue
		}
		payment := int64(pos.Size) * int64(mark) / types.MicroUnit * int64(rate) / types.MicroUnit
		a.Available -= payment
		size := pos.Size
		a.mu.Unlock()

		m.appendEvent(journal.EventFundingPayment, journal.FundingEvent{
			User:    a.UserID,
			Symbol:  symbol,
			Size:    int64(size),
			Rate:    int64(rate),
			Payment: payment,
			Ts:      uint64(now.UnixMicro()),
		}.Encode())
	}
}

// InsuranceFund returns the current insurance fund balance.
func (m *Manager) InsuranceFund() int64 {
	m.insuranceMu.Lock()
	defer m.insuranceMu.Unlock()
	return m.insuranceFund
}

// Accounts returns a snapshot of every user currently known to the
// manager, for periodic persistence (internal/store).
func (m *Manager) Accounts() []Snapshot {
	m.mu.RLock()
	users := make([]string, 0, len(m.accounts))
	for u := range m.accounts {
		users = append(users, u)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(users))
	for _, u := range users {
		out = append(out, m.Account(u))
	}
	return out
}

// Restore re-seeds an account's balance and positions from a persisted
// snapshot, bypassing journal emission — the restore-on-restart
// counterpart to internal/store's Capture, generalized from one
// inventory per market to the full account. Callers apply this before the
// manager serves any live traffic; it does not itself replay the journal.
func (m *Manager) Restore(snap Snapshot) {
	a := m.getOrCreateAccount(snap.UserID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Available = snap.Available
	a.positions = make(map[string]*Position, len(snap.Positions))
	for sym, p := range snap.Positions {
		pos := p
		a.positions[sym] = &pos
	}
}

// RestoreInsuranceFund re-seeds the insurance fund balance from a
// persisted snapshot, bypassing journal emission.
func (m *Manager) RestoreInsuranceFund(balance int64) {
	m.insuranceMu.Lock()
	m.insuranceFund = balance
	m.insuranceMu.Unlock()
}

// ContributeInsurance credits the insurance fund (e.g. a slice of collected
// fees), emitting InsuranceContribution.
func (m *Manager) ContributeInsurance(amount int64, source string, now time.Time) {
	m.insuranceMu.Lock()
	m.insuranceFund += amount
	balanceAfter := m.insuranceFund
	m.insuranceMu.Unlock()

	m.appendEvent(journal.EventInsuranceContribution, journal.InsuranceEvent{
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Source:       source,
		Ts:           uint64(now.UnixMicro()),
	}.Encode())
}
