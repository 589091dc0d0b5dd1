// Package scheduler runs the periodic background tasks spec.md §9's
// "Async coordination across threads" redesign calls for — funding
// settlement, mark-price refresh, and the daily risk reset — each on its
// own ticker-driven goroutine that enqueues a command into the sequencer
// rather than mutating catalog/position/risk state directly. Grounded on
// the teacher's internal/market.Scanner.Run: scan immediately, then loop
// on a time.NewTicker selecting against ctx.Done(), generalized here from
// one scan task to three independently-paced tasks running concurrently.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/markprice"
	"polymarket-mm/internal/matching"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/rate"
	"polymarket-mm/internal/sequencer"
	"polymarket-mm/pkg/types"
)

// DefaultFundingInterval is spec.md §9's named default funding cadence;
// config.SchedulerConfig.FundingInterval overrides it per deployment.
const DefaultFundingInterval = 8 * time.Hour

// DefaultMarkRefreshInterval recomposes mark prices on a tight cadence so
// unrealized PnL and liquidation checks stay current between trades.
const DefaultMarkRefreshInterval = time.Second

// DefaultDailyResetInterval matches one trading day.
const DefaultDailyResetInterval = 24 * time.Hour

// Scheduler owns the three periodic tasks and enqueues their effects into
// the sequencer as ordinary commands, never touching catalog, position, or
// risk state on its own goroutines.
type Scheduler struct {
	seq    *sequencer.Sequencer
	cat    *catalog.Catalog
	engine *matching.Engine
	rates  *rate.Provider

	fundingInterval   time.Duration
	markInterval      time.Duration
	resetInterval     time.Duration
	maxFundingRatePct types.Price

	logger *slog.Logger
}

// New builds a Scheduler. rates may be nil if no product configures an
// ExternalRef; mark refresh then composes from last-trade and book-mid
// alone.
func New(seq *sequencer.Sequencer, cat *catalog.Catalog, engine *matching.Engine, rates *rate.Provider, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	fundingInterval := cfg.FundingInterval
	if fundingInterval <= 0 {
		fundingInterval = DefaultFundingInterval
	}
	markInterval := cfg.MarkRefreshInterval
	if markInterval <= 0 {
		markInterval = DefaultMarkRefreshInterval
	}
	resetInterval := cfg.DailyResetInterval
	if resetInterval <= 0 {
		resetInterval = DefaultDailyResetInterval
	}

	return &Scheduler{
		seq:               seq,
		cat:               cat,
		engine:            engine,
		rates:             rates,
		fundingInterval:   fundingInterval,
		markInterval:      markInterval,
		resetInterval:     resetInterval,
		maxFundingRatePct: config.PriceOf(cfg.MaxFundingRatePct),
		logger:            logger.With("component", "scheduler"),
	}
}

// Run starts all three tasks and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.runTicker(ctx, s.markInterval, s.refreshMarks)
	go s.runTicker(ctx, s.fundingInterval, s.settleFunding)
	s.runTicker(ctx, s.resetInterval, s.resetDailyRisk)
}

// runTicker invokes task immediately, then again every interval, until ctx
// is cancelled — the teacher's market.Scanner.Run shape.
func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, task func(now time.Time)) {
	task(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			task(t)
		}
	}
}

// refreshMarks recomposes each active product's mark price from its
// external reference rate, last trade, and book mid (spec.md §4.10's
// composite formula) and enqueues a MarkUpdate command.
func (s *Scheduler) refreshMarks(now time.Time) {
	for _, snap := range s.cat.Active() {
		external := snap.Mark
		if s.rates != nil && snap.ExternalRef != "" {
			if r, ok := s.rates.Rate(snap.ExternalRef); ok {
				external = r
			}
		}
		if external <= 0 {
			external = snap.Last
		}
		if external <= 0 {
			continue // no reference price of any kind yet; nothing to compose
		}

		mid := external
		if book := s.engine.Book(snap.Symbol); book != nil {
			if m, ok := book.MidPrice(); ok {
				mid = m
			}
		}

		mark := markprice.Compose(external, snap.Last, mid)
		metrics.SetMarkPrice(snap.Symbol, float64(mark)/float64(types.MicroUnit))
		cmd := sequencer.Command{Kind: sequencer.MarkUpdate, Symbol: snap.Symbol, Mark: mark, Now: now.UnixMicro()}
		if err := s.seq.SubmitAsync(cmd); err != nil {
			s.logger.Warn("mark refresh enqueue failed", "symbol", snap.Symbol, "error", err)
		}
	}
}

// settleFunding computes each perpetual's funding rate as its mark/external
// premium, clamped to maxFundingRatePct, and enqueues a FundingSettle
// command (spec.md §9 "Funding as a scheduled command").
func (s *Scheduler) settleFunding(now time.Time) {
	for _, snap := range s.cat.Active() {
		if snap.Category != "perpetual" {
			continue
		}

		external := snap.Mark
		if s.rates != nil && snap.ExternalRef != "" {
			if r, ok := s.rates.Rate(snap.ExternalRef); ok {
				external = r
			}
		}
		if external <= 0 || snap.Mark <= 0 {
			continue
		}

		rate := int64(snap.Mark-external) * types.MicroUnit / int64(external)
		if s.maxFundingRatePct > 0 {
			cap := int64(s.maxFundingRatePct)
			if rate > cap {
				rate = cap
			}
			if rate < -cap {
				rate = -cap
			}
		}

		cmd := sequencer.Command{Kind: sequencer.FundingSettle, Symbol: snap.Symbol, FundingRate: types.Price(rate), Mark: snap.Mark, Now: now.UnixMicro()}
		if err := s.seq.SubmitAsync(cmd); err != nil {
			s.logger.Warn("funding settle enqueue failed", "symbol", snap.Symbol, "error", err)
		}
	}
}

// resetDailyRisk enqueues a DailyReset command, clearing every user's
// realized-PnL counter and blocked flag for the new trading day (spec.md
// §4.7's ResetDailyPnL admin action, run on a daily cadence instead of
// waiting on an operator).
func (s *Scheduler) resetDailyRisk(now time.Time) {
	cmd := sequencer.Command{Kind: sequencer.DailyReset, Now: now.UnixMicro()}
	if err := s.seq.SubmitAsync(cmd); err != nil {
		s.logger.Warn("daily risk reset enqueue failed", "error", err)
	}
}
