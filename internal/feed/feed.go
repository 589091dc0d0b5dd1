// Package feed implements the external rate-feed adapters the Rate
// Provider (C2) consumes. This is the "external collaborator" boundary
// spec.md §1 describes: the core only knows the RateFeed interface below;
// HTTPRateFeed and WSRateFeed are replaceable concrete implementations,
// grounded on the teacher's resty-based REST client and gorilla/websocket
// streaming feed respectively.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Tick is one observed (pair, rate) sample from an external feed.
type Tick struct {
	Pair      string
	Rate      types.Price
	ObservedAt int64 // microseconds since epoch
}

// Sink receives ticks as they arrive. internal/rate.Provider.Update matches
// this signature.
type Sink func(pair string, rate types.Price, observedAt int64)

// RateFeed is the contract the core depends on; it never depends on resty
// or gorilla/websocket directly.
type RateFeed interface {
	// Run polls or streams until ctx is cancelled, publishing every
	// observed tick to sink.
	Run(ctx context.Context, sink Sink)
}

// ratePayload is the expected JSON shape of a single rate observation from
// the HTTP feed: {"pair": "USD/MNT", "rate": "3451.20"}.
type ratePayload struct {
	Pair string `json:"pair"`
	Rate string `json:"rate"`
}

// HTTPRateFeed polls a REST endpoint for a batch of rate quotes on a fixed
// interval, using resty with the same retry/backoff discipline as the
// teacher's exchange.Client (3 retries, 500ms-5s backoff).
type HTTPRateFeed struct {
	client   *resty.Client
	pairs    []string
	interval time.Duration
	logger   *slog.Logger
}

// NewHTTPRateFeed builds an HTTPRateFeed polling baseURL/rates?pair=X for
// each configured pair every interval.
func NewHTTPRateFeed(baseURL string, pairs []string, interval time.Duration, logger *slog.Logger) *HTTPRateFeed {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &HTTPRateFeed{
		client:   client,
		pairs:    pairs,
		interval: interval,
		logger:   logger.With("component", "rate-feed-http"),
	}
}

// Run implements RateFeed.
func (f *HTTPRateFeed) Run(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.pollOnce(ctx, sink)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx, sink)
		}
	}
}

func (f *HTTPRateFeed) pollOnce(ctx context.Context, sink Sink) {
	for _, pair := range f.pairs {
		var payload ratePayload
		resp, err := f.client.R().
			SetContext(ctx).
			SetQueryParam("pair", pair).
			SetResult(&payload).
			Get("/rates")
		if err != nil {
			f.logger.Warn("rate feed poll failed", "pair", pair, "error", err)
			continue
		}
		if resp.IsError() {
			f.logger.Warn("rate feed returned error status", "pair", pair, "status", resp.StatusCode())
			continue
		}

		d, err := decimal.NewFromString(payload.Rate)
		if err != nil {
			f.logger.Warn("rate feed returned unparseable rate", "pair", pair, "raw", payload.Rate, "error", err)
			continue
		}

		sink(pair, types.FromDecimal(d), time.Now().UnixMicro())
	}
}

// String gives HTTPRateFeed a readable identity for logging.
func (f *HTTPRateFeed) String() string {
	return fmt.Sprintf("HTTPRateFeed(pairs=%d, interval=%s)", len(f.pairs), f.interval)
}
