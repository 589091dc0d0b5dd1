// Package rate implements the Rate Provider (spec.md §4.2): a thread-safe
// cache of FX rates with a fallback chain, never blocking the matching hot
// path.
package rate

import (
	"strings"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// entry is one cached rate observation.
type entry struct {
	rate       types.Price
	observedAt int64 // microseconds since epoch
}

// Provider caches FX rates by pair name (e.g. "USD/MNT") and resolves
// lookups through a three-tier fallback: live value, env-configured
// fallback, compiled-in default.
type Provider struct {
	mu        sync.RWMutex
	live      map[string]entry
	fallback  map[string]types.Price
	defaults  map[string]types.Price
}

// New builds a Provider with the given fallback and compiled-in default
// tables. fallback is typically sourced from config/environment; defaults
// are hardcoded last-resort values baked into the binary.
func New(fallback, defaults map[string]types.Price) *Provider {
	if fallback == nil {
		fallback = map[string]types.Price{}
	}
	if defaults == nil {
		defaults = map[string]types.Price{}
	}
	return &Provider{
		live:     make(map[string]entry),
		fallback: fallback,
		defaults: defaults,
	}
}

// Update records a new live observation for pair. Safe to call from any
// feed goroutine; never blocks the sequencer.
func (p *Provider) Update(pair string, r types.Price, observedAt int64) {
	p.mu.Lock()
	p.live[pair] = entry{rate: r, observedAt: observedAt}
	p.mu.Unlock()
}

// Rate resolves pair through the fallback chain: live, then configured
// fallback, then compiled-in default. ok is false only if none of the three
// tiers has a value.
func (p *Provider) Rate(pair string) (types.Price, bool) {
	p.mu.RLock()
	if e, found := p.live[pair]; found {
		p.mu.RUnlock()
		return e.rate, true
	}
	p.mu.RUnlock()

	if r, found := p.fallback[pair]; found {
		return r, true
	}
	if r, found := p.defaults[pair]; found {
		return r, true
	}
	return 0, false
}

// LastUpdate returns when pair's live rate was last observed, or zero if
// there has never been a live observation.
func (p *Provider) LastUpdate(pair string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live[pair].observedAt
}

// invert returns "B/A" for input "A/B".
func invert(pair string) string {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair
	}
	return parts[1] + "/" + parts[0]
}

// Cross resolves the rate to convert `foreign` into `quote` given a pivot
// currency (typically "USD"), trying a direct cross (foreign/pivot ×
// pivot/quote) and, failing that, an inverted cross (pivot/quote ÷
// pivot/foreign).
func (p *Provider) Cross(foreign, quote, pivot string) (types.Price, bool) {
	if foreign == quote {
		return types.MicroUnit, true
	}

	fp, fpOK := p.Rate(foreign + "/" + pivot)
	pq, pqOK := p.Rate(pivot + "/" + quote)
	if fpOK && pqOK {
		return scaleMul(fp, pq), true
	}

	pf, pfOK := p.Rate(pivot + "/" + foreign)
	pq2, pq2OK := p.Rate(pivot + "/" + quote)
	if pfOK && pq2OK && pf != 0 {
		return scaleDiv(pq2, pf), true
	}

	return 0, false
}

func scaleMul(a, b types.Price) types.Price {
	return types.Price((int64(a) * int64(b)) / types.MicroUnit)
}

func scaleDiv(a, b types.Price) types.Price {
	if b == 0 {
		return 0
	}
	return types.Price((int64(a) * types.MicroUnit) / int64(b))
}

// NowMicros returns the current time in microseconds since the Unix epoch,
// the timestamp unit used throughout the core (spec.md §3).
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
