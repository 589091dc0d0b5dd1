// Package catalog implements the Product Catalog (spec.md §4.1): static
// instrument metadata plus the mutable mark/last/funding fields every trade
// and mark-price tick updates.
package catalog

import (
	"sync"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// Meta is one instrument's immutable metadata, set once at load time.
type Meta struct {
	Symbol   string
	Category string

	QuoteCurrency   string
	ExternalRef     string // reference symbol on an external price feed, "" if none
	QuoteMultiplier types.Price
	Inverted        bool

	ContractSize types.Qty
	TickSize     types.Price
	MinOrderSize types.Qty
	MaxOrderSize types.Qty

	InitialMarginRate     types.Price // rate expressed as micro-units per unit (i.e. rate*1e6)
	MaintenanceMarginRate types.Price
	MakerFeeRate          types.Price
	TakerFeeRate          types.Price
	SpreadMarkup          types.Price
	MinNotional           types.Price
	MinFeeFloor           types.Price

	HedgeMode bool
	Active    bool
}

// Product pairs a product's immutable metadata with its mutable mark/last/
// funding fields, guarded by a narrow mutex so external threads may read or
// update them without routing through the sequencer (spec.md §5).
type Product struct {
	Meta

	mu      sync.RWMutex
	mark    types.Price
	last    types.Price
	funding types.Price
}

// Snapshot is an immutable copy-on-write view of a product published
// atomically so readers never take the per-product lock (spec.md §9
// "Shared mutable state in feeds").
type Snapshot struct {
	Meta
	Mark    types.Price
	Last    types.Price
	Funding types.Price
}

func newProduct(pc config.ProductConfig) *Product {
	return &Product{
		Meta: Meta{
			Symbol:                pc.Symbol,
			Category:              pc.Category,
			QuoteCurrency:         pc.QuoteCurrency,
			ExternalRef:           pc.ExternalRef,
			QuoteMultiplier:       config.PriceOf(pc.QuoteMultiplier),
			Inverted:              pc.Inverted,
			ContractSize:          config.QtyOf(pc.ContractSize),
			TickSize:              config.PriceOf(pc.TickSize),
			MinOrderSize:          config.QtyOf(pc.MinOrderSize),
			MaxOrderSize:          config.QtyOf(pc.MaxOrderSize),
			InitialMarginRate:     config.PriceOf(pc.InitialMarginRate),
			MaintenanceMarginRate: config.PriceOf(pc.MaintenanceMarginRate),
			MakerFeeRate:          config.PriceOf(pc.MakerFeeRate),
			TakerFeeRate:          config.PriceOf(pc.TakerFeeRate),
			SpreadMarkup:          config.PriceOf(pc.SpreadMarkup),
			MinNotional:           config.PriceOf(pc.MinNotional),
			MinFeeFloor:           config.PriceOf(pc.MinFeeFloor),
			HedgeMode:             pc.HedgeMode,
			Active:                pc.Active,
		},
	}
}

// Catalog maps symbol to product record.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// New builds a Catalog from configured products.
func New(cfg config.CatalogConfig) *Catalog {
	c := &Catalog{products: make(map[string]*Product, len(cfg.Products))}
	for _, pc := range cfg.Products {
		c.products[pc.Symbol] = newProduct(pc)
	}
	return c
}

// Lookup returns the snapshot for symbol, or ProductUnknown.
func (c *Catalog) Lookup(symbol string) (Snapshot, error) {
	c.mu.RLock()
	p, ok := c.products[symbol]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, types.NewRejection(types.ErrProductUnknown, symbol)
	}
	return p.snapshot(), nil
}

// ByCategory enumerates every product in the given category.
func (c *Catalog) ByCategory(category string) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Snapshot
	for _, p := range c.products {
		if p.Category == category {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// Active enumerates every product with Active == true.
func (c *Catalog) Active() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Snapshot
	for _, p := range c.products {
		if p.Active {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// Hedgeable enumerates products that have an external reference and a
// non-zero hedge mode.
func (c *Catalog) Hedgeable() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Snapshot
	for _, p := range c.products {
		if p.ExternalRef != "" && p.HedgeMode {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// SetMark atomically updates the composite mark price for symbol.
func (c *Catalog) SetMark(symbol string, mark types.Price) error {
	p, err := c.get(symbol)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.mark = mark
	p.mu.Unlock()
	return nil
}

// SetLast atomically updates the last-traded price for symbol.
func (c *Catalog) SetLast(symbol string, last types.Price) error {
	p, err := c.get(symbol)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.last = last
	p.mu.Unlock()
	return nil
}

// SetFunding atomically updates the funding rate for symbol.
func (c *Catalog) SetFunding(symbol string, rate types.Price) error {
	p, err := c.get(symbol)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.funding = rate
	p.mu.Unlock()
	return nil
}

// SnapToTick rounds price to symbol's tick size.
func (c *Catalog) SnapToTick(symbol string, price types.Price) (types.Price, error) {
	p, err := c.get(symbol)
	if err != nil {
		return 0, err
	}
	p.mu.RLock()
	tick := p.TickSize
	p.mu.RUnlock()
	return types.SnapToTick(price, tick), nil
}

func (c *Catalog) get(symbol string) (*Product, error) {
	c.mu.RLock()
	p, ok := c.products[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, types.NewRejection(types.ErrProductUnknown, symbol)
	}
	return p, nil
}

func (p *Product) snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{Meta: p.Meta, Mark: p.mark, Last: p.last, Funding: p.funding}
}
