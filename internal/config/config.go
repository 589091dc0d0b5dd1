// Package config defines all configuration for the exchange core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via EXCHANGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"polymarket-mm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	RateFeed  RateFeedConfig  `mapstructure:"rate_feed"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	AdminAPI  AdminAPIConfig  `mapstructure:"admin_api"`
}

// ProductConfig is one entry of the static instrument catalog loaded at
// startup (spec.md §4.1). Decimal fields are parsed with shopspring/decimal
// and converted to fixed-point micro-units before the Product struct is
// built; nothing downstream of config ever sees a float again.
type ProductConfig struct {
	Symbol              string          `mapstructure:"symbol"`
	Category            string          `mapstructure:"category"`
	QuoteCurrency        string          `mapstructure:"quote_currency"`
	ExternalRef          string          `mapstructure:"external_ref"`
	QuoteMultiplier      decimal.Decimal `mapstructure:"quote_multiplier"`
	Inverted             bool            `mapstructure:"inverted"`
	ContractSize         decimal.Decimal `mapstructure:"contract_size"`
	TickSize             decimal.Decimal `mapstructure:"tick_size"`
	MinOrderSize         decimal.Decimal `mapstructure:"min_order_size"`
	MaxOrderSize         decimal.Decimal `mapstructure:"max_order_size"`
	InitialMarginRate    decimal.Decimal `mapstructure:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `mapstructure:"maintenance_margin_rate"`
	MakerFeeRate         decimal.Decimal `mapstructure:"maker_fee_rate"`
	TakerFeeRate         decimal.Decimal `mapstructure:"taker_fee_rate"`
	SpreadMarkup         decimal.Decimal `mapstructure:"spread_markup"`
	MinNotional          decimal.Decimal `mapstructure:"min_notional"`
	MinFeeFloor          decimal.Decimal `mapstructure:"min_fee_floor"`
	HedgeMode            bool            `mapstructure:"hedge_mode"`
	Active               bool            `mapstructure:"active"`
}

// CatalogConfig lists the products the exchange recognizes at startup.
type CatalogConfig struct {
	Products []ProductConfig `mapstructure:"products"`
}

// RateFeedConfig configures the external FX-rate feed adapter (spec.md §4.2
// and the "external collaborator" boundary described in spec.md §1).
type RateFeedConfig struct {
	PollInterval   time.Duration     `mapstructure:"poll_interval"`
	HTTPBaseURL    string            `mapstructure:"http_base_url"`
	WSURL          string            `mapstructure:"ws_url"`
	FallbackRates  map[string]string `mapstructure:"fallback_rates"` // pair -> decimal string
}

// RiskConfig sets per-user default limits enforced by the Risk Engine (C7).
type RiskConfig struct {
	MaxPositionNotional     decimal.Decimal `mapstructure:"max_position_notional"`
	DailyLossLimit          decimal.Decimal `mapstructure:"daily_loss_limit"`
	MaxOrdersPerSecond      int             `mapstructure:"max_orders_per_second"`
	FatFingerThresholdPct   decimal.Decimal `mapstructure:"fat_finger_threshold_pct"`
	InsuranceContributionBps int           `mapstructure:"insurance_contribution_bps"`
}

// CircuitConfig sets per-symbol defaults for the Circuit Breaker (C9).
type CircuitConfig struct {
	PriceLimitPct     decimal.Decimal `mapstructure:"price_limit_pct"`
	HaltThresholdPct  decimal.Decimal `mapstructure:"halt_threshold_pct"`
	WindowSeconds     int             `mapstructure:"window_seconds"`
	HaltDurationSec   int             `mapstructure:"halt_duration_seconds"`
	CooldownSeconds   int             `mapstructure:"cooldown_seconds"`
}

// JournalConfig configures the append-only event journal (C3).
type JournalConfig struct {
	Path            string `mapstructure:"path"`
	BulkFlushEvery  int    `mapstructure:"bulk_flush_every"`
}

// SequencerConfig configures the command sequencer (C11).
type SequencerConfig struct {
	RingCapacity    int           `mapstructure:"ring_capacity"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// SchedulerConfig sets the cadence of the periodic background tasks
// (funding settlement, mark-price refresh, daily risk reset) that enqueue
// commands into the sequencer rather than mutating state directly.
type SchedulerConfig struct {
	FundingInterval     time.Duration   `mapstructure:"funding_interval"`
	MarkRefreshInterval time.Duration   `mapstructure:"mark_refresh_interval"`
	DailyResetInterval  time.Duration   `mapstructure:"daily_reset_interval"`
	MaxFundingRatePct   decimal.Decimal `mapstructure:"max_funding_rate_pct"`
}

// SnapshotConfig sets where periodic account/position snapshots are persisted,
// grounded on the teacher's atomic-rename JSON persistence pattern.
type SnapshotConfig struct {
	DataDir  string        `mapstructure:"data_dir"`
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AdminAPIConfig controls the read-only HTTP/WebSocket admin surface
// (internal/api): product catalog, account, and circuit-breaker queries
// plus a live event stream, grounded on the teacher's dashboard server.
type AdminAPIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if addr := os.Getenv("EXCHANGE_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if os.Getenv("EXCHANGE_METRICS_ENABLED") == "true" || os.Getenv("EXCHANGE_METRICS_ENABLED") == "1" {
		cfg.Metrics.Enabled = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Catalog.Products) == 0 {
		return fmt.Errorf("catalog.products must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Catalog.Products))
	for _, p := range c.Catalog.Products {
		if p.Symbol == "" {
			return fmt.Errorf("catalog product missing symbol")
		}
		if seen[p.Symbol] {
			return fmt.Errorf("catalog.products: duplicate symbol %q", p.Symbol)
		}
		seen[p.Symbol] = true
		if p.TickSize.IsZero() || p.TickSize.IsNegative() {
			return fmt.Errorf("catalog product %q: tick_size must be > 0", p.Symbol)
		}
		if p.InitialMarginRate.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("catalog product %q: initial_margin_rate must be > 0", p.Symbol)
		}
	}
	if c.Risk.MaxPositionNotional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk.max_position_notional must be > 0")
	}
	if c.Risk.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("risk.max_orders_per_second must be > 0")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if c.Sequencer.RingCapacity <= 0 || c.Sequencer.RingCapacity&(c.Sequencer.RingCapacity-1) != 0 {
		return fmt.Errorf("sequencer.ring_capacity must be a power of two")
	}
	return nil
}

// PriceOf converts a decimal.Decimal config field to a fixed-point Price.
func PriceOf(d decimal.Decimal) types.Price {
	return types.FromDecimal(d)
}

// QtyOf converts a decimal.Decimal config field to a fixed-point Qty.
func QtyOf(d decimal.Decimal) types.Qty {
	return types.FromDecimalQty(d)
}
