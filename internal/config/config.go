// Package config holds the bot configuration and pip conversion helpers.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Duration wraps time.Duration so YAML values like "500ms" parse directly.
type Duration time.Duration

// UnmarshalYAML implements custom unmarshaling for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements custom marshaling for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SideConfig holds per-side grid parameters.
type SideConfig struct {
	// GridDistance is the spacing between grid legs, in pips.
	GridDistance float64 `yaml:"grid_distance" json:"grid_distance" validate:"required,gt=0"`
	// LotSize is the volume of each grid leg.
	LotSize float64 `yaml:"lot_size" json:"lot_size" validate:"required,gt=0"`
	// TakeProfit is the take profit distance, in pips.
	TakeProfit float64 `yaml:"take_profit" json:"take_profit" validate:"required,gt=0"`
}

// GridConfig configures the grid engine.
type GridConfig struct {
	// Direction selects which sides the grid trades: buy, sell or both.
	Direction string     `yaml:"direction" json:"direction" validate:"required,oneof=buy sell both"`
	Buy       SideConfig `yaml:"buy" json:"buy" validate:"required"`
	Sell      SideConfig `yaml:"sell" json:"sell" validate:"required"`
}

// HedgeSideConfig holds per-side hedge parameters.
type HedgeSideConfig struct {
	// Distance is the spacing between hedge trigger levels, in pips.
	Distance float64 `yaml:"distance" json:"distance" validate:"required,gt=0"`
	// SLTrigger is the profit in pips at which the breakeven stop is armed.
	SLTrigger float64 `yaml:"sl_trigger" json:"sl_trigger" validate:"required,gt=0"`
	// SLBuffer is the breakeven stop offset from the open price, in pips.
	SLBuffer float64 `yaml:"sl_buffer" json:"sl_buffer" validate:"required,gt=0"`
	// Multiplier scales hedge volume relative to net grid exposure.
	Multiplier float64 `yaml:"multiplier" json:"multiplier" validate:"required,gt=0"`
	// InitialLot is the minimum hedge volume.
	InitialLot float64 `yaml:"initial_lot" json:"initial_lot" validate:"required,gt=0"`
	// MaxLevels caps the trigger ladder for the side.
	MaxLevels int `yaml:"max_levels" json:"max_levels" validate:"required,gt=0"`
}

// HedgeConfig configures the hedge engine.
type HedgeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Direction selects which hedge sides are active: buy, sell or both.
	Direction string          `yaml:"direction" json:"direction" validate:"required,oneof=buy sell both"`
	Buy       HedgeSideConfig `yaml:"buy" json:"buy" validate:"required"`
	Sell      HedgeSideConfig `yaml:"sell" json:"sell" validate:"required"`
	// UseZones enables zone-based triggers in addition to fixed levels.
	UseZones bool `yaml:"use_zones" json:"use_zones"`
	// RiskFraction bounds hedge volume by worst-case loss against balance.
	RiskFraction float64 `yaml:"risk_fraction" json:"risk_fraction" validate:"gte=0,lte=1"`
	// LotStep is the broker volume increment.
	LotStep float64 `yaml:"lot_step" json:"lot_step" validate:"required,gt=0"`
}

// RiskConfig configures the risk monitor.
type RiskConfig struct {
	// MaxMarginUsage is the alert threshold for margin/equity, in percent.
	MaxMarginUsage float64 `yaml:"max_margin_usage" json:"max_margin_usage" validate:"required,gt=0,lte=100"`
	// MaxDrawdown is the alert threshold for open loss, in account currency.
	MaxDrawdown  float64 `yaml:"max_drawdown" json:"max_drawdown" validate:"required,gt=0"`
	AlertEnabled bool    `yaml:"alert_enabled" json:"alert_enabled"`
}

// BrokerConfig holds broker-side metadata attached to every order.
type BrokerConfig struct {
	Magic int64 `yaml:"magic" json:"magic" validate:"required"`
	// Deviation is the maximum slippage in points accepted on fills.
	Deviation    int    `yaml:"deviation" json:"deviation" validate:"gte=0"`
	CommentGrid  string `yaml:"comment_grid" json:"comment_grid" validate:"required"`
	CommentHedge string `yaml:"comment_hedge" json:"comment_hedge" validate:"required"`
}

// Config is the root bot configuration.
type Config struct {
	Symbol string `yaml:"symbol" json:"symbol" validate:"required"`
	// PipValue is the price change of one pip (0.1 for XAUUSD).
	PipValue float64 `yaml:"pip_value" json:"pip_value" validate:"required,gt=0"`
	// TickInterval is the polling loop period.
	TickInterval Duration `yaml:"tick_interval" json:"tick_interval" validate:"required"`
	// JournalPath is the DuckDB trade journal location, empty for in-memory.
	JournalPath string       `yaml:"journal_path" json:"journal_path"`
	Grid        GridConfig   `yaml:"grid" json:"grid" validate:"required"`
	Hedge       HedgeConfig  `yaml:"hedge" json:"hedge" validate:"required"`
	Risk        RiskConfig   `yaml:"risk" json:"risk" validate:"required"`
	Broker      BrokerConfig `yaml:"broker" json:"broker" validate:"required"`
}

// DefaultConfig returns the stock XAUUSD configuration.
func DefaultConfig() Config {
	return Config{
		Symbol:       "XAUUSD",
		PipValue:     0.1,
		TickInterval: Duration(time.Second),
		JournalPath:  "",
		Grid: GridConfig{
			Direction: "both",
			Buy:       SideConfig{GridDistance: 50, LotSize: 0.01, TakeProfit: 50},
			Sell:      SideConfig{GridDistance: 50, LotSize: 0.01, TakeProfit: 50},
		},
		Hedge: HedgeConfig{
			Enabled:   true,
			Direction: "both",
			Buy: HedgeSideConfig{
				Distance: 200, SLTrigger: 100, SLBuffer: 10,
				Multiplier: 1.2, InitialLot: 0.01, MaxLevels: 10,
			},
			Sell: HedgeSideConfig{
				Distance: 2000, SLTrigger: 1000, SLBuffer: 20,
				Multiplier: 1.2, InitialLot: 0.01, MaxLevels: 10,
			},
			UseZones:     true,
			RiskFraction: 0.03,
			LotStep:      0.01,
		},
		Risk: RiskConfig{
			MaxMarginUsage: 80,
			MaxDrawdown:    1000,
			AlertEnabled:   true,
		},
		Broker: BrokerConfig{
			Magic:        123456,
			Deviation:    20,
			CommentGrid:  "GridBot",
			CommentHedge: "HG",
		},
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// PipsToPrice converts a pip distance to a price distance.
func (c *Config) PipsToPrice(pips float64) float64 {
	return pips * c.PipValue
}

// PriceToPips converts a price distance to a pip distance.
func (c *Config) PriceToPips(price float64) float64 {
	if c.PipValue == 0 {
		return 0
	}

	return price / c.PipValue
}

// GridSide returns the grid settings for a side direction string.
func (c *Config) GridSide(buy bool) SideConfig {
	if buy {
		return c.Grid.Buy
	}

	return c.Grid.Sell
}

// HedgeSide returns the hedge settings for a side direction string.
func (c *Config) HedgeSide(buy bool) HedgeSideConfig {
	if buy {
		return c.Hedge.Buy
	}

	return c.Hedge.Sell
}
