package types

import "time"

// Position is an open broker position as reported by the gateway.
type Position struct {
	Ticket       int64     `json:"ticket" yaml:"ticket"`
	Symbol       string    `json:"symbol" yaml:"symbol"`
	Side         Side      `json:"side" yaml:"side"`
	Volume       float64   `json:"volume" yaml:"volume"`
	OpenPrice    float64   `json:"open_price" yaml:"open_price"`
	CurrentPrice float64   `json:"current_price" yaml:"current_price"`
	StopLoss     float64   `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit   float64   `json:"take_profit" yaml:"take_profit"`
	// Profit is the unrealized P&L reported by the broker, in account currency.
	Profit   float64   `json:"profit" yaml:"profit"`
	OpenTime time.Time `json:"open_time" yaml:"open_time"`
	Role     Role      `json:"role" yaml:"role"`
	LevelKey string    `json:"level_key" yaml:"level_key"`
	Comment  string    `json:"comment" yaml:"comment"`
	Magic    int64     `json:"magic" yaml:"magic"`
}

// PriceMove returns the signed price move in the position's favor.
// Positive means the position is in profit.
func (p Position) PriceMove() float64 {
	if p.Side == SideBuy {
		return p.CurrentPrice - p.OpenPrice
	}

	return p.OpenPrice - p.CurrentPrice
}

// AccountSnapshot represents the broker account state at one point in time.
type AccountSnapshot struct {
	Balance     float64 `json:"balance" yaml:"balance"`
	Equity      float64 `json:"equity" yaml:"equity"`
	Margin      float64 `json:"margin" yaml:"margin"`
	FreeMargin  float64 `json:"free_margin" yaml:"free_margin"`
	MarginLevel float64 `json:"margin_level" yaml:"margin_level"`
	// Profit is the total unrealized P&L of all open positions.
	Profit float64 `json:"profit" yaml:"profit"`
}

// MarginUsage returns margin as a percentage of equity, 0 when equity is 0.
func (a AccountSnapshot) MarginUsage() float64 {
	if a.Equity <= 0 {
		return 0
	}

	return a.Margin / a.Equity * 100
}
