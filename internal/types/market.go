package types

import "time"

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
)

// Tick is a single bid/ask quote.
type Tick struct {
	Symbol string    `json:"symbol" yaml:"symbol"`
	Bid    float64   `json:"bid" yaml:"bid"`
	Ask    float64   `json:"ask" yaml:"ask"`
	Time   time.Time `json:"time" yaml:"time"`
}

// Mid returns the mid price of the quote.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candle is a single OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time" yaml:"time"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}

// Body returns the absolute size of the candle body.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}

	return c.Open - c.Close
}

// Range returns the high-low span of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}
