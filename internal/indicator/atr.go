// Package indicator holds the candle-based calculations the engines consume.
package indicator

import (
	"math"

	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// DefaultATRPeriod is the standard ATR averaging window.
const DefaultATRPeriod = 14

// VolatilityLevel buckets an ATR reading for sizing decisions.
type VolatilityLevel string

const (
	VolatilityLow      VolatilityLevel = "LOW"
	VolatilityModerate VolatilityLevel = "MODERATE"
	VolatilityHigh     VolatilityLevel = "HIGH"
	VolatilityVeryHigh VolatilityLevel = "VERY_HIGH"
)

// ATR computes the Average True Range over the last period candles and
// returns it in pips. Candles must be ordered oldest first. The calculation
// needs period+1 candles so the first true range has a previous close.
func ATR(candles []types.Candle, period int, pipValue float64) (float64, error) {
	if period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "period must be a positive integer, got %d", period)
	}

	if pipValue <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "pip value must be positive, got %f", pipValue)
	}

	required := period + 1
	if len(candles) < required {
		return 0, errors.NewInsufficientDataError(required, len(candles), "", "not enough candles for ATR")
	}

	window := candles[len(candles)-required:]

	sum := 0.0
	for i := 1; i < len(window); i++ {
		sum += trueRange(window[i], window[i-1].Close)
	}

	return sum / float64(period) / pipValue, nil
}

func trueRange(c types.Candle, prevClose float64) float64 {
	return math.Max(
		c.High-c.Low,
		math.Max(
			math.Abs(c.High-prevClose),
			math.Abs(c.Low-prevClose),
		),
	)
}

// Volatility buckets an ATR reading in pips into a coarse level.
func Volatility(atrPips float64) VolatilityLevel {
	switch {
	case atrPips < 40:
		return VolatilityLow
	case atrPips < 70:
		return VolatilityModerate
	case atrPips < 100:
		return VolatilityHigh
	default:
		return VolatilityVeryHigh
	}
}
