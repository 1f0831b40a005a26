// Package zone detects supply and demand zones from candle history using
// pivot points confirmed by a breakout and a volume expansion. Detection is
// a pure function of its inputs so results are reproducible.
package zone

import (
	"time"

	"github.com/rxtech-lab/gridhedge/internal/types"
)

const (
	volumeWindow = 10
	// floors in pips applied to zone width and breakout normalization
	minWidthPips    = 10.0
	minBreakoutPips = 10.0
)

// Params are the detection knobs, usually taken from a hedge profile.
type Params struct {
	ZoneWidthFactor   float64
	BreakoutLookahead int
	PivotLookback     int
	ScoreThreshold    float64
	LookbackBars      int
	MaxZoneAgeBars    int
}

// Detect scans the candles, oldest first, and returns scored zones.
// atrPips sizes the minimum zone width and normalizes breakout strength.
// pipValue converts pips to price units.
func Detect(candles []types.Candle, atrPips, pipValue float64, params Params) []types.Zone {
	if len(candles) < params.LookbackBars/2 {
		return nil
	}

	zoneWidth := max(atrPips*params.ZoneWidthFactor, minWidthPips) * pipValue
	breakoutFactor := max(atrPips, minBreakoutPips) * pipValue

	var zones []types.Zone

	lookback := params.PivotLookback
	maxIndex := len(candles) - params.BreakoutLookahead - 1

	for idx := lookback; idx < maxIndex; idx++ {
		if isPivotLow(candles, idx, lookback) {
			if z, ok := demandZone(candles, idx, lookback, params, zoneWidth, breakoutFactor); ok {
				zones = append(zones, z)
			}
		}

		if isPivotHigh(candles, idx, lookback) {
			if z, ok := supplyZone(candles, idx, lookback, params, zoneWidth, breakoutFactor); ok {
				zones = append(zones, z)
			}
		}
	}

	return pruneAged(zones, candles, params.MaxZoneAgeBars)
}

// isPivotLow requires strictly higher lows before the pivot and no lower
// low after it. The asymmetry keeps a flat double bottom from producing
// two pivots.
func isPivotLow(candles []types.Candle, index, lookback int) bool {
	low := candles[index].Low

	for i := index - lookback; i < index; i++ {
		if candles[i].Low <= low {
			return false
		}
	}

	for i := index + 1; i <= index+lookback; i++ {
		if candles[i].Low < low {
			return false
		}
	}

	return true
}

func isPivotHigh(candles []types.Candle, index, lookback int) bool {
	high := candles[index].High

	for i := index - lookback; i < index; i++ {
		if candles[i].High >= high {
			return false
		}
	}

	for i := index + 1; i <= index+lookback; i++ {
		if candles[i].High > high {
			return false
		}
	}

	return true
}

func demandZone(candles []types.Candle, idx, lookback int, params Params, zoneWidth, breakoutFactor float64) (types.Zone, bool) {
	baseLow, baseHigh := baseRange(candles, idx, lookback)
	height := max(baseHigh-baseLow, zoneWidth)

	breakoutHigh := candles[idx+1].High
	for i := idx + 2; i <= idx+params.BreakoutLookahead; i++ {
		if candles[i].High > breakoutHigh {
			breakoutHigh = candles[i].High
		}
	}

	strength := breakoutHigh - baseHigh
	if strength <= 0 {
		return types.Zone{}, false
	}

	score := scoreZone(strength, breakoutFactor, volumeRatio(candles, idx+1))
	if score < params.ScoreThreshold {
		return types.Zone{}, false
	}

	return types.Zone{
		Kind:     types.ZoneKindDemand,
		Lower:    baseLow,
		Upper:    baseLow + height,
		Score:    score,
		BaseTime: candles[idx].Time,
	}, true
}

func supplyZone(candles []types.Candle, idx, lookback int, params Params, zoneWidth, breakoutFactor float64) (types.Zone, bool) {
	baseLow, baseHigh := baseRange(candles, idx, lookback)
	height := max(baseHigh-baseLow, zoneWidth)

	breakoutLow := candles[idx+1].Low
	for i := idx + 2; i <= idx+params.BreakoutLookahead; i++ {
		if candles[i].Low < breakoutLow {
			breakoutLow = candles[i].Low
		}
	}

	strength := baseLow - breakoutLow
	if strength <= 0 {
		return types.Zone{}, false
	}

	score := scoreZone(strength, breakoutFactor, volumeRatio(candles, idx+1))
	if score < params.ScoreThreshold {
		return types.Zone{}, false
	}

	return types.Zone{
		Kind:     types.ZoneKindSupply,
		Lower:    baseHigh - height,
		Upper:    baseHigh,
		Score:    score,
		BaseTime: candles[idx].Time,
	}, true
}

// baseRange returns the low/high extremes of the pivot base candles.
func baseRange(candles []types.Candle, idx, lookback int) (float64, float64) {
	low := candles[idx-lookback].Low
	high := candles[idx-lookback].High

	for i := idx - lookback + 1; i <= idx; i++ {
		if candles[i].Low < low {
			low = candles[i].Low
		}

		if candles[i].High > high {
			high = candles[i].High
		}
	}

	return low, high
}

// scoreZone averages the normalized breakout strength and volume expansion,
// each capped at 1.
func scoreZone(strength, breakoutFactor, volumeRatio float64) float64 {
	score := min(1.0, strength/breakoutFactor)
	score += min(1.0, volumeRatio/2.0)

	return score / 2.0
}

// volumeRatio compares the candle's volume against the average of the
// preceding window.
func volumeRatio(candles []types.Candle, index int) float64 {
	start := index - volumeWindow
	if start < 0 {
		start = 0
	}

	if start == index {
		return 1.0
	}

	total := 0.0
	for i := start; i < index; i++ {
		total += candles[i].Volume
	}

	avg := total / float64(index-start)
	if avg == 0 {
		return 1.0
	}

	return candles[index].Volume / avg
}

// pruneAged drops zones whose pivot is older than maxAgeBars candle steps
// behind the latest candle.
func pruneAged(zones []types.Zone, candles []types.Candle, maxAgeBars int) []types.Zone {
	if maxAgeBars <= 0 || len(candles) < 2 || len(zones) == 0 {
		return zones
	}

	step := candles[1].Time.Sub(candles[0].Time)
	cutoff := candles[len(candles)-1].Time.Add(-time.Duration(maxAgeBars) * step)

	var kept []types.Zone

	for _, z := range zones {
		if !z.BaseTime.Before(cutoff) {
			kept = append(kept, z)
		}
	}

	return kept
}
