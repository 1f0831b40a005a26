package utils

import "math"

// RoundToLotStep rounds volume down to the nearest multiple of step.
// A non-positive step leaves the volume untouched.
func RoundToLotStep(volume float64, step float64) float64 {
	if step <= 0 {
		return volume
	}

	steps := math.Floor(volume/step + 1e-9)

	return steps * step
}

// RoundToDecimalPrecision rounds the volume down to the specified decimal precision.
func RoundToDecimalPrecision(volume float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(volume*multiplier) / multiplier
}

// ClampVolume bounds volume to [min, max]. A non-positive max means no upper bound.
func ClampVolume(volume, min, max float64) float64 {
	if volume < min {
		volume = min
	}

	if max > 0 && volume > max {
		volume = max
	}

	return volume
}

// MaxVolumeByRisk returns the largest volume whose worst-case loss over
// slPips stays within riskFraction of the balance. pipValuePerLot is the
// account-currency value of one pip for a one-lot position.
func MaxVolumeByRisk(balance, riskFraction, slPips, pipValuePerLot float64) float64 {
	if balance <= 0 || slPips <= 0 || pipValuePerLot <= 0 {
		return 0
	}

	return balance * riskFraction / (slPips * pipValuePerLot)
}
