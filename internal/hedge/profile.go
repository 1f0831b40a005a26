package hedge

import (
	"github.com/rxtech-lab/gridhedge/internal/zone"
)

// Profile maps a drawdown tolerance to hedge behaviour parameters. The
// profile is selected by the hedge distance the account is meant to survive.
type Profile struct {
	ID string
	// MaxDistance is the largest hedge distance, in pips, this profile serves.
	MaxDistance float64
	// ZoneWidthFactor scales ATR into the minimum zone width.
	ZoneWidthFactor   float64
	BreakoutLookahead int
	PivotLookback     int
	ScoreThreshold    float64
	// PartialCloseRatio is the fraction of a zone hedge closed on a partial.
	PartialCloseRatio float64
	// PartialCloseTriggerFactor scales the hedge distance into the profit
	// that arms a partial close.
	PartialCloseTriggerFactor float64
	// ZoneRefreshSecs is how long detected zones stay fresh.
	ZoneRefreshSecs int
	LookbackBars    int
	MaxZoneAgeBars  int
	// FallbackDistanceFactor scales the grid distance into a hedge distance
	// when none is configured.
	FallbackDistanceFactor float64
	// AllowReentry permits re-triggering a level after its hedge closed.
	AllowReentry bool
}

var profiles = []Profile{
	{
		ID:                        "tight",
		MaxDistance:               800,
		ZoneWidthFactor:           1.0,
		BreakoutLookahead:         3,
		PivotLookback:             2,
		ScoreThreshold:            0.65,
		PartialCloseRatio:         0.7,
		PartialCloseTriggerFactor: 0.5,
		ZoneRefreshSecs:           60,
		LookbackBars:              180,
		MaxZoneAgeBars:            80,
		FallbackDistanceFactor:    2.5,
		AllowReentry:              false,
	},
	{
		ID:                        "balanced",
		MaxDistance:               1600,
		ZoneWidthFactor:           1.4,
		BreakoutLookahead:         4,
		PivotLookback:             3,
		ScoreThreshold:            0.6,
		PartialCloseRatio:         0.5,
		PartialCloseTriggerFactor: 0.6,
		ZoneRefreshSecs:           90,
		LookbackBars:              240,
		MaxZoneAgeBars:            120,
		FallbackDistanceFactor:    3.0,
		AllowReentry:              true,
	},
	{
		ID:                        "wide",
		MaxDistance:               10000,
		ZoneWidthFactor:           1.8,
		BreakoutLookahead:         5,
		PivotLookback:             4,
		ScoreThreshold:            0.55,
		PartialCloseRatio:         0.35,
		PartialCloseTriggerFactor: 0.7,
		ZoneRefreshSecs:           120,
		LookbackBars:              300,
		MaxZoneAgeBars:            160,
		FallbackDistanceFactor:    3.5,
		AllowReentry:              true,
	},
}

// ProfileFor selects the profile covering the given hedge distance in pips.
// Distances beyond every profile fall back to the widest one.
func ProfileFor(distancePips float64) Profile {
	for _, p := range profiles {
		if distancePips <= p.MaxDistance {
			return p
		}
	}

	return profiles[len(profiles)-1]
}

// Profiles returns the full profile table, tightest first.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)

	return out
}

// ZoneParams returns the zone detection parameters of the profile.
func (p Profile) ZoneParams() zone.Params {
	return zone.Params{
		ZoneWidthFactor:   p.ZoneWidthFactor,
		BreakoutLookahead: p.BreakoutLookahead,
		PivotLookback:     p.PivotLookback,
		ScoreThreshold:    p.ScoreThreshold,
		LookbackBars:      p.LookbackBars,
		MaxZoneAgeBars:    p.MaxZoneAgeBars,
	}
}
