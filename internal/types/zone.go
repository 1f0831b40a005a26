package types

import "time"

type ZoneKind string

const (
	// ZoneKindDemand is a zone below price expected to attract buying.
	ZoneKindDemand ZoneKind = "demand"
	// ZoneKindSupply is a zone above price expected to attract selling.
	ZoneKindSupply ZoneKind = "supply"
)

// Zone is a detected supply or demand area on the chart.
type Zone struct {
	Kind  ZoneKind `json:"kind" yaml:"kind"`
	Lower float64  `json:"lower" yaml:"lower"`
	Upper float64  `json:"upper" yaml:"upper"`
	// Score is the zone quality in [0, 1].
	Score float64 `json:"score" yaml:"score"`
	// BaseTime is the time of the pivot candle the zone was built from.
	BaseTime time.Time `json:"base_time" yaml:"base_time"`
}

// Contains reports whether price lies inside the zone span.
func (z Zone) Contains(price float64) bool {
	return price >= z.Lower && price <= z.Upper
}

// Width returns the zone span in price units.
func (z Zone) Width() float64 {
	return z.Upper - z.Lower
}
