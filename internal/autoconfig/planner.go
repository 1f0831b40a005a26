// Package autoconfig derives grid and hedge settings from market state:
// either scaling distances off the current ATR by risk appetite, or working
// backwards from the drawdown the account is meant to survive.
package autoconfig

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/advisor"
	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/indicator"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// RiskProfile scales ATR into grid and hedge distances.
type RiskProfile struct {
	ID string
	// GridATRMultiplier scales ATR pips into the grid distance.
	GridATRMultiplier float64
	// HedgeGridMultiplier scales the grid distance into the hedge distance.
	HedgeGridMultiplier float64
	// SLRatio scales the hedge distance into the breakeven trigger.
	SLRatio    float64
	Defensive  bool
	Descriptor string
}

var riskProfiles = []RiskProfile{
	{ID: "very_conservative", GridATRMultiplier: 2.0, HedgeGridMultiplier: 5.0, SLRatio: 0.7, Defensive: true, Descriptor: "very wide grid, distant hedges"},
	{ID: "conservative", GridATRMultiplier: 1.5, HedgeGridMultiplier: 4.0, SLRatio: 0.6, Defensive: true, Descriptor: "wide grid, distant hedges"},
	{ID: "moderate", GridATRMultiplier: 1.0, HedgeGridMultiplier: 3.0, SLRatio: 0.5, Descriptor: "balanced"},
	{ID: "aggressive", GridATRMultiplier: 0.7, HedgeGridMultiplier: 2.5, SLRatio: 0.4, Descriptor: "narrow grid, close hedges"},
	{ID: "very_aggressive", GridATRMultiplier: 0.5, HedgeGridMultiplier: 2.0, SLRatio: 0.35, Descriptor: "very narrow grid, close hedges"},
}

// RiskProfileByID returns the named risk profile, falling back to moderate.
func RiskProfileByID(id string) RiskProfile {
	for _, p := range riskProfiles {
		if p.ID == id {
			return p
		}
	}

	return RiskProfileByID("moderate")
}

// RiskProfiles returns the full table, most defensive first.
func RiskProfiles() []RiskProfile {
	out := make([]RiskProfile, len(riskProfiles))
	copy(out, riskProfiles)

	return out
}

const (
	// clamps applied to derived distances, in pips
	minGridDistance  = 20
	maxGridDistance  = 200
	minHedgeDistance = 100
	maxHedgeDistance = 1000

	atrTimeframe = types.TimeframeM15

	contractSize   = 100
	pipValuePerLot = 10.0

	// stock retail leverage, assumed when the caller cannot supply one
	defaultLeverage = 100.0

	// survivability simulation stops below this margin level
	safeMarginLevel = 1.5
	maxSimDistance  = 10000
)

// Plan is a derived settings proposal.
type Plan struct {
	Direction  advisor.Direction
	Confidence advisor.Confidence
	// distances and trigger in pips, same value for both sides
	GridDistance  float64
	HedgeDistance float64
	SLTrigger     float64
	ATR           float64
	RiskProfile   string
	At            time.Time
	// Resilience carries the sizing detail when the plan was derived from
	// a drawdown budget.
	Resilience *ResilienceDetail
}

// ResilienceParams bound the drawdown-budget derivation.
type ResilienceParams struct {
	// TargetDistance is the adverse move, in pips, the grid must survive.
	TargetDistance float64
	// DrawdownRatio is the fraction of the balance allowed as open loss.
	DrawdownRatio float64
	MaxLevels     int
}

// DefaultResilienceParams returns the stock derivation bounds.
func DefaultResilienceParams() ResilienceParams {
	return ResilienceParams{
		TargetDistance: 5000,
		DrawdownRatio:  0.6,
		MaxLevels:      40,
	}
}

// ResilienceDetail explains how a resilience plan was sized.
type ResilienceDetail struct {
	RequestedDistance  float64
	ActualDistance     float64
	GridLevels         int
	LotSize            float64
	EstimatedDrawdown  float64
	TargetDrawdown     float64
	MarginUsagePercent float64
	TotalMargin        float64
	LevelsFromDrawdown int
	LevelsFromMargin   int
}

// Survivability reports how far the market can run against a one-sided
// grid before the margin level breaks.
type Survivability struct {
	MaxDistancePips float64
	MaxGridLevels   int
	MaxHedgeLevels  int
	MaxMargin       float64
	MaxDrawdown     float64
	FinalMarginLvl  float64
	FinalEquity     float64
	Status          string
}

// Planner derives settings through the broker gateway.
type Planner struct {
	gateway broker.Gateway
	cfg     *config.Config
	advisor *advisor.Advisor
	log     *logger.Logger
}

// NewPlanner creates a settings planner.
func NewPlanner(gateway broker.Gateway, cfg *config.Config, adv *advisor.Advisor, log *logger.Logger) *Planner {
	return &Planner{
		gateway: gateway,
		cfg:     cfg,
		advisor: adv,
		log:     log,
	}
}

// PlanFromATR scales the current ATR into distances by risk appetite. The
// grid direction comes from the candle and volume advisor; without advice
// the grid stays two-sided.
func (p *Planner) PlanFromATR(ctx context.Context, profileID string, now time.Time) (*Plan, error) {
	profile := RiskProfileByID(profileID)

	candles, err := p.gateway.GetRecentCandles(ctx, p.cfg.Symbol, atrTimeframe, indicator.DefaultATRPeriod+1)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCandleFetchFailed, "failed to fetch candles for planning", err)
	}

	atrPips, err := indicator.ATR(candles, indicator.DefaultATRPeriod, p.cfg.PipValue)
	if err != nil {
		return nil, err
	}

	gridDistance := clamp(math.Round(atrPips*profile.GridATRMultiplier), minGridDistance, maxGridDistance)
	hedgeDistance := clamp(math.Round(gridDistance*profile.HedgeGridMultiplier), minHedgeDistance, maxHedgeDistance)
	slTrigger := math.Round(hedgeDistance * profile.SLRatio)

	direction := advisor.DirectionBoth
	confidence := advisor.ConfidenceLow

	if advice, err := p.advisor.Advise(ctx, now); err == nil {
		direction = advice.Direction
		confidence = advice.Confidence
	} else {
		p.log.Warn("direction advice unavailable, staying two-sided", zap.Error(err))
	}

	plan := &Plan{
		Direction:     direction,
		Confidence:    confidence,
		GridDistance:  gridDistance,
		HedgeDistance: hedgeDistance,
		SLTrigger:     slTrigger,
		ATR:           atrPips,
		RiskProfile:   profile.ID,
		At:            now,
	}

	p.log.Info("plan derived from ATR",
		zap.String("risk_profile", profile.ID),
		zap.Float64("atr_pips", atrPips),
		zap.Float64("grid_distance", gridDistance),
		zap.Float64("hedge_distance", hedgeDistance),
		zap.String("direction", string(direction)))

	return plan, nil
}

// PlanResilience works backwards from a drawdown budget: given the adverse
// distance the account must survive and the fraction of balance allowed as
// open loss, it spaces the grid so the worst-case loss stays inside both
// the drawdown budget and the margin budget.
func (p *Planner) PlanResilience(ctx context.Context, params ResilienceParams, now time.Time) (*Plan, error) {
	account, err := p.gateway.GetAccountSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotUnavailable, "failed to fetch account snapshot for planning", err)
	}

	tick, err := p.gateway.GetCurrentPrice(ctx, p.cfg.Symbol)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePriceUnavailable, "failed to fetch price for planning", err)
	}

	distance := math.Max(params.TargetDistance, 100)
	drawdownRatio := clamp(params.DrawdownRatio, 0.1, 0.95)

	maxLevels := params.MaxLevels
	if maxLevels < 1 {
		maxLevels = 1
	}

	lotSize := math.Max(p.cfg.Grid.Buy.LotSize, p.cfg.Grid.Sell.LotSize)
	if lotSize <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "grid lot size must be positive for resilience planning")
	}

	targetDrawdown := account.Balance * drawdownRatio
	marginPerLot := tick.Bid * contractSize / defaultLeverage
	marginPerPosition := marginPerLot * lotSize

	// a grid spaced over the full distance loses lot*pip value per pip per
	// leg; summed over the triangle of legs that is distance*(levels+1)/2,
	// which inverts to this level count
	levelsFromDrawdown := int(math.Floor(2*targetDrawdown/(pipValuePerLot*lotSize*distance) - 1))

	marginBudget := account.Balance * (p.cfg.Risk.MaxMarginUsage / 100)

	levelsFromMargin := maxLevels
	if marginPerPosition > 0 {
		levelsFromMargin = int(math.Floor(marginBudget / marginPerPosition))
	}

	levels := levelsFromDrawdown
	if levelsFromMargin < levels {
		levels = levelsFromMargin
	}

	if levels > maxLevels {
		levels = maxLevels
	}

	if levels < 1 {
		levels = 1
	}

	gridDistance := math.Max(math.Round(distance/float64(levels)), 5)
	actualDistance := gridDistance * float64(levels)

	totalMargin := marginPerPosition * float64(levels)

	marginUsage := 0.0
	if account.Balance > 0 {
		marginUsage = math.Min(100, totalMargin/account.Balance*100)
	}

	drawdownPerLevel := pipValuePerLot * lotSize * gridDistance
	estimatedDrawdown := drawdownPerLevel * float64(levels) * float64(levels+1) / 2

	hedgeDistance := math.Min(gridDistance*4, math.Max(distance, gridDistance*2))
	slTrigger := math.Max(math.Round(hedgeDistance*0.5), gridDistance)

	direction := advisor.DirectionBoth
	confidence := advisor.ConfidenceLow

	if advice, err := p.advisor.Advise(ctx, now); err == nil {
		direction = advice.Direction
		confidence = advice.Confidence
	}

	atrPips := 0.0
	if candles, err := p.gateway.GetRecentCandles(ctx, p.cfg.Symbol, atrTimeframe, indicator.DefaultATRPeriod+1); err == nil {
		if atr, err := indicator.ATR(candles, indicator.DefaultATRPeriod, p.cfg.PipValue); err == nil {
			atrPips = atr
		}
	}

	plan := &Plan{
		Direction:     direction,
		Confidence:    confidence,
		GridDistance:  gridDistance,
		HedgeDistance: hedgeDistance,
		SLTrigger:     slTrigger,
		ATR:           atrPips,
		RiskProfile:   "resilience",
		At:            now,
		Resilience: &ResilienceDetail{
			RequestedDistance:  distance,
			ActualDistance:     actualDistance,
			GridLevels:         levels,
			LotSize:            lotSize,
			EstimatedDrawdown:  estimatedDrawdown,
			TargetDrawdown:     targetDrawdown,
			MarginUsagePercent: marginUsage,
			TotalMargin:        totalMargin,
			LevelsFromDrawdown: maxInt(levelsFromDrawdown, 0),
			LevelsFromMargin:   maxInt(levelsFromMargin, 0),
		},
	}

	p.log.Info("resilience plan derived",
		zap.Float64("balance", account.Balance),
		zap.Float64("target_distance", distance),
		zap.Int("levels", levels),
		zap.Float64("grid_distance", gridDistance),
		zap.Float64("estimated_drawdown", estimatedDrawdown))

	return plan, nil
}

// Apply writes the plan into the configuration, both sides alike.
func (plan *Plan) Apply(cfg *config.Config) {
	cfg.Grid.Direction = string(plan.Direction)
	cfg.Grid.Buy.GridDistance = plan.GridDistance
	cfg.Grid.Sell.GridDistance = plan.GridDistance
	cfg.Grid.Buy.TakeProfit = plan.GridDistance
	cfg.Grid.Sell.TakeProfit = plan.GridDistance
	cfg.Hedge.Buy.Distance = plan.HedgeDistance
	cfg.Hedge.Sell.Distance = plan.HedgeDistance
	cfg.Hedge.Buy.SLTrigger = plan.SLTrigger
	cfg.Hedge.Sell.SLTrigger = plan.SLTrigger
}

// Survive simulates the worst case of price running one way without a
// pullback: a grid leg opens every grid distance, a hedge fires every hedge
// distance, and the walk stops once the margin level breaks.
func (p *Planner) Survive(balance, price float64, leverage float64, plan *Plan) Survivability {
	if leverage <= 0 {
		leverage = defaultLeverage
	}

	gridLot := p.cfg.Grid.Buy.LotSize
	hedgeInitial := p.cfg.Hedge.Buy.InitialLot
	hedgeMultiplier := p.cfg.Hedge.Buy.Multiplier
	hedgeMaxLevels := p.cfg.Hedge.Buy.MaxLevels

	marginPerLot := price * contractSize / leverage
	gridDistance := plan.GridDistance
	hedgeDistance := plan.HedgeDistance

	var (
		totalMargin   float64
		totalDrawdown float64
		gridExposure  float64
		gridLevels    int
		hedgeLevels   int
		hedgeCrossed  int
		hedgeExposure float64
		distance      float64
		marginLevel   = math.Inf(1)
		equity        = balance
	)

	for {
		distance += gridDistance
		gridLevels++
		gridExposure += gridLot
		totalMargin += marginPerLot * gridLot

		// a hedge fires for every trigger spacing the walk has newly
		// crossed, whether or not it lines up with a grid step
		crossed := int(math.Floor(distance / hedgeDistance))
		for ; hedgeCrossed < crossed; hedgeCrossed++ {
			if hedgeLevels >= hedgeMaxLevels {
				continue
			}

			hedgeLot := math.Max(gridExposure*hedgeMultiplier, hedgeInitial)
			hedgeExposure += hedgeLot
			totalMargin += marginPerLot * hedgeLot
			hedgeLevels++
		}

		// every grid leg is underwater by the full distance walked; hedges
		// ride the move and offset part of the loss
		totalDrawdown = distance * gridExposure * pipValuePerLot
		totalDrawdown -= distance * hedgeExposure * pipValuePerLot

		equity = balance - totalDrawdown

		marginLevel = math.Inf(1)
		if totalMargin > 0 {
			marginLevel = equity / totalMargin
		}

		if marginLevel < safeMarginLevel || equity <= 0 || distance > maxSimDistance {
			break
		}
	}

	status := "SAFE"

	switch {
	case marginLevel < safeMarginLevel:
		status = "AT_LIMIT"
	case equity <= 0:
		status = "MARGIN_CALL"
	}

	return Survivability{
		MaxDistancePips: distance - gridDistance,
		MaxGridLevels:   gridLevels - 1,
		MaxHedgeLevels:  hedgeLevels,
		MaxMargin:       totalMargin,
		MaxDrawdown:     totalDrawdown,
		FinalMarginLvl:  marginLevel,
		FinalEquity:     equity,
		Status:          status,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
