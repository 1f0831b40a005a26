// Package hedge implements the hedge engine: a ladder of fixed trigger
// levels anchored at a start price, optional supply/demand zone triggers,
// breakeven stops and partial closes, all sized against the net grid
// exposure. Hedges are placed without a take profit; exits come from the
// breakeven stop or from funding the closure of a losing grid leg.
package hedge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/gate"
	"github.com/rxtech-lab/gridhedge/internal/indicator"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/internal/utils"
	"github.com/rxtech-lab/gridhedge/internal/zone"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

const (
	levelKeyBuyFormat  = "HG_BUY_%d"
	levelKeySellFormat = "HG_SELL_%d"
	zoneKeyBuyFormat   = "HG_ZONE_BUY_%d"
	zoneKeySellFormat  = "HG_ZONE_SELL_%d"
	zoneKeyPrefix      = "HG_ZONE_"

	// the anchor follows price once it drifts this many hedge distances away
	reanchorFactor = 2.0

	// same-side hedges closer than this fraction of the trigger spacing are
	// treated as one excursion
	nearbyGuardFactor = 0.5

	zoneTimeframe = types.TimeframeM15

	// one standard lot of XAUUSD is 100 oz, so one pip is worth
	// contractSize * pip value per lot in account currency
	contractSize = 100
)

// Engine trades the hedge ladder.
type Engine struct {
	cfg     *config.Config
	gateway broker.Gateway
	ledger  *ledger.Ledger
	gate    *gate.Gate
	log     *logger.Logger

	profile Profile
	active  bool

	startPrice   float64
	closedLevels map[string]struct{}
	zones        []types.Zone
	zonesAt      time.Time
	prevPrice    float64
	// tickets that already took their one partial close
	partialDone map[int64]struct{}
}

// NewEngine creates a hedge engine. The profile is selected from the
// average configured hedge distance.
func NewEngine(cfg *config.Config, gateway broker.Gateway, l *ledger.Ledger, g *gate.Gate, log *logger.Logger) *Engine {
	avgDistance := (cfg.Hedge.Buy.Distance + cfg.Hedge.Sell.Distance) / 2

	return &Engine{
		cfg:          cfg,
		gateway:      gateway,
		ledger:       l,
		gate:         g,
		log:          log,
		profile:      ProfileFor(avgDistance),
		closedLevels: make(map[string]struct{}),
		partialDone:  make(map[int64]struct{}),
	}
}

// Running reports whether the engine is active.
func (e *Engine) Running() bool {
	return e.active
}

// ActiveProfile returns the selected hedge profile.
func (e *Engine) ActiveProfile() Profile {
	return e.profile
}

// StartPrice returns the current ladder anchor.
func (e *Engine) StartPrice() float64 {
	return e.startPrice
}

// Start activates the engine and anchors the trigger ladder at the current
// price. Hedge positions restored by the ledger keep running; their level
// keys stay blocked while they are open.
func (e *Engine) Start(tick types.Tick) {
	e.active = true
	e.startPrice = tick.Bid
	e.prevPrice = tick.Bid

	e.log.Info("hedge engine started",
		zap.Float64("start_price", e.startPrice),
		zap.String("profile", e.profile.ID),
		zap.Int("restored_hedges", len(e.ledger.HedgePositions())))
}

// Stop deactivates the engine. Open hedges remain at the broker.
func (e *Engine) Stop() {
	e.active = false
}

// Step runs one tick of hedge management: bookkeeping for closed hedges,
// breakeven stops, partial closes, anchor maintenance, then trigger checks.
func (e *Engine) Step(ctx context.Context, tick types.Tick) error {
	if !e.active || !e.cfg.Hedge.Enabled {
		return nil
	}

	price := tick.Bid
	defer func() { e.prevPrice = price }()

	e.handleClosedHedges(ctx)
	e.resetIfGridEmpty(price)
	e.reanchorIfNeeded(price)
	e.applyBreakevens(ctx)
	e.applyPartialCloses(ctx)

	if e.cfg.Hedge.UseZones {
		e.refreshZones(ctx, tick.Time)
	}

	if err := e.placeFixedTriggers(ctx, price); err != nil {
		return err
	}

	if e.cfg.Hedge.UseZones {
		if err := e.placeZoneTriggers(ctx, price); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) sideEnabled(side types.Side) bool {
	switch e.cfg.Hedge.Direction {
	case "both":
		return true
	case "buy":
		return side == types.SideBuy
	default:
		return side == types.SideSell
	}
}

// handleClosedHedges records level keys of hedges that disappeared since
// the last refresh and spends realized hedge profit on closing the worst
// losing grid leg when the profit covers the loss.
func (e *Engine) handleClosedHedges(ctx context.Context) {
	for _, p := range e.ledger.ClosedSinceLastRefresh() {
		if p.Role != types.RoleHedge {
			continue
		}

		if p.LevelKey != "" {
			e.closedLevels[p.LevelKey] = struct{}{}
		}

		delete(e.partialDone, p.Ticket)

		e.log.Info("hedge closed",
			zap.Int64("ticket", p.Ticket),
			zap.String("level_key", p.LevelKey),
			zap.Float64("profit", p.Profit))

		if p.Profit > 0 {
			e.fundLoserClose(ctx, p.Profit)
		}
	}
}

// fundLoserClose closes the worst losing grid leg when the realized hedge
// profit at least covers its loss.
func (e *Engine) fundLoserClose(ctx context.Context, profit float64) {
	loser, ok := e.ledger.WorstGridLoser()
	if !ok {
		return
	}

	if profit < -loser.Profit {
		return
	}

	if err := e.gateway.ClosePosition(ctx, loser.Ticket); err != nil {
		e.log.Warn("failed to close funded grid leg",
			zap.Int64("ticket", loser.Ticket), zap.Error(err))

		return
	}

	e.log.Info("grid loss closed with hedge profit",
		zap.Int64("ticket", loser.Ticket),
		zap.Float64("loss", loser.Profit),
		zap.Float64("hedge_profit", profit))
}

// resetIfGridEmpty re-anchors the ladder when the grid has fully cycled
// while hedges were in play.
func (e *Engine) resetIfGridEmpty(price float64) {
	if len(e.ledger.GridPositions()) > 0 {
		return
	}

	if len(e.ledger.HedgePositions()) == 0 && len(e.closedLevels) == 0 {
		return
	}

	if e.startPrice == price {
		return
	}

	e.log.Info("grid empty, re-anchoring hedge ladder",
		zap.Float64("old_start", e.startPrice), zap.Float64("new_start", price))
	e.startPrice = price
}

// reanchorIfNeeded follows price once it drifts beyond reanchorFactor
// average hedge distances from the anchor, so the ladder keeps working in
// a trend. Closed level keys are forgiven; level keys still held by open
// hedges stay blocked.
func (e *Engine) reanchorIfNeeded(price float64) {
	avgDistance := (e.cfg.PipsToPrice(e.cfg.Hedge.Buy.Distance) +
		e.cfg.PipsToPrice(e.cfg.Hedge.Sell.Distance)) / 2

	drift := price - e.startPrice
	if drift < 0 {
		drift = -drift
	}

	if drift < avgDistance*reanchorFactor {
		return
	}

	e.log.Info("hedge anchor moved",
		zap.Float64("old_start", e.startPrice),
		zap.Float64("new_start", price),
		zap.Float64("drift_pips", e.cfg.PriceToPips(drift)))

	e.startPrice = price
	e.closedLevels = make(map[string]struct{})
}

// applyBreakevens arms the breakeven stop on each hedge whose profit
// reached the trigger. A hedge with a stop already set is left alone, so
// the stop never moves back.
func (e *Engine) applyBreakevens(ctx context.Context) {
	for _, p := range e.ledger.HedgePositions() {
		if p.StopLoss != 0 {
			continue
		}

		side := e.cfg.HedgeSide(p.Side == types.SideBuy)

		profitPips := e.cfg.PriceToPips(p.PriceMove())
		if profitPips < side.SLTrigger {
			continue
		}

		sl := p.OpenPrice + e.cfg.PipsToPrice(side.SLBuffer)
		if p.Side == types.SideSell {
			sl = p.OpenPrice - e.cfg.PipsToPrice(side.SLBuffer)
		}

		if err := e.gateway.ModifyStopLoss(ctx, p.Ticket, sl); err != nil {
			e.log.Warn("breakeven stop rejected, will retry",
				zap.Int64("ticket", p.Ticket), zap.Error(err))

			continue
		}

		if !e.confirmStopLoss(ctx, p.Ticket) {
			e.log.Warn("breakeven stop not visible after modify",
				zap.Int64("ticket", p.Ticket))

			continue
		}

		e.log.Info("breakeven stop armed",
			zap.Int64("ticket", p.Ticket),
			zap.Float64("stop_loss", sl),
			zap.Float64("profit_pips", profitPips))
	}
}

// confirmStopLoss re-queries the broker and reports whether the ticket now
// carries a stop.
func (e *Engine) confirmStopLoss(ctx context.Context, ticket int64) bool {
	positions, err := e.gateway.ListOpenPositions(ctx, e.cfg.Symbol)
	if err != nil {
		return false
	}

	for _, p := range positions {
		if p.Ticket == ticket {
			return p.StopLoss != 0
		}
	}

	return false
}

// applyPartialCloses banks part of each zone hedge once its profit reaches
// the profile's trigger, at most once per ticket. The realized profit is
// spent on closing the worst losing grid leg when it covers the loss.
func (e *Engine) applyPartialCloses(ctx context.Context) {
	for _, p := range e.ledger.HedgePositions() {
		if !strings.HasPrefix(p.LevelKey, zoneKeyPrefix) {
			continue
		}

		if _, done := e.partialDone[p.Ticket]; done {
			continue
		}

		side := e.cfg.HedgeSide(p.Side == types.SideBuy)

		profitPips := e.cfg.PriceToPips(p.PriceMove())
		if profitPips < e.profile.PartialCloseTriggerFactor*side.Distance {
			continue
		}

		volume := utils.RoundToLotStep(p.Volume*e.profile.PartialCloseRatio, e.cfg.Hedge.LotStep)
		if volume <= 0 || volume >= p.Volume {
			continue
		}

		if err := e.gateway.ClosePartial(ctx, p.Ticket, volume); err != nil {
			e.log.Warn("partial close rejected",
				zap.Int64("ticket", p.Ticket), zap.Error(err))

			continue
		}

		e.partialDone[p.Ticket] = struct{}{}

		realized := p.PriceMove() * volume * contractSize

		e.log.Info("zone hedge partially closed",
			zap.Int64("ticket", p.Ticket),
			zap.Float64("closed_volume", volume),
			zap.Float64("realized", realized))

		e.fundLoserClose(ctx, realized)
	}
}

// refreshZones re-detects supply/demand zones once the previous detection
// has aged past the profile's refresh interval. Detection failures leave
// the previous zones in place.
func (e *Engine) refreshZones(ctx context.Context, now time.Time) {
	if !e.zonesAt.IsZero() && now.Sub(e.zonesAt) < time.Duration(e.profile.ZoneRefreshSecs)*time.Second {
		return
	}

	candles, err := e.gateway.GetRecentCandles(ctx, e.cfg.Symbol, zoneTimeframe, e.profile.LookbackBars)
	if err != nil {
		e.log.Warn("candle fetch for zone detection failed", zap.Error(err))

		return
	}

	atrPips, err := indicator.ATR(candles, indicator.DefaultATRPeriod, e.cfg.PipValue)
	if err != nil {
		e.log.Debug("zone detection skipped", zap.Error(err))

		return
	}

	e.zones = zone.Detect(candles, atrPips, e.cfg.PipValue, e.profile.ZoneParams())
	e.zonesAt = now

	e.log.Info("zones refreshed",
		zap.Int("count", len(e.zones)),
		zap.Float64("atr_pips", atrPips))
}

// placeFixedTriggers places hedges for every ladder level the price has
// crossed: buys below the anchor, sells above it. A level whose hedge
// already closed stays retired until the anchor moves. The nearby guard
// keeps a level quiet when a zone hedge already covers the same excursion.
func (e *Engine) placeFixedTriggers(ctx context.Context, price float64) error {
	if e.sideEnabled(types.SideBuy) {
		side := e.cfg.Hedge.Buy
		distance := e.cfg.PipsToPrice(side.Distance)

		for i := 1; i <= side.MaxLevels; i++ {
			level := e.startPrice - distance*float64(i)
			key := fmt.Sprintf(levelKeyBuyFormat, i)

			if price <= level && !e.levelRetired(key) {
				if _, err := e.submit(ctx, types.SideBuy, key, level, 1.0, distance*nearbyGuardFactor, types.OrderReasonHedgeLevel); err != nil {
					return err
				}
			}
		}
	}

	if e.sideEnabled(types.SideSell) {
		side := e.cfg.Hedge.Sell
		distance := e.cfg.PipsToPrice(side.Distance)

		for i := 1; i <= side.MaxLevels; i++ {
			level := e.startPrice + distance*float64(i)
			key := fmt.Sprintf(levelKeySellFormat, i)

			if price >= level && !e.levelRetired(key) {
				if _, err := e.submit(ctx, types.SideSell, key, level, 1.0, distance*nearbyGuardFactor, types.OrderReasonHedgeLevel); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// placeZoneTriggers places hedges when price enters a detected zone from
// the expected direction: demand zones must be approached from above,
// supply zones from below. Zone hedges are weighted by the zone score and
// guarded by half the zone width, so a ladder hedge already sitting in the
// zone absorbs the trigger.
func (e *Engine) placeZoneTriggers(ctx context.Context, price float64) error {
	for _, z := range e.zones {
		guard := (z.Upper - z.Lower) / 2

		switch z.Kind {
		case types.ZoneKindDemand:
			if !e.sideEnabled(types.SideBuy) || !z.Contains(price) || e.prevPrice < z.Upper {
				continue
			}

			key := fmt.Sprintf(zoneKeyBuyFormat, z.BaseTime.Unix())
			if e.zoneRetired(key) {
				continue
			}

			if _, err := e.submit(ctx, types.SideBuy, key, price, 1+z.Score, guard, types.OrderReasonHedgeZone); err != nil {
				return err
			}
		case types.ZoneKindSupply:
			if !e.sideEnabled(types.SideSell) || !z.Contains(price) || e.prevPrice > z.Lower {
				continue
			}

			key := fmt.Sprintf(zoneKeySellFormat, z.BaseTime.Unix())
			if e.zoneRetired(key) {
				continue
			}

			if _, err := e.submit(ctx, types.SideSell, key, price, 1+z.Score, guard, types.OrderReasonHedgeZone); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) levelRetired(key string) bool {
	_, closed := e.closedLevels[key]

	return closed
}

func (e *Engine) zoneRetired(key string) bool {
	if e.profile.AllowReentry {
		return false
	}

	return e.levelRetired(key)
}

// hedgeVolume sizes a hedge from the net grid exposure, floored at the
// side's initial lot and capped so the worst-case loss at the breakeven
// trigger distance stays within the configured risk fraction of the balance.
func (e *Engine) hedgeVolume(side types.Side, weight float64) float64 {
	exposure := e.ledger.NetGridExposure()
	sideCfg := e.cfg.HedgeSide(side == types.SideBuy)

	volume := exposure.NetVolume * sideCfg.Multiplier * weight
	if volume < sideCfg.InitialLot {
		volume = sideCfg.InitialLot
	}

	if e.cfg.Hedge.RiskFraction > 0 {
		pipValuePerLot := contractSize * e.cfg.PipValue

		riskCap := utils.MaxVolumeByRisk(e.ledger.Account().Balance, e.cfg.Hedge.RiskFraction, sideCfg.SLTrigger, pipValuePerLot)
		if riskCap > 0 && volume > riskCap {
			volume = riskCap
		}
	}

	return utils.RoundToLotStep(volume, e.cfg.Hedge.LotStep)
}

// submit places a hedge order through the gate, without a take profit or
// an initial stop. A guard rejection is normal flow and reported as
// placed=false with no error.
func (e *Engine) submit(ctx context.Context, side types.Side, levelKey string, price, weight, nearbyGuard float64, reason string) (bool, error) {
	volume := e.hedgeVolume(side, weight)
	if volume <= 0 {
		e.log.Warn("hedge volume sized to zero", zap.String("level_key", levelKey))

		return false, nil
	}

	order := types.OrderRequest{
		ID:         uuid.New().String(),
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		Role:       types.RoleHedge,
		LevelKey:   levelKey,
		Comment:    e.cfg.Broker.CommentHedge + "|" + levelKey,
		Reason:     reason,
		TakeProfit: optional.None[float64](),
		StopLoss:   optional.None[float64](),
	}

	_, err := e.gate.Submit(ctx, gate.Submission{Order: order, NearbyGuard: nearbyGuard})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeGridLevelClaimed) || errors.HasCode(err, errors.ErrCodeGridNearbyPosition) {
			e.log.Debug("hedge order skipped", zap.String("level_key", levelKey), zap.Error(err))

			return false, nil
		}

		return false, err
	}

	return true, nil
}
