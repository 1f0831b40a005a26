// Package grid implements the grid engine: paired initial legs with fixed
// take profits, loss recovery hedges and a self-healing restart when the
// grid empties. All state lives at the broker; the engine derives every
// decision from the current ledger snapshot.
package grid

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/gate"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

const (
	levelKeyInitialBuy  = "initial_buy"
	levelKeyInitialSell = "initial_sell"

	// nearby guard distance as a fraction of the grid distance
	nearbyGuardFactor = 0.5
)

// Engine trades the grid.
type Engine struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	gate   *gate.Gate
	log    *logger.Logger

	running bool
}

// NewEngine creates a grid engine.
func NewEngine(cfg *config.Config, l *ledger.Ledger, g *gate.Gate, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		ledger: l,
		gate:   g,
		log:    log,
	}
}

// Running reports whether the engine is active.
func (e *Engine) Running() bool {
	return e.running
}

// Start activates the engine. Open grid legs restored by the ledger keep
// their level keys; initial legs are only placed when the grid is empty.
func (e *Engine) Start(ctx context.Context, tick types.Tick) error {
	e.running = true

	if len(e.ledger.GridPositions()) > 0 {
		e.log.Info("grid resumed with existing legs",
			zap.Int("legs", len(e.ledger.GridPositions())))

		return nil
	}

	return e.placeInitialLegs(ctx, tick.Bid, types.OrderReasonInitialLeg)
}

// Stop deactivates the engine. Open positions remain at the broker.
func (e *Engine) Stop() {
	e.running = false
}

// Step runs one tick of grid management: restart when the grid emptied,
// recover losing legs, then heal a side whose legs all closed. Recovery runs
// first so a leg at the loss threshold always gets its averaging order; at
// most one new order per side per tick.
func (e *Engine) Step(ctx context.Context, tick types.Tick) error {
	if !e.running {
		return nil
	}

	if len(e.ledger.GridPositions()) == 0 {
		e.log.Info("no grid legs open, restarting grid", zap.Float64("price", tick.Bid))

		return e.placeInitialLegs(ctx, tick.Bid, types.OrderReasonGridRestart)
	}

	placedSides := make(map[types.Side]bool)

	if err := e.recoverLosingLegs(ctx, tick, placedSides); err != nil {
		return err
	}

	return e.healEmptySides(ctx, tick.Bid, placedSides)
}

// healEmptySides replaces the leg of an enabled side whose positions all
// closed, so a take profit on one side does not leave that side out of the
// market while the other side keeps running.
func (e *Engine) healEmptySides(ctx context.Context, price float64, placedSides map[types.Side]bool) error {
	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		if !e.sideEnabled(side) || placedSides[side] || e.sideLegCount(side) > 0 {
			continue
		}

		sideCfg := e.cfg.GridSide(side == types.SideBuy)

		key := levelKeyInitialBuy
		tp := price + e.cfg.PipsToPrice(sideCfg.TakeProfit)

		if side == types.SideSell {
			key = levelKeyInitialSell
			tp = price - e.cfg.PipsToPrice(sideCfg.TakeProfit)
		}

		placed, err := e.submit(ctx, side, key, price, sideCfg.LotSize, tp, types.OrderReasonGridRestart)
		if err != nil {
			return err
		}

		if placed {
			placedSides[side] = true

			e.log.Info("grid side healed",
				zap.String("side", string(side)),
				zap.Float64("price", price))
		}
	}

	return nil
}

func (e *Engine) sideLegCount(side types.Side) int {
	count := 0

	for _, leg := range e.ledger.GridPositions() {
		if leg.Side == side {
			count++
		}
	}

	return count
}

func (e *Engine) sideEnabled(side types.Side) bool {
	switch e.cfg.Grid.Direction {
	case "both":
		return true
	case "buy":
		return side == types.SideBuy
	default:
		return side == types.SideSell
	}
}

// placeInitialLegs opens one leg per enabled side with TP one grid distance
// away from the entry.
func (e *Engine) placeInitialLegs(ctx context.Context, price float64, reason string) error {
	if e.sideEnabled(types.SideBuy) {
		side := e.cfg.Grid.Buy
		tp := price + e.cfg.PipsToPrice(side.TakeProfit)

		if _, err := e.submit(ctx, types.SideBuy, levelKeyInitialBuy, price, side.LotSize, tp, reason); err != nil {
			return err
		}
	}

	if e.sideEnabled(types.SideSell) {
		side := e.cfg.Grid.Sell
		tp := price - e.cfg.PipsToPrice(side.TakeProfit)

		if _, err := e.submit(ctx, types.SideSell, levelKeyInitialSell, price, side.LotSize, tp, reason); err != nil {
			return err
		}
	}

	return nil
}

// recoverLosingLegs hedges each grid leg whose loss has reached the grid
// distance with an opposite-side order keyed by the losing ticket, so the
// recovery fires exactly once per leg.
func (e *Engine) recoverLosingLegs(ctx context.Context, tick types.Tick, placedSides map[types.Side]bool) error {
	for _, leg := range e.ledger.GridPositions() {
		lossPips := e.cfg.PriceToPips(-leg.PriceMove())

		sideCfg := e.cfg.GridSide(leg.Side == types.SideBuy)
		if lossPips < sideCfg.GridDistance {
			continue
		}

		recoverySide := leg.Side.Opposite()
		if !e.sideEnabled(recoverySide) || placedSides[recoverySide] {
			continue
		}

		var key string
		if leg.Side == types.SideBuy {
			key = fmt.Sprintf("recovery_buy_%d", leg.Ticket)
		} else {
			key = fmt.Sprintf("recovery_sell_%d", leg.Ticket)
		}

		recoveryCfg := e.cfg.GridSide(recoverySide == types.SideBuy)
		price := tick.Bid

		tp := price + e.cfg.PipsToPrice(recoveryCfg.TakeProfit)
		if recoverySide == types.SideSell {
			tp = price - e.cfg.PipsToPrice(recoveryCfg.TakeProfit)
		}

		placed, err := e.submit(ctx, recoverySide, key, price, recoveryCfg.LotSize, tp, types.OrderReasonRecovery)
		if err != nil {
			return err
		}

		if !placed {
			continue
		}

		e.log.Info("recovery placed",
			zap.Int64("for_ticket", leg.Ticket),
			zap.Float64("loss_pips", lossPips))

		placedSides[recoverySide] = true
	}

	return nil
}

// submit places a grid order through the gate. A guard rejection is normal
// flow and reported as placed=false with no error.
func (e *Engine) submit(ctx context.Context, side types.Side, levelKey string, price, volume, takeProfit float64, reason string) (bool, error) {
	sideCfg := e.cfg.GridSide(side == types.SideBuy)

	order := types.OrderRequest{
		ID:         uuid.New().String(),
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		Role:       types.RoleGrid,
		LevelKey:   levelKey,
		Comment:    e.cfg.Broker.CommentGrid + "|" + levelKey,
		Reason:     reason,
		TakeProfit: optional.Some(takeProfit),
		StopLoss:   optional.None[float64](),
	}

	_, err := e.gate.Submit(ctx, gate.Submission{
		Order:       order,
		NearbyGuard: e.cfg.PipsToPrice(sideCfg.GridDistance) * nearbyGuardFactor,
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeGridLevelClaimed) || errors.HasCode(err, errors.ErrCodeGridNearbyPosition) {
			e.log.Debug("grid order skipped", zap.String("level_key", levelKey), zap.Error(err))

			return false, nil
		}

		return false, err
	}

	return true, nil
}
