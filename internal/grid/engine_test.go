package grid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/gridhedge/internal/broker/paper"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/gate"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type GridEngineTestSuite struct {
	suite.Suite
	cfg     config.Config
	gateway *paper.Gateway
	ledger  *ledger.Ledger
	gate    *gate.Gate
	engine  *Engine
	ctx     context.Context
}

func TestGridEngineSuite(t *testing.T) {
	suite.Run(t, new(GridEngineTestSuite))
}

func (suite *GridEngineTestSuite) SetupTest() {
	suite.cfg = config.DefaultConfig()
	log := logger.NewNopLogger()
	suite.gateway = paper.NewGateway("XAUUSD", 10000)
	suite.ledger = ledger.NewLedger(suite.gateway, &suite.cfg, log)
	suite.gate = gate.NewGate(suite.gateway, suite.ledger, log)
	suite.engine = NewEngine(&suite.cfg, suite.ledger, suite.gate, log)
	suite.ctx = context.Background()
}

// tickAt moves the market, refreshes the ledger and resets the gate claims,
// like one iteration of the bot loop.
func (suite *GridEngineTestSuite) tickAt(price float64) types.Tick {
	suite.gateway.SetPrice(price, time.Now())
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()

	return types.Tick{Symbol: "XAUUSD", Bid: price, Ask: price, Time: time.Now()}
}

func (suite *GridEngineTestSuite) TestStartPlacesInitialLegs() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	legs := suite.ledger.GridPositions()
	suite.Require().Len(legs, 2)

	byKey := make(map[string]types.Position)
	for _, leg := range legs {
		byKey[leg.LevelKey] = leg
	}

	buy := byKey["initial_buy"]
	sell := byKey["initial_sell"]
	suite.Equal(types.SideBuy, buy.Side)
	suite.InDelta(2655.00, buy.TakeProfit, 1e-9)
	suite.Equal(types.SideSell, sell.Side)
	suite.InDelta(2645.00, sell.TakeProfit, 1e-9)
}

func (suite *GridEngineTestSuite) TestStartBuyOnlyDirection() {
	suite.cfg.Grid.Direction = "buy"

	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	legs := suite.ledger.GridPositions()
	suite.Require().Len(legs, 1)
	suite.Equal(types.SideBuy, legs[0].Side)
}

func (suite *GridEngineTestSuite) TestStartWithExistingLegsDoesNotDuplicate() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	// simulate a process restart against the same broker state
	tick = suite.tickAt(2650.00)
	log := logger.NewNopLogger()
	restarted := NewEngine(&suite.cfg, suite.ledger, suite.gate, log)
	suite.Require().NoError(restarted.Start(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.Len(suite.ledger.GridPositions(), 2)
}

func (suite *GridEngineTestSuite) TestRecoveryFiresOnceAtThreshold() {
	tick := suite.tickAt(100.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	// 49 pips of loss on the buy leg: below threshold, no recovery
	tick = suite.tickAt(95.10)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	for _, leg := range suite.ledger.GridPositions() {
		suite.NotContains(leg.LevelKey, "recovery")
	}

	// 50 pips of loss: recovery sell fires, keyed by the losing ticket.
	// The initial sell leg reached its TP at 95.00 on the same move.
	tick = suite.tickAt(95.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))

	var recoveries []types.Position
	for _, leg := range suite.ledger.GridPositions() {
		if leg.Side == types.SideSell {
			recoveries = append(recoveries, leg)
		}
	}
	suite.Require().Len(recoveries, 1)
	suite.Contains(recoveries[0].LevelKey, "recovery_buy_")

	// same conditions on the next tick: the level key is held by the open
	// recovery, nothing new fires
	tick = suite.tickAt(95.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))

	count := 0
	for _, leg := range suite.ledger.GridPositions() {
		if leg.Side == types.SideSell {
			count++
		}
	}
	suite.Equal(1, count)
}

func (suite *GridEngineTestSuite) TestSelfHealingRestart() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))

	// close everything out from under the engine
	for _, leg := range suite.ledger.GridPositions() {
		suite.Require().NoError(suite.gateway.ClosePosition(suite.ctx, leg.Ticket))
	}

	tick = suite.tickAt(2700.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	legs := suite.ledger.GridPositions()
	suite.Require().Len(legs, 2)
	for _, leg := range legs {
		suite.InDelta(2700.00, leg.OpenPrice, 1e-9)
	}
}

func (suite *GridEngineTestSuite) TestHealReplacesEmptiedSide() {
	// a take profit shorter than the grid distance, so the surviving sell
	// is not yet at the recovery threshold when the buy banks
	suite.cfg.Grid.Buy.TakeProfit = 30

	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	// the buy leg takes profit at 2653, leaving only the sell 30 pips down
	tick = suite.tickAt(2653.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	legs := suite.ledger.GridPositions()
	suite.Require().Len(legs, 2)

	bySide := make(map[types.Side]types.Position)
	for _, leg := range legs {
		bySide[leg.Side] = leg
	}

	healed := bySide[types.SideBuy]
	suite.Equal("initial_buy", healed.LevelKey)
	suite.InDelta(2653.00, healed.OpenPrice, 1e-9)
	suite.InDelta(2656.00, healed.TakeProfit, 1e-9)
	suite.InDelta(2650.00, bySide[types.SideSell].OpenPrice, 1e-9)

	// same price again: both sides are occupied, nothing new
	tick = suite.tickAt(2653.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.Len(suite.ledger.GridPositions(), 2)
}

func (suite *GridEngineTestSuite) TestRecoveryOutranksHealOnSharedSide() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))

	// the buy takes profit at 2655 on the same move that puts the sell a
	// full grid distance underwater; the buy side must go to the recovery
	// leg, not to a replacement initial leg
	tick = suite.tickAt(2655.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	legs := suite.ledger.GridPositions()
	suite.Require().Len(legs, 2)

	var buys []types.Position
	for _, leg := range legs {
		if leg.Side == types.SideBuy {
			buys = append(buys, leg)
		}
	}
	suite.Require().Len(buys, 1)
	suite.Contains(buys[0].LevelKey, "recovery_sell_")
}

func (suite *GridEngineTestSuite) TestStepInactiveDoesNothing() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Step(suite.ctx, tick))

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.Empty(suite.ledger.GridPositions())
}

func (suite *GridEngineTestSuite) TestRestartSurfacesBrokerFailure() {
	tick := suite.tickAt(2650.00)
	suite.Require().NoError(suite.engine.Start(suite.ctx, tick))
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))

	for _, leg := range suite.ledger.GridPositions() {
		suite.Require().NoError(suite.gateway.ClosePosition(suite.ctx, leg.Ticket))
	}

	tick = suite.tickAt(2650.00)
	suite.gateway.Break(errors.New(errors.ErrCodeBrokerUnavailable, "connection lost"))

	err := suite.engine.Step(suite.ctx, tick)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
}
