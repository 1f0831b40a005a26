package gate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/gridhedge/internal/broker/paper"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type GateTestSuite struct {
	suite.Suite
	gateway *paper.Gateway
	ledger  *ledger.Ledger
	gate    *Gate
	ctx     context.Context
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}

func (suite *GateTestSuite) SetupTest() {
	cfg := config.DefaultConfig()
	log := logger.NewNopLogger()
	suite.gateway = paper.NewGateway("XAUUSD", 10000)
	suite.gateway.SetPrice(2650.00, time.Now())
	suite.ledger = ledger.NewLedger(suite.gateway, &cfg, log)
	suite.gate = NewGate(suite.gateway, suite.ledger, log)
	suite.ctx = context.Background()
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()
}

func (suite *GateTestSuite) submission(levelKey string) Submission {
	return Submission{
		Order: types.OrderRequest{
			ID:       uuid.New().String(),
			Symbol:   "XAUUSD",
			Side:     types.SideBuy,
			Volume:   0.01,
			Price:    2650.00,
			Role:     types.RoleGrid,
			LevelKey: levelKey,
			Comment:  "GridBot|" + levelKey,
			Reason:   types.OrderReasonInitialLeg,
		},
	}
}

func (suite *GateTestSuite) TestSubmitPlacesOrder() {
	ticket, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)
	suite.Greater(ticket, int64(0))
}

func (suite *GateTestSuite) TestSubmitSameKeyTwiceInOneTick() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	// second trigger for the same key must not fire even before a refresh
	_, err = suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.True(errors.HasCode(err, errors.ErrCodeGridLevelClaimed))
}

func (suite *GateTestSuite) TestSubmitKeyHeldByOpenPosition() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()

	_, err = suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.True(errors.HasCode(err, errors.ErrCodeGridLevelClaimed))
}

func (suite *GateTestSuite) TestSubmitKeyFreedAfterClose() {
	ticket, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.gateway.ClosePosition(suite.ctx, ticket))
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()

	_, err = suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.NoError(err)
}

func (suite *GateTestSuite) TestSubmitTracksFillForReconcile() {
	ticket, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	// the fill is in the ledger before any refresh, so a close in the same
	// tick is still reported as closed on the next refresh
	suite.True(suite.ledger.HasLevelKey(types.RoleGrid, "initial_buy"))

	suite.Require().NoError(suite.gateway.ClosePosition(suite.ctx, ticket))
	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))

	closed := suite.ledger.ClosedSinceLastRefresh()
	suite.Require().Len(closed, 1)
	suite.Equal(ticket, closed[0].Ticket)
	suite.Equal("initial_buy", closed[0].LevelKey)
}

func (suite *GateTestSuite) TestNearbyGuardBlocksWithinSameTick() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	// no refresh in between: the guard must see the fill the gate just made
	near := suite.submission("buy_1")
	near.Order.Price = 2651.00
	near.NearbyGuard = 2.50

	_, err = suite.gate.Submit(suite.ctx, near)
	suite.True(errors.HasCode(err, errors.ErrCodeGridNearbyPosition))
}

func (suite *GateTestSuite) TestNearbyGuardIgnoresOtherRole() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	hedge := suite.submission("HG_BUY_1")
	hedge.Order.Role = types.RoleHedge
	hedge.Order.Comment = "HG|HG_BUY_1"
	hedge.Order.Price = 2651.00
	hedge.NearbyGuard = 2.50

	_, err = suite.gate.Submit(suite.ctx, hedge)
	suite.NoError(err)
}

func (suite *GateTestSuite) TestNearbyGuardBlocks() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()

	near := suite.submission("buy_1")
	near.Order.Price = 2651.00
	near.NearbyGuard = 2.50

	_, err = suite.gate.Submit(suite.ctx, near)
	suite.True(errors.HasCode(err, errors.ErrCodeGridNearbyPosition))
}

func (suite *GateTestSuite) TestNearbyGuardAllowsFarOrder() {
	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.ledger.Refresh(suite.ctx))
	suite.gate.BeginTick()

	far := suite.submission("buy_1")
	far.Order.Price = 2656.00
	far.NearbyGuard = 2.50

	_, err = suite.gate.Submit(suite.ctx, far)
	suite.NoError(err)
}

func (suite *GateTestSuite) TestSubmitInvalidOrder() {
	sub := suite.submission("initial_buy")
	sub.Order.Volume = 0

	_, err := suite.gate.Submit(suite.ctx, sub)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidOrderRequest))
}

func (suite *GateTestSuite) TestSubmitBrokerFailure() {
	suite.gateway.Break(errors.New(errors.ErrCodeBrokerUnavailable, "connection lost"))

	_, err := suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.True(errors.HasCode(err, errors.ErrCodeOrderRejected))

	// the key must not stay claimed after a failed placement
	suite.gateway.Repair()
	_, err = suite.gate.Submit(suite.ctx, suite.submission("initial_buy"))
	suite.NoError(err)
}
