package paper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type PaperGatewayTestSuite struct {
	suite.Suite
	gateway *Gateway
	ctx     context.Context
}

func TestPaperGatewaySuite(t *testing.T) {
	suite.Run(t, new(PaperGatewayTestSuite))
}

func (suite *PaperGatewayTestSuite) SetupTest() {
	suite.gateway = NewGateway("XAUUSD", 10000)
	suite.ctx = context.Background()
	suite.gateway.SetPrice(2650.00, time.Now())
}

func (suite *PaperGatewayTestSuite) buyOrder(volume float64) types.OrderRequest {
	return types.OrderRequest{
		ID:       uuid.New().String(),
		Symbol:   "XAUUSD",
		Side:     types.SideBuy,
		Volume:   volume,
		Price:    2650.00,
		Role:     types.RoleGrid,
		LevelKey: "initial_buy",
		Comment:  "GridBot|initial_buy",
		Reason:   types.OrderReasonInitialLeg,
	}
}

func (suite *PaperGatewayTestSuite) TestPlaceOrderFillsAtQuote() {
	order := suite.buyOrder(0.01)
	order.TakeProfit = optional.Some(2655.00)

	ticket, err := suite.gateway.PlaceOrder(suite.ctx, order)
	suite.Require().NoError(err)
	suite.GreaterOrEqual(ticket, int64(firstTicket))

	positions, err := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Require().NoError(err)
	suite.Require().Len(positions, 1)
	suite.InDelta(2650.00, positions[0].OpenPrice, 1e-9)
	suite.InDelta(2655.00, positions[0].TakeProfit, 1e-9)
	suite.Equal(types.RoleGrid, positions[0].Role)
	suite.Equal("initial_buy", positions[0].LevelKey)
}

func (suite *PaperGatewayTestSuite) TestPlaceOrderWithoutQuote() {
	gateway := NewGateway("XAUUSD", 10000)
	_, err := gateway.PlaceOrder(context.Background(), suite.buyOrder(0.01))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
}

func (suite *PaperGatewayTestSuite) TestTakeProfitSweep() {
	order := suite.buyOrder(0.01)
	order.TakeProfit = optional.Some(2655.00)

	_, err := suite.gateway.PlaceOrder(suite.ctx, order)
	suite.Require().NoError(err)

	// below TP, still open
	suite.gateway.SetPrice(2654.99, time.Now())
	positions, _ := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Len(positions, 1)

	// at TP, closed and profit realized: 5.00 * 0.01 * 100 = $5
	suite.gateway.SetPrice(2655.00, time.Now())
	positions, _ = suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Empty(positions)
	suite.InDelta(10005.00, suite.gateway.Balance(), 1e-6)
}

func (suite *PaperGatewayTestSuite) TestStopLossSweepShort() {
	order := suite.buyOrder(0.01)
	order.Side = types.SideSell
	order.StopLoss = optional.Some(2651.00)

	_, err := suite.gateway.PlaceOrder(suite.ctx, order)
	suite.Require().NoError(err)

	suite.gateway.SetPrice(2651.00, time.Now())
	positions, _ := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Empty(positions)
}

func (suite *PaperGatewayTestSuite) TestModifyStopLoss() {
	ticket, err := suite.gateway.PlaceOrder(suite.ctx, suite.buyOrder(0.01))
	suite.Require().NoError(err)

	suite.NoError(suite.gateway.ModifyStopLoss(suite.ctx, ticket, 2601.00))

	positions, _ := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Require().Len(positions, 1)
	suite.InDelta(2601.00, positions[0].StopLoss, 1e-9)
}

func (suite *PaperGatewayTestSuite) TestModifyStopLossUnknownTicket() {
	err := suite.gateway.ModifyStopLoss(suite.ctx, 9999, 2601.00)
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *PaperGatewayTestSuite) TestClosePartial() {
	ticket, err := suite.gateway.PlaceOrder(suite.ctx, suite.buyOrder(0.10))
	suite.Require().NoError(err)

	suite.gateway.SetPrice(2660.00, time.Now())

	suite.NoError(suite.gateway.ClosePartial(suite.ctx, ticket, 0.05))

	positions, _ := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Require().Len(positions, 1)
	suite.InDelta(0.05, positions[0].Volume, 1e-9)
	// realized half of 10.00 * 0.10 * 100 = $100
	suite.InDelta(10050.00, suite.gateway.Balance(), 1e-6)
}

func (suite *PaperGatewayTestSuite) TestClosePartialInvalidVolume() {
	ticket, err := suite.gateway.PlaceOrder(suite.ctx, suite.buyOrder(0.01))
	suite.Require().NoError(err)

	err = suite.gateway.ClosePartial(suite.ctx, ticket, 0.02)
	suite.True(errors.HasCode(err, errors.ErrCodePartialCloseFailed))
}

func (suite *PaperGatewayTestSuite) TestAccountSnapshot() {
	_, err := suite.gateway.PlaceOrder(suite.ctx, suite.buyOrder(0.01))
	suite.Require().NoError(err)

	suite.gateway.SetPrice(2660.00, time.Now())

	snapshot, err := suite.gateway.GetAccountSnapshot(suite.ctx)
	suite.Require().NoError(err)
	suite.InDelta(10000.00, snapshot.Balance, 1e-6)
	// unrealized 10.00 * 0.01 * 100 = $10
	suite.InDelta(10010.00, snapshot.Equity, 1e-6)
	// margin = 0.01 * 100 * 2650 / 100 = $26.50
	suite.InDelta(26.50, snapshot.Margin, 1e-6)
	suite.Greater(snapshot.MarginLevel, 0.0)
}

func (suite *PaperGatewayTestSuite) TestBreakAndRepair() {
	forced := errors.New(errors.ErrCodeBrokerUnavailable, "connection lost")
	suite.gateway.Break(forced)

	_, err := suite.gateway.GetCurrentPrice(suite.ctx, "XAUUSD")
	suite.True(errors.HasCode(err, errors.ErrCodeBrokerUnavailable))

	_, err = suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Error(err)

	suite.gateway.Repair()
	_, err = suite.gateway.GetCurrentPrice(suite.ctx, "XAUUSD")
	suite.NoError(err)
}
