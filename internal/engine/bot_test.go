package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/gridhedge/internal/broker/paper"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/journal"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type BotTestSuite struct {
	suite.Suite
	cfg     config.Config
	gateway *paper.Gateway
	journal *journal.Journal
	bot     *Bot
	ctx     context.Context
	now     time.Time
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotTestSuite))
}

func (suite *BotTestSuite) SetupTest() {
	suite.cfg = config.DefaultConfig()
	suite.gateway = paper.NewGateway("XAUUSD", 10000)

	jr, err := journal.NewJournal("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.journal = jr

	suite.bot = NewBot(&suite.cfg, suite.gateway, jr, logger.NewNopLogger())
	suite.ctx = context.Background()
	suite.now = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	suite.gateway.SetPrice(2650.00, suite.now)
}

func (suite *BotTestSuite) TearDownTest() {
	suite.Require().NoError(suite.journal.Close())
}

func (suite *BotTestSuite) tickAt(price float64) {
	suite.now = suite.now.Add(time.Second)
	suite.gateway.SetPrice(price, suite.now)
	suite.Require().NoError(suite.bot.Tick(suite.ctx))
}

func (suite *BotTestSuite) openHedge() int64 {
	ticket, err := suite.gateway.PlaceOrder(suite.ctx, types.OrderRequest{
		ID:       uuid.New().String(),
		Symbol:   "XAUUSD",
		Side:     types.SideSell,
		Volume:   0.01,
		Price:    2650.00,
		Role:     types.RoleHedge,
		LevelKey: "HG_SELL_1",
		Comment:  "HG|HG_SELL_1",
		Reason:   types.OrderReasonHedgeLevel,
	})
	suite.Require().NoError(err)

	return ticket
}

func (suite *BotTestSuite) TestStartPlacesInitialLegsAndJournalsThem() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))
	suite.True(suite.bot.Running())

	positions := suite.bot.Ledger().GridPositions()
	suite.Require().Len(positions, 2)

	orders, err := suite.journal.Orders()
	suite.Require().NoError(err)
	suite.Len(orders, 2)
}

func (suite *BotTestSuite) TestStartIsIdempotent() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))
	suite.Require().NoError(suite.bot.Start(suite.ctx))

	suite.Len(suite.bot.Ledger().GridPositions(), 2)
}

func (suite *BotTestSuite) TestTickSkipsWhenBrokerIsDown() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))

	suite.gateway.Break(errors.New(errors.ErrCodeBrokerUnavailable, "connection lost"))
	err := suite.bot.Tick(suite.ctx)
	suite.Require().Error(err)

	suite.gateway.Repair()
	suite.tickAt(2650.00)
}

func (suite *BotTestSuite) TestTickBeforeStartDoesNothing() {
	suite.Require().NoError(suite.bot.Tick(suite.ctx))
	suite.Empty(suite.bot.Ledger().Positions())
}

func (suite *BotTestSuite) TestBrokerCloseIsJournaled() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))

	// the buy leg's take profit sits one grid distance above the entry
	suite.tickAt(2655.00)

	closes, err := suite.journal.Closes()
	suite.Require().NoError(err)
	suite.Require().Len(closes, 1)
	suite.Equal(types.RoleGrid, closes[0].Role)
	suite.Positive(closes[0].Profit)
}

func (suite *BotTestSuite) TestCloseAllByRole() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))
	suite.openHedge()

	suite.Require().NoError(suite.bot.CloseAll(suite.ctx, types.RoleGrid))

	positions, err := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Require().NoError(err)
	suite.Require().Len(positions, 1)
	suite.Equal(types.RoleHedge, positions[0].Role)
}

func (suite *BotTestSuite) TestCloseAllEverything() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))
	suite.openHedge()

	suite.Require().NoError(suite.bot.CloseAll(suite.ctx, ""))

	positions, err := suite.gateway.ListOpenPositions(suite.ctx, "XAUUSD")
	suite.Require().NoError(err)
	suite.Empty(positions)
}

func (suite *BotTestSuite) TestStopDeactivatesEngines() {
	suite.Require().NoError(suite.bot.Start(suite.ctx))
	suite.bot.Stop()
	suite.False(suite.bot.Running())

	suite.Require().NoError(suite.bot.CloseAll(suite.ctx, ""))
	suite.tickAt(2650.00)

	// a stopped bot places nothing even though the grid is empty
	suite.Require().NoError(suite.bot.Ledger().Refresh(suite.ctx))
	suite.Empty(suite.bot.Ledger().Positions())
}

func (suite *BotTestSuite) TestRunStopsOnContextCancel() {
	suite.cfg.TickInterval = config.Duration(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(suite.ctx, 60*time.Millisecond)
	defer cancel()

	err := suite.bot.Run(ctx)
	suite.Require().ErrorIs(err, context.DeadlineExceeded)
	suite.False(suite.bot.Running())
}

func (suite *BotTestSuite) TestRiskAlertRaisesOnceThenRearms() {
	monitor := newRiskMonitor(&suite.cfg, logger.NewNopLogger())

	breached := types.AccountSnapshot{Balance: 10000, Equity: 8500, Profit: -1500}
	alerts := monitor.Check(breached)
	suite.Require().Len(alerts, 1)
	suite.Equal(AlertDrawdown, alerts[0].Kind)
	suite.InDelta(1500.0, alerts[0].Value, 1e-9)

	suite.Empty(monitor.Check(breached))

	recovered := types.AccountSnapshot{Balance: 10000, Equity: 9900, Profit: -100}
	suite.Empty(monitor.Check(recovered))

	suite.Len(monitor.Check(breached), 1)
}

func (suite *BotTestSuite) TestRiskMarginUsageAlert() {
	monitor := newRiskMonitor(&suite.cfg, logger.NewNopLogger())

	account := types.AccountSnapshot{Balance: 10000, Equity: 1000, Margin: 900}
	alerts := monitor.Check(account)
	suite.Require().Len(alerts, 1)
	suite.Equal(AlertMarginUsage, alerts[0].Kind)
	suite.InDelta(90.0, alerts[0].Value, 1e-9)
}

func (suite *BotTestSuite) TestRiskAlertsDisabled() {
	suite.cfg.Risk.AlertEnabled = false
	monitor := newRiskMonitor(&suite.cfg, logger.NewNopLogger())

	account := types.AccountSnapshot{Balance: 10000, Equity: 1000, Margin: 900, Profit: -5000}
	suite.Empty(monitor.Check(account))
}
