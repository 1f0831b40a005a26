// Package paper implements an in-memory broker gateway. It honors the full
// gateway contract and fills market orders instantly at the current quote,
// which makes it usable both as a paper trading mode and as the test double
// for the engines.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

const (
	// DefaultContractSize is ounces per lot for XAUUSD.
	DefaultContractSize = 100.0
	// DefaultLeverage is the simulated account leverage.
	DefaultLeverage = 100.0

	firstTicket = 1000
)

// Gateway is an in-memory broker.
type Gateway struct {
	mu sync.Mutex

	symbol       string
	balance      decimal.Decimal
	contractSize float64
	leverage     float64

	tick       types.Tick
	candles    map[types.Timeframe][]types.Candle
	positions  map[int64]types.Position
	nextTicket int64

	// forced error returned by every call until repaired
	broken error
}

var _ broker.Gateway = (*Gateway)(nil)

// NewGateway creates a paper gateway with the given starting balance.
func NewGateway(symbol string, balance float64) *Gateway {
	return &Gateway{
		symbol:       symbol,
		balance:      decimal.NewFromFloat(balance),
		contractSize: DefaultContractSize,
		leverage:     DefaultLeverage,
		candles:      make(map[types.Timeframe][]types.Candle),
		positions:    make(map[int64]types.Position),
		nextTicket:   firstTicket,
	}
}

// Break makes every subsequent call fail with err until Repair is called.
func (g *Gateway) Break(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broken = err
}

// Repair clears a forced failure set by Break.
func (g *Gateway) Repair() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broken = nil
}

// SetTick updates the current quote and sweeps TP/SL triggers.
func (g *Gateway) SetTick(bid, ask float64, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tick = types.Tick{Symbol: g.symbol, Bid: bid, Ask: ask, Time: at}

	for ticket, p := range g.positions {
		if g.shouldTrigger(p) {
			g.closeLocked(ticket, p.Volume)
		}
	}
}

// SetPrice updates the quote with a zero spread.
func (g *Gateway) SetPrice(price float64, at time.Time) {
	g.SetTick(price, price, at)
}

// SetCandles replaces the candle history for a timeframe.
func (g *Gateway) SetCandles(timeframe types.Timeframe, candles []types.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[timeframe] = candles
}

// Balance returns the realized balance.
func (g *Gateway) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	balance, _ := g.balance.Float64()

	return balance
}

// GetCurrentPrice implements broker.Gateway.
func (g *Gateway) GetCurrentPrice(ctx context.Context, symbol string) (types.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return types.Tick{}, g.broken
	}

	if g.tick.Time.IsZero() {
		return types.Tick{}, errors.New(errors.ErrCodePriceUnavailable, "no quote available")
	}

	return g.tick, nil
}

// GetRecentCandles implements broker.Gateway.
func (g *Gateway) GetRecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, count int) ([]types.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return nil, g.broken
	}

	candles := g.candles[timeframe]
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}

	out := make([]types.Candle, len(candles))
	copy(out, candles)

	return out, nil
}

// PlaceOrder implements broker.Gateway. Orders fill immediately at the
// current quote regardless of the requested price.
func (g *Gateway) PlaceOrder(ctx context.Context, order types.OrderRequest) (int64, error) {
	if err := order.Validate(); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return 0, g.broken
	}

	if g.tick.Time.IsZero() {
		return 0, errors.New(errors.ErrCodeOrderRejected, "no quote to fill against")
	}

	fillPrice := g.tick.Ask
	if order.Side == types.SideSell {
		fillPrice = g.tick.Bid
	}

	ticket := g.nextTicket
	g.nextTicket++

	position := types.Position{
		Ticket:       ticket,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Volume:       order.Volume,
		OpenPrice:    fillPrice,
		CurrentPrice: fillPrice,
		OpenTime:     g.tick.Time,
		Role:         order.Role,
		LevelKey:     order.LevelKey,
		Comment:      order.Comment,
	}

	if order.TakeProfit.IsSome() {
		position.TakeProfit = order.TakeProfit.Unwrap()
	}

	if order.StopLoss.IsSome() {
		position.StopLoss = order.StopLoss.Unwrap()
	}

	g.positions[ticket] = position

	return ticket, nil
}

// ModifyStopLoss implements broker.Gateway.
func (g *Gateway) ModifyStopLoss(ctx context.Context, ticket int64, stopLoss float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return g.broken
	}

	position, ok := g.positions[ticket]
	if !ok {
		return errors.Newf(errors.ErrCodePositionNotFound, "no position for ticket %d", ticket)
	}

	position.StopLoss = stopLoss
	g.positions[ticket] = position

	return nil
}

// ClosePosition implements broker.Gateway.
func (g *Gateway) ClosePosition(ctx context.Context, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return g.broken
	}

	position, ok := g.positions[ticket]
	if !ok {
		return errors.Newf(errors.ErrCodePositionNotFound, "no position for ticket %d", ticket)
	}

	g.closeLocked(ticket, position.Volume)

	return nil
}

// ClosePartial implements broker.Gateway.
func (g *Gateway) ClosePartial(ctx context.Context, ticket int64, volume float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return g.broken
	}

	position, ok := g.positions[ticket]
	if !ok {
		return errors.Newf(errors.ErrCodePositionNotFound, "no position for ticket %d", ticket)
	}

	if volume <= 0 || volume > position.Volume {
		return errors.Newf(errors.ErrCodePartialCloseFailed, "invalid close volume %.2f for ticket %d", volume, ticket)
	}

	g.closeLocked(ticket, volume)

	return nil
}

// ListOpenPositions implements broker.Gateway.
func (g *Gateway) ListOpenPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return nil, g.broken
	}

	out := make([]types.Position, 0, len(g.positions))

	for _, p := range g.positions {
		p.CurrentPrice = g.markPrice(p.Side)
		p.Profit = g.unrealized(p)
		out = append(out, p)
	}

	return out, nil
}

// GetAccountSnapshot implements broker.Gateway.
func (g *Gateway) GetAccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return types.AccountSnapshot{}, g.broken
	}

	profit := decimal.Zero
	margin := decimal.Zero

	for _, p := range g.positions {
		profit = profit.Add(decimal.NewFromFloat(g.unrealized(p)))
		notional := decimal.NewFromFloat(p.Volume * g.contractSize * p.OpenPrice)
		margin = margin.Add(notional.Div(decimal.NewFromFloat(g.leverage)))
	}

	equity := g.balance.Add(profit)
	freeMargin := equity.Sub(margin)

	marginLevel := decimal.Zero
	if margin.IsPositive() {
		marginLevel = equity.Div(margin).Mul(decimal.NewFromInt(100))
	}

	balanceF, _ := g.balance.Float64()
	equityF, _ := equity.Float64()
	marginF, _ := margin.Float64()
	freeMarginF, _ := freeMargin.Float64()
	marginLevelF, _ := marginLevel.Float64()
	profitF, _ := profit.Float64()

	return types.AccountSnapshot{
		Balance:     balanceF,
		Equity:      equityF,
		Margin:      marginF,
		FreeMargin:  freeMarginF,
		MarginLevel: marginLevelF,
		Profit:      profitF,
	}, nil
}

// markPrice returns the price a position of the given side closes at.
func (g *Gateway) markPrice(side types.Side) float64 {
	if side == types.SideBuy {
		return g.tick.Bid
	}

	return g.tick.Ask
}

func (g *Gateway) unrealized(p types.Position) float64 {
	move := g.markPrice(p.Side) - p.OpenPrice
	if p.Side == types.SideSell {
		move = -move
	}

	return move * p.Volume * g.contractSize
}

func (g *Gateway) shouldTrigger(p types.Position) bool {
	mark := g.markPrice(p.Side)

	if p.Side == types.SideBuy {
		if p.TakeProfit > 0 && mark >= p.TakeProfit {
			return true
		}

		return p.StopLoss > 0 && mark <= p.StopLoss
	}

	if p.TakeProfit > 0 && mark <= p.TakeProfit {
		return true
	}

	return p.StopLoss > 0 && mark >= p.StopLoss
}

// closeLocked realizes P&L for volume lots of the position into the balance.
// Caller must hold the mutex.
func (g *Gateway) closeLocked(ticket int64, volume float64) {
	position := g.positions[ticket]

	fraction := volume / position.Volume
	realized := decimal.NewFromFloat(g.unrealized(position)).Mul(decimal.NewFromFloat(fraction))
	g.balance = g.balance.Add(realized)

	if fraction >= 1 {
		delete(g.positions, ticket)

		return
	}

	position.Volume -= volume
	g.positions[ticket] = position
}
