// Package broker defines the gateway interface the engines trade through.
package broker

import (
	"context"

	"github.com/rxtech-lab/gridhedge/internal/types"
)

// Gateway is the broker capability interface. The broker is the source of
// truth for open positions; engines never track fills themselves. Every
// method may fail transiently and callers are expected to skip the current
// tick on error rather than retry inline.
type Gateway interface {
	// GetCurrentPrice returns the latest quote for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (types.Tick, error)
	// GetRecentCandles returns up to count most recent closed candles,
	// oldest first.
	GetRecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, count int) ([]types.Candle, error)
	// PlaceOrder submits a market order and returns the broker ticket.
	PlaceOrder(ctx context.Context, order types.OrderRequest) (int64, error)
	// ModifyStopLoss updates the stop loss of an open position.
	ModifyStopLoss(ctx context.Context, ticket int64, stopLoss float64) error
	// ClosePosition closes an open position at market.
	ClosePosition(ctx context.Context, ticket int64) error
	// ClosePartial closes part of an open position at market.
	ClosePartial(ctx context.Context, ticket int64, volume float64) error
	// ListOpenPositions returns all open positions owned by this bot.
	ListOpenPositions(ctx context.Context, symbol string) ([]types.Position, error)
	// GetAccountSnapshot returns the current account state.
	GetAccountSnapshot(ctx context.Context) (types.AccountSnapshot, error)
}
