package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type Side string

type Role string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	// RoleGrid marks positions owned by the grid engine.
	RoleGrid Role = "grid"
	// RoleHedge marks positions owned by the hedge engine.
	RoleHedge Role = "hedge"
)

const (
	OrderReasonInitialLeg   string = "initial_leg"
	OrderReasonGridRestart  string = "grid_restart"
	OrderReasonRecovery     string = "recovery"
	OrderReasonHedgeLevel   string = "hedge_level"
	OrderReasonHedgeZone    string = "hedge_zone"
	OrderReasonManual       string = "manual"
	OrderReasonProfitFunded string = "profit_funded_close"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}

	return SideBuy
}

// OrderRequest is a market order submitted to the broker gateway.
type OrderRequest struct {
	ID     string  `yaml:"id" json:"id" validate:"required,uuid"`
	Symbol string  `yaml:"symbol" json:"symbol" validate:"required"`
	Side   Side    `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Volume float64 `yaml:"volume" json:"volume" validate:"required,gt=0"`
	// Price is the quote the engine saw when it decided to trade. The broker
	// fills at its own market price; this value is recorded for the journal.
	Price float64 `yaml:"price" json:"price" validate:"required,gt=0"`
	Role  Role    `yaml:"role" json:"role" validate:"required,oneof=grid hedge"`
	// LevelKey identifies the logical trigger that produced this order
	// (e.g. "initial_buy", "recovery_buy_1024", "HG_SELL_3"). At most one
	// open position may exist per level key.
	LevelKey string `yaml:"level_key" json:"level_key" validate:"required"`
	// Comment is attached to the broker position so state can be restored
	// from the broker after a restart.
	Comment string `yaml:"comment" json:"comment" validate:"required"`
	Reason  string `yaml:"reason" json:"reason" validate:"required"`
	// TakeProfit is the take profit price. Can be None if not set.
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	// StopLoss is the stop loss price. Can be None if not set.
	StopLoss optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
}

// Validate validates the OrderRequest struct.
func (o *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderRequest, "invalid order request", err)
	}

	if o.TakeProfit.IsSome() && o.TakeProfit.Unwrap() <= 0 {
		return errors.New(errors.ErrCodeInvalidTakeProfit, "take profit must be positive")
	}

	if o.StopLoss.IsSome() && o.StopLoss.Unwrap() <= 0 {
		return errors.New(errors.ErrCodeInvalidStopLoss, "stop loss must be positive")
	}

	return nil
}
