// Package gate sequences all order placement through a single guarded path.
// Engines decide what to trade; the gate re-checks, at submission time,
// that the decision is still valid against the latest broker snapshot.
package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Submission is an order plus its guard parameters.
type Submission struct {
	Order types.OrderRequest
	// NearbyGuard skips the order when an open position of the same role and
	// side sits within this price distance of the order price. Zero disables
	// the check.
	NearbyGuard float64
}

// Recorder observes successful placements. The trade journal implements it.
type Recorder interface {
	RecordOrder(req types.OrderRequest, ticket int64, at time.Time) error
}

// Gate is the single submission path for orders.
type Gate struct {
	gateway  broker.Gateway
	ledger   *ledger.Ledger
	log      *logger.Logger
	recorder Recorder

	// level keys claimed since BeginTick, before the ledger can observe them
	claimed map[string]struct{}
}

// NewGate creates a gate submitting through the given gateway.
func NewGate(gateway broker.Gateway, l *ledger.Ledger, log *logger.Logger) *Gate {
	return &Gate{
		gateway: gateway,
		ledger:  l,
		log:     log,
		claimed: make(map[string]struct{}),
	}
}

// SetRecorder attaches a placement recorder. Recording failures are logged
// and do not fail the submission.
func (g *Gate) SetRecorder(r Recorder) {
	g.recorder = r
}

// BeginTick clears the intra-tick claim set. Call once per tick, after the
// ledger refresh.
func (g *Gate) BeginTick() {
	g.claimed = make(map[string]struct{})
}

func claimKey(role types.Role, levelKey string) string {
	return string(role) + "/" + levelKey
}

// Submit validates the order, re-checks its guards against live state and
// places it. A trigger whose level key is already claimed, by an open
// position or by an earlier submission this tick, fires at most once.
func (g *Gate) Submit(ctx context.Context, sub Submission) (int64, error) {
	order := sub.Order
	if err := order.Validate(); err != nil {
		return 0, err
	}

	key := claimKey(order.Role, order.LevelKey)

	if _, ok := g.claimed[key]; ok {
		return 0, errors.Newf(errors.ErrCodeGridLevelClaimed, "level %s already claimed this tick", order.LevelKey)
	}

	if g.ledger.HasLevelKey(order.Role, order.LevelKey) {
		return 0, errors.Newf(errors.ErrCodeGridLevelClaimed, "level %s already has an open position", order.LevelKey)
	}

	if sub.NearbyGuard > 0 && g.ledger.NearbySameSide(order.Role, order.Side, order.Price, sub.NearbyGuard) {
		return 0, errors.Newf(errors.ErrCodeGridNearbyPosition, "same-side position within %.2f of %.2f", sub.NearbyGuard, order.Price)
	}

	ticket, err := g.gateway.PlaceOrder(ctx, order)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeOrderRejected, err, "failed to place %s %s", order.Side, order.LevelKey)
	}

	g.claimed[key] = struct{}{}

	// hand the fill to the ledger right away; a position that closes before
	// the next refresh must still reconcile
	g.ledger.Track(types.Position{
		Ticket:       ticket,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Volume:       order.Volume,
		OpenPrice:    order.Price,
		CurrentPrice: order.Price,
		OpenTime:     time.Now(),
		Role:         order.Role,
		LevelKey:     order.LevelKey,
		Comment:      order.Comment,
		TakeProfit:   order.TakeProfit.TakeOr(0),
		StopLoss:     order.StopLoss.TakeOr(0),
	})

	if g.recorder != nil {
		if err := g.recorder.RecordOrder(order, ticket, time.Now()); err != nil {
			g.log.Warn("failed to journal order", zap.Int64("ticket", ticket), zap.Error(err))
		}
	}

	g.log.Info("order placed",
		zap.Int64("ticket", ticket),
		zap.String("side", string(order.Side)),
		zap.String("role", string(order.Role)),
		zap.String("level_key", order.LevelKey),
		zap.Float64("volume", order.Volume),
		zap.Float64("price", order.Price),
	)

	return ticket, nil
}
