// Package ledger keeps the per-tick snapshot of broker positions. The broker
// is the source of truth; the ledger never invents state, it only classifies
// and aggregates what the last refresh reported.
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Exposure summarizes open grid volume.
type Exposure struct {
	BuyVolume  float64
	SellVolume float64
	// NetVolume is |buy - sell|.
	NetVolume float64
	// Direction is the dominant side, empty when flat.
	Direction types.Side
}

// Ledger is the per-tick view of broker state.
type Ledger struct {
	gateway broker.Gateway
	config  *config.Config
	log     *logger.Logger

	positions []types.Position
	account   types.AccountSnapshot
	known     map[int64]types.Position
	closed    []types.Position
	refreshed bool
}

// NewLedger creates a ledger reading through the given gateway.
func NewLedger(gateway broker.Gateway, cfg *config.Config, log *logger.Logger) *Ledger {
	return &Ledger{
		gateway: gateway,
		config:  cfg,
		log:     log,
		known:   make(map[int64]types.Position),
	}
}

// Reconcile returns the positions present in known but absent from reported.
// Ticket absence is the only close signal the broker gives us.
func Reconcile(known map[int64]types.Position, reported []types.Position) []types.Position {
	open := make(map[int64]struct{}, len(reported))
	for _, p := range reported {
		open[p.Ticket] = struct{}{}
	}

	var closed []types.Position

	for ticket, p := range known {
		if _, ok := open[ticket]; !ok {
			closed = append(closed, p)
		}
	}

	return closed
}

// Track records a position the gate just opened, so a close before the next
// refresh still reconciles instead of vanishing without a trace. The next
// refresh replaces the tracked state with the broker's.
func (l *Ledger) Track(p types.Position) {
	l.known[p.Ticket] = p
	l.positions = append(l.positions, p)
}

// Refresh pulls open positions and the account snapshot from the broker and
// records which previously known tickets have disappeared.
func (l *Ledger) Refresh(ctx context.Context) error {
	positions, err := l.gateway.ListOpenPositions(ctx, l.config.Symbol)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to list positions", err)
	}

	account, err := l.gateway.GetAccountSnapshot(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotUnavailable, "failed to fetch account snapshot", err)
	}

	for i := range positions {
		l.classify(&positions[i])
	}

	l.closed = Reconcile(l.known, positions)
	if len(l.closed) > 0 {
		l.log.Info("positions closed since last refresh", zap.Int("count", len(l.closed)))
	}

	l.known = make(map[int64]types.Position, len(positions))
	for _, p := range positions {
		l.known[p.Ticket] = p
	}

	l.positions = positions
	l.account = account
	l.refreshed = true

	return nil
}

// classify assigns Role and LevelKey from the broker comment for positions
// restored after a restart, when the broker echoes only the comment back.
func (l *Ledger) classify(p *types.Position) {
	if p.Role != "" {
		return
	}

	switch {
	case strings.HasPrefix(p.Comment, l.config.Broker.CommentHedge):
		p.Role = types.RoleHedge
	case strings.HasPrefix(p.Comment, l.config.Broker.CommentGrid):
		p.Role = types.RoleGrid
	default:
		return
	}

	if p.LevelKey == "" {
		if _, key, ok := strings.Cut(p.Comment, "|"); ok {
			p.LevelKey = key
		}
	}
}

// Refreshed reports whether at least one refresh has completed.
func (l *Ledger) Refreshed() bool {
	return l.refreshed
}

// Positions returns all open positions from the last refresh.
func (l *Ledger) Positions() []types.Position {
	return l.positions
}

// ClosedSinceLastRefresh returns positions that vanished between the last
// two refreshes, with the state they had when last seen.
func (l *Ledger) ClosedSinceLastRefresh() []types.Position {
	return l.closed
}

// Account returns the account snapshot from the last refresh.
func (l *Ledger) Account() types.AccountSnapshot {
	return l.account
}

// GridPositions returns open grid legs.
func (l *Ledger) GridPositions() []types.Position {
	return l.byRole(types.RoleGrid)
}

// HedgePositions returns open hedge legs.
func (l *Ledger) HedgePositions() []types.Position {
	return l.byRole(types.RoleHedge)
}

func (l *Ledger) byRole(role types.Role) []types.Position {
	var out []types.Position

	for _, p := range l.positions {
		if p.Role == role {
			out = append(out, p)
		}
	}

	return out
}

// FindByTicket returns the open position with the given ticket.
func (l *Ledger) FindByTicket(ticket int64) (types.Position, bool) {
	for _, p := range l.positions {
		if p.Ticket == ticket {
			return p, true
		}
	}

	return types.Position{}, false
}

// HasLevelKey reports whether an open position of the role claims the key.
func (l *Ledger) HasLevelKey(role types.Role, key string) bool {
	for _, p := range l.positions {
		if p.Role == role && p.LevelKey == key {
			return true
		}
	}

	return false
}

// NearbySameSide reports whether an open position of the role and side sits
// within distance of price.
func (l *Ledger) NearbySameSide(role types.Role, side types.Side, price, distance float64) bool {
	for _, p := range l.byRole(role) {
		if p.Side != side {
			continue
		}

		diff := p.OpenPrice - price
		if diff < 0 {
			diff = -diff
		}

		if diff < distance {
			return true
		}
	}

	return false
}

// TotalProfit returns the unrealized P&L across all open positions.
func (l *Ledger) TotalProfit() float64 {
	return sumProfit(l.positions)
}

// GridProfit returns the unrealized P&L of open grid legs.
func (l *Ledger) GridProfit() float64 {
	return sumProfit(l.GridPositions())
}

// HedgeProfit returns the unrealized P&L of open hedge legs.
func (l *Ledger) HedgeProfit() float64 {
	return sumProfit(l.HedgePositions())
}

func sumProfit(positions []types.Position) float64 {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(decimal.NewFromFloat(p.Profit))
	}

	result, _ := total.Float64()

	return result
}

// NetGridExposure returns aggregate grid volume by side.
func (l *Ledger) NetGridExposure() Exposure {
	buy := decimal.Zero
	sell := decimal.Zero

	for _, p := range l.GridPositions() {
		volume := decimal.NewFromFloat(p.Volume)
		if p.Side == types.SideBuy {
			buy = buy.Add(volume)
		} else {
			sell = sell.Add(volume)
		}
	}

	net := buy.Sub(sell)

	exposure := Exposure{}
	exposure.BuyVolume, _ = buy.Float64()
	exposure.SellVolume, _ = sell.Float64()

	switch {
	case net.IsPositive():
		exposure.Direction = types.SideBuy
	case net.IsNegative():
		exposure.Direction = types.SideSell
		net = net.Neg()
	}

	exposure.NetVolume, _ = net.Float64()

	return exposure
}

// WorstGridLoser returns the open grid leg with the largest loss.
func (l *Ledger) WorstGridLoser() (types.Position, bool) {
	var (
		worst types.Position
		found bool
	)

	for _, p := range l.GridPositions() {
		if p.Profit >= 0 {
			continue
		}

		if !found || p.Profit < worst.Profit {
			worst = p
			found = true
		}
	}

	return worst, found
}

// MarginUsage returns margin as a percentage of equity from the last refresh.
func (l *Ledger) MarginUsage() float64 {
	return l.account.MarginUsage()
}
