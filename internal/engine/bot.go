// Package engine runs the trading loop: one ledger refresh per tick, then
// the grid and hedge engines in order, then the risk monitor. The broker is
// polled; a failed refresh skips the whole tick so no engine ever acts on a
// stale snapshot.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/gate"
	"github.com/rxtech-lab/gridhedge/internal/grid"
	"github.com/rxtech-lab/gridhedge/internal/hedge"
	"github.com/rxtech-lab/gridhedge/internal/journal"
	"github.com/rxtech-lab/gridhedge/internal/ledger"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Bot wires the gateway, ledger, gate and both engines into one polling
// loop.
type Bot struct {
	cfg     *config.Config
	gateway broker.Gateway
	ledger  *ledger.Ledger
	gate    *gate.Gate
	grid    *grid.Engine
	hedge   *hedge.Engine
	journal *journal.Journal
	risk    *riskMonitor
	log     *logger.Logger

	running bool
}

// NewBot builds the full engine stack on top of a gateway. The journal may
// be nil to disable trade recording.
func NewBot(cfg *config.Config, gateway broker.Gateway, jr *journal.Journal, log *logger.Logger) *Bot {
	l := ledger.NewLedger(gateway, cfg, log)
	g := gate.NewGate(gateway, l, log)

	if jr != nil {
		g.SetRecorder(jr)
	}

	return &Bot{
		cfg:     cfg,
		gateway: gateway,
		ledger:  l,
		gate:    g,
		grid:    grid.NewEngine(cfg, l, g, log),
		hedge:   hedge.NewEngine(cfg, gateway, l, g, log),
		journal: jr,
		risk:    newRiskMonitor(cfg, log),
		log:     log,
	}
}

// Ledger exposes the position ledger, for status reporting.
func (b *Bot) Ledger() *ledger.Ledger {
	return b.ledger
}

// Running reports whether the loop has been started.
func (b *Bot) Running() bool {
	return b.running
}

// Start restores state from the broker and activates both engines at the
// current price.
func (b *Bot) Start(ctx context.Context) error {
	if b.running {
		return nil
	}

	if err := b.ledger.Refresh(ctx); err != nil {
		return err
	}

	b.gate.BeginTick()

	tick, err := b.gateway.GetCurrentPrice(ctx, b.cfg.Symbol)
	if err != nil {
		return err
	}

	if err := b.grid.Start(ctx, tick); err != nil {
		return err
	}

	// refresh again so the snapshot carries the fills of the initial legs
	if err := b.ledger.Refresh(ctx); err != nil {
		return err
	}

	b.hedge.Start(tick)
	b.running = true

	b.log.Info("bot started",
		zap.String("symbol", b.cfg.Symbol),
		zap.Float64("price", tick.Bid),
		zap.Int("open_positions", len(b.ledger.Positions())))

	return nil
}

// Stop deactivates both engines. Open positions remain at the broker.
func (b *Bot) Stop() {
	if !b.running {
		return
	}

	b.grid.Stop()
	b.hedge.Stop()
	b.running = false

	b.log.Info("bot stopped")
}

// Tick runs one loop pass. A broker failure during the ledger refresh or
// the price fetch aborts the pass before any engine acts; the caller logs
// the error and waits for the next tick.
func (b *Bot) Tick(ctx context.Context) error {
	if !b.running {
		return nil
	}

	if err := b.ledger.Refresh(ctx); err != nil {
		return err
	}

	b.recordCloses()
	b.gate.BeginTick()

	tick, err := b.gateway.GetCurrentPrice(ctx, b.cfg.Symbol)
	if err != nil {
		return err
	}

	var firstErr error

	if err := b.grid.Step(ctx, tick); err != nil {
		b.log.Warn("grid step failed", zap.Error(err))

		firstErr = err
	}

	// the hedge engine still runs when the grid errored; it protects the
	// positions that already exist
	if err := b.hedge.Step(ctx, tick); err != nil {
		b.log.Warn("hedge step failed", zap.Error(err))

		if firstErr == nil {
			firstErr = err
		}
	}

	for _, alert := range b.risk.Check(b.ledger.Account()) {
		b.log.Warn("risk limit breached",
			zap.String("kind", string(alert.Kind)),
			zap.Float64("value", alert.Value),
			zap.Float64("limit", alert.Limit))
	}

	return firstErr
}

// Run starts the bot and polls until the context is cancelled. Tick errors
// are logged and the loop continues.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Stop()

			return ctx.Err()
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				b.log.Warn("tick skipped", zap.Error(err))
			}
		}
	}
}

// CloseAll closes every open position with the given role, or every
// position when the role is empty. Failures are logged and the remaining
// positions are still attempted.
func (b *Bot) CloseAll(ctx context.Context, role types.Role) error {
	if err := b.ledger.Refresh(ctx); err != nil {
		return err
	}

	failed := 0

	for _, pos := range b.ledger.Positions() {
		if role != "" && pos.Role != role {
			continue
		}

		if err := b.gateway.ClosePosition(ctx, pos.Ticket); err != nil {
			b.log.Warn("failed to close position",
				zap.Int64("ticket", pos.Ticket),
				zap.Error(err))

			failed++

			continue
		}

		b.log.Info("position closed",
			zap.Int64("ticket", pos.Ticket),
			zap.String("level_key", pos.LevelKey))
	}

	if failed > 0 {
		return errors.Newf(errors.ErrCodeCloseFailed, "failed to close %d positions", failed)
	}

	return nil
}

func (b *Bot) recordCloses() {
	closed := b.ledger.ClosedSinceLastRefresh()
	if len(closed) == 0 {
		return
	}

	for _, pos := range closed {
		b.log.Info("position closed by broker",
			zap.Int64("ticket", pos.Ticket),
			zap.String("level_key", pos.LevelKey),
			zap.Float64("profit", pos.Profit))

		if b.journal == nil {
			continue
		}

		if err := b.journal.RecordClose(pos, pos.Volume, pos.CurrentPrice, pos.Profit, "broker_close", time.Now()); err != nil {
			b.log.Warn("failed to journal close", zap.Int64("ticket", pos.Ticket), zap.Error(err))
		}
	}
}
