// Package journal persists order submissions and position closes to DuckDB
// so a session leaves an auditable trail and realized results can be
// summarized after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Journal records trading activity in an embedded DuckDB database. An empty
// path keeps the journal in memory.
type Journal struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// OrderRecord is one submitted order as stored in the journal.
type OrderRecord struct {
	OrderID    string
	Ticket     int64
	Symbol     string
	Side       types.Side
	Role       types.Role
	LevelKey   string
	Volume     float64
	Price      float64
	TakeProfit float64
	StopLoss   float64
	Reason     string
	Comment    string
	PlacedAt   time.Time
}

// CloseRecord is one closed position as stored in the journal. Volume is the
// closed portion, which may be less than the position's original volume.
type CloseRecord struct {
	Ticket     int64
	Symbol     string
	Side       types.Side
	Role       types.Role
	LevelKey   string
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	Profit     float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Stats summarizes the realized results of a session.
type Stats struct {
	Closes      int
	Winning     int
	Losing      int
	WinRate     float64
	NetProfit   float64
	MaxLoss     float64
	MaxProfit   float64
	GridProfit  float64
	HedgeProfit float64
}

// NewJournal opens the journal database and creates its tables. An empty
// path opens an in-memory database.
func NewJournal(path string, log *logger.Logger) (*Journal, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to open journal database", err)
	}

	j := &Journal{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := j.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return j, nil
}

func (j *Journal) initialize() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			ticket BIGINT,
			symbol TEXT,
			side TEXT,
			role TEXT,
			level_key TEXT,
			volume DOUBLE,
			price DOUBLE,
			take_profit DOUBLE,
			stop_loss DOUBLE,
			reason TEXT,
			message TEXT,
			placed_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to create orders table", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS closes (
			ticket BIGINT,
			symbol TEXT,
			side TEXT,
			role TEXT,
			level_key TEXT,
			volume DOUBLE,
			open_price DOUBLE,
			close_price DOUBLE,
			profit DOUBLE,
			reason TEXT,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to create closes table", err)
	}

	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordOrder stores a filled order submission with the broker ticket it
// produced.
func (j *Journal) RecordOrder(req types.OrderRequest, ticket int64, at time.Time) error {
	insert := j.sq.
		Insert("orders").
		Columns(
			"order_id", "ticket", "symbol", "side", "role", "level_key",
			"volume", "price", "take_profit", "stop_loss", "reason", "message", "placed_at",
		).
		Values(
			req.ID, ticket, req.Symbol, string(req.Side), string(req.Role), req.LevelKey,
			req.Volume, req.Price, req.TakeProfit.TakeOr(0), req.StopLoss.TakeOr(0),
			req.Reason, req.Comment, at,
		).
		RunWith(j.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to record order", err)
	}

	return nil
}

// RecordClose stores a full or partial position close and its realized
// profit.
func (j *Journal) RecordClose(pos types.Position, closedVolume, closePrice, profit float64, reason string, at time.Time) error {
	insert := j.sq.
		Insert("closes").
		Columns(
			"ticket", "symbol", "side", "role", "level_key",
			"volume", "open_price", "close_price", "profit", "reason", "opened_at", "closed_at",
		).
		Values(
			pos.Ticket, pos.Symbol, string(pos.Side), string(pos.Role), pos.LevelKey,
			closedVolume, pos.OpenPrice, closePrice, profit, reason, pos.OpenTime, at,
		).
		RunWith(j.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to record close", err)
	}

	return nil
}

// Orders returns every recorded order, oldest first.
func (j *Journal) Orders() ([]OrderRecord, error) {
	query := j.sq.
		Select(
			"order_id", "ticket", "symbol", "side", "role", "level_key",
			"volume", "price", "take_profit", "stop_loss", "reason", "message", "placed_at",
		).
		From("orders").
		OrderBy("placed_at ASC").
		RunWith(j.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var records []OrderRecord

	for rows.Next() {
		var rec OrderRecord

		var side, role string

		err := rows.Scan(
			&rec.OrderID, &rec.Ticket, &rec.Symbol, &side, &role, &rec.LevelKey,
			&rec.Volume, &rec.Price, &rec.TakeProfit, &rec.StopLoss,
			&rec.Reason, &rec.Comment, &rec.PlacedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan order", err)
		}

		rec.Side = types.Side(side)
		rec.Role = types.Role(role)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating orders", err)
	}

	return records, nil
}

// Closes returns every recorded close, oldest first.
func (j *Journal) Closes() ([]CloseRecord, error) {
	query := j.sq.
		Select(
			"ticket", "symbol", "side", "role", "level_key",
			"volume", "open_price", "close_price", "profit", "reason", "opened_at", "closed_at",
		).
		From("closes").
		OrderBy("closed_at ASC").
		RunWith(j.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query closes", err)
	}
	defer rows.Close()

	var records []CloseRecord

	for rows.Next() {
		var rec CloseRecord

		var side, role string

		err := rows.Scan(
			&rec.Ticket, &rec.Symbol, &side, &role, &rec.LevelKey,
			&rec.Volume, &rec.OpenPrice, &rec.ClosePrice, &rec.Profit,
			&rec.Reason, &rec.OpenedAt, &rec.ClosedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan close", err)
		}

		rec.Side = types.Side(side)
		rec.Role = types.Role(role)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating closes", err)
	}

	return records, nil
}

// RealizedProfit sums every recorded close's profit using decimal
// arithmetic.
func (j *Journal) RealizedProfit() (float64, error) {
	closes, err := j.Closes()
	if err != nil {
		return 0, err
	}

	total := decimal.Zero
	for _, rec := range closes {
		total = total.Add(decimal.NewFromFloat(rec.Profit))
	}

	out, _ := total.Float64()

	return out, nil
}

// Stats computes the realized result summary for a symbol.
func (j *Journal) Stats(symbol string) (Stats, error) {
	query := `
		WITH close_stats AS (
			SELECT
				COUNT(*) as total_closes,
				SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END) as winning,
				SUM(CASE WHEN profit < 0 THEN 1 ELSE 0 END) as losing,
				COALESCE(SUM(profit), 0) as net_profit,
				COALESCE(MIN(profit), 0) as min_profit,
				COALESCE(MAX(profit), 0) as max_profit,
				COALESCE(SUM(CASE WHEN role = ? THEN profit ELSE 0 END), 0) as grid_profit,
				COALESCE(SUM(CASE WHEN role = ? THEN profit ELSE 0 END), 0) as hedge_profit
			FROM closes
			WHERE symbol = ?
		)
		SELECT
			total_closes,
			COALESCE(winning, 0),
			COALESCE(losing, 0),
			CASE WHEN total_closes > 0 THEN CAST(winning AS DOUBLE) / total_closes ELSE 0 END as win_rate,
			net_profit,
			CASE WHEN min_profit < 0 THEN min_profit ELSE 0 END as max_loss,
			CASE WHEN max_profit > 0 THEN max_profit ELSE 0 END as max_profit,
			grid_profit,
			hedge_profit
		FROM close_stats
	`

	var stats Stats

	err := j.db.QueryRow(query, string(types.RoleGrid), string(types.RoleHedge), symbol).Scan(
		&stats.Closes,
		&stats.Winning,
		&stats.Losing,
		&stats.WinRate,
		&stats.NetProfit,
		&stats.MaxLoss,
		&stats.MaxProfit,
		&stats.GridProfit,
		&stats.HedgeProfit,
	)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to compute stats", err)
	}

	return stats, nil
}

// Export writes both tables to Parquet files under the given directory.
func (j *Journal) Export(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to create export directory", err)
	}

	ordersPath := filepath.Join(dir, "orders.parquet")
	if _, err := j.db.Exec(fmt.Sprintf(`COPY orders TO '%s' (FORMAT PARQUET)`, ordersPath)); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to export orders", err)
	}

	closesPath := filepath.Join(dir, "closes.parquet")
	if _, err := j.db.Exec(fmt.Sprintf(`COPY closes TO '%s' (FORMAT PARQUET)`, closesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to export closes", err)
	}

	j.log.Info("journal exported",
		zap.String("orders", ordersPath),
		zap.String("closes", closesPath))

	return nil
}

// Cleanup drops and recreates the journal tables.
func (j *Journal) Cleanup() error {
	_, err := j.db.Exec(`
		DROP TABLE IF EXISTS orders;
		DROP TABLE IF EXISTS closes;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to drop journal tables", err)
	}

	return j.initialize()
}
