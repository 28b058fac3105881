package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callisto/internal/backtest"
	"callisto/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ StateStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore and StateStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id                   TEXT PRIMARY KEY,
	created_at           INTEGER NOT NULL,
	symbol               TEXT NOT NULL,
	strategy             TEXT NOT NULL,
	timeframe            TEXT NOT NULL,
	start_time           INTEGER NOT NULL,
	end_time             INTEGER NOT NULL,
	initial_capital      REAL NOT NULL,
	final_capital        REAL NOT NULL,
	total_return_percent REAL NOT NULL,
	total_trades         INTEGER NOT NULL,
	win_rate             REAL NOT NULL,
	profit_factor        REAL NOT NULL,
	max_drawdown_percent REAL NOT NULL,
	sharpe_ratio         REAL NOT NULL,
	result_json          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id       TEXT NOT NULL REFERENCES backtest_runs (id),
	seq          INTEGER NOT NULL,
	symbol       TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	side         TEXT NOT NULL,
	entry_time   INTEGER NOT NULL,
	exit_time    INTEGER NOT NULL,
	entry_price  REAL NOT NULL,
	exit_price   REAL NOT NULL,
	stop_loss    REAL NOT NULL,
	take_profits TEXT NOT NULL,
	size         REAL NOT NULL,
	fees         REAL NOT NULL,
	pnl          REAL NOT NULL,
	pnl_percent  REAL NOT NULL,
	r_multiple   REAL NOT NULL,
	exit_reason  TEXT NOT NULL,
	status       TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS engine_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, switches it
// to WAL mode and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveResult stores a result row plus one row per trade in a single
// transaction and returns the generated run id.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *backtest.Result) (string, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			id, created_at, symbol, strategy, timeframe, start_time, end_time,
			initial_capital, final_capital, total_return_percent, total_trades,
			win_rate, profit_factor, max_drawdown_percent, sharpe_ratio, result_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().UnixMilli(), res.Symbol, res.Strategy, res.Timeframe,
		timeToMs(res.Start), timeToMs(res.End),
		res.InitialCapital, res.FinalCapital, res.TotalReturnPercent, res.TotalTrades,
		res.WinRate, res.ProfitFactor, res.MaxDrawdownPercent, res.SharpeRatio,
		string(payload))
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (
			run_id, seq, symbol, strategy, side, entry_time, exit_time,
			entry_price, exit_price, stop_loss, take_profits, size, fees,
			pnl, pnl_percent, r_multiple, exit_reason, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, t := range res.Trades {
		tps, err := json.Marshal(t.TakeProfits)
		if err != nil {
			return "", fmt.Errorf("encoding take profits: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			id, i, t.Symbol, t.Strategy, string(t.Side),
			timeToMs(t.EntryTime), timeToMs(t.ExitTime),
			t.EntryPrice, t.ExitPrice, t.StopLoss, string(tps), t.Size, t.Fees,
			t.PnL, t.PnLPercent, t.RMultiple, string(t.ExitReason), string(t.Status))
		if err != nil {
			return "", fmt.Errorf("inserting trade %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetResult returns the full stored result for a run id.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*backtest.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT result_json FROM backtest_runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var res backtest.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", id, err)
	}
	return &res, nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, symbol, strategy, timeframe, total_return_percent,
		       total_trades, win_rate, profit_factor, max_drawdown_percent, sharpe_ratio
		FROM backtest_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var createdMs int64
		if err := rows.Scan(&r.ID, &createdMs, &r.Symbol, &r.Strategy, &r.Timeframe,
			&r.TotalReturnPercent, &r.TotalTrades, &r.WinRate, &r.ProfitFactor,
			&r.MaxDrawdownPercent, &r.SharpeRatio); err != nil {
			return nil, err
		}
		r.CreatedAt = msToTime(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTrades returns the trades of a run in execution order.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.SimulatedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, strategy, side, entry_time, exit_time, entry_price,
		       exit_price, stop_loss, take_profits, size, fees, pnl,
		       pnl_percent, r_multiple, exit_reason, status
		FROM backtest_trades
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SimulatedTrade
	for rows.Next() {
		var (
			t                  domain.SimulatedTrade
			entryMs, exitMs    int64
			side, reason, stat string
			tps                string
		)
		if err := rows.Scan(&t.Symbol, &t.Strategy, &side, &entryMs, &exitMs,
			&t.EntryPrice, &t.ExitPrice, &t.StopLoss, &tps, &t.Size, &t.Fees,
			&t.PnL, &t.PnLPercent, &t.RMultiple, &reason, &stat); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.ExitReason = domain.ExitReason(reason)
		t.Status = domain.TradeStatus(stat)
		t.EntryTime = msToTime(entryMs)
		t.ExitTime = msToTime(exitMs)
		if err := json.Unmarshal([]byte(tps), &t.TakeProfits); err != nil {
			return nil, fmt.Errorf("decoding take profits: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its trades.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_trades WHERE run_id = ?`, id); err != nil {
		return err
	}
	r, err := tx.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// StateStore implementation
// ---------------------------------------------------------------------------

// SaveEngineState marshals state and replaces the single stored snapshot.
func (s *SQLiteStore) SaveEngineState(ctx context.Context, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding engine state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engine_state (id, state, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(payload), time.Now().UTC().UnixMilli())
	return err
}

// LoadEngineState unmarshals the stored snapshot into dst. The boolean
// reports whether a snapshot existed.
func (s *SQLiteStore) LoadEngineState(ctx context.Context, dst any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM engine_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return false, fmt.Errorf("decoding engine state: %w", err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Time helpers
// ---------------------------------------------------------------------------

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
