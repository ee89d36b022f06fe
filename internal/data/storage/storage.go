package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/data"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"

	_ "github.com/lib/pq"
)

var _ data.Storage = (*PostgresStorage)(nil)

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStorageFromDB(db)
}

// NewPostgresStorageFromDB wraps an open handle and creates missing tables.
func NewPostgresStorageFromDB(db *sql.DB) (*PostgresStorage, error) {
	s := &PostgresStorage{db: db}

	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

const tradeColumns = `id, user_id, pair, side, amount, price, total, fee, timestamp, status,
               tx_hash, intent_id, needs_reconciliation`

// SaveTrade implements TradeStore interface
func (s *PostgresStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	query := `
        INSERT INTO trades (` + tradeColumns + `) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
        )
        ON CONFLICT (id) DO NOTHING
    `

	_, err := s.db.ExecContext(ctx, query,
		trade.ID,
		trade.UserID,
		trade.Pair,
		string(trade.Side),
		trade.Amount,
		trade.Price,
		trade.Total,
		trade.Fee,
		trade.Timestamp,
		string(trade.Status),
		trade.TxHash,
		trade.IntentID,
		trade.NeedsReconciliation,
	)

	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var side, status string
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Pair,
		&side,
		&t.Amount,
		&t.Price,
		&t.Total,
		&t.Fee,
		&t.Timestamp,
		&status,
		&t.TxHash,
		&t.IntentID,
		&t.NeedsReconciliation,
	)
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	return &t, nil
}

// GetTrade implements TradeStore interface
func (s *PostgresStorage) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	trade, err := scanTrade(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.TradeNotFound, "storage.get_trade", "no trade %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return trade, nil
}

// ListTrades implements TradeStore interface
func (s *PostgresStorage) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	query := `
        SELECT ` + tradeColumns + `
        FROM trades
        WHERE user_id = $1
        ORDER BY timestamp DESC
    `

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		result = append(result, *trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return result, nil
}

// TransitionTrade implements TradeStore interface. The status check and the update are one
// statement, so two concurrent transitions of the same trade cannot both succeed.
func (s *PostgresStorage) TransitionTrade(ctx context.Context, id string, from, next models.TradeStatus) (*models.Trade, error) {
	if !models.CanTransition(from, next) {
		return nil, errs.New(errs.InvalidTransition, "storage.transition_trade", "trade %s: %s -> %s", id, from, next)
	}

	query := `
        UPDATE trades SET status = $3
        WHERE id = $1 AND status = $2
        RETURNING ` + tradeColumns

	trade, err := scanTrade(s.db.QueryRowContext(ctx, query, id, string(from), string(next)))
	if err == nil {
		return trade, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition trade: %w", err)
	}

	current, err := s.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errs.New(errs.InvalidTransition, "storage.transition_trade",
		"trade %s is %s, not %s", id, current.Status, from)
}

// LoadBalances implements BalanceStore interface
func (s *PostgresStorage) LoadBalances(ctx context.Context, userID string) (models.Balances, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, amount FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	result := make(models.Balances)
	for rows.Next() {
		var symbol string
		var amount decimal.Decimal
		if err := rows.Scan(&symbol, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		result[symbol] = amount
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	return result, nil
}

// SaveBalances implements BalanceStore interface
func (s *PostgresStorage) SaveBalances(ctx context.Context, userID string, balances models.Balances) error {
	for symbol, amount := range balances {
		if amount.IsNegative() {
			return errs.New(errs.InsufficientBalance, "storage.save_balances", "negative %s balance for %s", symbol, userID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM balances WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear balances: %w", err)
	}

	query := `
        INSERT INTO balances (user_id, symbol, amount, updated_at)
        VALUES ($1, $2, $3, $4)
    `
	now := time.Now()
	for _, symbol := range balances.Symbols() {
		if _, err := tx.ExecContext(ctx, query, userID, symbol, balances[symbol], now); err != nil {
			return fmt.Errorf("failed to save balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// RecordDivergence implements DivergenceStore interface
func (s *PostgresStorage) RecordDivergence(ctx context.Context, d *models.Divergence) error {
	query := `
        INSERT INTO ledger_divergences (user_id, trade_id, reason, detail, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `

	err := s.db.QueryRowContext(ctx, query, d.UserID, d.TradeID, string(d.Reason), d.Detail, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to record divergence: %w", err)
	}
	return nil
}

// ListDivergences implements DivergenceStore interface
func (s *PostgresStorage) ListDivergences(ctx context.Context, userID string) ([]models.Divergence, error) {
	query := `
        SELECT id, user_id, trade_id, reason, detail, created_at
        FROM ledger_divergences
        WHERE user_id = $1 AND resolved_at IS NULL
        ORDER BY id ASC
    `

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query divergences: %w", err)
	}
	defer rows.Close()

	var result []models.Divergence
	for rows.Next() {
		var d models.Divergence
		var reason string
		if err := rows.Scan(&d.ID, &d.UserID, &d.TradeID, &reason, &d.Detail, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan divergence: %w", err)
		}
		d.Reason = models.DivergenceReason(reason)
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating divergence rows: %w", err)
	}

	return result, nil
}

// ResolveDivergences implements DivergenceStore interface
func (s *PostgresStorage) ResolveDivergences(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE ledger_divergences SET resolved_at = $2 WHERE user_id = $1 AND resolved_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to resolve divergences: %w", err)
	}
	return nil
}

// SaveMarketData implements MarketDataStore interface
func (s *PostgresStorage) SaveMarketData(ctx context.Context, md *models.MarketData) error {
	query := `
        INSERT INTO market_data (
            symbol, source, price, volume_24h, price_change_24h, timestamp
        ) VALUES (
            $1, $2, $3, $4, $5, $6
        )
    `

	_, err := s.db.ExecContext(ctx, query,
		md.Symbol,
		md.Source,
		md.Price,
		md.Volume24h,
		md.PriceChange24h,
		md.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to save market data: %w", err)
	}

	return nil
}

// LatestMarketData implements MarketDataStore interface
func (s *PostgresStorage) LatestMarketData(ctx context.Context, symbol string) (*models.MarketData, error) {
	query := `
        SELECT symbol, source, price, volume_24h, price_change_24h, timestamp
        FROM market_data
        WHERE symbol = $1
        ORDER BY timestamp DESC
        LIMIT 1
    `

	var md models.MarketData
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(
		&md.Symbol,
		&md.Source,
		&md.Price,
		&md.Volume24h,
		&md.PriceChange24h,
		&md.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, data.ErrNoMarketData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market data: %w", err)
	}
	return &md, nil
}

func (s *PostgresStorage) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR(80) PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			pair VARCHAR(50) NOT NULL,
			side VARCHAR(8) NOT NULL,
			amount NUMERIC NOT NULL,
			price NUMERIC NOT NULL,
			total NUMERIC NOT NULL,
			fee NUMERIC NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			status VARCHAR(16) NOT NULL,
			tx_hash VARCHAR(80) NOT NULL DEFAULT '',
			intent_id VARCHAR(80) NOT NULL DEFAULT '',
			needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE INDEX IF NOT EXISTS trades_user_id_idx ON trades (user_id, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS balances (
			user_id VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			amount NUMERIC NOT NULL CHECK (amount >= 0),
			updated_at TIMESTAMP DEFAULT NOW(),
			PRIMARY KEY (user_id, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_divergences (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			trade_id VARCHAR(80) NOT NULL,
			reason VARCHAR(40) NOT NULL,
			detail TEXT,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(50) NOT NULL,
			source VARCHAR(50) NOT NULL,
			price NUMERIC(78, 18),
			volume_24h NUMERIC(78, 18),
			price_change_24h NUMERIC(10, 4),
			timestamp TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		_, err := s.db.Exec(query)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
