// Package migrations creates the journal's tables idempotently, the same
// way the rest of this codebase's migrations check for existing state
// before applying DDL.
package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CreateJournalTables creates virtual_positions, trade_executions,
// balance_logs, and pending_orders if they don't already exist.
func CreateJournalTables(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	logger.Info("running migration: CreateJournalTables")

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS virtual_positions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			margin DOUBLE PRECISION NOT NULL,
			liquidation_price DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			realized_pnl DOUBLE PRECISION,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_virtual_positions_account ON virtual_positions(account_id, status);

		CREATE TABLE IF NOT EXISTS trade_executions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			position_id TEXT,
			exchange_order_id TEXT,
			client_order_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl DOUBLE PRECISION,
			action TEXT NOT NULL,
			origin TEXT NOT NULL,
			status TEXT NOT NULL,
			signature TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trade_executions_account ON trade_executions(account_id, timestamp);

		CREATE TABLE IF NOT EXISTS balance_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			balance_before DOUBLE PRECISION NOT NULL,
			balance_after DOUBLE PRECISION NOT NULL,
			change_amount DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			trade_id TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_orders (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			exchange_order_id TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			filled_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_pending_orders_account ON pending_orders(account_id, status);
	`)
	if err != nil {
		return fmt.Errorf("create journal tables: %w", err)
	}
	return nil
}
