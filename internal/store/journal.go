package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/store/migrations"
)

// Journal is the durable trade/position/balance/order repository. It is
// the source of truth for account ownership at cold-start recovery.
type Journal struct {
	db *sqlx.DB
}

// Open dials Postgres via pgx's database/sql driver, wrapped in sqlx, and
// ensures its tables exist before returning.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Journal, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := migrations.CreateJournalTables(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	return j.db.Close()
}

// UpsertPendingOrder writes a pending_orders row, keyed by client order id.
func (j *Journal) UpsertPendingOrder(ctx context.Context, o PendingOrder) error {
	const query = `
		INSERT INTO pending_orders (id, account_id, symbol, side, type, price, quantity, leverage,
			exchange_order_id, status, created_at, filled_at, cancelled_at)
		VALUES (:id, :account_id, :symbol, :side, :type, :price, :quantity, :leverage,
			:exchange_order_id, :status, :created_at, :filled_at, :cancelled_at)
		ON CONFLICT (id) DO UPDATE SET
			exchange_order_id = EXCLUDED.exchange_order_id,
			status = EXCLUDED.status,
			filled_at = EXCLUDED.filled_at,
			cancelled_at = EXCLUDED.cancelled_at
	`
	_, err := j.db.NamedExecContext(ctx, query, o)
	return err
}

// PendingOrders returns every order still marked pending, the source of
// truth for account ownership at cold-start recovery.
func (j *Journal) PendingOrders(ctx context.Context) ([]PendingOrder, error) {
	var out []PendingOrder
	const query = `SELECT * FROM pending_orders WHERE status = 'pending'`
	if err := j.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	return out, nil
}

// InsertTradeExecution writes a trade_executions row, deduplicated by its
// signature (a second write with the same signature is a no-op).
func (j *Journal) InsertTradeExecution(ctx context.Context, t TradeExecution) error {
	const query = `
		INSERT INTO trade_executions (id, account_id, position_id, exchange_order_id, client_order_id,
			symbol, side, type, price, quantity, notional, fee, realized_pnl, action, origin, status, signature, timestamp)
		VALUES (:id, :account_id, :position_id, :exchange_order_id, :client_order_id,
			:symbol, :side, :type, :price, :quantity, :notional, :fee, :realized_pnl, :action, :origin, :status, :signature, :timestamp)
		ON CONFLICT (signature) DO NOTHING
	`
	_, err := j.db.NamedExecContext(ctx, query, t)
	return err
}

// InsertBalanceLog writes a balance_logs row.
func (j *Journal) InsertBalanceLog(ctx context.Context, b BalanceLog) error {
	const query = `
		INSERT INTO balance_logs (id, account_id, balance_before, balance_after, change_amount, reason, trade_id, timestamp)
		VALUES (:id, :account_id, :balance_before, :balance_after, :change_amount, :reason, :trade_id, :timestamp)
	`
	_, err := j.db.NamedExecContext(ctx, query, b)
	return err
}

// UpsertPosition writes a virtual_positions row.
func (j *Journal) UpsertPosition(ctx context.Context, p VirtualPosition) error {
	const query = `
		INSERT INTO virtual_positions (id, account_id, symbol, side, entry_price, quantity, notional,
			leverage, margin, liquidation_price, status, realized_pnl, opened_at, closed_at)
		VALUES (:id, :account_id, :symbol, :side, :entry_price, :quantity, :notional,
			:leverage, :margin, :liquidation_price, :status, :realized_pnl, :opened_at, :closed_at)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			notional = EXCLUDED.notional,
			margin = EXCLUDED.margin,
			liquidation_price = EXCLUDED.liquidation_price,
			status = EXCLUDED.status,
			realized_pnl = EXCLUDED.realized_pnl,
			closed_at = EXCLUDED.closed_at
	`
	_, err := j.db.NamedExecContext(ctx, query, p)
	return err
}

// OpenPositions returns every position the journal considers still open,
// for cold-start reconciliation against the position book.
func (j *Journal) OpenPositions(ctx context.Context, accountID string) ([]VirtualPosition, error) {
	var out []VirtualPosition
	const query = `SELECT * FROM virtual_positions WHERE account_id = $1 AND status = 'open'`
	if err := j.db.SelectContext(ctx, &out, query, accountID); err != nil {
		return nil, fmt.Errorf("select open positions: %w", err)
	}
	return out, nil
}

// MarkOrderCancelled marks a pending order cancelled when cold-start
// recovery finds it absent from exchange open orders.
func (j *Journal) MarkOrderCancelled(ctx context.Context, clientOrderID string, at time.Time) error {
	const query = `UPDATE pending_orders SET status = 'cancelled', cancelled_at = $2 WHERE id = $1`
	res, err := j.db.ExecContext(ctx, query, clientOrderID, at)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.New("order not found")
	}
	return nil
}
