package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CheckoutSessionUsedTx reports whether the checkout session id has already paid.
func (r Repo) CheckoutSessionUsedTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkout_sessions WHERE id=?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check checkout session: %w", err)
	}
	return n > 0, nil
}

// SpendCheckoutSessionTx marks the session as used for dealID. A session can
// only be spent once.
func (r Repo) SpendCheckoutSessionTx(ctx context.Context, tx *sql.Tx, id, dealID string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO checkout_sessions(id,deal_id,used_at) VALUES (?,?,?)`,
		id, dealID, r.now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("spend checkout session: %w", err)
	}
	return nil
}
