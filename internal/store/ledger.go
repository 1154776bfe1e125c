package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Every balance mutation below commits together with its ledger row, so the
// sum of a user's transactions always reconciles with users.credits.

// DebitUsage charges one credit for a generation and returns the new balance.
// It fails with ErrInsufficientCredits, writing nothing, when the balance is
// already zero.
func (s *SQLiteStore) DebitUsage(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET credits = credits - 1, updated_at = ?
			WHERE id = ? AND credits > 0`, time.Now().UTC(), userID)
		if err != nil {
			return fmt.Errorf("failed to debit credits: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrInsufficientCredits
		}
		if err := insertTransaction(ctx, tx, userID, -1, TxUsage, "", ""); err != nil {
			return err
		}
		balance, err = readBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// CreditPurchase adds purchased credits. reference identifies the payment
// (a checkout session id); applying the same reference twice returns the
// current balance together with ErrDuplicatePurchase.
func (s *SQLiteStore) CreditPurchase(ctx context.Context, userID string, credits int, reference string) (int, error) {
	if credits <= 0 {
		return 0, fmt.Errorf("purchase must add credits, got %d", credits)
	}
	if reference == "" {
		return 0, errors.New("purchase reference is required")
	}

	var balance int
	duplicate := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM credit_transactions WHERE reference = ?", reference).Scan(&existing)
		if err != nil {
			return fmt.Errorf("failed to check purchase reference: %w", err)
		}
		if existing > 0 {
			duplicate = true
			balance, err = readBalance(ctx, tx, userID)
			return err
		}

		res, err := tx.ExecContext(ctx, "UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ?", credits, time.Now().UTC(), userID)
		if err != nil {
			return fmt.Errorf("failed to add purchased credits: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		if err := insertTransaction(ctx, tx, userID, credits, TxPurchase, reference, ""); err != nil {
			return err
		}
		balance, err = readBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if duplicate {
		return balance, ErrDuplicatePurchase
	}
	return balance, nil
}

// AdjustCredits applies a signed admin adjustment and logs the action.
func (s *SQLiteStore) AdjustCredits(ctx context.Context, adminID, userID string, delta int, notes string) (int, error) {
	if delta == 0 {
		return 0, errors.New("adjustment must be non-zero")
	}

	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET credits = credits + ?, updated_at = ?
			WHERE id = ? AND credits + ? >= 0`, delta, time.Now().UTC(), userID, delta)
		if err != nil {
			return fmt.Errorf("failed to adjust credits: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check user: %w", err)
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrInsufficientCredits
		}
		if err := insertTransaction(ctx, tx, userID, delta, TxAdminAdjustment, "", notes); err != nil {
			return err
		}
		if err := insertAdminLog(ctx, tx, adminID, "update_credits", userID, map[string]any{"credits": delta, "notes": notes}); err != nil {
			return err
		}
		balance, err = readBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func readBalance(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var balance int
	if err := tx.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount int, typ TransactionType, reference, notes string) error {
	var ref any
	if reference != "" {
		ref = reference
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, reference, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, amount, typ, ref, notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}

const transactionColumns = "t.id, t.user_id, u.email, t.amount, t.type, COALESCE(t.reference, ''), t.notes, t.created_at"

func (s *SQLiteStore) queryTransactions(ctx context.Context, where string, args ...any) ([]CreditTransaction, error) {
	query := "SELECT " + transactionColumns + " FROM credit_transactions t JOIN users u ON u.id = t.user_id " + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []CreditTransaction{}
	for rows.Next() {
		var t CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserEmail, &t.Amount, &t.Type, &t.Reference, &t.Notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListTransactions returns a user's most recent ledger rows, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	return s.queryTransactions(ctx, "WHERE t.user_id = ? ORDER BY t.created_at DESC LIMIT ?", userID, limit)
}

// RecentTransactions returns the newest ledger rows across all users.
func (s *SQLiteStore) RecentTransactions(ctx context.Context, limit int) ([]CreditTransaction, error) {
	return s.queryTransactions(ctx, "ORDER BY t.created_at DESC LIMIT ?", limit)
}

func (s *SQLiteStore) Purchases(ctx context.Context) ([]CreditTransaction, error) {
	return s.queryTransactions(ctx, "WHERE t.type = ? ORDER BY t.created_at DESC", TxPurchase)
}

func (s *SQLiteStore) Analytics(ctx context.Context) (*Analytics, error) {
	var a Analytics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE status = 'active'),
			(SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE type <> 'usage'),
			(SELECT COALESCE(SUM(-amount), 0) FROM credit_transactions WHERE type = 'usage')`,
	).Scan(&a.TotalUsers, &a.ActiveUsers, &a.TotalCreditsIssued, &a.TotalCreditsUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute analytics: %w", err)
	}
	return &a, nil
}
