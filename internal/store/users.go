package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const userColumns = "id, email, credits, role, status, email_verified, verified_at, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var verifiedAt sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.Credits, &user.Role, &user.Status, &user.EmailVerified, &verifiedAt, &user.CreatedAt); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		user.VerifiedAt = &t
	}
	return &user, nil
}

// GetUserByID returns nil, nil when the user does not exist.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// EnsureUser mirrors an identity-provider account into the local users table.
// A newly created row receives signupCredits, recorded as a signup_bonus
// ledger entry in the same transaction. Existing rows are left untouched
// except that a verified email claim is carried over.
func (s *SQLiteStore) EnsureUser(ctx context.Context, id, email string, emailVerified bool, signupCredits int) (*User, error) {
	if id == "" {
		return nil, errors.New("user id is required")
	}
	if signupCredits < 0 {
		signupCredits = 0
	}

	var user *User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var verifiedAt any
		if emailVerified {
			verifiedAt = now
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, credits, role, status, email_verified, verified_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			id, email, signupCredits, RoleUser, StatusActive, emailVerified, verifiedAt, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		created, _ := res.RowsAffected()
		if created == 1 && signupCredits > 0 {
			if err := insertTransaction(ctx, tx, id, signupCredits, TxSignupBonus, "", ""); err != nil {
				return err
			}
		}
		if created == 0 && emailVerified {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET email_verified = TRUE, verified_at = COALESCE(verified_at, ?), updated_at = ?
				WHERE id = ? AND email_verified = FALSE`, now, now, id); err != nil {
				return fmt.Errorf("failed to sync email verification: %w", err)
			}
		}

		user, err = scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		if err != nil {
			return fmt.Errorf("failed to reload user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetUserStatus bans or reinstates a user and records the admin action.
func (s *SQLiteStore) SetUserStatus(ctx context.Context, adminID, userID string, status Status) error {
	if status != StatusActive && status != StatusBanned {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateUser(ctx, tx, "UPDATE users SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), userID); err != nil {
			return err
		}
		return insertAdminLog(ctx, tx, adminID, "update_status", userID, map[string]any{"status": status})
	})
}

// VerifyUserEmail marks the user's email as verified on an admin's behalf.
func (s *SQLiteStore) VerifyUserEmail(ctx context.Context, adminID, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := updateUser(ctx, tx, "UPDATE users SET email_verified = TRUE, verified_at = ?, updated_at = ? WHERE id = ?", now, now, userID); err != nil {
			return err
		}
		return insertAdminLog(ctx, tx, adminID, "verify_user", userID, map[string]any{"action": "email_verification"})
	})
}

// SetUserRole promotes or demotes a user. Promoted admins are marked verified.
func (s *SQLiteStore) SetUserRole(ctx context.Context, adminID, userID string, role Role) error {
	switch role {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
	default:
		return fmt.Errorf("invalid role %q", role)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := updateUser(ctx, tx, `
			UPDATE users SET role = ?, email_verified = TRUE, verified_at = COALESCE(verified_at, ?), updated_at = ?
			WHERE id = ?`, role, now, now, userID); err != nil {
			return err
		}
		return insertAdminLog(ctx, tx, adminID, "set_role", userID, map[string]any{"role": role})
	})
}

func updateUser(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func insertAdminLog(ctx context.Context, tx *sql.Tx, adminID, action, targetUserID string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal admin log details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO admin_logs (id, admin_id, action_type, target_user_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), adminID, action, targetUserID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert admin log: %w", err)
	}
	return nil
}

// AdminLogs returns the most recent admin actions targeting userID, or all
// users when userID is empty.
func (s *SQLiteStore) AdminLogs(ctx context.Context, userID string, limit int) ([]AdminLog, error) {
	query := "SELECT id, admin_id, action_type, target_user_id, details, created_at FROM admin_logs"
	args := []any{}
	if userID != "" {
		query += " WHERE target_user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin logs: %w", err)
	}
	defer rows.Close()

	logs := []AdminLog{}
	for rows.Next() {
		var l AdminLog
		if err := rows.Scan(&l.ID, &l.AdminID, &l.ActionType, &l.TargetUserID, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin log row: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
