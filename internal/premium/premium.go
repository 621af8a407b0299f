// Package premium keeps the membership roster and the admin list in
// Postgres. It is optional at runtime; the gateway core never reads it.
package premium

import (
	"context"
	"database/sql"
	"time"
)

type Store struct{ DB *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// EnsureSchema creates the tables on first boot. One statement per Exec;
// the pgx driver's extended protocol rejects multi-statement strings.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS premium_users (
  user_id    BIGINT PRIMARY KEY,
  expires_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, `
CREATE TABLE IF NOT EXISTS admins (
  user_id    BIGINT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Add grants premium to a user for the given number of days; days == nil
// means lifetime (no expiry). Re-adding replaces the previous expiry.
func (s *Store) Add(ctx context.Context, userID int64, days *int) error {
	var expires *time.Time
	if days != nil {
		t := time.Now().AddDate(0, 0, *days)
		expires = &t
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO premium_users (user_id, expires_at, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (user_id) DO UPDATE
SET expires_at=EXCLUDED.expires_at, updated_at=now()`,
		userID, expires)
	return err
}

func (s *Store) Remove(ctx context.Context, userID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM premium_users WHERE user_id=$1`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IsPremium reports whether the user holds an unexpired membership.
func (s *Store) IsPremium(ctx context.Context, userID int64) (bool, error) {
	var expires sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT expires_at FROM premium_users WHERE user_id=$1`, userID).Scan(&expires)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	if !expires.Valid {
		return true, nil // lifetime
	}
	return time.Now().Before(expires.Time), nil
}

type Member struct {
	UserID    int64      `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Store) ListPremium(ctx context.Context) ([]Member, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT user_id, expires_at FROM premium_users
WHERE expires_at IS NULL OR expires_at > now()
ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var m Member
		var expires sql.NullTime
		if err := rows.Scan(&m.UserID, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			m.ExpiresAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddAdmin(ctx context.Context, userID int64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO admins (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	return err
}

func (s *Store) Admins(ctx context.Context) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM admins ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
