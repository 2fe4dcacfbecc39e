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

// SessionRecord is one persisted authentication state. The most recently
// accessed record is the current session.
type SessionRecord struct {
	ID              string
	IsAuthenticated bool
	AccessToken     string
	UserInfo        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessedAt  time.Time
}

// SaveSession inserts rec as a new session row and returns its generated id.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	userInfo, err := encodeUserInfo(rec.UserInfo)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := toMillis(s.now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, is_authenticated, access_token, user_info, created_at, updated_at, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.IsAuthenticated, nullString(rec.AccessToken), userInfo, now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// UpdateSession overwrites the credential fields of an existing session.
func (s *Store) UpdateSession(ctx context.Context, id string, rec SessionRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	userInfo, err := encodeUserInfo(rec.UserInfo)
	if err != nil {
		return err
	}

	now := toMillis(s.now())
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET is_authenticated = ?, access_token = ?, user_info = ?, updated_at = ?, last_accessed_at = ?
WHERE id = ?`,
		rec.IsAuthenticated, nullString(rec.AccessToken), userInfo, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// LoadLatestSession returns the most recently accessed session and marks it
// accessed now. Returns nil, nil when no session is stored.
func (s *Store) LoadLatestSession(ctx context.Context) (*SessionRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		rec                            SessionRecord
		token, userInfo                sql.NullString
		created, updated, lastAccessed int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, is_authenticated, access_token, user_info, created_at, updated_at, last_accessed_at
FROM sessions
ORDER BY last_accessed_at DESC, created_at DESC
LIMIT 1`).Scan(&rec.ID, &rec.IsAuthenticated, &token, &userInfo, &created, &updated, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest session: %w", err)
	}

	rec.AccessToken = token.String
	if userInfo.Valid && userInfo.String != "" {
		if err := json.Unmarshal([]byte(userInfo.String), &rec.UserInfo); err != nil {
			return nil, fmt.Errorf("decode user info: %w", err)
		}
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)

	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_accessed_at = ? WHERE id = ?", toMillis(now), rec.ID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	rec.LastAccessedAt = fromMillis(toMillis(now))
	return &rec, nil
}

// ClearSessions deletes every stored session.
func (s *Store) ClearSessions(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// CleanupOldSessions deletes sessions not accessed in the last days days.
func (s *Store) CleanupOldSessions(ctx context.Context, days int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE last_accessed_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func encodeUserInfo(info map[string]any) (sql.NullString, error) {
	if info == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode user info: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
