package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joyedlion/steward/internal/db"
)

// The driver writes TIMESTAMP columns as formatted strings, so the
// expires_at comparison in ListDueRestrictions is lexical. Every bound
// timestamp is normalized to UTC to keep that ordering correct across
// offset changes.
func asUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (c *sqliteClient) PutRestriction(ctx context.Context, r *db.Restriction) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO restrictions (chat_id, user_id, kind, expires_at, reason, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id, kind) DO UPDATE SET
			expires_at = excluded.expires_at,
			reason = excluded.reason,
			created_at = excluded.created_at,
			created_by = excluded.created_by
	`
	_, err := c.db.ExecContext(ctx, query,
		r.ChatID,
		r.UserID,
		r.Kind,
		asUTC(r.ExpiresAt),
		r.Reason,
		r.CreatedAt.UTC(),
		r.CreatedBy,
	)
	return err
}

func (c *sqliteClient) GetRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (*db.Restriction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var r db.Restriction
	err := c.db.GetContext(ctx, &r, `
		SELECT chat_id, user_id, kind, expires_at, reason, created_at, created_by
		FROM restrictions
		WHERE chat_id = ? AND user_id = ? AND kind = ?
	`, chatID, userID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (c *sqliteClient) DeleteRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM restrictions WHERE chat_id = ? AND user_id = ? AND kind = ?`, chatID, userID, kind)
	return err
}

func (c *sqliteClient) ListDueRestrictions(ctx context.Context, now time.Time) ([]*db.Restriction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var due []*db.Restriction
	err := c.db.SelectContext(ctx, &due, `
		SELECT chat_id, user_id, kind, expires_at, reason, created_at, created_by
		FROM restrictions
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC
	`, now.UTC())
	return due, err
}
