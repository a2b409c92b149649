package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joyedlion/steward/internal/db"
)

func (c *sqliteClient) PutChallenge(ctx context.Context, ch *db.Challenge) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO challenges (token, chat_id, user_id, message_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			message_id = excluded.message_id,
			expires_at = excluded.expires_at
	`
	_, err := c.db.ExecContext(ctx, query,
		ch.Token,
		ch.ChatID,
		ch.UserID,
		ch.MessageID,
		ch.ExpiresAt.UTC(),
		ch.CreatedAt.UTC(),
	)
	return err
}

func (c *sqliteClient) GetChallengeByToken(ctx context.Context, token string) (*db.Challenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var ch db.Challenge
	err := c.db.GetContext(ctx, &ch, `
		SELECT token, chat_id, user_id, message_id, expires_at, created_at
		FROM challenges
		WHERE token = ?
	`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

func (c *sqliteClient) DeleteChallenge(ctx context.Context, token string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM challenges WHERE token = ?`, token)
	return err
}

func (c *sqliteClient) ListExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var expired []*db.Challenge
	err := c.db.SelectContext(ctx, &expired, `
		SELECT token, chat_id, user_id, message_id, expires_at, created_at
		FROM challenges
		WHERE expires_at <= ?
		ORDER BY expires_at ASC
	`, now.UTC())
	return expired, err
}
