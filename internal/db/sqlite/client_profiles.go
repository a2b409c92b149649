package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joyedlion/steward/internal/db"
)

func (c *sqliteClient) GetProfile(ctx context.Context, chatID, userID int64) (*db.Profile, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var p db.Profile
	err := c.db.GetContext(ctx, &p, `
		SELECT chat_id, user_id, xp, level, last_award_at
		FROM profiles
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (c *sqliteClient) UpsertProfile(ctx context.Context, p *db.Profile) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO profiles (chat_id, user_id, xp, level, last_award_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			xp = excluded.xp,
			level = excluded.level,
			last_award_at = excluded.last_award_at
	`
	_, err := c.db.ExecContext(ctx, query, p.ChatID, p.UserID, p.XP, p.Level, p.LastAwardAt)
	return err
}

func (c *sqliteClient) TopProfiles(ctx context.Context, chatID int64, limit int) ([]*db.Profile, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var profiles []*db.Profile
	err := c.db.SelectContext(ctx, &profiles, `
		SELECT chat_id, user_id, xp, level, last_award_at
		FROM profiles
		WHERE chat_id = ?
		ORDER BY xp DESC
		LIMIT ?
	`, chatID, limit)
	return profiles, err
}
