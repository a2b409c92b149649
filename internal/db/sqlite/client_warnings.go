package sqlite

import (
	"context"

	"github.com/joyedlion/steward/internal/db"
)

func (c *sqliteClient) AddWarning(ctx context.Context, w *db.Warning) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO warnings (chat_id, user_id, issuer_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, w.ChatID, w.UserID, w.IssuerID, w.Reason, w.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (c *sqliteClient) GetWarnings(ctx context.Context, chatID, userID int64) ([]*db.Warning, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var warnings []*db.Warning
	err := c.db.SelectContext(ctx, &warnings, `
		SELECT id, chat_id, user_id, issuer_id, reason, created_at
		FROM warnings
		WHERE chat_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC
	`, chatID, userID)
	return warnings, err
}

func (c *sqliteClient) ClearWarnings(ctx context.Context, chatID, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM warnings WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}
