package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joyedlion/steward/internal/db"
)

func (c *sqliteClient) PutReactionBinding(ctx context.Context, b *db.ReactionBinding) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO reaction_bindings (chat_id, message_id, emoji, group_name, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, message_id, emoji) DO UPDATE SET
			group_name = excluded.group_name,
			created_by = excluded.created_by
	`
	_, err := c.db.ExecContext(ctx, query, b.ChatID, b.MessageID, b.Emoji, b.GroupName, b.CreatedBy, b.CreatedAt)
	return err
}

func (c *sqliteClient) GetReactionBinding(ctx context.Context, chatID int64, messageID int, emoji string) (*db.ReactionBinding, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var b db.ReactionBinding
	err := c.db.GetContext(ctx, &b, `
		SELECT chat_id, message_id, emoji, group_name, created_by, created_at
		FROM reaction_bindings
		WHERE chat_id = ? AND message_id = ? AND emoji = ?
	`, chatID, messageID, emoji)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (c *sqliteClient) DeleteReactionBindings(ctx context.Context, chatID int64, messageID int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM reaction_bindings WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return err
}

func (c *sqliteClient) AddGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (chat_id, group_name, user_id, joined_at)
		VALUES (?, ?, ?, ?)
	`, chatID, groupName, userID, time.Now())
	return err
}

func (c *sqliteClient) RemoveGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE chat_id = ? AND group_name = ? AND user_id = ?
	`, chatID, groupName, userID)
	return err
}

func (c *sqliteClient) GetGroupMembers(ctx context.Context, chatID int64, groupName string) ([]int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var userIDs []int64
	err := c.db.SelectContext(ctx, &userIDs, `
		SELECT user_id FROM group_members WHERE chat_id = ? AND group_name = ? ORDER BY joined_at ASC
	`, chatID, groupName)
	return userIDs, err
}
