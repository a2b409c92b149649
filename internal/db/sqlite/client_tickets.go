package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joyedlion/steward/internal/db"
)

func (c *sqliteClient) CreateTicket(ctx context.Context, t *db.Ticket) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tickets (id, chat_id, opener_id, topic_id, status, claimed_by, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ChatID, t.OpenerID, t.TopicID, t.Status, t.ClaimedBy, t.Reason, t.OpenedAt, t.ClosedAt)
	return err
}

func (c *sqliteClient) GetTicket(ctx context.Context, id string) (*db.Ticket, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var t db.Ticket
	err := c.db.GetContext(ctx, &t, `
		SELECT id, chat_id, opener_id, topic_id, status, claimed_by, reason, opened_at, closed_at
		FROM tickets WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (c *sqliteClient) GetOpenTicketByOpener(ctx context.Context, chatID, openerID int64) (*db.Ticket, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var t db.Ticket
	err := c.db.GetContext(ctx, &t, `
		SELECT id, chat_id, opener_id, topic_id, status, claimed_by, reason, opened_at, closed_at
		FROM tickets
		WHERE chat_id = ? AND opener_id = ? AND status != 'closed'
		ORDER BY opened_at DESC
		LIMIT 1
	`, chatID, openerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (c *sqliteClient) UpdateTicket(ctx context.Context, t *db.Ticket) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		UPDATE tickets
		SET topic_id = ?,
			status = ?,
			claimed_by = ?,
			reason = ?,
			closed_at = ?
		WHERE id = ?
	`, t.TopicID, t.Status, t.ClaimedBy, t.Reason, t.ClosedAt, t.ID)
	return err
}
