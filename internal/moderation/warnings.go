package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
)

type warningStore interface {
	AddWarning(ctx context.Context, w *db.Warning) (int64, error)
	GetWarnings(ctx context.Context, chatID, userID int64) ([]*db.Warning, error)
	ClearWarnings(ctx context.Context, chatID, userID int64) error
}

// Warnings is the append-only warning ledger. Records are never mutated;
// the only deletion path is an explicit per-subject bulk clear.
type Warnings struct {
	store warningStore
}

func NewWarnings(store warningStore) *Warnings {
	return &Warnings{store: store}
}

func (w *Warnings) Issue(ctx context.Context, chatID, userID, issuerID int64, reason string) (int64, error) {
	id, err := w.store.AddWarning(ctx, &db.Warning{
		ChatID:    chatID,
		UserID:    userID,
		IssuerID:  issuerID,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: add warning: %v", sterrors.ErrStorage, err)
	}
	return id, nil
}

// List returns the subject's warnings, most recent first.
func (w *Warnings) List(ctx context.Context, chatID, userID int64) ([]*db.Warning, error) {
	warnings, err := w.store.GetWarnings(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get warnings: %v", sterrors.ErrStorage, err)
	}
	return warnings, nil
}

func (w *Warnings) Clear(ctx context.Context, chatID, userID int64) error {
	if err := w.store.ClearWarnings(ctx, chatID, userID); err != nil {
		return fmt.Errorf("%w: clear warnings: %v", sterrors.ErrStorage, err)
	}
	return nil
}
