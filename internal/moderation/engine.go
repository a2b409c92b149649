package moderation

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
	"github.com/joyedlion/steward/internal/observability"
)

// Cause describes why a restriction is being lifted.
type Cause string

const (
	CauseManual      Cause = "manual"
	CauseExpired     Cause = "expired"
	CauseUnreachable Cause = "unreachable"
)

const defaultExternalTimeout = 10 * time.Second

// Effector performs the platform-side half of a restriction: granting or
// removing the actual limitation on the messaging platform.
type Effector interface {
	ApplyRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, until *time.Time) error
	RemoveRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error
}

// Notifier receives restriction lifecycle events for the staff log. Calls
// must not block; delivery is the implementation's concern.
type Notifier interface {
	RestrictionApplied(r *db.Restriction)
	RestrictionLifted(r *db.Restriction, cause Cause)
	RestrictionLiftFailed(r *db.Restriction, cause Cause, err error)
}

type restrictionStore interface {
	PutRestriction(ctx context.Context, r *db.Restriction) error
	GetRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (*db.Restriction, error)
	DeleteRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error
}

// Engine is the restrict/lift state machine. Each (chat, user, kind) key is
// either Unrestricted or Restricted; transitions serialize through a per-key
// mutex so concurrent calls for the same key apply in admission order and
// the store always reflects the last completed operation.
type Engine struct {
	store    restrictionStore
	effector Effector
	notifier Notifier
	timeout  time.Duration
	locks    *keyedMutex
	logger   *log.Entry
}

func NewEngine(store restrictionStore, effector Effector, notifier Notifier, externalTimeout time.Duration) *Engine {
	if externalTimeout <= 0 {
		externalTimeout = defaultExternalTimeout
	}
	return &Engine{
		store:    store,
		effector: effector,
		notifier: notifier,
		timeout:  externalTimeout,
		locks:    newKeyedMutex(),
		logger:   log.WithField("context", "restriction_engine"),
	}
}

// Restrict applies the platform restriction and then persists the record.
// A zero or negative duration means permanent. The external effect goes
// first: if it fails, nothing is written, so the store never claims a
// restriction the platform does not enforce. A restrict on an already
// restricted key replaces the record, resetting the expiry.
func (e *Engine) Restrict(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, duration time.Duration, issuerID int64, reason string) (*db.Restriction, error) {
	ctx, span := otel.Tracer("restriction-engine").Start(ctx, "restrict")
	defer span.End()

	unlock := e.locks.Lock(restrictionKey{ChatID: chatID, UserID: userID, Kind: kind})
	defer unlock()

	now := time.Now()
	var expiresAt *time.Time
	if duration > 0 {
		t := now.Add(duration)
		expiresAt = &t
	}

	if err := e.applyExternal(ctx, chatID, userID, kind, expiresAt); err != nil {
		return nil, err
	}

	r := &db.Restriction{
		ChatID:    chatID,
		UserID:    userID,
		Kind:      kind,
		ExpiresAt: expiresAt,
		Reason:    reason,
		CreatedAt: now,
		CreatedBy: issuerID,
	}
	if err := e.store.PutRestriction(ctx, r); err != nil {
		// The platform restriction is in place but the record is not; the
		// caller has to retry or lift manually.
		return nil, fmt.Errorf("%w: put restriction: %v", sterrors.ErrStorage, err)
	}

	observability.RecordRestrictionApplied(string(kind))
	if e.notifier != nil {
		e.notifier.RestrictionApplied(r)
	}
	return r, nil
}

// Lift transitions a key back to Unrestricted. Lifting an absent key is a
// successful no-op and makes no external call. For manual and expired
// causes the record is deleted only after the platform confirms the
// removal, so a failed external call leaves the record in place for the
// next sweep to retry. For CauseUnreachable the record is purged without
// any external call.
func (e *Engine) Lift(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, cause Cause) (bool, error) {
	ctx, span := otel.Tracer("restriction-engine").Start(ctx, "lift")
	defer span.End()

	unlock := e.locks.Lock(restrictionKey{ChatID: chatID, UserID: userID, Kind: kind})
	defer unlock()

	r, err := e.store.GetRestriction(ctx, chatID, userID, kind)
	if err != nil {
		return false, fmt.Errorf("%w: get restriction: %v", sterrors.ErrStorage, err)
	}
	if r == nil {
		return false, nil
	}

	if cause != CauseUnreachable {
		if err := e.removeExternal(ctx, chatID, userID, kind); err != nil {
			if e.notifier != nil {
				e.notifier.RestrictionLiftFailed(r, cause, err)
			}
			observability.RecordLiftFailure(string(kind), string(cause))
			return false, err
		}
	}

	if err := e.store.DeleteRestriction(ctx, chatID, userID, kind); err != nil {
		return false, fmt.Errorf("%w: delete restriction: %v", sterrors.ErrStorage, err)
	}

	observability.RecordRestrictionLifted(string(kind), string(cause))
	if e.notifier != nil {
		e.notifier.RestrictionLifted(r, cause)
	}
	e.logger.WithFields(log.Fields{
		"chat_id": chatID,
		"user_id": userID,
		"kind":    kind,
		"cause":   cause,
	}).Info("restriction lifted")
	return true, nil
}

// IsRestricted reports whether an active record exists for the key.
func (e *Engine) IsRestricted(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (bool, error) {
	r, err := e.store.GetRestriction(ctx, chatID, userID, kind)
	if err != nil {
		return false, fmt.Errorf("%w: get restriction: %v", sterrors.ErrStorage, err)
	}
	if r == nil {
		return false, nil
	}
	return r.Permanent() || r.ExpiresAt.After(time.Now()), nil
}

func (e *Engine) applyExternal(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, until *time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.effector.ApplyRestriction(callCtx, chatID, userID, kind, until); err != nil {
		return fmt.Errorf("%w: apply %s: %v", sterrors.ErrExternalEffect, kind, err)
	}
	return nil
}

func (e *Engine) removeExternal(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.effector.RemoveRestriction(callCtx, chatID, userID, kind); err != nil {
		return fmt.Errorf("%w: remove %s: %v", sterrors.ErrExternalEffect, kind, err)
	}
	return nil
}
