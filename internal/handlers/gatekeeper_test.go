package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/moderation"
)

type memChallenges struct {
	challenges map[string]*db.Challenge
}

func newMemChallenges(chs ...*db.Challenge) *memChallenges {
	m := &memChallenges{challenges: map[string]*db.Challenge{}}
	for _, ch := range chs {
		m.challenges[ch.Token] = ch
	}
	return m
}

func (m *memChallenges) PutChallenge(ctx context.Context, ch *db.Challenge) error {
	_ = ctx
	clone := *ch
	m.challenges[ch.Token] = &clone
	return nil
}

func (m *memChallenges) GetChallengeByToken(ctx context.Context, token string) (*db.Challenge, error) {
	_ = ctx
	ch, ok := m.challenges[token]
	if !ok {
		return nil, nil
	}
	clone := *ch
	return &clone, nil
}

func (m *memChallenges) DeleteChallenge(ctx context.Context, token string) error {
	_ = ctx
	delete(m.challenges, token)
	return nil
}

func (m *memChallenges) ListExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error) {
	_ = ctx
	var expired []*db.Challenge
	for _, ch := range m.challenges {
		if !ch.ExpiresAt.After(now) {
			clone := *ch
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}

type recordingEngine struct {
	lifted [][2]int64
}

func (e *recordingEngine) Restrict(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, duration time.Duration, issuerID int64, reason string) (*db.Restriction, error) {
	_, _, _, _, _ = ctx, kind, duration, issuerID, reason
	return &db.Restriction{ChatID: chatID, UserID: userID, Kind: kind}, nil
}

func (e *recordingEngine) Lift(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, cause moderation.Cause) (bool, error) {
	_, _, _ = ctx, kind, cause
	e.lifted = append(e.lifted, [2]int64{chatID, userID})
	return true, nil
}

func (e *recordingEngine) IsRestricted(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (bool, error) {
	_, _, _, _ = ctx, chatID, userID, kind
	return false, nil
}

type recordingOps struct {
	kicked  [][2]int64
	deleted []int
	kickErr error
}

func (o *recordingOps) SendText(ctx context.Context, chatID int64, text string) error {
	_, _, _ = ctx, chatID, text
	return nil
}

func (o *recordingOps) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, _ = ctx, chatID
	o.deleted = append(o.deleted, messageID)
	return nil
}

func (o *recordingOps) KickUser(ctx context.Context, chatID, userID int64) error {
	_ = ctx
	if o.kickErr != nil {
		return o.kickErr
	}
	o.kicked = append(o.kicked, [2]int64{chatID, userID})
	return nil
}

func TestExpiredChallengeKicksAndClears(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := newMemChallenges(
		&db.Challenge{Token: "due", ChatID: -1, UserID: 42, MessageID: 10, ExpiresAt: now.Add(-time.Minute)},
		&db.Challenge{Token: "pending", ChatID: -1, UserID: 43, MessageID: 11, ExpiresAt: now.Add(time.Minute)},
	)
	engine := &recordingEngine{}
	ops := &recordingOps{}
	g := NewGatekeeper(nil, engine, ops, store)

	if err := g.processExpired(context.Background(), now); err != nil {
		t.Fatalf("process expired: %v", err)
	}

	if len(ops.kicked) != 1 || ops.kicked[0] != [2]int64{-1, 42} {
		t.Fatalf("expected only the overdue joiner kicked, got %v", ops.kicked)
	}
	if len(engine.lifted) != 1 || engine.lifted[0] != [2]int64{-1, 42} {
		t.Fatalf("expected pending mute lifted for the kicked joiner, got %v", engine.lifted)
	}
	if len(ops.deleted) != 1 || ops.deleted[0] != 10 {
		t.Fatalf("expected challenge message deleted, got %v", ops.deleted)
	}
	if _, ok := store.challenges["due"]; ok {
		t.Fatal("expected processed challenge removed from store")
	}
	if _, ok := store.challenges["pending"]; !ok {
		t.Fatal("expected unexpired challenge retained")
	}
}

func TestFailedKickRetainsChallengeForRetry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := newMemChallenges(
		&db.Challenge{Token: "due", ChatID: -1, UserID: 42, ExpiresAt: now.Add(-time.Minute)},
	)
	engine := &recordingEngine{}
	ops := &recordingOps{kickErr: errors.New("api down")}
	g := NewGatekeeper(nil, engine, ops, store)

	if err := g.processExpired(context.Background(), now); err == nil {
		t.Fatal("expected pass error when kick fails")
	}

	if len(engine.lifted) != 0 {
		t.Fatalf("expected mute kept while the kick is unresolved, got lifts %v", engine.lifted)
	}
	if _, ok := store.challenges["due"]; !ok {
		t.Fatal("expected failed challenge retained for the next pass")
	}
}
