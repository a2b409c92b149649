package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/joyedlion/steward/internal/db"
)

func TestListExpiredChallengesBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	now := time.Now().Truncate(time.Second)
	pending := &db.Challenge{
		Token:     "pending",
		ChatID:    -1,
		UserID:    1,
		ExpiresAt: now.Add(time.Minute),
		CreatedAt: now,
	}
	overdue := &db.Challenge{
		Token:     "overdue",
		ChatID:    -1,
		UserID:    2,
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now,
	}
	for _, ch := range []*db.Challenge{pending, overdue} {
		if err := client.PutChallenge(ctx, ch); err != nil {
			t.Fatalf("put challenge %s: %v", ch.Token, err)
		}
	}

	expired, err := client.ListExpiredChallenges(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].Token != "overdue" {
		t.Fatalf("expected only the overdue challenge, got %#v", expired)
	}
}

func TestChallengeSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewSQLiteClient(ctx, dir, "test.db")
	if err != nil {
		t.Fatalf("open first client: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	ch := &db.Challenge{
		Token:     "token-1",
		ChatID:    -100,
		UserID:    7,
		MessageID: 55,
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now.Add(-2 * time.Hour),
	}
	if err := first.PutChallenge(ctx, ch); err != nil {
		t.Fatalf("put challenge: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first client: %v", err)
	}

	second, err := NewSQLiteClient(ctx, dir, "test.db")
	if err != nil {
		t.Fatalf("reopen client: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	expired, err := second.ListExpiredChallenges(ctx, now)
	if err != nil {
		t.Fatalf("list expired after reopen: %v", err)
	}
	if len(expired) != 1 || expired[0].UserID != 7 || expired[0].MessageID != 55 {
		t.Fatalf("expected persisted challenge after reopen, got %#v", expired)
	}

	if err := second.DeleteChallenge(ctx, "token-1"); err != nil {
		t.Fatalf("delete challenge: %v", err)
	}
	got, err := second.GetChallengeByToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if got != nil {
		t.Fatalf("expected challenge removed, got %#v", got)
	}
}
