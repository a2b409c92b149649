package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[restrictionKey]*db.Restriction

	putErr error
	getErr error
	delErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[restrictionKey]*db.Restriction{}}
}

func (s *fakeStore) PutRestriction(ctx context.Context, r *db.Restriction) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	clone := *r
	s.records[restrictionKey{ChatID: r.ChatID, UserID: r.UserID, Kind: r.Kind}] = &clone
	return nil
}

func (s *fakeStore) GetRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (*db.Restriction, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.records[restrictionKey{ChatID: chatID, UserID: userID, Kind: kind}]
	if !ok {
		return nil, nil
	}
	clone := *r
	return &clone, nil
}

func (s *fakeStore) DeleteRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.records, restrictionKey{ChatID: chatID, UserID: userID, Kind: kind})
	return nil
}

func (s *fakeStore) ListDueRestrictions(ctx context.Context, now time.Time) ([]*db.Restriction, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*db.Restriction
	for _, r := range s.records {
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			clone := *r
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeEffector struct {
	mu        sync.Mutex
	applies   int
	removes   int
	active    int
	maxActive int

	applyErr  error
	removeErr error
}

func (e *fakeEffector) ApplyRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, until *time.Time) error {
	_, _, _, _, _ = ctx, chatID, userID, kind, until
	e.mu.Lock()
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.applies++
	err := e.applyErr
	e.active--
	e.mu.Unlock()
	return err
}

func (e *fakeEffector) RemoveRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error {
	_, _, _, _ = ctx, chatID, userID, kind
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removes++
	return e.removeErr
}

func (e *fakeEffector) counts() (applies, removes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applies, e.removes
}

func TestRestrictCreatesSingleRecordWithRequestedExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{}
	engine := NewEngine(store, effector, nil, time.Second)

	before := time.Now()
	r, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, 600*time.Second, 7, "spam")
	if err != nil {
		t.Fatalf("restrict: %v", err)
	}
	if r.ExpiresAt == nil {
		t.Fatalf("expected timed restriction, got permanent")
	}
	if want := before.Add(600 * time.Second); r.ExpiresAt.Before(want.Add(-time.Second)) || r.ExpiresAt.After(want.Add(2*time.Second)) {
		t.Fatalf("expected expiry near %v, got %v", want, r.ExpiresAt)
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one record, got %d", store.count())
	}

	got, err := store.GetRestriction(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("get restriction: %v", err)
	}
	if got == nil || !got.ExpiresAt.Equal(*r.ExpiresAt) {
		t.Fatalf("stored expiry does not match returned restriction: %#v", got)
	}
}

func TestRestrictWithoutDurationIsPermanent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	engine := NewEngine(store, &fakeEffector{}, nil, time.Second)

	r, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, 0, 7, "")
	if err != nil {
		t.Fatalf("restrict: %v", err)
	}
	if !r.Permanent() {
		t.Fatalf("expected permanent restriction, got expiry %v", r.ExpiresAt)
	}

	due, err := store.ListDueRestrictions(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("permanent restriction must never become due, got %d", len(due))
	}
}

func TestRestrictExternalFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{applyErr: errors.New("api down")}
	engine := NewEngine(store, effector, nil, time.Second)

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, ""); !errors.Is(err, sterrors.ErrExternalEffect) {
		t.Fatalf("expected external effect error, got %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("store must stay empty when the external call fails, got %d records", store.count())
	}
}

func TestReRestrictReplacesExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	engine := NewEngine(store, &fakeEffector{}, nil, time.Second)

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, "short"); err != nil {
		t.Fatalf("first restrict: %v", err)
	}
	second, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Hour, 8, "long")
	if err != nil {
		t.Fatalf("second restrict: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected one record after re-restrict, got %d", store.count())
	}
	got, err := store.GetRestriction(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("get restriction: %v", err)
	}
	if !got.ExpiresAt.Equal(*second.ExpiresAt) {
		t.Fatalf("expected refreshed expiry %v, got %v", second.ExpiresAt, got.ExpiresAt)
	}
	if got.CreatedBy != 8 {
		t.Fatalf("expected last writer's issuer, got %d", got.CreatedBy)
	}
}

func TestLiftIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{}
	engine := NewEngine(store, effector, nil, time.Second)

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, ""); err != nil {
		t.Fatalf("restrict: %v", err)
	}

	lifted, err := engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseManual)
	if err != nil {
		t.Fatalf("first lift: %v", err)
	}
	if !lifted {
		t.Fatalf("expected first lift to report work done")
	}

	lifted, err = engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseManual)
	if err != nil {
		t.Fatalf("second lift: %v", err)
	}
	if lifted {
		t.Fatalf("expected second lift to be a no-op")
	}

	if _, removes := effector.counts(); removes != 1 {
		t.Fatalf("expected exactly one external removal, got %d", removes)
	}
}

func TestLiftExternalFailureRetainsRecordForRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{}
	engine := NewEngine(store, effector, nil, time.Second)

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, ""); err != nil {
		t.Fatalf("restrict: %v", err)
	}

	effector.mu.Lock()
	effector.removeErr = errors.New("api down")
	effector.mu.Unlock()

	if _, err := engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseExpired); !errors.Is(err, sterrors.ErrExternalEffect) {
		t.Fatalf("expected external effect error, got %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("record must be retained for a later retry, got %d records", store.count())
	}

	effector.mu.Lock()
	effector.removeErr = nil
	effector.mu.Unlock()

	lifted, err := engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseExpired)
	if err != nil {
		t.Fatalf("retried lift: %v", err)
	}
	if !lifted || store.count() != 0 {
		t.Fatalf("expected retry to lift and remove the record")
	}
}

func TestLiftUnreachableScopePurgesWithoutExternalCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{removeErr: errors.New("must not be called")}
	engine := NewEngine(store, effector, nil, time.Second)

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, ""); err != nil {
		t.Fatalf("restrict: %v", err)
	}

	lifted, err := engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseUnreachable)
	if err != nil {
		t.Fatalf("unreachable lift: %v", err)
	}
	if !lifted {
		t.Fatalf("expected purge to report work done")
	}
	if store.count() != 0 {
		t.Fatalf("expected record purged, got %d records", store.count())
	}
	if _, removes := effector.counts(); removes != 0 {
		t.Fatalf("expected no external call for unreachable scope, got %d", removes)
	}
}

func TestConcurrentRestrictsSameKeySerialize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	effector := &fakeEffector{}
	engine := NewEngine(store, effector, nil, time.Second)

	durations := []time.Duration{time.Minute, time.Hour}
	var wg sync.WaitGroup
	for _, d := range durations {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, d, 7, ""); err != nil {
				t.Errorf("restrict %v: %v", d, err)
			}
		}(d)
	}
	wg.Wait()

	if store.count() != 1 {
		t.Fatalf("expected one record after racing restricts, got %d", store.count())
	}
	if effector.maxActive != 1 {
		t.Fatalf("external effects for the same key must serialize, observed %d concurrent", effector.maxActive)
	}

	got, err := store.GetRestriction(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("get restriction: %v", err)
	}
	now := time.Now()
	matchesAny := false
	for _, d := range durations {
		diff := got.ExpiresAt.Sub(now.Add(d))
		if diff > -5*time.Second && diff < 5*time.Second {
			matchesAny = true
		}
	}
	if !matchesAny {
		t.Fatalf("final expiry %v matches neither racing duration", got.ExpiresAt)
	}
}

func TestConcurrentRestrictAndLiftKeepStoreConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	engine := NewEngine(store, &fakeEffector{}, nil, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, time.Minute, 7, "")
			} else {
				_, _ = engine.Lift(ctx, 1, 42, db.RestrictionKindMute, CauseManual)
			}
		}(i)
	}
	wg.Wait()

	// The store reflects the last completed operation: either exactly one
	// record or none, never duplicates or partial state.
	if n := store.count(); n > 1 {
		t.Fatalf("store holds %d records for a single key", n)
	}
}

func TestIsRestrictedReflectsRecordState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	engine := NewEngine(store, &fakeEffector{}, nil, time.Second)

	restricted, err := engine.IsRestricted(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("is restricted on empty store: %v", err)
	}
	if restricted {
		t.Fatal("expected no restriction before restrict")
	}

	if _, err := engine.Restrict(ctx, 1, 42, db.RestrictionKindMute, 0, 7, "pending verification"); err != nil {
		t.Fatalf("restrict: %v", err)
	}
	restricted, err = engine.IsRestricted(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("is restricted with permanent mute: %v", err)
	}
	if !restricted {
		t.Fatal("expected permanent mute to report restricted")
	}

	stale := time.Now().Add(-time.Minute)
	if err := store.PutRestriction(ctx, &db.Restriction{ChatID: 1, UserID: 42, Kind: db.RestrictionKindMute, ExpiresAt: &stale}); err != nil {
		t.Fatalf("put stale restriction: %v", err)
	}
	restricted, err = engine.IsRestricted(ctx, 1, 42, db.RestrictionKindMute)
	if err != nil {
		t.Fatalf("is restricted with stale record: %v", err)
	}
	if restricted {
		t.Fatal("expected already-due restriction to report unrestricted")
	}
}
