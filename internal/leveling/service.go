package leveling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
	"github.com/joyedlion/steward/internal/observability"
)

const (
	// Fixed per-message cooldown; awards inside the window are dropped.
	awardCooldown = 10 * time.Second
	// MessageAward is the XP granted for a counted message.
	MessageAward = 5
)

type profileStore interface {
	GetProfile(ctx context.Context, chatID, userID int64) (*db.Profile, error)
	UpsertProfile(ctx context.Context, p *db.Profile) error
	TopProfiles(ctx context.Context, chatID int64, limit int) ([]*db.Profile, error)
}

// Service owns the XP ledger. Levels derive from XP as floor(sqrt(xp)) and
// are recomputed on every award, never patched independently.
type Service struct {
	store profileStore
}

func NewService(store profileStore) *Service {
	return &Service{store: store}
}

// Award describes the outcome of one award attempt.
type Award struct {
	Profile   *db.Profile
	OldLevel  int64
	LeveledUp bool
}

// Grant awards XP to the subject unless it is still inside the cooldown
// window. The profile is created lazily on the first award.
func (s *Service) Grant(ctx context.Context, chatID, userID int64, amount int64, now time.Time) (*Award, error) {
	p, err := s.store.GetProfile(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %v", sterrors.ErrStorage, err)
	}
	if p == nil {
		p = &db.Profile{ChatID: chatID, UserID: userID}
	}

	if p.LastAwardAt != nil && now.Sub(*p.LastAwardAt) < awardCooldown {
		return &Award{Profile: p, OldLevel: p.Level}, nil
	}

	oldLevel := p.Level
	p.XP += amount
	p.Level = LevelForXP(p.XP)
	awardTime := now
	p.LastAwardAt = &awardTime

	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: upsert profile: %v", sterrors.ErrStorage, err)
	}

	observability.RecordXPAward()
	return &Award{Profile: p, OldLevel: oldLevel, LeveledUp: p.Level > oldLevel}, nil
}

// Profile returns the subject's ledger row, or a zero profile if none exists.
func (s *Service) Profile(ctx context.Context, chatID, userID int64) (*db.Profile, error) {
	p, err := s.store.GetProfile(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %v", sterrors.ErrStorage, err)
	}
	if p == nil {
		p = &db.Profile{ChatID: chatID, UserID: userID}
	}
	return p, nil
}

func (s *Service) Leaderboard(ctx context.Context, chatID int64, limit int) ([]*db.Profile, error) {
	top, err := s.store.TopProfiles(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: top profiles: %v", sterrors.ErrStorage, err)
	}
	return top, nil
}

// LevelForXP computes floor(sqrt(xp)).
func LevelForXP(xp int64) int64 {
	if xp <= 0 {
		return 0
	}
	return int64(math.Sqrt(float64(xp)))
}
