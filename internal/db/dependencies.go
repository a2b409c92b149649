package db

import (
	"context"
	"time"
)

// Client is the full storage surface. Handlers and services depend on the
// narrow slices of it they declare themselves.
type Client interface {
	Close() error

	UpsertChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// Restrictions: a durable table keyed by (chat_id, user_id, kind).
	// PutRestriction replaces any existing record for the key.
	PutRestriction(ctx context.Context, r *Restriction) error
	GetRestriction(ctx context.Context, chatID, userID int64, kind RestrictionKind) (*Restriction, error)
	DeleteRestriction(ctx context.Context, chatID, userID int64, kind RestrictionKind) error
	ListDueRestrictions(ctx context.Context, now time.Time) ([]*Restriction, error)

	// Challenges: pending join verifications keyed by the one-time token.
	PutChallenge(ctx context.Context, c *Challenge) error
	GetChallengeByToken(ctx context.Context, token string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, token string) error
	ListExpiredChallenges(ctx context.Context, now time.Time) ([]*Challenge, error)

	AddWarning(ctx context.Context, w *Warning) (int64, error)
	GetWarnings(ctx context.Context, chatID, userID int64) ([]*Warning, error)
	ClearWarnings(ctx context.Context, chatID, userID int64) error

	GetProfile(ctx context.Context, chatID, userID int64) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
	TopProfiles(ctx context.Context, chatID int64, limit int) ([]*Profile, error)

	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	GetOpenTicketByOpener(ctx context.Context, chatID, openerID int64) (*Ticket, error)
	UpdateTicket(ctx context.Context, t *Ticket) error

	PutReactionBinding(ctx context.Context, b *ReactionBinding) error
	GetReactionBinding(ctx context.Context, chatID int64, messageID int, emoji string) (*ReactionBinding, error)
	DeleteReactionBindings(ctx context.Context, chatID int64, messageID int) error
	AddGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error
	RemoveGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error
	GetGroupMembers(ctx context.Context, chatID int64, groupName string) ([]int64, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
