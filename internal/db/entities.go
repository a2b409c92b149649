package db

import "time"

// RestrictionKind enumerates restriction types. Only communication mutes
// exist today; bans and media locks slot in without schema changes.
type RestrictionKind string

const (
	RestrictionKindMute RestrictionKind = "mute"
)

// Restriction is an active, time-bounded limitation placed on a user within
// a chat. A nil ExpiresAt denotes a permanent restriction that is only
// lifted explicitly. At most one record exists per (chat, user, kind).
type Restriction struct {
	ChatID    int64           `db:"chat_id"`
	UserID    int64           `db:"user_id"`
	Kind      RestrictionKind `db:"kind"`
	ExpiresAt *time.Time      `db:"expires_at"`
	Reason    string          `db:"reason"`
	CreatedAt time.Time       `db:"created_at"`
	CreatedBy int64           `db:"created_by"`
}

// Permanent reports whether the restriction has no expiry.
func (r *Restriction) Permanent() bool {
	return r.ExpiresAt == nil
}

// Challenge is a pending join verification. The deadline lives in the
// database so an unanswered joiner is still kicked after a restart.
type Challenge struct {
	Token     string    `db:"token"`
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	MessageID int       `db:"message_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

type Warning struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	IssuerID  int64     `db:"issuer_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

// Profile is the per-chat XP ledger row. Level is derived from XP on every
// award and never stored inconsistently.
type Profile struct {
	ChatID      int64      `db:"chat_id"`
	UserID      int64      `db:"user_id"`
	XP          int64      `db:"xp"`
	Level       int64      `db:"level"`
	LastAwardAt *time.Time `db:"last_award_at"`
}

type TicketStatus string

const (
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClaimed TicketStatus = "claimed"
	TicketStatusClosed  TicketStatus = "closed"
)

type Ticket struct {
	ID        string       `db:"id"`
	ChatID    int64        `db:"chat_id"`
	OpenerID  int64        `db:"opener_id"`
	TopicID   int          `db:"topic_id"`
	Status    TicketStatus `db:"status"`
	ClaimedBy int64        `db:"claimed_by"`
	Reason    string       `db:"reason"`
	OpenedAt  time.Time    `db:"opened_at"`
	ClosedAt  *time.Time   `db:"closed_at"`
}

// ReactionBinding maps an emoji on a specific message to a named subscriber
// group. Reacting joins the group, removing the reaction leaves it.
type ReactionBinding struct {
	ChatID    int64     `db:"chat_id"`
	MessageID int       `db:"message_id"`
	Emoji     string    `db:"emoji"`
	GroupName string    `db:"group_name"`
	CreatedBy int64     `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

type Chat struct {
	ID                  int64     `db:"id"`
	Title               string    `db:"title"`
	VerificationEnabled bool      `db:"verification_enabled"`
	WelcomeEnabled      bool      `db:"welcome_enabled"`
	CreatedAt           time.Time `db:"created_at"`
}
