package event

import (
	"fmt"

	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/moderation"
)

// StaffNotifier translates restriction lifecycle events into staff-log
// notices on the bus. It satisfies the engine's Notifier contract without
// blocking engine transitions on platform I/O.
type StaffNotifier struct {
	bus         *Bus
	staffChatID int64
}

func NewStaffNotifier(bus *Bus, staffChatID int64) *StaffNotifier {
	return &StaffNotifier{bus: bus, staffChatID: staffChatID}
}

var _ moderation.Notifier = (*StaffNotifier)(nil)

func (n *StaffNotifier) RestrictionApplied(r *db.Restriction) {
	until := "permanently"
	if r.ExpiresAt != nil {
		until = fmt.Sprintf("until %s", r.ExpiresAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	text := fmt.Sprintf("User %d %sd in chat %d %s", r.UserID, r.Kind, r.ChatID, until)
	if r.Reason != "" {
		text += fmt.Sprintf("\nReason: %s", r.Reason)
	}
	n.bus.Enqueue(Notice{ChatID: n.staffChatID, Text: text})
}

func (n *StaffNotifier) RestrictionLifted(r *db.Restriction, cause moderation.Cause) {
	var text string
	switch cause {
	case moderation.CauseExpired:
		text = fmt.Sprintf("User %d automatically un%sd in chat %d (time expired)", r.UserID, r.Kind, r.ChatID)
	case moderation.CauseUnreachable:
		text = fmt.Sprintf("Dropped %s record for user %d: chat %d is gone", r.Kind, r.UserID, r.ChatID)
	default:
		text = fmt.Sprintf("User %d un%sd in chat %d", r.UserID, r.Kind, r.ChatID)
	}
	n.bus.Enqueue(Notice{ChatID: n.staffChatID, Text: text})
}

func (n *StaffNotifier) RestrictionLiftFailed(r *db.Restriction, cause moderation.Cause, err error) {
	n.bus.Enqueue(Notice{
		ChatID: n.staffChatID,
		Text:   fmt.Sprintf("Failed to lift %s for user %d in chat %d (%s): %v", r.Kind, r.UserID, r.ChatID, cause, err),
	})
}
