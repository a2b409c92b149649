package tickets

import (
	"context"
	"errors"
	"testing"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
)

type memTickets struct {
	byID map[string]*db.Ticket
}

func newMemTickets() *memTickets {
	return &memTickets{byID: map[string]*db.Ticket{}}
}

func (m *memTickets) CreateTicket(_ context.Context, t *db.Ticket) error {
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTickets) GetTicket(_ context.Context, id string) (*db.Ticket, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) GetOpenTicketByOpener(_ context.Context, chatID, openerID int64) (*db.Ticket, error) {
	for _, t := range m.byID {
		if t.ChatID == chatID && t.OpenerID == openerID && t.Status != db.TicketStatusClosed {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTickets) UpdateTicket(_ context.Context, t *db.Ticket) error {
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func TestOpenReturnsExistingOpenTicket(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemTickets())
	ctx := context.Background()

	first, created, err := svc.Open(ctx, 1, 100, "help")
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	second, created, err := svc.Open(ctx, 1, 100, "help again")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if created {
		t.Fatal("expected existing ticket, got a new one")
	}
	if second.ID != first.ID {
		t.Fatalf("expected ticket %s, got %s", first.ID, second.ID)
	}
}

func TestClaimRejectsSecondClaimer(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemTickets())
	ctx := context.Background()

	ticket, _, err := svc.Open(ctx, 1, 100, "help")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Claim(ctx, ticket.ID, 500); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Same staff member claiming again is a no-op.
	if _, err := svc.Claim(ctx, ticket.ID, 500); err != nil {
		t.Fatalf("repeat claim by owner: %v", err)
	}
	if _, err := svc.Claim(ctx, ticket.ID, 501); !errors.Is(err, sterrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for second claimer, got %v", err)
	}
}

func TestCloseIsIdempotentAndFreesOpener(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemTickets())
	ctx := context.Background()

	ticket, _, err := svc.Open(ctx, 1, 100, "help")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := svc.Close(ctx, ticket.ID, 500)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != db.TicketStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed ticket state: %+v", closed)
	}
	if _, err := svc.Close(ctx, ticket.ID, 501); err != nil {
		t.Fatalf("repeat close: %v", err)
	}

	// After closing, the opener may open a fresh ticket.
	fresh, created, err := svc.Open(ctx, 1, 100, "another issue")
	if err != nil || !created {
		t.Fatalf("open after close: created=%v err=%v", created, err)
	}
	if fresh.ID == ticket.ID {
		t.Fatal("expected a new ticket id after close")
	}
}

func TestClaimUnknownTicket(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemTickets())

	if _, err := svc.Claim(context.Background(), "missing", 500); !errors.Is(err, sterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
