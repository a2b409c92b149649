package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
)

type ticketStore interface {
	CreateTicket(ctx context.Context, ticket *db.Ticket) error
	GetTicket(ctx context.Context, id string) (*db.Ticket, error)
	GetOpenTicketByOpener(ctx context.Context, chatID, openerID int64) (*db.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *db.Ticket) error
}

// Service owns the ticket ledger. Every state change goes through the
// repository keyed by ticket id, so staff actions stay valid across
// restarts and concurrent claims resolve against stored state.
type Service struct {
	store ticketStore
}

func NewService(store ticketStore) *Service {
	return &Service{store: store}
}

// Open creates a new ticket for the opener. A member holds at most one
// open ticket per chat; a second request returns the existing one.
func (s *Service) Open(ctx context.Context, chatID, openerID int64, reason string) (*db.Ticket, bool, error) {
	existing, err := s.store.GetOpenTicketByOpener(ctx, chatID, openerID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: lookup open ticket: %v", sterrors.ErrStorage, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	ticket := &db.Ticket{
		ID:       uuid.New(),
		ChatID:   chatID,
		OpenerID: openerID,
		Reason:   reason,
		Status:   db.TicketStatusOpen,
		OpenedAt: time.Now(),
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, false, fmt.Errorf("%w: create ticket: %v", sterrors.ErrStorage, err)
	}
	return ticket, true, nil
}

// Claim assigns the ticket to a staff member. Claiming an already-claimed
// ticket fails so two moderators cannot both believe they own it.
func (s *Service) Claim(ctx context.Context, ticketID string, staffID int64) (*db.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: get ticket: %v", sterrors.ErrStorage, err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: ticket %s", sterrors.ErrNotFound, ticketID)
	}
	switch ticket.Status {
	case db.TicketStatusClosed:
		return nil, fmt.Errorf("%w: ticket %s is closed", sterrors.ErrInvalidInput, ticketID)
	case db.TicketStatusClaimed:
		if ticket.ClaimedBy == staffID {
			return ticket, nil
		}
		return nil, fmt.Errorf("%w: ticket %s already claimed", sterrors.ErrInvalidInput, ticketID)
	}

	ticket.Status = db.TicketStatusClaimed
	ticket.ClaimedBy = staffID
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("%w: update ticket: %v", sterrors.ErrStorage, err)
	}
	return ticket, nil
}

// Close finishes the ticket. Closing is idempotent.
func (s *Service) Close(ctx context.Context, ticketID string, staffID int64) (*db.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: get ticket: %v", sterrors.ErrStorage, err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: ticket %s", sterrors.ErrNotFound, ticketID)
	}
	if ticket.Status == db.TicketStatusClosed {
		return ticket, nil
	}

	now := time.Now()
	ticket.Status = db.TicketStatusClosed
	if ticket.ClaimedBy == 0 {
		ticket.ClaimedBy = staffID
	}
	ticket.ClosedAt = &now
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("%w: update ticket: %v", sterrors.ErrStorage, err)
	}
	return ticket, nil
}

func (s *Service) Get(ctx context.Context, ticketID string) (*db.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: get ticket: %v", sterrors.ErrStorage, err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: ticket %s", sterrors.ErrNotFound, ticketID)
	}
	return ticket, nil
}
