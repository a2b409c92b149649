package handlers

import (
	"context"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/joyedlion/steward/internal/bot"
	"github.com/joyedlion/steward/internal/config"
	"github.com/joyedlion/steward/internal/platform/telegram"
	"github.com/joyedlion/steward/internal/policy/permissions"
	"github.com/joyedlion/steward/internal/tickets"
)

const (
	ticketClaimPrefix = "ticket:claim:"
	ticketClosePrefix = "ticket:close:"
)

// Tickets lets members open support tickets and staff claim or close them
// from buttons on the staff-channel card. Buttons carry the ticket id, so
// they keep working after restarts.
type Tickets struct {
	s           bot.Service
	service     *tickets.Service
	ops         *telegram.Operations
	staffChatID int64
}

func NewTickets(s bot.Service, service *tickets.Service, ops *telegram.Operations) *Tickets {
	return &Tickets{
		s:           s,
		service:     service,
		ops:         ops,
		staffChatID: config.Get().StaffLogChatID,
	}
}

func (t *Tickets) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	switch {
	case u.CallbackQuery != nil:
		return t.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand() && u.Message.Command() == "ticket":
		if chat == nil || user == nil {
			return true, nil
		}
		return false, t.cmdTicket(ctx, u.Message, chat, user)
	}
	return true, nil
}

func (t *Tickets) cmdTicket(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	reason := strings.TrimSpace(msg.CommandArguments())
	if reason == "" {
		return t.ops.SendText(ctx, chat.ID, "Describe your issue: /ticket <what happened>")
	}

	ticket, created, err := t.service.Open(ctx, chat.ID, user.ID, reason)
	if err != nil {
		return errors.WithMessage(err, "open ticket")
	}
	if !created {
		return t.ops.SendText(ctx, chat.ID,
			fmt.Sprintf("%s, you already have an open ticket. Staff will get to it.", bot.GetUN(user)))
	}

	if t.staffChatID != 0 {
		card := api.NewMessage(t.staffChatID,
			fmt.Sprintf("New ticket from %s in %q:\n%s", bot.GetUN(user), chat.Title, reason))
		card.ReplyMarkup = api.NewInlineKeyboardMarkup(
			api.NewInlineKeyboardRow(
				api.NewInlineKeyboardButtonData("Claim", ticketClaimPrefix+ticket.ID),
				api.NewInlineKeyboardButtonData("Close", ticketClosePrefix+ticket.ID),
			),
		)
		if _, err := t.s.GetBot().Send(card); err != nil {
			log.WithError(err).Error("cant post ticket card")
		}
	}
	return t.ops.SendText(ctx, chat.ID,
		fmt.Sprintf("%s, your ticket is registered. Staff has been notified.", bot.GetUN(user)))
}

func (t *Tickets) handleCallback(ctx context.Context, cb *api.CallbackQuery) (bool, error) {
	var (
		ticketID string
		claim    bool
	)
	switch {
	case strings.HasPrefix(cb.Data, ticketClaimPrefix):
		ticketID, claim = strings.TrimPrefix(cb.Data, ticketClaimPrefix), true
	case strings.HasPrefix(cb.Data, ticketClosePrefix):
		ticketID = strings.TrimPrefix(cb.Data, ticketClosePrefix)
	default:
		return true, nil
	}

	ticket, err := t.service.Get(ctx, ticketID)
	if err != nil {
		_, _ = t.s.GetBot().Request(api.NewCallback(cb.ID, "Unknown ticket."))
		return false, nil
	}

	member, err := t.ops.GetChatMember(ctx, ticket.ChatID, cb.From.ID)
	if err != nil || !permissions.IsPrivilegedModerator(member) {
		_, _ = t.s.GetBot().Request(api.NewCallbackWithAlert(cb.ID, "Staff only."))
		return false, nil
	}

	if claim {
		ticket, err = t.service.Claim(ctx, ticketID, cb.From.ID)
		if err != nil {
			_, _ = t.s.GetBot().Request(api.NewCallbackWithAlert(cb.ID, "Already claimed."))
			return false, nil
		}
		_, _ = t.s.GetBot().Request(api.NewCallback(cb.ID, "Claimed."))
		t.notifyOpener(ctx, ticket.ChatID, fmt.Sprintf("Ticket update: %s is being handled.", shortID(ticket.ID)))
		return false, nil
	}

	ticket, err = t.service.Close(ctx, ticketID, cb.From.ID)
	if err != nil {
		return false, errors.WithMessage(err, "close ticket")
	}
	_, _ = t.s.GetBot().Request(api.NewCallback(cb.ID, "Closed."))
	if cb.Message != nil {
		edit := api.NewEditMessageText(t.staffChatID, cb.Message.MessageID,
			fmt.Sprintf("Ticket %s closed by %s.", shortID(ticket.ID), bot.GetUN(cb.From)))
		_, _ = t.s.GetBot().Request(edit)
	}
	t.notifyOpener(ctx, ticket.ChatID, fmt.Sprintf("Ticket update: %s was resolved.", shortID(ticket.ID)))
	return false, nil
}

func (t *Tickets) notifyOpener(ctx context.Context, chatID int64, text string) {
	if err := t.ops.SendText(ctx, chatID, text); err != nil {
		log.WithError(err).Debug("cant notify ticket opener")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
