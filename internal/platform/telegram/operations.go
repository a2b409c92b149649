package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/joyedlion/steward/internal/db"
	sterrors "github.com/joyedlion/steward/internal/errors"
)

const msgNoPrivileges = "not enough rights"

// Operations adapts the Telegram Bot API to the narrow platform interfaces
// the core consumes: restriction effects, scope resolution and plain text
// delivery. Connection lifecycle stays with the caller.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

// ApplyRestriction grants the platform-side restriction. For mutes this
// strips all chat permissions until the expiry (or indefinitely when until
// is nil).
func (o *Operations) ApplyRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, until *time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	switch kind {
	case db.RestrictionKindMute:
		var untilDate int64
		if until != nil {
			untilDate = until.Unix()
		}
		cfg := api.RestrictChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{ChatID: chatID},
				UserID:     userID,
			},
			Permissions: &api.ChatPermissions{},
			UntilDate:   untilDate,

			UseIndependentChatPermissions: true,
		}
		if _, err := o.bot.Request(cfg); err != nil {
			return withPrivilegeError(err, "restrict")
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported restriction kind %q", sterrors.ErrInvalidInput, kind)
	}
}

// RemoveRestriction restores the chat's default permissions for the user.
// Removing an already-absent restriction is a platform no-op.
func (o *Operations) RemoveRestriction(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	switch kind {
	case db.RestrictionKindMute:
		cfg := api.RestrictChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{ChatID: chatID},
				UserID:     userID,
			},
			Permissions: &api.ChatPermissions{
				CanSendMessages:       true,
				CanSendAudios:         true,
				CanSendDocuments:      true,
				CanSendPhotos:         true,
				CanSendVideos:         true,
				CanSendVideoNotes:     true,
				CanSendVoiceNotes:     true,
				CanSendPolls:          true,
				CanSendOtherMessages:  true,
				CanAddWebPagePreviews: true,
			},
			UntilDate: 0,

			UseIndependentChatPermissions: false,
		}
		if _, err := o.bot.Request(cfg); err != nil {
			return withPrivilegeError(err, "unrestrict")
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported restriction kind %q", sterrors.ErrInvalidInput, kind)
	}
}

// ScopeReachable reports whether the chat still exists and the bot can act
// in it. Platform answers that clearly mean "gone" map to false without an
// error; transient failures are returned as errors.
func (o *Operations) ScopeReachable(ctx context.Context, chatID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := o.bot.GetChat(api.ChatInfoConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	})
	if err == nil {
		return true, nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "bot was kicked"),
		strings.Contains(msg, "bot is not a member"),
		strings.Contains(msg, "forbidden"):
		return false, nil
	}
	return false, fmt.Errorf("get chat %d: %w", chatID, err)
}

func (o *Operations) SendText(ctx context.Context, chatID int64, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := o.bot.Send(api.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (o *Operations) SendHTML(ctx context.Context, chatID int64, html string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := api.NewMessage(chatID, html)
	msg.ParseMode = api.ModeHTML
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("send html message: %w", err)
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// KickUser removes the user from the chat without a lasting ban: Telegram
// models a kick as ban followed by unban.
func (o *Operations) KickUser(ctx context.Context, chatID, userID int64) error {
	if err := o.BanUser(ctx, chatID, userID); err != nil {
		return err
	}
	cfg := api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return withPrivilegeError(err, "unban")
	}
	return nil
}

func (o *Operations) BanUser(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	cfg := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		RevokeMessages: true,
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return withPrivilegeError(err, "ban")
	}
	return nil
}

func (o *Operations) GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get chat member: %w", err)
	}
	return &member, nil
}

func withPrivilegeError(err error, operation string) error {
	if strings.Contains(strings.ToLower(err.Error()), msgNoPrivileges) {
		return fmt.Errorf("%w: %s", sterrors.ErrNoPrivileges, operation)
	}
	return fmt.Errorf("failed to %s user: %w", operation, err)
}
