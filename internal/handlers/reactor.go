package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/joyedlion/steward/internal/bot"
	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/platform/telegram"
	"github.com/joyedlion/steward/internal/policy/permissions"
)

type reactionStore interface {
	PutReactionBinding(ctx context.Context, b *db.ReactionBinding) error
	GetReactionBinding(ctx context.Context, chatID int64, messageID int, emoji string) (*db.ReactionBinding, error)
	DeleteReactionBindings(ctx context.Context, chatID int64, messageID int) error
	AddGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error
	RemoveGroupMember(ctx context.Context, chatID int64, groupName string, userID int64) error
}

// Reactor turns message reactions into group membership. Staff bind an
// emoji on a message to a named group with /bindreaction; members join by
// reacting with that emoji and leave by removing the reaction.
type Reactor struct {
	s     bot.Service
	store reactionStore
	ops   *telegram.Operations
}

func NewReactor(s bot.Service, store reactionStore, ops *telegram.Operations) *Reactor {
	return &Reactor{
		s:     s,
		store: store,
		ops:   ops,
	}
}

func (r *Reactor) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	switch {
	case u.MessageReaction != nil:
		return r.handleReaction(ctx, u.MessageReaction)
	case u.Message != nil && u.Message.IsCommand():
		if chat == nil || user == nil {
			return true, nil
		}
		switch u.Message.Command() {
		case "bindreaction":
			return false, r.cmdBind(ctx, u.Message, chat, user)
		case "unbindreactions":
			return false, r.cmdUnbind(ctx, u.Message, chat, user)
		}
	}
	return true, nil
}

// cmdBind expects a reply to the target message: /bindreaction <emoji> <group>.
func (r *Reactor) cmdBind(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	member, err := r.ops.GetChatMember(ctx, chat.ID, user.ID)
	if err != nil || !permissions.IsManager(member) {
		log.WithFields(log.Fields{"chat": chat.ID, "user": user.ID}).
			Debug("bindreaction from non-manager ignored")
		return nil
	}
	if msg.ReplyToMessage == nil {
		return r.ops.SendText(ctx, chat.ID, "Reply to the message you want members to react to.")
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		return r.ops.SendText(ctx, chat.ID, "Usage: /bindreaction <emoji> <group>")
	}
	emoji, group := args[0], strings.ToLower(args[1])

	binding := &db.ReactionBinding{
		ChatID:    chat.ID,
		MessageID: msg.ReplyToMessage.MessageID,
		Emoji:     emoji,
		GroupName: group,
		CreatedBy: user.ID,
		CreatedAt: time.Now(),
	}
	if err := r.store.PutReactionBinding(ctx, binding); err != nil {
		return errors.WithMessage(err, "put reaction binding")
	}
	return r.ops.SendText(ctx, chat.ID,
		fmt.Sprintf("Reacting with %s on that message now joins the %q group.", emoji, group))
}

func (r *Reactor) cmdUnbind(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	member, err := r.ops.GetChatMember(ctx, chat.ID, user.ID)
	if err != nil || !permissions.IsManager(member) {
		return nil
	}
	if msg.ReplyToMessage == nil {
		return r.ops.SendText(ctx, chat.ID, "Reply to the message whose bindings you want removed.")
	}
	if err := r.store.DeleteReactionBindings(ctx, chat.ID, msg.ReplyToMessage.MessageID); err != nil {
		return errors.WithMessage(err, "delete reaction bindings")
	}
	return r.ops.SendText(ctx, chat.ID, "Reaction bindings removed.")
}

func (r *Reactor) handleReaction(ctx context.Context, reaction *api.MessageReactionUpdated) (bool, error) {
	if reaction.User == nil {
		return true, nil
	}
	chatID := reaction.Chat.ID
	userID := reaction.User.ID

	added, removed := diffReactions(r.emojiSet(reaction.OldReaction), r.emojiSet(reaction.NewReaction))

	for _, emoji := range added {
		binding, err := r.store.GetReactionBinding(ctx, chatID, reaction.MessageID, emoji)
		if err != nil || binding == nil {
			continue
		}
		if err := r.store.AddGroupMember(ctx, chatID, binding.GroupName, userID); err != nil {
			return false, errors.WithMessage(err, "add group member")
		}
		log.WithFields(log.Fields{
			"chat":  chatID,
			"user":  userID,
			"group": binding.GroupName,
		}).Info("member joined group via reaction")
	}
	for _, emoji := range removed {
		binding, err := r.store.GetReactionBinding(ctx, chatID, reaction.MessageID, emoji)
		if err != nil || binding == nil {
			continue
		}
		if err := r.store.RemoveGroupMember(ctx, chatID, binding.GroupName, userID); err != nil {
			return false, errors.WithMessage(err, "remove group member")
		}
		log.WithFields(log.Fields{
			"chat":  chatID,
			"user":  userID,
			"group": binding.GroupName,
		}).Info("member left group via reaction")
	}
	return false, nil
}

func (r *Reactor) emojiOf(react api.ReactionType) string {
	if react.Type != api.StickerTypeCustomEmoji {
		return react.Emoji
	}
	emojiStickers, err := r.s.GetBot().GetCustomEmojiStickers(api.GetCustomEmojiStickersConfig{
		CustomEmojiIDs: []string{react.CustomEmoji},
	})
	if err != nil || len(emojiStickers) == 0 {
		return ""
	}
	return emojiStickers[0].Emoji
}

func (r *Reactor) emojiSet(reactions []api.ReactionType) map[string]struct{} {
	set := map[string]struct{}{}
	for _, react := range reactions {
		if emoji := r.emojiOf(react); emoji != "" {
			set[emoji] = struct{}{}
		}
	}
	return set
}

func diffReactions(oldSet, newSet map[string]struct{}) (added, removed []string) {
	for e := range newSet {
		if _, ok := oldSet[e]; !ok {
			added = append(added, e)
		}
	}
	for e := range oldSet {
		if _, ok := newSet[e]; !ok {
			removed = append(removed, e)
		}
	}
	return added, removed
}
