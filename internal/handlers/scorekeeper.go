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
	"github.com/joyedlion/steward/internal/leveling"
	"github.com/joyedlion/steward/internal/platform/telegram"
)

// Scorekeeper keeps the per-chat activity ledger. Regular messages earn
// XP on a cooldown, level-ups are announced with their milestone title,
// and members can query standings with /profile and /leaderboard.
type Scorekeeper struct {
	s          bot.Service
	levels     *leveling.Service
	milestones *leveling.Milestones
	ops        *telegram.Operations
}

func NewScorekeeper(s bot.Service, levels *leveling.Service, ops *telegram.Operations) *Scorekeeper {
	milestones, err := leveling.LoadMilestones()
	if err != nil {
		log.WithError(err).Error("cant load level milestones")
		milestones = &leveling.Milestones{}
	}
	return &Scorekeeper{
		s:          s,
		levels:     levels,
		milestones: milestones,
		ops:        ops,
	}
}

func (sk *Scorekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil || user.IsBot {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	msg := u.Message

	if msg.IsCommand() {
		switch msg.Command() {
		case "profile":
			return false, sk.cmdProfile(ctx, msg, chat, user)
		case "leaderboard":
			return false, sk.cmdLeaderboard(ctx, chat)
		}
		return true, nil
	}
	if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
		return true, nil
	}

	award, err := sk.levels.Grant(ctx, chat.ID, user.ID, leveling.MessageAward, time.Now())
	if err != nil {
		return true, errors.WithMessage(err, "grant xp")
	}
	if award != nil && award.LeveledUp {
		sk.announceLevelUp(ctx, chat.ID, user, award.Profile.Level)
	}
	return true, nil
}

func (sk *Scorekeeper) announceLevelUp(ctx context.Context, chatID int64, user *api.User, level int64) {
	text := fmt.Sprintf("%s reached level %d!", bot.GetUN(user), level)
	if title, ok := sk.milestones.TitleFor(level); ok {
		text = fmt.Sprintf("%s reached level %d and is now a %s!", bot.GetUN(user), level, title)
	}
	if err := sk.ops.SendText(ctx, chatID, text); err != nil {
		log.WithError(err).Debug("cant announce level up")
	}
}

func (sk *Scorekeeper) cmdProfile(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	subject := user
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		subject = msg.ReplyToMessage.From
	}

	profile, err := sk.levels.Profile(ctx, chat.ID, subject.ID)
	if err != nil {
		return errors.WithMessage(err, "get profile")
	}
	if profile == nil {
		return sk.ops.SendText(ctx, chat.ID, fmt.Sprintf("%s has no activity yet.", bot.GetUN(subject)))
	}

	text := fmt.Sprintf("%s — level %d, %d XP", bot.GetUN(subject), profile.Level, profile.XP)
	if title, ok := sk.milestones.Current(profile.Level); ok {
		text += fmt.Sprintf(" (%s)", title)
	}
	return sk.ops.SendText(ctx, chat.ID, text)
}

func (sk *Scorekeeper) cmdLeaderboard(ctx context.Context, chat *api.Chat) error {
	top, err := sk.levels.Leaderboard(ctx, chat.ID, 10)
	if err != nil {
		return errors.WithMessage(err, "get leaderboard")
	}
	if len(top) == 0 {
		return sk.ops.SendText(ctx, chat.ID, "No activity recorded yet.")
	}

	var b strings.Builder
	b.WriteString("Most active members:\n")
	for i, p := range top {
		name := sk.memberName(ctx, chat.ID, p.UserID)
		fmt.Fprintf(&b, "%d. %s — level %d (%d XP)\n", i+1, name, p.Level, p.XP)
	}
	return sk.ops.SendText(ctx, chat.ID, b.String())
}

func (sk *Scorekeeper) memberName(ctx context.Context, chatID, userID int64) string {
	member, err := sk.ops.GetChatMember(ctx, chatID, userID)
	if err != nil || member.User == nil {
		return fmt.Sprintf("user %d", userID)
	}
	return bot.GetUN(member.User)
}
