package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/joyedlion/steward/internal/bot"
	"github.com/joyedlion/steward/internal/config"
	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/moderation"
	"github.com/joyedlion/steward/internal/platform/telegram"
	"github.com/joyedlion/steward/internal/policy/permissions"
)

const (
	defaultMuteDuration = 10 * time.Minute
	maxWarnings         = 3
)

// Moderation handles staff commands and the automatic message filters.
// Commands act on the replied-to user: /mute [duration] [reason], /unmute,
// /warn [reason], /warnings, /clearwarnings, /kick, /ban, /purge.
type Moderation struct {
	s        bot.Service
	engine   *moderation.Engine
	warnings *moderation.Warnings
	ops      *telegram.Operations

	bannedWords   []string
	linkWhitelist []string
}

func NewModeration(s bot.Service, engine *moderation.Engine, warnings *moderation.Warnings, ops *telegram.Operations) *Moderation {
	cfg := config.Get()
	words := make([]string, 0, len(cfg.Moderation.BannedWords))
	for _, w := range cfg.Moderation.BannedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &Moderation{
		s:             s,
		engine:        engine,
		warnings:      warnings,
		ops:           ops,
		bannedWords:   words,
		linkWhitelist: cfg.Moderation.LinkWhitelist,
	}
}

func (m *Moderation) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	msg := u.Message

	if msg.IsCommand() {
		return m.handleCommand(ctx, msg, chat, user)
	}
	return m.filterMessage(ctx, msg, chat, user)
}

func (m *Moderation) handleCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	cmd := msg.Command()
	switch cmd {
	case "mute", "unmute", "warn", "warnings", "clearwarnings", "kick", "ban", "purge":
	default:
		return true, nil
	}

	member, err := m.ops.GetChatMember(ctx, chat.ID, user.ID)
	if err != nil {
		return false, errors.WithMessage(err, "get issuer member")
	}
	if !permissions.IsPrivilegedModerator(member) {
		log.WithFields(log.Fields{"chat": chat.ID, "user": user.ID, "command": cmd}).
			Debug("moderation command from non-moderator ignored")
		return false, nil
	}

	target := targetOf(msg)
	if target == nil && cmd != "purge" {
		return false, m.reply(ctx, chat.ID, msg.MessageID, "Reply to a message of the member you want to act on.")
	}

	switch cmd {
	case "mute":
		return false, m.cmdMute(ctx, msg, chat, user, target)
	case "unmute":
		lifted, err := m.engine.Lift(ctx, chat.ID, target.ID, db.RestrictionKindMute, moderation.CauseManual)
		if err != nil {
			return false, errors.WithMessage(err, "unmute")
		}
		if !lifted {
			return false, m.reply(ctx, chat.ID, msg.MessageID, fmt.Sprintf("%s is not muted.", bot.GetUN(target)))
		}
		return false, m.reply(ctx, chat.ID, msg.MessageID, fmt.Sprintf("%s unmuted.", bot.GetUN(target)))
	case "warn":
		return false, m.cmdWarn(ctx, msg, chat, user, target)
	case "warnings":
		warns, err := m.warnings.List(ctx, chat.ID, target.ID)
		if err != nil {
			return false, errors.WithMessage(err, "list warnings")
		}
		return false, m.reply(ctx, chat.ID, msg.MessageID, formatWarnings(target, warns))
	case "clearwarnings":
		if err := m.warnings.Clear(ctx, chat.ID, target.ID); err != nil {
			return false, errors.WithMessage(err, "clear warnings")
		}
		return false, m.reply(ctx, chat.ID, msg.MessageID, fmt.Sprintf("Warnings cleared for %s.", bot.GetUN(target)))
	case "kick":
		if err := m.ops.KickUser(ctx, chat.ID, target.ID); err != nil {
			return false, errors.WithMessage(err, "kick")
		}
		return false, m.reply(ctx, chat.ID, msg.MessageID, fmt.Sprintf("%s kicked.", bot.GetUN(target)))
	case "ban":
		if err := m.ops.BanUser(ctx, chat.ID, target.ID); err != nil {
			return false, errors.WithMessage(err, "ban")
		}
		return false, m.reply(ctx, chat.ID, msg.MessageID, fmt.Sprintf("%s banned.", bot.GetUN(target)))
	case "purge":
		return false, m.cmdPurge(ctx, msg, chat)
	}
	return false, nil
}

func (m *Moderation) cmdMute(ctx context.Context, msg *api.Message, chat *api.Chat, issuer, target *api.User) error {
	args := strings.Fields(msg.CommandArguments())

	duration := defaultMuteDuration
	reason := ""
	if len(args) > 0 {
		if d, err := parseDuration(args[0]); err == nil {
			duration = d
			args = args[1:]
		}
	}
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}

	restriction, err := m.engine.Restrict(ctx, chat.ID, target.ID, db.RestrictionKindMute, duration, issuer.ID, reason)
	if err != nil {
		return errors.WithMessage(err, "mute")
	}
	text := fmt.Sprintf("%s muted permanently.", bot.GetUN(target))
	if restriction.ExpiresAt != nil {
		text = fmt.Sprintf("%s muted for %s.", bot.GetUN(target), duration)
	}
	return m.reply(ctx, chat.ID, msg.MessageID, text)
}

func (m *Moderation) cmdWarn(ctx context.Context, msg *api.Message, chat *api.Chat, issuer, target *api.User) error {
	reason := strings.TrimSpace(msg.CommandArguments())
	count, escalated, err := m.fileWarning(ctx, chat.ID, target.ID, issuer.ID, reason)
	if err != nil {
		return err
	}
	if escalated {
		return m.reply(ctx, chat.ID, msg.MessageID,
			fmt.Sprintf("%s reached %d warnings and was muted for an hour.", bot.GetUN(target), count))
	}
	return m.reply(ctx, chat.ID, msg.MessageID,
		fmt.Sprintf("%s warned (%d/%d).", bot.GetUN(target), count, maxWarnings))
}

// fileWarning appends a warning and escalates at the ceiling: the subject
// gets a timed mute and the tally resets.
func (m *Moderation) fileWarning(ctx context.Context, chatID, targetID, issuerID int64, reason string) (count int, escalated bool, err error) {
	if _, err := m.warnings.Issue(ctx, chatID, targetID, issuerID, reason); err != nil {
		return 0, false, errors.WithMessage(err, "issue warning")
	}
	warns, err := m.warnings.List(ctx, chatID, targetID)
	if err != nil {
		return 0, false, errors.WithMessage(err, "count warnings")
	}
	count = len(warns)
	if count < maxWarnings {
		return count, false, nil
	}

	if _, err := m.engine.Restrict(ctx, chatID, targetID, db.RestrictionKindMute, time.Hour,
		issuerID, fmt.Sprintf("reached %d warnings", count)); err != nil {
		return count, false, errors.WithMessage(err, "escalate warnings")
	}
	if err := m.warnings.Clear(ctx, chatID, targetID); err != nil {
		return count, true, errors.WithMessage(err, "reset warnings")
	}
	return count, true, nil
}

func (m *Moderation) cmdPurge(ctx context.Context, msg *api.Message, chat *api.Chat) error {
	if msg.ReplyToMessage == nil {
		return m.reply(ctx, chat.ID, msg.MessageID, "Reply to the first message you want purged.")
	}
	deleted := 0
	for id := msg.ReplyToMessage.MessageID; id <= msg.MessageID; id++ {
		if err := m.ops.DeleteMessage(ctx, chat.ID, id); err != nil {
			log.WithError(err).WithField("message_id", id).Debug("purge skip")
			continue
		}
		deleted++
	}
	log.WithFields(log.Fields{"chat": chat.ID, "deleted": deleted}).Info("purge complete")
	return nil
}

// filterMessage applies the word and link filters to regular member
// messages. Violations delete the message and mute the author briefly.
func (m *Moderation) filterMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return true, nil
	}

	violation := m.findBannedWord(text)
	if violation == "" && m.hasForeignLink(msg) {
		violation = "unapproved link"
	}
	if violation == "" {
		return true, nil
	}

	member, err := m.ops.GetChatMember(ctx, chat.ID, user.ID)
	if err == nil && permissions.IsPrivilegedModerator(member) {
		return true, nil
	}

	if tool.Try(m.ops.DeleteMessage(ctx, chat.ID, msg.MessageID)) {
		log.WithFields(log.Fields{"chat": chat.ID, "message_id": msg.MessageID}).Debug("cant delete message")
	}
	if _, _, err := m.fileWarning(ctx, chat.ID, user.ID, 0, "automod: "+violation); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{"chat": chat.ID, "user": user.ID, "violation": violation}).
		Info("automod action")
	return false, nil
}

func (m *Moderation) findBannedWord(text string) string {
	lowered := strings.ToLower(text)
	for _, word := range m.bannedWords {
		if strings.Contains(lowered, word) {
			return "banned word"
		}
	}
	return ""
}

func (m *Moderation) hasForeignLink(msg *api.Message) bool {
	entities := msg.Entities
	if len(entities) == 0 {
		entities = msg.CaptionEntities
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	for _, e := range entities {
		var target string
		switch e.Type {
		case "url":
			target = extractEntity(text, e)
		case "text_link":
			target = e.URL
		default:
			continue
		}
		if target != "" && !m.isWhitelisted(target) {
			return true
		}
	}
	return false
}

func (m *Moderation) isWhitelisted(rawURL string) bool {
	host := strings.ToLower(rawURL)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	for _, allowed := range m.linkWhitelist {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Entity offsets count UTF-16 code units, per the Bot API.
func extractEntity(text string, e api.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

func (m *Moderation) reply(ctx context.Context, chatID int64, replyTo int, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	reply := api.NewMessage(chatID, text)
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   chatID,
		MessageID:                replyTo,
		AllowSendingWithoutReply: true,
	}
	if _, err := m.s.GetBot().Send(reply); err != nil {
		return errors.WithMessage(err, "send reply")
	}
	return nil
}

func targetOf(msg *api.Message) *api.User {
	if msg.ReplyToMessage == nil {
		return nil
	}
	return msg.ReplyToMessage.From
}

// parseDuration accepts Go duration syntax plus a day suffix and bare
// numbers of minutes: "90s", "10m", "2h", "1d", "15".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, errors.WithMessage(err, "parse days")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func formatWarnings(target *api.User, warns []*db.Warning) string {
	if len(warns) == 0 {
		return fmt.Sprintf("%s has no warnings.", bot.GetUN(target))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d warning(s):\n", bot.GetUN(target), len(warns))
	for i, w := range warns {
		reason := w.Reason
		if reason == "" {
			reason = "no reason given"
		}
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, w.CreatedAt.Format("2006-01-02"), reason)
	}
	return b.String()
}
