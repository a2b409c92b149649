package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/joyedlion/steward/internal/bot"
	"github.com/joyedlion/steward/internal/config"
	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/moderation"
)

const challengePollInterval = 30 * time.Second

type challengeStore interface {
	PutChallenge(ctx context.Context, ch *db.Challenge) error
	GetChallengeByToken(ctx context.Context, token string) (*db.Challenge, error)
	DeleteChallenge(ctx context.Context, token string) error
	ListExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error)
}

type challengeEngine interface {
	Restrict(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, duration time.Duration, issuerID int64, reason string) (*db.Restriction, error)
	Lift(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, cause moderation.Cause) (bool, error)
	IsRestricted(ctx context.Context, chatID, userID int64, kind db.RestrictionKind) (bool, error)
}

type challengeOps interface {
	SendText(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	KickUser(ctx context.Context, chatID, userID int64) error
}

// Gatekeeper challenges new members before they may speak. A joiner is
// muted on arrival and shown a confirmation button carrying a one-time
// token; pressing it lifts the mute, missing the deadline gets the member
// kicked. Both the mute and the challenge deadline are durable, so a
// restart neither leaves a joiner silently muted forever nor forgets to
// kick one who never answered: the poller derives due kicks from the
// store on every tick.
type Gatekeeper struct {
	s      bot.Service
	engine challengeEngine
	ops    challengeOps
	store  challengeStore
	logger *log.Entry

	startStopMutex sync.Mutex
	started        bool
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
}

func NewGatekeeper(s bot.Service, engine challengeEngine, ops challengeOps, store challengeStore) *Gatekeeper {
	return &Gatekeeper{
		s:      s,
		engine: engine,
		ops:    ops,
		store:  store,
		logger: log.WithField("context", "gatekeeper"),
	}
}

func (g *Gatekeeper) Start(ctx context.Context) error {
	g.startStopMutex.Lock()
	defer g.startStopMutex.Unlock()
	if g.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.workerCancel = cancel

	g.workerWG.Add(1)
	go func() {
		defer g.workerWG.Done()

		// Challenges that ran out while the process was down are kicked by
		// the first pass.
		if err := g.processExpired(runCtx, time.Now()); err != nil && !stderrors.Is(err, context.Canceled) {
			g.logger.WithField("error", err.Error()).Error("startup challenge pass failed")
		}

		ticker := time.NewTicker(challengePollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := g.processExpired(runCtx, time.Now()); err != nil && !stderrors.Is(err, context.Canceled) {
					g.logger.WithField("error", err.Error()).Error("challenge pass failed")
				}
			}
		}
	}()

	g.started = true
	return nil
}

func (g *Gatekeeper) Stop(ctx context.Context) error {
	g.startStopMutex.Lock()
	if !g.started {
		g.startStopMutex.Unlock()
		return nil
	}
	g.started = false
	cancel := g.workerCancel
	g.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	switch {
	case u.CallbackQuery != nil:
		return g.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		return g.handleJoin(ctx, u.Message, chat)
	}
	return true, nil
}

func (g *Gatekeeper) handleJoin(ctx context.Context, msg *api.Message, chat *api.Chat) (bool, error) {
	stored, err := g.s.EnsureChat(ctx, chat)
	if err != nil {
		return true, errors.WithMessage(err, "ensure chat")
	}
	if !stored.VerificationEnabled {
		if stored.WelcomeEnabled {
			for i := range msg.NewChatMembers {
				g.sendWelcome(ctx, chat.ID, &msg.NewChatMembers[i])
			}
		}
		return true, nil
	}

	me := g.s.GetBot().Self
	for i := range msg.NewChatMembers {
		joiner := &msg.NewChatMembers[i]
		if joiner.IsBot || joiner.ID == me.ID {
			continue
		}
		// A rejoining member with a live mute already has a pending
		// challenge; issuing another would double up the kick.
		restricted, err := g.engine.IsRestricted(ctx, chat.ID, joiner.ID, db.RestrictionKindMute)
		if err == nil && restricted {
			continue
		}
		if err := g.challenge(ctx, chat, joiner); err != nil {
			g.logger.WithError(err).WithFields(log.Fields{
				"chat": chat.ID,
				"user": joiner.ID,
			}).Error("cant challenge joiner")
		}
	}
	return false, nil
}

func (g *Gatekeeper) challenge(ctx context.Context, chat *api.Chat, joiner *api.User) error {
	// Permanent mute until the joiner proves themselves. Kept in the
	// restriction ledger so it survives restarts.
	if _, err := g.engine.Restrict(ctx, chat.ID, joiner.ID, db.RestrictionKindMute, 0, 0, "pending verification"); err != nil {
		return errors.WithMessage(err, "restrict joiner")
	}

	token := uuid.New()
	text := fmt.Sprintf("Welcome, %s! Press the button below to confirm you are human.", bot.GetUN(joiner))
	challenge := api.NewMessage(chat.ID, text)
	challenge.ReplyMarkup = api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("I'm human", "verify:"+token),
		),
	)
	sent, err := g.s.GetBot().Send(challenge)
	if err != nil {
		return errors.WithMessage(err, "send challenge")
	}

	now := time.Now()
	timeout := config.Get().Verification.ChallengeTimeout
	if err := g.store.PutChallenge(ctx, &db.Challenge{
		Token:     token,
		ChatID:    chat.ID,
		UserID:    joiner.ID,
		MessageID: sent.MessageID,
		ExpiresAt: now.Add(timeout),
		CreatedAt: now,
	}); err != nil {
		return errors.WithMessage(err, "store challenge")
	}

	g.logger.WithFields(log.Fields{
		"chat":    chat.ID,
		"user":    joiner.ID,
		"timeout": timeout,
	}).Info("challenge issued")
	return nil
}

func (g *Gatekeeper) handleCallback(ctx context.Context, cb *api.CallbackQuery) (bool, error) {
	const prefix = "verify:"
	if len(cb.Data) <= len(prefix) || cb.Data[:len(prefix)] != prefix {
		return true, nil
	}
	token := cb.Data[len(prefix):]

	ch, err := g.store.GetChallengeByToken(ctx, token)
	if err != nil {
		return false, errors.WithMessage(err, "get challenge")
	}
	if ch == nil {
		_, _ = g.s.GetBot().Request(api.NewCallback(cb.ID, "Expired."))
		return false, nil
	}
	if ch.UserID != cb.From.ID {
		// Only the challenged member may answer their own challenge.
		answer := api.NewCallbackWithAlert(cb.ID, "This button is not for you.")
		_, _ = g.s.GetBot().Request(answer)
		return false, nil
	}

	if err := g.store.DeleteChallenge(ctx, token); err != nil {
		return false, errors.WithMessage(err, "delete challenge")
	}
	if _, err := g.engine.Lift(ctx, ch.ChatID, ch.UserID, db.RestrictionKindMute, moderation.CauseManual); err != nil {
		return false, errors.WithMessage(err, "lift verification mute")
	}
	_, _ = g.s.GetBot().Request(api.NewCallback(cb.ID, "Welcome!"))
	if err := g.ops.DeleteMessage(ctx, ch.ChatID, ch.MessageID); err != nil {
		g.logger.WithError(err).Debug("cant delete challenge message")
	}

	stored, err := g.s.GetDB().GetChat(ctx, ch.ChatID)
	if err == nil && stored != nil && stored.WelcomeEnabled {
		g.sendWelcome(ctx, ch.ChatID, cb.From)
	}
	return false, nil
}

// processExpired kicks every joiner whose challenge deadline has passed.
// A challenge whose kick fails is kept for the next pass.
func (g *Gatekeeper) processExpired(ctx context.Context, now time.Time) error {
	expired, err := g.store.ListExpiredChallenges(ctx, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	g.logger.WithField("count", len(expired)).Debug("processing expired challenges")

	var passErr error
	for _, ch := range expired {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		entry := g.logger.WithFields(log.Fields{"chat": ch.ChatID, "user": ch.UserID})
		if err := g.ops.KickUser(ctx, ch.ChatID, ch.UserID); err != nil {
			entry.WithError(err).Error("cant kick unverified joiner")
			passErr = stderrors.Join(passErr, err)
			continue
		}
		if _, err := g.engine.Lift(ctx, ch.ChatID, ch.UserID, db.RestrictionKindMute, moderation.CauseManual); err != nil {
			entry.WithError(err).Error("cant clear verification mute")
		}
		if err := g.ops.DeleteMessage(ctx, ch.ChatID, ch.MessageID); err != nil {
			entry.WithError(err).Debug("cant delete challenge message")
		}
		if err := g.store.DeleteChallenge(ctx, ch.Token); err != nil {
			entry.WithError(err).Error("cant delete challenge")
			passErr = stderrors.Join(passErr, err)
			continue
		}
		entry.Info("unverified joiner removed")
	}
	return passErr
}

func (g *Gatekeeper) sendWelcome(ctx context.Context, chatID int64, user *api.User) {
	text := fmt.Sprintf("Welcome aboard, %s!", bot.GetUN(user))
	if err := g.ops.SendText(ctx, chatID, text); err != nil {
		g.logger.WithError(err).Debug("cant send welcome")
	}
}
