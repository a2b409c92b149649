package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/joyedlion/steward/internal/db"
)

type service struct {
	bot *api.BotAPI
	db  db.Client
}

func NewService(bot *api.BotAPI, db db.Client) *service {
	return &service{
		bot: bot,
		db:  db,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// EnsureChat returns the stored chat row, creating it with defaults the
// first time the bot sees the chat.
func (s *service) EnsureChat(ctx context.Context, chat *api.Chat) (*db.Chat, error) {
	if chat == nil {
		return nil, errors.New("chat is nil")
	}
	stored, err := s.db.GetChat(ctx, chat.ID)
	if err != nil {
		return nil, errors.WithMessage(err, "get chat")
	}
	if stored != nil {
		if stored.Title != chat.Title {
			stored.Title = chat.Title
			if err := s.db.UpsertChat(ctx, stored); err != nil {
				return nil, errors.WithMessage(err, "update chat title")
			}
		}
		return stored, nil
	}

	stored = &db.Chat{
		ID:                  chat.ID,
		Title:               chat.Title,
		VerificationEnabled: true,
		WelcomeEnabled:      true,
		CreatedAt:           time.Now(),
	}
	if err := s.db.UpsertChat(ctx, stored); err != nil {
		return nil, errors.WithMessage(err, "insert chat")
	}
	return stored, nil
}
