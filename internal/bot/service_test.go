package bot

import (
	"context"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/joyedlion/steward/internal/db"
)

type chatOnlyClient struct {
	db.Client
	chats map[int64]*db.Chat
}

func newChatOnlyClient() *chatOnlyClient {
	return &chatOnlyClient{chats: map[int64]*db.Chat{}}
}

func (c *chatOnlyClient) GetChat(_ context.Context, chatID int64) (*db.Chat, error) {
	chat, ok := c.chats[chatID]
	if !ok {
		return nil, nil
	}
	cp := *chat
	return &cp, nil
}

func (c *chatOnlyClient) UpsertChat(_ context.Context, chat *db.Chat) error {
	cp := *chat
	c.chats[chat.ID] = &cp
	return nil
}

func TestEnsureChatCreatesWithDefaults(t *testing.T) {
	t.Parallel()
	client := newChatOnlyClient()
	s := NewService(nil, client)

	stored, err := s.EnsureChat(context.Background(), &api.Chat{ID: 42, Title: "lounge"})
	if err != nil {
		t.Fatalf("ensure chat: %v", err)
	}
	if !stored.VerificationEnabled || !stored.WelcomeEnabled {
		t.Fatalf("expected defaults enabled, got %+v", stored)
	}
	if client.chats[42] == nil {
		t.Fatal("chat was not persisted")
	}
}

func TestEnsureChatRefreshesTitle(t *testing.T) {
	t.Parallel()
	client := newChatOnlyClient()
	s := NewService(nil, client)

	if _, err := s.EnsureChat(context.Background(), &api.Chat{ID: 42, Title: "old"}); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	stored, err := s.EnsureChat(context.Background(), &api.Chat{ID: 42, Title: "new"})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if stored.Title != "new" || client.chats[42].Title != "new" {
		t.Fatalf("title not refreshed: %+v", stored)
	}
}
