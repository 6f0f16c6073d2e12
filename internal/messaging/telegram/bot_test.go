package telegram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/intake"
)

type MockBotAPI struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
	stopped bool
	SendErr error
}

func newMockBotAPI() *MockBotAPI {
	return &MockBotAPI{updates: make(chan tgbotapi.Update, 10)}
}

func (m *MockBotAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *MockBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg)
	}
	return tgbotapi.Message{}, m.SendErr
}

func (m *MockBotAPI) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *MockBotAPI) Sent() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), m.sent...)
}

type MockHandler struct {
	HandleMessageFunc func(ctx context.Context, msg intake.Message) (*intake.Outcome, error)
	received          []intake.Message
}

func (m *MockHandler) HandleMessage(ctx context.Context, msg intake.Message) (*intake.Outcome, error) {
	m.received = append(m.received, msg)
	if m.HandleMessageFunc != nil {
		return m.HandleMessageFunc(ctx, msg)
	}
	return &intake.Outcome{State: intake.StateRecorded, Reply: "ok: " + msg.Text}, nil
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{UserName: "jana"},
		Date: int(time.Date(2025, 5, 14, 9, 30, 0, 0, time.UTC).Unix()),
		Text: text,
	}}
}

func TestHandleUpdate(t *testing.T) {
	api := newMockBotAPI()
	h := &MockHandler{}
	bot := NewBot(api, h, zerolog.New(io.Discard))

	bot.HandleUpdate(context.Background(), textUpdate(42, "gasoline 500"))

	if len(h.received) != 1 {
		t.Fatalf("handler received %d messages", len(h.received))
	}
	got := h.received[0]
	if got.SenderID != "telegram:42" || got.Source != Source || got.Text != "gasoline 500" {
		t.Errorf("message = %+v", got)
	}
	if got.Metadata.Client != "telegram/jana" {
		t.Errorf("client = %q", got.Metadata.Client)
	}
	sent := api.Sent()
	if len(sent) != 1 || sent[0].ChatID != 42 || sent[0].Text != "ok: gasoline 500" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestHandleUpdate_Command(t *testing.T) {
	api := newMockBotAPI()
	h := &MockHandler{}
	bot := NewBot(api, h, zerolog.New(io.Discard))

	u := textUpdate(7, "/help@books_bot")
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/help@books_bot")}}
	bot.HandleUpdate(context.Background(), u)

	if h.received[0].Text != "help" {
		t.Errorf("text = %q, want help", h.received[0].Text)
	}
}

func TestHandleUpdate_ErrorStillReplies(t *testing.T) {
	api := newMockBotAPI()
	h := &MockHandler{HandleMessageFunc: func(ctx context.Context, msg intake.Message) (*intake.Outcome, error) {
		return &intake.Outcome{State: intake.StateFailed, Reply: intake.RetryReply}, errors.New("db down")
	}}
	bot := NewBot(api, h, zerolog.New(io.Discard))

	bot.HandleUpdate(context.Background(), textUpdate(1, "coffee 80"))
	if sent := api.Sent(); len(sent) != 1 || sent[0].Text != intake.RetryReply {
		t.Errorf("sent = %+v", sent)
	}
}

func TestHandleUpdate_IgnoresNonMessages(t *testing.T) {
	api := newMockBotAPI()
	h := &MockHandler{}
	NewBot(api, h, zerolog.New(io.Discard)).HandleUpdate(context.Background(), tgbotapi.Update{})
	if len(h.received) != 0 || len(api.Sent()) != 0 {
		t.Error("empty update was processed")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	api := newMockBotAPI()
	h := &MockHandler{}
	bot := NewBot(api, h, zerolog.New(io.Discard))
	api.updates <- textUpdate(5, "coffee 80")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(api.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("update was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("StopReceivingUpdates not called")
	}
}

func TestAddress(t *testing.T) {
	if got := Address(-100123); got != "telegram:-100123" {
		t.Errorf("Address() = %q", got)
	}
	id, err := ParseAddress("telegram:-100123")
	if err != nil || id != -100123 {
		t.Errorf("ParseAddress() = %d, %v", id, err)
	}
	if _, err := ParseAddress("+420777"); err == nil {
		t.Error("expected error for phone address")
	}
}

func TestSender(t *testing.T) {
	api := newMockBotAPI()
	s := NewSender(api)
	if err := s.Send(context.Background(), "telegram:9", "reminder"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent := api.Sent(); len(sent) != 1 || sent[0].ChatID != 9 {
		t.Errorf("sent = %+v", sent)
	}
}
