// Package telegram feeds Telegram chats into the intake machine.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/intake"
)

// Source is the transport name recorded on transactions.
const Source = "telegram"

// addressPrefix marks Telegram sender ids.
const addressPrefix = "telegram:"

// BotAPI is the subset of *tgbotapi.BotAPI used here.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Bot long-polls Telegram and answers each message with the intake reply.
type Bot struct {
	api     BotAPI
	handler intake.Handler
	log     zerolog.Logger

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
}

// Connect authenticates with the bot token.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram.Connect: %w", err)
	}
	return api, nil
}

func NewBot(api BotAPI, handler intake.Handler, log zerolog.Logger) *Bot {
	return &Bot{api: api, handler: handler, log: log, PollTimeout: 60}
}

// Run processes updates until ctx is cancelled. Messages are handled one
// at a time in arrival order.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info().Msg("telegram bot polling for updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate runs one update through intake and sends the reply.
// Non-text updates are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if msg.IsCommand() {
		// "/help@my_bot" arrives as command "help"
		text = msg.Command()
		if args := msg.CommandArguments(); args != "" {
			text += " " + args
		}
	}

	chatID := msg.Chat.ID
	log := b.log.With().Int64("chat_id", chatID).Logger()

	client := "telegram"
	if msg.From != nil && msg.From.UserName != "" {
		client = "telegram/" + msg.From.UserName
	}

	out, err := b.handler.HandleMessage(ctx, intake.Message{
		SenderID:   Address(chatID),
		Text:       text,
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
		Source:     Source,
		Metadata:   activation.RequestMetadata{Client: client},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to handle telegram message")
	}
	if out == nil || out.Reply == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, out.Reply)); err != nil {
		log.Error().Err(err).Msg("failed to send telegram reply")
	}
}

// Address is the sender id of a chat.
func Address(chatID int64) string {
	return addressPrefix + strconv.FormatInt(chatID, 10)
}

// ParseAddress extracts the chat id from a sender id.
func ParseAddress(addr string) (int64, error) {
	raw, ok := strings.CutPrefix(addr, addressPrefix)
	if !ok {
		return 0, fmt.Errorf("ParseAddress: %q is not a telegram address", addr)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ParseAddress: %w", err)
	}
	return id, nil
}

// Sender delivers outbound messages (reminders) to Telegram chats.
type Sender struct {
	api BotAPI
}

func NewSender(api BotAPI) *Sender {
	return &Sender{api: api}
}

func (s *Sender) Send(ctx context.Context, to, body string) error {
	chatID, err := ParseAddress(to)
	if err != nil {
		return fmt.Errorf("telegram.Send: %w", err)
	}
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, body)); err != nil {
		return fmt.Errorf("telegram.Send: %w", err)
	}
	return nil
}
