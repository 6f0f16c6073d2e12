// Package messaging delivers outbound texts and adapts the Twilio WhatsApp
// webhook protocol.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender delivers a text to a sender address ("+420...", "telegram:123").
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// MessageCreator is the part of the Twilio REST client used for sending.
type MessageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioSender sends WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api  MessageCreator
	from string
	log  zerolog.Logger
}

// NewTwilioSender builds a sender for the given account. from is the
// WhatsApp-enabled number, with or without the "whatsapp:" prefix.
func NewTwilioSender(accountSID, authToken, from string, log zerolog.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewTwilioSenderWithAPI(client.Api, from, log)
}

func NewTwilioSenderWithAPI(api MessageCreator, from string, log zerolog.Logger) *TwilioSender {
	return &TwilioSender{api: api, from: WhatsAppAddress(from), log: log}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("TwilioSender.Send: %w", err)
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(WhatsAppAddress(to))
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("TwilioSender.Send: %w", err)
	}
	if msg != nil && msg.Sid != nil {
		s.log.Debug().Str("to", to).Str("sid", *msg.Sid).Msg("sent WhatsApp message")
	}
	return nil
}

// WhatsAppAddress adds the "whatsapp:" channel prefix Twilio expects.
func WhatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// Router picks a Sender by address: "telegram:" addresses go to the
// Telegram sender, everything else to the default.
type Router struct {
	Default  Sender
	Telegram Sender
}

func (r *Router) Send(ctx context.Context, to, body string) error {
	if strings.HasPrefix(to, "telegram:") {
		if r.Telegram == nil {
			return fmt.Errorf("Router.Send: no telegram sender configured for %s", to)
		}
		return r.Telegram.Send(ctx, to, body)
	}
	if r.Default == nil {
		return fmt.Errorf("Router.Send: no sender configured for %s", to)
	}
	return r.Default.Send(ctx, to, body)
}

// LogSender only logs messages. Used when no transport is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(ctx context.Context, to, body string) error {
	s.Log.Info().Str("to", to).Str("body", body).Msg("outbound message (no transport configured)")
	return nil
}

// RecordingSender keeps every message in memory.
type RecordingSender struct {
	mu   sync.Mutex
	sent []Sent
}

// Sent is one message captured by RecordingSender.
type Sent struct {
	To   string
	Body string
}

func (s *RecordingSender) Send(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{To: to, Body: body})
	return nil
}

func (s *RecordingSender) Messages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}
