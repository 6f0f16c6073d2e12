package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type MockMessageCreator struct {
	CreateMessageFunc func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
	last              *twilioapi.CreateMessageParams
}

func (m *MockMessageCreator) CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
	m.last = params
	if m.CreateMessageFunc != nil {
		return m.CreateMessageFunc(params)
	}
	sid := "SM123"
	return &twilioapi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSender_Send(t *testing.T) {
	api := &MockMessageCreator{}
	s := NewTwilioSenderWithAPI(api, "+14155238886", zerolog.New(io.Discard))

	if err := s.Send(context.Background(), "+420777123456", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if *api.last.From != "whatsapp:+14155238886" {
		t.Errorf("From = %q", *api.last.From)
	}
	if *api.last.To != "whatsapp:+420777123456" {
		t.Errorf("To = %q", *api.last.To)
	}
	if *api.last.Body != "hello" {
		t.Errorf("Body = %q", *api.last.Body)
	}
}

func TestTwilioSender_SendError(t *testing.T) {
	api := &MockMessageCreator{
		CreateMessageFunc: func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
			return nil, errors.New("21211 invalid To")
		},
	}
	s := NewTwilioSenderWithAPI(api, "whatsapp:+1", zerolog.New(io.Discard))
	if err := s.Send(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRouter(t *testing.T) {
	wa, tg := &RecordingSender{}, &RecordingSender{}
	r := &Router{Default: wa, Telegram: tg}

	_ = r.Send(context.Background(), "+420777123456", "a")
	_ = r.Send(context.Background(), "telegram:42", "b")

	if len(wa.Messages()) != 1 || len(tg.Messages()) != 1 {
		t.Errorf("whatsapp=%v telegram=%v", wa.Messages(), tg.Messages())
	}
	if err := (&Router{Default: wa}).Send(context.Background(), "telegram:1", "x"); err == nil {
		t.Error("expected error without telegram sender")
	}
}

func TestTwiMLReply(t *testing.T) {
	out, err := TwiMLReply("Recorded 500.00 CZK")
	if err != nil {
		t.Fatalf("TwiMLReply() error = %v", err)
	}
	if !strings.Contains(out, "<Response>") || !strings.Contains(out, "<Message>Recorded 500.00 CZK</Message>") {
		t.Errorf("TwiMLReply() = %s", out)
	}

	empty, err := TwiMLReply("")
	if err != nil {
		t.Fatalf("TwiMLReply(\"\") error = %v", err)
	}
	if strings.Contains(empty, "<Message>") {
		t.Errorf("empty reply should not contain a message: %s", empty)
	}
}

// sign computes a Twilio request signature: HMAC-SHA1 over the URL
// followed by the sorted form keys and values.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	const token = "secret-token"
	const base = "https://bot.example.com"
	form := url.Values{"From": {"whatsapp:+420777123456"}, "Body": {"gasoline 500"}, "MessageSid": {"SM1"}}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := ValidateTwilioSignature(token, base, zerolog.New(io.Discard))(next)

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{name: "valid", signature: sign(token, base+"/webhooks/whatsapp", form), want: http.StatusNoContent},
		{name: "wrong token", signature: sign("other", base+"/webhooks/whatsapp", form), want: http.StatusForbidden},
		{name: "missing", signature: "", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set(SignatureHeader, tt.signature)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
