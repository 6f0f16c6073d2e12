package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/api/middleware"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/intake"
	"github.com/dvloznov/bookkeeper/internal/messaging"
)

// WhatsAppSource is the transport name recorded on WhatsApp transactions.
const WhatsAppSource = "whatsapp"

// DedupeWindow is how long a MessageSid is remembered.
const DedupeWindow = 24 * time.Hour

// MessageDeduper remembers the reply sent for each provider message id so
// redelivered webhooks are answered without reprocessing. An id is claimed
// before processing; overlapping deliveries of the same id wait for the
// first one to finish.
type MessageDeduper struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	seen   map[string]dedupeEntry
	writes int
}

type dedupeEntry struct {
	reply string
	at    time.Time
	done  chan struct{} // non-nil while the claiming delivery is in flight
}

func NewMessageDeduper(c clock.Clock, window time.Duration) *MessageDeduper {
	if window <= 0 {
		window = DedupeWindow
	}
	return &MessageDeduper{clock: c, window: window, seen: make(map[string]dedupeEntry)}
}

// Lookup returns the reply recorded for id within the window. Ids still
// being processed are not reported.
func (d *MessageDeduper) Lookup(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.current(id)
	if !ok || e.done != nil {
		return "", false
	}
	return e.reply, true
}

// Claim reserves id for processing. If id was already answered it returns
// that reply with duplicate set. If another delivery holds the claim, Claim
// waits until it is remembered or released, or until ctx ends.
func (d *MessageDeduper) Claim(ctx context.Context, id string) (reply string, duplicate bool, err error) {
	for {
		d.mu.Lock()
		e, ok := d.current(id)
		if !ok {
			d.seen[id] = dedupeEntry{at: d.clock.Now(), done: make(chan struct{})}
			d.mu.Unlock()
			return "", false, nil
		}
		if e.done == nil {
			d.mu.Unlock()
			return e.reply, true, nil
		}
		wait := e.done
		d.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Remember records the reply for id and completes its claim. Expired ids
// are swept every 256 writes.
func (d *MessageDeduper) Remember(id, reply string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	if e, ok := d.seen[id]; ok && e.done != nil {
		close(e.done)
	}
	d.seen[id] = dedupeEntry{reply: reply, at: now}
	d.writes++
	if d.writes%256 == 0 {
		for k, e := range d.seen {
			if e.done == nil && now.Sub(e.at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
}

// Release drops an unfinished claim so the next delivery of id is
// processed again. It is a no-op once the reply is remembered.
func (d *MessageDeduper) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.seen[id]; ok && e.done != nil {
		close(e.done)
		delete(d.seen, id)
	}
}

// current returns the live entry for id, dropping it when expired. The
// caller holds d.mu.
func (d *MessageDeduper) current(id string) (dedupeEntry, bool) {
	e, ok := d.seen[id]
	if !ok {
		return e, false
	}
	if e.done == nil && d.clock.Now().Sub(e.at) >= d.window {
		delete(d.seen, id)
		return e, false
	}
	return e, true
}

func (d *MessageDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// WhatsAppHandler answers Twilio's inbound message webhook with TwiML.
type WhatsAppHandler struct {
	intake intake.Handler
	dedupe *MessageDeduper
	clock  clock.Clock
	log    zerolog.Logger
}

func NewWhatsAppHandler(h intake.Handler, dedupe *MessageDeduper, c clock.Clock, log zerolog.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{intake: h, dedupe: dedupe, clock: c, log: log}
}

// Receive handles POST /webhooks/whatsapp (From, Body, MessageSid).
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	sid := r.PostForm.Get("MessageSid")
	if from == "" {
		middleware.WriteError(w, http.StatusBadRequest, "From is required")
		return
	}

	log := h.log.With().Str("message_sid", sid).Logger()
	if sid != "" {
		reply, duplicate, err := h.dedupe.Claim(r.Context(), sid)
		if err != nil {
			log.Warn().Err(err).Msg("gave up waiting for an overlapping delivery")
			h.write(w, log, intake.RetryReply)
			return
		}
		if duplicate {
			log.Info().Msg("duplicate webhook delivery, replaying reply")
			h.write(w, log, reply)
			return
		}
		defer h.dedupe.Release(sid)
	}

	out, err := h.intake.HandleMessage(r.Context(), intake.Message{
		SenderID:   from,
		Text:       body,
		ReceivedAt: h.clock.Now(),
		Source:     WhatsAppSource,
		Metadata: activation.RequestMetadata{
			SourceIP: middleware.ClientIP(r),
			Client:   r.UserAgent(),
		},
	})
	reply := intake.RetryReply
	if out != nil {
		reply = out.Reply
	}
	if err != nil {
		// not remembered, so a redelivery is processed again
		log.Error().Err(err).Msg("failed to handle WhatsApp message")
	} else if sid != "" {
		h.dedupe.Remember(sid, reply)
	}
	if out != nil {
		log.Info().Str("state", string(out.State)).Msg("handled WhatsApp message")
	}
	h.write(w, log, reply)
}

func (h *WhatsAppHandler) write(w http.ResponseWriter, log zerolog.Logger, reply string) {
	if err := messaging.WriteTwiML(w, reply); err != nil {
		log.Error().Err(err).Msg("failed to write TwiML reply")
	}
}
