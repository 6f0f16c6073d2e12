package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/classifier"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/conversation"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// Deps are the collaborators of a Machine. Publisher, Reports and
// Taxonomy are optional.
type Deps struct {
	Gate         Gatekeeper
	Analyzer     Analyzer
	Transactions store.TransactionRepository
	Contexts     conversation.Store
	Reports      ReportGenerator
	Publisher    jobs.Publisher
	Taxonomy     *classifier.Taxonomy
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// Machine runs the intake state machine. It is safe for concurrent use;
// messages from the same user are handled one at a time.
type Machine struct {
	gate      Gatekeeper
	analyzer  Analyzer
	txs       store.TransactionRepository
	contexts  conversation.Store
	reports   ReportGenerator
	publisher jobs.Publisher
	taxonomy  *classifier.Taxonomy
	clock     clock.Clock
	cfg       Config
	log       zerolog.Logger
}

// New builds a Machine. Zero config values fall back to DefaultConfig.
func New(d Deps, cfg Config) *Machine {
	def := DefaultConfig()
	if !cfg.MaterialityThreshold.IsPositive() {
		cfg.MaterialityThreshold = def.MaterialityThreshold
	}
	if cfg.MaxFollowUpRetries < 1 {
		cfg.MaxFollowUpRetries = def.MaxFollowUpRetries
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = def.ContextTTL
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = def.DefaultCurrency
	}
	c := d.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Machine{
		gate:      d.Gate,
		analyzer:  d.Analyzer,
		txs:       d.Transactions,
		contexts:  d.Contexts,
		reports:   d.Reports,
		publisher: d.Publisher,
		taxonomy:  d.Taxonomy,
		clock:     c,
		cfg:       cfg,
		log:       d.Logger,
	}
}

// HandleMessage processes one inbound message and returns the reply to
// send. The returned error is for logging; Outcome.Reply is always set.
func (m *Machine) HandleMessage(ctx context.Context, msg Message) (*Outcome, error) {
	sender := domain.NormalizePhone(msg.SenderID)
	text := strings.TrimSpace(msg.Text)
	received := msg.ReceivedAt
	if received.IsZero() {
		received = m.clock.Now()
	}
	log := m.log.With().Str("sender", sender).Str("source", msg.Source).Logger()

	status, err := m.gate.CheckActivation(ctx, sender)
	if err != nil {
		log.Error().Err(err).Msg("activation check failed")
		return &Outcome{State: StateFailed, Reply: RetryReply}, err
	}
	if !status.Activated {
		return m.handleInactive(ctx, log, sender, text, msg.Metadata, status)
	}

	user := status.User
	log = log.With().Str("user_id", user.ID).Logger()
	if activation.IsTokenFormat(text) {
		return &Outcome{State: StateCommand, Reply: activation.AlreadyActiveReply, UserID: user.ID}, nil
	}

	key := conversation.Key{UserID: user.ID, Topic: conversation.TopicTransaction}
	out, err := m.handleLocked(ctx, log, user, key, text, msg.Source, received)
	if out.State == StateRecorded && out.Transaction != nil {
		m.queueExport(ctx, log, out.Transaction)
	}
	return out, err
}

// handleLocked runs the exchange while holding the user's context lock.
func (m *Machine) handleLocked(ctx context.Context, log zerolog.Logger, user *domain.User, key conversation.Key, text, source string, received time.Time) (*Outcome, error) {
	unlock := m.contexts.Lock(key)
	defer unlock()

	if cmd, ok := parseCommand(text); ok {
		return m.handleCommand(ctx, log, user, key, cmd, received)
	}

	if pending := m.contexts.Get(key); pending != nil {
		return m.handleFollowUp(ctx, log, user, key, pending, text, received)
	}
	return m.handleNew(ctx, log, user, key, text, source, received)
}

// queueExport publishes the export job of a recorded transaction. It runs
// after the context lock is released so a full queue only delays this
// request.
func (m *Machine) queueExport(ctx context.Context, log zerolog.Logger, tx *domain.Transaction) {
	if m.publisher == nil {
		return
	}
	job := &jobs.Job{Type: jobs.JobTypeExportTransaction, UserID: tx.UserID, TransactionID: tx.ID}
	if err := m.publisher.Publish(ctx, job); err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("failed to queue export")
	}
}

func (m *Machine) handleInactive(ctx context.Context, log zerolog.Logger, sender, text string, meta activation.RequestMetadata, status activation.Status) (*Outcome, error) {
	if status.Reason == activation.ReasonSubscriptionInactive {
		log.Info().Err(domain.ErrNotActivated).Msg("subscription inactive")
		out := &Outcome{State: StateNotActivated, Reply: activation.SubscriptionInactiveReply}
		if status.User != nil {
			out.UserID = status.User.ID
		}
		return out, nil
	}

	if !activation.IsTokenFormat(text) {
		log.Info().Err(domain.ErrNotActivated).Msg("unknown sender")
		return &Outcome{State: StateNotActivated, Reply: activation.OnboardingPrompt}, nil
	}

	user, err := m.gate.Activate(ctx, sender, text, meta)
	if err != nil {
		out := &Outcome{State: StateNotActivated, Reply: activation.ReplyForError(err)}
		if errors.Is(err, domain.ErrToken) {
			log.Info().Err(err).Msg("activation refused")
			return out, nil
		}
		log.Error().Err(err).Msg("activation failed")
		return out, err
	}
	log.Info().Str("user_id", user.ID).Msg("sender activated")
	return &Outcome{State: StateActivated, Reply: activation.ActivatedReply, UserID: user.ID}, nil
}

func (m *Machine) handleNew(ctx context.Context, log zerolog.Logger, user *domain.User, key conversation.Key, text, source string, received time.Time) (*Outcome, error) {
	if text == "" {
		return &Outcome{State: StateRejected, Reply: emptyMessageReply, UserID: user.ID}, nil
	}

	a := m.analyzer.Analyze(ctx, text)
	if !a.AmountFound {
		log.Info().Msg("rejected: no amount")
		return &Outcome{State: StateRejected, Reply: noAmountReply, UserID: user.ID}, nil
	}

	currency := a.Currency
	if currency == "" {
		currency = m.cfg.DefaultCurrency
	}
	tx := &domain.Transaction{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		Type:              a.Type,
		Amount:            a.Amount,
		Currency:          currency,
		Description:       text,
		CategoryCode:      a.Category.Code,
		CategoryLabel:     a.Category.Label,
		CounterpartyName:  a.Counterparty,
		CounterpartyRegID: a.RegID,
		DocumentDate:      a.DocumentDate,
		PaymentDate:       a.PaymentDate,
		VATRate:           a.VATRate,
		Source:            source,
		CreatedAt:         received,
	}
	if err := tx.Validate(); err != nil {
		log.Info().Err(err).Msg("rejected: invalid transaction")
		return &Outcome{State: StateRejected, Reply: validationReply(err), UserID: user.ID}, nil
	}

	missing := m.missingFields(tx)
	if len(missing) == 0 {
		return m.record(ctx, log, key, tx, received, "")
	}

	now := m.clock.Now()
	p := &conversation.Pending{
		Field:     missing[0],
		Partial:   tx,
		Question:  m.question(missing[0], tx),
		Remaining: missing[1:],
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.ContextTTL),
	}
	m.contexts.Save(key, p)
	log.Info().Str("field", p.Field).Str("category", tx.CategoryCode).Msg("asking for evidence")
	return &Outcome{State: StateNeedsInfo, Reply: p.Question, UserID: user.ID, Field: p.Field, Transaction: tx.Clone()}, nil
}

func (m *Machine) handleFollowUp(ctx context.Context, log zerolog.Logger, user *domain.User, key conversation.Key, p *conversation.Pending, text string, received time.Time) (*Outcome, error) {
	log = log.With().Str("field", p.Field).Logger()
	tx := p.Partial

	value, ok := parseAnswer(p.Field, text)
	if !ok {
		p.Retries++
		if p.Retries >= m.cfg.MaxFollowUpRetries {
			log.Info().Int("retries", p.Retries).Msg("giving up on follow-up")
			tx.IncompleteEvidence = true
			return m.record(ctx, log, key, tx, received, p.Field)
		}
		p.ExpiresAt = m.clock.Now().Add(m.cfg.ContextTTL)
		m.contexts.Save(key, p)
		reply := formatRetry(p.Field) + p.Question
		return &Outcome{State: StateNeedsInfo, Reply: reply, UserID: user.ID, Field: p.Field, Transaction: tx.Clone()}, nil
	}

	applyAnswer(tx, p.Field, value)
	if len(p.Remaining) > 0 {
		p.Field = p.Remaining[0]
		p.Remaining = p.Remaining[1:]
		p.Retries = 0
		p.Question = m.question(p.Field, tx)
		p.ExpiresAt = m.clock.Now().Add(m.cfg.ContextTTL)
		m.contexts.Save(key, p)
		return &Outcome{State: StateNeedsInfo, Reply: p.Question, UserID: user.ID, Field: p.Field, Transaction: tx.Clone()}, nil
	}
	return m.record(ctx, log, key, tx, received, "")
}

// record completes, scores and stores tx. skipped names the field that
// was given up on, if any. On failure any open context is left as it was
// so the user can resend.
func (m *Machine) record(ctx context.Context, log zerolog.Logger, key conversation.Key, tx *domain.Transaction, received time.Time, skipped string) (*Outcome, error) {
	if tx.DocumentDate == nil {
		d := dateOf(received)
		tx.DocumentDate = &d
	}
	if tx.VATRate.Valid && !tx.VATAmount.Valid {
		tx.VATAmount = decimal.NewNullDecimal(VATFromGross(tx.Amount, tx.VATRate.Decimal))
	}
	compliance.ScoreTransaction(tx).Apply(tx)

	if err := m.txs.CreateTransaction(ctx, tx); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to save transaction")
		return &Outcome{State: StateFailed, Reply: RetryReply, UserID: tx.UserID}, err
	}
	m.contexts.Clear(key)

	log.Info().
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Str("amount", tx.Amount.String()).
		Str("category", tx.CategoryCode).
		Int("score", tx.CompletenessScore).
		Str("risk", string(tx.RiskLevel)).
		Msg("transaction recorded")

	return &Outcome{
		State:       StateRecorded,
		Reply:       m.recordedReply(tx, skipped),
		UserID:      tx.UserID,
		Transaction: tx.Clone(),
	}, nil
}

func (m *Machine) handleCommand(ctx context.Context, log zerolog.Logger, user *domain.User, key conversation.Key, cmd command, received time.Time) (*Outcome, error) {
	out := &Outcome{State: StateCommand, UserID: user.ID}
	switch cmd {
	case cmdHelp:
		out.Reply = HelpReply
	case cmdCancel:
		if m.contexts.Get(key) == nil {
			out.Reply = nothingToCancel
			break
		}
		m.contexts.Clear(key)
		out.Reply = cancelledReply
	case cmdSummary:
		if m.reports == nil {
			out.Reply = HelpReply
			break
		}
		rep, err := m.reports.GenerateMonthlyReport(ctx, user.ID, received)
		if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
			log.Error().Err(err).Msg("failed to build summary")
			out.State = StateFailed
			out.Reply = RetryReply
			return out, err
		}
		out.Reply = rep.SummaryText()
	}
	return out, nil
}

// missingFields lists the evidence to ask for, in order. Expenses always
// need a counterparty name; anything above the materiality threshold also
// needs the registration ID.
func (m *Machine) missingFields(tx *domain.Transaction) []string {
	large := tx.Amount.GreaterThan(m.cfg.MaterialityThreshold)
	var out []string
	if tx.CounterpartyName == "" && (tx.Type == domain.TypeExpense || large) {
		out = append(out, domain.FieldCounterpartyName)
	}
	if large && tx.CounterpartyRegID == "" {
		out = append(out, domain.FieldCounterpartyRegID)
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// VATFromGross returns the VAT contained in a gross amount at rate percent,
// rounded to two decimals.
func VATFromGross(gross, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return gross.Mul(rate).Div(hundred.Add(rate)).Round(2)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
