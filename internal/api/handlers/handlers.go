package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/api/middleware"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// TransactionView is the JSON shape of a recorded transaction.
type TransactionView struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"user_id"`
	Type               string              `json:"type"`
	Amount             decimal.Decimal     `json:"amount"`
	Currency           string              `json:"currency"`
	Description        string              `json:"description"`
	CategoryCode       string              `json:"category_code"`
	CategoryLabel      string              `json:"category_label"`
	CounterpartyName   string              `json:"counterparty_name,omitempty"`
	CounterpartyRegID  string              `json:"counterparty_reg_id,omitempty"`
	DocumentDate       string              `json:"document_date,omitempty"`
	PaymentDate        string              `json:"payment_date,omitempty"`
	VATRate            decimal.NullDecimal `json:"vat_rate"`
	VATAmount          decimal.NullDecimal `json:"vat_amount"`
	CompletenessScore  int                 `json:"completeness_score"`
	RiskLevel          string              `json:"risk_level"`
	MissingRequired    []string            `json:"missing_required"`
	MissingRecommended []string            `json:"missing_recommended"`
	IncompleteEvidence bool                `json:"incomplete_evidence"`
	Source             string              `json:"source"`
	CreatedAt          time.Time           `json:"created_at"`
}

func viewOf(tx *domain.Transaction) TransactionView {
	v := TransactionView{
		ID:                 tx.ID,
		UserID:             tx.UserID,
		Type:               string(tx.Type),
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		Description:        tx.Description,
		CategoryCode:       tx.CategoryCode,
		CategoryLabel:      tx.CategoryLabel,
		CounterpartyName:   tx.CounterpartyName,
		CounterpartyRegID:  tx.CounterpartyRegID,
		VATRate:            tx.VATRate,
		VATAmount:          tx.VATAmount,
		CompletenessScore:  tx.CompletenessScore,
		RiskLevel:          string(tx.RiskLevel),
		MissingRequired:    nonNil(tx.MissingRequired),
		MissingRecommended: nonNil(tx.MissingRecommended),
		IncompleteEvidence: tx.IncompleteEvidence,
		Source:             tx.Source,
		CreatedAt:          tx.CreatedAt,
	}
	if tx.DocumentDate != nil {
		v.DocumentDate = tx.DocumentDate.Format("2006-01-02")
	}
	if tx.PaymentDate != nil {
		v.PaymentDate = tx.PaymentDate.Format("2006-01-02")
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// monthParam reads ?month=YYYY-MM, defaulting to the current month.
func monthParam(r *http.Request, c clock.Clock) (time.Time, error) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		now := c.Now()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return store.ParseMonth(raw)
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	txs   store.TransactionRepository
	clock clock.Clock
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(txs store.TransactionRepository, c clock.Clock, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{txs: txs, clock: c, log: log}
}

// ListTransactions handles GET /api/transactions?user_id=&month=
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	month, err := monthParam(r, h.clock)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month format, expected YYYY-MM")
		return
	}

	from, to := store.MonthRange(month)
	txs, err := h.txs.ListTransactions(ctx, userID, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	views := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, viewOf(tx))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"count":        len(views),
		"month":        from.Format("2006-01"),
	})
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, id string) {
	tx, err := h.txs.GetTransaction(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", id).Msg("Failed to get transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewOf(tx))
}

// ReportGenerator builds monthly compliance reports.
type ReportGenerator interface {
	GenerateMonthlyReport(ctx context.Context, userID string, month time.Time) (*compliance.Report, error)
}

// ReportsHandler handles compliance report endpoints.
type ReportsHandler struct {
	reports   ReportGenerator
	publisher jobs.Publisher
	clock     clock.Clock
	log       zerolog.Logger
}

func NewReportsHandler(reports ReportGenerator, publisher jobs.Publisher, c clock.Clock, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{reports: reports, publisher: publisher, clock: c, log: log}
}

// MonthlyReport handles GET /api/reports/monthly?user_id=&month=
// A month without transactions yields a zeroed report, not an error.
func (h *ReportsHandler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	month, err := monthParam(r, h.clock)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month format, expected YYYY-MM")
		return
	}

	report, err := h.reports.GenerateMonthlyReport(r.Context(), userID, month)
	if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to generate report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to generate report")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// ArchiveReport handles POST /api/reports/archive {user_id, month}
func (h *ReportsHandler) ArchiveReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Month  string `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Month == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id and month are required")
		return
	}
	if _, err := store.ParseMonth(req.Month); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month format, expected YYYY-MM")
		return
	}

	job := &jobs.Job{Type: jobs.JobTypeArchiveReport, UserID: req.UserID, Month: req.Month}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue archive job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue archive job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", req.UserID).Str("month", req.Month).Msg("Archive job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		UserID: query.Get("user_id"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
