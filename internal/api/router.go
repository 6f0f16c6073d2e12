// Package api assembles the HTTP surface: the WhatsApp webhook, the
// activation endpoint and the operator API.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/api/handlers"
	"github.com/dvloznov/bookkeeper/internal/api/middleware"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/intake"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/messaging"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// Paths reachable without the API key.
const (
	WebhookPath  = "/webhooks/whatsapp"
	ActivatePath = "/api/activate"
)

// Deps are the services behind the routes.
type Deps struct {
	Intake       intake.Handler
	Gate         handlers.Activator
	Transactions store.TransactionRepository
	Reports      handlers.ReportGenerator
	Publisher    jobs.Publisher
	JobStore     jobs.JobStore
	Deduper      *handlers.MessageDeduper
	Clock        clock.Clock
	Log          zerolog.Logger

	APIKey string

	// Twilio signature validation on the webhook; off when AuthToken is empty.
	TwilioAuthToken string
	PublicBaseURL   string
}

// NewRouter builds the routed and wrapped HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Deduper == nil {
		d.Deduper = handlers.NewMessageDeduper(d.Clock, handlers.DedupeWindow)
	}

	whatsapp := handlers.NewWhatsAppHandler(d.Intake, d.Deduper, d.Clock, d.Log)
	activationHandler := handlers.NewActivationHandler(d.Gate, d.Log)
	transactionsHandler := handlers.NewTransactionsHandler(d.Transactions, d.Clock, d.Log)
	reportsHandler := handlers.NewReportsHandler(d.Reports, d.Publisher, d.Clock, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Log)

	mux := http.NewServeMux()

	var webhook http.Handler = http.HandlerFunc(whatsapp.Receive)
	if d.TwilioAuthToken != "" {
		webhook = messaging.ValidateTwilioSignature(d.TwilioAuthToken, d.PublicBaseURL, d.Log)(webhook)
	}
	mux.Handle(WebhookPath, only(http.MethodPost, webhook.ServeHTTP))

	mux.Handle(ActivatePath, only(http.MethodPost, activationHandler.Activate))

	mux.Handle("/api/transactions", only(http.MethodGet, transactionsHandler.ListTransactions))
	mux.Handle("/api/transactions/", only(http.MethodGet, withID("/api/transactions/", transactionsHandler.GetTransaction)))

	mux.Handle("/api/reports/monthly", only(http.MethodGet, reportsHandler.MonthlyReport))
	mux.Handle("/api/reports/archive", only(http.MethodPost, reportsHandler.ArchiveReport))

	mux.Handle("/api/jobs", only(http.MethodGet, jobsHandler.ListJobs))
	mux.Handle("/api/jobs/", only(http.MethodGet, withID("/api/jobs/", jobsHandler.GetJob)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   d.Clock.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(
					middleware.Auth(d.APIKey, ActivatePath)(mux),
				),
			),
		),
	)
}

func only(method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	})
}

func withID(prefix string, h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" || strings.Contains(id, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "ID is required")
			return
		}
		h(w, r, id)
	}
}
