package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/api/middleware"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

// Activator binds a phone number to the account owning a token.
type Activator interface {
	Activate(ctx context.Context, phone, token string, meta activation.RequestMetadata) (*domain.User, error)
}

// ActivationHandler exposes activation to the signup web flow.
type ActivationHandler struct {
	gate Activator
	log  zerolog.Logger
}

func NewActivationHandler(gate Activator, log zerolog.Logger) *ActivationHandler {
	return &ActivationHandler{gate: gate, log: log}
}

// Activate handles POST /api/activate {phone, token}
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	phone := domain.NormalizePhone(req.Phone)
	if phone == "" || strings.TrimSpace(req.Token) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "phone and token are required")
		return
	}
	if !activation.IsTokenFormat(req.Token) {
		middleware.WriteError(w, http.StatusBadRequest, "token must be a 32-character activation code")
		return
	}

	user, err := h.gate.Activate(r.Context(), phone, req.Token, activation.RequestMetadata{
		SourceIP: middleware.ClientIP(r),
		Client:   r.UserAgent(),
	})
	if err != nil {
		status := statusForActivation(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("Activation failed")
		}
		middleware.WriteError(w, status, activation.ReplyForError(err))
		return
	}

	resp := map[string]interface{}{
		"user_id": user.ID,
		"phone":   user.Phone,
		"message": activation.ActivatedReply,
	}
	if user.ActivatedAt != nil {
		resp["activated_at"] = user.ActivatedAt
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func statusForActivation(err error) int {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrAlreadyActivated):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
