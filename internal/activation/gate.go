// Package activation decides whether a sender may use the bookkeeping
// features and binds a phone number to an account on first contact.
package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// DefaultTokenTTL is how long an issued activation token stays valid.
const DefaultTokenTTL = 48 * time.Hour

// Reasons reported by CheckActivation.
const (
	ReasonOK                   = "ok"
	ReasonUnknownSender        = "unknown_sender"
	ReasonSubscriptionInactive = "subscription_inactive"
)

// Status is the result of CheckActivation.
type Status struct {
	Activated bool
	Reason    string
	User      *domain.User
}

// RequestMetadata is recorded in the activation audit trail.
type RequestMetadata struct {
	SourceIP string
	Client   string
}

// Issued is returned to the billing flow. Token is the only copy of the
// plaintext and must be delivered to the customer.
type Issued struct {
	User  *domain.User
	Token string
}

// Gate is the activation service.
type Gate struct {
	users    store.UserRepository
	clock    clock.Clock
	tokenTTL time.Duration
	log      zerolog.Logger
}

func NewGate(users store.UserRepository, c clock.Clock, tokenTTL time.Duration, log zerolog.Logger) *Gate {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Gate{users: users, clock: c, tokenTTL: tokenTTL, log: log}
}

// Issue creates a not-yet-activated account with a fresh token.
func (g *Gate) Issue(ctx context.Context, email string, sub domain.SubscriptionStatus) (*Issued, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ValidationError{Field: "email", Reason: "must be an e-mail address"}
	}
	if sub == "" {
		sub = domain.SubscriptionTrial
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("Issue: %w", err)
	}
	now := g.clock.Now()
	u := &domain.User{
		ID:             uuid.NewString(),
		Email:          email,
		TokenHash:      HashToken(token),
		TokenExpiresAt: now.Add(g.tokenTTL),
		Subscription:   sub,
		CreatedAt:      now,
	}
	if err := g.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("Issue: create user: %w", err)
	}

	g.log.Info().Str("user_id", u.ID).Time("expires_at", u.TokenExpiresAt).Msg("activation token issued")
	return &Issued{User: u, Token: token}, nil
}

// Reissue replaces the token of an account that has not been activated.
func (g *Gate) Reissue(ctx context.Context, userID string) (*Issued, error) {
	u, err := g.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Reissue: %w", err)
	}
	if u.Activated {
		return nil, domain.ErrAlreadyActivated
	}
	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("Reissue: %w", err)
	}
	u.TokenHash = HashToken(token)
	u.TokenExpiresAt = g.clock.Now().Add(g.tokenTTL)
	u.TokenUsedAt = nil
	if err := g.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("Reissue: update user: %w", err)
	}
	return &Issued{User: u, Token: token}, nil
}

// CheckActivation reports whether phone belongs to an activated account
// with a usable subscription.
func (g *Gate) CheckActivation(ctx context.Context, phone string) (Status, error) {
	u, err := g.users.FindUserByPhone(ctx, domain.NormalizePhone(phone))
	if errors.Is(err, domain.ErrNotFound) {
		return Status{Reason: ReasonUnknownSender}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("CheckActivation: %w", err)
	}
	if !u.Activated {
		return Status{Reason: ReasonUnknownSender, User: u}, nil
	}
	if !u.Subscription.Usable() {
		return Status{Reason: ReasonSubscriptionInactive, User: u}, nil
	}
	return Status{Activated: true, Reason: ReasonOK, User: u}, nil
}

// Activate binds phone to the account owning token.
func (g *Gate) Activate(ctx context.Context, phone, token string, meta RequestMetadata) (*domain.User, error) {
	phone = domain.NormalizePhone(phone)
	log := g.log.With().Str("sender", phone).Str("source_ip", meta.SourceIP).Logger()

	if !IsTokenFormat(token) {
		log.Info().Msg("activation rejected: malformed token")
		return nil, domain.ErrTokenNotFound
	}
	hash := HashToken(token)

	u, err := g.users.FindUserByTokenHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("activation rejected: unknown token")
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Activate: find token: %w", err)
	}
	// A consumed token no longer exists, even after its expiry.
	if u.TokenUsedAt != nil {
		log.Info().Str("user_id", u.ID).Msg("activation rejected: token already used")
		return nil, domain.ErrTokenNotFound
	}

	now := g.clock.Now()
	if !now.Before(u.TokenExpiresAt) {
		log.Info().Str("user_id", u.ID).Msg("activation rejected: token expired")
		return nil, domain.ErrTokenExpired
	}
	if u.Activated {
		return nil, domain.ErrAlreadyActivated
	}

	bound, err := g.users.FindUserByPhone(ctx, phone)
	switch {
	case err == nil && bound.ID != u.ID:
		log.Warn().Str("user_id", u.ID).Str("bound_user_id", bound.ID).Msg("activation rejected: phone bound to another account")
		return nil, domain.ErrAlreadyActivated
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("Activate: find phone: %w", err)
	}

	err = g.users.ActivateUser(ctx, store.ActivateParams{
		UserID:    u.ID,
		TokenHash: hash,
		Phone:     phone,
		At:        now,
		SourceIP:  meta.SourceIP,
		Client:    meta.Client,
		AuditID:   uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrToken) {
			log.Info().Err(err).Str("user_id", u.ID).Msg("activation lost a race")
			return nil, err
		}
		return nil, fmt.Errorf("Activate: %w", err)
	}

	u.Phone = phone
	u.Activated = true
	u.ActivatedAt = &now
	u.TokenUsedAt = &now
	log.Info().Str("user_id", u.ID).Msg("account activated")
	return u, nil
}
