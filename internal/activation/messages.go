package activation

import (
	"errors"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const (
	OnboardingPrompt = "Welcome! This number is not linked to a bookkeeping account yet. " +
		"Please send the 32-character activation code from your signup e-mail to get started."

	SubscriptionInactiveReply = "Your subscription is no longer active, so new transactions cannot be recorded. " +
		"Renew it in your account settings and write again."

	ActivatedReply = "Your account is active. Send me a transaction like \"bought gasoline 1850 at Shell\" " +
		"or \"received payment 15000 from Acme\". Type \"help\" for more."

	AlreadyActiveReply = "This number is already activated. Just send me your transactions."

	tokenNotFoundReply   = "That activation code is not valid or has already been used. Please check your signup e-mail."
	tokenExpiredReply    = "That activation code has expired. Request a new one from your account page."
	alreadyActivatedText = "That account is already activated on another number. Contact support if this is unexpected."
	genericFailureReply  = "We could not activate your account right now. Please try again in a few minutes."
)

// ReplyForError maps an activation failure to the text sent to the user.
func ReplyForError(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return tokenExpiredReply
	case errors.Is(err, domain.ErrAlreadyActivated):
		return alreadyActivatedText
	case errors.Is(err, domain.ErrTokenNotFound):
		return tokenNotFoundReply
	default:
		return genericFailureReply
	}
}
