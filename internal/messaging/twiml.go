package messaging

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// TwiMLReply renders a messaging response containing one message.
// An empty body renders an empty response, which sends nothing.
func TwiMLReply(body string) (string, error) {
	var elems []twiml.Element
	if body != "" {
		elems = append(elems, &twiml.MessagingMessage{Body: body})
	}
	out, err := twiml.Messages(elems)
	if err != nil {
		return "", fmt.Errorf("TwiMLReply: %w", err)
	}
	return out, nil
}

// WriteTwiML writes a TwiML reply with the XML content type.
func WriteTwiML(w http.ResponseWriter, body string) error {
	out, err := TwiMLReply(body)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write([]byte(out))
	return err
}

// ValidateTwilioSignature rejects webhook requests whose signature does not
// match the auth token. baseURL is the public scheme and host Twilio calls,
// since the server may sit behind a proxy.
func ValidateTwilioSignature(authToken, baseURL string, log zerolog.Logger) func(http.Handler) http.Handler {
	validator := client.NewRequestValidator(authToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}
			params := FormParams(r)
			url := baseURL + r.URL.RequestURI()
			if !validator.Validate(url, params, r.Header.Get(SignatureHeader)) {
				log.Warn().Str("url", url).Msg("rejected webhook with invalid Twilio signature")
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FormParams flattens the POST form to the map the validator signs.
// Repeated keys keep their first value.
func FormParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	return params
}
