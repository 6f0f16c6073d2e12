package intake

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

type command string

const (
	cmdHelp    command = "help"
	cmdCancel  command = "cancel"
	cmdSummary command = "summary"
)

var commandAliases = map[string]command{
	"help":    cmdHelp,
	"start":   cmdHelp,
	"?":       cmdHelp,
	"cancel":  cmdCancel,
	"stop":    cmdCancel,
	"summary": cmdSummary,
	"report":  cmdSummary,
}

func parseCommand(text string) (command, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimPrefix(s, "/")
	cmd, ok := commandAliases[s]
	return cmd, ok
}

const maxNameLength = 120

var (
	namePrefixes = []string{"at ", "from ", "to ", "by ", "it was ", "vendor ", "customer "}
	regIDPrefix  = regexp.MustCompile(`(?i)^(ičo|ico|dič|dic|vat( id)?|reg( id)?|id)[:\s]*`)
	regIDPattern = regexp.MustCompile(`^[A-Z]{0,2}[0-9]{6,12}$`)
)

// parseAnswer validates a follow-up answer for field and returns the value
// to store.
func parseAnswer(field, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	switch field {
	case domain.FieldCounterpartyName:
		return parseName(text)
	case domain.FieldCounterpartyRegID:
		return parseRegID(text)
	}
	return text, true
}

func parseName(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p) {
			text = strings.TrimSpace(text[len(p):])
			break
		}
	}
	text = strings.TrimRight(text, ".!")
	if text == "" || utf8.RuneCountInString(text) > maxNameLength {
		return "", false
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			return text, true
		}
	}
	return "", false
}

func parseRegID(text string) (string, bool) {
	s := regIDPrefix.ReplaceAllString(strings.TrimSpace(text), "")
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if !regIDPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

func applyAnswer(tx *domain.Transaction, field, value string) {
	switch field {
	case domain.FieldCounterpartyName:
		tx.CounterpartyName = value
	case domain.FieldCounterpartyRegID:
		tx.CounterpartyRegID = value
	}
}

func formatRetry(field string) string {
	return fmt.Sprintf(retryPrefix, compliance.FieldLabel(field))
}
