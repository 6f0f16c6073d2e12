package classifier

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// amountPattern matches a number with optional thousands grouping (space,
// comma, dot or NBSP between groups of exactly three digits) and an
// optional one or two digit fraction. Group 1 is a directly preceding
// minus sign.
var amountPattern = regexp.MustCompile(`(-?)(\d{1,3}(?:[ ,.\x{00A0}]\d{3})+|\d+)(?:[.,](\d{1,2}))?`)

// ExtractAmount returns the first monetary value in text. Dates and
// registration IDs are skipped. found is false when text holds no numeric
// token; callers must not substitute a value.
func ExtractAmount(text string) (amount decimal.Decimal, found bool) {
	text = StripRegID(StripDates(text))
	for _, m := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if m[2] != m[3] {
			start = m[3] // judge the boundary on the digits, not the sign
		}
		if !numberBoundary(text, start, end) {
			continue
		}
		whole := stripGrouping(text[m[4]:m[5]])
		num := whole
		if m[6] >= 0 {
			num += "." + text[m[6]:m[7]]
		}
		v, err := decimal.NewFromString(num)
		if err != nil {
			continue
		}
		if m[2] != m[3] {
			v = v.Neg()
		}
		return v, true
	}
	return decimal.Decimal{}, false
}

// numberBoundary rejects numbers glued to letters ("CZ123", "x2") and
// percentages, which are rates rather than amounts.
func numberBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	rest := strings.TrimLeft(text[end:], " ")
	if strings.HasPrefix(rest, "%") {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(text[end:]); unicode.IsDigit(r) {
		return false
	}
	return true
}

func stripGrouping(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ',', '.', '\u00a0':
			return -1
		}
		return r
	}, s)
}

var currencyPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(czk|kč|kc|eur|€|usd|\$|gbp|£|pln|zł)(?:[^\p{L}]|$)`)

// ExtractCurrency returns the ISO code of a currency mentioned in text, or
// an empty string.
func ExtractCurrency(text string) string {
	m := currencyPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	switch strings.ToLower(m[1]) {
	case "czk", "kč", "kc":
		return "CZK"
	case "eur", "€":
		return "EUR"
	case "usd", "$":
		return "USD"
	case "gbp", "£":
		return "GBP"
	case "pln", "zł":
		return "PLN"
	}
	return ""
}

var vatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,2}(?:[.,]\d{1,2})?)\s*%\s*(?:vat|dph)\b`),
	regexp.MustCompile(`(?i)\b(?:vat|dph)\s*:?\s*(\d{1,2}(?:[.,]\d{1,2})?)\b\s*%?`),
}

// ExtractVATRate finds a stated VAT rate in percent ("21% VAT", "VAT 21",
// "DPH 21%").
func ExtractVATRate(text string) (decimal.Decimal, bool) {
	for _, re := range vatPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
		if err != nil {
			continue
		}
		return v, true
	}
	return decimal.Decimal{}, false
}

// StripVAT removes VAT rate mentions so the rate is not mistaken for the
// amount.
func StripVAT(text string) string {
	for _, re := range vatPatterns {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

var counterpartyMarkers = map[string]bool{
	"at": true, "from": true, "by": true, "to": true, "u": true, "od": true, "v": true,
}

var counterpartyStops = map[string]bool{
	"for": true, "on": true, "with": true, "and": true, "in": true, "za": true,
	"na": true, "vat": true, "dph": true, "today": true, "yesterday": true,
	"ičo": true, "ico": true, "dič": true, "dic": true, "reg": true, "id": true,
	"paid": true, "zaplaceno": true,
}

// ExtractCounterparty returns the vendor or customer named after a marker
// word such as "at", "from" or "od". At most three words are taken; digits,
// currency tokens and connecting words end the name.
func ExtractCounterparty(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		if !counterpartyMarkers[strings.ToLower(w)] {
			continue
		}
		var name []string
		for _, next := range words[i+1:] {
			clean := strings.TrimRight(next, ",;:!?")
			lower := strings.ToLower(clean)
			if clean == "" || counterpartyStops[lower] || strings.ContainsAny(clean, "0123456789") || ExtractCurrency(clean) != "" {
				break
			}
			name = append(name, clean)
			if len(name) == 3 || clean != next {
				break
			}
		}
		if len(name) > 0 {
			return strings.Join(name, " ")
		}
	}
	return ""
}

// Registration IDs: Czech IČO (8 digits) or DIČ / VAT ID with a country
// prefix, introduced by a label.
var regIDPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:ičo|ico|dič|dic|vat\s*id|reg(?:istration)?\s*(?:no|id|number)?)\s*[:.]?\s*([a-z]{0,2}\s?\d{6,12})(?:\D|$)`)

// ExtractRegID returns the counterparty registration ID stated in text,
// upper-cased without spaces, or an empty string.
func ExtractRegID(text string) string {
	m := regIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(strings.Join(strings.Fields(m[1]), ""))
}

// StripRegID removes labelled registration IDs so they are not read as
// the amount.
func StripRegID(text string) string {
	for _, loc := range regIDPattern.FindAllStringSubmatchIndex(text, -1) {
		text = text[:loc[2]] + strings.Repeat(" ", loc[3]-loc[2]) + text[loc[3]:]
	}
	return text
}

// Dates: "15.10.2025", "15. 10. 2025", "15.10." and "2025-10-15".
var (
	dmyPattern = regexp.MustCompile(`(\d{1,2})\.\s?(\d{1,2})\.(?:\s?((?:19|20)\d{2}))?`)
	isoPattern = regexp.MustCompile(`((?:19|20)\d{2})-(\d{2})-(\d{2})`)
)

// paymentMarkers introduce a payment date rather than a document date.
var paymentMarkers = []string{"paid", "paid on", "payment date", "zaplaceno", "uhrazeno"}

type dateMention struct {
	start, end int
	year       int // 0 when the text gave none
	month      time.Month
	day        int
}

func (d dateMention) resolve(now time.Time) time.Time {
	if d.year != 0 {
		return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
	}
	t := time.Date(now.Year(), d.month, d.day, 0, 0, 0, 0, time.UTC)
	if t.After(now.AddDate(0, 0, 1)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t
}

func findDates(text string) []dateMention {
	var out []dateMention
	for _, m := range dmyPattern.FindAllStringSubmatchIndex(text, -1) {
		year := 0
		if m[6] >= 0 {
			year, _ = strconv.Atoi(text[m[6]:m[7]])
		}
		day, _ := strconv.Atoi(text[m[2]:m[3]])
		month, _ := strconv.Atoi(text[m[4]:m[5]])
		if d, ok := newDateMention(text, m[0], m[1], year, month, day); ok {
			out = append(out, d)
		}
	}
	for _, m := range isoPattern.FindAllStringSubmatchIndex(text, -1) {
		year, _ := strconv.Atoi(text[m[2]:m[3]])
		month, _ := strconv.Atoi(text[m[4]:m[5]])
		day, _ := strconv.Atoi(text[m[6]:m[7]])
		if d, ok := newDateMention(text, m[0], m[1], year, month, day); ok {
			out = append(out, d)
		}
	}
	return out
}

// newDateMention rejects matches glued to other digits or dots and
// impossible calendar dates ("10.50.", "31.02.").
func newDateMention(text string, start, end, year, month, day int) (dateMention, bool) {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsDigit(r) || unicode.IsLetter(r) || r == '.' || r == ',' {
			return dateMention{}, false
		}
	}
	if r, _ := utf8.DecodeRuneInString(text[end:]); unicode.IsDigit(r) {
		return dateMention{}, false
	}
	check := year
	if check == 0 {
		check = 2000 // leap year, so 29.02. without a year is accepted
	}
	t := time.Date(check, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if month < 1 || month > 12 || t.Day() != day || t.Month() != time.Month(month) {
		return dateMention{}, false
	}
	return dateMention{start: start, end: end, year: year, month: time.Month(month), day: day}, true
}

// ExtractDates returns the document date and payment date stated in text.
// A date introduced by "paid" (or "zaplaceno") is the payment date; the
// first other date is the document date. A date without a year takes the
// year of now, or the year before when it would otherwise lie in the
// future.
func ExtractDates(text string, now time.Time) (document, payment *time.Time) {
	for _, d := range findDates(text) {
		t := d.resolve(now)
		if isPaymentDate(text[:d.start]) {
			if payment == nil {
				payment = &t
			}
			continue
		}
		if document == nil {
			document = &t
		}
	}
	return document, payment
}

func isPaymentDate(before string) bool {
	before = strings.ToLower(strings.TrimRight(before, " :"))
	for _, marker := range paymentMarkers {
		if !strings.HasSuffix(before, marker) {
			continue
		}
		rest := before[:len(before)-len(marker)]
		if r, _ := utf8.DecodeLastRuneInString(rest); rest == "" || !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// StripDates removes date mentions so a day or year is not read as the
// amount.
func StripDates(text string) string {
	for _, d := range findDates(text) {
		text = text[:d.start] + strings.Repeat(" ", d.end-d.start) + text[d.end:]
	}
	return text
}
