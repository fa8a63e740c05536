package services

import (
	"regexp"
	"strings"
)

const (
	redactionMarker = "***"
	linkPlaceholder = "[link]"
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	phonePattern   = regexp.MustCompile(`\+?[0-9]{10,}`)
	paymentPattern = regexp.MustCompile(`(?i)(?:payment|pay|money|wallet|account|card|credit|debit)`)
)

// FilterResult is a chat body after redaction.
type FilterResult struct {
	Body         string
	PhonesMasked []string
	LinksMasked  []string
	Redacted     bool
}

// FilterContent strips links, phone numbers and payment talk from a chat
// body. Links go first so digits inside URLs are not read as phones.
func FilterContent(body string) FilterResult {
	var out FilterResult

	links := urlPattern.FindAllString(body, -1)
	for range links {
		out.LinksMasked = append(out.LinksMasked, redactionMarker)
	}
	body = urlPattern.ReplaceAllString(body, linkPlaceholder)

	for _, phone := range phonePattern.FindAllString(body, -1) {
		out.PhonesMasked = append(out.PhonesMasked, maskPhone(phone))
	}
	body = phonePattern.ReplaceAllString(body, redactionMarker)

	filtered := paymentPattern.ReplaceAllString(body, redactionMarker)

	out.Redacted = len(links) > 0 || len(out.PhonesMasked) > 0 || filtered != body
	out.Body = strings.TrimSpace(filtered)
	return out
}

// maskPhone keeps the first and last two characters.
func maskPhone(s string) string {
	if len(s) < 4 {
		return redactionMarker
	}
	return s[:2] + redactionMarker + s[len(s)-2:]
}
