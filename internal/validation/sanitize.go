// sanitize.go cleans free-text fields before they are sent to the accounting
// provider, whose schema rejects certain characters in description fields.
package validation

import (
	"regexp"
	"strings"
)

var (
	forbiddenChars = regexp.MustCompile(`[|]+`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// SanitizeDescription strips characters the provider rejects from an invoice
// row description and collapses runs of whitespace left behind. The result is
// stable: sanitizing an already-sanitized string returns it unchanged.
func SanitizeDescription(s string) string {
	s = forbiddenChars.ReplaceAllString(s, " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
