package domain

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// MaxTextLength is the stored size limit, in bytes, of free text fields.
const MaxTextLength = 500

// CleanText strips markup from operator-entered free text (return reasons,
// conditions, cancellation notes) before it is stored or printed.
func CleanText(s string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
	return truncate(cleaned, MaxTextLength)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
