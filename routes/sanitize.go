package routes

import (
	"regexp"
	"strings"
)

var reMarkup = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips markup, collapses runs of whitespace and truncates
// to max bytes (0 = no limit).
func sanitizeText(s string, max int) string {
	s = reMarkup.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && len(s) > max {
		s = strings.TrimSpace(s[:max])
	}
	return s
}
