package conversation

import (
	"regexp"
	"strings"
)

var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// NormalizeOutbound collapses runs of three or more line breaks to two and
// trims surrounding whitespace. Normalizing already-normalized text returns
// the identical string.
func NormalizeOutbound(text string) string {
	return strings.TrimSpace(excessiveNewlines.ReplaceAllString(text, "\n\n"))
}
