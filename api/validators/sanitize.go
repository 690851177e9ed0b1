package validators

import (
	"strings"

	"github.com/samber/lo"
)

// SanitizeString trims surrounding whitespace and truncates to maxLen bytes
// when maxLen is positive.
func SanitizeString(input string, maxLen int) string {
	out := strings.TrimSpace(input)
	if maxLen <= 0 || len(out) <= maxLen {
		return out
	}
	return out[:maxLen]
}

// SanitizeList sanitizes every entry, drops blanks and keeps the first
// occurrence of duplicates. A nil list stays nil so callers can tell
// "unchanged" from "cleared".
func SanitizeList(values []string, maxLen int) []string {
	if values == nil {
		return nil
	}
	cleaned := lo.FilterMap(values, func(v string, _ int) (string, bool) {
		s := SanitizeString(v, maxLen)
		return s, s != ""
	})
	return lo.Uniq(cleaned)
}
