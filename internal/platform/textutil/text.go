package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText normalises operator free text: markup is stripped, the result is NFC normalised,
// control characters are dropped, whitespace is collapsed and the text is capped at maxRunes
// (no cap when maxRunes <= 0).
func CleanText(value string, maxRunes int) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	normalised := norm.NFC.String(stripped)

	var b strings.Builder
	b.Grow(len(normalised))
	pendingSpace := false
	count := 0
	for _, r := range normalised {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		if pendingSpace {
			if maxRunes > 0 && count+1 >= maxRunes {
				break
			}
			b.WriteByte(' ')
			count++
			pendingSpace = false
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// RuneLen counts user perceived characters of an already cleaned value.
func RuneLen(value string) int {
	return utf8.RuneCountInString(norm.NFC.String(value))
}
