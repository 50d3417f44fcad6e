package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes extracted text before chunking: line endings become LF,
// control and non-printable runes are dropped, runs of horizontal whitespace
// collapse to one space and blank-line runs collapse to one paragraph break.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == unicode.ReplacementChar:
			return -1
		case unicode.IsControl(r) || !unicode.IsPrint(r) && !unicode.IsSpace(r):
			return -1
		}
		return r
	}, text)

	text = horizontalSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
