// Package sanitize normalizes user supplied text before it is stored
package sanitize

import (
	"strings"
	"unicode"
)

// StripControlCharacters removes every control character
func StripControlCharacters(input string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// Text prepares a message body: control characters other than newline and tab
// are dropped, invalid UTF-8 is replaced and surrounding whitespace is trimmed
func Text(input string) string {
	input = strings.ToValidUTF8(input, "\ufffd")
	input = strings.ReplaceAll(input, "\r\n", "\n")
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\u200b' || r == '\ufeff' {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}

// Name prepares a single-line label such as a group or channel name: control
// characters are dropped and whitespace runs collapse to one space
func Name(input string) string {
	input = strings.ToValidUTF8(input, "")
	return strings.Join(strings.Fields(StripControlCharacters(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		return r
	}, input))), " ")
}
