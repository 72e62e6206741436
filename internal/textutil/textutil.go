// Package textutil provides text cleanup and degenerate-text predicates used
// before language detection and pseudonymization.
//
// A text is "degenerate" when submitting it to a language detector would be
// meaningless: it is empty after trimming, contains no alphanumeric rune,
// consists entirely of digits (ignoring punctuation and whitespace), entirely
// of email addresses, or entirely of URLs. Degenerate texts short-circuit to
// a null detection upstream.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

// Clean normalizes raw email content: split on newline, trim outer whitespace
// of every line, drop empty lines, rejoin with a single newline. The returned
// slice holds the retained lines in order.
func Clean(content string) (string, []string) {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), lines
}

// IsOnlyPunctuation reports whether text contains no alphanumeric rune.
func IsOnlyPunctuation(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// StripPunctuation removes every rune that is neither alphanumeric nor
// whitespace.
func StripPunctuation(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsOnlyNumbers reports whether text consists entirely of digits once
// punctuation and whitespace are ignored. Empty remainders do not count as
// numeric.
func IsOnlyNumbers(text string) bool {
	stripped := StripPunctuation(text)
	var b strings.Builder
	for _, r := range stripped {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsOnlyEmails reports whether every whitespace-separated token of text
// contains an "@". An empty or all-whitespace text yields false.
func IsOnlyEmails(text string) bool {
	tokens := strings.Fields(strings.TrimSpace(text))
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(tok, "@") {
			return false
		}
	}
	return true
}

// urlRe admits http/https/ftp/sftp/ftps/scp URLs with a domain and an
// optional port and path.
var urlRe = regexp.MustCompile(`^(?i)(?:https?|ftps?|sftp|scp)://[A-Za-z0-9][A-Za-z0-9.\-]*(?::\d+)?(?:/\S*)?$`)

// IsOnlyURLs reports whether every whitespace-separated token of text is a
// URL under the admitted scheme set.
func IsOnlyURLs(text string) bool {
	tokens := strings.Fields(strings.TrimSpace(text))
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !urlRe.MatchString(tok) {
			return false
		}
	}
	return true
}

// IsDegenerate reports whether text should bypass language detection
// entirely. See the package comment for the rule set.
func IsDegenerate(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	return IsOnlyPunctuation(trimmed) ||
		IsOnlyNumbers(trimmed) ||
		IsOnlyEmails(trimmed) ||
		IsOnlyURLs(trimmed)
}
