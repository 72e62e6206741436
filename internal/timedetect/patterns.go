// Package timedetect finds multi-token date and time expressions in text by
// pattern matching over POS-tagged tokens, so detected numerics can be
// preserved during number redaction.
//
// Detection runs in five stages: multi-token pattern matching, overlap
// unification, a single-token pass (non-strict mode only), adjacency
// merging across connector tokens, and a final numeric filter that drops
// candidates without digits.
//
// Two modes exist. Non-strict accepts incomplete expressions (bare times,
// bare years). Strict requires a full calendar date followed by a time-like
// token; bare dates and standalone times are dropped by design.
package timedetect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ssciwr/mailcom/internal/nlp"
)

// ErrInvalidPattern marks a malformed or duplicate date pattern. Patterns
// are rejected at configuration time, never at run time.
var ErrInvalidPattern = errors.New("invalid date pattern")

// Constraint restricts a single token within a Pattern. The zero value
// matches any token. Fields combine conjunctively.
type Constraint struct {
	POS       []string       // allowed universal POS tags
	Text      string         // exact surface text
	TextRegex *regexp.Regexp // surface regex
	NotIn     []string       // forbidden surface texts
	IsPunct   bool           // token must be punctuation
	Optional  bool           // token may be absent
}

// Pattern is an ordered sequence of token constraints.
type Pattern []Constraint

// matches reports whether tok satisfies the non-quantifier parts of c.
func (c Constraint) matches(tok nlp.Token) bool {
	if c.IsPunct && !tok.IsPunct {
		return false
	}
	if c.Text != "" && tok.Text != c.Text {
		return false
	}
	if c.TextRegex != nil && !c.TextRegex.MatchString(tok.Text) {
		return false
	}
	for _, banned := range c.NotIn {
		if tok.Text == banned {
			return false
		}
	}
	if len(c.POS) > 0 {
		ok := false
		for _, pos := range c.POS {
			if tok.POS == pos {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// fingerprint renders a constraint canonically for duplicate detection.
func (c Constraint) fingerprint() string {
	re := ""
	if c.TextRegex != nil {
		re = c.TextRegex.String()
	}
	return fmt.Sprintf("pos=%v text=%q re=%q notin=%v punct=%v opt=%v",
		c.POS, c.Text, re, c.NotIn, c.IsPunct, c.Optional)
}

func (p Pattern) fingerprint() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.fingerprint()
	}
	return strings.Join(parts, " | ")
}

// validatePattern rejects empty patterns.
func validatePattern(p Pattern) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: pattern must be a non-empty constraint list", ErrInvalidPattern)
	}
	return nil
}

// tokenRange is a matched token span; sTok..eTok are inclusive indices.
type tokenRange struct {
	sTok, eTok int
}

// matchPattern enumerates every (start, end-inclusive) span of doc matching
// p, branching on optional constraints the way a rule matcher does.
func matchPattern(doc *nlp.Doc, p Pattern) []tokenRange {
	var out []tokenRange
	seen := map[tokenRange]bool{}

	var walk func(ci, ti int, start int)
	walk = func(ci, ti, start int) {
		if ci == len(p) {
			if ti > start {
				r := tokenRange{sTok: start, eTok: ti - 1}
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
			return
		}
		c := p[ci]
		if c.Optional {
			walk(ci+1, ti, start)
		}
		if ti < len(doc.Tokens) && c.matches(doc.Tokens[ti]) {
			walk(ci+1, ti+1, start)
		}
	}

	for start := range doc.Tokens {
		walk(0, start, start)
	}
	return out
}

// matchAll runs every pattern over doc and returns the union of matches.
func matchAll(doc *nlp.Doc, patterns []Pattern) []tokenRange {
	var out []tokenRange
	seen := map[tokenRange]bool{}
	for _, p := range patterns {
		for _, r := range matchPattern(doc, p) {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// timeSingleWordPOS lists POS tags a single token may carry and still be a
// time candidate. Taggers disagree across languages about numerals, so the
// set is deliberately wide; the calendar parser is the real gate.
var timeSingleWordPOS = []string{"NOUN", "NUM", "PROPN", "VERB", "PRON", "X", "ADV"}

// hourMinutesRe admits tokens made of digits, colon, plus and dot.
var hourMinutesRe = regexp.MustCompile(`^[\d:+.]+$`)

// numericDateRe admits compact numeric dates such as 17.04.2024 or 17/04/24.
var numericDateRe = regexp.MustCompile(`^\d{1,2}([./])\d{1,2}([./])\d{2,4}`)

// nonStrictPatterns builds the stock non-strict pattern set.
func nonStrictPatterns() []Pattern {
	return []Pattern{
		{ // 09 février 2009
			{POS: []string{"NOUN"}, NotIn: []string{"-"}},
			{POS: []string{"NOUN"}, NotIn: []string{"-"}},
			{POS: []string{"NUM"}},
		},
		{ // 14 mars 2025, 17. April 2024, 17 abr. 2024
			{POS: []string{"NUM"}},
			{IsPunct: true, Optional: true},
			{},
			{IsPunct: true, Optional: true},
			{POS: []string{"NUM"}},
		},
		{ // April 17th 2024 (Latin-script day names, ordinals, year)
			{POS: []string{"X"}},
			{POS: []string{"X"}},
			{POS: []string{"X"}},
		},
		{ // 2025-03-12
			{POS: []string{"NOUN"}},
			{Text: "-"},
			{POS: []string{"NOUN"}},
			{Text: "-"},
			{POS: []string{"NUM"}},
		},
		{ // 2025-03-01
			{POS: []string{"NOUN"}},
			{Text: "-"},
			{POS: []string{"NOUN"}},
			{Text: "-"},
			{POS: []string{"NOUN"}},
		},
	}
}

// strictPatterns derives the strict set: every non-strict pattern followed
// by an optional separator and a single time-like token, plus the compact
// numeric date form.
func strictPatterns(base []Pattern) []Pattern {
	hourMinutes := Pattern{
		{Optional: true}, // separator between date and time
		{POS: timeSingleWordPOS, TextRegex: hourMinutesRe},
	}
	var out []Pattern
	for _, p := range base {
		strict := make(Pattern, 0, len(p)+len(hourMinutes))
		strict = append(strict, p...)
		strict = append(strict, hourMinutes...)
		out = append(out, strict)
	}
	special := Pattern{
		{POS: timeSingleWordPOS, TextRegex: numericDateRe},
	}
	out = append(out, append(special, hourMinutes...))
	return out
}
