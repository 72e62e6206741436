package timedetect

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/ssciwr/mailcom/internal/nlp"
)

// calendarParser turns a candidate surface into a calendar value. It
// normalizes language-specific month, weekday and relative-day words through
// the analyzer's lexicon, decomposes the remaining tokens into components,
// and assembles a time.Time. In strict mode the surface must yield a full
// day+month+year (relative-day words resolve to one); non-strict fills
// missing components from the current moment the way lenient date libraries
// do.
type calendarParser struct {
	lex    *nlp.Lexicon
	strict bool
	now    func() time.Time
}

func newCalendarParser(lex *nlp.Lexicon, strict bool) *calendarParser {
	return &calendarParser{lex: lex, strict: strict, now: time.Now}
}

// components collects what the token walk found.
type components struct {
	year, day      int
	month          time.Month
	hour, min, sec int
	loc            *time.Location

	hasYear, hasMonth, hasDay bool
	hasTime, hasZone          bool
	relative                  *int // day delta, overrides date components
	weekday                   *time.Weekday
}

func (c *components) any() bool {
	return c.hasYear || c.hasMonth || c.hasDay || c.hasTime || c.hasZone ||
		c.relative != nil || c.weekday != nil
}

func (c *components) fullDate() bool {
	return c.relative != nil || (c.hasYear && c.hasMonth && c.hasDay)
}

var (
	timeRe     = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	tzRe       = regexp.MustCompile(`^([+-])(\d{2})(\d{2})$`)
	ordinalRe  = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th|er|e|º|ª|o)$`)
	numDateRe  = regexp.MustCompile(`^(\d{1,4})([./-])(\d{1,2})([./-])(\d{1,4})$`)
	plainNumRe = regexp.MustCompile(`^\d{1,4}$`)
)

// connectorWords join date and time fragments and carry no calendar content.
var connectorWords = map[string]bool{
	"at": true, "on": true, "the": true, "of": true,
	"um": true, "uhr": true, "am": true, "der": true, "den": true,
	"à": true, "a": true, "le": true, "de": true, "du": true, "-": true,
	"las": true, "el": true, "del": true, "às": true, "as": true, "em": true,
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Parse parses text into a calendar value, or nil when text is not a
// date/time expression under the active mode.
func (p *calendarParser) Parse(text string) *time.Time {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var c components
	for _, raw := range words {
		word := strings.Trim(raw, ".,;()")
		if word == "" || connectorWords[strings.ToLower(word)] {
			continue
		}
		if !p.consume(word, &c) {
			return nil
		}
	}
	if !c.any() {
		return nil
	}
	return p.assemble(&c)
}

// consume classifies one word into c. It returns false when the word is
// neither calendar content nor connector, which fails the whole parse: a
// candidate span must consist of date material only.
func (p *calendarParser) consume(word string, c *components) bool {
	lower := strings.ToLower(word)

	if delta, ok := p.lex.Relative(lower); ok {
		d := delta
		c.relative = &d
		return true
	}
	if wd, ok := p.lex.Day(lower); ok {
		w := wd
		c.weekday = &w
		return true
	}
	if m, ok := p.lex.Month(lower); ok && !c.hasMonth {
		c.month, c.hasMonth = m, true
		return true
	}

	if m := timeRe.FindStringSubmatch(word); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s := 0
		if m[3] != "" {
			s, _ = strconv.Atoi(m[3])
		}
		if h > 23 || mi > 59 || s > 59 {
			return false
		}
		c.hour, c.min, c.sec, c.hasTime = h, mi, s, true
		return true
	}

	if m := tzRe.FindStringSubmatch(word); m != nil {
		hh, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		offset := hh*3600 + mm*60
		if m[1] == "-" {
			offset = -offset
		}
		c.loc = time.FixedZone(word, offset)
		c.hasZone = true
		return true
	}

	if m := numDateRe.FindStringSubmatch(word); m != nil {
		return p.consumeNumericDate(word, m, c)
	}

	if m := ordinalRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 31 || c.hasDay {
			return false
		}
		c.day, c.hasDay = n, true
		return true
	}

	if plainNumRe.MatchString(word) {
		return p.consumePlainNumber(word, c)
	}

	return false
}

// consumePlainNumber assigns a bare number to the most plausible open slot:
// four digits become the year, small numbers the day, and a second small
// number after the day the hour ("el 24 a las 3").
func (p *calendarParser) consumePlainNumber(word string, c *components) bool {
	n, _ := strconv.Atoi(word)
	switch {
	case len(word) == 4 && n >= 1000 && n <= 2199 && !c.hasYear:
		c.year, c.hasYear = n, true
	case n >= 1 && n <= 31 && !c.hasDay:
		c.day, c.hasDay = n, true
	case n >= 0 && n <= 23 && c.hasDay && !c.hasTime:
		c.hour, c.min, c.hasTime = n, 0, true
	default:
		return false
	}
	return true
}

// consumeNumericDate decomposes a compact numeric date. Ambiguous forms are
// read month-first with a day-first fallback, so "10.03.2025" is October 3
// while "15.03.2025" is March 15. Year-first forms swap month and day when
// the middle number cannot be a month ("2025-15-10" is October 15). The
// dateparse library is consulted first; the fallback only covers the swaps
// it rejects.
func (p *calendarParser) consumeNumericDate(word string, m []string, c *components) bool {
	if c.hasYear || c.hasMonth || c.hasDay {
		return false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[3])
	e, _ := strconv.Atoi(m[5])

	if t, err := dateparse.ParseAny(word); err == nil {
		c.year, c.month, c.day = t.Year(), t.Month(), t.Day()
		c.hasYear, c.hasMonth, c.hasDay = true, true, true
		return true
	}

	var year, month, day int
	switch {
	case len(m[1]) == 4: // year-first
		year = a
		month, day = b, e
		if month > 12 && day <= 12 {
			month, day = day, month
		}
	case len(m[5]) >= 2: // month-or-day first, year last
		year = e
		if len(m[5]) == 2 {
			year += 2000
		}
		month, day = a, b
		if month > 12 && day <= 12 {
			month, day = day, month
		}
	default:
		return false
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return false
	}
	c.year, c.month, c.day = year, time.Month(month), day
	c.hasYear, c.hasMonth, c.hasDay = true, true, true
	return true
}

// assemble builds the final value, enforcing strictness and validity.
func (p *calendarParser) assemble(c *components) *time.Time {
	now := p.now()

	if c.relative != nil {
		base := now.AddDate(0, 0, *c.relative)
		t := time.Date(base.Year(), base.Month(), base.Day(), c.hour, c.min, c.sec, 0, time.Local)
		return &t
	}

	if p.strict && !c.fullDate() {
		return nil
	}

	year, month, day := c.year, c.month, c.day
	if !c.hasYear {
		year = now.Year()
	}
	if !c.hasMonth {
		month = now.Month()
	}
	if !c.hasDay {
		if c.weekday != nil && !c.hasYear && !c.hasMonth {
			// Bare weekday: the upcoming occurrence.
			delta := (int(*c.weekday) - int(now.Weekday()) + 7) % 7
			base := now.AddDate(0, 0, delta)
			year, month, day = base.Year(), base.Month(), base.Day()
		} else {
			day = now.Day()
		}
	}
	if day < 1 || day > daysIn(month, year) {
		return nil
	}

	loc := time.Local
	if c.loc != nil {
		loc = c.loc
	}
	t := time.Date(year, month, day, c.hour, c.min, c.sec, 0, loc)
	return &t
}
