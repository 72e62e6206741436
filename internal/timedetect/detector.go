package timedetect

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/nlp"
)

// Parsing modes.
const (
	ModeStrict    = "strict"
	ModeNonStrict = "non-strict"
)

// Span is one detected date/time expression. Offsets are byte positions in
// the analyzed text; spans returned by GetDateTime are sorted ascending by
// Start and do not overlap. Parsed is nil only in non-strict mode.
type Span struct {
	Surface string
	Parsed  *time.Time
	Start   int
	End     int
}

// Surfaces projects spans onto their surface strings.
func Surfaces(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Surface
	}
	return out
}

// Detector finds date/time expressions via POS patterns and the calendar
// parser. One Detector serves one parsing mode.
type Detector struct {
	mode     string
	loader   *nlp.Loader
	patterns map[string][]Pattern

	// Connector vocabularies for the adjacency merge.
	timeSeps        []string
	specialTimeSeps []string

	log *logger.Logger
}

// New creates a Detector for the given mode.
func New(mode string, loader *nlp.Loader, log *logger.Logger) (*Detector, error) {
	if mode != ModeStrict && mode != ModeNonStrict {
		return nil, fmt.Errorf("time parsing mode must be %q or %q, got %q", ModeStrict, ModeNonStrict, mode)
	}
	if log == nil {
		log = logger.New("timedetect", "info")
	}
	base := nonStrictPatterns()
	patterns := map[string][]Pattern{ModeNonStrict: base}
	if mode == ModeStrict {
		patterns[ModeStrict] = strictPatterns(base)
	}
	return &Detector{
		mode:            mode,
		loader:          loader,
		patterns:        patterns,
		timeSeps:        []string{"at", "um", "à", ",", ".", "-"},
		specialTimeSeps: []string{".,", "a las"},
		log:             log,
	}, nil
}

// Mode returns the active parsing mode.
func (d *Detector) Mode() string { return d.mode }

// AddPattern registers a new pattern for mode. Malformed or duplicate
// patterns are rejected at configuration time.
func (d *Detector) AddPattern(p Pattern, mode string) error {
	if err := validatePattern(p); err != nil {
		return err
	}
	fp := p.fingerprint()
	for _, existing := range d.patterns[mode] {
		if existing.fingerprint() == fp {
			return fmt.Errorf("%w: pattern already present", ErrInvalidPattern)
		}
	}
	d.patterns[mode] = append(d.patterns[mode], p)
	return nil
}

// RemovePattern removes a registered pattern from mode.
func (d *Detector) RemovePattern(p Pattern, mode string) error {
	fp := p.fingerprint()
	for i, existing := range d.patterns[mode] {
		if existing.fingerprint() == fp {
			d.patterns[mode] = append(d.patterns[mode][:i], d.patterns[mode][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: pattern not present", ErrInvalidPattern)
}

// candidate is a parsed span in token coordinates; eTok is inclusive.
type candidate struct {
	sTok, eTok int
	parsed     *time.Time
}

// GetDateTime runs the full five-stage detection over text.
func (d *Detector) GetDateTime(text, lang, model string) ([]Span, error) {
	analyzer, err := d.loader.Analyzer(lang, model)
	if err != nil {
		return nil, err
	}
	doc := analyzer.Analyze(text)
	parser := newCalendarParser(analyzer.Lexicon(), d.mode == ModeStrict)

	multi, marked := d.extractMultiWord(doc, parser)
	var single []candidate
	if d.mode == ModeNonStrict {
		single = d.extractSingleWord(doc, parser, marked)
	}

	all := append(multi, single...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].sTok != all[j].sTok {
			return all[i].sTok < all[j].sTok
		}
		return all[i].eTok < all[j].eTok
	})

	merged := d.mergeDateTime(all, doc, parser)
	return d.filterSpans(merged), nil
}

// extractMultiWord is stage 1 (pattern matching) and stage 2 (overlap
// unification). marked holds the token ranges already claimed, consulted by
// the single-token pass.
func (d *Detector) extractMultiWord(doc *nlp.Doc, parser *calendarParser) ([]candidate, []candidate) {
	patternSet := d.patterns[d.mode]

	var found []candidate
	ranges := matchAll(doc, patternSet)
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].sTok != ranges[j].sTok {
			return ranges[i].sTok < ranges[j].sTok
		}
		return ranges[i].eTok < ranges[j].eTok
	})
	for _, r := range ranges {
		if parsed := parser.Parse(doc.Span(r.sTok, r.eTok)); parsed != nil {
			found = append(found, candidate{sTok: r.sTok, eTok: r.eTok, parsed: parsed})
		}
	}

	united := d.uniteOverlapping(found, doc, parser)
	return united, united
}

// uniteOverlapping merges overlapping or touching candidates pairwise in one
// left-to-right pass. The united span is re-parsed and replaces the pair in
// either mode, even when the re-parse fails (the numeric filter still guards
// the output; in strict mode the filter also drops the parse-less span).
func (d *Detector) uniteOverlapping(cands []candidate, doc *nlp.Doc, parser *calendarParser) []candidate {
	if len(cands) <= 1 {
		return cands
	}
	var out []candidate
	i := 0
	for i < len(cands)-1 {
		cur, next := cands[i], cands[i+1]
		if cur.eTok+1 >= next.sTok {
			united := candidate{
				sTok:   cur.sTok,
				eTok:   next.eTok,
				parsed: parser.Parse(doc.Span(cur.sTok, next.eTok)),
			}
			out = append(out, united)
			i += 2
		} else {
			out = append(out, cur)
			i++
		}
	}
	if i == len(cands)-1 {
		out = append(out, cands[len(cands)-1])
	}
	return out
}

// extractSingleWord is stage 3: any token outside the marked ranges whose
// POS admits a time reading and whose surface parses on its own.
func (d *Detector) extractSingleWord(doc *nlp.Doc, parser *calendarParser, marked []candidate) []candidate {
	posOK := map[string]bool{}
	for _, pos := range timeSingleWordPOS {
		posOK[pos] = true
	}
	var out []candidate
	for i, tok := range doc.Tokens {
		if !posOK[tok.POS] {
			continue
		}
		claimed := false
		for _, m := range marked {
			if i >= m.sTok && i <= m.eTok {
				claimed = true
				break
			}
		}
		if claimed {
			continue
		}
		if parsed := parser.Parse(tok.Text); parsed != nil {
			out = append(out, candidate{sTok: i, eTok: i, parsed: parsed})
		}
	}
	return out
}

// mergeable reports whether two candidates may merge in stage 4: directly
// adjacent, separated by one connector token, or separated by one two-token
// connector.
func (d *Detector) mergeable(first, second candidate, doc *nlp.Doc) bool {
	gapStart := first.eTok + 1
	if gapStart == second.sTok {
		return true
	}
	if gapStart < len(doc.Tokens) && gapStart+1 == second.sTok {
		for _, sep := range d.timeSeps {
			if doc.Tokens[gapStart].Text == sep {
				return true
			}
		}
	}
	if gapStart+1 < len(doc.Tokens) && gapStart+2 == second.sTok {
		between := doc.Span(gapStart, gapStart+1)
		for _, sep := range d.specialTimeSeps {
			if between == sep {
				return true
			}
		}
	}
	return false
}

// appendMerged adds item to out, replacing the previous emission when item
// covers it (the same span or a wider one).
func appendMerged(out []Span, item Span) []Span {
	if n := len(out); n > 0 {
		last := out[n-1]
		if item.Start <= last.Start && item.End >= last.End {
			out[n-1] = item
			return out
		}
	}
	return append(out, item)
}

// spanFor converts a candidate to its character-offset Span.
func spanFor(c candidate, doc *nlp.Doc) Span {
	start := doc.Tokens[c.sTok].Start
	end := doc.Tokens[c.eTok].End
	return Span{Surface: doc.Text[start:end], Parsed: c.parsed, Start: start, End: end}
}

// mergeDateTime is stage 4: walk the sorted candidates and merge adjacent
// pairs whose concatenated surface still parses.
func (d *Detector) mergeDateTime(cands []candidate, doc *nlp.Doc, parser *calendarParser) []Span {
	var out []Span
	if len(cands) == 0 {
		return out
	}
	if len(cands) == 1 {
		return append(out, spanFor(cands[0], doc))
	}

	current := cands[0]
	merged := false
	for i := 0; i < len(cands)-1; i++ {
		next := cands[i+1]
		combined := candidate{sTok: current.sTok, eTok: next.eTok}
		combined.parsed = parser.Parse(doc.Span(combined.sTok, combined.eTok))

		if d.mergeable(current, next, doc) && combined.parsed != nil {
			out = appendMerged(out, spanFor(combined, doc))
			current = combined
			merged = true
		} else {
			out = appendMerged(out, spanFor(current, doc))
			current = next
			merged = false
		}
	}
	if !merged {
		out = appendMerged(out, spanFor(cands[len(cands)-1], doc))
	}
	return out
}

// filterSpans is stage 5: drop spans without a digit, and in strict mode any
// span that lost its parse during unification.
func (d *Detector) filterSpans(spans []Span) []Span {
	var out []Span
	for _, s := range spans {
		if d.mode == ModeStrict && s.Parsed == nil {
			continue
		}
		if !strings.ContainsFunc(s.Surface, unicode.IsDigit) {
			continue
		}
		out = append(out, s)
	}
	return out
}
