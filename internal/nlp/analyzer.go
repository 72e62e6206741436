package nlp

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// Analyzer tokenizes text, assigns universal POS tags, and segments
// sentences for one language. Instances are obtained from the Loader and are
// safe for concurrent use once built.
type Analyzer struct {
	lang  string
	model string
	lex   *Lexicon
}

// Lang returns the analyzer's language.
func (a *Analyzer) Lang() string { return a.lang }

// Lexicon exposes the analyzer's calendar lexicon.
func (a *Analyzer) Lexicon() *Lexicon { return a.lex }

// numericTokenRe matches tokens the overlay tags NUM: at least one digit,
// and nothing but digits, colon, plus, dot, slash. This keeps "10:30",
// "17.04.2024" and "+2025" stable across languages.
var numericTokenRe = regexp.MustCompile(`^[\d:+./]*\d[\d:+./]*$`)

// Analyze tokenizes text and assigns universal POS tags. The statistical
// tagger may fail on unusual input; tagging then degrades to the structural
// overlay alone and the error is not surfaced.
func (a *Analyzer) Analyze(text string) *Doc {
	spans := tokenize(text)
	tagged := proseTagSpans(text)

	doc := &Doc{Text: text, Tokens: make([]Token, 0, len(spans))}
	ti := 0
	for _, sp := range spans {
		tok := Token{
			Text:  text[sp.start:sp.end],
			Start: sp.start,
			End:   sp.end,
		}
		// Advance the tagger cursor to the span containing this token.
		for ti < len(tagged) && tagged[ti].end <= sp.start {
			ti++
		}
		if ti < len(tagged) && tagged[ti].start <= sp.start && sp.end <= tagged[ti].end {
			tok.Tag = tagged[ti].tag
		}
		tok.IsPunct = isPunctToken(tok.Text)
		tok.POS = a.assignPOS(tok)
		doc.Tokens = append(doc.Tokens, tok)
	}
	return doc
}

// assignPOS applies the overlay-then-tagger precedence described in the
// package comment.
func (a *Analyzer) assignPOS(tok Token) string {
	switch {
	case tok.IsPunct:
		return "PUNCT"
	case numericTokenRe.MatchString(tok.Text):
		return "NUM"
	case a.lex.IsCalendarWord(tok.Text):
		return "NOUN"
	case tok.Tag != "":
		return mapPennTag(tok.Tag)
	}
	// No tagger output: fall back on capitalization.
	r, _ := utf8.DecodeRuneInString(tok.Text)
	if unicode.IsUpper(r) {
		return "PROPN"
	}
	return "X"
}

// mapPennTag converts a Penn Treebank tag to a universal POS tag.
func mapPennTag(tag string) string {
	switch {
	case tag == "NNP" || tag == "NNPS":
		return "PROPN"
	case strings.HasPrefix(tag, "NN"):
		return "NOUN"
	case tag == "CD":
		return "NUM"
	case strings.HasPrefix(tag, "VB") || tag == "MD":
		return "VERB"
	case strings.HasPrefix(tag, "JJ"):
		return "ADJ"
	case strings.HasPrefix(tag, "RB") || tag == "WRB":
		return "ADV"
	case strings.HasPrefix(tag, "PRP") || strings.HasPrefix(tag, "WP") || tag == "EX":
		return "PRON"
	case tag == "IN" || tag == "RP":
		return "ADP"
	case tag == "DT" || tag == "PDT" || tag == "WDT":
		return "DET"
	case tag == "CC":
		return "CCONJ"
	case tag == "TO" || tag == "POS":
		return "PART"
	case tag == "UH":
		return "INTJ"
	case tag == "SYM" || tag == "$" || tag == "#":
		return "SYM"
	case tag == "." || tag == "," || tag == ":" || tag == "``" || tag == "''" ||
		tag == "-LRB-" || tag == "-RRB-" || tag == "HYPH":
		return "PUNCT"
	default:
		return "X"
	}
}

// --- tokenization ----------------------------------------------------------

type span struct {
	start, end int
}

// splitRunes always separate, even mid-chunk. The hyphen split matters for
// ISO dates ("2025-03-12") whose parts must surface as individual tokens.
// The apostrophe is deliberately absent: "aujourd'hui" is one token.
func isSplitRune(r rune) bool {
	switch r {
	case '-', '–', '—', ',', ';', '(', ')', '[', ']', '{', '}', '"', '«', '»', '!', '?':
		return true
	}
	return false
}

func isPunctToken(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return s != ""
}

// tokenize splits text into token spans. Whitespace separates chunks; split
// runes, leading punctuation, and trailing punctuation become one-rune
// tokens of their own; dots, colons and slashes survive inside a token.
func tokenize(text string) []span {
	var spans []span
	i := 0
	n := len(text)
	for i < n {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		// Collect the chunk up to the next whitespace.
		start := i
		for i < n {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		spans = append(spans, splitChunk(text, start, i)...)
	}
	return spans
}

// splitChunk decomposes one whitespace-free chunk into token spans.
func splitChunk(text string, start, end int) []span {
	var out []span

	// Leading punctuation and symbols, one token each.
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			break
		}
		if r == '@' { // keep mail addresses whole
			break
		}
		if r == '+' {
			// Keep timezone offsets ("+0200") intact.
			if next, _ := utf8.DecodeRuneInString(text[start+size : end]); unicode.IsDigit(next) {
				break
			}
		}
		out = append(out, span{start, start + size})
		start += size
	}

	// Trailing punctuation, collected in reverse.
	var tail []span
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			break
		}
		if r == '@' {
			break
		}
		tail = append([]span{{end - size, end}}, tail...)
		end -= size
	}

	// Interior: split at split runes.
	seg := start
	for pos := start; pos < end; {
		r, size := utf8.DecodeRuneInString(text[pos:end])
		if isSplitRune(r) {
			if pos > seg {
				out = append(out, span{seg, pos})
			}
			out = append(out, span{pos, pos + size})
			seg = pos + size
		}
		pos += size
	}
	if seg < end {
		out = append(out, span{seg, end})
	}

	return append(out, tail...)
}

// --- statistical tagging ---------------------------------------------------

type taggedSpan struct {
	start, end int
	tag        string
}

// proseTagSpans runs the prose tagger over text and maps its tokens back to
// byte offsets. The treebank tokenizer rewrites straight quotes to `` and
// ''; those and any token that cannot be located are skipped, which only
// costs tagger coverage, never correctness.
func proseTagSpans(text string) []taggedSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil
	}
	var out []taggedSpan
	cursor := 0
	for _, tok := range doc.Tokens() {
		needle := tok.Text
		switch needle {
		case "``", "''":
			needle = `"`
		}
		idx := strings.Index(text[cursor:], needle)
		if idx < 0 {
			continue
		}
		s := cursor + idx
		e := s + len(needle)
		out = append(out, taggedSpan{start: s, end: e, tag: tok.Tag})
		cursor = e
	}
	return out
}

// --- sentence segmentation -------------------------------------------------

// Segment splits text into sentences. The rule punctuation '.', '!', '?'
// always closes a sentence (trailing closers stay attached); newlines close
// one as well. Deterministic for a given input; empty input yields nil.
func (a *Analyzer) Segment(text string) []string {
	var sentences []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Absorb a run of enders and closing quotes/brackets.
		j := i + 1
		for j < len(runes) {
			switch runes[j] {
			case '.', '!', '?', ')', ']', '"', '»', '\'':
				cur.WriteRune(runes[j])
				j++
				continue
			}
			break
		}
		// Boundary only before whitespace or end of text.
		if j >= len(runes) || unicode.IsSpace(runes[j]) {
			flush()
		}
		i = j - 1
	}
	flush()
	return sentences
}
