package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T, lang string) *Analyzer {
	t.Helper()
	ld := NewLoader(t.TempDir(), nil)
	a, err := ld.Analyzer(lang, DefaultModel)
	require.NoError(t, err)
	return a
}

func tokenTexts(doc *Doc) []string {
	out := make([]string, len(doc.Tokens))
	for i, tok := range doc.Tokens {
		out[i] = tok.Text
	}
	return out
}

func TestTokenizeSplitsHyphensAndPunctuation(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	doc := a.Analyze("2025-03-12 (voir pièce jointe).")

	assert.Equal(t,
		[]string{"2025", "-", "03", "-", "12", "(", "voir", "pièce", "jointe", ")", "."},
		tokenTexts(doc))
}

func TestTokenizeKeepsTimesAndDatesWhole(t *testing.T) {
	a := newTestAnalyzer(t, "es")
	doc := a.Analyze("el 28.03.2025 a las 10:30")

	texts := tokenTexts(doc)
	assert.Contains(t, texts, "28.03.2025")
	assert.Contains(t, texts, "10:30")
}

func TestTokenizeKeepsEmailAddressesWhole(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	doc := a.Analyze("contact alice@gmail.com today")
	assert.Contains(t, tokenTexts(doc), "alice@gmail.com")
}

func TestTokenOffsetsSliceBackToText(t *testing.T) {
	a := newTestAnalyzer(t, "de")
	text := "Am 17. April 2024 um 14:00 Uhr."
	doc := a.Analyze(text)

	for _, tok := range doc.Tokens {
		assert.Equal(t, tok.Text, text[tok.Start:tok.End],
			"token %q offsets [%d,%d) do not slice back", tok.Text, tok.Start, tok.End)
	}
}

func TestPOSOverlayNumbers(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	doc := a.Analyze("le 14 mars 2025 à 10:30")

	pos := map[string]string{}
	for _, tok := range doc.Tokens {
		pos[tok.Text] = tok.POS
	}
	assert.Equal(t, "NUM", pos["14"])
	assert.Equal(t, "NUM", pos["2025"])
	assert.Equal(t, "NUM", pos["10:30"])
	assert.Equal(t, "NOUN", pos["mars"], "month names tag NOUN via the lexicon")
}

func TestPOSOverlayPunctuation(t *testing.T) {
	a := newTestAnalyzer(t, "de")
	doc := a.Analyze("17. April 2024")

	require.Len(t, doc.Tokens, 4)
	assert.Equal(t, "NUM", doc.Tokens[0].POS)
	assert.Equal(t, "PUNCT", doc.Tokens[1].POS)
	assert.True(t, doc.Tokens[1].IsPunct)
	assert.Equal(t, "NOUN", doc.Tokens[2].POS)
	assert.Equal(t, "NUM", doc.Tokens[3].POS)
}

func TestAnalyzeEnglishTaggerCooperates(t *testing.T) {
	a := newTestAnalyzer(t, "en")
	doc := a.Analyze("The meeting was moved to Friday.")

	pos := map[string]string{}
	for _, tok := range doc.Tokens {
		pos[tok.Text] = tok.POS
	}
	assert.Equal(t, "NOUN", pos["Friday"], "weekday overlay wins")
	assert.Equal(t, "PUNCT", pos["."])
}

func TestDocSpan(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	text := "09 février 2009 17:23"
	doc := a.Analyze(text)

	require.GreaterOrEqual(t, len(doc.Tokens), 4)
	assert.Equal(t, "09 février 2009", doc.Span(0, 2))
	assert.Equal(t, "", doc.Span(2, 1))
	assert.Equal(t, "", doc.Span(0, 99))
}

func TestSegmentRulePunctuation(t *testing.T) {
	a := newTestAnalyzer(t, "fr")

	got := a.Segment("Francois et Agathe sont amis. Mon numéro est 123. Et voilà !")
	assert.Equal(t, []string{
		"Francois et Agathe sont amis.",
		"Mon numéro est 123.",
		"Et voilà !",
	}, got)
}

func TestSegmentNewlineBoundary(t *testing.T) {
	a := newTestAnalyzer(t, "de")
	got := a.Segment("Erste Zeile ohne Punkt\nZweite Zeile.")
	assert.Equal(t, []string{"Erste Zeile ohne Punkt", "Zweite Zeile."}, got)
}

func TestSegmentInternalDotDoesNotSplit(t *testing.T) {
	a := newTestAnalyzer(t, "es")
	got := a.Segment("La foto fue tomada el 28.03.2025 a las 10:30. Compruébelo")
	assert.Equal(t, []string{
		"La foto fue tomada el 28.03.2025 a las 10:30.",
		"Compruébelo",
	}, got)
}

func TestSegmentEmptyInput(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	assert.Empty(t, a.Segment(""))
	assert.Empty(t, a.Segment("  \n \t "))
}

func TestSegmentDeterministic(t *testing.T) {
	a := newTestAnalyzer(t, "fr")
	text := "Un. Deux! Trois? Quatre"
	first := a.Segment(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Segment(text))
	}
}

func TestMapPennTag(t *testing.T) {
	cases := map[string]string{
		"NN": "NOUN", "NNS": "NOUN", "NNP": "PROPN", "CD": "NUM",
		"VBD": "VERB", "JJ": "ADJ", "RB": "ADV", "PRP": "PRON",
		"IN": "ADP", "DT": "DET", "CC": "CCONJ", ",": "PUNCT",
		"FW": "X", "???": "X",
	}
	for in, want := range cases {
		assert.Equal(t, want, mapPennTag(in), "tag %q", in)
	}
}
