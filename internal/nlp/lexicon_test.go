package nlp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthLookupAcrossLanguages(t *testing.T) {
	cases := []struct {
		lang, word string
		want       time.Month
	}{
		{"fr", "février", time.February},
		{"fr", "mars", time.March},
		{"fr", "août", time.August},
		{"es", "abr", time.April},
		{"es", "abr.", time.April},
		{"de", "März", time.March},
		{"de", "Dez.", time.December},
		{"pt", "outubro", time.October},
		{"fr", "April", time.April}, // English base is always merged
	}
	for _, c := range cases {
		lex := ForLanguage(c.lang)
		got, ok := lex.Month(c.word)
		assert.True(t, ok, "%s/%s not found", c.lang, c.word)
		assert.Equal(t, c.want, got, "%s/%s", c.lang, c.word)
	}
}

func TestMonthLookupMisses(t *testing.T) {
	lex := ForLanguage("fr")
	_, ok := lex.Month("enero") // Spanish month, French lexicon
	assert.False(t, ok)
	_, ok = lex.Month("telephone")
	assert.False(t, ok)
}

func TestDayAndRelativeLookup(t *testing.T) {
	fr := ForLanguage("fr")
	d, ok := fr.Day("mercredi")
	assert.True(t, ok)
	assert.Equal(t, time.Wednesday, d)

	delta, ok := fr.Relative("demain")
	assert.True(t, ok)
	assert.Equal(t, 1, delta)

	delta, ok = fr.Relative("Aujourd'hui")
	assert.True(t, ok)
	assert.Equal(t, 0, delta)
}

func TestIsCalendarWord(t *testing.T) {
	es := ForLanguage("es")
	assert.True(t, es.IsCalendarWord("marzo"))
	assert.True(t, es.IsCalendarWord("lunes"))
	assert.True(t, es.IsCalendarWord("mañana"))
	assert.False(t, es.IsCalendarWord("adjunto"))
}

func TestForLanguageFallbacks(t *testing.T) {
	assert.Equal(t, DefaultLang, ForLanguage("zz").Lang())
	assert.Equal(t, "pt", ForLanguage("gl").Lang())
	assert.Equal(t, "fr", ForLanguage(" FR ").Lang())
}
