package pseudonymize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssciwr/mailcom/internal/metrics"
	"github.com/ssciwr/mailcom/internal/nlp"
)

var allFlags = Flags{EmailAddresses: true, NamedEntities: true, Numbers: true}

func newTestEngine(t *testing.T, lexicon map[string]nlp.Category, names map[string][]string) *Engine {
	t.Helper()
	table, err := NewNameTable(names)
	require.NoError(t, err)
	loader := nlp.NewLoader(t.TempDir(), nil)
	return NewEngine(loader, nlp.NewStaticRecognizer(lexicon), table, nlp.DefaultModel, nil, metrics.New())
}

func TestReplaceEmailAddresses(t *testing.T) {
	e := newTestEngine(t, nil, map[string][]string{"fr": {"Claude"}})

	got := e.replaceEmailAddresses("Contactez  moi (alice@gmail.com) vite")
	assert.Equal(t, "Contactez moi [email] vite", got,
		"token with @ replaced wholesale, whitespace collapsed")

	got = e.replaceEmailAddresses("rien à remplacer ici")
	assert.Equal(t, "rien à remplacer ici", got)
}

func TestReplaceNumbersOutsideDates(t *testing.T) {
	e := newTestEngine(t, nil, map[string][]string{"fr": {"Claude"}})

	got := e.replaceNumbers("The test date is 27.03.2025 13:37 with number 123-456-789.",
		[]string{"27.03.2025 13:37"})
	assert.Equal(t, "The test date is 27.03.2025 13:37 with number [number]-[number]-[number].", got)
}

func TestReplaceNumbersRepeatedDateOccurrences(t *testing.T) {
	e := newTestEngine(t, nil, map[string][]string{"fr": {"Claude"}})

	got := e.replaceNumbers("am 14.03.2025 und wieder am 14.03.2025, Code 99", []string{"14.03.2025"})
	assert.Equal(t, "am 14.03.2025 und wieder am 14.03.2025, Code [number]", got)
}

func TestScenarioFrenchNamesAndPhone(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Francois": nlp.CatPER, "Agathe": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique", "Claude", "Camille"}})

	out, collision, err := e.Pseudonymize(
		"Francois et Agathe sont amis. Mon numéro de téléphone est 123-456-7890.",
		"fr", nil, allFlags)
	require.NoError(t, err)
	assert.False(t, collision)
	assert.Equal(t,
		"Claude et Dominique sont amis. Mon numéro de téléphone est [number]-[number]-[number].",
		out)
}

func TestScenarioSpanishNameAndDate(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER},
		map[string][]string{"es": {"José", "Angel"}})

	out, collision, err := e.Pseudonymize(
		"Esta foto fue tomada por Alice el 28.03.2025 a las 10:30. Compruébelo en el archivo adjunto",
		"es", []string{"28.03.2025 a las 10:30"}, allFlags)
	require.NoError(t, err)
	assert.False(t, collision)
	assert.Equal(t,
		"Esta foto fue tomada por José el 28.03.2025 a las 10:30. Compruébelo en el archivo adjunto",
		out)
}

func TestScenarioEmailPlaceAndNumber(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER, "MeetingPoint": nlp.CatLOC},
		map[string][]string{"fr": {"Claude", "Dominique"}})

	out, collision, err := e.Pseudonymize(
		"Alice (alice@gmail.com) viendra au bâtiment à 10h00. Nous nous rendrons ensuite au MeetingPoint",
		"fr", nil, allFlags)
	require.NoError(t, err)
	assert.False(t, collision)
	assert.Equal(t,
		"Claude [email] viendra au bâtiment à [number]h[number]. Nous nous rendrons ensuite au [location]",
		out)
}

func TestScenarioCollisionRecovery(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique", "Alice"}})

	out, collision, err := e.Pseudonymize("Alice est arrivée hier.", "fr", nil, allFlags)
	require.NoError(t, err)
	assert.True(t, collision, "configured pseudonym Alice matches a real name")
	assert.Contains(t, out, "Claude")
	assert.Equal(t, []string{"Claude", "Dominique"}, e.names.Active("fr"),
		"colliding pseudonym removed in place")

	// Caller re-runs against the recorded entity set.
	out2, collision2, err := e.PseudonymizeWithUpdatedNE(e.Sentences(), nil, "fr", nil, allFlags)
	require.NoError(t, err)
	assert.False(t, collision2)
	assert.Equal(t, "Claude est arrivée hier.", out2)
	assert.NotContains(t, out2, "Alice")
}

func TestInsufficientPseudonyms(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Claude": nlp.CatPER},
		map[string][]string{"fr": {"Claude"}})

	_, collision, err := e.Pseudonymize("Claude est là.", "fr", nil, allFlags)
	assert.True(t, collision)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPseudonyms)
}

func TestSameNameSamePseudonymAcrossSentences(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Francois": nlp.CatPER, "francois": nlp.CatPER, "Agathe": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique", "Camille"}})

	out, _, err := e.Pseudonymize(
		"Francois appelle Agathe. Plus tard, francois rappelle.", "fr", nil, allFlags)
	require.NoError(t, err)

	assert.Equal(t, "Claude appelle Dominique. Plus tard, Claude rappelle.", out,
		"case variants of one surface share a pseudonym")

	perPseudonyms := map[string]string{}
	for _, ne := range e.Entities() {
		if ne.Label == string(nlp.CatPER) {
			first, _, _ := strings.Cut(strings.ToLower(ne.Word), " ")
			if prev, ok := perPseudonyms[first]; ok {
				assert.Equal(t, prev, ne.Pseudonym)
			}
			perPseudonyms[first] = ne.Pseudonym
		}
	}
}

func TestScenarioCyclicWrap(t *testing.T) {
	lexicon := map[string]nlp.Category{}
	var sentences []string
	surnames := []string{
		"Aaron", "Brigitte", "Carlos", "Delphine", "Emil", "Fatima",
		"Gustavo", "Helene", "Igor", "Jasmin", "Karim", "Leonie",
	}
	for _, name := range surnames {
		lexicon[name] = nlp.CatPER
		sentences = append(sentences, name+" est venu.")
	}
	names := map[string][]string{"fr": {
		"P1", "P2", "P3", "P4", "P5", "P6", "P7", "P8", "P9", "P10",
	}}

	e := newTestEngine(t, lexicon, names)
	_, _, err := e.Pseudonymize(strings.Join(sentences, " "), "fr", nil, allFlags)
	require.NoError(t, err)

	ents := e.Entities()
	require.Len(t, ents, 12)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		assert.False(t, seen[ents[i].Pseudonym], "first ten assignments distinct")
		seen[ents[i].Pseudonym] = true
	}
	assert.Equal(t, "P1", ents[10].Pseudonym, "11th distinct surface wraps to entry 0")
	assert.Equal(t, "P1", ents[11].Pseudonym, "12th as well")
}

func TestPerEmailStateCleared(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER, "Bob": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique"}})

	_, _, err := e.Pseudonymize("Alice écrit.", "fr", nil, allFlags)
	require.NoError(t, err)
	require.Len(t, e.Entities(), 1)

	out, _, err := e.Pseudonymize("Bob écrit.", "fr", nil, allFlags)
	require.NoError(t, err)
	assert.Len(t, e.Entities(), 1, "state cleared between emails")
	assert.Equal(t, "Claude écrit.", out, "assignment restarts at entry 0")
}

func TestPrevEntitiesCrossFieldReuse(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique"}})

	e.SetPrevEntities([]NamedEntity{
		{Word: "Alice", Label: string(nlp.CatPER), Pseudonym: "Dominique"},
	})
	out, _, err := e.Pseudonymize("Alice répond.", "fr", nil, allFlags)
	require.NoError(t, err)
	assert.Equal(t, "Dominique répond.", out,
		"pseudonym from the previous field carries over")
}

func TestRerunIdempotent(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Francois": nlp.CatPER, "Agathe": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "Dominique"}})

	_, _, err := e.Pseudonymize("Francois et Agathe discutent. Francois conclut.", "fr", nil, allFlags)
	require.NoError(t, err)
	sentences := e.Sentences()

	out1, _, err := e.PseudonymizeWithUpdatedNE(sentences, nil, "fr", nil, allFlags)
	require.NoError(t, err)
	ents1 := e.Entities()

	out2, _, err := e.PseudonymizeWithUpdatedNE(sentences, nil, "fr", nil, allFlags)
	require.NoError(t, err)
	ents2 := e.Entities()

	assert.Equal(t, out1, out2)
	assert.Equal(t, ents1, ents2)
}

func TestPlaceholderClosure(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Agathe": nlp.CatPER},
		map[string][]string{"fr": {"Claude"}})

	input := "Rien de spécial ici, juste Agathe."
	require.NotContains(t, input, "[")

	out, _, err := e.Pseudonymize(input, "fr", nil, Flags{NamedEntities: true})
	require.NoError(t, err)
	for _, ph := range []string{PlaceholderEmail, PlaceholderLocation, PlaceholderOrganization, PlaceholderMisc, PlaceholderNumber} {
		assert.NotContains(t, out, ph, "no stage ran that could insert %s", ph)
	}
}

func TestFlagsDisableStages(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Alice": nlp.CatPER},
		map[string][]string{"fr": {"Claude"}})

	out, _, err := e.Pseudonymize("Alice (a@b.fr) a le code 1234.", "fr", nil, Flags{})
	require.NoError(t, err)
	assert.Equal(t, "Alice (a@b.fr) a le code 1234.", out, "no stage enabled, text unchanged")

	out, _, err = e.Pseudonymize("Alice (a@b.fr) a le code 1234.", "fr", nil, Flags{Numbers: true})
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "[number]")
	assert.Contains(t, out, "a@b.fr")
}

func TestEntityCategoriesMapped(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{
			"Claude Martin": nlp.CatPER,
			"Heidelberg":    nlp.CatLOC,
			"Aperisolve":    nlp.CatORG,
			"Eurovision":    nlp.CatMISC,
		},
		map[string][]string{"fr": {"Dominique"}})

	out, _, err := e.Pseudonymize(
		"Claude Martin de Aperisolve visite Heidelberg pour Eurovision.", "fr", nil,
		Flags{NamedEntities: true})
	require.NoError(t, err)
	assert.Equal(t, "Dominique de [organization] visite [location] pour [misc].", out)

	m := e.m.Snapshot().Replacements
	assert.Equal(t, int64(1), m.Persons)
	assert.Equal(t, int64(1), m.Locations)
	assert.Equal(t, int64(1), m.Organizations)
	assert.Equal(t, int64(1), m.Misc)
}

func TestSentencePreservationInvariant(t *testing.T) {
	e := newTestEngine(t, nil, map[string][]string{"fr": {"Claude"}})

	text := "Première phrase.  Deuxième phrase !\nTroisième"
	_, _, err := e.Pseudonymize(text, "fr", nil, Flags{})
	require.NoError(t, err)

	squash := func(s string) string { return strings.Join(strings.Fields(s), "") }
	joined := strings.Join(e.Sentences(), " ")
	assert.Equal(t, squash(text), squash(joined),
		"joining sentences preserves non-whitespace content")
}

func TestCollisionOnFirstTokenOfMultiWordSurface(t *testing.T) {
	e := newTestEngine(t,
		map[string]nlp.Category{"Camille Dupont": nlp.CatPER},
		map[string][]string{"fr": {"Claude", "camille"}})

	_, collision, err := e.Pseudonymize("Camille Dupont a signé.", "fr", nil, allFlags)
	require.NoError(t, err)
	assert.True(t, collision, "lowercase variant of the first token collides")
	assert.Equal(t, []string{"Claude"}, e.names.Active("fr"))
}
