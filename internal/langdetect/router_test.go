package langdetect

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend answers from a fixed sentence → language script and counts
// calls, standing in for a real classifier.
type scriptedBackend struct {
	script map[string]string
	calls  int
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Detect(text string) ([]Detection, error) {
	b.calls++
	if lang, ok := b.script[text]; ok {
		return []Detection{{Lang: lang, Prob: 0.97}, {Lang: "en", Prob: 0.02}}, nil
	}
	for key, lang := range b.script {
		if strings.Contains(text, key) {
			return []Detection{{Lang: lang, Prob: 0.9}}, nil
		}
	}
	return []Detection{{Lang: "de", Prob: 0.5}}, nil
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Detect(string) ([]Detection, error) {
	return nil, errors.New("model exploded")
}

func TestGetDetectionsDegenerateShortCircuits(t *testing.T) {
	b := &scriptedBackend{}
	r := NewRouter(b, nil, nil)

	for _, text := range []string{"", "   ", "!!!", "123 456", "a@b.c x@y.z", "https://example.com"} {
		dets, err := r.GetDetections(text)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, Detection{Lang: "", Prob: 0.0}, dets[0])
	}
	assert.Zero(t, b.calls, "backend must not be consulted for degenerate text")
}

func TestGetDetectionsSortedDescending(t *testing.T) {
	b := &scriptedBackend{script: map[string]string{"Bonjour tout le monde": "fr"}}
	r := NewRouter(b, nil, nil)

	dets, err := r.GetDetections("Bonjour tout le monde")
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "fr", dets[0].Lang)
	assert.Greater(t, dets[0].Prob, dets[1].Prob)
}

func TestTopLangErrors(t *testing.T) {
	r := NewRouter(&scriptedBackend{}, nil, nil)

	_, err := r.TopLang("...")
	assert.ErrorIs(t, err, ErrUnparseableText)

	_, err = NewRouter(failingBackend{}, nil, nil).TopLang("real text here")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnparseableText)
}

func TestDetectSentencesIntervals(t *testing.T) {
	b := &scriptedBackend{script: map[string]string{
		"Bonjour.":         "fr",
		"Comment ça va ?":  "fr",
		"Hola amigo.":      "es",
		"Hasta luego.":     "es",
		"Et encore après.": "fr",
	}}
	r := NewRouter(b, nil, nil)

	m, err := r.DetectSentences([]string{
		"Bonjour.", "Comment ça va ?", "Hola amigo.", "Hasta luego.", "Et encore après.",
	})
	require.NoError(t, err)

	assert.Equal(t, []Interval{
		{Start: 0, End: 2, Lang: "fr"},
		{Start: 2, End: 4, Lang: "es"},
		{Start: 4, End: 5, Lang: "fr"},
	}, m.Ranges())

	lang, ok := m.Lang(1)
	assert.True(t, ok)
	assert.Equal(t, "fr", lang)
	lang, ok = m.Lang(3)
	assert.True(t, ok)
	assert.Equal(t, "es", lang)
}

func TestDetectSentencesSingleLanguage(t *testing.T) {
	b := &scriptedBackend{script: map[string]string{"Bonjour": "fr", "Merci": "fr"}}
	r := NewRouter(b, nil, nil)

	m, err := r.DetectSentences([]string{"Bonjour tout le monde.", "Merci beaucoup."})
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 0, End: 2, Lang: "fr"}}, m.Ranges())
}

func TestDetectSentencesEmptyInput(t *testing.T) {
	r := NewRouter(&scriptedBackend{}, nil, nil)
	m, err := r.DetectSentences(nil)
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}

func TestDetectSentencesBackendError(t *testing.T) {
	r := NewRouter(failingBackend{}, nil, nil)
	_, err := r.DetectSentences([]string{"real sentence"})
	assert.Error(t, err)
}

func TestRouterUsesCache(t *testing.T) {
	b := &scriptedBackend{script: map[string]string{"Bonjour tout le monde": "fr"}}
	r := NewRouter(b, NewMemoryCache(), nil)

	first, err := r.GetDetections("Bonjour tout le monde")
	require.NoError(t, err)
	second, err := r.GetDetections("Bonjour tout le monde")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.calls, "second call must be served from cache")
}

func TestNewBackendUnknownName(t *testing.T) {
	_, err := NewBackend("langpredictotron", nil)
	assert.Error(t, err)
}
