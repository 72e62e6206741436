// Package langdetect routes texts to one of three interchangeable language
// identification backends and builds per-sentence language interval maps.
//
// Backends:
//
//   - lingua   — character-n-gram classifier over a fixed closed set of
//     language classes; supports constraining the allowed set.
//   - whatlang — trigram classifier; fully deterministic (no sampling), so
//     repeated runs agree without seeding.
//   - trans    — transformer text-classification pipeline served by the
//     nlp model loader.
//
// All backends share one operation: Detect(text) returning (language tag,
// probability) pairs sorted descending by probability. Texts that are empty,
// all-punctuation, all-digits, all-email-addresses or all-URLs never reach a
// backend; the router answers ("", 0.0) for those.
package langdetect

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/pemistahl/lingua-go"

	"github.com/ssciwr/mailcom/internal/nlp"
)

// ErrLanguageConstraintEmpty marks an allowed-language set that does not
// intersect a backend's native classes. Fatal at setup.
var ErrLanguageConstraintEmpty = errors.New("language constraint does not intersect backend classes")

// ErrUnparseableText marks degenerate text for which no language can be
// determined. Callers skip the email unless a default language is set.
var ErrUnparseableText = errors.New("text is empty or degenerate, no language detected")

// Detection is one (language tag, probability) candidate.
type Detection struct {
	Lang string  `json:"lang"`
	Prob float64 `json:"prob"`
}

// Backend identifies the language of a text.
type Backend interface {
	Name() string
	Detect(text string) ([]Detection, error)
}

// Backend selector strings accepted in workflow settings.
const (
	BackendLingua      = "lingua"
	BackendWhatlang    = "whatlang"
	BackendTransformer = "trans"
)

// NewBackend builds the named backend. The transformer backend pulls its
// pipeline from the loader; the other two are self-contained.
func NewBackend(name string, loader *nlp.Loader) (Backend, error) {
	switch name {
	case BackendLingua:
		return NewLinguaBackend(), nil
	case BackendWhatlang:
		return &whatlangBackend{}, nil
	case BackendTransformer:
		p, err := loader.Pipeline(nlp.FeatureLangDetector)
		if err != nil {
			return nil, err
		}
		return &transformerBackend{pipeline: p}, nil
	default:
		return nil, fmt.Errorf("language detection backend must be %q, %q or %q, got %q",
			BackendLingua, BackendWhatlang, BackendTransformer, name)
	}
}

// --- lingua ----------------------------------------------------------------

// LinguaBackend wraps the lingua n-gram classifier. The detector is rebuilt
// when the allowed-language set is constrained.
type LinguaBackend struct {
	detector lingua.LanguageDetector
	byISO    map[string]lingua.Language
	active   []lingua.Language
}

// NewLinguaBackend creates the backend over all native language classes.
func NewLinguaBackend() *LinguaBackend {
	all := lingua.AllLanguages()
	byISO := make(map[string]lingua.Language, len(all))
	for _, l := range all {
		byISO[strings.ToLower(l.IsoCode639_1().String())] = l
	}
	return &LinguaBackend{
		detector: lingua.NewLanguageDetectorBuilder().FromLanguages(all...).Build(),
		byISO:    byISO,
		active:   all,
	}
}

func (b *LinguaBackend) Name() string { return BackendLingua }

// Classes returns the lowercase ISO 639-1 codes of the active language set.
func (b *LinguaBackend) Classes() []string {
	codes := make([]string, 0, len(b.active))
	for _, l := range b.active {
		codes = append(codes, strings.ToLower(l.IsoCode639_1().String()))
	}
	sort.Strings(codes)
	return codes
}

// Constrain restricts detection to the intersection of langs (ISO 639-1
// codes) with the backend's native classes. An empty intersection is an
// error; an empty langs slice resets to all classes.
func (b *LinguaBackend) Constrain(langs []string) error {
	if len(langs) == 0 {
		all := lingua.AllLanguages()
		b.active = all
		b.detector = lingua.NewLanguageDetectorBuilder().FromLanguages(all...).Build()
		return nil
	}
	var intersection []lingua.Language
	for _, code := range langs {
		if l, ok := b.byISO[strings.ToLower(strings.TrimSpace(code))]; ok {
			intersection = append(intersection, l)
		}
	}
	if len(intersection) == 0 {
		return fmt.Errorf("%w: %v", ErrLanguageConstraintEmpty, langs)
	}
	b.active = intersection
	b.detector = lingua.NewLanguageDetectorBuilder().FromLanguages(intersection...).Build()
	return nil
}

// Detect returns candidates for all active classes, sorted descending.
func (b *LinguaBackend) Detect(text string) ([]Detection, error) {
	values := b.detector.ComputeLanguageConfidenceValues(text)
	out := make([]Detection, 0, len(values))
	for _, v := range values {
		out = append(out, Detection{
			Lang: strings.ToLower(v.Language().IsoCode639_1().String()),
			Prob: v.Value(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Prob > out[j].Prob })
	return out, nil
}

// --- whatlang --------------------------------------------------------------

// whatlangBackend wraps the whatlanggo trigram detector. Trigram scoring is
// deterministic for a given input, which stands in for the fixed-seed
// requirement of sampling-based detectors.
type whatlangBackend struct{}

func (b *whatlangBackend) Name() string { return BackendWhatlang }

func (b *whatlangBackend) Detect(text string) ([]Detection, error) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		// Languages without a two-letter code keep their ISO 639-3 code.
		code = whatlanggo.LangToString(info.Lang)
	}
	return []Detection{{Lang: code, Prob: info.Confidence}}, nil
}

// --- transformer -----------------------------------------------------------

// classifier is the slice of the nlp pipeline the backend needs.
type classifier interface {
	Classify(text string, topK int) ([]nlp.ClassScore, error)
}

// transformerBackend adapts a text-classification pipeline whose labels are
// ISO language codes.
type transformerBackend struct {
	pipeline classifier
}

func (b *transformerBackend) Name() string { return BackendTransformer }

func (b *transformerBackend) Detect(text string) ([]Detection, error) {
	scores, err := b.pipeline.Classify(text, 2)
	if err != nil {
		return nil, err
	}
	out := make([]Detection, 0, len(scores))
	for _, s := range scores {
		out = append(out, Detection{Lang: strings.ToLower(s.Label), Prob: s.Score})
	}
	return out, nil
}
