// Package pseudonymize orchestrates the redaction pipeline for one email:
// email-address masking, named-entity replacement with stable per-email
// pseudonym identity, and number redaction outside detected date spans.
//
// The engine is stateful: five per-email collections are cleared at the
// start of every run and mutated in sentence order. One engine must not be
// shared across concurrently processed emails; the pseudonym table may be
// shared (it serializes internally).
package pseudonymize

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/metrics"
	"github.com/ssciwr/mailcom/internal/nlp"
)

// Placeholder literals inserted in place of redacted content.
const (
	PlaceholderEmail        = "[email]"
	PlaceholderLocation     = "[location]"
	PlaceholderOrganization = "[organization]"
	PlaceholderMisc         = "[misc]"
	PlaceholderNumber       = "[number]"
)

// Flags selects which redaction stages run.
type Flags struct {
	EmailAddresses bool
	NamedEntities  bool
	Numbers        bool
}

// NamedEntity is one processed entity with its sentence of origin and
// assigned replacement. Offsets are relative to the sentence after the
// email-address stage. Confidence is dropped from serialized records.
type NamedEntity struct {
	Word      string  `json:"word"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Label     string  `json:"label"`
	Score     float64 `json:"-"`
	Pseudonym string  `json:"pseudonym,omitempty"`
	Sentence  int     `json:"sentence_idx"`
}

// Engine owns the per-email state and runs the pipeline.
type Engine struct {
	loader *nlp.Loader
	ner    nlp.Recognizer
	names  *NameTable
	model  string
	titler cases.Caser
	log    *logger.Logger
	m      *metrics.Metrics // nil = no metrics collection

	// Cross-field reuse channel: entities from a previously processed field
	// (e.g. the subject) whose pseudonym assignments should carry over.
	prevNE []NamedEntity

	// Per-email state, cleared between runs.
	sentences           []string
	sentencesAfterEmail []string
	entities            []NamedEntity
	sentenceIdx         []int
	bySentence          map[int][]NamedEntity
}

// NewEngine wires an engine. model selects the analyzer resource, normally
// nlp.DefaultModel. m may be nil.
func NewEngine(loader *nlp.Loader, ner nlp.Recognizer, names *NameTable, model string, log *logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.New("pseudonymize", "info")
	}
	if model == "" {
		model = nlp.DefaultModel
	}
	return &Engine{
		loader:     loader,
		ner:        ner,
		names:      names,
		model:      model,
		titler:     cases.Title(language.Und),
		log:        log,
		m:          m,
		bySentence: make(map[int][]NamedEntity),
	}
}

// Reset clears all five per-email collections.
func (e *Engine) Reset() {
	e.sentences = nil
	e.sentencesAfterEmail = nil
	e.entities = nil
	e.sentenceIdx = nil
	e.bySentence = make(map[int][]NamedEntity)
}

// SetPrevEntities installs the cross-field reuse list consulted by pseudonym
// choice. Pass nil to clear.
func (e *Engine) SetPrevEntities(prev []NamedEntity) { e.prevNE = prev }

// Sentences returns the segmented sentences of the last run.
func (e *Engine) Sentences() []string {
	return append([]string(nil), e.sentences...)
}

// SentencesAfterEmail returns the per-sentence snapshots taken after the
// email-address stage of the last run.
func (e *Engine) SentencesAfterEmail() []string {
	return append([]string(nil), e.sentencesAfterEmail...)
}

// Entities returns the entities recorded by the last run, in discovery
// order.
func (e *Engine) Entities() []NamedEntity {
	return append([]NamedEntity(nil), e.entities...)
}

// Pseudonymize runs the full pipeline over text. detectedDates holds the
// surfaces of date/time expressions to preserve during number redaction.
// The boolean result reports a pseudonym collision: a configured pseudonym
// equals a real name in the text. The colliding names have already been
// removed from the table; the caller may re-run via
// PseudonymizeWithUpdatedNE for a collision-free output.
func (e *Engine) Pseudonymize(text, lang string, detectedDates []string, flags Flags) (string, bool, error) {
	e.Reset()
	analyzer, err := e.loader.Analyzer(lang, e.model)
	if err != nil {
		return "", false, err
	}
	e.sentences = analyzer.Segment(text)
	if e.m != nil {
		e.m.SentencesSegmented.Add(int64(len(e.sentences)))
	}
	return e.process(lang, nil, detectedDates, flags, true)
}

// PseudonymizeWithUpdatedNE re-runs substitution against a previously
// discovered entity set without re-invoking the NER model. sentences is the
// segmented text; neMap maps sentence index to its entities (pseudonyms are
// ignored and chosen afresh). A nil neMap reconstructs the map from the
// current state before it is cleared.
func (e *Engine) PseudonymizeWithUpdatedNE(sentences []string, neMap map[int][]NamedEntity, lang string, detectedDates []string, flags Flags) (string, bool, error) {
	if neMap == nil {
		neMap = make(map[int][]NamedEntity, len(e.bySentence))
		for idx, list := range e.bySentence {
			for _, ne := range list {
				ne.Pseudonym = ""
				neMap[idx] = append(neMap[idx], ne)
			}
		}
	}
	e.Reset()
	e.sentences = append([]string(nil), sentences...)
	return e.process(lang, neMap, detectedDates, flags, false)
}

// process applies the per-sentence stages and the final collision check.
// When runNER is false the entities come from neMap instead of the model.
func (e *Engine) process(lang string, neMap map[int][]NamedEntity, detectedDates []string, flags Flags, runNER bool) (string, bool, error) {
	processed := make([]string, 0, len(e.sentences))
	for i, sentence := range e.sentences {
		s := sentence
		if flags.EmailAddresses {
			s = e.replaceEmailAddresses(s)
		}
		e.sentencesAfterEmail = append(e.sentencesAfterEmail, s)

		if flags.NamedEntities {
			var ents []NamedEntity
			if runNER && e.ner != nil {
				found, err := e.ner.Recognize(s)
				if err != nil {
					// Per-sentence NER failure is non-fatal: the sentence
					// passes through unchanged for this stage.
					e.log.Warnf("ner_call", "sentence %d: %v", i, err)
					if e.m != nil {
						e.m.ErrorsNER.Add(1)
					}
				} else {
					for _, f := range found {
						ents = append(ents, NamedEntity{
							Word:  f.Word,
							Start: f.Start,
							End:   f.End,
							Label: string(f.Label),
							Score: f.Score,
						})
					}
				}
			} else {
				ents = neMap[i]
			}
			s = e.replaceEntities(s, i, lang, ents)
		}

		if flags.Numbers {
			s = e.replaceNumbers(s, detectedDates)
		}
		processed = append(processed, s)
	}

	out := strings.Join(processed, " ")
	collision, err := e.collisionCheck(lang)
	return out, collision, err
}

// replaceEmailAddresses replaces every whitespace-separated token containing
// "@" with the email placeholder, collapsing whitespace to single spaces.
func (e *Engine) replaceEmailAddresses(sentence string) string {
	fields := strings.Fields(sentence)
	for i, tok := range fields {
		if strings.Contains(tok, "@") {
			fields[i] = PlaceholderEmail
			if e.m != nil {
				e.m.EmailTokensReplaced.Add(1)
			}
		}
	}
	return strings.Join(fields, " ")
}

// replacementFor maps an entity to its replacement text, choosing a
// pseudonym for persons.
func (e *Engine) replacementFor(ne NamedEntity, lang string) string {
	switch nlp.Category(ne.Label) {
	case nlp.CatPER:
		return e.choosePseudonym(ne.Word, lang)
	case nlp.CatLOC:
		return PlaceholderLocation
	case nlp.CatORG:
		return PlaceholderOrganization
	default:
		return PlaceholderMisc
	}
}

// replaceEntities splices each entity's replacement into the sentence,
// maintaining a running signed offset so later entities land on the right
// positions after earlier length changes. Each processed entity is recorded
// into per-email state with its sentence index.
func (e *Engine) replaceEntities(sentence string, sentIdx int, lang string, ents []NamedEntity) string {
	offset := 0
	for _, ne := range ents {
		start := ne.Start + offset
		end := ne.End + offset
		if start < 0 || end > len(sentence) || start >= end {
			e.log.Warnf("entity_splice", "sentence %d: span [%d,%d) out of bounds, skipped", sentIdx, start, end)
			continue
		}
		repl := e.replacementFor(ne, lang)
		sentence = sentence[:start] + repl + sentence[end:]
		offset += len(repl) - (ne.End - ne.Start)

		recorded := ne
		recorded.Pseudonym = repl
		recorded.Sentence = sentIdx
		e.entities = append(e.entities, recorded)
		e.sentenceIdx = append(e.sentenceIdx, sentIdx)
		e.bySentence[sentIdx] = append(e.bySentence[sentIdx], recorded)
		if e.m != nil {
			e.m.RecordEntity(recorded.Label)
		}
	}
	return sentence
}

// caseVariants returns the three comparison forms of a surface.
func (e *Engine) caseVariants(word string) [3]string {
	return [3]string{word, strings.ToLower(word), e.titler.String(word)}
}

// choosePseudonym picks the replacement first name for a person surface:
// a previously assigned pseudonym when any case variant of the surface was
// seen before (in this email or the cross-field reuse list), otherwise entry
// n of the active language list, where n counts the person entities recorded
// so far in this email (repeats included), wrapping to entry 0.
func (e *Engine) choosePseudonym(word, lang string) string {
	var usedNames, usedPseudonyms []string
	nUsed := 0
	for _, ne := range e.entities {
		if nlp.Category(ne.Label) != nlp.CatPER {
			continue
		}
		usedNames = append(usedNames, ne.Word)
		usedPseudonyms = append(usedPseudonyms, ne.Pseudonym)
		nUsed++
	}
	for _, ne := range e.prevNE {
		if nlp.Category(ne.Label) != nlp.CatPER {
			continue
		}
		usedNames = append(usedNames, ne.Word)
		usedPseudonyms = append(usedPseudonyms, ne.Pseudonym)
	}

	for _, variant := range e.caseVariants(word) {
		for i, used := range usedNames {
			if used == variant {
				return usedPseudonyms[i]
			}
		}
	}
	return e.names.Entry(lang, nUsed)
}

// replaceNumbers replaces every run of decimal digits whose first digit lies
// outside the detected-date character set with the number placeholder.
func (e *Engine) replaceNumbers(sentence string, detectedDates []string) string {
	covered := make([]bool, len(sentence))
	for _, date := range detectedDates {
		if date == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(sentence[from:], date)
			if idx < 0 {
				break
			}
			start := from + idx
			for i := start; i < start+len(date); i++ {
				covered[i] = true
			}
			from = start + len(date)
		}
	}

	var b strings.Builder
	i := 0
	for i < len(sentence) {
		c := sentence[i]
		if c < '0' || c > '9' {
			b.WriteByte(c)
			i++
			continue
		}
		runStart := i
		for i < len(sentence) && sentence[i] >= '0' && sentence[i] <= '9' {
			i++
		}
		if covered[runStart] {
			b.WriteString(sentence[runStart:i])
		} else {
			b.WriteString(PlaceholderNumber)
			if e.m != nil {
				e.m.NumbersReplaced.Add(1)
			}
		}
	}
	return b.String()
}

// collisionCheck compares the active pseudonym list against the case-variant
// expanded first tokens of every person surface in this email. Colliding
// pseudonyms are removed from the shared table in place; an emptied list is
// fatal.
func (e *Engine) collisionCheck(lang string) (bool, error) {
	variants := map[string]bool{}
	for _, ne := range e.entities {
		if nlp.Category(ne.Label) != nlp.CatPER {
			continue
		}
		first, _, _ := strings.Cut(ne.Word, " ")
		for _, v := range e.caseVariants(first) {
			variants[v] = true
		}
	}
	if len(variants) == 0 {
		return false, nil
	}

	collision := false
	for _, pseudonym := range e.names.Active(lang) {
		if variants[pseudonym] {
			collision = true
			e.names.Remove(lang, pseudonym)
			e.log.Infof("collision", "pseudonym %q matches a real name, removed from list", pseudonym)
			if e.m != nil {
				e.m.PseudonymsRemoved.Add(1)
			}
		}
	}
	if collision && e.names.Len(lang) == 0 {
		return true, fmt.Errorf("%w (language %s)", ErrInsufficientPseudonyms, lang)
	}
	return collision, nil
}
