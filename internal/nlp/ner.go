package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Recognizer finds named entities in a single sentence. Implementations are
// language-agnostic: a sentence is never rejected on language grounds.
// Returned spans are non-overlapping, sorted ascending by start, with
// offsets relative to the sentence.
type Recognizer interface {
	Recognize(sentence string) ([]Entity, error)
}

// nerThreshold is the minimum per-piece confidence for the transformer
// recognizer.
const nerThreshold = 0.5

// transformerRecognizer adapts the token-classification pipeline to the
// Recognizer interface.
type transformerRecognizer struct {
	pipeline *Pipeline
}

// Recognizer returns the NER recognizer backed by the loader's
// token-classification pipeline.
func (ld *Loader) Recognizer() (Recognizer, error) {
	p, err := ld.Pipeline(FeatureNER)
	if err != nil {
		return nil, err
	}
	return &transformerRecognizer{pipeline: p}, nil
}

func (r *transformerRecognizer) Recognize(sentence string) ([]Entity, error) {
	return r.pipeline.RecognizeEntities(sentence, nerThreshold)
}

// --- static recognizer -----------------------------------------------------

// StaticRecognizer recognizes entities from a fixed surface → category
// lexicon. It exists for tests and offline runs where no model assets are
// available; matching is exact on word boundaries, longest surface first.
type StaticRecognizer struct {
	surfaces []string // sorted longest first
	labels   map[string]Category
}

// NewStaticRecognizer builds a StaticRecognizer from the given lexicon.
func NewStaticRecognizer(lexicon map[string]Category) *StaticRecognizer {
	r := &StaticRecognizer{labels: make(map[string]Category, len(lexicon))}
	for surface, cat := range lexicon {
		r.surfaces = append(r.surfaces, surface)
		r.labels[surface] = cat
	}
	sort.Slice(r.surfaces, func(i, j int) bool {
		if len(r.surfaces[i]) != len(r.surfaces[j]) {
			return len(r.surfaces[i]) > len(r.surfaces[j])
		}
		return r.surfaces[i] < r.surfaces[j]
	})
	return r
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Recognize scans the sentence for lexicon surfaces.
func (r *StaticRecognizer) Recognize(sentence string) ([]Entity, error) {
	covered := make([]bool, len(sentence))
	var out []Entity
	for _, surface := range r.surfaces {
		from := 0
		for {
			idx := strings.Index(sentence[from:], surface)
			if idx < 0 {
				break
			}
			s := from + idx
			e := s + len(surface)
			from = s + 1
			if !boundaryBefore(sentence, s) || !boundaryAfter(sentence, e) {
				continue
			}
			overlap := false
			for i := s; i < e; i++ {
				if covered[i] {
					overlap = true
					break
				}
			}
			if overlap {
				continue
			}
			for i := s; i < e; i++ {
				covered[i] = true
			}
			out = append(out, Entity{
				Word:  surface,
				Start: s,
				End:   e,
				Label: r.labels[surface],
				Score: 0.99,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// --- remote recognizer -----------------------------------------------------

// RemoteRecognizer calls an NER sidecar over HTTP. The sidecar exposes
// POST /ner accepting {"text": ...} and returning
// {"entities": [{text, type, start, end, confidence}, ...]}.
type RemoteRecognizer struct {
	baseURL string
	client  *http.Client
}

// NewRemoteRecognizer creates a recognizer for a sidecar at baseURL.
func NewRemoteRecognizer(baseURL string) *RemoteRecognizer {
	return &RemoteRecognizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthy reports whether the sidecar answers its health endpoint.
func (r *RemoteRecognizer) Healthy() bool {
	resp, err := r.client.Get(r.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	return resp.StatusCode == http.StatusOK
}

type remoteEntity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Recognize sends the sentence to the sidecar.
func (r *RemoteRecognizer) Recognize(sentence string) ([]Entity, error) {
	payload, err := json.Marshal(map[string]string{"text": sentence})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/ner", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner sidecar status %d: %s", resp.StatusCode, body)
	}

	var decoded struct {
		Entities []remoteEntity `json:"entities"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("ner response parse error: %w", err)
	}

	out := make([]Entity, 0, len(decoded.Entities))
	for _, e := range decoded.Entities {
		if e.Start < 0 || e.End > len(sentence) || e.Start >= e.End {
			continue
		}
		out = append(out, Entity{
			Word:  e.Text,
			Start: e.Start,
			End:   e.End,
			Label: normalizeCategory(e.Type),
			Score: e.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
