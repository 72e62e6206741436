package langdetect

import (
	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/textutil"
)

// Router answers language queries for texts and sentence lists through one
// configured backend, short-circuiting degenerate texts and optionally
// caching detections across runs.
type Router struct {
	backend Backend
	cache   Cache
	log     *logger.Logger
}

// NewRouter wires a Router. cache may be nil to disable caching.
func NewRouter(backend Backend, cache Cache, log *logger.Logger) *Router {
	if log == nil {
		log = logger.New("langdetect", "info")
	}
	return &Router{backend: backend, cache: cache, log: log}
}

// Backend returns the active backend.
func (r *Router) Backend() Backend { return r.backend }

// nullDetection is the answer for degenerate text.
func nullDetection() []Detection { return []Detection{{Lang: "", Prob: 0.0}} }

// GetDetections returns the backend's candidates for text, sorted descending
// by probability. Degenerate text (empty, all punctuation, all digits, all
// email addresses, all URLs) yields a single ("", 0.0) entry without
// consulting the backend.
func (r *Router) GetDetections(text string) ([]Detection, error) {
	if textutil.IsDegenerate(text) {
		return nullDetection(), nil
	}

	var key string
	if r.cache != nil {
		key = cacheKey(r.backend.Name(), text)
		if dets, ok := r.cache.Get(key); ok {
			return dets, nil
		}
	}

	dets, err := r.backend.Detect(text)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		dets = nullDetection()
	}
	if r.cache != nil {
		r.cache.Set(key, dets)
	}
	return dets, nil
}

// TopLang returns the most probable language of text. Degenerate text
// returns ErrUnparseableText.
func (r *Router) TopLang(text string) (Detection, error) {
	dets, err := r.GetDetections(text)
	if err != nil {
		return Detection{}, err
	}
	if dets[0].Lang == "" {
		return dets[0], ErrUnparseableText
	}
	return dets[0], nil
}

// DetectSentences assigns every sentence a language and folds contiguous
// runs of the same language into intervals over sentence indices. A sentence
// with no detectable language extends the current run. The final interval is
// always closed at len(sentences).
func (r *Router) DetectSentences(sentences []string) (*IntervalMap, error) {
	m := NewIntervalMap()
	if len(sentences) == 0 {
		return m, nil
	}

	marked := 0
	current := ""
	for i, sent := range sentences {
		if sent == "" {
			continue
		}
		dets, err := r.GetDetections(sent)
		if err != nil {
			return nil, err
		}
		lang := dets[0].Lang
		if lang == "" || lang == current {
			continue
		}
		if current != "" {
			m.Add(Interval{Start: marked, End: i, Lang: current})
			marked = i
		}
		current = lang
	}
	m.Add(Interval{Start: marked, End: len(sentences), Lang: current})
	return m, nil
}
