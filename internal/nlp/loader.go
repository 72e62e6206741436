package nlp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ssciwr/mailcom/internal/logger"
)

// ErrBackendUnavailable marks a model or backend that cannot be initialized.
// It is fatal for the email being processed.
var ErrBackendUnavailable = errors.New("backend unavailable")

// DefaultLang is the universal fallback language for analyzer resources.
const DefaultLang = "de"

// DefaultModel is the sentinel callers pass to request the per-language
// default analyzer model.
const DefaultModel = "default"

// defaultAnalyzerModels maps a language to its default analyzer model
// identifier. Languages outside this map fall back to DefaultLang;
// Galician is redirected to Portuguese (resolveLang).
var defaultAnalyzerModels = map[string]string{
	"es": "es_core_news_md",
	"fr": "fr_core_news_md",
	"de": "de_core_news_md",
	"pt": "pt_core_news_md",
}

// Transformer pipeline features understood by the loader.
const (
	FeatureNER          = "ner"
	FeatureLangDetector = "lang_detector"
)

// defaultPipelineSpecs holds the stock transformer descriptors per feature.
func defaultPipelineSpecs() map[string]PipelineSpec {
	return map[string]PipelineSpec{
		FeatureNER: {
			Task:                "token-classification",
			Model:               "xlm-roberta-large-finetuned-conll03-english",
			Revision:            "18f95e9",
			AggregationStrategy: "simple",
		},
		FeatureLangDetector: {
			Task:  "text-classification",
			Model: "papluca/xlm-roberta-base-language-detection",
		},
	}
}

// Loader is the process-lifetime model cache. Analyzers are keyed by
// (language, model identifier); transformer pipelines by feature name.
// Concurrent callers serialize so exactly one backing handle is constructed
// per key. Initialization failures propagate as ErrBackendUnavailable.
type Loader struct {
	mu        sync.Mutex
	analyzers map[string]*Analyzer
	pipelines map[string]*Pipeline
	specs     map[string]PipelineSpec

	modelsDir string
	log       *logger.Logger
}

// NewLoader creates a Loader reading transformer assets below modelsDir.
func NewLoader(modelsDir string, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.New("nlp", "info")
	}
	return &Loader{
		analyzers: make(map[string]*Analyzer),
		pipelines: make(map[string]*Pipeline),
		specs:     defaultPipelineSpecs(),
		modelsDir: modelsDir,
		log:       log,
	}
}

// SetPipelineSpec overrides the descriptor for a feature. Structurally
// invalid descriptors are rejected.
func (ld *Loader) SetPipelineSpec(feature string, spec PipelineSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	ld.mu.Lock()
	ld.specs[feature] = spec
	ld.mu.Unlock()
	return nil
}

// Analyzer returns the cached analyzer for (lang, model), building it on
// first use. Passing DefaultModel selects the per-language default model.
func (ld *Loader) Analyzer(lang, model string) (*Analyzer, error) {
	resolved := resolveLang(lang)
	if model == "" || model == DefaultModel {
		m, ok := defaultAnalyzerModels[resolved]
		if !ok {
			m = defaultAnalyzerModels[DefaultLang]
		}
		model = m
	}
	key := resolved + "|" + model

	ld.mu.Lock()
	defer ld.mu.Unlock()
	if a, ok := ld.analyzers[key]; ok {
		return a, nil
	}
	if !strings.HasPrefix(model, resolved+"_") && !strings.HasPrefix(model, resolved+"-") {
		ld.log.Warnf("analyzer_init", "model %q does not match language %q, loading anyway", model, resolved)
	}
	a := &Analyzer{lang: resolved, model: model, lex: ForLanguage(resolved)}
	ld.analyzers[key] = a
	ld.log.Infof("analyzer_init", "analyzer ready lang=%s model=%s", resolved, model)
	return a, nil
}

// Pipeline returns the cached transformer pipeline for a feature, building
// it on first use from the active descriptor.
func (ld *Loader) Pipeline(feature string) (*Pipeline, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if p, ok := ld.pipelines[feature]; ok {
		return p, nil
	}
	spec, ok := ld.specs[feature]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pipeline feature %q", ErrBackendUnavailable, feature)
	}
	p, err := newPipeline(ld.modelsDir, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: init %s pipeline: %v", ErrBackendUnavailable, feature, err)
	}
	ld.pipelines[feature] = p
	ld.log.Infof("pipeline_init", "pipeline ready feature=%s model=%s", feature, spec.Model)
	return p, nil
}
