// Package config loads and validates the workflow settings.
// Settings are layered: defaults → settings file → environment variables
// (env vars win). Unknown keys in the file produce a warning and are
// ignored; invalid values fall back to their defaults. An updated copy of
// the effective settings can be persisted with a timestamped filename.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/nlp"
	"github.com/ssciwr/mailcom/internal/timedetect"
)

// Settings holds the full workflow configuration.
type Settings struct {
	// Pseudonymization workflow options.
	DefaultLang          string              `json:"default_lang"`
	DatetimeDetection    bool                `json:"datetime_detection"`
	TimeParsing          string              `json:"time_parsing"`
	PseudoEmailAddresses bool                `json:"pseudo_emailaddresses"`
	PseudoNE             bool                `json:"pseudo_ne"`
	PseudoNumbers        bool                `json:"pseudo_numbers"`
	PseudoFirstNames     map[string][]string `json:"pseudo_first_names"`
	LangDetectionLib     string              `json:"lang_detection_lib"`
	LangPipeline         *nlp.PipelineSpec   `json:"lang_pipeline,omitempty"`
	NERPipeline          *nlp.PipelineSpec   `json:"ner_pipeline,omitempty"`
	SpacyModel           string              `json:"spacy_model"`
	UnmatchedKeyword     string              `json:"unmatched_keyword"`

	// Runtime options.
	LogLevel           string `json:"log_level"`
	ModelsDir          string `json:"models_dir"`
	DetectionCacheFile string `json:"detection_cache_file"`
	CSVContentColumn   string `json:"csv_content_column"`
	Workers            int    `json:"workers"`
}

// Defaults returns the stock settings.
func Defaults() *Settings {
	return &Settings{
		DefaultLang:          "",
		DatetimeDetection:    true,
		TimeParsing:          timedetect.ModeStrict,
		PseudoEmailAddresses: true,
		PseudoNE:             true,
		PseudoNumbers:        true,
		PseudoFirstNames: map[string][]string{
			"fr": {"Claude", "Dominique", "Camille", "Maxime", "Sacha"},
			"es": {"José", "Angel", "Alex", "Andrea", "Cruz"},
			"de": {"Mika", "Alexis", "Kim", "Luca", "Toni"},
			"pt": {"Alexandre", "Ariel", "Eli", "Gabriel", "Juca"},
		},
		LangDetectionLib: "lingua",
		SpacyModel:       nlp.DefaultModel,
		UnmatchedKeyword: "unmatched",

		LogLevel:         "info",
		ModelsDir:        "models",
		CSVContentColumn: "message",
		Workers:          1,
	}
}

// settingsKeys is the recognized key set; anything else warns.
var settingsKeys = map[string]bool{
	"default_lang": true, "datetime_detection": true, "time_parsing": true,
	"pseudo_emailaddresses": true, "pseudo_ne": true, "pseudo_numbers": true,
	"pseudo_first_names": true, "lang_detection_lib": true,
	"lang_pipeline": true, "ner_pipeline": true, "spacy_model": true,
	"unmatched_keyword": true, "log_level": true, "models_dir": true,
	"detection_cache_file": true, "csv_content_column": true, "workers": true,
}

// Load returns settings layered from defaults, the given file (optional when
// path is empty) and environment variables.
func Load(path string, log *logger.Logger) (*Settings, error) {
	if log == nil {
		log = logger.New("config", "info")
	}
	s := Defaults()
	if path != "" {
		if err := loadFile(s, path, log); err != nil {
			return nil, err
		}
	}
	loadEnv(s)
	s.validate(log)
	return s, nil
}

// loadFile merges the settings file into s, schema-checking key by key.
func loadFile(s *Settings, path string, log *logger.Logger) error {
	data, err := os.ReadFile(path) //nolint:gosec // controlled settings path
	if err != nil {
		return fmt.Errorf("read settings %q: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse settings %q: %w", path, err)
	}

	// Unknown keys warn and are ignored.
	for key := range raw {
		if !settingsKeys[key] {
			log.Warnf("schema", "unknown settings key %q ignored", key)
			delete(raw, key)
		}
	}

	known, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(known, s); err != nil {
		log.Warnf("schema", "settings partially unreadable, defaults kept: %v", err)
	}
	log.Infof("load", "settings loaded from %s", path)
	return nil
}

func loadEnv(s *Settings) {
	if v := os.Getenv("MAILCOM_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("MAILCOM_MODELS_DIR"); v != "" {
		s.ModelsDir = v
	}
	if v := os.Getenv("MAILCOM_DETECTION_CACHE"); v != "" {
		s.DetectionCacheFile = v
	}
	if v := os.Getenv("MAILCOM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Workers = n
		}
	}
}

// validate replaces invalid values with their defaults, warning about each.
func (s *Settings) validate(log *logger.Logger) {
	def := Defaults()

	switch s.TimeParsing {
	case timedetect.ModeStrict, timedetect.ModeNonStrict:
	default:
		log.Warnf("schema", "time_parsing %q invalid, using %q", s.TimeParsing, def.TimeParsing)
		s.TimeParsing = def.TimeParsing
	}

	switch s.LangDetectionLib {
	case "lingua", "whatlang", "trans":
	default:
		log.Warnf("schema", "lang_detection_lib %q invalid, using %q", s.LangDetectionLib, def.LangDetectionLib)
		s.LangDetectionLib = def.LangDetectionLib
	}

	if len(s.PseudoFirstNames) == 0 {
		log.Warn("schema", "pseudo_first_names missing, using default name lists")
		s.PseudoFirstNames = def.PseudoFirstNames
	} else {
		for lang, list := range s.PseudoFirstNames {
			if len(list) == 0 {
				log.Warnf("schema", "pseudo_first_names[%q] empty, dropped", lang)
				delete(s.PseudoFirstNames, lang)
			}
		}
		if len(s.PseudoFirstNames) == 0 {
			s.PseudoFirstNames = def.PseudoFirstNames
		}
	}

	if s.LangPipeline != nil {
		if err := s.LangPipeline.Validate(); err != nil {
			log.Warnf("schema", "lang_pipeline rejected: %v", err)
			s.LangPipeline = nil
		}
	}
	if s.NERPipeline != nil {
		if err := s.NERPipeline.Validate(); err != nil {
			log.Warnf("schema", "ner_pipeline rejected: %v", err)
			s.NERPipeline = nil
		}
	}

	if s.SpacyModel == "" {
		s.SpacyModel = def.SpacyModel
	}
	if s.UnmatchedKeyword == "" {
		s.UnmatchedKeyword = def.UnmatchedKeyword
	}
	if s.CSVContentColumn == "" {
		s.CSVContentColumn = def.CSVContentColumn
	}
	if s.Workers < 1 {
		log.Warnf("schema", "workers %d invalid, using %d", s.Workers, def.Workers)
		s.Workers = def.Workers
	}
}

// Save persists the effective settings next to base with a timestamped
// filename and returns the written path.
func (s *Settings) Save(base string) (string, error) {
	dir := filepath.Dir(base)
	name := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", name, time.Now().Format("20060102-150405")))

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write settings copy: %w", err)
	}
	return path, nil
}
