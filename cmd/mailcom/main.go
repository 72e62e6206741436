// Command mailcom pseudonymizes batches of emails.
//
// It reads .eml/.html files from a directory (or rows from a CSV file),
// detects the dominant language of each body, finds date/time expressions so
// they survive number redaction, and replaces person names, locations,
// organizations, email addresses and non-date numbers with placeholders.
// Results are written as JSON, CSV or XML records.
//
// Usage:
//
//	# Process a directory of .eml files
//	mailcom -in ./data/in -out ./data/out.json
//
//	# Process a CSV corpus with four workers
//	mailcom -in corpus.csv -format csv -out out.csv -workers 4
//
//	# Custom workflow settings, status API for long runs
//	mailcom -in ./in -out out.json -settings workflow-settings.json -status-addr 127.0.0.1:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ssciwr/mailcom/internal/config"
	"github.com/ssciwr/mailcom/internal/inout"
	"github.com/ssciwr/mailcom/internal/langdetect"
	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/metrics"
	"github.com/ssciwr/mailcom/internal/nlp"
	"github.com/ssciwr/mailcom/internal/pseudonymize"
	"github.com/ssciwr/mailcom/internal/status"
	"github.com/ssciwr/mailcom/internal/textutil"
	"github.com/ssciwr/mailcom/internal/timedetect"
)

func main() {
	var (
		inPath       = flag.String("in", "", "input directory of .eml/.html files, or a .csv file")
		outPath      = flag.String("out", "", "output file (default: stdout)")
		format       = flag.String("format", "json", "output format: json, csv or xml")
		settingsPath = flag.String("settings", "", "workflow settings JSON file")
		saveSettings = flag.Bool("save-settings", false, "persist the effective settings with a timestamped filename")
		statusAddr   = flag.String("status-addr", "", "serve the status API on this address (empty: disabled)")
		statusToken  = flag.String("status-token", "", "bearer token for the status API")
		nerURL       = flag.String("ner-url", "", "use an HTTP NER sidecar instead of the local transformer")
		workers      = flag.Int("workers", 0, "concurrent workers (overrides settings)")
	)
	flag.Parse()

	log := logger.New("mailcom", "info")
	if *inPath == "" {
		log.Fatal("usage", "missing -in path")
	}

	settings, err := config.Load(*settingsPath, log)
	if err != nil {
		log.Fatalf("config", "%v", err)
	}
	log.SetLevel(settings.LogLevel)
	if *workers > 0 {
		settings.Workers = *workers
	}
	if *saveSettings {
		base := *settingsPath
		if base == "" {
			base = "workflow-settings.json"
		}
		if path, err := settings.Save(base); err != nil {
			log.Warnf("config", "could not persist settings: %v", err)
		} else {
			log.Infof("config", "effective settings written to %s", path)
		}
	}

	m := metrics.New()
	names, err := pseudonymize.NewNameTable(settings.PseudoFirstNames)
	if err != nil {
		log.Fatalf("config", "%v", err)
	}

	loader := nlp.NewLoader(settings.ModelsDir, logger.New("nlp", settings.LogLevel))
	if settings.NERPipeline != nil {
		if err := loader.SetPipelineSpec(nlp.FeatureNER, *settings.NERPipeline); err != nil {
			log.Fatalf("config", "ner_pipeline: %v", err)
		}
	}
	if settings.LangPipeline != nil {
		if err := loader.SetPipelineSpec(nlp.FeatureLangDetector, *settings.LangPipeline); err != nil {
			log.Fatalf("config", "lang_pipeline: %v", err)
		}
	}

	// Language router, unless detection is bypassed by default_lang.
	var router *langdetect.Router
	if settings.DefaultLang == "" {
		backend, err := langdetect.NewBackend(settings.LangDetectionLib, loader)
		if err != nil {
			log.Fatalf("langdetect", "%v", err)
		}
		var cache langdetect.Cache
		if settings.DetectionCacheFile != "" {
			cache, err = langdetect.NewBboltCache(settings.DetectionCacheFile, logger.New("langdetect", settings.LogLevel))
			if err != nil {
				log.Warnf("langdetect", "detection cache disabled: %v", err)
			} else {
				defer cache.Close() //nolint:errcheck // best-effort close on exit
			}
		}
		router = langdetect.NewRouter(backend, cache, logger.New("langdetect", settings.LogLevel))
	}

	var detector *timedetect.Detector
	if settings.DatetimeDetection {
		detector, err = timedetect.New(settings.TimeParsing, loader, logger.New("timedetect", settings.LogLevel))
		if err != nil {
			log.Fatalf("timedetect", "%v", err)
		}
	}

	// NER is only needed when entity redaction is on.
	var recognizer nlp.Recognizer
	if settings.PseudoNE {
		if *nerURL != "" {
			recognizer = nlp.NewRemoteRecognizer(*nerURL)
		} else {
			recognizer, err = loader.Recognizer()
			if err != nil {
				log.Fatalf("nlp", "%v", err)
			}
		}
	}

	if *statusAddr != "" {
		srv := status.New(*statusAddr, settings, names, m, *statusToken, logger.New("status", settings.LogLevel))
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Errorf("status", "%v", err)
			}
		}()
	}

	emails, err := readInputs(*inPath, settings)
	if err != nil {
		log.Fatalf("input", "%v", err)
	}
	log.Infof("input", "%d emails to process with %d worker(s)", len(emails), settings.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records := processAll(ctx, emails, settings, loader, router, detector, recognizer, names, m, log)

	if err := writeOutput(*outPath, *format, records); err != nil {
		log.Fatalf("output", "%v", err)
	}

	snap := m.Snapshot()
	log.Infof("done", "processed=%d skipped=%d entities=%d collisions=%d",
		snap.Emails.Processed, snap.Emails.Skipped,
		snap.Replacements.Persons+snap.Replacements.Locations+snap.Replacements.Organizations+snap.Replacements.Misc,
		snap.Collisions.Retries)
}

// readInputs loads the batch from a directory or a CSV file.
func readInputs(path string, settings *config.Settings) ([]*inout.Email, error) {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return inout.LoadCSV(path, settings.CSVContentColumn)
	}
	files, err := inout.ListFiles(path, inout.DefaultFileTypes)
	if err != nil {
		return nil, err
	}
	var emails []*inout.Email
	for _, f := range files {
		email, err := inout.ReadEmail(f)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// processAll fans the batch out over settings.Workers workers. Every worker
// owns its own engine; the pseudonym table is shared and serializes
// internally. Output order matches input order.
func processAll(ctx context.Context, emails []*inout.Email, settings *config.Settings,
	loader *nlp.Loader, router *langdetect.Router, detector *timedetect.Detector,
	recognizer nlp.Recognizer, names *pseudonymize.NameTable, m *metrics.Metrics,
	log *logger.Logger) []inout.Record {

	type job struct {
		idx   int
		email *inout.Email
	}
	jobs := make(chan job)
	records := make([]inout.Record, len(emails))
	var wg sync.WaitGroup

	for w := 0; w < settings.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine := pseudonymize.NewEngine(loader, recognizer, names, settings.SpacyModel,
				logger.New("pseudonymize", settings.LogLevel), m)
			for j := range jobs {
				records[j.idx] = processOne(j.email, settings, engine, router, detector, m, log)
			}
		}()
	}

dispatch:
	for i, email := range emails {
		select {
		case <-ctx.Done():
			log.Warn("cancel", "interrupted, draining workers")
			break dispatch
		case jobs <- job{idx: i, email: email}:
		}
	}
	close(jobs)
	wg.Wait()
	return records
}

// processOne runs the pipeline for a single email.
func processOne(email *inout.Email, settings *config.Settings, engine *pseudonymize.Engine,
	router *langdetect.Router, detector *timedetect.Detector, m *metrics.Metrics,
	log *logger.Logger) inout.Record {

	start := time.Now()
	record := inout.Record{
		Content:         email.Content,
		Date:            email.Date,
		Attachments:     email.Attachments,
		AttachmentTypes: email.AttachmentTypes,
	}

	cleaned, _ := textutil.Clean(email.Content)
	record.CleanedContent = cleaned

	// The CSV sentinel marks rows without usable content.
	if cleaned == "" || cleaned == settings.UnmatchedKeyword {
		m.EmailsSkipped.Add(1)
		return record
	}

	lang := settings.DefaultLang
	if lang == "" {
		det, err := router.TopLang(cleaned)
		if err != nil {
			// No detectable language: skip unless default_lang is set.
			log.Warnf("langdetect", "%s: %v", email.Path, err)
			m.EmailsSkipped.Add(1)
			m.ErrorsLangDetect.Add(1)
			return record
		}
		lang = det.Lang
	}
	record.Lang = lang

	var dates []string
	if detector != nil {
		spans, err := detector.GetDateTime(cleaned, lang, settings.SpacyModel)
		if err != nil {
			log.Warnf("timedetect", "%s: %v", email.Path, err)
		} else {
			dates = timedetect.Surfaces(spans)
			m.DatesDetected.Add(int64(len(dates)))
		}
	}
	record.DetectedDatetime = dates

	flags := pseudonymize.Flags{
		EmailAddresses: settings.PseudoEmailAddresses,
		NamedEntities:  settings.PseudoNE,
		Numbers:        settings.PseudoNumbers,
	}
	out, collision, err := engine.Pseudonymize(cleaned, lang, dates, flags)
	if err != nil {
		log.Errorf("pseudonymize", "%s: %v", email.Path, err)
		m.EmailsSkipped.Add(1)
		return record
	}
	if collision {
		// The colliding pseudonyms are gone from the table; one re-run
		// against the recorded entities yields a collision-free output.
		m.CollisionRetries.Add(1)
		out, _, err = engine.PseudonymizeWithUpdatedNE(engine.Sentences(), nil, lang, dates, flags)
		if err != nil {
			log.Errorf("pseudonymize", "%s: %v", email.Path, err)
			m.EmailsSkipped.Add(1)
			return record
		}
	}

	record.PseudoContent = out
	record.NEList = engine.Entities()
	record.Sentences = engine.Sentences()
	record.SentencesAfterEmail = engine.SentencesAfterEmail()
	record.Collision = collision

	m.EmailsProcessed.Add(1)
	m.RecordEmailLatency(time.Since(start))
	return record
}

// writeOutput serializes records to path (or stdout) in the given format.
func writeOutput(path, format string, records []inout.Record) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path) //nolint:gosec // user-chosen output path
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // flushed by the writers below
		out = f
	}
	switch format {
	case "json":
		return inout.WriteJSON(out, records)
	case "csv":
		return inout.WriteCSV(out, records)
	case "xml":
		return inout.WriteXML(out, records)
	default:
		return fmt.Errorf("unknown output format %q (json, csv, xml)", format)
	}
}
