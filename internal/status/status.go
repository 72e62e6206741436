// Package status provides a lightweight HTTP API for runtime inspection of
// a long-running batch: progress counters, effective settings, and the
// mutable pseudonym table.
//
// Endpoints:
//
//	GET  /status             - run health, active backend and mode
//	GET  /metrics            - full metrics snapshot
//	GET  /pseudonyms         - per-language pseudonym list lengths
//	POST /pseudonyms/remove  - remove a pseudonym {"lang":"fr","name":"Claude"}
package status

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ssciwr/mailcom/internal/config"
	"github.com/ssciwr/mailcom/internal/logger"
	"github.com/ssciwr/mailcom/internal/metrics"
	"github.com/ssciwr/mailcom/internal/pseudonymize"
)

// Server is the status API server.
type Server struct {
	addr      string
	settings  *config.Settings
	names     *pseudonymize.NameTable
	m         *metrics.Metrics // nil = metrics endpoint disabled
	token     string           // bearer token for auth; empty = no auth
	startTime time.Time
	log       *logger.Logger
}

// New creates a status server bound to addr.
func New(addr string, settings *config.Settings, names *pseudonymize.NameTable, m *metrics.Metrics, token string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("status", "info")
	}
	if token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return &Server{
		addr:      addr,
		settings:  settings,
		names:     names,
		m:         m,
		token:     token,
		startTime: time.Now(),
		log:       log,
	}
}

// Handler returns the HTTP handler for the status API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/pseudonyms", s.handlePseudonyms)
	mux.HandleFunc("/pseudonyms/remove", s.handleRemovePseudonym)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		LangDetection string `json:"langDetectionLib"`
		TimeParsing   string `json:"timeParsing"`
		Workers       int    `json:"workers"`
		Languages     []string `json:"pseudonymLanguages"`
	}
	resp := response{
		Status:        "running",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		LangDetection: s.settings.LangDetectionLib,
		TimeParsing:   s.settings.TimeParsing,
		Workers:       s.settings.Workers,
		Languages:     s.names.Languages(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.m == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.m.Snapshot())
}

func (s *Server) handlePseudonyms(w http.ResponseWriter, _ *http.Request) {
	counts := map[string]int{}
	for _, lang := range s.names.Languages() {
		counts[lang] = s.names.Len(lang)
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleRemovePseudonym(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Lang string `json:"lang"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lang == "" || req.Name == "" {
		http.Error(w, `invalid request: need {"lang":"...","name":"..."}`, http.StatusBadRequest)
		return
	}
	if !s.names.Remove(req.Lang, req.Name) {
		http.Error(w, "pseudonym not found", http.StatusNotFound)
		return
	}
	s.log.Infof("pseudonyms", "removed %q from %s list", req.Name, req.Lang)
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": req.Name})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode", "JSON encode error: %v", err)
	}
}

// ListenAndServe starts the status HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Infof("listen", "status API on %s", s.addr)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
