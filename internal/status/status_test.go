package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ssciwr/mailcom/internal/config"
	"github.com/ssciwr/mailcom/internal/metrics"
	"github.com/ssciwr/mailcom/internal/pseudonymize"
)

func newTestServer(t *testing.T, token string) (*Server, *pseudonymize.NameTable) {
	t.Helper()
	names, err := pseudonymize.NewNameTable(map[string][]string{
		"fr": {"Claude", "Dominique"},
		"es": {"José"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return New("127.0.0.1:0", config.Defaults(), names, metrics.New(), token, nil), names
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "running" {
		t.Errorf("unexpected status payload: %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "replacements") {
		t.Errorf("metrics snapshot missing: %s", rec.Body.String())
	}
}

func TestPseudonymRemoval(t *testing.T) {
	s, names := newTestServer(t, "")

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"lang":"fr","name":"Claude"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pseudonyms/remove", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", rec.Code, rec.Body.String())
	}
	if names.Len("fr") != 1 {
		t.Errorf("pseudonym not removed, list length %d", names.Len("fr"))
	}

	rec = httptest.NewRecorder()
	body = strings.NewReader(`{"lang":"fr","name":"Claude"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pseudonyms/remove", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for absent pseudonym, got %d", rec.Code)
	}
}

func TestPseudonymRemovalRequiresPost(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pseudonyms/remove", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret-token")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}
