package backend

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/maniack/gatehouse/internal/logging"
)

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.JSONFormatter{})

	mw := RequestLogger(l, "/healthz/alive")
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Regular request logs at INFO.
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("expected info level for /login, got: %s", buf.String())
	}

	// Probe paths log at DEBUG.
	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/healthz/alive", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("expected debug level for probe path, got: %s", buf.String())
	}

	// Authenticated request logs at DEBUG too.
	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req = req.WithContext(WithUserID(req.Context(), "user-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("expected debug level for authenticated request, got: %s", buf.String())
	}

	// Errors stay at INFO regardless of path.
	buf.Reset()
	hErr := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	req = httptest.NewRequest(http.MethodGet, "/healthz/alive", nil)
	hErr.ServeHTTP(httptest.NewRecorder(), req)
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("expected info level for failed probe, got: %s", buf.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'self'") {
		t.Errorf("unexpected CSP: %q", csp)
	}
}

func TestLangDetect(t *testing.T) {
	var got string
	h := LangDetect()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = r.Context().Value(logging.ContextLang).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "ru" {
		t.Errorf("lang = %q, want ru", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "en" {
		t.Errorf("default lang = %q, want en", got)
	}
}
