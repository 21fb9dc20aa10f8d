package backend

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/maniack/gatehouse/internal/logging"
	"github.com/maniack/gatehouse/internal/monitoring"
	"github.com/sirupsen/logrus"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
)

func WithUserID(ctx context.Context, uid string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, uid)
	ctx = context.WithValue(ctx, logging.ContextUserID, uid)
	return ctx
}

func UserIDFromCtx(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxUserID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func RequestIDFromCtx(ctx context.Context) (string, bool) {
	if rid := chmw.GetReqID(ctx); rid != "" {
		return rid, true
	}
	return "", false
}

// RequestLogger logs basic request info and feeds the HTTP request counter.
func RequestLogger(l *logrus.Logger, debugPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			if lrw.status == 0 {
				lrw.status = http.StatusOK
			}

			uid, _ := UserIDFromCtx(r.Context())
			rid, _ := RequestIDFromCtx(r.Context())
			var route string
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			monitoring.IncHTTP(r.Method, route, strconv.Itoa(lrw.status))

			isDebugPath := false
			for _, p := range debugPaths {
				if r.URL.Path == p {
					isDebugPath = true
					break
				}
			}

			fields := logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      lrw.status,
				"size":        lrw.size,
				"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
				"request_id":  rid,
			}
			if uid != "" {
				fields["user_id"] = uid
			}

			entry := l.WithContext(r.Context()).WithFields(fields)

			// Downgrade to DEBUG for successful (<400) requests on debug paths
			// or when a user is identified, to keep user activity out of the
			// default log level.
			isLowLevel := lrw.status < 400 && (isDebugPath || uid != "")

			if isLowLevel {
				entry.Debug("request")
			} else {
				entry.Info("request")
			}
		})
	}
}

// SecurityHeaders adds common security-related headers to all responses.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			csp := strings.Join([]string{
				"default-src 'self'",
				"base-uri 'self'",
				"form-action 'self'",
				"script-src 'self' 'unsafe-inline'",
				"style-src 'self' 'unsafe-inline'",
				"img-src 'self' data: https:",
				"font-src 'self' data:",
				"connect-src 'self'",
				"frame-ancestors 'none'",
			}, "; ")
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

			next.ServeHTTP(w, r)
		})
	}
}

// LangDetect picks the UI language from the Accept-Language header and stores
// it in the request context for the l10n-aware handlers.
func LangDetect() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := r.Header.Get("Accept-Language")
			if lang == "" {
				lang = "en"
			}
			// Basic parsing: pick first 2 chars
			if len(lang) >= 2 {
				lang = lang[:2]
			}
			ctx := context.WithValue(r.Context(), logging.ContextLang, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
