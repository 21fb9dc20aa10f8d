package backend

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/maniack/gatehouse/internal/logging"
	"github.com/maniack/gatehouse/internal/monitoring"
	"github.com/maniack/gatehouse/internal/oauth"
	"github.com/maniack/gatehouse/internal/sessions"
	"github.com/maniack/gatehouse/internal/storage"
)

type MonitoringConfig struct {
	MetricsEndpoint string
	HealthzEndpoint string
}

type Config struct {
	Store           *storage.Store
	Logger          *logrus.Logger
	Version         string
	CORSAllowOrigin []string
	Monitoring      MonitoringConfig

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration

	AuditLogTTL time.Duration

	OAuth        oauth.Config
	SessionStore sessions.SessionStore

	DevLoginEnabled bool
	SkipWorkers     bool
}

type Server struct {
	Router   chi.Router
	store    *storage.Store
	log      *logrus.Logger
	cfg      Config
	sessions sessions.SessionStore
	web      *sessions.Web
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		logging.Init(false, false)
		cfg.Logger = logging.L()
	}
	if cfg.Monitoring.MetricsEndpoint == "" {
		cfg.Monitoring.MetricsEndpoint = "/metrics"
	}
	if cfg.Monitoring.HealthzEndpoint == "" {
		cfg.Monitoring.HealthzEndpoint = "/healthz"
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = sessions.NewMemorySessionStore()
	}

	monitoring.Init()

	s := &Server{
		store:    cfg.Store,
		log:      cfg.Logger,
		cfg:      cfg,
		sessions: cfg.SessionStore,
		web:      sessions.NewWeb(cfg.SessionStore, cfg.SessionTTL),
	}
	r := chi.NewRouter()
	s.Router = r

	// Middlewares
	r.Use(chmw.RequestID)
	r.Use(chmw.RealIP)
	r.Use(chmw.Recoverer)
	r.Use(RequestLogger(cfg.Logger, cfg.Monitoring.HealthzEndpoint+"/alive", cfg.Monitoring.HealthzEndpoint+"/ready"))
	r.Use(SecurityHeaders())
	r.Use(LangDetect())
	r.Use(s.JWTAuth)

	co := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(cfg.CORSAllowOrigin) == 0 {
		co.AllowOriginFunc = func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		}
	} else {
		for _, o := range cfg.CORSAllowOrigin {
			if o == "*" {
				co.AllowCredentials = false
			}
		}
		co.AllowedOrigins = cfg.CORSAllowOrigin
	}
	r.Use(cors.Handler(co))

	// OAuth Handlers
	oa := oauth.NewHandler(s.store, s.log, cfg.OAuth, s.sessions, s.web, s.issueTokens)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", oa.HandleGitHubLogin)
		r.Get("/github/callback", oa.HandleGitHubCallback)
		r.Get("/oidc/login", oa.HandleOIDCLogin)
		r.Get("/oidc/callback", oa.HandleOIDCCallback)
		r.Get("/dev/login", s.handleDevLoginGET)
	})

	// Pages and the error reporter
	r.Get("/", s.handleIndex)
	r.Get("/login", s.handleLoginPage)
	r.Get("/error", s.handleAuthError)

	// Healthz
	r.Route(cfg.Monitoring.HealthzEndpoint, func(r chi.Router) {
		r.Get("/alive", s.handleAlive)
		r.Get("/ready", s.handleReady)
	})
	// Metrics
	r.Handle(cfg.Monitoring.MetricsEndpoint, monitoring.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/dev-login", s.handleDevLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)
				r.Get("/user", s.handleGetUser)
				r.Get("/audit", s.handleGetUserAudit)
			})
		})
	})

	// Start background workers
	if !cfg.SkipWorkers {
		s.startAuditLogCleanup(1 * time.Hour)
	}

	return s, nil
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.store == nil || s.store.DB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	// Simple ping via raw query
	if err := s.store.DB.WithContext(ctx).Exec("select 1").Error; err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// helpers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonNewDecoder(r *http.Request) *json.Decoder {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec
}
