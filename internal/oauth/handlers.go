package oauth

import (
	"errors"
	"net/http"
	"time"

	"github.com/maniack/gatehouse/internal/monitoring"
	"github.com/maniack/gatehouse/internal/sessions"
	"github.com/maniack/gatehouse/internal/storage"
	"github.com/sirupsen/logrus"
)

// IssueTokenFunc issues app JWT and refresh token for the given user ID.
type IssueTokenFunc func(w http.ResponseWriter, r *http.Request, userID string) error

// Handler bundles OAuth handlers for providers.
type Handler struct {
	store       *storage.Store
	logger      *logrus.Logger
	cfg         Config
	sessions    sessions.SessionStore
	web         *sessions.Web
	issueTokens IssueTokenFunc
	httpClient  *http.Client
}

// NewHandler constructs Handler. web carries per-browser sessions used for
// the one-shot auth error message and org-check cache bookkeeping.
func NewHandler(store *storage.Store, logger *logrus.Logger, cfg Config, sessStore sessions.SessionStore, web *sessions.Web, issue IssueTokenFunc) *Handler {
	if sessStore == nil {
		sessStore = sessions.NewMemorySessionStore()
	}
	if web == nil {
		web = sessions.NewWeb(sessStore, 30*time.Minute)
	}
	return &Handler{
		store:       store,
		logger:      logger,
		cfg:         cfg,
		sessions:    sessStore,
		web:         web,
		issueTokens: issue,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *Handler) GitHubEnabled() bool {
	return h.cfg.GitHubClientID != "" && h.cfg.GitHubClientSecret != "" && h.cfg.GitHubRedirectURL != ""
}
func (h *Handler) OIDCEnabled() bool {
	return h.cfg.OIDCIssuer != "" && h.cfg.OIDCClientID != "" && h.cfg.OIDCClientSecret != "" && h.cfg.OIDCRedirectURL != ""
}

func (h *Handler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) { h.githubLogin(w, r) }
func (h *Handler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	h.githubCallback(w, r)
}
func (h *Handler) HandleOIDCLogin(w http.ResponseWriter, r *http.Request)    { h.oidcLogin(w, r) }
func (h *Handler) HandleOIDCCallback(w http.ResponseWriter, r *http.Request) { h.oidcCallback(w, r) }

// failAuth records the failure message in the browser session under the
// well-known key and delegates to the default failure behavior: 401 for JSON
// clients, redirect to the login page for browsers.
func (h *Handler) failAuth(w http.ResponseWriter, r *http.Request, provider string, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		ae = &AuthError{Code: CodeProviderError, Message: err.Error()}
	}

	result := "failure"
	if ae.Denied() {
		result = "denied"
	}
	monitoring.IncLogin(provider, result)
	h.logger.WithContext(r.Context()).WithFields(logrus.Fields{
		"provider": provider,
		"code":     ae.Code,
	}).Info("auth failed: " + ae.Message)

	if serr := h.web.SetAttr(w, r, sessions.KeyLastAuthError, ae.Message); serr != nil {
		h.logger.WithContext(r.Context()).WithError(serr).Warn("failed to record auth error in session")
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": ae.Code, "message": ae.Message})
		return
	}
	http.Redirect(w, r, h.cfg.loginFailureRedirect(), http.StatusFound)
}

// audit writes an authentication event to the audit log, best effort.
func (h *Handler) audit(r *http.Request, userID, provider, event, status, detail string) {
	if h.store == nil {
		return
	}
	rid, _ := logRequestID(r)
	entry := storage.AuditLog{
		ID:        storage.NewUUID(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Provider:  provider,
		Event:     event,
		Status:    status,
		Detail:    detail,
		RequestID: rid,
	}
	if err := h.store.DB.Create(&entry).Error; err != nil {
		h.logger.WithError(err).Error("failed to write audit log")
	}
}
