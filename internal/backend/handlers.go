package backend

import (
	htmltemplate "html/template"
	"net/http"

	"github.com/maniack/gatehouse/internal/l10n"
	"github.com/maniack/gatehouse/internal/logging"
	"github.com/maniack/gatehouse/internal/monitoring"
	"github.com/maniack/gatehouse/internal/sessions"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if uid, _ := UserIDFromCtx(r.Context()); uid != "" {
		http.Redirect(w, r, "/api/auth/user", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

var loginTmpl = htmltemplate.Must(htmltemplate.New("login").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; background-color: #f9fafb; margin: 0; padding: 20px; }
        .card { background: white; padding: 2.5rem; border-radius: 16px; box-shadow: 0 10px 25px rgba(0,0,0,0.05); width: 100%; max-width: 400px; text-align: center; }
        h2 { margin-bottom: 1.5rem; color: #111827; font-size: 1.5rem; }
        .btn { display: flex; align-items: center; justify-content: center; width: 100%; padding: 14px; margin-bottom: 16px; border-radius: 10px; text-decoration: none; font-weight: 600; text-align: center; border: none; cursor: pointer; }
        .btn-github { background-color: #24292f; color: white; }
        .btn-oidc { background-color: #6366f1; color: white; }
        .btn-dev { background-color: #ef4444; color: white; }
        .error { display: none; color: #b91c1c; background: #fee2e2; border-radius: 10px; padding: 12px; margin-bottom: 16px; }
    </style>
</head>
<body>
    <div class="card">
        <h2>{{.Title}}</h2>
        <div id="error" class="error"></div>
        {{if .GitHubEnabled}}
        <a href="/auth/github/login" class="btn btn-github">{{.WithGitHub}}</a>
        {{end}}
        {{if .OIDCEnabled}}
        <a href="/auth/oidc/login" class="btn btn-oidc">{{.WithOIDC}}</a>
        {{end}}
        {{if .DevEnabled}}
        <a href="/auth/dev/login" class="btn btn-dev">{{.WithDev}}</a>
        {{end}}
        {{if not (or .GitHubEnabled .OIDCEnabled .DevEnabled)}}
        <p>{{.NoneEnabled}}</p>
        {{end}}
    </div>
    <script>
        fetch('/error').then(function (r) { return r.text(); }).then(function (msg) {
            if (msg) {
                var el = document.getElementById('error');
                el.textContent = msg;
                el.style.display = 'block';
            }
        });
    </script>
</body>
</html>`))

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	lang := "en"
	if l, ok := r.Context().Value(logging.ContextLang).(string); ok {
		lang = l
	}

	data := struct {
		Lang          string
		Title         string
		WithGitHub    string
		WithOIDC      string
		WithDev       string
		NoneEnabled   string
		GitHubEnabled bool
		OIDCEnabled   bool
		DevEnabled    bool
	}{
		Lang:          lang,
		Title:         l10n.T(lang, "login.title"),
		WithGitHub:    l10n.T(lang, "login.with_github"),
		WithOIDC:      l10n.T(lang, "login.with_oidc"),
		WithDev:       l10n.T(lang, "login.with_dev"),
		NoneEnabled:   l10n.T(lang, "login.none_enabled"),
		GitHubEnabled: s.cfg.OAuth.GitHubClientID != "" && s.cfg.OAuth.GitHubClientSecret != "" && s.cfg.OAuth.GitHubRedirectURL != "",
		OIDCEnabled:   s.cfg.OAuth.OIDCIssuer != "" && s.cfg.OAuth.OIDCClientID != "" && s.cfg.OAuth.OIDCRedirectURL != "",
		DevEnabled:    s.cfg.DevLoginEnabled,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginTmpl.Execute(w, data)
}

// handleAuthError returns the pending authentication error message and clears
// it, so the next call within the same session gets an empty body. No auth
// required: the endpoint exists to explain why authentication failed.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request) {
	msg, err := s.web.TakeAttr(r, sessions.KeyLastAuthError)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("failed to read auth error from session")
	}
	if msg != "" {
		monitoring.IncAuthErrorServed()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(msg))
}

func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevLoginEnabled {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "dev login disabled"})
		return
	}
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := jsonNewDecoder(r).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email required"})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Email
	}

	u, err := s.store.FindOrCreateUser("dev", req.Email, req.Email, name, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot create user: " + err.Error()})
		return
	}

	if err := s.issueTokens(w, r, u.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleDevLoginGET(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevLoginEnabled {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "dev login disabled"})
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		email = "dev@localhost"
	}

	u, err := s.store.FindOrCreateUser("dev", email, email, email, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot create user: " + err.Error()})
		return
	}
	if err := s.issueTokens(w, r, u.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error: " + err.Error()})
		return
	}

	redirect := s.cfg.OAuth.AuthSuccessRedirect
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}
