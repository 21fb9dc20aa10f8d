package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maniack/gatehouse/internal/monitoring"
	"golang.org/x/oauth2"
	githubep "golang.org/x/oauth2/github"
)

const (
	providerGitHub = "github"

	defaultGitHubAPIURL = "https://api.github.com"
)

// githubProfile is the subset of the GitHub user API we care about.
type githubProfile struct {
	ID               int64  `json:"id"`
	Login            string `json:"login"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	AvatarURL        string `json:"avatar_url"`
	OrganizationsURL string `json:"organizations_url"`
}

func (h *Handler) githubConf(r *http.Request) *oauth2.Config {
	ep := githubep.Endpoint
	if h.cfg.GitHubAuthURL != "" && h.cfg.GitHubTokenURL != "" {
		ep = oauth2.Endpoint{AuthURL: h.cfg.GitHubAuthURL, TokenURL: h.cfg.GitHubTokenURL}
	}
	return &oauth2.Config{
		ClientID:     h.cfg.GitHubClientID,
		ClientSecret: h.cfg.GitHubClientSecret,
		RedirectURL:  GetAbsoluteURL(r, h.cfg.GitHubRedirectURL),
		Endpoint:     ep,
		Scopes:       []string{"read:user", "user:email", "read:org"},
	}
}

func (h *Handler) githubAPIURL() string {
	if h.cfg.GitHubAPIURL != "" {
		return strings.TrimSuffix(h.cfg.GitHubAPIURL, "/")
	}
	return defaultGitHubAPIURL
}

func (h *Handler) githubLogin(w http.ResponseWriter, r *http.Request) {
	if !h.GitHubEnabled() {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "github not configured"})
		return
	}

	state := randomState()
	_ = h.sessions.Set("state:github:"+state, []byte("1"), 15*time.Minute)

	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_github_state",
		Value:    url.QueryEscape(state),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   900,
	})

	http.Redirect(w, r, h.githubConf(r).AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) githubCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if !h.GitHubEnabled() {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "github not configured"})
		return
	}

	stateQ := r.URL.Query().Get("state")
	if stateQ == "" {
		h.failAuth(w, r, providerGitHub, authErrorf(CodeStateMismatch, "invalid state"))
		return
	}
	if v, _ := h.sessions.Get("state:github:" + stateQ); v != nil {
		_ = h.sessions.Del("state:github:" + stateQ)
	} else {
		// Fallback to the cookie if the session is lost (best effort)
		c, err := r.Cookie("oauth_github_state")
		if err != nil {
			h.failAuth(w, r, providerGitHub, authErrorf(CodeStateMismatch, "invalid state (no session)"))
			return
		}
		if cv, _ := url.QueryUnescape(c.Value); cv != stateQ {
			h.failAuth(w, r, providerGitHub, authErrorf(CodeStateMismatch, "invalid state (cookie)"))
			return
		}
	}

	// Clear cookie
	http.SetCookie(w, &http.Cookie{
		Name:    "oauth_github_state",
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})

	// Provider-reported error (user denied the grant, etc.)
	if e := r.URL.Query().Get("error"); e != "" {
		desc := r.URL.Query().Get("error_description")
		if desc == "" {
			desc = e
		}
		h.failAuth(w, r, providerGitHub, authErrorf(CodeProviderError, "%s", desc))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.failAuth(w, r, providerGitHub, authErrorf(CodeExchangeFailed, "missing code"))
		return
	}

	conf := h.githubConf(r)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		h.failAuth(w, r, providerGitHub, authErrorf(CodeExchangeFailed, "exchange failed"))
		return
	}

	profile, err := h.fetchGitHubProfile(ctx, tok)
	if err != nil {
		h.failAuth(w, r, providerGitHub, err)
		return
	}

	// Organization gatekeeper: runs only for GitHub logins, fail-closed.
	if err := h.requireOrganization(ctx, tok, profile); err != nil {
		h.audit(r, "", providerGitHub, "denied", "error", err.Error())
		h.failAuth(w, r, providerGitHub, err)
		return
	}

	u, err := h.store.FindOrCreateUser(providerGitHub, strconv.FormatInt(profile.ID, 10), profile.Email, displayName(profile), profile.AvatarURL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user error"})
		return
	}

	// Remember the org cache key so logout can invalidate the cached check.
	if h.cfg.OrgCacheTTL > 0 && h.cfg.RequiredOrg != "" {
		_ = h.web.SetAttr(w, r, "org_check_cache", orgCacheKey(providerGitHub, profile.Login, h.cfg.RequiredOrg))
	}

	if err := h.issueTokens(w, r, u.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}

	monitoring.IncLogin(providerGitHub, "success")
	h.audit(r, u.ID, providerGitHub, "login", "success", "")

	redirect := h.cfg.AuthSuccessRedirect
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func displayName(p *githubProfile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Login
}

// fetchGitHubProfile resolves the external identity via the user API.
func (h *Handler) fetchGitHubProfile(ctx context.Context, tok *oauth2.Token) (*githubProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.githubAPIURL()+"/user", nil)
	if err != nil {
		return nil, authErrorf(CodeProviderError, "profile request: %v", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, authErrorf(CodeProviderError, "profile fetch failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, authErrorf(CodeProviderError, "profile fetch failed: %s", resp.Status)
	}

	var p githubProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, authErrorf(CodeProviderError, "profile decode: %v", err)
	}
	if p.ID == 0 || p.Login == "" {
		return nil, authErrorf(CodeProviderError, "incomplete profile")
	}
	return &p, nil
}

func orgCacheKey(provider, login, org string) string {
	return fmt.Sprintf("orgcheck:%s:%s:%s", provider, login, org)
}
