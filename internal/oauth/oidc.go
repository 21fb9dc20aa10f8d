package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/maniack/gatehouse/internal/monitoring"
	"golang.org/x/oauth2"
)

const providerOIDC = "oidc"

func (h *Handler) oidcConfig(ctx context.Context, r *http.Request) (*oidc.Provider, *oauth2.Config, error) {
	if !h.OIDCEnabled() {
		return nil, nil, fmt.Errorf("OIDC not configured")
	}

	provider, err := oidc.NewProvider(ctx, h.cfg.OIDCIssuer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get provider: %v", err)
	}

	conf := &oauth2.Config{
		ClientID:     h.cfg.OIDCClientID,
		ClientSecret: h.cfg.OIDCClientSecret,
		RedirectURL:  GetAbsoluteURL(r, h.cfg.OIDCRedirectURL),
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return provider, conf, nil
}

func (h *Handler) oidcLogin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	_, conf, err := h.oidcConfig(ctx, r)
	if err != nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "oidc not configured"})
		return
	}

	state := randomState()
	_ = h.sessions.Set("state:oidc:"+state, []byte("1"), 15*time.Minute)

	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_oidc_state",
		Value:    url.QueryEscape(state),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   900,
	})

	http.Redirect(w, r, conf.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) oidcCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	provider, conf, err := h.oidcConfig(ctx, r)
	if err != nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "oidc not configured"})
		return
	}

	stateQ := r.URL.Query().Get("state")
	if stateQ == "" {
		h.failAuth(w, r, providerOIDC, authErrorf(CodeStateMismatch, "invalid state"))
		return
	}
	if v, _ := h.sessions.Get("state:oidc:" + stateQ); v != nil {
		_ = h.sessions.Del("state:oidc:" + stateQ)
	} else {
		c, err := r.Cookie("oauth_oidc_state")
		if err != nil {
			h.failAuth(w, r, providerOIDC, authErrorf(CodeStateMismatch, "invalid state (no session)"))
			return
		}
		if cv, _ := url.QueryUnescape(c.Value); cv != stateQ {
			h.failAuth(w, r, providerOIDC, authErrorf(CodeStateMismatch, "invalid state (cookie)"))
			return
		}
	}

	// Clear cookie
	http.SetCookie(w, &http.Cookie{
		Name:    "oauth_oidc_state",
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.failAuth(w, r, providerOIDC, authErrorf(CodeExchangeFailed, "missing code"))
		return
	}

	oauth2Token, err := conf.Exchange(ctx, code)
	if err != nil {
		h.failAuth(w, r, providerOIDC, authErrorf(CodeExchangeFailed, "exchange failed"))
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		h.failAuth(w, r, providerOIDC, authErrorf(CodeExchangeFailed, "no id_token"))
		return
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: h.cfg.OIDCClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		h.failAuth(w, r, providerOIDC, authErrorf(CodeProviderError, "verification failed"))
		return
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	_ = idToken.Claims(&claims)

	// No organization rule here: the rule applies to the GitHub registration only.
	u, err := h.store.FindOrCreateUser(providerOIDC, claims.Subject, claims.Email, claims.Name, claims.Picture)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user error"})
		return
	}

	if err := h.issueTokens(w, r, u.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}

	monitoring.IncLogin(providerOIDC, "success")
	h.audit(r, u.ID, providerOIDC, "login", "success", "")

	redirect := h.cfg.AuthSuccessRedirect
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}
