package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/maniack/gatehouse/internal/monitoring"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Organization is a provider org record, fetched transiently and never persisted.
type Organization struct {
	Login string `json:"login"`
}

// requireOrganization enforces the configured organization rule against the
// resolved GitHub identity. Returns nil when the rule is disabled or the user
// is a member; an AuthError with code org_denied when membership is missing;
// any other error means the check could not be performed (fail-closed).
func (h *Handler) requireOrganization(ctx context.Context, tok *oauth2.Token, profile *githubProfile) error {
	if h.cfg.RequiredOrg == "" {
		return nil
	}

	cacheKey := orgCacheKey(providerGitHub, profile.Login, h.cfg.RequiredOrg)
	if h.cfg.OrgCacheTTL > 0 {
		if v, _ := h.sessions.Get(cacheKey); v != nil {
			monitoring.IncOrgCheck("cached")
			return nil
		}
	}

	start := time.Now()
	orgs, err := h.listOrganizations(ctx, tok, profile.OrganizationsURL)
	monitoring.ObserveOrgCheck(time.Since(start).Seconds())
	if err != nil {
		monitoring.IncOrgCheck("error")
		h.logger.WithContext(ctx).WithFields(logrus.Fields{
			"provider": providerGitHub,
			"org":      h.cfg.RequiredOrg,
		}).WithError(err).Warn("organization check failed")
		return authErrorf(CodeProviderError, "organization check failed")
	}

	for _, o := range orgs {
		if o.Login == h.cfg.RequiredOrg {
			monitoring.IncOrgCheck("member")
			if h.cfg.OrgCacheTTL > 0 {
				_ = h.sessions.Set(cacheKey, []byte("1"), h.cfg.OrgCacheTTL)
			}
			return nil
		}
	}

	monitoring.IncOrgCheck("denied")
	return &AuthError{Code: CodeOrgDenied, Message: h.cfg.orgDeniedMessage()}
}

// listOrganizations calls the provider's organization-listing API with the
// user's access token. The URL comes from the profile attributes, falling
// back to the API default. The call sits on the authentication critical path,
// so it runs with a bounded retry under per-attempt timeouts; the context is
// derived from the incoming request, so client aborts cancel it.
func (h *Handler) listOrganizations(ctx context.Context, tok *oauth2.Token, orgsURL string) ([]Organization, error) {
	// Only the first page of the listing is read; the fallback URL asks for
	// the maximum page size.
	if orgsURL == "" {
		orgsURL = h.githubAPIURL() + "/user/orgs?per_page=100"
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		orgs, retryable, err := h.fetchOrganizations(ctx, tok, orgsURL)
		if err == nil {
			return orgs, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}

func (h *Handler) fetchOrganizations(ctx context.Context, tok *oauth2.Token, orgsURL string) ([]Organization, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, orgsURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		// Token or scope problems won't heal on retry
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, authErrorf(CodeProviderError, "organizations fetch: %s", resp.Status)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, authErrorf(CodeProviderError, "organizations fetch: %s", resp.Status)
	}

	var orgs []Organization
	if err := json.NewDecoder(resp.Body).Decode(&orgs); err != nil {
		return nil, false, authErrorf(CodeProviderError, "organizations decode: %v", err)
	}
	return orgs, false, nil
}
