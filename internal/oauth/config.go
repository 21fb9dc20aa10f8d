package oauth

import "time"

// Config holds OAuth/OIDC provider configuration.
type Config struct {
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Endpoint overrides for GitHub Enterprise or tests. Empty values mean
	// the public github.com endpoints.
	GitHubAuthURL  string
	GitHubTokenURL string
	GitHubAPIURL   string

	// RequiredOrg restricts GitHub logins to members of this organization
	// (exact, case-sensitive match on the org login). Empty disables the rule.
	RequiredOrg string
	// OrgDeniedMessage is the denial text shown to rejected users.
	// Defaults to "Not in <RequiredOrg>".
	OrgDeniedMessage string
	// OrgCacheTTL enables caching of positive membership checks for this
	// duration. Zero disables caching and every login re-fetches.
	OrgCacheTTL time.Duration

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	AuthSuccessRedirect  string
	LoginFailureRedirect string
}

func (c Config) orgDeniedMessage() string {
	if c.OrgDeniedMessage != "" {
		return c.OrgDeniedMessage
	}
	return "Not in " + c.RequiredOrg
}

func (c Config) loginFailureRedirect() string {
	if c.LoginFailureRedirect != "" {
		return c.LoginFailureRedirect
	}
	return "/login?error"
}
