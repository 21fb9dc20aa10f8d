package oauth

import "fmt"

// Error codes carried by AuthError. org_denied means credentials were valid
// but the organization rule rejected the login; everything else is an
// authentication failure.
const (
	CodeStateMismatch  = "state_mismatch"
	CodeExchangeFailed = "exchange_failed"
	CodeProviderError  = "provider_error"
	CodeOrgDenied      = "org_denied"
)

// AuthError is an authentication or authorization failure surfaced to the
// client as HTTP 401. Message is safe for client display: it never contains
// credentials, only the reason class (e.g. organization non-membership).
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Denied reports whether the error is an authorization denial rather than a
// failed authentication.
func (e *AuthError) Denied() bool { return e.Code == CodeOrgDenied }

func authErrorf(code, format string, args ...any) *AuthError {
	return &AuthError{Code: code, Message: fmt.Sprintf(format, args...)}
}
