package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CookieName carries the browser session ID.
const CookieName = "gatehouse_session"

// KeyLastAuthError is the well-known session attribute holding the last
// authentication failure message. Written once per failed attempt, consumed
// exactly once by the error endpoint.
const KeyLastAuthError = "last_auth_error"

// Web manages per-browser sessions on top of a SessionStore: a random-ID
// cookie mapped to a small attribute bag with a sliding TTL.
type Web struct {
	store SessionStore
	ttl   time.Duration
}

// NewWeb creates a browser session manager. ttl bounds how long an idle
// session (and any pending error message in it) survives.
func NewWeb(store SessionStore, ttl time.Duration) *Web {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Web{store: store, ttl: ttl}
}

func newSessionID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (wb *Web) sessionID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	id, _ := url.QueryUnescape(c.Value)
	return id
}

// Ensure returns the request's session ID, creating the session cookie if absent.
func (wb *Web) Ensure(w http.ResponseWriter, r *http.Request) string {
	if id := wb.sessionID(r); id != "" {
		return id
	}
	id := newSessionID()
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(wb.ttl.Seconds()),
	})
	return id
}

func (wb *Web) loadAttrs(id string) (map[string]string, error) {
	raw, err := wb.store.Get("web:" + id)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	if raw != nil {
		_ = json.Unmarshal(raw, &attrs)
	}
	return attrs, nil
}

func (wb *Web) saveAttrs(id string, attrs map[string]string) error {
	if len(attrs) == 0 {
		return wb.store.Del("web:" + id)
	}
	raw, _ := json.Marshal(attrs)
	return wb.store.Set("web:"+id, raw, wb.ttl)
}

// SetAttr stores an attribute in the request's session, creating the session
// if needed. The session TTL slides forward on every write.
func (wb *Web) SetAttr(w http.ResponseWriter, r *http.Request, key, value string) error {
	id := wb.Ensure(w, r)
	attrs, err := wb.loadAttrs(id)
	if err != nil {
		return err
	}
	attrs[key] = value
	return wb.saveAttrs(id, attrs)
}

// GetAttr returns the attribute value, or empty string when the session or
// the attribute does not exist.
func (wb *Web) GetAttr(r *http.Request, key string) (string, error) {
	id := wb.sessionID(r)
	if id == "" {
		return "", nil
	}
	attrs, err := wb.loadAttrs(id)
	if err != nil {
		return "", err
	}
	return attrs[key], nil
}

// TakeAttr returns the attribute value and removes it from the session, so a
// second call within the same session returns empty.
func (wb *Web) TakeAttr(r *http.Request, key string) (string, error) {
	id := wb.sessionID(r)
	if id == "" {
		return "", nil
	}
	attrs, err := wb.loadAttrs(id)
	if err != nil {
		return "", err
	}
	val, ok := attrs[key]
	if !ok {
		return "", nil
	}
	delete(attrs, key)
	if err := wb.saveAttrs(id, attrs); err != nil {
		return "", err
	}
	return val, nil
}

// Destroy removes the session state and expires the cookie.
func (wb *Web) Destroy(w http.ResponseWriter, r *http.Request) {
	if id := wb.sessionID(r); id != "" {
		_ = wb.store.Del("web:" + id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
