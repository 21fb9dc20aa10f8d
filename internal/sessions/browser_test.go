package sessions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", CookieName)
	return nil
}

func TestWebEnsureSetsCookie(t *testing.T) {
	wb := NewWeb(NewMemorySessionStore(), time.Minute)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id := wb.Ensure(w, r)
	if id == "" {
		t.Fatal("empty session id")
	}
	c := sessionCookie(t, w)
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	// The same cookie yields the same session.
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(c)
	w2 := httptest.NewRecorder()
	if got := wb.Ensure(w2, r2); got != id {
		t.Fatalf("session id = %q, want %q", got, id)
	}
}

func TestWebTakeAttrConsumesOnce(t *testing.T) {
	wb := NewWeb(NewMemorySessionStore(), time.Minute)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := wb.SetAttr(w, r, KeyLastAuthError, "Not in Spring Team"); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	c := sessionCookie(t, w)

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(c)
	got, err := wb.TakeAttr(r2, KeyLastAuthError)
	if err != nil {
		t.Fatalf("take attr: %v", err)
	}
	if got != "Not in Spring Team" {
		t.Fatalf("take attr = %q", got)
	}

	// Second read within the same session is empty.
	got, err = wb.TakeAttr(r2, KeyLastAuthError)
	if err != nil {
		t.Fatalf("take attr again: %v", err)
	}
	if got != "" {
		t.Fatalf("expected consumed attribute, got %q", got)
	}
}

func TestWebAttrWithoutSession(t *testing.T) {
	wb := NewWeb(NewMemorySessionStore(), time.Minute)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := wb.GetAttr(r, KeyLastAuthError)
	if err != nil || got != "" {
		t.Fatalf("get attr without session = (%q, %v), want empty", got, err)
	}
	got, err = wb.TakeAttr(r, KeyLastAuthError)
	if err != nil || got != "" {
		t.Fatalf("take attr without session = (%q, %v), want empty", got, err)
	}
}

func TestWebDestroy(t *testing.T) {
	wb := NewWeb(NewMemorySessionStore(), time.Minute)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := wb.SetAttr(w, r, "k", "v"); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	c := sessionCookie(t, w)

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(c)
	w2 := httptest.NewRecorder()
	wb.Destroy(w2, r2)

	got, _ := wb.GetAttr(r2, "k")
	if got != "" {
		t.Fatalf("attr survived destroy: %q", got)
	}
}
