package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maniack/gatehouse/internal/sessions"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

func newOrgTestHandler(cfg Config) *Handler {
	store := sessions.NewMemorySessionStore()
	return NewHandler(nil, logrus.New(), cfg, store, sessions.NewWeb(store, time.Minute), nil)
}

func orgsServer(t *testing.T, status int, orgs []Organization, calls *int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orgs)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "gho_test"}
}

func TestRequireOrganizationMember(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, []Organization{{Login: "spring-projects"}}, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	if err := h.requireOrganization(context.Background(), testToken(), p); err != nil {
		t.Fatalf("expected member to pass, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("orgs API calls = %d, want 1", calls)
	}
}

func TestRequireOrganizationDenied(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, []Organization{{Login: "other-org"}}, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects", OrgDeniedMessage: "Not in Spring Team"})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	err := h.requireOrganization(context.Background(), testToken(), p)
	if err == nil {
		t.Fatal("expected denial")
	}
	ae, ok := err.(*AuthError)
	if !ok {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if !ae.Denied() {
		t.Fatalf("code = %q, want %q", ae.Code, CodeOrgDenied)
	}
	if ae.Message != "Not in Spring Team" {
		t.Fatalf("message = %q, want 'Not in Spring Team'", ae.Message)
	}
}

func TestRequireOrganizationDefaultMessage(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, nil, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	err := h.requireOrganization(context.Background(), testToken(), p)
	if err == nil || err.Error() != "Not in spring-projects" {
		t.Fatalf("err = %v, want 'Not in spring-projects'", err)
	}
}

func TestRequireOrganizationCaseSensitive(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, []Organization{{Login: "Spring-Projects"}}, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	if err := h.requireOrganization(context.Background(), testToken(), p); err == nil {
		t.Fatal("expected case-sensitive mismatch to be denied")
	}
}

func TestRequireOrganizationDisabled(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, nil, &calls)

	h := newOrgTestHandler(Config{})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	if err := h.requireOrganization(context.Background(), testToken(), p); err != nil {
		t.Fatalf("expected nil with rule disabled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("orgs API calls = %d, want 0 (check skipped)", calls)
	}
}

func TestRequireOrganizationFailsClosed(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusInternalServerError, nil, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	err := h.requireOrganization(context.Background(), testToken(), p)
	if err == nil {
		t.Fatal("expected failure on provider error")
	}
	ae, ok := err.(*AuthError)
	if !ok || ae.Denied() {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	// server errors are retried
	if calls != 3 {
		t.Fatalf("orgs API calls = %d, want 3 (bounded retry)", calls)
	}
}

func TestListOrganizationsNoRetryOnAuthError(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusUnauthorized, nil, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	if _, err := h.listOrganizations(context.Background(), testToken(), ts.URL); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("orgs API calls = %d, want 1 (token errors are not retried)", calls)
	}
}

func TestListOrganizationsCancelledRequest(t *testing.T) {
	unblock := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(unblock)
		ts.Close()
	})

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.listOrganizations(ctx, testToken(), ts.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("returned after %s, want prompt return on cancel", elapsed)
	}
}

func TestRequireOrganizationCachesPositiveResult(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, []Organization{{Login: "spring-projects"}}, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects", OrgCacheTTL: time.Minute})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	for i := 0; i < 3; i++ {
		if err := h.requireOrganization(context.Background(), testToken(), p); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("orgs API calls = %d, want 1 (cached)", calls)
	}

	// A different user is not served from the cache.
	p2 := &githubProfile{ID: 2, Login: "hubot", OrganizationsURL: ts.URL}
	if err := h.requireOrganization(context.Background(), testToken(), p2); err != nil {
		t.Fatalf("second user: %v", err)
	}
	if calls != 2 {
		t.Fatalf("orgs API calls = %d, want 2", calls)
	}
}

func TestRequireOrganizationDoesNotCacheDenial(t *testing.T) {
	var calls int32
	ts := orgsServer(t, http.StatusOK, []Organization{{Login: "other-org"}}, &calls)

	h := newOrgTestHandler(Config{RequiredOrg: "spring-projects", OrgCacheTTL: time.Minute})
	p := &githubProfile{ID: 1, Login: "octocat", OrganizationsURL: ts.URL}

	for i := 0; i < 2; i++ {
		if err := h.requireOrganization(context.Background(), testToken(), p); err == nil {
			t.Fatalf("check %d: expected denial", i)
		}
	}
	if calls != 2 {
		t.Fatalf("orgs API calls = %d, want 2 (denials re-fetch)", calls)
	}
}
