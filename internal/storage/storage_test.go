package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestFindOrCreateUser(t *testing.T) {
	s := openTestStore(t)

	u, err := s.FindOrCreateUser("github", "42", "octo@example.com", "Octo", "https://a/1.png")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("created user has no ID")
	}

	// Same identity resolves to the same user, with refreshed attributes.
	u2, err := s.FindOrCreateUser("github", "42", "octo@example.com", "The Octocat", "https://a/2.png")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if u2.ID != u.ID {
		t.Fatalf("got ID %s, want %s", u2.ID, u.ID)
	}
	if u2.Name != "The Octocat" || u2.AvatarURL != "https://a/2.png" {
		t.Fatalf("attributes not refreshed: %+v", u2)
	}

	// Different provider with the same external ID is a different user.
	u3, err := s.FindOrCreateUser("oidc", "42", "other@example.com", "Other", "")
	if err != nil {
		t.Fatalf("create oidc: %v", err)
	}
	if u3.ID == u.ID {
		t.Fatal("providers must not share identities")
	}

	if _, err := s.FindOrCreateUser("", "42", "", "", ""); err == nil {
		t.Fatal("expected error for empty provider")
	}
}

func TestJWTSecretRoundtrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJWTSecret(); err == nil {
		t.Fatal("expected error before secret is saved")
	}
	if err := s.SaveJWTSecret("s3cret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetJWTSecret()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("secret = %q", got)
	}
}

func TestPruneAuditLogs(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	for i, ts := range []time.Time{now.Add(-48 * time.Hour), now.Add(-36 * time.Hour), now} {
		entry := AuditLog{ID: NewUUID(), Timestamp: ts, UserID: "u1", Provider: "github", Event: "login", Status: "success"}
		if err := s.DB.Create(&entry).Error; err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	n, err := s.PruneAuditLogs(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}

	logs, err := s.GetUserAuditLogs("u1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("remaining logs = %d, want 1", len(logs))
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := openTestStore(t)

	u, err := s.FindOrCreateUser("github", "7", "a@b.c", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	entry := AuditLog{ID: NewUUID(), Timestamp: time.Now().UTC(), UserID: u.ID, Provider: "github", Event: "login", Status: "success"}
	if err := s.DB.Create(&entry).Error; err != nil {
		t.Fatalf("audit: %v", err)
	}

	if err := s.DeleteUser(u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetUser(u.ID); err == nil {
		t.Fatal("user still present after delete")
	}
	logs, err := s.GetUserAuditLogs(u.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("audit logs not cascaded: %d left", len(logs))
	}
}
