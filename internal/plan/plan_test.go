package plan

import (
	"context"
	"strings"
	"testing"

	"rentproof/internal/db"
	"rentproof/internal/migrate"
)

func TestModeFor(t *testing.T) {
	cases := []struct {
		plan Plan
		want Mode
	}{
		{Free, ModeGuided},
		{Plus, ModeGuided},
		{Pro, ModeAdvisor},
	}
	for _, tc := range cases {
		got, err := ModeFor(tc.plan)
		if err != nil {
			t.Fatalf("ModeFor(%s): %v", tc.plan, err)
		}
		if got != tc.want {
			t.Errorf("ModeFor(%s) = %s, want %s", tc.plan, got, tc.want)
		}
	}
	if _, err := ModeFor(Plan("enterprise")); err == nil {
		t.Error("unknown plan accepted")
	}
}

func TestValid(t *testing.T) {
	for _, p := range []Plan{Free, Plus, Pro} {
		if !Valid(p) {
			t.Errorf("Valid(%s) = false", p)
		}
	}
	if Valid(Plan("trial")) {
		t.Error("Valid(trial) = true")
	}
}

func seedCase(t *testing.T, resolver Resolver, accountID, email, storedPlan, caseID string) {
	t.Helper()
	_, err := resolver.DB.Exec(`INSERT INTO accounts (id, name, email, plan, created_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, "Test Account", email, storedPlan, "2024-06-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	_, err = resolver.DB.Exec(`INSERT INTO cases (id, account_id, address, status, created_at) VALUES (?, ?, ?, 'active', ?)`,
		caseID, accountID, "1 Test Street", "2024-06-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(t *testing.T) Resolver {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return Resolver{
		DB: conn,
		Privileged: func(email string) bool {
			return strings.HasSuffix(email, "@staff.example.com")
		},
	}
}

func TestForCase(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	seedCase(t, r, "acc-free", "tenant@example.com", "free", "case-free")
	seedCase(t, r, "acc-plus", "other@example.com", "plus", "case-plus")
	seedCase(t, r, "acc-staff", "dev@staff.example.com", "free", "case-staff")

	if got, err := r.ForCase(ctx, "case-free"); err != nil || got != Free {
		t.Errorf("ForCase(case-free) = %s, %v", got, err)
	}
	if got, err := r.ForCase(ctx, "case-plus"); err != nil || got != Plus {
		t.Errorf("ForCase(case-plus) = %s, %v", got, err)
	}
	// Privileged email wins over the stored plan.
	if got, err := r.ForCase(ctx, "case-staff"); err != nil || got != Pro {
		t.Errorf("ForCase(case-staff) = %s, %v", got, err)
	}
}

func TestForCaseMissing(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.ForCase(context.Background(), "no-such-case"); err != ErrNoAccount {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
}

func TestForCaseUnknownStoredPlan(t *testing.T) {
	r := newTestResolver(t)
	seedCase(t, r, "acc-bad", "tenant@example.com", "enterprise", "case-bad")
	if _, err := r.ForCase(context.Background(), "case-bad"); err == nil {
		t.Fatal("unknown stored plan accepted")
	}
}
