package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rentproof/internal/config"
	"rentproof/internal/db"
	"rentproof/internal/enforce"
	"rentproof/internal/engine"
	"rentproof/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("case-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitCase(ctx, "case-1", "12 High Street, Flat 3", "", "tester"); err != nil {
		t.Fatalf("init case: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func strPtr(s string) *string { return &s }

// newBareIssue creates an open issue with no description, evidence, comms or
// severity. It scores 30 (at-risk) under the pinned clock.
func newBareIssue(t *testing.T, env testEnv, title string) string {
	t.Helper()
	is, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		CaseID:  "case-1",
		Title:   title,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return is.ID
}

// newDocumentedIssue creates an issue that scores 90 (strong): long
// description, high severity, three pieces of evidence and two comms.
func newDocumentedIssue(t *testing.T, env testEnv, title string) string {
	t.Helper()
	is, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		CaseID:      "case-1",
		Title:       title,
		Description: "Persistent damp patch on the bedroom wall, spreading since March.",
		Severity:    strPtr("high"),
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.AddEvidence(env.Ctx, engine.EvidenceAddOptions{
			IssueID: is.ID,
			Kind:    "photo",
			Label:   "damp patch",
			ActorID: "tester",
		}); err != nil {
			t.Fatalf("add evidence: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AddComm(env.Ctx, engine.CommAddOptions{
			IssueID:   is.ID,
			Direction: "outbound",
			Channel:   "email",
			Summary:   "asked the landlord to inspect the damp",
			ActorID:   "tester",
		}); err != nil {
			t.Fatalf("add comm: %v", err)
		}
	}
	return is.ID
}

func setPlan(t *testing.T, env testEnv, plan string) {
	t.Helper()
	if _, err := env.Engine.DB.Exec(`UPDATE accounts SET plan = ?`, plan); err != nil {
		t.Fatalf("set plan: %v", err)
	}
}

func TestIssueStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	id := newDocumentedIssue(t, env, "Damp in bedroom")

	is, err := env.Engine.SetIssueStatus(env.Ctx, id, "in_progress", engine.GateOptions{ActorID: "tester"})
	if err != nil || is.Status != "in_progress" {
		t.Fatalf("to in_progress: %v (status %s)", err, is.Status)
	}
	is, err = env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{ActorID: "tester"})
	if err != nil || is.Status != "resolved" {
		t.Fatalf("to resolved: %v (status %s)", err, is.Status)
	}
	// resolved issues can be reopened
	is, err = env.Engine.SetIssueStatus(env.Ctx, id, "open", engine.GateOptions{ActorID: "tester"})
	if err != nil || is.Status != "open" {
		t.Fatalf("reopen: %v (status %s)", err, is.Status)
	}
	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "closed", engine.GateOptions{ActorID: "tester"}); err == nil {
		t.Fatal("open -> closed must be rejected")
	}
	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "sideways", engine.GateOptions{ActorID: "tester"}); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestResolveAtRiskRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)
	id := newBareIssue(t, env, "Broken boiler")

	_, err := env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{ActorID: "tester"})
	var confErr enforce.ConfirmationRequiredError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}
	if confErr.Result.Level != enforce.LevelSoftBlocked {
		t.Fatalf("level = %s, want soft_blocked", confErr.Result.Level)
	}

	is, err := env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{
		ActorID: "tester",
		Confirm: true,
		Reason:  strPtr("landlord fixed it over the phone"),
	})
	if err != nil || is.Status != "resolved" {
		t.Fatalf("confirmed resolve: %v (status %s)", err, is.Status)
	}

	overrides, err := env.Engine.Repo.ListOverrides(env.Ctx, "case-1", 10)
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(overrides) != 1 {
		t.Fatalf("override count = %d, want 1", len(overrides))
	}
	o := overrides[0]
	if o.Action != "resolve_issue" || o.Level != "soft_blocked" || o.HealthScore != 30 {
		t.Errorf("unexpected override entry: %+v", o)
	}
	if o.Reason == nil || *o.Reason != "landlord fixed it over the phone" {
		t.Errorf("reason not recorded: %+v", o.Reason)
	}
}

func TestCloseAtRiskHardBlocked(t *testing.T) {
	env := newTestEnv(t)
	id := newBareIssue(t, env, "Broken boiler")

	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{ActorID: "tester", Force: true}); err != nil {
		t.Fatalf("forced resolve: %v", err)
	}
	_, err := env.Engine.SetIssueStatus(env.Ctx, id, "closed", engine.GateOptions{ActorID: "tester", Confirm: true})
	var blocked enforce.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Result.Level != enforce.LevelHardBlocked {
		t.Fatalf("level = %s, want hard_blocked", blocked.Result.Level)
	}
}

func TestProPlanSoftensHardBlock(t *testing.T) {
	env := newTestEnv(t)
	setPlan(t, env, "pro")
	id := newBareIssue(t, env, "Broken boiler")

	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{ActorID: "tester", Force: true}); err != nil {
		t.Fatalf("forced resolve: %v", err)
	}
	// hard_blocked in guided mode becomes soft_blocked on the pro plan
	_, err := env.Engine.SetIssueStatus(env.Ctx, id, "closed", engine.GateOptions{ActorID: "tester"})
	var confErr enforce.ConfirmationRequiredError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}
	is, err := env.Engine.SetIssueStatus(env.Ctx, id, "closed", engine.GateOptions{ActorID: "tester", Confirm: true})
	if err != nil || is.Status != "closed" {
		t.Fatalf("confirmed close: %v", err)
	}
}

func TestForceSkipsGateAndOverrideLog(t *testing.T) {
	env := newTestEnv(t)
	id := newBareIssue(t, env, "Broken boiler")

	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "resolved", engine.GateOptions{ActorID: "tester", Force: true}); err != nil {
		t.Fatalf("forced resolve: %v", err)
	}
	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "closed", engine.GateOptions{ActorID: "tester", Force: true}); err != nil {
		t.Fatalf("forced close: %v", err)
	}
	overrides, err := env.Engine.Repo.ListOverrides(env.Ctx, "case-1", 10)
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("force must not log overrides, got %d", len(overrides))
	}
}

func TestEvidenceAndCommsImproveHealth(t *testing.T) {
	env := newTestEnv(t)
	id := newBareIssue(t, env, "Broken boiler")

	h, err := env.Engine.IssueHealth(env.Ctx, id)
	if err != nil {
		t.Fatalf("issue health: %v", err)
	}
	if h.Score != 30 || h.Status != "at-risk" {
		t.Fatalf("bare issue health = %d/%s, want 30/at-risk", h.Score, h.Status)
	}

	if _, err := env.Engine.UpdateIssue(env.Ctx, id, engine.IssueUpdateOptions{
		Description: strPtr("No heating or hot water since the 14th; engineer visit refused."),
		Severity:    strPtr("high"),
		ActorID:     "tester",
	}); err != nil {
		t.Fatalf("update issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.AddEvidence(env.Ctx, engine.EvidenceAddOptions{
			IssueID: id, Kind: "photo", Label: "boiler display", ActorID: "tester",
		}); err != nil {
			t.Fatalf("add evidence: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AddComm(env.Ctx, engine.CommAddOptions{
			IssueID: id, Direction: "outbound", Channel: "email",
			Summary: "reported the boiler fault", ActorID: "tester",
		}); err != nil {
			t.Fatalf("add comm: %v", err)
		}
	}

	h, err = env.Engine.IssueHealth(env.Ctx, id)
	if err != nil {
		t.Fatalf("issue health: %v", err)
	}
	if h.Score != 90 || h.Status != "strong" {
		t.Fatalf("documented issue health = %d/%s, want 90/strong", h.Score, h.Status)
	}
}

func TestDeleteEvidenceWarnedLogsOverride(t *testing.T) {
	env := newTestEnv(t)
	id := newDocumentedIssue(t, env, "Damp in bedroom")

	evs, err := env.Engine.Repo.ListEvidence(env.Ctx, id)
	if err != nil || len(evs) == 0 {
		t.Fatalf("list evidence: %v (%d)", err, len(evs))
	}
	// strong health makes deletion warned: it proceeds but is recorded
	if err := env.Engine.DeleteEvidence(env.Ctx, evs[0].ID, engine.GateOptions{ActorID: "tester"}); err != nil {
		t.Fatalf("delete evidence: %v", err)
	}
	overrides, err := env.Engine.Repo.ListOverrides(env.Ctx, "case-1", 10)
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Level != "warned" || overrides[0].Action != "delete_evidence" {
		t.Fatalf("unexpected overrides: %+v", overrides)
	}
}

func TestCaseHealthIsWeakestIssue(t *testing.T) {
	env := newTestEnv(t)
	newDocumentedIssue(t, env, "Damp in bedroom")
	bare := newBareIssue(t, env, "Broken boiler")

	h, err := env.Engine.CaseHealth(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("case health: %v", err)
	}
	if h.Score != 30 || h.Status != "at-risk" {
		t.Fatalf("case health = %d/%s, want 30/at-risk", h.Score, h.Status)
	}

	if _, err := env.Engine.ArchiveIssue(env.Ctx, bare, engine.GateOptions{ActorID: "tester", Force: true}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	h, err = env.Engine.CaseHealth(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("case health: %v", err)
	}
	if h.Score != 90 || h.Status != "strong" {
		t.Fatalf("case health after archive = %d/%s, want 90/strong", h.Score, h.Status)
	}
}

func TestCaseHealthEmptyCase(t *testing.T) {
	env := newTestEnv(t)
	h, err := env.Engine.CaseHealth(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("case health: %v", err)
	}
	if h.Score != 100 || h.Status != "strong" || h.Label != "No Active Issues" {
		t.Fatalf("empty case health = %d/%s/%q", h.Score, h.Status, h.Label)
	}
}

func TestNextStepTargetsMissingEvidence(t *testing.T) {
	env := newTestEnv(t)
	id := newBareIssue(t, env, "Broken boiler")

	step, err := env.Engine.NextStep(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("next step: %v", err)
	}
	if step.IssueID != id || step.Action != "add_evidence" {
		t.Fatalf("next step = %+v", step)
	}
}

func TestGeneratePackFullSelection(t *testing.T) {
	env := newTestEnv(t)
	id := newDocumentedIssue(t, env, "Damp in bedroom")

	pack, readiness, err := env.Engine.GeneratePack(env.Ctx, engine.PackGenerateOptions{
		CaseID:      "case-1",
		Title:       "Damp evidence pack",
		SelectedIDs: []string{id},
		GateOptions: engine.GateOptions{ActorID: "tester"},
	})
	if err != nil {
		t.Fatalf("generate pack: %v", err)
	}
	if readiness.Score != 100 || readiness.RequiresConfirmation {
		t.Fatalf("readiness = %+v", readiness)
	}
	if pack.ReadinessScore != 100 || pack.ReadinessStatus != "strong" || pack.Confirmed {
		t.Fatalf("pack = %+v", pack)
	}

	stored, err := env.Engine.Repo.ListPacks(env.Ctx, "case-1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("list packs: %v (%d)", err, len(stored))
	}
	if stored[0].ID != pack.ID || len(stored[0].IssueIDs) != 1 {
		t.Fatalf("stored pack = %+v", stored[0])
	}
}

func TestGeneratePackPartialSelectionNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	included := newDocumentedIssue(t, env, "Damp in bedroom")
	newDocumentedIssue(t, env, "Broken extractor fan")

	_, readiness, err := env.Engine.GeneratePack(env.Ctx, engine.PackGenerateOptions{
		CaseID:      "case-1",
		Title:       "Damp only",
		SelectedIDs: []string{included},
		GateOptions: engine.GateOptions{ActorID: "tester"},
	})
	var confErr enforce.ConfirmationRequiredError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}
	if !readiness.RequiresConfirmation {
		t.Fatalf("readiness should require confirmation: %+v", readiness)
	}

	pack, _, err := env.Engine.GeneratePack(env.Ctx, engine.PackGenerateOptions{
		CaseID:      "case-1",
		Title:       "Damp only",
		SelectedIDs: []string{included},
		GateOptions: engine.GateOptions{ActorID: "tester", Confirm: true},
	})
	if err != nil {
		t.Fatalf("confirmed generate: %v", err)
	}
	if !pack.Confirmed {
		t.Fatal("pack should record the confirmation")
	}
}

func TestGeneratePackRejectsForeignIssue(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitCase(env.Ctx, "case-2", "7 Other Road", "", "tester"); err != nil {
		t.Fatalf("init second case: %v", err)
	}
	id := newDocumentedIssue(t, env, "Damp in bedroom")

	_, _, err := env.Engine.GeneratePack(env.Ctx, engine.PackGenerateOptions{
		CaseID:      "case-2",
		Title:       "Wrong case",
		SelectedIDs: []string{id},
		GateOptions: engine.GateOptions{ActorID: "tester"},
	})
	if err == nil {
		t.Fatal("issue from another case accepted")
	}
}

func TestCheckEnforcementIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	newBareIssue(t, env, "Broken boiler")

	res, err := env.Engine.CheckEnforcement(env.Ctx, "case-1", enforce.ActionGeneratePack)
	if err != nil {
		t.Fatalf("check enforcement: %v", err)
	}
	if res.Level != enforce.LevelHardBlocked || res.Context.HealthScore != 30 {
		t.Fatalf("result = %+v", res)
	}
	overrides, err := env.Engine.Repo.ListOverrides(env.Ctx, "case-1", 10)
	if err != nil || len(overrides) != 0 {
		t.Fatalf("check must not write overrides: %v (%d)", err, len(overrides))
	}
}

func TestArchivedIssueRejectsStatusChange(t *testing.T) {
	env := newTestEnv(t)
	id := newDocumentedIssue(t, env, "Damp in bedroom")
	if _, err := env.Engine.ArchiveIssue(env.Ctx, id, engine.GateOptions{ActorID: "tester"}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.Engine.SetIssueStatus(env.Ctx, id, "in_progress", engine.GateOptions{ActorID: "tester"}); err == nil {
		t.Fatal("archived issue accepted a status change")
	}
}

func TestUpdateCasePersistsRowAndAuditTogether(t *testing.T) {
	env := newTestEnv(t)

	c, err := env.Engine.UpdateCase(env.Ctx, "case-1", "archived", "14 High Street, Flat 3", nil, "tester")
	if err != nil {
		t.Fatalf("update case: %v", err)
	}
	if c.Status != "archived" || c.Address != "14 High Street, Flat 3" {
		t.Fatalf("case = %+v", c)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "case-1", "case.updated", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("case.updated events = %d, want 1", len(evts))
	}

	// a rejected update leaves no stray audit row
	if _, err := env.Engine.UpdateCase(env.Ctx, "case-1", "suspended", "", nil, "tester"); err == nil {
		t.Fatal("invalid case status accepted")
	}
	evts, err = env.Engine.Repo.LatestEvents(env.Ctx, 10, "case-1", "case.updated", "", "")
	if err != nil || len(evts) != 1 {
		t.Fatalf("case.updated events after rejected update = %d (%v), want 1", len(evts), err)
	}
}
