package packs

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func documented(id string) IssueForPack {
	return IssueForPack{
		ID:            id,
		Title:         "Issue " + id,
		Status:        "open",
		Severity:      strPtr("medium"),
		UpdatedAt:     testNow.Add(-24 * time.Hour),
		EvidenceCount: 2,
	}
}

func commsFor(ids ...string) []CommForPack {
	var res []CommForPack
	for _, id := range ids {
		res = append(res, CommForPack{IssueID: id, Direction: "outbound"})
	}
	return res
}

func selection(ids ...string) map[string]bool {
	m := map[string]bool{}
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestFullSelectionFullyDocumented(t *testing.T) {
	issues := []IssueForPack{documented("a"), documented("b")}
	r := ScoreReadiness(issues, selection("a", "b"), commsFor("a", "b"), testNow)
	if r.Score != 100 {
		t.Fatalf("expected 100, got %d", r.Score)
	}
	if r.Status != StatusStrong {
		t.Fatalf("expected strong, got %s", r.Status)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if r.RequiresConfirmation {
		t.Fatal("full documented selection should not require confirmation")
	}
}

func TestCoverageGapPenalty(t *testing.T) {
	// One of two open issues excluded: -round(0.5*30) = -15, plus -10 for the
	// excluded issue having evidence.
	issues := []IssueForPack{documented("a"), documented("b")}
	r := ScoreReadiness(issues, selection("a"), commsFor("a", "b"), testNow)
	if r.Score != 75 {
		t.Fatalf("expected 75, got %d", r.Score)
	}
	if !r.RequiresConfirmation {
		t.Fatal("partial selection should require confirmation")
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Code != CodeExcludedWithEvidence {
		t.Fatalf("expected excluded_with_evidence warning, got %v", r.Warnings)
	}
}

func TestExcludedHighSeverityForcesWeakBand(t *testing.T) {
	// Nine well-documented included issues keep the numeric score high; one
	// excluded urgent issue must still cap the band at weak.
	var issues []IssueForPack
	sel := map[string]bool{}
	var comms []CommForPack
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		issues = append(issues, documented(id))
		sel[id] = true
		comms = append(comms, CommForPack{IssueID: id, Direction: "inbound"})
	}
	urgent := documented("z")
	urgent.Severity = strPtr("urgent")
	urgent.EvidenceCount = 0
	issues = append(issues, urgent)

	r := ScoreReadiness(issues, sel, comms, testNow)
	// gap: -round(0.1*30) = -3; excluded urgent: -25. Score 72 would band
	// moderate, but the critical warning caps it.
	if r.Score != 72 {
		t.Fatalf("expected 72, got %d", r.Score)
	}
	if r.Status != StatusWeak {
		t.Fatalf("critical warning must cap band at weak, got %s", r.Status)
	}
	if !r.RequiresConfirmation {
		t.Fatal("excluded high severity should require confirmation")
	}
	if r.Warnings[0].Type != WarnCritical {
		t.Fatalf("critical warnings must sort first, got %s", r.Warnings[0].Type)
	}
}

func TestIncludedPenalties(t *testing.T) {
	bare := IssueForPack{
		ID:        "a",
		Title:     "Bare issue",
		Status:    "open",
		UpdatedAt: testNow.Add(-24 * time.Hour),
	}
	r := ScoreReadiness([]IssueForPack{bare}, selection("a"), nil, testNow)
	// included with no evidence: -15; no-comms penalty is skipped when the
	// no-evidence flag already fired.
	if r.Score != 85 {
		t.Fatalf("expected 85, got %d", r.Score)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Code != CodeIncludedNoEvidence {
		t.Fatalf("expected included_no_evidence only, got %v", r.Warnings)
	}
}

func TestIncludedNoCommsPenalty(t *testing.T) {
	is := documented("a")
	r := ScoreReadiness([]IssueForPack{is}, selection("a"), nil, testNow)
	if r.Score != 95 {
		t.Fatalf("expected 95, got %d", r.Score)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Code != CodeIncludedNoComms {
		t.Fatalf("expected included_no_comms, got %v", r.Warnings)
	}
	if r.Warnings[0].Type != WarnInfo {
		t.Fatalf("included_no_comms should be info, got %s", r.Warnings[0].Type)
	}
}

func TestStaleActivityInfoOnly(t *testing.T) {
	is := documented("a")
	is.UpdatedAt = testNow.Add(-30 * 24 * time.Hour)
	r := ScoreReadiness([]IssueForPack{is}, selection("a"), commsFor("a"), testNow)
	if r.Score != 100 {
		t.Fatalf("staleness must not cost points, got %d", r.Score)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Code != CodeStaleActivity {
		t.Fatalf("expected stale_activity warning, got %v", r.Warnings)
	}
}

func TestArchivedAndClosedIgnored(t *testing.T) {
	closed := documented("c")
	closed.Status = "closed"
	archived := documented("d")
	archived.Archived = true
	issues := []IssueForPack{documented("a"), closed, archived}
	r := ScoreReadiness(issues, selection("a"), commsFor("a"), testNow)
	if r.Score != 100 {
		t.Fatalf("closed and archived issues must not count, got %d", r.Score)
	}
	if r.Coverage.TotalOpen != 1 {
		t.Fatalf("expected 1 open issue, got %d", r.Coverage.TotalOpen)
	}
}

func TestScoreClampedAtZero(t *testing.T) {
	var issues []IssueForPack
	sel := map[string]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		urgent := documented(id)
		urgent.Severity = strPtr("urgent")
		issues = append(issues, urgent)
	}
	sel["a"] = true
	issues[0].EvidenceCount = 0
	r := ScoreReadiness(issues, sel, nil, testNow)
	if r.Score < 0 {
		t.Fatalf("score must clamp at 0, got %d", r.Score)
	}
	if r.Status != StatusHighRisk {
		t.Fatalf("expected high-risk, got %s", r.Status)
	}
}

func TestWarningCategoryOrder(t *testing.T) {
	// Issue order is deliberately adversarial: the comms-only exclusion comes
	// before the evidence-bearing one, and the critical exclusion last.
	commsOnly := documented("a")
	commsOnly.EvidenceCount = 0
	withEvidence := documented("b")
	withEvidence.EvidenceCount = 1
	urgent := documented("c")
	urgent.Severity = strPtr("urgent")
	urgent.EvidenceCount = 0
	included := documented("d")
	included.EvidenceCount = 0

	issues := []IssueForPack{commsOnly, withEvidence, urgent, included}
	r := ScoreReadiness(issues, selection("d"), commsFor("a"), testNow)

	want := []string{
		CodeExcludedHighSeverity,
		CodeExcludedWithEvidence,
		CodeExcludedWithComms,
		CodeIncludedNoEvidence,
	}
	if len(r.Warnings) != len(want) {
		t.Fatalf("warnings = %+v, want %d entries", r.Warnings, len(want))
	}
	for i, code := range want {
		if r.Warnings[i].Code != code {
			t.Errorf("warning[%d] = %s, want %s", i, r.Warnings[i].Code, code)
		}
	}
}

func TestCommsSummaryCountsIncludedOnly(t *testing.T) {
	issues := []IssueForPack{documented("a"), documented("b")}
	comms := []CommForPack{
		{IssueID: "a", Direction: "outbound"},
		{IssueID: "a", Direction: "inbound"},
		{IssueID: "a", Direction: "outbound"},
		{IssueID: "b", Direction: "inbound"},
	}
	r := ScoreReadiness(issues, selection("a"), comms, testNow)
	if r.Comms.Total != 3 || r.Comms.Inbound != 1 || r.Comms.Outbound != 2 {
		t.Fatalf("comms summary = %+v, want total 3 inbound 1 outbound 2", r.Comms)
	}
}
