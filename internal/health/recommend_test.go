package health

import (
	"testing"
	"time"
)

func TestRecommendNoActiveIssues(t *testing.T) {
	step := Recommend(nil, testNow)
	if step.Action != "" {
		t.Fatalf("expected empty recommendation, got %q", step.Action)
	}
}

func TestRecommendUrgentNoEvidence(t *testing.T) {
	in := IssueInput{
		ID:        "i1",
		Title:     "No heating",
		Status:    "open",
		Severity:  strPtr(SeverityUrgent),
		UpdatedAt: testNow,
	}
	step := Recommend([]IssueInput{in}, testNow)
	if step.Action != StepAddEvidenceNow {
		t.Fatalf("expected %s, got %s", StepAddEvidenceNow, step.Action)
	}
	if step.Urgency != UrgencyCritical {
		t.Fatalf("expected critical urgency, got %s", step.Urgency)
	}
	if step.IssueID != "i1" {
		t.Fatalf("expected issue i1, got %s", step.IssueID)
	}
}

func TestRecommendRuleOrder(t *testing.T) {
	recent := testNow.Add(-24 * time.Hour)
	stale := testNow.Add(-20 * 24 * time.Hour)
	cases := []struct {
		name   string
		in     IssueInput
		action string
	}{
		{
			name:   "no evidence low severity",
			in:     IssueInput{ID: "i", Status: "open", Severity: strPtr(SeverityLow), UpdatedAt: recent},
			action: StepAddEvidence,
		},
		{
			name: "evidence but no comms",
			in: IssueInput{
				ID: "i", Status: "open", UpdatedAt: recent,
				EvidenceCount: 2, LastEvidenceAt: &recent,
			},
			action: StepLogCommunication,
		},
		{
			name: "stale issue",
			in: IssueInput{
				ID: "i", Status: "open", UpdatedAt: stale,
				EvidenceCount: 2, CommsCount: 1,
				LastEvidenceAt: &stale, LastCommsAt: &stale,
			},
			action: StepFollowUp,
		},
		{
			name: "ready for pack",
			in: IssueInput{
				ID: "i", Status: "open", UpdatedAt: recent,
				Description: "Detailed account of the problem with dates",
				Severity:    strPtr(SeverityMedium),
				EvidenceCount: 3, CommsCount: 2,
				LastEvidenceAt: &recent, LastCommsAt: &recent,
			},
			action: StepPreparePack,
		},
	}
	for _, tc := range cases {
		step := Recommend([]IssueInput{tc.in}, testNow)
		if step.Action != tc.action {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.action, step.Action)
		}
	}
}

func TestRecommendTargetsWeakestIssue(t *testing.T) {
	strong := wellDocumented("strong")
	weak := IssueInput{ID: "weak", Status: "open", Severity: strPtr(SeverityHigh), UpdatedAt: testNow}
	step := Recommend([]IssueInput{strong, weak}, testNow)
	if step.IssueID != "weak" {
		t.Fatalf("expected recommendation for weakest issue, got %s", step.IssueID)
	}
}
