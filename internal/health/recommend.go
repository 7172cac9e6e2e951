package health

import (
	"sort"
	"time"
)

// Urgency of a recommended next step.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Next-step action identifiers.
const (
	StepAddEvidenceNow   = "add_evidence_now"
	StepAddEvidence      = "add_evidence"
	StepLogCommunication = "log_communication"
	StepFollowUp         = "follow_up"
	StepPreparePack      = "prepare_pack"
	StepStrengthenCase   = "strengthen_case"
)

type NextStep struct {
	IssueID string  `json:"issue_id"`
	Action  string  `json:"action"`
	Title   string  `json:"title"`
	Detail  string  `json:"detail"`
	Urgency Urgency `json:"urgency"`
}

// Recommend picks the single most useful next action for a case. The
// weakest-scoring active issue is chosen first, then ordered priority rules
// apply to it; the first match wins.
func Recommend(issues []IssueInput, now time.Time) NextStep {
	active := activeIssues(issues)
	if len(active) == 0 {
		return NextStep{}
	}
	type scored struct {
		in     IssueInput
		health CaseHealth
	}
	ranked := make([]scored, 0, len(active))
	for _, in := range active {
		ranked = append(ranked, scored{in: in, health: ScoreIssue(in, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].health.Score < ranked[j].health.Score })
	target := ranked[0]
	return recommendForIssue(target.in, target.health)
}

func recommendForIssue(in IssueInput, h CaseHealth) NextStep {
	highSeverity := in.Severity != nil && (*in.Severity == SeverityUrgent || *in.Severity == SeverityHigh)
	switch {
	case in.EvidenceCount == 0 && highSeverity:
		return NextStep{
			IssueID: in.ID,
			Action:  StepAddEvidenceNow,
			Title:   "Add Evidence Now",
			Detail:  "This is a serious issue with no evidence on record. Photograph or document it today.",
			Urgency: UrgencyCritical,
		}
	case in.EvidenceCount == 0:
		return NextStep{
			IssueID: in.ID,
			Action:  StepAddEvidence,
			Title:   "Add Evidence",
			Detail:  "There is no evidence attached to this issue yet.",
			Urgency: UrgencyHigh,
		}
	case in.CommsCount == 0:
		return NextStep{
			IssueID: in.ID,
			Action:  StepLogCommunication,
			Title:   "Log Communication",
			Detail:  "Record any messages you have sent or received about this issue.",
			Urgency: UrgencyHigh,
		}
	case recencyIsCritical(h):
		return NextStep{
			IssueID: in.ID,
			Action:  StepFollowUp,
			Title:   "Follow Up",
			Detail:  "Nothing has happened on this issue in over two weeks. Chase it and log the contact.",
			Urgency: UrgencyMedium,
		}
	case in.EvidenceCount >= 3 && in.CommsCount >= 1 && h.Score >= 70:
		return NextStep{
			IssueID: in.ID,
			Action:  StepPreparePack,
			Title:   "Prepare Evidence Pack",
			Detail:  "This issue is well documented; it is ready to include in an evidence pack.",
			Urgency: UrgencyLow,
		}
	default:
		return NextStep{
			IssueID: in.ID,
			Action:  StepStrengthenCase,
			Title:   "Strengthen Case",
			Detail:  "Add more evidence to close the remaining gaps on this issue.",
			Urgency: UrgencyMedium,
		}
	}
}

func recencyIsCritical(h CaseHealth) bool {
	for _, f := range h.Factors {
		if f.Name == FactorRecency {
			return f.Status == FactorCritical
		}
	}
	return false
}
