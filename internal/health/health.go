// Package health scores how well-documented a tenancy issue is. Scores are
// recomputed from raw counts on every call and never persisted.
package health

import (
	"sort"
	"time"
)

// Status bands for an issue or a whole case.
type Status string

const (
	StatusStrong   Status = "strong"
	StatusAdequate Status = "adequate"
	StatusWeak     Status = "weak"
	StatusAtRisk   Status = "at-risk"
)

// FactorStatus tags a single scoring factor.
type FactorStatus string

const (
	FactorGood     FactorStatus = "good"
	FactorWarning  FactorStatus = "warning"
	FactorCritical FactorStatus = "critical"
)

// Severity values mirror domain.Issue.Severity.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
	SeverityUrgent = "urgent"
)

// IssueInput is the read-only projection of an issue plus pre-aggregated
// evidence/communication counts the caller derives from storage.
type IssueInput struct {
	ID             string
	Title          string
	Description    string
	Status         string
	Severity       *string
	Archived       bool
	UpdatedAt      time.Time
	EvidenceCount  int
	CommsCount     int
	LastEvidenceAt *time.Time
	LastCommsAt    *time.Time
}

type Factor struct {
	Name           string       `json:"name"`
	Points         int          `json:"points"`
	MaxPoints      int          `json:"max_points"`
	Status         FactorStatus `json:"status"`
	Recommendation string       `json:"recommendation,omitempty"`
}

type CaseHealth struct {
	Score       int      `json:"score"`
	Status      Status   `json:"status"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Factors     []Factor `json:"factors"`
}

const (
	FactorDocumentation = "documentation"
	FactorEvidence      = "evidence"
	FactorCommunication = "communication"
	FactorRecency       = "recency"
	FactorSeverity      = "severity"
)

// ScoreIssue computes the five-factor 0-100 health score for one issue.
func ScoreIssue(in IssueInput, now time.Time) CaseHealth {
	factors := []Factor{
		documentationFactor(in.Description),
		evidenceFactor(in.EvidenceCount),
		communicationFactor(in.CommsCount),
		recencyFactor(in, now),
		severityFactor(in.Severity),
	}
	score := 0
	for _, f := range factors {
		score += f.Points
	}
	status := BandFor(score)
	return CaseHealth{
		Score:       score,
		Status:      status,
		Label:       statusLabel(status),
		Description: statusDescription(status),
		Factors:     factors,
	}
}

// ScoreOverall aggregates per-issue health across a case. The overall score is
// the minimum score across active issues: the case is only as strong as its
// worst-documented open issue.
func ScoreOverall(issues []IssueInput, now time.Time) CaseHealth {
	active := activeIssues(issues)
	if len(active) == 0 {
		return CaseHealth{
			Score:       100,
			Status:      StatusStrong,
			Label:       "No Active Issues",
			Description: "There are no open issues on this case.",
			Factors:     []Factor{},
		}
	}
	minScore := 101
	worst := map[string]Factor{}
	for _, in := range active {
		h := ScoreIssue(in, now)
		if h.Score < minScore {
			minScore = h.Score
		}
		for _, f := range h.Factors {
			if f.Status == FactorGood {
				continue
			}
			if existing, ok := worst[f.Name]; !ok || factorRank(f.Status) > factorRank(existing.Status) {
				worst[f.Name] = f
			}
		}
	}
	merged := make([]Factor, 0, len(worst))
	for _, f := range worst {
		merged = append(merged, f)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if factorRank(merged[i].Status) != factorRank(merged[j].Status) {
			return factorRank(merged[i].Status) > factorRank(merged[j].Status)
		}
		return merged[i].Name < merged[j].Name
	})
	if len(merged) > 3 {
		merged = merged[:3]
	}
	status := BandFor(minScore)
	return CaseHealth{
		Score:       minScore,
		Status:      status,
		Label:       statusLabel(status),
		Description: statusDescription(status),
		Factors:     merged,
	}
}

// BandFor maps a 0-100 score onto a health band.
func BandFor(score int) Status {
	switch {
	case score >= 80:
		return StatusStrong
	case score >= 60:
		return StatusAdequate
	case score >= 40:
		return StatusWeak
	default:
		return StatusAtRisk
	}
}

func activeIssues(issues []IssueInput) []IssueInput {
	var out []IssueInput
	for _, in := range issues {
		if in.Archived {
			continue
		}
		if in.Status == "open" || in.Status == "in_progress" {
			out = append(out, in)
		}
	}
	return out
}

func factorRank(s FactorStatus) int {
	switch s {
	case FactorCritical:
		return 2
	case FactorWarning:
		return 1
	default:
		return 0
	}
}

func documentationFactor(description string) Factor {
	f := Factor{Name: FactorDocumentation, MaxPoints: 15}
	if len(description) > 20 {
		f.Points = 15
		f.Status = FactorGood
		return f
	}
	f.Points = 5
	f.Status = FactorWarning
	f.Recommendation = "Describe what happened, when it started and how it affects the tenancy"
	return f
}

func evidenceFactor(count int) Factor {
	f := Factor{Name: FactorEvidence, MaxPoints: 30}
	switch {
	case count == 0:
		f.Points = 0
		f.Status = FactorCritical
		f.Recommendation = "Add photos, documents or receipts that show the problem"
	case count == 1:
		f.Points = 10
		f.Status = FactorWarning
		f.Recommendation = "A single item is easy to dispute; add more evidence"
	case count == 2:
		f.Points = 18
		f.Status = FactorWarning
		f.Recommendation = "Add another piece of evidence to strengthen the record"
	case count <= 4:
		f.Points = 25
		f.Status = FactorGood
	default:
		f.Points = 30
		f.Status = FactorGood
	}
	return f
}

func communicationFactor(count int) Factor {
	f := Factor{Name: FactorCommunication, MaxPoints: 25}
	switch {
	case count == 0:
		f.Points = 0
		f.Status = FactorCritical
		f.Recommendation = "Log your messages to and from the landlord or agent"
	case count == 1:
		f.Points = 12
		f.Status = FactorWarning
		f.Recommendation = "Keep logging follow-ups so the timeline is complete"
	case count <= 3:
		f.Points = 20
		f.Status = FactorGood
	default:
		f.Points = 25
		f.Status = FactorGood
	}
	return f
}

func recencyFactor(in IssueInput, now time.Time) Factor {
	f := Factor{Name: FactorRecency, MaxPoints: 15}
	latest := in.UpdatedAt
	if in.LastEvidenceAt != nil && in.LastEvidenceAt.After(latest) {
		latest = *in.LastEvidenceAt
	}
	if in.LastCommsAt != nil && in.LastCommsAt.After(latest) {
		latest = *in.LastCommsAt
	}
	days := int(now.Sub(latest).Hours() / 24)
	switch {
	case days <= 3:
		f.Points = 15
		f.Status = FactorGood
	case days <= 7:
		f.Points = 12
		f.Status = FactorGood
	case days <= 14:
		f.Points = 8
		f.Status = FactorWarning
		f.Recommendation = "No activity for over a week; follow up and record it"
	default:
		f.Points = 3
		f.Status = FactorCritical
		f.Recommendation = "This issue has gone quiet; chase it up and log the contact"
	}
	return f
}

func severityFactor(severity *string) Factor {
	f := Factor{Name: FactorSeverity, MaxPoints: 15}
	if severity == nil || *severity == SeverityLow {
		f.Points = 10
		f.Status = FactorWarning
		f.Recommendation = "Review whether the severity rating is accurate"
		return f
	}
	f.Points = 15
	f.Status = FactorGood
	return f
}

func statusLabel(s Status) string {
	switch s {
	case StatusStrong:
		return "Strong"
	case StatusAdequate:
		return "Adequate"
	case StatusWeak:
		return "Weak"
	default:
		return "At Risk"
	}
}

func statusDescription(s Status) string {
	switch s {
	case StatusStrong:
		return "Your records would stand up well if this went to a dispute."
	case StatusAdequate:
		return "Your records are usable but have gaps worth closing."
	case StatusWeak:
		return "Your records have significant gaps that weaken your position."
	default:
		return "Your records are too thin to rely on; act on the recommendations below."
	}
}
