// Package packs scores how complete a candidate evidence-pack selection is.
// Unlike case health, readiness starts from 100 and subtracts penalties for
// coverage gaps and missing documentation in the selection.
package packs

import (
	"math"
	"sort"
	"time"

	"rentproof/internal/health"
)

type Status string

const (
	StatusStrong   Status = "strong"
	StatusModerate Status = "moderate"
	StatusWeak     Status = "weak"
	StatusHighRisk Status = "high-risk"
)

type WarningType string

const (
	WarnCritical WarningType = "critical"
	WarnWarning  WarningType = "warning"
	WarnInfo     WarningType = "info"
)

// Warning codes, in presentation order (see codeRank).
const (
	CodeExcludedHighSeverity = "excluded_high_severity"
	CodeExcludedWithEvidence = "excluded_with_evidence"
	CodeExcludedWithComms    = "excluded_with_comms"
	CodeIncludedNoEvidence   = "included_no_evidence"
	CodeIncludedNoComms      = "included_no_comms"
	CodeStaleActivity        = "stale_activity"
)

// IssueForPack is the projection of an issue a readiness check needs.
type IssueForPack struct {
	ID            string
	Title         string
	Status        string
	Severity      *string
	Archived      bool
	UpdatedAt     time.Time
	EvidenceCount int
}

// CommForPack links a communication record to an issue.
type CommForPack struct {
	IssueID   string
	Direction string
}

type Warning struct {
	Type    WarningType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	IssueID string      `json:"issue_id,omitempty"`
}

type Coverage struct {
	Included  int `json:"included_issues"`
	Excluded  int `json:"excluded_issues"`
	TotalOpen int `json:"total_open_issues"`
}

// CommsSummary aggregates the communication log across the included issues.
type CommsSummary struct {
	Total    int `json:"total"`
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
}

type PackReadiness struct {
	Score                int       `json:"score"`
	Status               Status    `json:"status"`
	Label                string    `json:"label"`
	Description          string    `json:"description"`
	Warnings             []Warning    `json:"warnings"`
	Coverage             Coverage     `json:"coverage"`
	Comms                CommsSummary `json:"comms"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
}

const stalenessCutoff = 14 * 24 * time.Hour

// ScoreReadiness evaluates a candidate pack selection against all issues on
// the case. selected holds the issue IDs the user intends to include.
func ScoreReadiness(issues []IssueForPack, selected map[string]bool, comms []CommForPack, now time.Time) PackReadiness {
	commCounts := map[string]int{}
	inbound := map[string]int{}
	for _, c := range comms {
		commCounts[c.IssueID]++
		if c.Direction == "inbound" {
			inbound[c.IssueID]++
		}
	}

	var included, excluded []IssueForPack
	for _, is := range issues {
		if is.Archived || (is.Status != "open" && is.Status != "in_progress") {
			continue
		}
		if selected[is.ID] {
			included = append(included, is)
		} else {
			excluded = append(excluded, is)
		}
	}
	totalOpen := len(included) + len(excluded)

	score := 100
	var warnings []Warning

	if len(excluded) > 0 && totalOpen > 0 {
		gap := 1 - float64(len(included))/float64(totalOpen)
		score -= int(math.Round(gap * 30))
	}

	highSeverityExcluded := false
	for _, is := range excluded {
		switch {
		case isHighSeverity(is.Severity):
			highSeverityExcluded = true
			score -= 25
			warnings = append(warnings, Warning{
				Type:    WarnCritical,
				Code:    CodeExcludedHighSeverity,
				Message: "A serious open issue is left out of this pack: " + is.Title,
				IssueID: is.ID,
			})
		case is.EvidenceCount > 0:
			score -= 10
			warnings = append(warnings, Warning{
				Type:    WarnWarning,
				Code:    CodeExcludedWithEvidence,
				Message: "An open issue with evidence is left out of this pack: " + is.Title,
				IssueID: is.ID,
			})
		case commCounts[is.ID] > 0:
			warnings = append(warnings, Warning{
				Type:    WarnWarning,
				Code:    CodeExcludedWithComms,
				Message: "An open issue with logged communications is left out of this pack: " + is.Title,
				IssueID: is.ID,
			})
		}
	}

	flaggedNoEvidence := map[string]bool{}
	for _, is := range included {
		if is.EvidenceCount == 0 {
			flaggedNoEvidence[is.ID] = true
			score -= 15
			warnings = append(warnings, Warning{
				Type:    WarnWarning,
				Code:    CodeIncludedNoEvidence,
				Message: "An included issue has no evidence attached: " + is.Title,
				IssueID: is.ID,
			})
		}
	}
	for _, is := range included {
		if commCounts[is.ID] == 0 && !flaggedNoEvidence[is.ID] {
			score -= 5
			warnings = append(warnings, Warning{
				Type:    WarnInfo,
				Code:    CodeIncludedNoComms,
				Message: "An included issue has no communications logged: " + is.Title,
				IssueID: is.ID,
			})
		}
	}
	for _, is := range included {
		if now.Sub(is.UpdatedAt) > stalenessCutoff {
			warnings = append(warnings, Warning{
				Type:    WarnInfo,
				Code:    CodeStaleActivity,
				Message: "An included issue has had no activity for over two weeks: " + is.Title,
				IssueID: is.ID,
			})
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := bandFor(score)
	// A critical warning rules out the two best bands regardless of score.
	if hasCritical(warnings) && (status == StatusStrong || status == StatusModerate) {
		status = StatusWeak
	}

	// Critical warnings come first; within a type, warnings follow the fixed
	// category order given by codeRank rather than issue iteration order.
	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Type != warnings[j].Type {
			return warnRank(warnings[i].Type) > warnRank(warnings[j].Type)
		}
		return codeRank(warnings[i].Code) < codeRank(warnings[j].Code)
	})

	var commsSummary CommsSummary
	for _, is := range included {
		total := commCounts[is.ID]
		commsSummary.Total += total
		commsSummary.Inbound += inbound[is.ID]
		commsSummary.Outbound += total - inbound[is.ID]
	}

	requiresConfirmation := status == StatusWeak || status == StatusHighRisk ||
		highSeverityExcluded ||
		(len(excluded) > 0 && len(included) < totalOpen)

	return PackReadiness{
		Score:                score,
		Status:               status,
		Label:                statusLabel(status),
		Description:          statusDescription(status),
		Warnings:             nonNil(warnings),
		Coverage:             Coverage{Included: len(included), Excluded: len(excluded), TotalOpen: totalOpen},
		Comms:                commsSummary,
		RequiresConfirmation: requiresConfirmation,
	}
}

func isHighSeverity(severity *string) bool {
	return severity != nil && (*severity == health.SeverityUrgent || *severity == health.SeverityHigh)
}

func hasCritical(ws []Warning) bool {
	for _, w := range ws {
		if w.Type == WarnCritical {
			return true
		}
	}
	return false
}

func warnRank(t WarningType) int {
	switch t {
	case WarnCritical:
		return 2
	case WarnWarning:
		return 1
	default:
		return 0
	}
}

func codeRank(code string) int {
	switch code {
	case CodeExcludedHighSeverity:
		return 0
	case CodeExcludedWithEvidence:
		return 1
	case CodeExcludedWithComms:
		return 2
	case CodeIncludedNoEvidence:
		return 3
	case CodeIncludedNoComms:
		return 4
	default: // CodeStaleActivity
		return 5
	}
}

func bandFor(score int) Status {
	switch {
	case score >= 80:
		return StatusStrong
	case score >= 60:
		return StatusModerate
	case score >= 40:
		return StatusWeak
	default:
		return StatusHighRisk
	}
}

func statusLabel(s Status) string {
	switch s {
	case StatusStrong:
		return "Ready"
	case StatusModerate:
		return "Nearly Ready"
	case StatusWeak:
		return "Incomplete"
	default:
		return "High Risk"
	}
}

func statusDescription(s Status) string {
	switch s {
	case StatusStrong:
		return "This selection covers your open issues and each one is documented."
	case StatusModerate:
		return "This selection is usable but leaves some gaps worth reviewing."
	case StatusWeak:
		return "This selection has significant gaps; review the warnings before generating."
	default:
		return "This selection would produce a weak pack; it is missing key issues or evidence."
	}
}

func nonNil(ws []Warning) []Warning {
	if ws == nil {
		return []Warning{}
	}
	return ws
}
