// Package enforce decides whether a consequential action may proceed given
// the current case health. Decisions come from a static matrix keyed by
// (health status, action), softened one step for advisor-mode plans.
package enforce

import (
	"fmt"

	"rentproof/internal/health"
	"rentproof/internal/plan"
)

type Action string

const (
	ActionGeneratePack   Action = "generate_pack"
	ActionCloseIssue     Action = "close_issue"
	ActionResolveIssue   Action = "resolve_issue"
	ActionDeleteEvidence Action = "delete_evidence"
	ActionDeleteComms    Action = "delete_comms"
	ActionArchiveIssue   Action = "archive_issue"
)

// Actions lists every enforceable action, in matrix column order.
var Actions = []Action{
	ActionGeneratePack,
	ActionCloseIssue,
	ActionResolveIssue,
	ActionDeleteEvidence,
	ActionDeleteComms,
	ActionArchiveIssue,
}

type Level string

const (
	LevelAllowed     Level = "allowed"
	LevelWarned      Level = "warned"
	LevelSoftBlocked Level = "soft_blocked"
	LevelHardBlocked Level = "hard_blocked"
)

type Message struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ConfirmLabel string `json:"confirm_label,omitempty"`
	CancelLabel  string `json:"cancel_label,omitempty"`
	WarningText  string `json:"warning_text,omitempty"`
}

type Context struct {
	Action       Action        `json:"action"`
	HealthStatus health.Status `json:"health_status"`
	HealthScore  int           `json:"health_score"`
	Mode         plan.Mode     `json:"plan_mode"`
	Plan         plan.Plan     `json:"plan_id"`
}

type Result struct {
	Level                Level   `json:"level"`
	Allowed              bool    `json:"allowed"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
	Message              Message `json:"message"`
	Context              Context `json:"context"`
}

// Check resolves the enforcement decision for an action. Unknown enum values
// and out-of-range scores are programming errors and fail fast; the matrix is
// never silently defaulted in either direction.
func Check(action Action, status health.Status, score int, p plan.Plan) (Result, error) {
	if score < 0 || score > 100 {
		return Result{}, fmt.Errorf("enforce: health score %d out of range", score)
	}
	mode, err := plan.ModeFor(p)
	if err != nil {
		return Result{}, err
	}
	row, ok := matrix[status]
	if !ok {
		return Result{}, fmt.Errorf("enforce: unknown health status %q", status)
	}
	level, ok := row[action]
	if !ok {
		return Result{}, fmt.Errorf("enforce: unknown action %q", action)
	}
	if mode == plan.ModeAdvisor {
		level = soften(level)
	}
	return Result{
		Level:                level,
		Allowed:              level != LevelHardBlocked,
		RequiresConfirmation: level == LevelSoftBlocked,
		Message:              messageFor(action, level, status, mode),
		Context: Context{
			Action:       action,
			HealthStatus: status,
			HealthScore:  score,
			Mode:         mode,
			Plan:         p,
		},
	}, nil
}

// soften relaxes a decision by exactly one step. hard_blocked never reaches
// allowed in a single transform.
func soften(level Level) Level {
	switch level {
	case LevelHardBlocked:
		return LevelSoftBlocked
	case LevelSoftBlocked:
		return LevelWarned
	case LevelWarned:
		return LevelAllowed
	default:
		return LevelAllowed
	}
}
