package enforce

import (
	"fmt"

	"rentproof/internal/health"
	"rentproof/internal/plan"
)

func actionNoun(a Action) string {
	switch a {
	case ActionGeneratePack:
		return "generate this evidence pack"
	case ActionCloseIssue:
		return "close this issue"
	case ActionResolveIssue:
		return "mark this issue resolved"
	case ActionDeleteEvidence:
		return "delete this evidence"
	case ActionDeleteComms:
		return "delete this communication log"
	case ActionArchiveIssue:
		return "archive this issue"
	default:
		return string(a)
	}
}

func statusPhrase(s health.Status) string {
	switch s {
	case health.StatusStrong:
		return "your records are strong"
	case health.StatusAdequate:
		return "your records are adequate but have gaps"
	case health.StatusWeak:
		return "your records are weak"
	default:
		return "your records are at risk"
	}
}

// messageFor renders the fixed template for a decision. Guided mode phrasing
// is protective; advisor mode states the facts and leaves the call to the user.
func messageFor(action Action, level Level, status health.Status, mode plan.Mode) Message {
	noun := actionNoun(action)
	switch level {
	case LevelAllowed:
		return Message{
			Title:       "Go ahead",
			Description: fmt.Sprintf("You can %s.", noun),
		}
	case LevelWarned:
		m := Message{
			Title:       "Proceed with care",
			Description: fmt.Sprintf("You can %s, but %s.", noun, statusPhrase(status)),
		}
		if mode == plan.ModeGuided {
			m.WarningText = "Once you proceed this is recorded in your case history. Strengthening your records first usually leads to a better outcome."
		} else {
			m.WarningText = fmt.Sprintf("Recorded in the case history; %s.", statusPhrase(status))
		}
		return m
	case LevelSoftBlocked:
		m := Message{
			Title:        "Are you sure?",
			Description:  fmt.Sprintf("We recommend you do not %s while %s.", noun, statusPhrase(status)),
			ConfirmLabel: "Proceed anyway",
			CancelLabel:  "Go back",
		}
		if mode == plan.ModeGuided {
			m.WarningText = "Proceeding now can permanently weaken your case. Most tenants in this position add evidence first."
		} else {
			m.WarningText = "Proceeding records an override in your case history."
		}
		return m
	default: // LevelHardBlocked
		m := Message{
			Title:       "Not available yet",
			Description: fmt.Sprintf("You cannot %s while %s.", noun, statusPhrase(status)),
			CancelLabel: "Go back",
		}
		if mode == plan.ModeGuided {
			m.WarningText = "This is blocked to protect your case. Add evidence and communications to unlock it."
		}
		return m
	}
}
