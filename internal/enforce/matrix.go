package enforce

import "rentproof/internal/health"

// matrix is the single source of truth for guided-mode decisions. It is total
// over the 4 health bands x 6 actions; Check rejects anything outside it.
var matrix = map[health.Status]map[Action]Level{
	health.StatusStrong: {
		ActionGeneratePack:   LevelAllowed,
		ActionCloseIssue:     LevelAllowed,
		ActionResolveIssue:   LevelAllowed,
		ActionDeleteEvidence: LevelWarned,
		ActionDeleteComms:    LevelWarned,
		ActionArchiveIssue:   LevelAllowed,
	},
	health.StatusAdequate: {
		ActionGeneratePack:   LevelWarned,
		ActionCloseIssue:     LevelWarned,
		ActionResolveIssue:   LevelAllowed,
		ActionDeleteEvidence: LevelSoftBlocked,
		ActionDeleteComms:    LevelWarned,
		ActionArchiveIssue:   LevelWarned,
	},
	health.StatusWeak: {
		ActionGeneratePack:   LevelSoftBlocked,
		ActionCloseIssue:     LevelSoftBlocked,
		ActionResolveIssue:   LevelWarned,
		ActionDeleteEvidence: LevelSoftBlocked,
		ActionDeleteComms:    LevelSoftBlocked,
		ActionArchiveIssue:   LevelSoftBlocked,
	},
	health.StatusAtRisk: {
		ActionGeneratePack:   LevelHardBlocked,
		ActionCloseIssue:     LevelHardBlocked,
		ActionResolveIssue:   LevelSoftBlocked,
		ActionDeleteEvidence: LevelHardBlocked,
		ActionDeleteComms:    LevelHardBlocked,
		ActionArchiveIssue:   LevelHardBlocked,
	},
}

// MatrixLevel exposes the raw (unsoftened) matrix cell, mainly for tests and
// the read-only enforcement endpoint.
func MatrixLevel(status health.Status, action Action) (Level, bool) {
	row, ok := matrix[status]
	if !ok {
		return "", false
	}
	level, ok := row[action]
	return level, ok
}
