package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"rentproof/internal/domain"
)

func (r Repo) InsertIssueTx(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(id,case_id,title,description,status,severity,archived_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		is.ID, is.CaseID, is.Title, nullable(is.Description), is.Status, nullableStringPtr(is.Severity), nullableStringPtr(is.ArchivedAt), is.CreatedAt, is.UpdatedAt)
	return err
}

func (r Repo) UpdateIssueTx(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	_, err := tx.ExecContext(ctx, `UPDATE issues SET title=?, description=?, status=?, severity=?, archived_at=?, updated_at=? WHERE id=?`,
		is.Title, nullable(is.Description), is.Status, nullableStringPtr(is.Severity), nullableStringPtr(is.ArchivedAt), is.UpdatedAt, is.ID)
	return err
}

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var is domain.Issue
	var description, severity, archivedAt sql.NullString
	err := scan(&is.ID, &is.CaseID, &is.Title, &description, &is.Status, &severity, &archivedAt, &is.CreatedAt, &is.UpdatedAt)
	if err != nil {
		return is, err
	}
	if description.Valid {
		is.Description = description.String
	}
	if severity.Valid {
		is.Severity = &severity.String
	}
	if archivedAt.Valid {
		is.ArchivedAt = &archivedAt.String
	}
	return is, nil
}

const issueColumns = `id,case_id,title,description,status,severity,archived_at,created_at,updated_at`

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id)
	is, err := scanIssue(row.Scan)
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	return is, err
}

type IssueFilters struct {
	CaseID          string
	Status          string
	Severity        string
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + issueColumns + ` FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		is, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	return res, nil
}

// IssueActivity is the per-issue aggregate the health scorer consumes:
// evidence/communication counts plus last-activity timestamps. It is derived
// on every call, never stored.
type IssueActivity struct {
	EvidenceCount  int
	CommsCount     int
	LastEvidenceAt *time.Time
	LastCommsAt    *time.Time
}

func (r Repo) IssueActivity(ctx context.Context, issueID string) (IssueActivity, error) {
	var a IssueActivity
	var lastEvidence, lastComms sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), MAX(created_at) FROM evidence WHERE issue_id=?`, issueID).
		Scan(&a.EvidenceCount, &lastEvidence)
	if err != nil {
		return a, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), MAX(occurred_at) FROM comms WHERE issue_id=?`, issueID).
		Scan(&a.CommsCount, &lastComms)
	if err != nil {
		return a, err
	}
	a.LastEvidenceAt = parseTimePtr(lastEvidence)
	a.LastCommsAt = parseTimePtr(lastComms)
	return a, nil
}

// CaseActivity returns activity aggregates for every issue on a case in two
// grouped queries rather than one pair per issue.
func (r Repo) CaseActivity(ctx context.Context, caseID string) (map[string]IssueActivity, error) {
	out := map[string]IssueActivity{}
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id, COUNT(*), MAX(created_at) FROM evidence WHERE case_id=? GROUP BY issue_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var issueID string
		var count int
		var last sql.NullString
		if err := rows.Scan(&issueID, &count, &last); err != nil {
			return nil, err
		}
		a := out[issueID]
		a.EvidenceCount = count
		a.LastEvidenceAt = parseTimePtr(last)
		out[issueID] = a
	}
	commRows, err := r.DB.QueryContext(ctx, `SELECT issue_id, COUNT(*), MAX(occurred_at) FROM comms WHERE case_id=? GROUP BY issue_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer commRows.Close()
	for commRows.Next() {
		var issueID string
		var count int
		var last sql.NullString
		if err := commRows.Scan(&issueID, &count, &last); err != nil {
			return nil, err
		}
		a := out[issueID]
		a.CommsCount = count
		a.LastCommsAt = parseTimePtr(last)
		out[issueID] = a
	}
	return out, nil
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}
