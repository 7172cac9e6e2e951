package repo

import (
	"context"
	"database/sql"

	"rentproof/internal/domain"
)

// --- evidence ---

func (r Repo) InsertEvidenceTx(ctx context.Context, tx *sql.Tx, ev domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,case_id,issue_id,kind,label,uri,sha256,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.CaseID, ev.IssueID, ev.Kind, ev.Label, nullable(ev.URI), nullable(ev.SHA256), ev.CreatedAt)
	return err
}

func (r Repo) GetEvidence(ctx context.Context, id string) (domain.Evidence, error) {
	var ev domain.Evidence
	var uri, sha sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,case_id,issue_id,kind,label,uri,sha256,created_at FROM evidence WHERE id=?`, id).
		Scan(&ev.ID, &ev.CaseID, &ev.IssueID, &ev.Kind, &ev.Label, &uri, &sha, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if uri.Valid {
		ev.URI = uri.String
	}
	if sha.Valid {
		ev.SHA256 = sha.String
	}
	return ev, err
}

func (r Repo) ListEvidence(ctx context.Context, issueID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,issue_id,kind,label,COALESCE(uri,''),COALESCE(sha256,''),created_at FROM evidence WHERE issue_id=? ORDER BY created_at DESC, id DESC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.IssueID, &ev.Kind, &ev.Label, &ev.URI, &ev.SHA256, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, nil
}

func (r Repo) DeleteEvidenceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- comms ---

func (r Repo) InsertCommTx(ctx context.Context, tx *sql.Tx, c domain.Comm) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comms(id,case_id,issue_id,direction,channel,summary,occurred_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.CaseID, c.IssueID, c.Direction, c.Channel, nullable(c.Summary), c.OccurredAt, c.CreatedAt)
	return err
}

func (r Repo) GetComm(ctx context.Context, id string) (domain.Comm, error) {
	var c domain.Comm
	var summary sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,case_id,issue_id,direction,channel,summary,occurred_at,created_at FROM comms WHERE id=?`, id).
		Scan(&c.ID, &c.CaseID, &c.IssueID, &c.Direction, &c.Channel, &summary, &c.OccurredAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if summary.Valid {
		c.Summary = summary.String
	}
	return c, err
}

func (r Repo) ListComms(ctx context.Context, issueID string) ([]domain.Comm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,issue_id,direction,channel,COALESCE(summary,''),occurred_at,created_at FROM comms WHERE issue_id=? ORDER BY occurred_at DESC, id DESC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comm
	for rows.Next() {
		var c domain.Comm
		if err := rows.Scan(&c.ID, &c.CaseID, &c.IssueID, &c.Direction, &c.Channel, &c.Summary, &c.OccurredAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

// ListCaseComms returns all communications for a case, used by the pack
// readiness scorer.
func (r Repo) ListCaseComms(ctx context.Context, caseID string) ([]domain.Comm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,issue_id,direction,channel,COALESCE(summary,''),occurred_at,created_at FROM comms WHERE case_id=? ORDER BY occurred_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comm
	for rows.Next() {
		var c domain.Comm
		if err := rows.Scan(&c.ID, &c.CaseID, &c.IssueID, &c.Direction, &c.Channel, &c.Summary, &c.OccurredAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) DeleteCommTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM comms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
