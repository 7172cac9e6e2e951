package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"rentproof/internal/domain"
)

func (r Repo) InsertPackTx(ctx context.Context, tx *sql.Tx, p domain.Pack) error {
	ids, err := json.Marshal(p.IssueIDs)
	if err != nil {
		return err
	}
	confirmed := 0
	if p.Confirmed {
		confirmed = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO packs(id,case_id,title,issue_ids_json,readiness_score,readiness_status,confirmed,generated_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CaseID, p.Title, string(ids), p.ReadinessScore, p.ReadinessStatus, confirmed, p.GeneratedBy, p.CreatedAt)
	return err
}

func (r Repo) GetPack(ctx context.Context, id string) (domain.Pack, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,case_id,title,issue_ids_json,readiness_score,readiness_status,confirmed,generated_by,created_at FROM packs WHERE id=?`, id)
	p, err := scanPack(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPacks(ctx context.Context, caseID string) ([]domain.Pack, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,title,issue_ids_json,readiness_score,readiness_status,confirmed,generated_by,created_at FROM packs WHERE case_id=? ORDER BY created_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pack
	for rows.Next() {
		p, err := scanPack(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func scanPack(scan func(dest ...any) error) (domain.Pack, error) {
	var p domain.Pack
	var idsJSON string
	var confirmed int
	err := scan(&p.ID, &p.CaseID, &p.Title, &idsJSON, &p.ReadinessScore, &p.ReadinessStatus, &confirmed, &p.GeneratedBy, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Confirmed = confirmed != 0
	if err := json.Unmarshal([]byte(idsJSON), &p.IssueIDs); err != nil {
		return p, err
	}
	return p, nil
}
