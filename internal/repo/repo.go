package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentproof/internal/config"
	"rentproof/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- accounts ---

func (r Repo) InsertAccountTx(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(id,name,email,plan,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.Name, a.Email, a.Plan, a.CreatedAt)
	return err
}

func (r Repo) EnsureAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO accounts(id,name,email,plan,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.Name, a.Email, a.Plan, a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,plan,created_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.Plan, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) SetAccountPlan(ctx context.Context, id, plan string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET plan=? WHERE id=?`, plan, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- cases ---

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	var c domain.Case
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,account_id,address,status,description,created_at FROM cases WHERE id=?`, id).
		Scan(&c.ID, &c.AccountID, &c.Address, &c.Status, &desc, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if desc.Valid {
		c.Description = desc.String
	}
	return c, err
}

func (r Repo) SingleCase(ctx context.Context) (domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,account_id,address,status,COALESCE(description,''),created_at FROM cases`)
	if err != nil {
		return domain.Case{}, err
	}
	defer rows.Close()
	var cases []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Address, &c.Status, &c.Description, &c.CreatedAt); err != nil {
			return domain.Case{}, err
		}
		cases = append(cases, c)
	}
	if len(cases) == 0 {
		return domain.Case{}, ErrNotFound
	}
	if len(cases) > 1 {
		return domain.Case{}, fmt.Errorf("multiple cases exist; specify --case")
	}
	return cases[0], nil
}

func (r Repo) ListCases(ctx context.Context) ([]domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,account_id,address,status,COALESCE(description,''),created_at FROM cases ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Address, &c.Status, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,account_id,address,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.AccountID, c.Address, c.Status, nullable(c.Description), c.CreatedAt)
	return err
}

func (r Repo) UpdateCaseTx(ctx context.Context, tx *sql.Tx, id, status, address string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if address != "" {
		fields = append(fields, "address=?")
		args = append(args, address)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCase(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM cases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- case configs ---

func (r Repo) UpsertCaseConfig(ctx context.Context, caseID string, cfg *config.Config) error {
	return upsertCaseConfig(ctx, r.DB, nil, caseID, cfg)
}

func (r Repo) UpsertCaseConfigTx(ctx context.Context, tx *sql.Tx, caseID string, cfg *config.Config) error {
	return upsertCaseConfig(ctx, nil, tx, caseID, cfg)
}

func upsertCaseConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, caseID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Case.ID = caseID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO case_configs(case_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(case_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, caseID, string(payload), now, now)
	return err
}

func (r Repo) GetCaseConfig(ctx context.Context, caseID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM case_configs WHERE case_id=?`, caseID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Case.ID == "" {
		cfg.Case.ID = caseID
	}
	return &cfg, cfg.Validate()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
