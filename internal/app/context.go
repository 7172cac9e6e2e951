package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentproof/internal/config"
	"rentproof/internal/domain"
	"rentproof/internal/repo"
)

// ResolveCaseAndConfig picks the active case and ensures a case + config
// exist in the DB, seeding defaults if missing. It prefers the override, then
// a single-case DB. If the case does not exist, it is created on the fly.
func ResolveCaseAndConfig(ctx context.Context, workspace, caseOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	caseID := caseOverride
	if caseID == "" {
		if c, err := r.SingleCase(ctx); err == nil {
			caseID = c.ID
		} else {
			return "", nil, fmt.Errorf("case not specified; use --case")
		}
	}
	seedCfg := config.Default(caseID)

	if _, err := r.GetCase(ctx, caseID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createCase(ctx, r, caseID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetCaseConfig(ctx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertCaseConfig(ctx, caseID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed case config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Case.ID = caseID
	return caseID, cfg, nil
}

// createCase inserts a minimal account/case footprint using the seed config.
func createCase(ctx context.Context, r repo.Repo, caseID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(caseID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	account := domain.Account{
		ID:        "default-account",
		Name:      "Default account",
		Email:     "owner@localhost",
		Plan:      seedCfg.Billing.DefaultPlan,
		CreatedAt: now,
	}
	if account.Plan == "" {
		account.Plan = "free"
	}
	if err := r.EnsureAccount(ctx, tx, account); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	c := domain.Case{
		ID:        caseID,
		AccountID: account.ID,
		Address:   "unspecified address",
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertCaseTx(ctx, tx, c); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	if err := r.UpsertCaseConfigTx(ctx, tx, caseID, seedCfg); err != nil {
		return fmt.Errorf("insert case config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,case_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now, "case.init", caseID, "case", caseID, actorID, "{}"); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}
