// Package plan resolves the subscription tier for a case and maps tiers onto
// enforcement modes.
package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Plan string

const (
	Free Plan = "free"
	Plus Plan = "plus"
	Pro  Plan = "pro"
)

// Mode controls how strictly the enforcement matrix applies.
type Mode string

const (
	// ModeGuided applies the matrix unmodified (free and plus tiers).
	ModeGuided Mode = "guided"
	// ModeAdvisor softens every decision one step toward allowed (pro tier).
	ModeAdvisor Mode = "advisor"
)

// ModeFor maps a plan onto its enforcement mode. Unknown plans fail fast.
func ModeFor(p Plan) (Mode, error) {
	switch p {
	case Free, Plus:
		return ModeGuided, nil
	case Pro:
		return ModeAdvisor, nil
	default:
		return "", fmt.Errorf("plan: unknown plan %q", p)
	}
}

// Valid reports whether p is a known tier.
func Valid(p Plan) bool {
	return p == Free || p == Plus || p == Pro
}

// Resolver looks up the plan for a case through its owning account.
// Privileged is injected from configuration; a match is treated as pro
// regardless of the stored plan.
type Resolver struct {
	DB         *sql.DB
	Privileged func(email string) bool
}

// ErrNoAccount indicates the case has no resolvable account.
var ErrNoAccount = errors.New("plan: account not found for case")

func (r Resolver) ForCase(ctx context.Context, caseID string) (Plan, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT a.email, a.plan FROM accounts a
JOIN cases c ON c.account_id = a.id
WHERE c.id = ?`, caseID)
	var email, stored string
	if err := row.Scan(&email, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoAccount
		}
		return "", err
	}
	if r.Privileged != nil && r.Privileged(email) {
		return Pro, nil
	}
	p := Plan(stored)
	if !Valid(p) {
		return "", fmt.Errorf("plan: account for case %s has unknown plan %q", caseID, stored)
	}
	return p, nil
}
