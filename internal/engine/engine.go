package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentproof/internal/config"
	"rentproof/internal/domain"
	"rentproof/internal/enforce"
	"rentproof/internal/events"
	"rentproof/internal/health"
	"rentproof/internal/packs"
	"rentproof/internal/plan"
	"rentproof/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Plans  plan.Resolver
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	e.Plans = plan.Resolver{DB: db, Privileged: func(email string) bool {
		if cfg == nil {
			return false
		}
		return cfg.IsPrivileged(email)
	}}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// GateOptions carry the caller's intent past an enforcement decision. Confirm
// acknowledges a soft block; Force skips the decision entirely and is only
// reachable from the CLI admin flag.
type GateOptions struct {
	ActorID string
	Confirm bool
	Force   bool
	Reason  *string
}

// InitCase creates a case under the default account, seeding the account row
// if this is a fresh workspace.
func (e Engine) InitCase(ctx context.Context, caseID, address, description, actorID string) (domain.Case, error) {
	if address == "" {
		return domain.Case{}, errors.New("address is required")
	}
	if caseID == "" {
		caseID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	defaultPlan := "free"
	if e.Config != nil && e.Config.Billing.DefaultPlan != "" {
		defaultPlan = e.Config.Billing.DefaultPlan
	}
	account := domain.Account{
		ID:        "default-account",
		Name:      "Default account",
		Email:     "owner@localhost",
		Plan:      defaultPlan,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.EnsureAccount(ctx, tx, account); err != nil {
		return domain.Case{}, fmt.Errorf("ensure account: %w", err)
	}
	c := domain.Case{
		ID:        caseID,
		AccountID: account.ID,
		Address:   address,
		Status:    "active",
		CreatedAt: e.nowString(),
	}
	if description != "" {
		c.Description = description
	}
	if err := e.Repo.InsertCaseTx(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.Repo.UpsertCaseConfigTx(ctx, tx, c.ID, config.Default(c.ID)); err != nil {
		return domain.Case{}, fmt.Errorf("insert case config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "case.init", c.ID, "case", c.ID, actorID, events.EventPayload{"address": c.Address}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func (e Engine) UpdateCase(ctx context.Context, caseID, status, address string, description *string, actorID string) (domain.Case, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return domain.Case{}, err
	}
	if status != "" && status != "active" && status != "archived" {
		return domain.Case{}, fmt.Errorf("invalid case status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCaseTx(ctx, tx, caseID, status, address, description); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.updated", caseID, "case", caseID, actorID, events.EventPayload{"status": status}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return e.Repo.GetCase(ctx, caseID)
}

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	ID          string
	CaseID      string
	Title       string
	Description string
	Severity    *string
	ActorID     string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if opts.CaseID == "" {
		return domain.Issue{}, errors.New("case is required")
	}
	if err := validSeverity(opts.Severity); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Repo.GetCase(ctx, opts.CaseID); err != nil {
		return domain.Issue{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.nowString()
	is := domain.Issue{
		ID:          opts.ID,
		CaseID:      opts.CaseID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "open",
		Severity:    opts.Severity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return is, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIssueTx(ctx, tx, is); err != nil {
		return is, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "issue.created", is.CaseID, "issue", is.ID, opts.ActorID, events.EventPayload{"title": is.Title}); err != nil {
		return is, err
	}
	if err := tx.Commit(); err != nil {
		return is, err
	}
	return is, nil
}

// IssueUpdateOptions carry partial updates; nil fields are left untouched.
type IssueUpdateOptions struct {
	Title       *string
	Description *string
	Severity    *string
	ActorID     string
}

func (e Engine) UpdateIssue(ctx context.Context, issueID string, opts IssueUpdateOptions) (domain.Issue, error) {
	is, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return is, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return is, errors.New("title cannot be empty")
		}
		is.Title = *opts.Title
	}
	if opts.Description != nil {
		is.Description = *opts.Description
	}
	if opts.Severity != nil {
		if err := validSeverity(opts.Severity); err != nil {
			return is, err
		}
		is.Severity = opts.Severity
	}
	is.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return is, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIssueTx(ctx, tx, is); err != nil {
		return is, err
	}
	if err := e.Events.Append(ctx, tx, "issue.updated", is.CaseID, "issue", is.ID, opts.ActorID, nil); err != nil {
		return is, err
	}
	if err := tx.Commit(); err != nil {
		return is, err
	}
	return is, nil
}

// SetIssueStatus moves an issue through its lifecycle. Resolving and closing
// are consequential and go through the enforcement gate against the issue's
// own health.
func (e Engine) SetIssueStatus(ctx context.Context, issueID, newStatus string, opts GateOptions) (domain.Issue, error) {
	is, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return is, err
	}
	if is.ArchivedAt != nil {
		return is, errors.New("issue is archived")
	}
	if err := ensureIssueTransition(is.Status, newStatus); err != nil {
		return is, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return is, err
	}
	defer tx.Rollback()

	var gatedAction enforce.Action
	switch newStatus {
	case "resolved":
		gatedAction = enforce.ActionResolveIssue
	case "closed":
		gatedAction = enforce.ActionCloseIssue
	}
	if gatedAction != "" {
		h, err := e.IssueHealth(ctx, issueID)
		if err != nil {
			return is, err
		}
		if err := e.gate(ctx, tx, gatedAction, is.CaseID, h, opts); err != nil {
			return is, err
		}
	}

	from := is.Status
	is.Status = newStatus
	is.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateIssueTx(ctx, tx, is); err != nil {
		return is, err
	}
	if err := e.Events.Append(ctx, tx, "issue.status", is.CaseID, "issue", is.ID, opts.ActorID, events.EventPayload{
		"from_status": from,
		"to_status":   newStatus,
	}); err != nil {
		return is, err
	}
	if err := tx.Commit(); err != nil {
		return is, err
	}
	return is, nil
}

// ArchiveIssue hides an issue from scoring without deleting its records.
func (e Engine) ArchiveIssue(ctx context.Context, issueID string, opts GateOptions) (domain.Issue, error) {
	is, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return is, err
	}
	if is.ArchivedAt != nil {
		return is, errors.New("issue already archived")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return is, err
	}
	defer tx.Rollback()

	h, err := e.IssueHealth(ctx, issueID)
	if err != nil {
		return is, err
	}
	if err := e.gate(ctx, tx, enforce.ActionArchiveIssue, is.CaseID, h, opts); err != nil {
		return is, err
	}

	now := e.nowString()
	is.ArchivedAt = &now
	is.UpdatedAt = now
	if err := e.Repo.UpdateIssueTx(ctx, tx, is); err != nil {
		return is, err
	}
	if err := e.Events.Append(ctx, tx, "issue.archived", is.CaseID, "issue", is.ID, opts.ActorID, nil); err != nil {
		return is, err
	}
	if err := tx.Commit(); err != nil {
		return is, err
	}
	return is, nil
}

// EvidenceAddOptions are parameters for attaching evidence to an issue.
type EvidenceAddOptions struct {
	ID      string
	IssueID string
	Kind    string
	Label   string
	URI     string
	SHA256  string
	ActorID string
}

func (e Engine) AddEvidence(ctx context.Context, opts EvidenceAddOptions) (domain.Evidence, error) {
	switch opts.Kind {
	case "photo", "document", "receipt", "note":
	default:
		return domain.Evidence{}, fmt.Errorf("invalid evidence kind %q", opts.Kind)
	}
	if opts.Label == "" {
		return domain.Evidence{}, errors.New("label is required")
	}
	is, err := e.Repo.GetIssue(ctx, opts.IssueID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	ev := domain.Evidence{
		ID:        opts.ID,
		CaseID:    is.CaseID,
		IssueID:   is.ID,
		Kind:      opts.Kind,
		Label:     opts.Label,
		URI:       opts.URI,
		SHA256:    opts.SHA256,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvidenceTx(ctx, tx, ev); err != nil {
		return ev, fmt.Errorf("insert evidence: %w", err)
	}
	if err := e.touchIssueTx(ctx, tx, is); err != nil {
		return ev, err
	}
	if err := e.Events.Append(ctx, tx, "evidence.added", ev.CaseID, "evidence", ev.ID, opts.ActorID, events.EventPayload{
		"issue_id": ev.IssueID,
		"kind":     ev.Kind,
	}); err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

func (e Engine) DeleteEvidence(ctx context.Context, evidenceID string, opts GateOptions) error {
	ev, err := e.Repo.GetEvidence(ctx, evidenceID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	h, err := e.IssueHealth(ctx, ev.IssueID)
	if err != nil {
		return err
	}
	if err := e.gate(ctx, tx, enforce.ActionDeleteEvidence, ev.CaseID, h, opts); err != nil {
		return err
	}
	if err := e.Repo.DeleteEvidenceTx(ctx, tx, evidenceID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "evidence.deleted", ev.CaseID, "evidence", ev.ID, opts.ActorID, events.EventPayload{
		"issue_id": ev.IssueID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CommAddOptions are parameters for logging a communication record.
type CommAddOptions struct {
	ID         string
	IssueID    string
	Direction  string
	Channel    string
	Summary    string
	OccurredAt string
	ActorID    string
}

func (e Engine) AddComm(ctx context.Context, opts CommAddOptions) (domain.Comm, error) {
	if opts.Direction != "inbound" && opts.Direction != "outbound" {
		return domain.Comm{}, fmt.Errorf("invalid direction %q", opts.Direction)
	}
	switch opts.Channel {
	case "email", "phone", "letter", "in_person", "portal":
	default:
		return domain.Comm{}, fmt.Errorf("invalid channel %q", opts.Channel)
	}
	if opts.Summary == "" {
		return domain.Comm{}, errors.New("summary is required")
	}
	is, err := e.Repo.GetIssue(ctx, opts.IssueID)
	if err != nil {
		return domain.Comm{}, err
	}
	if opts.OccurredAt == "" {
		opts.OccurredAt = e.nowString()
	} else if _, err := time.Parse(time.RFC3339, opts.OccurredAt); err != nil {
		return domain.Comm{}, fmt.Errorf("occurred_at: %w", err)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	c := domain.Comm{
		ID:         opts.ID,
		CaseID:     is.CaseID,
		IssueID:    is.ID,
		Direction:  opts.Direction,
		Channel:    opts.Channel,
		Summary:    opts.Summary,
		OccurredAt: opts.OccurredAt,
		CreatedAt:  e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommTx(ctx, tx, c); err != nil {
		return c, fmt.Errorf("insert comm: %w", err)
	}
	if err := e.touchIssueTx(ctx, tx, is); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "comm.added", c.CaseID, "comm", c.ID, opts.ActorID, events.EventPayload{
		"issue_id":  c.IssueID,
		"direction": c.Direction,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) DeleteComm(ctx context.Context, commID string, opts GateOptions) error {
	c, err := e.Repo.GetComm(ctx, commID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	h, err := e.IssueHealth(ctx, c.IssueID)
	if err != nil {
		return err
	}
	if err := e.gate(ctx, tx, enforce.ActionDeleteComms, c.CaseID, h, opts); err != nil {
		return err
	}
	if err := e.Repo.DeleteCommTx(ctx, tx, commID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "comm.deleted", c.CaseID, "comm", c.ID, opts.ActorID, events.EventPayload{
		"issue_id": c.IssueID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// touchIssueTx bumps updated_at so recency scoring reflects the new record.
func (e Engine) touchIssueTx(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	is.UpdatedAt = e.nowString()
	return e.Repo.UpdateIssueTx(ctx, tx, is)
}

func ensureIssueTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "open":
		if newStatus == "in_progress" || newStatus == "resolved" {
			return nil
		}
	case "in_progress":
		if newStatus == "resolved" {
			return nil
		}
	case "resolved":
		if newStatus == "closed" || newStatus == "open" {
			return nil
		}
	}
	return fmt.Errorf("invalid issue status transition %s -> %s", oldStatus, newStatus)
}

func validSeverity(severity *string) error {
	if severity == nil {
		return nil
	}
	switch *severity {
	case "low", "medium", "high", "urgent":
		return nil
	}
	return fmt.Errorf("invalid severity %q", *severity)
}

// gate runs the enforcement decision for an action and records an override
// when the caller proceeds past a warning or soft block. Force skips the
// decision entirely.
func (e Engine) gate(ctx context.Context, tx *sql.Tx, action enforce.Action, caseID string, h health.CaseHealth, opts GateOptions) error {
	if opts.Force {
		return nil
	}
	p, err := e.Plans.ForCase(ctx, caseID)
	if err != nil {
		return err
	}
	res, err := enforce.Check(action, h.Status, h.Score, p)
	if err != nil {
		return err
	}
	switch res.Level {
	case enforce.LevelHardBlocked:
		return enforce.BlockedError{Result: res}
	case enforce.LevelSoftBlocked:
		if !opts.Confirm {
			return enforce.ConfirmationRequiredError{Result: res}
		}
	case enforce.LevelAllowed:
		return nil
	}
	return e.Events.AppendOverride(ctx, tx, domain.OverrideLogEntry{
		CaseID:       caseID,
		ActorID:      opts.ActorID,
		Action:       string(action),
		Level:        string(res.Level),
		HealthStatus: string(h.Status),
		HealthScore:  h.Score,
		PlanID:       string(p),
		Reason:       opts.Reason,
	})
}

// issueInput assembles the scorer's view of one issue.
func issueInput(is domain.Issue, act repo.IssueActivity) health.IssueInput {
	updatedAt, _ := time.Parse(time.RFC3339, is.UpdatedAt)
	return health.IssueInput{
		ID:             is.ID,
		Title:          is.Title,
		Description:    is.Description,
		Status:         is.Status,
		Severity:       is.Severity,
		Archived:       is.ArchivedAt != nil,
		UpdatedAt:      updatedAt,
		EvidenceCount:  act.EvidenceCount,
		CommsCount:     act.CommsCount,
		LastEvidenceAt: act.LastEvidenceAt,
		LastCommsAt:    act.LastCommsAt,
	}
}

// IssueHealth scores a single issue. Nothing is persisted; the score is
// recomputed from the issue's records on every call.
func (e Engine) IssueHealth(ctx context.Context, issueID string) (health.CaseHealth, error) {
	is, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return health.CaseHealth{}, err
	}
	act, err := e.Repo.IssueActivity(ctx, issueID)
	if err != nil {
		return health.CaseHealth{}, err
	}
	return health.ScoreIssue(issueInput(is, act), e.now()), nil
}

func (e Engine) caseInputs(ctx context.Context, caseID string) ([]health.IssueInput, error) {
	issues, err := e.Repo.ListIssues(ctx, repo.IssueFilters{CaseID: caseID, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	activity, err := e.Repo.CaseActivity(ctx, caseID)
	if err != nil {
		return nil, err
	}
	inputs := make([]health.IssueInput, 0, len(issues))
	for _, is := range issues {
		inputs = append(inputs, issueInput(is, activity[is.ID]))
	}
	return inputs, nil
}

// CaseHealth aggregates the health of all active issues on a case.
func (e Engine) CaseHealth(ctx context.Context, caseID string) (health.CaseHealth, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return health.CaseHealth{}, err
	}
	inputs, err := e.caseInputs(ctx, caseID)
	if err != nil {
		return health.CaseHealth{}, err
	}
	return health.ScoreOverall(inputs, e.now()), nil
}

// NextStep recommends the single most useful action for a case.
func (e Engine) NextStep(ctx context.Context, caseID string) (health.NextStep, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return health.NextStep{}, err
	}
	inputs, err := e.caseInputs(ctx, caseID)
	if err != nil {
		return health.NextStep{}, err
	}
	return health.Recommend(inputs, e.now()), nil
}

func (e Engine) packInputs(ctx context.Context, caseID string) ([]packs.IssueForPack, []packs.CommForPack, error) {
	issues, err := e.Repo.ListIssues(ctx, repo.IssueFilters{CaseID: caseID, IncludeArchived: true})
	if err != nil {
		return nil, nil, err
	}
	activity, err := e.Repo.CaseActivity(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	in := make([]packs.IssueForPack, 0, len(issues))
	for _, is := range issues {
		updatedAt, _ := time.Parse(time.RFC3339, is.UpdatedAt)
		in = append(in, packs.IssueForPack{
			ID:            is.ID,
			Title:         is.Title,
			Status:        is.Status,
			Severity:      is.Severity,
			Archived:      is.ArchivedAt != nil,
			UpdatedAt:     updatedAt,
			EvidenceCount: activity[is.ID].EvidenceCount,
		})
	}
	comms, err := e.Repo.ListCaseComms(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	cin := make([]packs.CommForPack, 0, len(comms))
	for _, c := range comms {
		cin = append(cin, packs.CommForPack{IssueID: c.IssueID, Direction: c.Direction})
	}
	return in, cin, nil
}

// PackReadiness previews how defensible a pack built from the selected issues
// would be, without creating anything.
func (e Engine) PackReadiness(ctx context.Context, caseID string, selectedIDs []string) (packs.PackReadiness, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return packs.PackReadiness{}, err
	}
	issues, comms, err := e.packInputs(ctx, caseID)
	if err != nil {
		return packs.PackReadiness{}, err
	}
	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}
	return packs.ScoreReadiness(issues, selected, comms, e.now()), nil
}

// PackGenerateOptions are parameters for generating an evidence pack.
type PackGenerateOptions struct {
	CaseID      string
	Title       string
	SelectedIDs []string
	GateOptions
}

// GeneratePack records a pack manifest. The action is gated against overall
// case health, and additionally requires confirmation when the readiness
// scorer asks for one.
func (e Engine) GeneratePack(ctx context.Context, opts PackGenerateOptions) (domain.Pack, packs.PackReadiness, error) {
	if opts.Title == "" {
		return domain.Pack{}, packs.PackReadiness{}, errors.New("title is required")
	}
	if len(opts.SelectedIDs) == 0 {
		return domain.Pack{}, packs.PackReadiness{}, errors.New("at least one issue must be selected")
	}
	if _, err := e.Repo.GetCase(ctx, opts.CaseID); err != nil {
		return domain.Pack{}, packs.PackReadiness{}, err
	}
	for _, id := range opts.SelectedIDs {
		is, err := e.Repo.GetIssue(ctx, id)
		if err != nil {
			return domain.Pack{}, packs.PackReadiness{}, fmt.Errorf("selected issue %s: %w", id, err)
		}
		if is.CaseID != opts.CaseID {
			return domain.Pack{}, packs.PackReadiness{}, fmt.Errorf("issue %s not in case %s", id, opts.CaseID)
		}
	}
	readiness, err := e.PackReadiness(ctx, opts.CaseID, opts.SelectedIDs)
	if err != nil {
		return domain.Pack{}, readiness, err
	}
	overall, err := e.CaseHealth(ctx, opts.CaseID)
	if err != nil {
		return domain.Pack{}, readiness, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pack{}, readiness, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, enforce.ActionGeneratePack, opts.CaseID, overall, opts.GateOptions); err != nil {
		return domain.Pack{}, readiness, err
	}
	if readiness.RequiresConfirmation && !opts.Confirm && !opts.Force {
		return domain.Pack{}, readiness, enforce.ConfirmationRequiredError{Result: enforce.Result{
			Level:                enforce.LevelSoftBlocked,
			RequiresConfirmation: true,
			Message: enforce.Message{
				Title:        "This pack has readiness warnings",
				Description:  readiness.Description,
				ConfirmLabel: "Generate anyway",
				CancelLabel:  "Go back",
			},
			Context: enforce.Context{
				Action:       enforce.ActionGeneratePack,
				HealthStatus: overall.Status,
				HealthScore:  overall.Score,
			},
		}}
	}

	p := domain.Pack{
		ID:              uuid.NewString(),
		CaseID:          opts.CaseID,
		Title:           opts.Title,
		IssueIDs:        opts.SelectedIDs,
		ReadinessScore:  readiness.Score,
		ReadinessStatus: string(readiness.Status),
		Confirmed:       opts.Confirm,
		GeneratedBy:     opts.ActorID,
		CreatedAt:       e.nowString(),
	}
	if err := e.Repo.InsertPackTx(ctx, tx, p); err != nil {
		return p, readiness, fmt.Errorf("insert pack: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "pack.generated", p.CaseID, "pack", p.ID, opts.ActorID, events.EventPayload{
		"title":            p.Title,
		"issue_count":      len(p.IssueIDs),
		"readiness_score":  p.ReadinessScore,
		"readiness_status": p.ReadinessStatus,
	}); err != nil {
		return p, readiness, err
	}
	if err := tx.Commit(); err != nil {
		return p, readiness, err
	}
	return p, readiness, nil
}

// CheckEnforcement answers "what would happen if I tried this" for the UI.
// It never blocks and never writes an override.
func (e Engine) CheckEnforcement(ctx context.Context, caseID string, action enforce.Action) (enforce.Result, error) {
	h, err := e.CaseHealth(ctx, caseID)
	if err != nil {
		return enforce.Result{}, err
	}
	p, err := e.Plans.ForCase(ctx, caseID)
	if err != nil {
		return enforce.Result{}, err
	}
	return enforce.Check(action, h.Status, h.Score, p)
}
