package domain

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Plan      string `json:"plan" enum:"free,plus,pro"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Case struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Address     string `json:"address"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Issue struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"open,in_progress,resolved,closed"`
	Severity    *string `json:"severity,omitempty" enum:"low,medium,high,urgent"`
	ArchivedAt  *string `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Evidence struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	IssueID   string `json:"issue_id"`
	Kind      string `json:"kind" enum:"photo,document,receipt,note"`
	Label     string `json:"label"`
	URI       string `json:"uri,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Comm struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	IssueID    string `json:"issue_id"`
	Direction  string `json:"direction" enum:"inbound,outbound"`
	Channel    string `json:"channel" enum:"email,phone,letter,in_person,portal"`
	Summary    string `json:"summary,omitempty"`
	OccurredAt string `json:"occurred_at" format:"date-time"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Pack struct {
	ID              string   `json:"id"`
	CaseID          string   `json:"case_id"`
	Title           string   `json:"title"`
	IssueIDs        []string `json:"issue_ids"`
	ReadinessScore  int      `json:"readiness_score"`
	ReadinessStatus string   `json:"readiness_status" enum:"strong,moderate,weak,high-risk"`
	Confirmed       bool     `json:"confirmed"`
	GeneratedBy     string   `json:"generated_by"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
}

// OverrideLogEntry records a user proceeding past a warned or soft-blocked
// enforcement decision. Rows are append-only.
type OverrideLogEntry struct {
	ID           int64   `json:"id"`
	CaseID       string  `json:"case_id"`
	ActorID      string  `json:"actor_id"`
	Action       string  `json:"action"`
	Level        string  `json:"level" enum:"warned,soft_blocked"`
	HealthStatus string  `json:"health_status"`
	HealthScore  int     `json:"health_score"`
	PlanID       string  `json:"plan_id"`
	Reason       *string `json:"reason,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
