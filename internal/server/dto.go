package server

import "rentproof/internal/domain"

// Request payloads

type CreateCaseRequest struct {
	ID          *string `json:"id,omitempty"`
	Address     string  `json:"address"`
	Description *string `json:"description,omitempty"`
}

type UpdateCaseRequest struct {
	Status      string  `json:"status,omitempty" enum:"active,archived"`
	Address     string  `json:"address,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateIssueRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty" enum:"low,medium,high,urgent"`
}

type UpdateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty" enum:"low,medium,high,urgent"`
}

// SetIssueStatusRequest moves an issue through its lifecycle. Confirm
// acknowledges a soft-blocked enforcement decision.
type SetIssueStatusRequest struct {
	Status  string  `json:"status" enum:"open,in_progress,resolved,closed"`
	Confirm bool    `json:"confirm,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

type ArchiveIssueRequest struct {
	Confirm bool    `json:"confirm,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

type AddEvidenceRequest struct {
	Kind   string `json:"kind" enum:"photo,document,receipt,note"`
	Label  string `json:"label"`
	URI    string `json:"uri,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

type AddCommRequest struct {
	Direction  string `json:"direction" enum:"inbound,outbound"`
	Channel    string `json:"channel" enum:"email,phone,letter,in_person,portal"`
	Summary    string `json:"summary"`
	OccurredAt string `json:"occurred_at,omitempty" format:"date-time"`
}

type PackReadinessRequest struct {
	IssueIDs []string `json:"issue_ids"`
}

type GeneratePackRequest struct {
	Title    string   `json:"title"`
	IssueIDs []string `json:"issue_ids"`
	Confirm  bool     `json:"confirm,omitempty"`
	Reason   *string  `json:"reason,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Email   string `json:"email,omitempty"`
}

// Response payloads

// APIKeyMintResponse returns the plaintext key exactly once; only the hash is
// stored.
type APIKeyMintResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type IssueListResponse struct {
	Items      []domain.Issue `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
