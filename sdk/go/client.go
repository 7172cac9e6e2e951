package rentproofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rentproof HTTP API client.
type Client struct {
	BaseURL     string
	CaseID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, caseID string) *Client {
	return &Client{
		BaseURL: baseURL,
		CaseID:  caseID,
		Timeout: 10 * time.Second,
	}
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID        string  `json:"id"`
	CaseID    string  `json:"case_id"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	Severity  *string `json:"severity,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

// Evidence represents an evidence record.
type Evidence struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	IssueID   string `json:"issue_id"`
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	CreatedAt string `json:"created_at"`
}

// Comm represents a communication record.
type Comm struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	IssueID    string `json:"issue_id"`
	Direction  string `json:"direction"`
	Channel    string `json:"channel"`
	Summary    string `json:"summary"`
	OccurredAt string `json:"occurred_at"`
}

// Factor is one scored health dimension.
type Factor struct {
	Name           string `json:"name"`
	Points         int    `json:"points"`
	MaxPoints      int    `json:"max_points"`
	Status         string `json:"status"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Health is the case or issue health report.
type Health struct {
	Score       int      `json:"score"`
	Status      string   `json:"status"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Factors     []Factor `json:"factors"`
}

// NextStep is the recommended action for a case.
type NextStep struct {
	IssueID string `json:"issue_id"`
	Action  string `json:"action"`
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Urgency string `json:"urgency"`
}

// ReadinessWarning flags a weakness in a proposed pack.
type ReadinessWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	IssueID string `json:"issue_id,omitempty"`
}

// Readiness is the pack readiness report.
type Readiness struct {
	Score                int                `json:"score"`
	Status               string             `json:"status"`
	Label                string             `json:"label"`
	Warnings             []ReadinessWarning `json:"warnings"`
	RequiresConfirmation bool               `json:"requires_confirmation"`
}

// Pack is a generated evidence pack manifest.
type Pack struct {
	ID              string   `json:"id"`
	CaseID          string   `json:"case_id"`
	Title           string   `json:"title"`
	IssueIDs        []string `json:"issue_ids"`
	ReadinessScore  int      `json:"readiness_score"`
	ReadinessStatus string   `json:"readiness_status"`
	CreatedAt       string   `json:"created_at"`
}

// Enforcement is a decision preview.
type Enforcement struct {
	Level                string `json:"level"`
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Message              struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ConfirmLabel string `json:"confirm_label,omitempty"`
		CancelLabel  string `json:"cancel_label,omitempty"`
		WarningText  string `json:"warning_text,omitempty"`
	} `json:"message"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CaseID     string         `json:"case_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateIssue creates an issue on the client's case.
func (c *Client) CreateIssue(ctx context.Context, title string, severity *string) (Issue, error) {
	body := map[string]any{"title": title}
	if severity != nil {
		body["severity"] = *severity
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.casePath("issues"), body, &resp)
	return resp, err
}

// SetIssueStatus changes an issue's status; confirm acknowledges a soft block.
func (c *Client) SetIssueStatus(ctx context.Context, issueID, status string, confirm bool) (Issue, error) {
	body := map[string]any{"status": status, "confirm": confirm}
	var resp Issue
	endpoint := fmt.Sprintf("v0/issues/%s/status", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddEvidence attaches evidence to an issue.
func (c *Client) AddEvidence(ctx context.Context, issueID, kind, label, uri string) (Evidence, error) {
	body := map[string]any{"kind": kind, "label": label, "uri": uri}
	var resp Evidence
	endpoint := fmt.Sprintf("v0/issues/%s/evidence", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddComm logs a communication on an issue.
func (c *Client) AddComm(ctx context.Context, issueID, direction, channel, summary string) (Comm, error) {
	body := map[string]any{"direction": direction, "channel": channel, "summary": summary}
	var resp Comm
	endpoint := fmt.Sprintf("v0/issues/%s/comms", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CaseHealth returns the aggregate health report.
func (c *Client) CaseHealth(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, c.casePath("health"), nil, &resp)
	return resp, err
}

// IssueHealth scores a single issue.
func (c *Client) IssueHealth(ctx context.Context, issueID string) (Health, error) {
	var resp Health
	endpoint := fmt.Sprintf("v0/issues/%s/health", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// NextStep returns the recommended next action.
func (c *Client) NextStep(ctx context.Context) (NextStep, error) {
	var resp NextStep
	err := c.do(ctx, http.MethodGet, c.casePath("next-step"), nil, &resp)
	return resp, err
}

// PackReadiness previews readiness for a selection of issues.
func (c *Client) PackReadiness(ctx context.Context, issueIDs []string) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodPost, c.casePath("packs/readiness"), map[string]any{"issue_ids": issueIDs}, &resp)
	return resp, err
}

// GeneratePack creates a pack manifest; confirm acknowledges warnings.
func (c *Client) GeneratePack(ctx context.Context, title string, issueIDs []string, confirm bool) (Pack, error) {
	body := map[string]any{"title": title, "issue_ids": issueIDs, "confirm": confirm}
	var resp Pack
	err := c.do(ctx, http.MethodPost, c.casePath("packs"), body, &resp)
	return resp, err
}

// CheckEnforcement previews the decision for an action at current health.
func (c *Client) CheckEnforcement(ctx context.Context, action string) (Enforcement, error) {
	var resp Enforcement
	endpoint := fmt.Sprintf("%s?action=%s", c.casePath("enforcement"), url.QueryEscape(action))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.casePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) casePath(p string) string {
	caseID := url.PathEscape(c.CaseID)
	return fmt.Sprintf("v0/cases/%s/%s", caseID, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
