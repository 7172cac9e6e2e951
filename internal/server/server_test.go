package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"rentproof/internal/config"
	"rentproof/internal/db"
	"rentproof/internal/domain"
	"rentproof/internal/engine"
	"rentproof/internal/health"
	"rentproof/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("case-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitCase(context.Background(), "case-1", "12 High Street, Flat 3", "", "tester"); err != nil {
		t.Fatalf("init case: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errEnvelope struct {
	Error struct {
		Code    string                     `json:"code"`
		Message string                     `json:"message"`
		Details map[string]json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createIssue(t *testing.T, srv *testServer, body map[string]any) domain.Issue {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/case-1/issues", body, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue status %d: %s", res.StatusCode, string(data))
	}
	var is domain.Issue
	if err := json.Unmarshal(data, &is); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	return is
}

// documentIssue attaches enough material for the issue to score strong.
func documentIssue(t *testing.T, srv *testServer, issueID string) {
	t.Helper()
	client := srv.Client()
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/evidence", map[string]any{
			"kind":  "photo",
			"label": "damp patch",
		}, actorHeaders)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add evidence status %d: %s", res.StatusCode, string(data))
		}
	}
	for i := 0; i < 2; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/comms", map[string]any{
			"direction": "outbound",
			"channel":   "email",
			"summary":   "asked the landlord to inspect the damp",
		}, actorHeaders)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add comm status %d: %s", res.StatusCode, string(data))
		}
	}
}

func TestAuthenticationRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	// the health endpoint stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "tester",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer list cases status %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "tester",
		"name":     "ci",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint key status %d: %s", res.StatusCode, string(data))
	}
	var minted struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &minted); err != nil || minted.Key == "" {
		t.Fatalf("unmarshal key: %v (%s)", err, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{
		"X-Api-Key": minted.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key list cases status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{
		"X-Api-Key": "not-a-real-key",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key status %d", res.StatusCode)
	}
}

func TestCreateCaseAndIssueFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"address": "7 Other Road",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	if c.Address != "7 Other Road" || c.Status != "active" {
		t.Fatalf("case = %+v", c)
	}

	is := createIssue(t, srv, map[string]any{
		"title":    "Broken boiler",
		"severity": "high",
	})
	if is.Status != "open" {
		t.Fatalf("issue status = %s", is.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+is.ID, map[string]any{
		"description": "No heating or hot water since the 14th; engineer visit refused.",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update issue status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/issues", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list issues status %d: %s", res.StatusCode, string(data))
	}
	var list IssueListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != is.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestIssueHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	is := createIssue(t, srv, map[string]any{"title": "Broken boiler"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/issues/"+is.ID+"/health", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("issue health status %d: %s", res.StatusCode, string(data))
	}
	var h health.CaseHealth
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if h.Score != 30 || h.Status != health.StatusAtRisk {
		t.Fatalf("health = %d/%s, want 30/at-risk", h.Score, h.Status)
	}
	if len(h.Factors) == 0 {
		t.Fatal("health must include factor breakdown")
	}
}

func TestGateErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t)
	is := createIssue(t, srv, map[string]any{"title": "Broken boiler"})
	client := srv.Client()

	// at-risk resolve is soft-blocked: 409 until confirmed
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+is.ID+"/status", map[string]any{
		"status": "resolved",
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "confirmation_required" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	var enfDetail struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(env.Error.Details["enforcement"], &enfDetail); err != nil || enfDetail.Level != "soft_blocked" {
		t.Fatalf("enforcement detail = %s (%v)", string(env.Error.Details["enforcement"]), err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+is.ID+"/status", map[string]any{
		"status":  "resolved",
		"confirm": true,
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirmed resolve status %d: %s", res.StatusCode, string(data))
	}

	// at-risk close is hard-blocked: 403 even with confirm
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+is.ID+"/status", map[string]any{
		"status":  "closed",
		"confirm": true,
	}, actorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	env = decodeEnvelope(t, data)
	if env.Error.Code != "action_blocked" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestInvalidTransitionIs422(t *testing.T) {
	srv := newTestServer(t)
	is := createIssue(t, srv, map[string]any{"title": "Broken boiler"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/issues/"+is.ID+"/status", map[string]any{
		"status": "closed",
	}, actorHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestPackReadinessAndGeneration(t *testing.T) {
	srv := newTestServer(t)
	is := createIssue(t, srv, map[string]any{
		"title":       "Damp in bedroom",
		"description": "Persistent damp patch on the bedroom wall, spreading since March.",
		"severity":    "high",
	})
	documentIssue(t, srv, is.ID)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/packs/readiness", map[string]any{
		"issue_ids": []string{is.ID},
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d: %s", res.StatusCode, string(data))
	}
	var readiness struct {
		Score                int    `json:"score"`
		Status               string `json:"status"`
		RequiresConfirmation bool   `json:"requires_confirmation"`
	}
	if err := json.Unmarshal(data, &readiness); err != nil {
		t.Fatalf("unmarshal readiness: %v", err)
	}
	if readiness.Score != 100 || readiness.Status != "strong" || readiness.RequiresConfirmation {
		t.Fatalf("readiness = %+v", readiness)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/case-1/packs", map[string]any{
		"title":     "Damp evidence pack",
		"issue_ids": []string{is.ID},
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/case-1/packs", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list packs status %d: %s", res.StatusCode, string(data))
	}
	var packsList []domain.Pack
	if err := json.Unmarshal(data, &packsList); err != nil {
		t.Fatalf("unmarshal packs: %v", err)
	}
	if len(packsList) != 1 || packsList[0].Title != "Damp evidence pack" {
		t.Fatalf("packs = %+v", packsList)
	}
}

func TestEnforcementPreview(t *testing.T) {
	srv := newTestServer(t)
	createIssue(t, srv, map[string]any{"title": "Broken boiler"})

	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/cases/case-1/enforcement?action=generate_pack", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		Level   string `json:"level"`
		Allowed bool   `json:"allowed"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Level != "hard_blocked" || result.Allowed {
		t.Fatalf("result = %+v", result)
	}
}

func TestEventsFeed(t *testing.T) {
	srv := newTestServer(t)
	is := createIssue(t, srv, map[string]any{"title": "Broken boiler"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/case-1/events", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var feed EventListResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	found := false
	for _, evt := range feed.Items {
		if evt.Type == "issue.created" && evt.EntityID == is.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("issue.created event missing: %+v", feed.Items)
	}
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/issues/no-such-issue", nil, actorHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "not_found" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}
