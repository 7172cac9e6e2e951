package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rentproof/internal/domain"
	"rentproof/internal/enforce"
	"rentproof/internal/engine"
	"rentproof/internal/health"
	"rentproof/internal/packs"
	"rentproof/internal/plan"
	"rentproof/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"action_blocked"`
	Message string         `json:"message" example:"Pack generation is blocked while the case is at risk"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rentproof API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rentproof API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealthCheck(group)
	registerCases(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerEvidence(group, cfg.Engine)
	registerComms(group, cfg.Engine)
	registerScoring(group, cfg.Engine)
	registerPacks(group, cfg.Engine)
	registerEnforcement(group, cfg.Engine)
	registerOverrides(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var be enforce.BlockedError
	if errors.As(err, &be) {
		return newAPIError(http.StatusForbidden, "action_blocked", be.Result.Message.Title, map[string]any{
			"enforcement": be.Result,
		})
	}
	var ce enforce.ConfirmationRequiredError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "confirmation_required", ce.Result.Message.Title, map[string]any{
			"enforcement": ce.Result,
		})
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, plan.ErrNoAccount) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"),
		strings.Contains(lowered, "already archived"),
		strings.Contains(lowered, "is archived"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "cannot be empty"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rentproof API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealthCheck(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Create case",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		c, err := e.InitCase(ctx, id, input.Body.Address, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		items, err := e.Repo.ListCases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Update case",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCase(ctx, input.CaseID, input.Body.Status, input.Body.Address, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.IssueCreateOptions{
			CaseID:   input.CaseID,
			Title:    input.Body.Title,
			Severity: input.Body.Severity,
			ActorID:  actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		is, err := e.CreateIssue(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/issues",
		Summary:     "List issues",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID          string `path:"case_id"`
		Status          string `query:"status" enum:"open,in_progress,resolved,closed,"`
		Severity        string `query:"severity" enum:"low,medium,high,urgent,"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body IssueListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.ListIssues(ctx, repo.IssueFilters{
			CaseID:          input.CaseID,
			Status:          input.Status,
			Severity:        input.Severity,
			IncludeArchived: input.IncludeArchived,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body IssueListResponse `json:"body"`
		}{Body: IssueListResponse{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		is, err := e.Repo.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Update issue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.UpdateIssue(ctx, input.IssueID, engine.IssueUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Severity:    input.Body.Severity,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-issue-status",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/status",
		Summary:     "Change issue status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    SetIssueStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.SetIssueStatus(ctx, input.IssueID, input.Body.Status, engine.GateOptions{
			ActorID: actorID,
			Confirm: input.Body.Confirm,
			Reason:  input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/archive",
		Summary:     "Archive issue",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string              `path:"issue_id"`
		Body    ArchiveIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.ArchiveIssue(ctx, input.IssueID, engine.GateOptions{
			ActorID: actorID,
			Confirm: input.Body.Confirm,
			Reason:  input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})
}

func registerEvidence(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-evidence",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/evidence",
		Summary:       "Attach evidence",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    AddEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AddEvidence(ctx, engine.EvidenceAddOptions{
			IssueID: input.IssueID,
			Kind:    input.Body.Kind,
			Label:   input.Body.Label,
			URI:     input.Body.URI,
			SHA256:  input.Body.SHA256,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/evidence",
		Summary:     "List evidence",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body []domain.Evidence `json:"body"`
	}, error) {
		if _, err := e.Repo.GetIssue(ctx, input.IssueID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvidence(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Evidence `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-evidence",
		Method:      http.MethodDelete,
		Path:        "/evidence/{evidence_id}",
		Summary:     "Delete evidence",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EvidenceID string `path:"evidence_id"`
		Confirm    bool   `query:"confirm"`
		Reason     string `query:"reason"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.GateOptions{ActorID: actorID, Confirm: input.Confirm}
		if input.Reason != "" {
			opts.Reason = &input.Reason
		}
		if err := e.DeleteEvidence(ctx, input.EvidenceID, opts); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerComms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comm",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/comms",
		Summary:       "Log communication",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string         `path:"issue_id"`
		Body    AddCommRequest `json:"body"`
	}) (*struct {
		Body domain.Comm `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComm(ctx, engine.CommAddOptions{
			IssueID:    input.IssueID,
			Direction:  input.Body.Direction,
			Channel:    input.Body.Channel,
			Summary:    input.Body.Summary,
			OccurredAt: input.Body.OccurredAt,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comm `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comms",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/comms",
		Summary:     "List communications",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body []domain.Comm `json:"body"`
	}, error) {
		if _, err := e.Repo.GetIssue(ctx, input.IssueID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComms(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comm `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-comm",
		Method:      http.MethodDelete,
		Path:        "/comms/{comm_id}",
		Summary:     "Delete communication",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CommID  string `path:"comm_id"`
		Confirm bool   `query:"confirm"`
		Reason  string `query:"reason"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.GateOptions{ActorID: actorID, Confirm: input.Confirm}
		if input.Reason != "" {
			opts.Reason = &input.Reason
		}
		if err := e.DeleteComm(ctx, input.CommID, opts); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerScoring(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "case-health",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/health",
		Summary:     "Case health score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body health.CaseHealth `json:"body"`
	}, error) {
		h, err := e.CaseHealth(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body health.CaseHealth `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-health",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/health",
		Summary:     "Issue health score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body health.CaseHealth `json:"body"`
	}, error) {
		h, err := e.IssueHealth(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body health.CaseHealth `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-step",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/next-step",
		Summary:     "Recommended next step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body health.NextStep `json:"body"`
	}, error) {
		step, err := e.NextStep(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body health.NextStep `json:"body"`
		}{Body: step}, nil
	})
}

func registerPacks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pack-readiness",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/packs/readiness",
		Summary:     "Preview pack readiness",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   PackReadinessRequest `json:"body"`
	}) (*struct {
		Body packs.PackReadiness `json:"body"`
	}, error) {
		r, err := e.PackReadiness(ctx, input.CaseID, input.Body.IssueIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body packs.PackReadiness `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-pack",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/packs",
		Summary:       "Generate evidence pack",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   GeneratePackRequest `json:"body"`
	}) (*struct {
		Body domain.Pack `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, _, err := e.GeneratePack(ctx, engine.PackGenerateOptions{
			CaseID:      input.CaseID,
			Title:       input.Body.Title,
			SelectedIDs: input.Body.IssueIDs,
			GateOptions: engine.GateOptions{
				ActorID: actorID,
				Confirm: input.Body.Confirm,
				Reason:  input.Body.Reason,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pack `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-packs",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/packs",
		Summary:     "List packs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.Pack `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPacks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Pack `json:"body"`
		}{Body: items}, nil
	})
}

func registerEnforcement(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-enforcement",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/enforcement",
		Summary:     "Preview an enforcement decision",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Action string `query:"action" required:"true" enum:"generate_pack,close_issue,resolve_issue,delete_evidence,delete_comms,archive_issue"`
	}) (*struct {
		Body enforce.Result `json:"body"`
	}, error) {
		res, err := e.CheckEnforcement(ctx, input.CaseID, enforce.Action(input.Action))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body enforce.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerOverrides(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-overrides",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/overrides",
		Summary:     "Override audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.OverrideLogEntry `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOverrides(ctx, input.CaseID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OverrideLogEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/events",
		Summary:     "Activity log",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID     string `path:"case_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.CaseID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) == limit && len(items) > 0 {
			next = fmt.Sprintf("%d", items[len(items)-1].ID)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items, NextCursor: next}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Mint API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyMintResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		plaintext := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(plaintext),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyMintResponse `json:"body"`
		}{Body: APIKeyMintResponse{
			ID:        stored.ID,
			ActorID:   stored.ActorID,
			Name:      stored.Name,
			Key:       plaintext,
			CreatedAt: stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: items}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a development JWT",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.Email))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
