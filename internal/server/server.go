package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"voteline/internal/domain"
	"voteline/internal/engine"
	"voteline/internal/engine/auth"
	"voteline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"validation failed: subject: required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the voteline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request schema failures are the caller's fault, not a domain rule
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("voteline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerVotes(group, cfg.Engine)
	registerRelations(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

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

// handleError maps engine errors onto the envelope by kind.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch engine.KindOf(err) {
	case engine.KindValidation:
		var ve *engine.ValidationError
		errors.As(err, &ve)
		fields := make([]map[string]any, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			entry := map[string]any{"field": f.Field, "rule": f.Rule}
			if f.Value != nil {
				entry["value"] = f.Value
			}
			fields = append(fields, entry)
		}
		return newAPIError(http.StatusUnprocessableEntity, string(engine.KindValidation), msg, map[string]any{"fields": fields})
	case engine.KindWorkflow:
		var we *engine.WorkflowError
		errors.As(err, &we)
		return newAPIError(http.StatusForbidden, string(engine.KindWorkflow), msg, map[string]any{
			"from": we.From, "to": we.To, "roles": nonNilSlice(we.Roles),
		})
	case engine.KindConflict:
		return newAPIError(http.StatusConflict, string(engine.KindConflict), msg, nil)
	case engine.KindCascade:
		var ce *engine.CascadeError
		errors.As(err, &ce)
		return newAPIError(http.StatusConflict, string(engine.KindCascade), msg, map[string]any{
			"issue_id": ce.IssueID, "dependent_id": ce.DependentID,
		})
	case engine.KindForbidden:
		var fe auth.ForbiddenError
		errors.As(err, &fe)
		return newAPIError(http.StatusForbidden, string(engine.KindForbidden), msg, map[string]any{"permission": fe.Permission})
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, string(engine.KindNotFound), msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func badRequest(msg string) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func eachOperation(item *huma.PathItem, fn func(op *huma.Operation)) {
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			fn(op)
		}
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		eachOperation(item, func(op *huma.Operation) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"error": {Type: "object"},
							},
						},
					},
				},
			}
		})
	}
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
	oas.Components.SecuritySchemes["actorHeader"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Actor-Id",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"actorHeader": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		eachOperation(item, func(op *huma.Operation) {
			if open[route] {
				op.Security = []map[string][]string{}
				return
			}
			op.Security = security
		})
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>voteline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type issuePath struct {
	IssueID string `path:"issue_id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			ParentID: input.Body.ParentID,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Project], error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*bodyOutput[domain.Project], error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-parent",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/parent",
		Summary:     "Move a project in the hierarchy",
		Description: "Fixed versions no longer shared with an issue's project are cleared and journaled.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SetParentRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetProjectParent(ctx, input.ProjectID, input.Body.ParentID, actorID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-role",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Grant a role on the project",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AssignRoleRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, badRequest("actor_id is required")
		}
		if err := e.AssignRole(ctx, input.ProjectID, input.Body.ActorID, input.Body.Role, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-version",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/versions",
		Summary:       "Create version",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      CreateVersionRequest `json:"body"`
	}) (*bodyOutput[domain.Version], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CreateVersion(ctx, engine.CreateVersionOptions{
			ProjectID:     input.ProjectID,
			Name:          input.Body.Name,
			Status:        input.Body.Status,
			Sharing:       input.Body.Sharing,
			EffectiveDate: input.Body.EffectiveDate,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/versions",
		Summary:     "List versions",
		Description: "With shared=true, every version usable by the project under its sharing policy.",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Shared    bool   `query:"shared"`
	}) (*bodyOutput[[]domain.Version], error) {
		var (
			items []domain.Version
			err   error
		)
		if input.Shared {
			items, err = e.SharedVersions(ctx, input.ProjectID)
		} else {
			items, err = e.ListVersions(ctx, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-version",
		Method:      http.MethodPatch,
		Path:        "/versions/{version_id}",
		Summary:     "Change version status or sharing",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		VersionID string               `path:"version_id"`
		Body      UpdateVersionRequest `json:"body"`
	}) (*bodyOutput[domain.Version], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == nil && input.Body.Sharing == nil {
			return nil, badRequest("status or sharing is required")
		}
		var (
			v   domain.Version
			err error
		)
		if input.Body.Sharing != nil {
			if v, err = e.SetVersionSharing(ctx, input.VersionID, *input.Body.Sharing, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Status != nil {
			if v, err = e.UpdateVersionStatus(ctx, input.VersionID, *input.Body.Status, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(v), nil
	})
}

type issueView struct {
	engine.Engine
}

func (v issueView) response(ctx context.Context, i domain.Issue) (IssueResponse, error) {
	blocked, err := v.IsBlocked(ctx, i.ID)
	if err != nil {
		return IssueResponse{}, err
	}
	overdue, err := v.IsOverdue(ctx, i.ID)
	if err != nil {
		return IssueResponse{}, err
	}
	team, err := v.HasTeam(ctx, i.ID)
	if err != nil {
		return IssueResponse{}, err
	}
	due, err := v.DueBefore(ctx, i.ID)
	if err != nil {
		return IssueResponse{}, err
	}
	out := IssueResponse{Issue: i, Blocked: blocked, Overdue: overdue, HasTeam: team, DueBefore: due}
	if actorID, authErr := actorIDFromContext(ctx); authErr == nil {
		if out.PushAllowed, err = v.PushAllowed(ctx, i.ID, actorID); err != nil {
			return IssueResponse{}, err
		}
	}
	return out, nil
}

func registerIssues(api huma.API, e engine.Engine) {
	view := issueView{e}

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateIssueRequest `json:"body"`
	}) (*bodyOutput[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateIssueOptions{
			ProjectID:      input.ProjectID,
			TrackerID:      input.Body.TrackerID,
			Subject:        input.Body.Subject,
			Description:    input.Body.Description,
			StatusID:       input.Body.StatusID,
			AssigneeID:     input.Body.AssigneeID,
			FixedVersionID: input.Body.FixedVersionID,
			StartDate:      input.Body.StartDate,
			DueDate:        input.Body.DueDate,
			ExpectedDate:   input.Body.ExpectedDate,
			DoneRatio:      input.Body.DoneRatio,
			EstimatedHours: input.Body.EstimatedHours,
			CustomValues:   input.Body.CustomValues,
			ActorID:        actorID,
		}
		if input.Body.Priority != "" {
			p, err := domain.ParsePriority(input.Body.Priority)
			if err != nil {
				return nil, badRequest(err.Error())
			}
			opts.Priority = p
		}
		i, err := e.CreateIssue(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(i), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, input *struct {
		ProjectID      string `path:"project_id"`
		StatusID       string `query:"status_id"`
		AssigneeID     string `query:"assignee_id"`
		FixedVersionID string `query:"fixed_version_id"`
		Limit          int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.Issue], error) {
		items, err := e.ListIssues(ctx, repo.IssueFilters{
			ProjectID:      input.ProjectID,
			StatusID:       input.StatusID,
			AssigneeID:     input.AssigneeID,
			FixedVersionID: input.FixedVersionID,
			Limit:          input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[IssueResponse], error) {
		i, err := e.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := view.response(ctx, i)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Apply a change to an issue",
		Description: "Changes, validation, journal and cascades run in one transaction. Pass lock_version to detect stale edits.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*bodyOutput[MutationResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		changes, err := input.Body.toChanges()
		if err != nil {
			return nil, badRequest(err.Error())
		}
		i, j, err := e.ApplyMutation(ctx, engine.MutationOptions{
			IssueID:     input.IssueID,
			ActorID:     actorID,
			Notes:       input.Body.Notes,
			Changes:     changes,
			LockVersion: input.Body.LockVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(MutationResponse{Issue: i, Journal: j}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-issue",
		Method:        http.MethodDelete,
		Path:          "/issues/{issue_id}",
		Summary:       "Delete issue",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteIssue(ctx, input.IssueID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/move",
		Summary:     "Move or copy an issue to another project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string           `path:"issue_id"`
		Body    MoveIssueRequest `json:"body"`
	}) (*bodyOutput[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.MoveOptions{
			IssueID:   input.IssueID,
			ProjectID: input.Body.ProjectID,
			TrackerID: input.Body.TrackerID,
			Copy:      input.Body.Copy,
			ActorID:   actorID,
			Notes:     input.Body.Notes,
		}
		if input.Body.Attributes != nil {
			attrs, err := input.Body.Attributes.toChanges()
			if err != nil {
				return nil, badRequest(err.Error())
			}
			opts.Attributes = attrs
		}
		i, err := e.MoveOrCopy(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(i), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allowed-statuses",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/allowed-statuses",
		Summary:     "Statuses the caller may move the issue to",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]StatusResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		statuses, err := e.AllowedNextStatuses(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapStatuses(statuses)), nil
	})
}

func registerVotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/votes",
		Summary:     "Cast or replace a vote",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string          `path:"issue_id"`
		Body    CastVoteRequest `json:"body"`
	}) (*bodyOutput[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.CastVote(ctx, engine.CastVoteOptions{
			IssueID: input.IssueID,
			ActorID: actorID,
			Kind:    domain.VoteKind(input.Body.Kind),
			Points:  input.Body.Points,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(i), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retract-vote",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}/votes/{kind}",
		Summary:     "Retract the caller's vote",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
		Kind    string `path:"kind" enum:"join,estimate,agree,accept,priority"`
	}) (*bodyOutput[domain.Issue], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.RetractVote(ctx, input.IssueID, actorID, domain.VoteKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(i), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-votes",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/votes",
		Summary:     "List votes",
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Vote], error) {
		items, err := e.Votes(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})
}

func registerRelations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-relation",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/relations",
		Summary:       "Relate the issue to another",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    AddRelationRequest `json:"body"`
	}) (*bodyOutput[domain.Relation], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rel, err := e.AddRelation(ctx, engine.AddRelationOptions{
			FromID:  input.IssueID,
			ToID:    input.Body.ToID,
			Kind:    domain.RelationKind(input.Body.Kind),
			Delay:   input.Body.Delay,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rel), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-relations",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/relations",
		Summary:     "List relations in either direction",
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Relation], error) {
		items, err := e.Relations(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-relation",
		Method:        http.MethodDelete,
		Path:          "/relations/{relation_id}",
		Summary:       "Remove relation",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		RelationID string `path:"relation_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveRelation(ctx, input.RelationID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journals",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/journals",
		Summary:     "Issue history, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Journal], error) {
		items, err := e.Journals(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-attachment",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/attachments",
		Summary:       "Record an attachment",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string               `path:"issue_id"`
		Body    AddAttachmentRequest `json:"body"`
	}) (*bodyOutput[domain.Attachment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddAttachment(ctx, input.IssueID, input.Body.Filename, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-attachment",
		Method:        http.MethodDelete,
		Path:          "/attachments/{attachment_id}",
		Summary:       "Remove an attachment",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		AttachmentID string `path:"attachment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAttachment(ctx, input.AttachmentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "log-time",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/time-entries",
		Summary:       "Log time",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string         `path:"issue_id"`
		Body    LogTimeRequest `json:"body"`
	}) (*bodyOutput[domain.TimeEntry], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		te, err := e.LogTime(ctx, engine.LogTimeOptions{
			IssueID: input.IssueID,
			ActorID: actorID,
			Hours:   input.Body.Hours,
			SpentOn: input.Body.SpentOn,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(te), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "spent-time",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/spent-time",
		Summary:     "Total hours logged",
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[SpentTimeResponse], error) {
		h, err := e.SpentHours(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(SpentTimeResponse{IssueID: input.IssueID, Hours: h}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events, newest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Type      string `query:"type"`
		EntityID  string `query:"entity_id"`
		Limit     int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.Event], error) {
		items, err := e.Events(ctx, repo.EventFilters{
			ProjectID: input.ProjectID,
			Type:      input.Type,
			EntityID:  input.EntityID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*bodyOutput[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, badRequest("actor_id is required")
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return respond(DevLoginResponse{Token: token}), nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 500:
		return 500
	default:
		return in
	}
}
