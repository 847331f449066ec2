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

	"greenlight/internal/domain"
	"greenlight/internal/engine"
	"greenlight/internal/engine/auth"
	"greenlight/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"cannot approve a project in status draft"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"draft\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Greenlight API.
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
			// Schema/request validation errors should be 400 bad_request
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
	hcfg := huma.DefaultConfig("Greenlight API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startNotificationDispatcher(cfg.Engine)

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": string(fe.Role), "operation": fe.Operation})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"status": string(ise.Current)})
	}
	var rse engine.ReviewAlreadySubmittedError
	if errors.As(err, &rse) {
		return newAPIError(http.StatusConflict, "review_already_submitted", err.Error(), map[string]any{"review_id": rse.ReviewID})
	}
	var rie engine.ReviewsIncompleteError
	if errors.As(err, &rie) {
		return newAPIError(http.StatusUnprocessableEntity, "reviews_incomplete", err.Error(), map[string]any{"pending": rie.Missing})
	}
	var rna engine.ReviewsNotAllApprovedError
	if errors.As(err, &rna) {
		return newAPIError(http.StatusUnprocessableEntity, "reviews_not_all_approved", err.Error(), map[string]any{"decision": string(rna.Decision)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
		joinPath(basePath, "health"):         true,
		joinPath(basePath, "auth/dev/login"): true,
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

func joinPath(base, rest string) string {
	p := path.Join(base, rest)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Greenlight API Docs</title>
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

func registerHealth(api huma.API) {
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

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := e.Repo.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if actor.Role != domain.RoleSysAdmin {
			return nil, handleError(auth.ForbiddenError{Operation: "create users", Role: actor.Role})
		}
		u, err := e.CreateUser(ctx, engine.CreateUserOptions{
			Name:  input.Body.Name,
			Email: input.Body.Email,
			Role:  domain.Role(input.Body.Role),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		users, err := e.Repo.ListUsers(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project proposal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			Objective:     stringOrEmpty(input.Body.Objective),
			EstimatedCost: input.Body.EstimatedCost,
			TargetTime:    stringOrEmpty(input.Body.TargetTime),
			ProposerID:    actorID,
			ReviewerIDs:   input.Body.ReviewerIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		ProposerID string `query:"proposer_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:          input.Status,
			ProposerID:      input.ProposerID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: []ProjectResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapProjects(items)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		assignments, err := e.Repo.ListReviewerAssignments(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p).withReviewers(assignments)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/submit",
		Summary:     "Submit project for review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProject(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/approve",
		Summary:     "Approve project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApproveProject(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/reject",
		Summary:     "Reject project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body RejectProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RejectProject(ctx, input.ID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-project-reviews",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/reviews",
		Summary:     "List reviews for a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		reviews, err := e.Repo.ListReviewsForProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: mapReviews(reviews)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-reviews",
		Method:      http.MethodGet,
		Path:        "/reviews/pending",
		Summary:     "List the caller's pending reviews",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reviews, err := e.Repo.ListPendingReviews(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: mapReviews(reviews)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}",
		Summary:     "Get review",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rv, err := e.Repo.GetReview(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/reviews/{id}/submit",
		Summary:     "Submit a review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SubmitReviewRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.SubmitReview(ctx, engine.SubmitReviewOptions{
			ReviewID:           input.ID,
			ReviewerID:         actorID,
			Decision:           domain.Decision(input.Body.Decision),
			Justification:      input.Body.Justification,
			RiskIdentification: stringOrEmpty(input.Body.RiskIdentification),
			RiskAssessment:     domain.RiskLevel(stringOrEmpty(input.Body.RiskAssessment)),
			RiskMitigation:     stringOrEmpty(input.Body.RiskMitigation),
			Comments:           stringOrEmpty(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rv)}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/comments",
		Summary:       "Comment on a project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CreateCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, actorID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/comments",
		Summary:     "List project comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		comments, err := e.Repo.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: mapComments(comments)}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/history",
		Summary:     "Project audit trail",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Action string `query:"action"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedHistory `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
			ProjectID:       input.ID,
			Action:          input.Action,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedHistory{Items: []HistoryEntryResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, entry := range items {
			resp.Items = append(resp.Items, historyResponse(entry))
		}
		return &struct {
			Body paginatedHistory `json:"body"`
		}{Body: resp}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Unread bool   `query:"unread"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedNotifications `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			UserID:          actorID,
			UnreadOnly:      input.Unread,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedNotifications{Items: []NotificationResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, n := range items {
			resp.Items = append(resp.Items, notificationResponse(n))
		}
		return &struct {
			Body paginatedNotifications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-all-notifications",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark all notifications read",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.MarkAllNotificationsRead(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"updated": n}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		userID := input.Body.UserID
		if userID == "" {
			userID = actorID
		}
		key, raw, err := e.CreateAPIKey(ctx, userID, stringOrEmpty(input.Body.Name))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				UserID:    k.UserID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
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
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID)
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
