package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"bidline/internal/engine"
	"bidline/internal/followup"
	"bidline/internal/lifecycle"
	"bidline/internal/repo"
	"bidline/internal/timeparsing"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"invalid state: project is not in APM"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var validate = validator.New()

// New returns an HTTP handler exposing the bidline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bidline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerFollowups(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := map[string]any{}
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", "validation failed", map[string]any{"fields": fields})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrUnknownTransition):
		return newAPIError(http.StatusBadRequest, "unknown_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrNoIDs):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidDate):
		return newAPIError(http.StatusBadRequest, "invalid_date", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
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

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Bidline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or name yourself with X-Actor-Id.
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

type projectPath struct {
	ID int64 `path:"id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects with derived lifecycle states",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State    string `query:"state" enum:"active,on_hold,archived"`
		ApmState string `query:"apm_state" enum:"not_in_apm,active,on_hold,archived"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		general, apm, err := parseStates(input.State, input.ApmState)
		if err != nil {
			return nil, err
		}
		items, err := e.ListProjects(ctx, general, apm)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Project with derived states and available transitions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		v, err := e.ProjectState(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: v}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "transition-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/transitions",
		Summary:     "Apply one lifecycle transition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body TransitionRequest
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := validate.Struct(input.Body); err != nil {
			return nil, handleError(err)
		}
		t, err := lifecycle.ParseTransition(input.Body.Transition)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.Transition(ctx, input.ID, t, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-transition-projects",
		Method:      http.MethodPost,
		Path:        "/projects/transitions",
		Summary:     "Apply one lifecycle transition to many projects",
		Description: "Every id is written independently. Partial failure still answers 200; inspect success and errors.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BulkTransitionRequest
	}) (*struct {
		Body BulkResultResponse `json:"body"`
	}, error) {
		if len(input.Body.IDs) == 0 {
			return nil, handleError(engine.ErrNoIDs)
		}
		if err := validate.Struct(input.Body); err != nil {
			return nil, handleError(err)
		}
		t, err := lifecycle.ParseTransition(input.Body.Transition)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.BulkTransition(ctx, input.Body.IDs, t, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResultResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerFollowups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "followup-dashboard",
		Method:      http.MethodGet,
		Path:        "/followups/dashboard",
		Summary:     "Urgency counts and next deadlines across projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Today    string `query:"today" doc:"YYYY-MM-DD, +2d, tomorrow; defaults to the server's today"`
		State    string `query:"state" enum:"active,on_hold,archived"`
		ApmState string `query:"apm_state" enum:"not_in_apm,active,on_hold,archived"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		today, err := parseToday(input.Today, e)
		if err != nil {
			return nil, err
		}
		general, apm, err := parseStates(input.State, input.ApmState)
		if err != nil {
			return nil, err
		}
		d, err := e.FollowUpDashboard(ctx, today, engine.DashboardFilter{General: general, Apm: apm})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-followups",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/followups",
		Summary:     "Follow-up rows for one project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    int64  `path:"id"`
		Today string `query:"today"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		today, err := parseToday(input.Today, e)
		if err != nil {
			return nil, err
		}
		d, err := e.ProjectFollowUps(ctx, input.ID, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: d}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	type assignmentPath struct {
		ID int64 `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "assignment-soonest",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}/soonest",
		Summary:     "Earliest open phases of a vendor assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *assignmentPath) (*struct {
		Body SoonestResponse `json:"body"`
	}, error) {
		open, err := e.SoonestOpenPhase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SoonestResponse `json:"body"`
		}{Body: SoonestResponse{AssignmentID: input.ID, SoonestDate: open.SoonestDate, Phases: open.Phases}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "receive-phase",
		Method:        http.MethodPost,
		Path:          "/assignments/{id}/phases/{phase_id}/receive",
		Summary:       "Mark a phase received",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		PhaseID int64 `path:"phase_id"`
		Body    ReceivePhaseRequest
	}) (*struct{}, error) {
		if err := validate.Struct(input.Body); err != nil {
			return nil, handleError(err)
		}
		if err := e.ReceivePhase(ctx, input.ID, input.PhaseID, input.Body.ReceivedDate, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "closeout-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments/{id}/closeout",
		Summary:       "Record or clear the closeout date",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body CloseoutRequest
	}) (*struct{}, error) {
		if err := e.Closeout(ctx, input.ID, input.Body.CloseoutReceivedDate, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Change events after a cursor, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After      int64  `query:"after"`
		Limit      int    `query:"limit" default:"100"`
		ProjectID  int64  `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,assignment,snapshot"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if input.After < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"after": input.After})
		}
		items, err := e.Repo.EventsAfter(ctx, normalizeLimit(input.Limit), input.After, repo.EventFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: []EventResponse{}, NextAfter: input.After}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
			resp.NextAfter = evt.ID
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func parseStates(state, apmState string) (lifecycle.GeneralState, lifecycle.ApmState, error) {
	general, err := lifecycle.ParseGeneralState(state)
	if err != nil {
		return "", "", newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	apm, err := lifecycle.ParseApmState(apmState)
	if err != nil {
		return "", "", newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return general, apm, nil
}

func parseToday(raw string, e engine.Engine) (followup.Date, error) {
	d, err := timeparsing.ParseDay(raw, e.Today())
	if err != nil {
		return d, newAPIError(http.StatusBadRequest, "invalid_date", err.Error(), map[string]any{"today": raw})
	}
	return d, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 100
	}
	if in > 500 {
		return 500
	}
	return in
}
