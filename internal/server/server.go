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

	"governor/internal/config"
	"governor/internal/domain"
	"governor/internal/events"
	"governor/internal/governor"
	"governor/internal/kv"
	"governor/internal/override"
	"governor/internal/touchpoint"
)

// Config for the HTTP operations API handler.
type Config struct {
	Cfg         *config.Config
	Poll        *governor.Poll
	Event       *governor.Event
	Overrides   *override.Store
	Touchpoints *touchpoint.Store
	Audit       *events.Writer
	BasePath    string
	Auth        AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"no override for issue"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the operations API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Governor Operations API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerScans(group, cfg)
	registerOverrides(group, cfg)
	registerTouchpoints(group, cfg)
	registerAudit(group, cfg)
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
	if errors.Is(err, kv.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Governor API Docs</title>
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

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Governor status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		resp := StatusResponse{
			Projects:     cfg.Cfg.Projects,
			ScanInterval: cfg.Cfg.Scan.Interval.Duration.String(),
		}
		if cfg.Poll != nil {
			resp.PollRunning = cfg.Poll.Running()
		}
		if cfg.Event != nil {
			resp.EventRunning = cfg.Event.Running()
			resp.EventUnhealthy = cfg.Event.Unhealthy()
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerScans(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "latest-scan",
		Method:      http.MethodGet,
		Path:        "/scans/latest",
		Summary:     "Latest scan report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ScanReportResponse `json:"body"`
	}, error) {
		if cfg.Poll == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "poll governor not running", nil)
		}
		results, at := cfg.Poll.LastScan()
		if results == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no scan completed yet", nil)
		}
		return &struct {
			Body ScanReportResponse `json:"body"`
		}{Body: ScanReportResponse{StartedAt: at, Results: results}}, nil
	})
}

func registerOverrides(api huma.API, cfg Config) {
	type issuePath struct {
		IssueID string `path:"issue_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-override",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/override",
		Summary:     "Get active override",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		state, err := cfg.Overrides.Get(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		if state == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no active override", nil)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-override",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/override",
		Summary:     "Set an override directive",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    SetOverrideRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dtype, err := parseDirectiveType(input.Body.Type)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"type": input.Body.Type})
		}
		directive := domain.OverrideDirective{
			Type:      dtype,
			Reason:    input.Body.Reason,
			Priority:  domain.OverridePriority(input.Body.Priority),
			UserID:    actorID,
			Timestamp: time.Now(),
		}
		if err := cfg.Overrides.Set(ctx, input.IssueID, directive); err != nil {
			return nil, handleError(err)
		}
		_ = cfg.Audit.Append(ctx, "override.set", "", input.IssueID, actorID, events.EventPayload{
			"directive": dtype,
			"source":    "api",
		})
		state, err := cfg.Overrides.Get(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-override",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}/override",
		Summary:     "Clear the active override",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := cfg.Overrides.Clear(ctx, input.IssueID); err != nil {
			return nil, handleError(err)
		}
		_ = cfg.Audit.Append(ctx, "override.cleared", "", input.IssueID, actorID, events.EventPayload{
			"source": "api",
		})
		return &struct{}{}, nil
	})
}

func parseDirectiveType(raw string) (domain.DirectiveType, error) {
	switch t := domain.DirectiveType(strings.ToLower(strings.TrimSpace(raw))); t {
	case domain.DirectiveHold, domain.DirectiveSkipQA, domain.DirectiveDecompose,
		domain.DirectiveReassign, domain.DirectivePriority:
		return t, nil
	case domain.DirectiveResume:
		return "", errors.New("invalid directive: resume clears overrides; use DELETE")
	default:
		return "", fmt.Errorf("invalid directive type %q", raw)
	}
}

func registerTouchpoints(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "post-touchpoint",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/touchpoints",
		Summary:     "Post a touchpoint notification",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    PostTouchpointRequest `json:"body"`
	}) (*struct {
		Body TouchpointResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		identifier := input.Body.IssueIdentifier
		if identifier == "" {
			identifier = input.IssueID
		}
		n, err := touchpoint.Render(domain.TouchpointType(strings.ToLower(strings.TrimSpace(input.Body.Type))), touchpoint.Params{
			IssueIdentifier:   identifier,
			CycleCount:        input.Body.CycleCount,
			FailureSummary:    input.Body.FailureSummary,
			Strategy:          input.Body.Strategy,
			TotalCostUSD:      input.Body.TotalCostUSD,
			BlockerIdentifier: input.Body.BlockerID,
		}, touchpoint.TimeoutsFromConfig(cfg.Cfg))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"type": input.Body.Type})
		}
		saved, err := cfg.Touchpoints.Record(ctx, input.IssueID, n)
		if err != nil {
			return nil, handleError(err)
		}
		_ = cfg.Audit.Append(ctx, "touchpoint.posted", "", input.IssueID, actorID, events.EventPayload{
			"type":   saved.Type,
			"source": "api",
		})
		return &struct {
			Body TouchpointResponse `json:"body"`
		}{Body: TouchpointResponse{Item: saved}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-touchpoints",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/touchpoints",
		Summary:     "List touchpoints for an issue",
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body TouchpointListResponse `json:"body"`
	}, error) {
		items, err := cfg.Touchpoints.ListByIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TouchpointListResponse `json:"body"`
		}{Body: TouchpointListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-open-touchpoints",
		Method:      http.MethodGet,
		Path:        "/touchpoints/open",
		Summary:     "List touchpoints awaiting a response",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TouchpointListResponse `json:"body"`
	}, error) {
		items, err := cfg.Touchpoints.ListOpen(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TouchpointListResponse `json:"body"`
		}{Body: TouchpointListResponse{Items: items}}, nil
	})
}

func registerAudit(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-tail",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit   int    `query:"limit" default:"20"`
		Type    string `query:"type"`
		IssueID string `query:"issue_id"`
	}) (*struct {
		Body AuditTailResponse `json:"body"`
	}, error) {
		items, err := cfg.Audit.Latest(ctx, input.Limit, input.Type, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditTailResponse `json:"body"`
		}{Body: AuditTailResponse{Items: items}}, nil
	})
}
