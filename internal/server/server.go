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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/lifecycle"
	"sgc/internal/mapdiff"
	"sgc/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"denied"`
	Message string         `json:"message" example:"Usuário 'edu' não possui um dos perfis necessários: CHEFE"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SGC API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			b, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(b))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, b)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("SGC API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPanel(group, cfg.Engine)
	registerDirectory(group, cfg.Engine)
	registerProcesses(group, cfg.Engine)
	registerSubprocesses(group, cfg.Engine)
	registerMaps(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "only criado"),
		strings.Contains(lowered, "no homologated map"),
		strings.Contains(lowered, "mapa vigente"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

// resultError maps a non-ok state machine verdict to the error envelope.
func resultError(res lifecycle.Result) huma.StatusError {
	switch res.Kind {
	case lifecycle.KindDenied:
		return newAPIError(http.StatusForbidden, string(res.Kind), res.DeniedReason, nil)
	case lifecycle.KindTerminalState:
		return newAPIError(http.StatusConflict, string(res.Kind), "subprocesso já atingiu a situação terminal", nil)
	case lifecycle.KindInvalidAction:
		return newAPIError(http.StatusConflict, string(res.Kind), "ação inválida para a situação atual", nil)
	case lifecycle.KindPendingSubprocesses:
		return newAPIError(http.StatusConflict, string(res.Kind), "existem subprocessos pendentes", map[string]any{
			"pending_units": res.PendingUnits,
		})
	case lifecycle.KindInconsistentBaseline:
		return newAPIError(http.StatusUnprocessableEntity, string(res.Kind), "unidade não possui mapa homologado para revisar", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", string(res.Kind), nil)
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

// currentUser resolves the authenticated principal against the directory.
func currentUser(ctx context.Context, e engine.Engine) (domain.User, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return domain.User{}, authErr
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, newAPIError(http.StatusUnauthorized, "unauthorized", fmt.Sprintf("usuário '%s' não consta no diretório", userID), nil)
		}
		return domain.User{}, handleError(err)
	}
	return u, nil
}

// requireManager gates the administrative endpoints that sit outside the
// per-action policy table.
func requireManager(ctx context.Context, e engine.Engine) (domain.User, huma.StatusError) {
	u, authErr := currentUser(ctx, e)
	if authErr != nil {
		return u, authErr
	}
	if u.Profile != domain.ProfileAdmin && u.Profile != domain.ProfileGestor {
		return u, newAPIError(http.StatusForbidden, "forbidden",
			fmt.Sprintf("Usuário '%s' não possui um dos perfis necessários: ADMIN, GESTOR", u.ID), nil)
	}
	return u, nil
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
	healthPath := path.Join(basePath, "health")
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
    <title>SGC API Docs</title>
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

func registerPanel(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "panel",
		Method:      http.MethodGet,
		Path:        "/painel",
		Summary:     "Dashboard counters",
	}, func(ctx context.Context, input *struct {
		ProcessID int64 `query:"processo_id"`
	}) (*struct {
		Body engine.Panel `json:"body"`
	}, error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		panel, err := e.PanelCounters(ctx, u.ID, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Panel `json:"body"`
		}{Body: panel}, nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-directory",
		Method:        http.MethodPost,
		Path:          "/diretorio/importar",
		Summary:       "Import units and users",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ImportDirectoryRequest `json:"body"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		units := make([]domain.Unit, 0, len(input.Body.Units))
		for _, u := range input.Body.Units {
			units = append(units, domain.Unit{
				ID:       u.ID,
				Sigla:    u.Sigla,
				Name:     u.Name,
				Kind:     domain.UnitKind(u.Kind),
				ParentID: u.ParentID,
				HolderID: u.HolderID,
			})
		}
		users := make([]domain.User, 0, len(input.Body.Users))
		for _, u := range input.Body.Users {
			users = append(users, domain.User{
				ID:      u.ID,
				Name:    u.Name,
				Profile: domain.Profile(u.Profile),
				UnitID:  u.UnitID,
			})
		}
		if err := e.ImportDirectory(ctx, units, users, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"units": len(units), "users": len(users)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/unidades",
		Summary:     "List units",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Unit `json:"body"`
	}, error) {
		items, err := e.Repo.ListUnits(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Unit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/usuarios",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processos",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*struct {
		Body domain.Process `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := requireManager(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProcessCreateOptions{
			Description: input.Body.Description,
			Type:        domain.ProcessType(input.Body.Type),
			UnitIDs:     input.Body.UnitIDs,
			ActorID:     u.ID,
		}
		if input.Body.DeadlineAt != nil {
			opts.DeadlineAt = *input.Body.DeadlineAt
		}
		p, err := e.CreateProcess(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Process `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processos",
		Summary:     "List processes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Process `json:"body"`
	}, error) {
		items, err := e.Repo.ListProcesses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Process `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processos/{id}",
		Summary:     "Get process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Process `json:"body"`
	}, error) {
		p, err := e.Repo.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Process `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-process",
		Method:      http.MethodPost,
		Path:        "/processos/{id}/iniciar",
		Summary:     "Start process",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Process `json:"body"`
	}, error) {
		u, authErr := requireManager(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.StartProcess(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Process `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-process",
		Method:      http.MethodPost,
		Path:        "/processos/{id}/finalizar",
		Summary:     "Finalize process",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body FinalizeResponse `json:"body"`
	}, error) {
		u, authErr := requireManager(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.FinalizeProcess(ctx, input.ID, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Kind != lifecycle.KindOK {
			return nil, resultError(res)
		}
		return &struct {
			Body FinalizeResponse `json:"body"`
		}{Body: FinalizeResponse{Kind: string(res.Kind)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-process-events",
		Method:      http.MethodGet,
		Path:        "/processos/{id}/eventos",
		Summary:     "Process audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    int64 `path:"id"`
		Limit int   `query:"limit" default:"200"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvents(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerSubprocesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subprocesses",
		Method:      http.MethodGet,
		Path:        "/processos/{id}/subprocessos",
		Summary:     "List subprocesses",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Subprocess `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSubprocesses(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Subprocess `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}",
		Summary:     "Get subprocess",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Subprocess `json:"body"`
	}, error) {
		sp, err := e.Repo.GetSubprocess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subprocess `json:"body"`
		}{Body: sp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-subprocess",
		Method:      http.MethodPost,
		Path:        "/subprocessos/{id}/transicao",
		Summary:     "Execute workflow action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.Transition(ctx, engine.TransitionOptions{
			SubprocessID: input.ID,
			Action:       domain.Action(input.Body.Action),
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if out.Result.Kind != lifecycle.KindOK {
			return nil, resultError(out.Result)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(out.Result, out.Subprocess)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-subprocess-deadline",
		Method:      http.MethodPatch,
		Path:        "/subprocessos/{id}/data-limite",
		Summary:     "Change stage deadline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id"`
		Body DeadlineRequest `json:"body"`
	}) (*struct {
		Body domain.Subprocess `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := requireManager(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ChangeSubprocessDeadline(ctx, input.ID, input.Body.Stage, input.Body.Deadline, u.ID); err != nil {
			return nil, handleError(err)
		}
		sp, err := e.Repo.GetSubprocess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subprocess `json:"body"`
		}{Body: sp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subprocess-movements",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/movimentacoes",
		Summary:     "Movement history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Movement `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSubprocess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMovements(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Movement `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "subprocess-impact",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/impacto",
		Summary:     "Impact against homologated baseline",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body mapdiff.Report `json:"body"`
	}, error) {
		report, err := e.ImpactReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body mapdiff.Report `json:"body"`
		}{Body: report}, nil
	})
}

func registerMaps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-map",
		Method:      http.MethodGet,
		Path:        "/mapas/{id}",
		Summary:     "Get map with activities and competencies",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body MapDetailResponse `json:"body"`
	}, error) {
		m, err := e.Repo.GetMap(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		acts, err := e.Repo.ListActivities(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		comps, err := e.Repo.ListCompetencies(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MapDetailResponse `json:"body"`
		}{Body: MapDetailResponse{Map: m, Activities: acts, Competencies: comps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-map-suggestions",
		Method:      http.MethodPut,
		Path:        "/mapas/{id}/sugestoes",
		Summary:     "Record suggestions text",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body SuggestionsRequest `json:"body"`
	}) (*struct {
		Body domain.Map `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := e.Repo.GetMap(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.SetMapSuggestions(ctx, input.ID, input.Body.Suggestions); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetMap(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Map `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/mapas/{id}/atividades",
		Summary:       "Add activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id"`
		Body ActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		if input.Body.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		if _, err := e.Repo.GetMap(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		a := domain.Activity{
			MapID:       input.ID,
			Description: input.Body.Description,
			Knowledge:   input.Body.Knowledge,
		}
		id, err := e.Repo.InsertActivity(ctx, a)
		if err != nil {
			return nil, handleError(err)
		}
		a.ID = id
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPut,
		Path:        "/mapas/{id}/atividades/{activity_id}",
		Summary:     "Update activity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID         int64           `path:"id"`
		ActivityID int64           `path:"activity_id"`
		Body       ActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		if input.Body.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		a := domain.Activity{
			ID:          input.ActivityID,
			MapID:       input.ID,
			Description: input.Body.Description,
			Knowledge:   input.Body.Knowledge,
		}
		if err := e.Repo.UpdateActivity(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-activity",
		Method:      http.MethodDelete,
		Path:        "/mapas/{id}/atividades/{activity_id}",
		Summary:     "Remove activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID         int64 `path:"id"`
		ActivityID int64 `path:"activity_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteActivity(ctx, input.ActivityID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-competency",
		Method:        http.MethodPost,
		Path:          "/mapas/{id}/competencias",
		Summary:       "Add competency",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body CompetencyRequest `json:"body"`
	}) (*struct {
		Body domain.Competency `json:"body"`
	}, error) {
		if input.Body.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		if _, err := e.Repo.GetMap(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		c := domain.Competency{
			MapID:       input.ID,
			Description: input.Body.Description,
			ActivityIDs: input.Body.ActivityIDs,
		}
		id, err := e.Repo.InsertCompetency(ctx, c)
		if err != nil {
			return nil, handleError(err)
		}
		c.ID = id
		return &struct {
			Body domain.Competency `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-competency",
		Method:      http.MethodPut,
		Path:        "/mapas/{id}/competencias/{competency_id}",
		Summary:     "Update competency",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID           int64             `path:"id"`
		CompetencyID int64             `path:"competency_id"`
		Body         CompetencyRequest `json:"body"`
	}) (*struct {
		Body domain.Competency `json:"body"`
	}, error) {
		if input.Body.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		c := domain.Competency{
			ID:          input.CompetencyID,
			MapID:       input.ID,
			Description: input.Body.Description,
			ActivityIDs: input.Body.ActivityIDs,
		}
		if err := e.Repo.UpdateCompetency(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Competency `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-competency",
		Method:      http.MethodDelete,
		Path:        "/mapas/{id}/competencias/{competency_id}",
		Summary:     "Remove competency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID           int64 `path:"id"`
		CompetencyID int64 `path:"competency_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteCompetency(ctx, input.CompetencyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alertas",
		Summary:     "List alerts for the authenticated user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAlerts(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-alert-read",
		Method:      http.MethodPost,
		Path:        "/alertas/{id}/lida",
		Summary:     "Mark alert as read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkAlertRead(ctx, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/eventos",
		Summary:     "Event log tail",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after"`
		Limit int   `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requireManager(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.EventsAfter(ctx, input.Limit, input.After)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue API key for the authenticated user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, Key: raw, Name: key.Name, CreatedAt: key.CreatedAt}}, nil
	})
}
