package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/engine"
	"reelmarket/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	// SessionSecret signs checkout session tokens.
	SessionSecret string
	SessionTTL    time.Duration
	Log           *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"tracker not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"deal_id\":\"deal-1\"}"`
}

type requestKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var errTrackerNotFound = fmt.Errorf("tracker %w", repo.ErrNotFound)

// New returns an HTTP handler exposing the reelmarket API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.DB == nil {
		return nil, errors.New("server: engine has no database")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(accessLog(log))
	hcfg := huma.DefaultConfig("Reelmarket API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, secret: cfg.SessionSecret, ttl: cfg.SessionTTL}
	registerDocs(router, basePath)
	registerHealth(group)
	registerConfig(group, h)
	registerEditors(group, h)
	registerCommission(group, h)
	registerDeals(group, h)
	registerTrackers(group, h)
	registerCheckout(group, h)
	registerEvents(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	secret string
	ttl    time.Duration
}

// eng returns the engine attributed to the caller named in X-Actor-Id.
func (h handlers) eng(ctx context.Context) engine.Engine {
	return h.engine.WithActor(actorFromHeader(ctx))
}

func actorFromHeader(ctx context.Context) string {
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return ""
	}
	return strings.TrimSpace(req.Header.Get("X-Actor-Id"))
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
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
	// Built on first request, after every operation has been registered.
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Reelmarket API Docs</title>
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
      Send X-Actor-Id to attribute changes in the event log.
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

func registerConfig(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active market rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MarketConfigResponse `json:"body"`
	}, error) {
		if h.engine.Config == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "market config not loaded", nil)
		}
		return &struct {
			Body MarketConfigResponse `json:"body"`
		}{Body: configResponse(h.engine.Config)}, nil
	})
}

type editorPath struct {
	EditorID string `path:"editor_id"`
}

type editorOutput struct {
	Body EditorResponse `json:"body"`
}

func (h handlers) editorOut(ed domain.Editor) *editorOutput {
	return &editorOutput{Body: editorResponse(ed, h.engine.CalculateReputation(ed))}
}

func registerEditors(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-editors",
		Method:      http.MethodGet,
		Path:        "/editors",
		Summary:     "List editors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []EditorResponse `json:"body"`
	}, error) {
		eds := h.engine.ListEditors(ctx)
		out := make([]EditorResponse, 0, len(eds))
		for _, ed := range eds {
			out = append(out, editorResponse(ed, h.engine.CalculateReputation(ed)))
		}
		return &struct {
			Body []EditorResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-editor",
		Method:      http.MethodGet,
		Path:        "/editors/{editor_id}",
		Summary:     "Get editor",
		Description: "Unknown editors are returned with default values.",
	}, func(ctx context.Context, input *editorPath) (*editorOutput, error) {
		return h.editorOut(h.engine.GetEditor(ctx, input.EditorID)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-editor",
		Method:      http.MethodPatch,
		Path:        "/editors/{editor_id}",
		Summary:     "Create or rename an editor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EditorID string            `path:"editor_id"`
		Body     SaveEditorRequest `json:"body"`
	}) (*editorOutput, error) {
		if input.Body.Name != nil && strings.TrimSpace(*input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name must not be empty", nil)
		}
		ed := h.eng(ctx).SaveEditor(ctx, input.EditorID, engine.EditorPatch{Name: input.Body.Name})
		return h.editorOut(ed), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "touch-editor",
		Method:      http.MethodPost,
		Path:        "/editors/{editor_id}/activity",
		Summary:     "Record editor activity",
	}, func(ctx context.Context, input *editorPath) (*editorOutput, error) {
		return h.editorOut(h.eng(ctx).UpdateEditorActivity(ctx, input.EditorID)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reputation",
		Method:      http.MethodGet,
		Path:        "/editors/{editor_id}/reputation",
		Summary:     "Editor reputation",
	}, func(ctx context.Context, input *editorPath) (*struct {
		Body ReputationResponse `json:"body"`
	}, error) {
		rep := h.engine.CalculateReputation(h.engine.GetEditor(ctx, input.EditorID))
		return &struct {
			Body ReputationResponse `json:"body"`
		}{Body: reputationResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-reputation",
		Method:      http.MethodPost,
		Path:        "/editors/{editor_id}/reputation",
		Summary:     "Record a deal outcome",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EditorID string            `path:"editor_id"`
		Body     ReputationRequest `json:"body"`
	}) (*struct {
		Body ReputationResponse `json:"body"`
	}, error) {
		action, err := domain.ParseReputationAction(input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		rep := h.eng(ctx).UpdateReputation(ctx, input.EditorID, action)
		return &struct {
			Body ReputationResponse `json:"body"`
		}{Body: reputationResponse(rep)}, nil
	})
}

func registerCommission(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "quote-commission",
		Method:      http.MethodPost,
		Path:        "/commission/quote",
		Summary:     "Split an amount between platform and editor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CommissionQuoteRequest `json:"body"`
	}) (*struct {
		Body CommissionResponse `json:"body"`
	}, error) {
		editorID := strings.TrimSpace(input.Body.EditorID)
		if editorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "editor_id is required", nil)
		}
		c := h.engine.CalculateCommission(ctx, editorID, input.Body.Amount)
		return &struct {
			Body CommissionResponse `json:"body"`
		}{Body: CommissionResponse{
			EditorID:       editorID,
			Amount:         input.Body.Amount,
			CommissionRate: c.CommissionRate,
			Commission:     c.Commission,
			EditorEarnings: c.EditorEarnings,
			LoyaltyLevel:   string(c.LoyaltyLevel),
		}}, nil
	})
}

type dealPath struct {
	DealID string `path:"deal_id"`
}

type dealOutput struct {
	Body DealResponse `json:"body"`
}

func registerDeals(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deals",
		Method:      http.MethodGet,
		Path:        "/deals",
		Summary:     "List deals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DealResponse `json:"body"`
	}, error) {
		return &struct {
			Body []DealResponse `json:"body"`
		}{Body: mapDeals(h.engine.ListDeals(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deal",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}",
		Summary:     "Get deal",
		Description: "Unknown deals are returned as pending with no advance.",
	}, func(ctx context.Context, input *dealPath) (*dealOutput, error) {
		return &dealOutput{Body: dealResponse(h.engine.GetDeal(ctx, input.DealID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-deal",
		Method:      http.MethodPut,
		Path:        "/deals/{deal_id}",
		Summary:     "Create or update a deal",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DealID string          `path:"deal_id"`
		Body   SaveDealRequest `json:"body"`
	}) (*dealOutput, error) {
		d := h.eng(ctx).SaveDeal(ctx, input.DealID, engine.DealPatch{Budget: input.Body.Budget, Status: input.Body.Status})
		return &dealOutput{Body: dealResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-work",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/start-work",
		Summary:     "Mark work as started",
	}, func(ctx context.Context, input *dealPath) (*dealOutput, error) {
		return &dealOutput{Body: dealResponse(h.eng(ctx).StartWork(ctx, input.DealID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pay-advance",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/advance",
		Summary:     "Pay the upfront advance",
		Description: "A payment below the required share is declined with success=false and the required amount.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DealID string         `path:"deal_id"`
		Body   AdvanceRequest `json:"body"`
	}) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		res := h.eng(ctx).ProcessAdvancePayment(ctx, input.DealID, input.Body.Amount)
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: advanceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/cancel",
		Summary:     "Cancel a deal and refund the advance",
	}, func(ctx context.Context, input *dealPath) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		res := h.eng(ctx).CancelDeal(ctx, input.DealID)
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: cancelResponse(res)}, nil
	})
}

type trackerOutput struct {
	Body TrackerResponse `json:"body"`
}

func trackerNotFound(dealID string) huma.StatusError {
	return newAPIError(http.StatusNotFound, "not_found", errTrackerNotFound.Error(), map[string]any{"deal_id": dealID})
}

func registerTrackers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trackers",
		Method:      http.MethodGet,
		Path:        "/trackers",
		Summary:     "List project trackers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TrackerResponse `json:"body"`
	}, error) {
		return &struct {
			Body []TrackerResponse `json:"body"`
		}{Body: mapTrackers(h.engine.ListTrackers(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tracker",
		Method:        http.MethodPost,
		Path:          "/trackers/{deal_id}",
		Summary:       "Start a tracker for a deal",
		Description:   "Replaces any existing tracker for the deal.",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *dealPath) (*trackerOutput, error) {
		return &trackerOutput{Body: trackerResponse(h.eng(ctx).CreateTracker(ctx, input.DealID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tracker",
		Method:      http.MethodGet,
		Path:        "/trackers/{deal_id}",
		Summary:     "Get tracker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *dealPath) (*trackerOutput, error) {
		t, ok := h.engine.GetTracker(ctx, input.DealID)
		if !ok {
			return nil, trackerNotFound(input.DealID)
		}
		return &trackerOutput{Body: trackerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-progress",
		Method:      http.MethodPatch,
		Path:        "/trackers/{deal_id}/progress",
		Summary:     "Set tracker status and progress",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string          `path:"deal_id"`
		Body   ProgressRequest `json:"body"`
	}) (*trackerOutput, error) {
		if !h.eng(ctx).UpdateProgress(ctx, input.DealID, input.Body.Status, input.Body.Progress) {
			return nil, trackerNotFound(input.DealID)
		}
		t, _ := h.engine.GetTracker(ctx, input.DealID)
		return &trackerOutput{Body: trackerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-milestone",
		Method:        http.MethodPost,
		Path:          "/trackers/{deal_id}/milestones",
		Summary:       "Add a milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string              `path:"deal_id"`
		Body   AddMilestoneRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		title := strings.TrimSpace(input.Body.Title)
		if title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		m, ok := h.eng(ctx).AddMilestone(ctx, input.DealID, domain.Milestone{Title: title})
		if !ok {
			return nil, trackerNotFound(input.DealID)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-milestone",
		Method:      http.MethodPost,
		Path:        "/trackers/{deal_id}/milestones/{milestone_id}/complete",
		Summary:     "Complete a milestone",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID      string `path:"deal_id"`
		MilestoneID string `path:"milestone_id"`
	}) (*trackerOutput, error) {
		if !h.eng(ctx).CompleteMilestone(ctx, input.DealID, input.MilestoneID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "milestone not found",
				map[string]any{"deal_id": input.DealID, "milestone_id": input.MilestoneID})
		}
		t, _ := h.engine.GetTracker(ctx, input.DealID)
		return &trackerOutput{Body: trackerResponse(t)}, nil
	})
}

func registerCheckout(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "quote-checkout",
		Method:      http.MethodPost,
		Path:        "/checkout/quote",
		Summary:     "Quote the platform fee for a payment",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CheckoutQuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(h.engine.QuoteCheckout(input.Body.Amount))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-checkout-session",
		Method:        http.MethodPost,
		Path:          "/checkout/sessions",
		Summary:       "Open a checkout session",
		Description:   "Returns a signed token holding the deal, method and amount until payment.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CheckoutSessionRequest `json:"body"`
	}) (*struct {
		Body CheckoutSessionResponse `json:"body"`
	}, error) {
		dealID := strings.TrimSpace(input.Body.DealID)
		if dealID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "deal_id is required", nil)
		}
		c := domain.Checkout{DealID: dealID, Method: strings.TrimSpace(input.Body.Method), Amount: input.Body.Amount}
		token, expires, err := signCheckoutSession(h.secret, c, time.Now(), h.ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		methods := []string{}
		if h.engine.Config != nil {
			methods = append(methods, h.engine.Config.Checkout.Methods...)
		}
		return &struct {
			Body CheckoutSessionResponse `json:"body"`
		}{Body: CheckoutSessionResponse{
			Token:     token,
			ExpiresAt: expires.UTC(),
			Quote:     quoteResponse(h.engine.QuoteCheckout(c.Amount)),
			Methods:   methods,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-checkout",
		Method:      http.MethodPost,
		Path:        "/checkout/complete",
		Summary:     "Pay a checkout session",
		Description: "Declined payments return accepted=false with a reason. A session pays at most once; reusing it returns 409.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CompleteCheckoutRequest `json:"body"`
	}) (*struct {
		Body ReceiptResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Token) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		c, err := parseCheckoutSession(h.secret, input.Body.Token, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_checkout_token", "checkout session is invalid or expired", nil)
		}
		rec := h.eng(ctx).CompleteCheckout(ctx, c)
		if rec.Reason == domain.DeclineSessionUsed {
			return nil, newAPIError(http.StatusConflict, "checkout_session_used", "checkout session has already been paid", map[string]any{"deal_id": c.DealID})
		}
		return &struct {
			Body ReceiptResponse `json:"body"`
		}{Body: receiptResponse(rec)}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"editor,deal,tracker"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Repo.LatestEvents(ctx, repo.EventFilter{
			Limit:      limit + 1,
			Cursor:     cursorID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
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
