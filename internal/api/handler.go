package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// HealthReporter reports pipeline stage readiness.
type HealthReporter interface {
	Health(ctx context.Context) []stage.Health
}

// Handler bundles the services the HTTP layer needs.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	plans    *catalog.PlanCatalog
	presets  *catalog.PresetCatalog
	resolver *billing.PlanResolver
	gate     *billing.FeatureGate
	credits  *billing.CreditsService
	health   HealthReporter
	logger   *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(cfg *config.Config, st *store.Store, plans *catalog.PlanCatalog, presets *catalog.PresetCatalog, health HealthReporter, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		plans:    plans,
		presets:  presets,
		resolver: billing.NewPlanResolver(st, plans, cfg, logger),
		gate:     billing.NewFeatureGate(st, cfg),
		credits:  billing.NewCreditsService(st, plans, logger),
		health:   health,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
}

// Router assembles the chi router with logging, metrics, and auth middleware.
func (h *Handler) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(RequestLogger(h.logger))
	router.Use(MetricsMiddleware())

	router.Get("/healthz", h.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(h.cfg.Paths.APIToken))
		r.Post("/quota-check", h.handleQuotaCheck)
		r.Post("/runs", h.handleCreateRun)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{id}", h.handleGetRun)
		r.Get("/runs/{id}/findings", h.handleRunFindings)
		r.Get("/credits/balance", h.handleCreditBalance)
		r.Get("/credits/history", h.handleCreditHistory)
		r.Post("/credits/credit", h.handleCredit)
		r.Post("/credits/debit", h.handleDebit)
	})
	return router
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type stageStatus struct {
		Name   string `json:"name"`
		Ready  bool   `json:"ready"`
		Detail string `json:"detail,omitempty"`
	}
	var stages []stageStatus
	ready := true
	if h.health != nil {
		for _, check := range h.health.Health(r.Context()) {
			stages = append(stages, stageStatus{Name: check.Name, Ready: check.Ready, Detail: check.Detail})
			if !check.Ready {
				ready = false
			}
		}
	}
	status := http.StatusOK
	overall := "ok"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "stages": stages})
}
