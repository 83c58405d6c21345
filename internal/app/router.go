package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/observability"
	"github.com/hospital-backoffice/backoffice/internal/platform/httpx"
	"github.com/hospital-backoffice/backoffice/internal/procurement"
	"github.com/hospital-backoffice/backoffice/internal/sales"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
	"github.com/hospital-backoffice/backoffice/jobs"
)

// APIPrefix is where the optics ledger API is mounted.
const APIPrefix = "/api/optics"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	InventoryHandler   *inventory.Handler
	VendorsHandler     *vendors.Handler
	AccountsHandler    *accounts.Handler
	SalesHandler       *sales.Handler
	ProcurementHandler *procurement.Handler
	JobHandler         *jobs.Handler
}

// NewHandlers builds every API handler over the assembled services.
func NewHandlers(logger *slog.Logger, svc *Services) RouterParams {
	return RouterParams{
		Logger:             logger,
		InventoryHandler:   inventory.NewHandler(logger, svc.Inventory),
		VendorsHandler:     vendors.NewHandler(logger, svc.Vendors),
		AccountsHandler:    accounts.NewHandler(logger, svc.Shop, svc.Consolidated, svc.Poster),
		SalesHandler:       sales.NewHandler(logger, svc.Sales),
		ProcurementHandler: procurement.NewHandler(logger, svc.Procurement),
	}
}

// NewRouter constructs the chi.Router with backoffice defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route(APIPrefix, func(r chi.Router) {
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.VendorsHandler != nil {
			r.Route("/vendors", params.VendorsHandler.MountRoutes)
		}
		if params.AccountsHandler != nil {
			r.Route("/accounts", params.AccountsHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			r.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/procurement", params.ProcurementHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})
	return r
}
