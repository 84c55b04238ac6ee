package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/sheet"
	"github.com/blocadmin/blocadmin/internal/structure"
	"github.com/blocadmin/blocadmin/jobs"
	"github.com/blocadmin/blocadmin/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	StructureHandler *structure.Handler
	SheetHandler     *sheet.Handler
	ReceiptHandler   *receipt.Handler
	ReportHandler    *report.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router. Everything under /api/v1 requires
// the operator token; healthz and job health stay open for probes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(OperatorAuth(params.Config, params.Logger))
		if params.StructureHandler != nil {
			params.StructureHandler.MountRoutes(api)
		}
		if params.SheetHandler != nil {
			params.SheetHandler.MountRoutes(api)
		}
		if params.ReceiptHandler != nil {
			params.ReceiptHandler.MountRoutes(api)
		}
		if params.ReportHandler != nil {
			params.ReportHandler.MountRoutes(api)
		}
	})

	return r
}
