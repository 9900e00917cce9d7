package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luminstall/fieldops-backend/api/controllers"
	assignmentcontrollers "github.com/luminstall/fieldops-backend/api/controllers/assignments"
	"github.com/luminstall/fieldops-backend/api/middleware"
	internalassignments "github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/pkg/config"
	"github.com/luminstall/fieldops-backend/pkg/logger"
)

// NewRouter wires the HTTP surface: health probes plus the assignment API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	assignmentService internalassignments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Route("/v1/assignments", func(r chi.Router) {
		r.Post("/", assignmentcontrollers.Create(assignmentService, logg))
		r.Get("/", assignmentcontrollers.List(assignmentService, logg))
		r.Route("/{assignmentId}", func(r chi.Router) {
			r.Get("/", assignmentcontrollers.Detail(assignmentService, logg))
			r.Put("/", assignmentcontrollers.Update(assignmentService, logg))
			r.Patch("/status", assignmentcontrollers.UpdateStatus(assignmentService, logg))
			r.Post("/completions", assignmentcontrollers.ReportCompletion(assignmentService, logg))
			r.Get("/last-installer", assignmentcontrollers.LastInstaller(assignmentService, logg))
		})
	})

	return r
}
