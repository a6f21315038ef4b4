package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/handler"
	"github.com/unclebandit/leadnurture/internal/middleware"
)

// NewRouter mounts the control and admin routes. Everything except
// /healthz sits behind the service-token check.
func NewRouter(campaigns *CampaignController, admin *handler.AdminHandler, jwtSecret string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", admin.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret, log))

		// Lead routes
		r.Post("/leads", campaigns.StartCampaign)
		r.Get("/leads/{id}", campaigns.GetLead)
		r.Post("/leads/{id}/campaigns", campaigns.StartLeadCampaign)

		// Campaign routes
		r.Get("/campaigns/{id}", campaigns.GetCampaign)
		r.Post("/campaigns/{id}/pause", campaigns.PauseCampaign)
		r.Post("/campaigns/{id}/resume", campaigns.ResumeCampaign)

		// Template admin
		r.Get("/templates", admin.ListTemplatesHandler)
		r.Post("/templates/reload", admin.ReloadTemplatesHandler)
	})

	return r
}
