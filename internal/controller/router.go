package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter mounts the campaign routes. An empty allowedOrigins allows any.
func NewRouter(c *CampaignController, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Caller-ID", "X-Subscription-Tier", "X-Session-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/usage", c.Usage)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", c.GetCampaignDetails)
			r.Post("/process-batch", c.ProcessBatch)
			r.Post("/stop", c.Stop)
			r.Post("/reset-stuck", c.ResetStuck)
			r.Post("/retry-failed", c.RetryFailed)
			r.Get("/companies", c.ListCompanies)
			r.Post("/companies/{companyID}/process", c.ProcessCompany)
			r.Post("/companies/{companyID}/preview", c.PersonalizedPreview)
			r.Get("/companies/{companyID}/monitor", c.MonitorCompany)
		})
	})
	return r
}
