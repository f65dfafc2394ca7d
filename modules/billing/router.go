package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
)

// Router mounts the billing HTTP surface.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billingmod.Router(svc, log))
func Router(svc *billing.Service, log *slog.Logger) chi.Router {
	if svc == nil {
		panic("billing module: service is required")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()

	r.Post("/webhooks/paddle", h.paddleWebhook)

	r.Route("/tenants/{tenantID}", func(t chi.Router) {
		t.Get("/subscription", h.getSubscription)
		t.Get("/limits", h.getLimits)
		t.Post("/plan-change", h.requestPlanChange)
		t.Delete("/plan-change", h.cancelPlanChange)
		t.Put("/addons", h.setAddOnSlots)
		t.Post("/validate", h.validate)
	})

	return r
}
