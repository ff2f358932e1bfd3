package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers all API routes on the given chi router.
// The request timeout covers the API subtree only: /ws connections are
// long-lived and /health must answer even under load.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HealthCheck)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))

		r.Get("/", h.Version)

		// Source ingest
		r.Post("/items", h.UpsertItem)
		r.Get("/items", h.ListItems)
		r.Post("/items/dispatch", h.DispatchItems)
		r.Get("/items/{id}", handleGet(h.Ingest.Get, "item not found"))

		// Task queue
		r.Post("/tasks", h.EnqueueTask)
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks/reclaim", h.ReclaimTasks)
		r.Get("/tasks/{id}", handleGet(h.Queue.Get, "task not found"))
		r.Post("/tasks/{id}/complete", h.CompleteTask)
		r.Post("/tasks/{id}/fail", h.FailTask)

		// Negotiations
		r.Post("/negotiations", h.OpenNegotiation)
		r.Get("/negotiations", h.ListNegotiations)
		r.Get("/negotiations/{id}", handleGet(h.Negotiations.Get, "negotiation not found"))
		r.Post("/negotiations/{id}/respond", h.RespondNegotiation)
		r.Post("/negotiations/{id}/follow-up", h.FollowUpNegotiation)

		// Prediction ledger
		r.Post("/predictions", handleCreate(h.Predictions.Create))
		r.Get("/predictions", h.ListPredictions)
		r.Get("/predictions/stale", h.ListStalePredictions)
		r.Get("/predictions/publishable", h.ListPublishablePredictions)
		r.Get("/predictions/{id}", handleGet(h.Predictions.Get, "prediction not found"))
		r.Get("/predictions/{id}/history", h.PredictionHistory)
		r.Post("/predictions/{id}/track", h.TrackPrediction)
		r.Post("/predictions/{id}/resolve", h.ResolvePrediction)

		// Opportunities
		r.Post("/opportunities", handleCreate(h.Opportunities.Record))
		r.Get("/opportunities", handleList(h.Opportunities.ListActive))
		r.Get("/opportunities/featuring-preview", h.FeaturingPreview)
		r.Get("/opportunities/{id}", handleGet(h.Opportunities.Get, "opportunity not found"))
		r.Post("/opportunities/{id}/review", h.ReviewOpportunity)
		r.Post("/opportunities/{id}/reassess", h.ReassessOpportunity)
		r.Delete("/opportunities/{id}", handleDelete(h.Opportunities.Archive, "opportunity not found"))

		// Daily usage ledger
		r.Get("/usage", h.DailyUsage)
		r.Get("/usage/{agent}", h.AgentDailyUsage)

		// Digest issues
		r.Post("/digest/issues", h.AssembleDigest)
		r.Get("/digest/issues", h.GetDigestByDate)
		r.Get("/digest/issues/{id}", handleGet(h.Digest.Get, "digest issue not found"))
		r.Post("/digest/issues/{id}/publish", h.PublishDigest)
	})
}
