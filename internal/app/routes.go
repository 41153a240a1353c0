package app

import (
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"task-router/internal/handlers"
	"task-router/internal/middleware"
	"task-router/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, limiter ratelimit.Limiter, rateLimitEnabled bool) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)

	// Health check and API docs (not rate limited)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(ratelimit.HTTPMiddleware(limiter, rateLimitEnabled, ratelimit.IPBasedKey))

	// Routing operations
	api.HandleFunc("/routing/route", h.RouteRequest).Methods("POST")
	api.HandleFunc("/routing/requests/{id}/ack", h.AcknowledgeRequest).Methods("POST")
	api.HandleFunc("/routing/requests/{id}/reroute", h.RerouteRequest).Methods("POST")
	api.HandleFunc("/routing/requests/{id}/decision", h.GetCurrentDecision).Methods("GET")
	api.HandleFunc("/routing/requests/{id}/decisions", h.GetDecisionHistory).Methods("GET")

	// Rule management
	api.HandleFunc("/routing/rules", h.ListRules).Methods("GET")
	api.HandleFunc("/routing/rules", h.CreateRule).Methods("POST")
	api.HandleFunc("/routing/rules/test", h.TestRule).Methods("POST")
	api.HandleFunc("/routing/rules/{id}", h.GetRule).Methods("GET")
	api.HandleFunc("/routing/rules/{id}", h.UpdateRule).Methods("PUT")
	api.HandleFunc("/routing/rules/{id}", h.DeleteRule).Methods("DELETE")

	// Handler directory
	api.HandleFunc("/directory/persons", h.UpsertPerson).Methods("PUT")
	api.HandleFunc("/directory/persons/{id}", h.GetPerson).Methods("GET")
	api.HandleFunc("/directory/teams", h.UpsertTeam).Methods("PUT")
	api.HandleFunc("/directory/teams/{id}", h.GetTeam).Methods("GET")
	api.HandleFunc("/directory/queues", h.UpsertQueue).Methods("PUT")
	api.HandleFunc("/directory/queues/{id}", h.GetQueue).Methods("GET")

	// Feedback and metrics
	api.HandleFunc("/routing/feedback", h.RecordFeedback).Methods("POST")
	api.HandleFunc("/routing/metrics", h.GetMetrics).Methods("GET")
}
