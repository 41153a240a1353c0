package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"task-router/internal/routing"
)

// RecordFeedback stores feedback for a routing decision
// @Summary Record routing feedback
// @Description Stores a 1-5 score for a decision; scores feed handler accuracy
// @Tags feedback
// @Accept json
// @Produce json
// @Param feedback body routing.RoutingFeedback true "Feedback"
// @Success 201 {object} routing.RoutingFeedback "Stored feedback"
// @Failure 400 {string} string "Invalid JSON or score out of range"
// @Failure 404 {string} string "Decision not found"
// @Router /routing/feedback [post]
func (h *Handlers) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var fb routing.RoutingFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&fb); err != nil {
		http.Error(w, fmt.Sprintf("Invalid feedback: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.metrics.RecordFeedback(r.Context(), &fb); err != nil {
		if routing.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to record feedback: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, fb)
}

// GetMetrics returns routing metrics
// @Summary Get routing metrics
// @Description Returns decision counts, confidence averages, escalation and reroute rates, and per-handler accuracy over a window
// @Tags metrics
// @Produce json
// @Param days query int false "Window in days (default 7)"
// @Success 200 {object} metrics.RoutingMetrics "Routing metrics"
// @Failure 500 {string} string "Failed to compute metrics"
// @Router /routing/metrics [get]
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &days); err != nil || days <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	snapshot, err := h.metrics.Snapshot(r.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute metrics: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
