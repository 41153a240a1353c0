package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"task-router/internal/routing"
)

// RouteRequest routes an incoming request to a handler
// @Summary Route a request
// @Description Matches the request against active rules and assigns it to the best handler
// @Tags routing
// @Accept json
// @Produce json
// @Param request body routing.RoutingRequest true "Request to route"
// @Success 200 {object} routing.RoutingDecision "Routing decision"
// @Failure 400 {string} string "Invalid JSON or missing request ID"
// @Failure 409 {string} string "Concurrent routing attempt"
// @Failure 422 {string} string "Routing unresolved"
// @Router /routing/route [post]
func (h *Handlers) RouteRequest(w http.ResponseWriter, r *http.Request) {
	var req routing.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	decision, err := h.engine.Route(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrRoutingUnresolved):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, routing.ErrRevisionConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Routing failed: %v", err), http.StatusBadRequest)
		}
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// AcknowledgeRequest marks the current assignment as accepted
// @Summary Acknowledge assignment
// @Description Closes the current decision for a request and cancels pending escalations. Idempotent.
// @Tags routing
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} routing.RoutingDecision "Closed decision"
// @Failure 404 {string} string "No decision for request"
// @Failure 409 {string} string "Decision superseded concurrently"
// @Router /routing/requests/{id}/ack [post]
func (h *Handlers) AcknowledgeRequest(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	decision, err := h.engine.Acknowledge(r.Context(), requestID)
	if err != nil {
		switch {
		case routing.IsNotFound(err):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, routing.ErrDecisionNotCurrent):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to acknowledge: %v", err), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// RerouteRequest manually reassigns a request
// @Summary Reroute a request
// @Description Reassigns the request to the given handler, recording a new decision revision
// @Tags routing
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param body body handlers.RerouteBody true "Target handler and reason"
// @Success 200 {object} routing.RoutingDecision "New decision revision"
// @Failure 400 {string} string "Invalid JSON or unknown handler"
// @Failure 404 {string} string "No decision for request"
// @Failure 409 {string} string "Decision superseded concurrently"
// @Router /routing/requests/{id}/reroute [post]
func (h *Handlers) RerouteRequest(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	var body RerouteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	decision, err := h.engine.Reroute(r.Context(), requestID, body.Target, body.Reason)
	if err != nil {
		switch {
		case routing.IsNotFound(err):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, routing.ErrDecisionNotCurrent), errors.Is(err, routing.ErrRevisionConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to reroute: %v", err), http.StatusBadRequest)
		}
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// RerouteBody is the manual reroute payload.
type RerouteBody struct {
	Target routing.RouteHandler `json:"target"`
	Reason string               `json:"reason,omitempty"`
}

// GetCurrentDecision returns the current decision for a request
// @Summary Get current decision
// @Description Returns the latest decision revision for a request
// @Tags routing
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} routing.RoutingDecision "Current decision"
// @Failure 404 {string} string "No decision for request"
// @Router /routing/requests/{id}/decision [get]
func (h *Handlers) GetCurrentDecision(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	decision, err := h.engine.CurrentDecision(r.Context(), requestID)
	if err != nil {
		if routing.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get decision: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// GetDecisionHistory returns the full audit trail for a request
// @Summary Get decision history
// @Description Returns every decision revision for a request in order, oldest first
// @Tags routing
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} routing.RoutingDecision "Decision revisions"
// @Failure 404 {string} string "No decisions for request"
// @Router /routing/requests/{id}/decisions [get]
func (h *Handlers) GetDecisionHistory(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	decisions, err := h.engine.DecisionHistory(r.Context(), requestID)
	if err != nil {
		if routing.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get decisions: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decisions)
}
