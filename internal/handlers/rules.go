package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"task-router/internal/routing"
)

// ListRules returns all routing rules
// @Summary List routing rules
// @Description Returns all configured routing rules, ordered by priority
// @Tags rules
// @Produce json
// @Param active query bool false "Only active rules"
// @Success 200 {array} routing.RoutingRule "Routing rules"
// @Failure 500 {string} string "Internal server error"
// @Router /routing/rules [get]
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.engine.ListRules(r.Context(), activeOnly)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list rules: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rules)
}

// GetRule returns a specific routing rule
// @Summary Get routing rule
// @Description Returns a routing rule by ID
// @Tags rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} routing.RoutingRule "Routing rule"
// @Failure 404 {string} string "Rule not found"
// @Router /routing/rules/{id} [get]
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]

	rule, err := h.engine.GetRule(r.Context(), ruleID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get rule: %v", err), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a new routing rule
// @Summary Create routing rule
// @Description Creates a routing rule with conditions, handler, and optional escalation path
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body routing.RoutingRule true "Routing rule"
// @Success 201 {object} routing.RoutingRule "Created rule"
// @Failure 400 {string} string "Invalid JSON or rule validation failed"
// @Router /routing/rules [post]
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule routing.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.engine.AddRule(r.Context(), &rule); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create rule: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule updates an existing routing rule
// @Summary Update routing rule
// @Description Replaces a routing rule's configuration
// @Tags rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param rule body routing.RoutingRule true "Routing rule"
// @Success 200 {object} routing.RoutingRule "Updated rule"
// @Failure 400 {string} string "Invalid JSON or rule validation failed"
// @Failure 404 {string} string "Rule not found"
// @Router /routing/rules/{id} [put]
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]

	var rule routing.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	rule.ID = ruleID

	if err := h.engine.UpdateRule(r.Context(), &rule); err != nil {
		if routing.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to update rule: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a routing rule
// @Summary Delete routing rule
// @Description Removes a routing rule; past decisions made by it are kept
// @Tags rules
// @Param id path string true "Rule ID"
// @Success 204 "No Content"
// @Failure 404 {string} string "Rule not found"
// @Router /routing/rules/{id} [delete]
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]

	if err := h.engine.DeleteRule(r.Context(), ruleID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete rule: %v", err), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestRule dry-runs a rule against a sample request
// @Summary Test routing rule
// @Description Evaluates a candidate rule against a sample request without persisting anything
// @Tags rules
// @Accept json
// @Produce json
// @Param body body handlers.TestRuleBody true "Rule and sample request"
// @Success 200 {object} routing.MatchResult "Match result"
// @Failure 400 {string} string "Invalid JSON or rule does not compile"
// @Router /routing/rules/test [post]
func (h *Handlers) TestRule(w http.ResponseWriter, r *http.Request) {
	var body TestRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.engine.TestRule(r.Context(), &body.Rule, &body.Request)
	if err != nil {
		http.Error(w, fmt.Sprintf("Rule test failed: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// TestRuleBody is the dry-run payload.
type TestRuleBody struct {
	Rule    routing.RoutingRule    `json:"rule"`
	Request routing.RoutingRequest `json:"request"`
}
