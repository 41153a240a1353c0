package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"task-router/internal/routing"
)

// Directory handlers manage the persons, teams, and queues that rules can
// route to.

// UpsertPerson creates or updates a person
// @Summary Upsert person
// @Description Creates or replaces a person in the handler directory
// @Tags directory
// @Accept json
// @Produce json
// @Param person body routing.Person true "Person"
// @Success 200 {object} routing.Person "Stored person"
// @Failure 400 {string} string "Invalid JSON or missing ID"
// @Router /directory/persons [put]
func (h *Handlers) UpsertPerson(w http.ResponseWriter, r *http.Request) {
	var p routing.Person
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&p); err != nil {
		http.Error(w, fmt.Sprintf("Invalid person: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.UpsertPerson(r.Context(), &p); err != nil {
		http.Error(w, fmt.Sprintf("Failed to store person: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPerson returns a person by ID
// @Summary Get person
// @Tags directory
// @Produce json
// @Param id path string true "Person ID"
// @Success 200 {object} routing.Person "Person"
// @Failure 404 {string} string "Person not found"
// @Router /directory/persons/{id} [get]
func (h *Handlers) GetPerson(w http.ResponseWriter, r *http.Request) {
	p, err := h.storage.GetPerson(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get person: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpsertTeam creates or updates a team
// @Summary Upsert team
// @Description Creates or replaces a team in the handler directory
// @Tags directory
// @Accept json
// @Produce json
// @Param team body routing.Team true "Team"
// @Success 200 {object} routing.Team "Stored team"
// @Failure 400 {string} string "Invalid JSON or missing ID"
// @Router /directory/teams [put]
func (h *Handlers) UpsertTeam(w http.ResponseWriter, r *http.Request) {
	var t routing.Team
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&t); err != nil {
		http.Error(w, fmt.Sprintf("Invalid team: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.UpsertTeam(r.Context(), &t); err != nil {
		http.Error(w, fmt.Sprintf("Failed to store team: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetTeam returns a team by ID
// @Summary Get team
// @Tags directory
// @Produce json
// @Param id path string true "Team ID"
// @Success 200 {object} routing.Team "Team"
// @Failure 404 {string} string "Team not found"
// @Router /directory/teams/{id} [get]
func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.storage.GetTeam(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get team: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpsertQueue creates or updates a queue
// @Summary Upsert queue
// @Description Creates or replaces a work queue in the handler directory
// @Tags directory
// @Accept json
// @Produce json
// @Param queue body routing.Queue true "Queue"
// @Success 200 {object} routing.Queue "Stored queue"
// @Failure 400 {string} string "Invalid JSON or missing ID"
// @Router /directory/queues [put]
func (h *Handlers) UpsertQueue(w http.ResponseWriter, r *http.Request) {
	var q routing.Queue
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&q); err != nil {
		http.Error(w, fmt.Sprintf("Invalid queue: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.UpsertQueue(r.Context(), &q); err != nil {
		http.Error(w, fmt.Sprintf("Failed to store queue: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetQueue returns a queue by ID
// @Summary Get queue
// @Tags directory
// @Produce json
// @Param id path string true "Queue ID"
// @Success 200 {object} routing.Queue "Queue"
// @Failure 404 {string} string "Queue not found"
// @Router /directory/queues/{id} [get]
func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.storage.GetQueue(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get queue: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
