package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"task-router/internal/circuitbreaker"
	"task-router/internal/config"
	"task-router/internal/escalation"
	"task-router/internal/metrics"
	"task-router/internal/routing"
	"task-router/internal/storage"
)

type Handlers struct {
	engine    *routing.Engine
	storage   storage.Storage
	metrics   *metrics.Aggregator
	scheduler *escalation.Scheduler
	breakers  *circuitbreaker.Manager
	config    *config.Config
}

func New(engine *routing.Engine, store storage.Storage, aggregator *metrics.Aggregator, scheduler *escalation.Scheduler, breakers *circuitbreaker.Manager, cfg *config.Config) *Handlers {
	return &Handlers{
		engine:    engine,
		storage:   store,
		metrics:   aggregator,
		scheduler: scheduler,
		breakers:  breakers,
		config:    cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// validate checks struct tags on decoded request payloads.
var validate = validator.New()
