package app

import (
	"task-router/internal/circuitbreaker"
	"task-router/internal/classify"
	"task-router/internal/common/logging"
	"task-router/internal/config"
	"task-router/internal/escalation"
	"task-router/internal/events"
	"task-router/internal/locks"
	"task-router/internal/metrics"
	"task-router/internal/ratelimit"
	"task-router/internal/redis"
	"task-router/internal/routing"
	"task-router/internal/storage"
	"task-router/internal/workload"

	// Storage adapters register themselves with the factory registry.
	_ "task-router/internal/storage/memory"
	_ "task-router/internal/storage/postgres"
	_ "task-router/internal/storage/sqlite"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.Storage
	Engine      *routing.Engine
	Metrics     *metrics.Aggregator
	Scheduler   *escalation.Scheduler
	Breakers    *circuitbreaker.Manager
	RedisClient *redis.Client
	LockManager locks.Manager
	Publisher   events.Publisher
	RateLimiter ratelimit.Limiter
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:   cfg,
		Breakers: circuitbreaker.NewManager(nil),
		Logger:   logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional; routing falls back to per-instance coordination
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	app.initializeEngine()
	app.initializeEscalation()
	app.initializeMetricsRollup()

	return app, nil
}

func (app *App) initializeEngine() {
	capacity := app.capacityProvider()
	if app.Config.WorkloadServiceURL != "" {
		app.Logger.Info("Workload: external service", logging.Field{Key: "url", Value: app.Config.WorkloadServiceURL})
	} else {
		app.Logger.Info("Workload: assignment counters")
	}

	var classifier routing.Classifier
	if app.Config.ClassifierURL != "" {
		classifier = classify.NewHTTPClassifier(app.Config.ClassifierURL, classify.HTTPClassifierOptions{
			Timeout:  app.Config.CollaboratorTimeout,
			Breakers: app.Breakers,
		})
		app.Logger.Info("Classifier: external service", logging.Field{Key: "url", Value: app.Config.ClassifierURL})
	} else {
		classifier = classify.NewStaticClassifier()
		app.Logger.Info("Classifier: keyword heuristics")
	}

	app.Metrics = metrics.NewAggregator(app.Storage, metrics.AggregatorOptions{
		AccuracyWindowDays: app.Config.MetricsAccuracyWindowDays,
	})

	app.Engine = routing.NewEngine(app.Storage, routing.EngineOptions{
		DefaultQueueID:  app.Config.DefaultQueueID,
		Classifier:      classifier,
		Capacity:        capacity,
		Accuracy:        app.Metrics,
		Publisher:       app.Publisher,
		Locks:           app.LockManager,
		MaxAlternatives: app.Config.MaxAlternatives,
		Weights: routing.ConfidenceWeights{
			RuleMatch:    app.Config.ConfidenceWeightRule,
			SkillMatch:   app.Config.ConfidenceWeightSkill,
			Availability: app.Config.ConfidenceWeightAvail,
			History:      app.Config.ConfidenceWeightHistory,
		},
	})
}

func (app *App) initializeEscalation() {
	resolver := routing.NewHandlerResolver(app.Storage, app.capacityProvider(), routing.ResolverOptions{
		DefaultQueueID:  app.Config.DefaultQueueID,
		MaxAlternatives: app.Config.MaxAlternatives,
	})

	app.Scheduler = escalation.NewScheduler(app.Storage, resolver, escalation.SchedulerOptions{
		SweepInterval: app.Config.EscalationSweepInterval,
		BatchSize:     app.Config.EscalationBatchSize,
		Publisher:     app.Publisher,
		Locks:         app.LockManager,
		Weights: routing.ConfidenceWeights{
			RuleMatch:    app.Config.ConfidenceWeightRule,
			SkillMatch:   app.Config.ConfidenceWeightSkill,
			Availability: app.Config.ConfidenceWeightAvail,
			History:      app.Config.ConfidenceWeightHistory,
		},
	})
}

func (app *App) capacityProvider() routing.CapacityProvider {
	if app.Config.WorkloadServiceURL != "" {
		return workload.NewServiceProvider(app.Config.WorkloadServiceURL, workload.ServiceProviderOptions{
			Timeout:  app.Config.CollaboratorTimeout,
			Breakers: app.Breakers,
		})
	}
	return workload.NewStoreProvider(app.Storage, 0)
}

func (app *App) initializeMetricsRollup() {
	if err := app.Metrics.StartRollup(app.Config.MetricsRollupSchedule); err != nil {
		app.Logger.Warn("Metrics rollup disabled",
			logging.Field{Key: "schedule", Value: app.Config.MetricsRollupSchedule},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Metrics != nil {
		app.Metrics.StopRollup()
	}
	if app.LockManager != nil {
		app.LockManager.Close()
	}
	if app.Publisher != nil {
		app.Publisher.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
	if app.Storage != nil {
		app.Storage.Close()
	}
}
