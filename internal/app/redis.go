package app

import (
	"strconv"
	"time"

	"task-router/internal/common/logging"
	"task-router/internal/events"
	"task-router/internal/locks"
	"task-router/internal/ratelimit"
	"task-router/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.RedisEnabled || app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (decision events, distributed locks and shared rate limits disabled)")
		app.initializeLocalRateLimiter()
		return nil
	}

	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		app.initializeLocalRateLimiter()
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})

	lockManager, err := locks.NewManager(redisClient)
	if err != nil {
		app.Logger.Warn("Distributed locks unavailable",
			logging.Field{Key: "error", Value: err.Error()})
	} else {
		app.LockManager = lockManager
		app.Logger.Info("Distributed Locks: Enabled")
	}

	app.Publisher = events.NewRedisPublisher(redisClient)
	app.Logger.Info("Events: Redis pub/sub")

	app.RateLimiter = ratelimit.NewRedisLimiter(redisClient, app.rateLimitConfig())
	return nil
}

func (app *App) initializeLocalRateLimiter() {
	app.RateLimiter = ratelimit.NewLocalLimiter(app.rateLimitConfig())
}

func (app *App) rateLimitConfig() *ratelimit.Config {
	limit, _ := strconv.Atoi(app.Config.RateLimitDefault)
	if limit <= 0 {
		limit = 100
	}
	window, err := time.ParseDuration(app.Config.RateLimitWindow)
	if err != nil || window <= 0 {
		window = time.Minute
	}
	return &ratelimit.Config{
		DefaultLimit:  limit,
		DefaultWindow: window,
		Enabled:       app.Config.RateLimitEnabled,
	}
}
