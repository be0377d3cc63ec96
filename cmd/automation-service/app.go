package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	_ "github.com/lib/pq" // PostgreSQL driver

	"pulse/internal/automation"
	"pulse/internal/broadcast"
	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/events"
	"pulse/internal/logger"
	"pulse/pkg/bootstrap"
	"pulse/pkg/circuitbreaker"
	"pulse/pkg/health"
	"pulse/pkg/metrics"
	"pulse/pkg/middleware"
	"pulse/pkg/ratelimit"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	publisher   events.Publisher
	sweep       *automation.Sweep
	scheduler   *broadcast.Scheduler
	cron        *cron.Cron
	server      *http.Server
	router      *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	a.initPublisher()

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initCron(ctx); err != nil {
		return fmt.Errorf("failed to initialize schedules: %w", err)
	}

	a.initServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, dedup claims fall back to the execution log", "error", err)
	} else {
		a.redisClient = rdb
	}
	return nil
}

func (a *App) initPublisher() {
	if len(a.config.Broker.Kafka.Brokers) > 0 && a.config.Broker.Kafka.EventTopic != "" {
		a.publisher = events.NewKafkaPublisher(a.config.Broker.Kafka, a.logger)
		a.logger.Info("Kafka event publisher initialized")
		return
	}
	a.publisher = events.NopPublisher{}
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.Broadcast.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.Broadcast.RateLimit.RPS,
			Burst:           a.config.Broadcast.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.Broadcast.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.Broadcast.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	// Automation wiring.
	executionLog := automation.NewExecutionLog(a.db)
	evaluator := automation.NewEvaluator(executionLog, a.config.Automation)
	executor := automation.NewExecutor(
		automation.NewTaskRepository(a.db),
		automation.NewNotificationRepository(a.db),
		executionLog,
		a.logger,
	)

	var claimer automation.DedupClaimer
	if a.redisClient != nil {
		claimer = automation.NewRedisDedupClaimer(a.redisClient)
	}

	a.sweep = automation.NewSweep(
		automation.NewRuleRepository(a.db),
		automation.NewTaskRepository(a.db),
		evaluator,
		executor,
		claimer,
		a.publisher,
		a.config.Automation,
		a.logger,
	)

	// Broadcast wiring.
	var pushGateway broadcast.PushGateway = broadcast.NopPushGateway{}
	if a.config.Broadcast.Push.GatewayURL != "" {
		var breaker *circuitbreaker.Wrapper
		if a.config.CircuitBreaker.Enabled {
			breaker = circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("push-gateway"))
		}
		pushGateway = broadcast.NewHTTPPushGateway(a.config.Broadcast.Push, breaker, a.logger)
	}

	audience := broadcast.NewAudienceResolver(
		broadcast.NewMembershipRepository(a.db),
		broadcast.NewRegistrationRepository(a.db),
	)
	broadcastRepo := broadcast.NewBroadcastRepository(a.db)

	dispatcher := broadcast.NewDispatcher(
		broadcast.NewChannelRepository(a.db),
		broadcast.NewRoleRepository(a.db),
		broadcastRepo,
		broadcast.NewMessageRepository(a.db),
		audience,
		pushGateway,
		a.publisher,
		a.config.Broadcast,
		a.logger,
	)

	var claimLock broadcast.ClaimLock
	if a.redisClient != nil {
		claimLock = broadcast.NewRedisClaimLock(a.redisClient)
	}
	a.scheduler = broadcast.NewScheduler(broadcastRepo, dispatcher, claimLock, a.config.Broadcast, a.logger)

	automation.NewHandler(a.sweep, a.logger).RegisterRoutes(router)
	broadcast.NewHandler(dispatcher, a.logger).RegisterRoutes(router)

	metrics.RegisterAutomationMetrics()
	metrics.RegisterBroadcastMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

// initCron wires the in-process schedules. Both entries are optional; an
// operator can leave them empty and drive the endpoints externally instead.
func (a *App) initCron(ctx context.Context) error {
	if a.config.Automation.SweepSchedule == "" && a.config.Broadcast.ClaimSchedule == "" {
		return nil
	}

	a.cron = cron.New()

	if spec := a.config.Automation.SweepSchedule; spec != "" {
		if _, err := a.cron.AddFunc(spec, func() {
			if _, err := a.sweep.Run(ctx); err != nil {
				a.logger.ErrorwCtx(ctx, "Scheduled sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
		}
	}

	if spec := a.config.Broadcast.ClaimSchedule; spec != "" {
		if _, err := a.cron.AddFunc(spec, func() {
			if _, err := a.scheduler.RunDue(ctx); err != nil {
				a.logger.ErrorwCtx(ctx, "Broadcast claim pass failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid claim schedule %q: %w", spec, err)
		}
	}

	return nil
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	if a.cron != nil {
		a.cron.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("timed out waiting for scheduled jobs"))
		}
	}

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(a.redisClient, a.db)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
