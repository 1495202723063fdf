// Package server wires the engine together: storage, dispatch queue,
// worker pool, schedule triggers and the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/engine/executor"
	"github.com/flowgrid-go/internal/engine/scheduler"
	"github.com/flowgrid-go/internal/services/execution/handlers"
	"github.com/flowgrid-go/internal/services/execution/queue"
	executionrepo "github.com/flowgrid-go/internal/services/execution/repository"
	"github.com/flowgrid-go/internal/services/execution/service"
	"github.com/flowgrid-go/internal/services/schedule"
	workflowrepo "github.com/flowgrid-go/internal/services/workflow/repository"
	"github.com/flowgrid-go/pkg/config"
	"github.com/flowgrid-go/pkg/database"
	"github.com/flowgrid-go/pkg/events"
	"github.com/flowgrid-go/pkg/logger"
	"github.com/flowgrid-go/pkg/tracing"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	eventBus   events.EventBus
	workers    *queue.WorkerPool
	schedules  *schedule.Scheduler
	tracing    *tracing.Provider
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(
		&workflow.WorkflowDefinition{},
		&workflow.Execution{},
		&workflow.ExecutionLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	tracingProvider, err := tracing.New(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var eventBus events.EventBus
	if cfg.Kafka.Enabled {
		eventBus = events.NewKafkaEventBus(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		eventBus = events.NewMemoryEventBus()
	}

	transports := map[string]executor.EmailTransport{
		"smtp": &executor.SMTPTransport{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		},
	}
	if cfg.Email.SendGridKey != "" {
		transports["sendgrid"] = &executor.SendGridTransport{
			APIKey: cfg.Email.SendGridKey,
			From:   cfg.Email.From,
		}
	}

	registry := executor.NewRegistry(log)
	registry.RegisterBuiltinNodes(executor.Options{
		DB:                 &executor.GormInserter{DB: db.DB},
		EmailTransports:    transports,
		HTTPTimeout:        time.Duration(cfg.Engine.HTTPTimeoutSec) * time.Second,
		TransformTimeout:   time.Duration(cfg.Engine.TransformTimeoutSec) * time.Second,
		TransformCostLimit: cfg.Engine.TransformCostLimit,
	})

	graphScheduler := scheduler.New(registry, log)

	executionRepo := executionrepo.NewExecutionRepository(db)
	workflowRepo := workflowrepo.NewWorkflowRepository(db)

	dispatchQueue := queue.New(redisClient, queue.Config{
		MaxJobAttempts: cfg.Queue.MaxJobAttempts,
		BaseBackoff:    time.Duration(cfg.Queue.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Queue.MaxBackoffMs) * time.Millisecond,
		TriggerRPS:     cfg.Queue.TriggerRPS,
		TriggerBurst:   cfg.Queue.TriggerBurst,
	}, log)

	executionService := service.NewExecutionService(
		executionRepo, workflowRepo, dispatchQueue, graphScheduler, eventBus, log)

	workers := queue.NewWorkerPool(dispatchQueue, cfg.Queue.Workers,
		executionService.HandleJob, executionService.HandleDeadJob, log)

	schedules := schedule.New(workflowRepo, executionService, log)

	executionHandlers := handlers.NewExecutionHandlers(executionService, log)
	router := setupRouter(executionHandlers, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
		eventBus:   eventBus,
		workers:    workers,
		schedules:  schedules,
		tracing:    tracingProvider,
	}, nil
}

func setupRouter(h *handlers.ExecutionHandlers, log logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/workflows/:workflowId/trigger", h.TriggerWorkflow)
		v1.GET("/executions", h.ListExecutions)
		v1.GET("/executions/:id", h.GetExecution)
		v1.POST("/executions/:id/cancel", h.CancelExecution)
	}

	return router
}

func (s *Server) Start(ctx context.Context) error {
	s.workers.Start(ctx)
	s.schedules.Start(ctx)

	s.logger.Info("starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.schedules.Stop()

	if err := s.workers.Stop(ctx); err != nil {
		s.logger.Error("failed to stop worker pool", "error", err)
	}
	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("failed to close event bus", "error", err)
	}
	if err := s.tracing.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shut down tracing", "error", err)
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Error("failed to close Redis", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}
	return nil
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"clientIp", c.ClientIP(),
		)
	}
}
