package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/reviewd/backend/internal/config"
	"github.com/reviewd/backend/internal/core/agents"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/core/services"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/cache"
	"github.com/reviewd/backend/internal/infrastructure/db"
	"github.com/reviewd/backend/internal/infrastructure/github"
	"github.com/reviewd/backend/internal/infrastructure/llm"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
	transporthttp "github.com/reviewd/backend/internal/transport/http"
	httpmw "github.com/reviewd/backend/internal/transport/http/middleware"
	"github.com/reviewd/backend/pkg/utils/crypto"
	"github.com/reviewd/backend/pkg/utils/retry"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func main() {
	configPath := "config/config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "../config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(registry)

	var (
		database  *gorm.DB
		taskRepo  ports.TaskRepository
		cacheRepo ports.CacheEntryRepository
	)
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory task store; tasks do not survive a restart")
		taskRepo = db.NewMemoryTaskRepository(log)
	default:
		database, err = db.NewPostgresConnection(cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		log.Info("database connection established")

		if err := db.RunMigrations(database); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Info("database migrations completed")

		taskRepo = db.NewTaskRepository(database, log)
		if cfg.Cache.Shared {
			cacheRepo = db.NewCacheEntryRepository(database, log)
		}
	}

	var tokens *crypto.TokenCipher
	if cfg.Security.EncryptionKey != "" {
		tokens, err = crypto.NewTokenCipher(cfg.Security.EncryptionKey)
		if err != nil {
			log.Fatalf("invalid security.encryption_key: %v", err)
		}
	} else {
		log.Warn("security.encryption_key is empty; per-task GitHub tokens will be ignored")
	}

	resultCache := cache.New(cache.Config{MaxEntries: cfg.Cache.MaxEntries, TTL: cfg.Cache.TTL}, cacheRepo, log, m)
	pruner := services.NewCachePruner(resultCache, cfg.Cache.PruneSchedule, log)
	if cacheRepo != nil {
		if err := pruner.Start(); err != nil {
			log.Fatalf("failed to schedule cache pruning: %v", err)
		}
	}

	fetcher := github.NewClient(github.Config{
		APIURL:       cfg.GitHub.APIURL,
		Token:        cfg.GitHub.Token,
		Timeout:      cfg.GitHub.Timeout,
		MaxFiles:     cfg.GitHub.MaxFiles,
		Concurrency:  cfg.GitHub.FetchConcurrency,
		MaxFileBytes: cfg.Analysis.MaxFileBytes,
		Retry: retry.Policy{
			MaxRetries:      cfg.GitHub.MaxRetries,
			InitialInterval: cfg.GitHub.InitialBackoff,
			MaxInterval:     cfg.GitHub.MaxBackoff,
		},
	}, log)

	if cfg.Agents.APIKey == "" {
		log.Warn("agents.api_key is empty; every agent call will fail")
	}
	model := llm.WrapWithRateLimit(llm.NewAnthropic(llm.AnthropicConfig{
		APIURL:    cfg.Agents.APIURL,
		APIKey:    cfg.Agents.APIKey,
		Model:     cfg.Agents.Model,
		MaxTokens: cfg.Agents.MaxTokens,
		Timeout:   cfg.Agents.CallTimeout,
	}), rate.Limit(cfg.Agents.RequestsPerSecond), cfg.Agents.Burst)
	agentRegistry := agents.NewRegistry(model, cfg.Agents.Version)

	invoker := services.NewAgentInvoker(agentRegistry, resultCache, services.InvokerConfig{
		CallTimeout: cfg.Agents.CallTimeout,
		Retry: retry.Policy{
			MaxRetries:      cfg.Agents.MaxRetries,
			InitialInterval: cfg.Agents.InitialBackoff,
			MaxInterval:     cfg.Agents.MaxBackoff,
		},
		MaxFileBytes:        cfg.Analysis.MaxFileBytes,
		ValidatedConfidence: cfg.Agents.ValidatedConfidence,
		RecoveredConfidence: cfg.Agents.RecoveredConfidence,
	}, log, m)

	store := services.NewTaskStore(taskRepo, retry.Policy{
		MaxRetries:      cfg.Store.MaxRetries,
		InitialInterval: cfg.Store.InitialBackoff,
		MaxInterval:     cfg.Store.MaxBackoff,
	}, log, m)

	coordinator := services.NewCoordinator(services.CoordinatorConfig{
		Store:            store,
		Fetcher:          fetcher,
		Invoker:          invoker,
		Tokens:           openerOrNil(tokens),
		Logger:           log,
		Metrics:          m,
		MaxParallelUnits: cfg.Analysis.MaxParallelUnits,
		GlobalMaxUnits:   cfg.Analysis.GlobalMaxUnits,
	})

	queue := services.NewWorkQueue(services.WorkQueueConfig{
		Workers: cfg.Analysis.Workers,
		Size:    cfg.Analysis.QueueSize,
		Run:     coordinator.Run,
		OnPanic: func(taskID string, cause error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := store.Fail(ctx, taskID, domain.ErrorKindInternal, "Analysis failed unexpectedly"); err != nil {
				log.Errorw("task_fail_after_panic_failed", "task_id", taskID, "cause", cause, "error", err)
			}
		},
		Logger:  log,
		Metrics: m,
	})

	analysis := services.NewAnalysisService(services.AnalysisServiceConfig{
		Store:               store,
		Queue:               queue,
		Agents:              agentRegistry,
		Signaler:            coordinator,
		Tokens:              sealerOrNil(tokens),
		Logger:              log,
		Metrics:             m,
		DefaultTypes:        cfg.Analysis.DefaultTypes,
		FailOrphanedOnStart: cfg.Analysis.FailOrphanedOnStart,
		RecoveryBatchSize:   cfg.Analysis.RecoveryBatchSize,
	})

	health := services.NewHealthService(taskRepo, queue.Depth, log)
	health.Register("database", taskRepo, true)
	health.Register("cache", resultCache, false)
	health.Register("github", fetcher, false)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	queue.Start(runCtx)
	if err := analysis.Recover(runCtx); err != nil {
		log.Errorw("task_recovery_failed", "error", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "*"
	if len(cfg.Security.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Security.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + cfg.Features.RequestIDHeader,
		AllowMethods: "GET, POST, HEAD",
	}))

	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log))
	}

	routerCfg := transporthttp.RouterConfig{
		Service:        analysis,
		Health:         health,
		Cache:          resultCache,
		Logger:         log,
		BasePath:       cfg.Server.BasePath,
		EnableStream:   cfg.Features.EnableStatusStream,
		StreamInterval: cfg.Analysis.StreamPollInterval,
	}
	if cfg.Features.EnableMetrics {
		routerCfg.Gatherer = registry
	}
	transporthttp.SetupRoutes(app, routerCfg)

	addr := cfg.Server.Address()
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("server started on %s", addr)

	gracefulShutdown(app, queue, pruner, database, log)
}

// openerOrNil keeps a nil cipher from becoming a non-nil interface.
func openerOrNil(c *crypto.TokenCipher) services.TokenOpener {
	if c == nil {
		return nil
	}
	return c
}

func sealerOrNil(c *crypto.TokenCipher) services.TokenSealer {
	if c == nil {
		return nil
	}
	return c
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			msg = e.Message
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.GetRequestID(c),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.GetRequestID(c),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

func gracefulShutdown(app *fiber.App, queue *services.WorkQueue, pruner *services.CachePruner, database *gorm.DB, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	// Workers get what is left of the deadline; running tasks are then
	// interrupted and recorded as failed.
	if err := queue.Stop(ctx); err != nil {
		log.Warnf("work queue stopped with running tasks: %v", err)
	}
	pruner.Stop()

	if err := db.Close(database); err != nil {
		log.Errorf("failed to close database connection: %v", err)
	}

	log.Info("server exited gracefully")
}
