package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/quillworks/quill/internal/activities"
	"github.com/quillworks/quill/internal/checkpoint"
	"github.com/quillworks/quill/internal/citations"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/health"
	"github.com/quillworks/quill/internal/httpapi"
	"github.com/quillworks/quill/internal/llm"
	"github.com/quillworks/quill/internal/search"
	"github.com/quillworks/quill/internal/stages"
	"github.com/quillworks/quill/internal/streaming"
	"github.com/quillworks/quill/internal/workflows"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("QUILL_CONFIG")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}

	var (
		watcher *config.Watcher
		cfg     *config.Config
	)
	bootLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("initialize logger: %v", err)
	}
	watcher, err = config.NewWatcher(cfgPath, bootLogger)
	if err != nil {
		// No watchable file: static defaults plus environment.
		cfg, err = config.Load()
		if err != nil {
			bootLogger.Fatal("load configuration", zap.Error(err))
		}
	} else {
		cfg = watcher.Current()
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()
	bootLogger.Sync()

	if watcher != nil {
		watcher.OnReload(func(c *config.Config) error {
			logger.Info("routing configuration updated",
				zap.Int("max_literature_loops", c.Workflow.MaxLiteratureLoops),
				zap.Int("max_revision_loops", c.Workflow.MaxRevisionLoops),
			)
			return nil
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	// Collaborators
	generator := llm.WithRetry(
		llm.NewHTTPGenerator(cfg.LLM.ServiceURL, cfg.LLM.CallTimeout, logger),
		cfg.LLM.RetryAttempts, cfg.LLM.RetryBackoff, cfg.LLM.CallTimeout, logger,
	)
	searcher := search.WithRetry(
		search.NewTavilyClient(cfg.SearchAPIKey(), cfg.Search.CallTimeout, logger),
		cfg.Search.RetryAttempts, cfg.Search.RetryBackoff, cfg.Search.CallTimeout,
		rate.NewLimiter(rate.Limit(cfg.Search.RatePerSecond), 1), logger,
	)
	deps := stages.Deps{
		Generator: generator,
		Searcher:  searcher,
		Formatter: citations.NewStyleFormatter(),
		Logger:    logger,
		Params: stages.Params{
			MaxTokens:       cfg.LLM.MaxTokens,
			Temperature:     cfg.LLM.Temperature,
			SearchResults:   cfg.Search.MaxResults,
			MaxGapsPerCycle: cfg.Workflow.MaxGapsPerCycle,
			SnippetBudget:   cfg.Search.SnippetBudget,
		},
	}

	// Event sinks: in-process hub for SSE/WS plus Redis for everything else.
	hub := streaming.NewHub(256)
	sinks := streaming.Fanout{hub}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, events stay in-process only", zap.Error(err))
	} else {
		ttl := time.Duration(cfg.Redis.StreamTTL) * time.Second
		sinks = append(sinks, streaming.NewRedisStream(redisClient, logger, ttl))
	}

	// Checkpoint store
	var store *checkpoint.Store
	if cfg.Database.DSN != "" {
		store, err = checkpoint.Open(ctx, cfg.Database.DSN, logger)
		if err != nil {
			logger.Fatal("open checkpoint store", zap.Error(err))
		}
		defer store.Close()
	} else {
		logger.Warn("no database DSN configured, run snapshots will not persist")
	}

	// Temporal worker
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalLogger{logger.Sugar()},
	})
	if err != nil {
		logger.Fatal("connect temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	research := activities.NewResearch(stages.DefaultRegistry(), deps, store, sinks, logger)
	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivity(research.ExecuteStage)
	w.RegisterActivity(research.PersistFinal)
	w.RegisterActivity(research.PublishEvent)

	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Run(worker.InterruptCh()) }()
	logger.Info("research worker started",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("temporal", cfg.Temporal.HostPort),
	)

	// HTTP API
	starter := &temporalStarter{
		client:  temporalClient,
		cfg:     cfg,
		watcher: watcher,
	}
	var runs httpapi.RunReader
	if store != nil {
		runs = store
	}
	mux := http.NewServeMux()
	httpapi.NewServer(starter, runs, hub, logger).RegisterRoutes(mux)

	checks := health.NewManager(logger)
	checks.Register(health.RedisChecker{Client: redisClient})
	if store != nil {
		checks.Register(health.DatabaseChecker{DB: store.DB()})
	}
	checks.Register(health.CheckerFunc{
		ComponentName: "temporal",
		IsCritical:    true,
		Fn: func(ctx context.Context) error {
			_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		},
	})
	checks.RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}
	go func() {
		logger.Info("api server listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	// Metrics
	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Service.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-workerErr:
		if err != nil {
			logger.Error("worker stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// temporalStarter launches research workflows for the HTTP API. Routing
// knobs are re-read per start so config reloads apply to new runs.
type temporalStarter struct {
	client  client.Client
	cfg     *config.Config
	watcher *config.Watcher
}

func (s *temporalStarter) StartRun(ctx context.Context, topic, citationStyle string) (string, error) {
	cfg := s.cfg
	if s.watcher != nil {
		cfg = s.watcher.Current()
	}
	if citationStyle == "" {
		citationStyle = cfg.Workflow.CitationStyle
	}

	runID := uuid.NewString()
	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "research-" + runID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.ResearchWorkflow, workflows.ResearchRequest{
		RunID:         runID,
		Topic:         topic,
		CitationStyle: citationStyle,
		Routing:       cfg.Routing(),
	})
	if err != nil {
		return "", fmt.Errorf("start research workflow: %w", err)
	}
	return runID, nil
}

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	return logger
}

// temporalLogger adapts zap to the Temporal SDK logger interface.
type temporalLogger struct {
	s *zap.SugaredLogger
}

func (l temporalLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l temporalLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l temporalLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l temporalLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
