// Context kernel daemon: HTTP API over the adaptive context-management
// engine.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/cache"
	"github.com/adaptive-context-kernel/internal/condense"
	"github.com/adaptive-context-kernel/internal/config"
	"github.com/adaptive-context-kernel/internal/embedding"
	"github.com/adaptive-context-kernel/internal/events"
	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/kernel"
	"github.com/adaptive-context-kernel/internal/retrieval"
	"github.com/adaptive-context-kernel/internal/server"
	"github.com/adaptive-context-kernel/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting context kernel",
		zap.String("address", cfg.Server.Address),
		zap.String("storage", cfg.Storage.Backend))

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer cleanup()

	k, err := kernel.New(kernel.Config{
		Resolution:       cfg.Resolution,
		Pipeline:         cfg.PipelineSettings(),
		SnapshotInterval: cfg.Storage.SnapshotInterval,
	}, deps, logger)
	if err != nil {
		logger.Fatal("Failed to create kernel", zap.Error(err))
	}
	k.Profiles().SetDefaults(gating.Defaults{
		BaseThreshold:  cfg.Gating.BaseThreshold,
		MinThreshold:   cfg.Gating.MinThreshold,
		MaxThreshold:   cfg.Gating.MaxThreshold,
		TargetChunks:   cfg.Gating.TargetChunks,
		AdaptationRate: cfg.Gating.AdaptationRate,
		Method:         gating.OutlierMethod(cfg.Gating.Method),
		K:              cfg.Gating.K,
	})

	if err := k.Start(); err != nil {
		logger.Fatal("Failed to start kernel", zap.Error(err))
	}

	router := mux.NewRouter()
	srv := server.NewServer(k, logger)
	srv.SetupRoutes(router)

	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(zapRecoveryLogger{logger}))(
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(router))

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpServer.Shutdown(shutdownCtx)
	if err := k.Stop(); err != nil {
		logger.Error("Kernel stop failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// buildDeps wires the configured backends into kernel dependencies.
func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (kernel.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (kernel.Deps, func(), error) {
		cleanup()
		return kernel.Deps{}, func() {}, err
	}

	deps := kernel.Deps{Indexes: make(map[string]kernel.SearchIndex)}

	if cfg.Condenser.URL != "" {
		deps.Condenser = condense.NewClient(cfg.Condenser.URL, logger)
	} else {
		logger.Warn("No condenser configured, summaries degrade to truncation")
		deps.Condenser = condense.NewTruncating()
	}

	var sharedRedis *redis.Client
	switch cfg.Storage.Backend {
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.Storage.Redis, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { rs.Close() })
		deps.GraphStore = rs
		deps.ProfileStore = rs
		sharedRedis = rs.Client()
	case "dgraph":
		ds, err := store.NewDgraphStore(ctx, cfg.Storage.Dgraph, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { ds.Close() })
		deps.GraphStore = ds
		// Dgraph holds graph snapshots only; profiles stay in memory.
		deps.ProfileStore = store.NewMemoryStore()
	default:
		ms := store.NewMemoryStore()
		deps.GraphStore = ms
		deps.ProfileStore = ms
	}

	keyword, err := retrieval.NewBleveEngine(cfg.Index, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { keyword.Close() })
	deps.Indexes["keyword"] = keyword

	if cfg.Embedding.URL != "" {
		embedder := embedding.New(cfg.Embedding.URL, logger)
		deps.Indexes["vector"] = retrieval.NewVectorEngine(embedder, retrieval.DefaultVectorCapacity, logger)
	}

	if cfg.NATS.Address != "" {
		pub, err := events.NewPublisher(cfg.NATS, logger)
		if err != nil {
			logger.Warn("Event publisher unavailable", zap.Error(err))
		} else {
			closers = append(closers, pub.Close)
			deps.Events = pub
		}
	}

	tiered, err := cache.NewTiered(cfg.Cache.MaxCostBytes, cfg.Cache.TTL, sharedRedis, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, tiered.Close)
	deps.Windows = cache.NewWindowCache(tiered)

	return deps, cleanup, nil
}

type zapRecoveryLogger struct {
	logger *zap.Logger
}

func (l zapRecoveryLogger) Println(args ...interface{}) {
	l.logger.Sugar().Error(args...)
}
