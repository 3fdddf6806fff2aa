package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/allocation"
	"github.com/lodeworks/backend/internal/api/handlers"
	"github.com/lodeworks/backend/internal/audit"
	cacheredis "github.com/lodeworks/backend/internal/cache/redis"
	"github.com/lodeworks/backend/internal/engine"
	"github.com/lodeworks/backend/internal/ledger"
	"github.com/lodeworks/backend/internal/llm"
	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/middleware/ratelimit"
	"github.com/lodeworks/backend/internal/middleware/security"
	"github.com/lodeworks/backend/internal/middleware/validation"
	"github.com/lodeworks/backend/internal/scoring"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/internal/vector"
	"github.com/lodeworks/backend/internal/vector/milvus"
	"github.com/lodeworks/backend/pkg/config"
	appLogger "github.com/lodeworks/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Lodeworks allocation engine")

	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	err = db.SeedPools(cfg.Tokenomics.EpochCount, map[models.Metal]int64{
		models.MetalGold:   cfg.Tokenomics.GoldPoolBalance,
		models.MetalSilver: cfg.Tokenomics.SilverPoolBalance,
		models.MetalCopper: cfg.Tokenomics.CopperPoolBalance,
	})
	if err != nil {
		appLogger.Fatal("Failed to seed metal pools", zap.Error(err))
	}

	var redisClient *cacheredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var archiveIndex *milvus.Client
	if cfg.Milvus.Enabled {
		archiveIndex, err = milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Warn("Milvus unavailable, redundancy will scan the full archive", zap.Error(err))
			archiveIndex = nil
		} else {
			defer archiveIndex.Close()
			if err := archiveIndex.CreateCollection(context.Background()); err != nil {
				appLogger.Warn("Failed to prepare archive collection", zap.Error(err))
				archiveIndex = nil
			}
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var embeddingCache vector.Cache
	if redisClient != nil {
		embeddingCache = redisClient
	}
	embedder := vector.NewEmbedder(llmClient, embeddingCache, cfg.LLM.EmbeddingDim)

	poolLedger := ledger.New(db)

	policy := scoring.NewLadderPolicy(
		cfg.Tokenomics.EpochThresholds,
		cfg.Tokenomics.MinDensity,
		func() int {
			epoch, err := poolLedger.CurrentEpoch()
			if err != nil {
				appLogger.Warn("Failed to read epoch pointer", zap.Error(err))
				return 0
			}
			return epoch
		},
	)
	composer := scoring.NewComposer(policy)

	recorder := audit.NewRecorder(db)

	var tokenomicsCache allocation.TokenomicsCache
	if redisClient != nil {
		tokenomicsCache = redisClient
	}
	allocator := allocation.NewOrchestrator(db, poolLedger, recorder, tokenomicsCache)

	var engineIndex engine.ArchiveIndex
	if archiveIndex != nil {
		engineIndex = archiveIndex
	}
	eng := engine.New(engine.Config{
		DB:           db,
		Evaluator:    llmClient,
		Embedder:     embedder,
		Composer:     composer,
		Policy:       policy,
		Allocator:    allocator,
		Recorder:     recorder,
		ArchiveIndex: engineIndex,
		CandidateK:   cfg.Milvus.TopK,
	})

	publishPoolGauges(poolLedger)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Contributor-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	submissionHandler := handlers.NewSubmissionHandler(eng)

	var aggregateCache handlers.AggregateCache
	if redisClient != nil {
		aggregateCache = redisClient
	}
	tokenomicsHandler := handlers.NewTokenomicsHandler(db, poolLedger, aggregateCache)
	eventsHandler := handlers.NewEventsHandler(recorder)

	api := app.Group("/api/v1")

	api.Post("/submissions", submissionHandler.Evaluate)
	api.Get("/submissions/:hash", submissionHandler.Get)
	api.Post("/submissions/:hash/register", submissionHandler.Register)

	api.Get("/tokenomics", tokenomicsHandler.GetTokenomics)
	api.Get("/epoch", tokenomicsHandler.GetEpoch)

	api.Get("/events", eventsHandler.List)
	api.Use("/events/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/events/stream", websocket.New(eventsHandler.HandleStream))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func publishPoolGauges(l *ledger.Ledger) {
	pools, err := l.Pools()
	if err != nil {
		appLogger.Warn("Failed to list pools for metrics", zap.Error(err))
		return
	}
	for _, p := range pools {
		metrics.PoolBalance.WithLabelValues(string(p.Metal), fmt.Sprintf("%d", p.Epoch)).Set(float64(p.Balance))
	}

	if epoch, err := l.CurrentEpoch(); err == nil {
		metrics.EpochPointer.Set(float64(epoch))
	}
}
