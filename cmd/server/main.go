package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"menurec/internal/cachestore"
	"menurec/internal/catalog"
	"menurec/internal/config"
	"menurec/internal/database"
	"menurec/internal/handlers"
	"menurec/internal/jobs"
	"menurec/internal/logging"
	"menurec/internal/middleware"
	"menurec/internal/services"
	"menurec/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	logging.Init()
	log.Println("🚀 Starting menurec server...")

	cfg := config.Load()
	instanceID := uuid.New().String()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s, Instance: %s)", cfg.Port, cfg.Environment, instanceID)

	// Cache store and user context source
	store, contexts, closeDB, err := openStore(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open cache store: %v", err)
	}
	defer closeDB()

	// Candidate catalog, hot-reloaded when loaded from a file
	initial, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("❌ Failed to load catalog: %v", err)
	}
	catalogStore := catalog.NewStore(initial)
	log.Printf("🍱 Catalog loaded: %d items", initial.Len())

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	if cfg.CatalogPath != "" {
		if err := catalog.Watch(rootCtx, cfg.CatalogPath, catalogStore, 0); err != nil {
			log.Printf("⚠️  Catalog hot-reload disabled: %v", err)
		}
	}

	// Optional Redis for the cross-instance generation lock
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, generation dedup is per instance: %v", err)
			redisService = nil
		}
	}

	// Scoring collaborator
	scoringLogger := logrus.New()
	if cfg.IsProduction() {
		scoringLogger.SetFormatter(&logrus.JSONFormatter{})
	}
	scorer := services.NewChatScorer(services.ScorerConfig{
		BaseURL:       cfg.ScoringBaseURL,
		APIKey:        cfg.ScoringAPIKey,
		Model:         cfg.ScoringModel,
		Timeout:       cfg.ScoringTimeout,
		RatePerMinute: cfg.ScoringRatePerMinute,
	}, scoringLogger)
	if cfg.ScoringAPIKey == "" {
		log.Println("⚠️  SCORING_API_KEY not set, scoring calls will be unauthenticated")
	}

	tracker := services.NewInflightTracker()
	metrics := services.NewMetrics(prometheus.DefaultRegisterer, tracker)

	recommendationService := services.NewRecommendationService(store, catalogStore, scorer, contexts, tracker, services.RecommendationConfig{
		SuccessTTL:     cfg.SuccessTTL,
		ErrorTTL:       cfg.ErrorTTL,
		PendingTTL:     cfg.PendingTTL,
		ScoringTimeout: cfg.ScoringTimeout,
		TopN:           cfg.TopN,
		Concurrency:    cfg.GenerationConcurrency,
		Modes:          cfg.Modes,
	})
	recommendationService.SetMetrics(metrics)
	statusService := services.NewStatusService(store, tracker)
	if redisService != nil {
		generationLock := services.NewGenerationLock(redisService)
		recommendationService.SetLocker(generationLock)
		statusService.SetLocker(generationLock)
		log.Println("🔒 Cross-instance generation lock enabled (Redis)")
	} else {
		log.Println("⚠️  REDIS_URL not set: cross-instance dedup relies on pending rows only")
	}

	// Auth
	var jwtAuth *auth.JWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("🔐 JWT authentication enabled")
	} else if cfg.IsProduction() {
		log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET is required in production")
	} else {
		log.Println("⚠️  JWT_SECRET not set, API runs unauthenticated (development mode)")
	}

	// Scheduled maintenance
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("label-repair", cfg.LabelRepairCron, jobs.NewLabelRepairJob(store)); err != nil {
		log.Printf("⚠️  Label repair job disabled: %v", err)
	}
	if err := jobScheduler.Register("cache-stats", cfg.CacheStatsCron, jobs.NewCacheStatsJob(store, metrics, tracker, redisService, instanceID)); err != nil {
		log.Printf("⚠️  Cache stats job disabled: %v", err)
	}
	if err := jobScheduler.RunNow("label-repair"); err != nil {
		log.Printf("⚠️  Initial label repair failed: %v", err)
	}
	jobScheduler.Start()

	app := fiber.New(fiber.Config{
		AppName: "menurec",
		// Fetch waits for a full scoring call on a miss
		ReadTimeout:  cfg.PendingTTL + 10*time.Second,
		WriteTimeout: cfg.PendingTTL + 10*time.Second,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    64 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prom := fiberprometheus.New("menurec")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	log.Printf("🛡️  [RATE-LIMIT] Global=%d/min, Recommend=%d/min", rateLimitConfig.GlobalAPIMax, rateLimitConfig.RecommendMax)

	healthHandler := handlers.NewHealthHandler(store, redisService, catalogStore, tracker)
	recommendationHandler := handlers.NewRecommendationHandler(recommendationService, statusService)
	adminCacheHandler := handlers.NewAdminCacheHandler(store)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.AuthMiddleware(jwtAuth, cfg.Environment))

	generating := middleware.RecommendRateLimiter(rateLimitConfig)
	api.Get("/recommend/status", recommendationHandler.Status)
	api.Post("/recommend", generating, recommendationHandler.Recommend)
	api.Post("/recommend/start", generating, recommendationHandler.Start)
	api.Post("/recommend/preload", generating, recommendationHandler.Preload)
	api.Post("/recommend/regenerate", generating, recommendationHandler.Regenerate)

	admin := api.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Get("/cache", adminCacheHandler.Inspect)
	admin.Delete("/cache", adminCacheHandler.Clear)
	admin.Post("/cache/repair", adminCacheHandler.Repair)
	admin.Get("/jobs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "jobs": jobScheduler.Status()})
	})

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🍽️  Modes: %v, TTLs: success %s, error %s, pending %s", cfg.Modes, cfg.SuccessTTL, cfg.ErrorTTL, cfg.PendingTTL)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := jobScheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}
		stopRoot()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
		if redisService != nil {
			redisService.Close()
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// openStore picks the cache backend: DATABASE_URL (MySQL or SQLite), then
// MONGODB_URI, then in-memory. User context comes from the relational database
// when there is one.
func openStore(cfg *config.Config) (cachestore.Store, services.ContextSource, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Initialize(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		log.Printf("🗄️  Cache store: %s", db.Dialect)
		return cachestore.NewSQLStore(db), services.NewSQLContextSource(db), func() { db.Close() }, nil

	case cfg.MongoDBURI != "":
		mongoDB, err := database.NewMongoDB(cfg.MongoDBURI)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoDB.Initialize(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		store := cachestore.NewMongoStore(mongoDB)
		log.Println("🗄️  Cache store: mongodb")
		return store, services.NewStaticContextSource(), func() { store.Close() }, nil

	default:
		if cfg.IsProduction() {
			log.Println("⚠️  No DATABASE_URL or MONGODB_URI: using the in-memory cache store, rows are lost on restart")
		}
		log.Println("🗄️  Cache store: memory")
		return cachestore.NewMemoryStore(0), services.NewStaticContextSource(), func() {}, nil
	}
}
