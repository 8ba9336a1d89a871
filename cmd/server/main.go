package main // Entry point package

import (
	"context" // Context for startup calls with deadlines
	"log"     // Logging library
	"time"    // Timeouts

	"github.com/joho/godotenv" // Loads .env files into the process environment
	"github.com/labstack/echo/v4"

	"github.com/ecoledger/marketplace/internal/authenticator"
	"github.com/ecoledger/marketplace/internal/blobstore"
	"github.com/ecoledger/marketplace/internal/config"
	"github.com/ecoledger/marketplace/internal/database"
	"github.com/ecoledger/marketplace/internal/handler"
	"github.com/ecoledger/marketplace/internal/middleware"
	"github.com/ecoledger/marketplace/internal/queue"
	"github.com/ecoledger/marketplace/internal/repository"
	"github.com/ecoledger/marketplace/internal/router"
	"github.com/ecoledger/marketplace/internal/service"
)

func main() {
	// Load a local .env if present; in production the variables come
	// from the real environment and the file is simply absent.
	_ = godotenv.Load()

	cfg := config.Load()                       // Core server + DB + JWT config
	storageCfg := config.LoadStorageConfig()   // S3 / minio settings
	uploadCfg := config.LoadUploadConfig()     // Upload size ceiling
	authCfg := config.LoadAuthenticatorConfig() // External authenticator endpoint

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blobs, err := blobstore.New(startCtx, storageCfg)
	if err != nil {
		log.Fatalf("blobstore: %v", err)
	}

	auth := authenticator.New(authCfg)

	// Repositories share the single pool opened above.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	credits := repository.NewCreditRepo(db)
	listings := repository.NewListingRepo(db)

	publisher := queue.Publisher{}
	uploadSvc := service.NewUploadService(uploadCfg, blobs, auth, credits, publisher)
	marketSvc := service.NewMarketplaceService(credits, listings)

	// The verification consumer runs for the life of the process and
	// reconnects on its own when the broker drops.
	consumer := &queue.VerifyConsumer{Blobs: blobs, Auth: auth, Credits: credits}
	go func() {
		if err := consumer.Start(); err != nil {
			log.Printf("verify consumer stopped: %v", err)
		}
	}()

	e := echo.New()

	healthH := &handler.HealthHandler{DB: db, Auth: auth}
	authH := handler.NewAuthHandler(cfg, users, tokens)
	creditH := &handler.CreditHandler{Upload: uploadSvc, UploadC: uploadCfg, Credits: credits, Blobs: blobs}
	marketH := &handler.MarketplaceHandler{Market: marketSvc}

	// Redis backs both the browse response cache and the rate limiter.
	// Both middlewares fail open, so a missing Redis only disables them.
	rdb := config.NewRedisClient()
	browseMW := []echo.MiddlewareFunc{
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	}

	router.RegisterRoutes(e, healthH)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterCredits(e, creditH, cfg.JWTSecret)
	router.RegisterMarketplace(e, marketH, cfg.JWTSecret, browseMW...)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
