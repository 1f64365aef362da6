package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/handlers"
	"tournament-settlement-system/middleware"
	"tournament-settlement-system/models"
	"tournament-settlement-system/services"
	"tournament-settlement-system/utils"
	"tournament-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := services.LoadDeploymentConfig()
	if err != nil {
		log.Fatal("invalid deployment config: ", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		log.Println("⚠️  SOLANA_RPC_URL not set, using https://api.devnet.solana.com")
		rpcURL = "https://api.devnet.solana.com"
	}
	keypairPath := os.Getenv("SERVICE_KEYPAIR_PATH")
	if keypairPath == "" {
		log.Fatal("SERVICE_KEYPAIR_PATH environment variable not set")
	}

	// The service key is loaded once and never rotated in-process.
	signer, err := chain.LoadSigner(keypairPath)
	if err != nil {
		log.Fatalf("%v: %v", services.ErrFatal, err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.Metrics()
	rpc := chain.NewRPCClient(rpcURL, chain.WithRetryHook(metrics.RecordRPCRetry))

	paymentService := services.NewPaymentService(db, rpc, cfg.ProgramID)
	payouts := services.NewPayoutExecutor(rpc, signer, cfg.ProgramID, services.WithDeploymentConfig(cfg))
	tournamentService := services.NewTournamentService(db, rpc, paymentService, payouts, cfg)

	archiver, err := utils.NewR2ArchiverFromEnv(ctx)
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if archiver != nil {
		tournamentService.Archiver = archiver
	} else {
		log.Println("⚠️  R2 not configured, settlement reports will not be archived")
	}

	sched, err := tournamentService.StartLifecycleScheduler(ctx)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	mirrorInterval := 30 * time.Second
	if raw := os.Getenv("MIRROR_POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			mirrorInterval = d
		} else {
			log.Printf("⚠️  MIRROR_POLL_INTERVAL=%q is not a duration, using %s", raw, mirrorInterval)
		}
	}
	go workers.NewEscrowSyncWorker(db, rpc).Start(ctx, mirrorInterval)

	app := fiber.New()
	handlers.SetupMetricsRoute(app)

	// 🔐❗ GLOBAL: Only Gateway requests allowed past this point
	app.Use(middleware.GatewayAuthMiddleware(os.Getenv("GAME_SERVICE_TOKEN")))

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Wallet-Address, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupPaymentRoutes(app, paymentService)
	handlers.SetupTournamentRoutes(app, tournamentService)

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":5200"
	}
	go func() {
		if err := app.Listen(listenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s", listenAddr)
	log.Printf("✅ Service key %s, program %s", signer.PublicKey(), cfg.ProgramID)
	log.Printf("✅ Fees: owner %d%%, developer %d%%; payout batches of %d every %s",
		cfg.OwnerFeePct, cfg.DeveloperFeePct, cfg.PayoutBatchSize, cfg.PayoutBatchDelay)
	log.Printf("✅ Escrow mirror polling every %s", mirrorInterval)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("[Scheduler] shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
