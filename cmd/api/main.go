package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/db"
	"github.com/rentledger/backend/internal/events"
	apphttp "github.com/rentledger/backend/internal/http"
	"github.com/rentledger/backend/internal/http/handlers"
	"github.com/rentledger/backend/internal/repositories"
	"github.com/rentledger/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, cfg.PGMinConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	accountRepo := repositories.NewAccountRepo(pool)
	requestRepo := repositories.NewRequestRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	processor := services.NewPaymentClient(cfg.PaymentProcessorURL, log)
	feeCalc := services.NewFeeCalculator(services.FeeSchedule{
		PlatformFeeBPS:          cfg.PlatformFeeBPS,
		ProcessingFeeBPS:        cfg.ProcessingFeeBPS,
		ProcessingFeeFixedCents: cfg.ProcessingFeeFixedCents,
	})
	accountService := services.NewAccountService(accountRepo, requestRepo, auditRepo, processor, publisher, feeCalc, cfg, log)
	requestService := services.NewRequestService(requestRepo, accountRepo, accountService, auditRepo, processor, publisher, cfg, log)

	// Handlers
	accountHandler := handlers.NewAccountHandler(accountService, log)
	requestHandler := handlers.NewRequestHandler(requestService, log)
	metaHandler := handlers.NewMetaHandler(feeCalc)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, accountHandler, requestHandler, metaHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
