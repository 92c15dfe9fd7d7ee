package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/db"
	"github.com/rentledger/backend/internal/events"
	"github.com/rentledger/backend/internal/repositories"
	"github.com/rentledger/backend/internal/services"
)

// The worker runs the three background sweeps: automatic releases past
// their deadline, payout transfer retries, and cancellation of accounts
// that never got funded.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, cfg.PGMinConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	accountRepo := repositories.NewAccountRepo(pool)
	requestRepo := repositories.NewRequestRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	processor := services.NewPaymentClient(cfg.PaymentProcessorURL, log)
	feeCalc := services.NewFeeCalculator(services.FeeSchedule{
		PlatformFeeBPS:          cfg.PlatformFeeBPS,
		ProcessingFeeBPS:        cfg.ProcessingFeeBPS,
		ProcessingFeeFixedCents: cfg.ProcessingFeeFixedCents,
	})
	accountService := services.NewAccountService(accountRepo, requestRepo, auditRepo, processor, publisher, feeCalc, cfg, log)
	requestService := services.NewRequestService(requestRepo, accountRepo, accountService, auditRepo, processor, publisher, cfg, log)

	log.Info("worker started")

	autoReleaseTicker := time.NewTicker(cfg.AutoReleaseSweepInterval)
	transferTicker := time.NewTicker(cfg.TransferRetrySweepInterval)
	staleTicker := time.NewTicker(cfg.StaleAccountSweepInterval)
	defer autoReleaseTicker.Stop()
	defer transferTicker.Stop()
	defer staleTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-autoReleaseTicker.C:
			if n := requestService.SweepAutoRelease(ctx); n > 0 {
				log.Info("automatic releases applied", zap.Int("count", n))
			}
		case <-transferTicker.C:
			if n := requestService.SweepTransfers(ctx); n > 0 {
				log.Info("payout transfers sent", zap.Int("count", n))
			}
		case <-staleTicker.C:
			if n := accountService.SweepStaleCreated(ctx); n > 0 {
				log.Info("stale accounts cancelled", zap.Int("count", n))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
