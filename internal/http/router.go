package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/http/handlers"
	"github.com/rentledger/backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	accountHandler *handlers.AccountHandler,
	requestHandler *handlers.RequestHandler,
	metaHandler *handlers.MetaHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Meta (public, no auth required)
	api.Get("/meta/fees", metaHandler.GetFeeQuote)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Escrow accounts
	protected.Post("/escrow-accounts", accountHandler.CreateAccount)
	protected.Get("/escrow-accounts", accountHandler.ListAccounts)
	protected.Get("/escrow-accounts/:id", accountHandler.GetAccount)
	protected.Post("/escrow-accounts/:id/fund", accountHandler.FundAccount)
	protected.Post("/escrow-accounts/:id/dispute", accountHandler.DisputeAccount)
	protected.Post("/escrow-accounts/:id/cancel", accountHandler.CancelAccount)
	protected.Get("/escrow-accounts/:id/milestones", accountHandler.GetMilestones)
	protected.Post("/escrow-accounts/:id/milestones/:milestoneId/complete", accountHandler.CompleteMilestone)
	protected.Get("/escrow-accounts/:id/events", accountHandler.GetAccountEvents)

	// Release requests
	protected.Post("/escrow-accounts/:id/release-requests", requestHandler.SubmitRequest)
	protected.Get("/escrow-accounts/:id/release-requests", requestHandler.ListRequests)
	protected.Get("/release-requests/:id", requestHandler.GetRequest)
	protected.Post("/release-requests/:id/approve", requestHandler.ApproveRequest)
	protected.Post("/release-requests/:id/reject", requestHandler.RejectRequest)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
