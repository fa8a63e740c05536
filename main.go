package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch-backend/clients"
	"dispatch-backend/config"
	"dispatch-backend/controllers"
	"dispatch-backend/database"
	"dispatch-backend/logging"
	"dispatch-backend/metrics"
	"dispatch-backend/middlewares"
	"dispatch-backend/ratelimit"
	"dispatch-backend/routes"
	"dispatch-backend/security"
	"dispatch-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	accesslog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// ---- Database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := database.ApplyPostgresConstraints(db); err != nil {
		log.Fatalf("constraints: %v", err)
	}
	if err := database.SeedFromFile(db, cfg.ConfigSeedFile); err != nil {
		log.Fatalf("seed: %v", err)
	}

	// ---- Core
	kinds, err := services.NewKinds(cfg.EnabledKinds)
	if err != nil {
		log.Fatalf("kinds: %v", err)
	}
	cipher, err := security.NewMessageCipher(cfg.ChatKeyID, cfg.ChatKey, cfg.ChatPreviousKeys)
	if err != nil {
		log.Fatalf("chat cipher: %v", err)
	}
	reg := prometheus.NewRegistry()
	deps := services.Deps{
		DB:            db,
		Kinds:         kinds,
		Notifier:      clients.NewNotificationClient(cfg.NotificationsURL, cfg.ExternalTimeout),
		Ledger:        clients.NewLedgerClient(cfg.LedgerURL, cfg.ExternalTimeout),
		Cipher:        cipher,
		ChatLimiter:   ratelimit.New(cfg.ChatRatePerSec, cfg.ChatRateBurst, 10*time.Minute),
		Metrics:       metrics.New(reg),
		Logger:        logger,
		Currency:      cfg.Currency,
		CloseCodeCost: cfg.CloseCodeCost,
	}
	chat, err := services.NewChatChannel(deps)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	h := controllers.NewHandler(services.NewLifecycle(deps), services.NewProofCloseProtocol(deps), chat)

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    cfg.BodyLimitBytes,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(accesslog.New(accesslog.Config{
		Format:     "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	}))

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	// ---- Unauthenticated health and metrics
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// ---- Global rate limiter (client IP)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
	}))

	// ---- Routes
	routes.Register(app, h, cfg.JWTSecret, db)

	// ---- Start
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()
	logger.Info("API server started", "port", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
