package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"getchat/internal/config"
	"getchat/internal/database"
	"getchat/internal/handlers"
	"getchat/internal/logger"
	"getchat/internal/media"
	"getchat/internal/routes"
	"getchat/internal/utils"
	ws "getchat/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	s, err := database.Open(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			zl.Warn("failed to close store", zap.Error(err))
		}
	}()

	uploader, err := media.New(cfg, zl)
	if err != nil {
		return err
	}

	tokens := utils.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	registry := ws.NewRegistry(zl)
	router := ws.NewRouter(s, registry, zl)
	presence := ws.NewPresence(registry, s, zl)
	gateway := ws.NewGateway(registry, router, presence, tokens, s, ws.GatewayConfig{
		AuthTimeout:    cfg.WSAuthTimeout,
		SendBuffer:     cfg.WSSendBuffer,
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, zl)

	h := handlers.New(handlers.Deps{
		Store:         s,
		Registry:      registry,
		Router:        router,
		Gateway:       gateway,
		Tokens:        tokens,
		Uploader:      uploader,
		Log:           zl,
		MaxUploadSize: cfg.MaxUploadSize,
	})

	app := fiber.New(fiber.Config{
		AppName:      "Get Chat API",
		BodyLimit:    int(cfg.MaxUploadSize) + 1024*1024,
		ErrorHandler: handlers.ErrorHandler(zl),
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowCredentials: true,
	}))

	if cfg.MediaProvider == "local" {
		app.Static("/uploads", cfg.UploadDir)
	}

	routes.SetupRoutes(ctx, app, h, tokens, s, zl)

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
