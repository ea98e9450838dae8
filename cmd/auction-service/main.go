package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diamond-auction/internal/api/handlers"
	"diamond-auction/internal/app"
	"diamond-auction/internal/config"
	"diamond-auction/internal/infrastructure/websocket"
	"diamond-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var configPath = flag.String("config", "", "config file; ./config.yaml and /etc/diamond-auction/ are searched when empty")

func main() {
	flag.Parse()
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting auction service", "config", cfg.GetConfigString())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	engine, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			handlers.HeaderUserID,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Debug("Request handled",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"latency", time.Since(start).String())
			return err
		}
	})

	auctionHandler := handlers.NewAuctionHandler(engine.Auctions, engine.Bids, log)
	auctionHandler.Register(e.Group("/api/v1"))

	wsHandler := websocket.NewWebSocketHandler(engine.Bids, engine.Auctions, engine.Hub, engine.ConnManager, log)
	e.Any("/ws/*", echo.WrapHandler(handlers.NewWebSocketRouter(wsHandler, log)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-service",
			"instance":  cfg.Instance.ID,
			"timestamp": engine.Clock.Now().Format(time.RFC3339),
		})
	})

	// Start background services
	engine.StartListener(ctx)
	if err := engine.Scheduler.Start(ctx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting HTTP server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := engine.Scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	stop()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Auction service stopped")
}
