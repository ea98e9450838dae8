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
	"diamond-auction/internal/clock"
	"diamond-auction/internal/config"
	"diamond-auction/internal/infrastructure/mysql"
	"diamond-auction/internal/infrastructure/redis"
	"diamond-auction/internal/services"
	"diamond-auction/pkg/logger"
	"diamond-auction/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var configPath = flag.String("config", "", "config file; ./config.yaml and /etc/diamond-auction/ are searched when empty")

// The analytics service records bid notifications into MySQL and serves the
// per-auction bid history. Give it its own server.port when it shares a host
// with the auction service.
func main() {
	flag.Parse()
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.Log.Level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rdb, err := utils.InitializeRedis(ctx, cfg, log)
	if err != nil {
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(ctx, cfg, log)
	if err != nil {
		os.Exit(1)
	}
	defer db.Close()

	if err := mysql.Migrate(ctx, db); err != nil {
		log.Error("Failed to migrate schema", "error", err)
		os.Exit(1)
	}

	eventSubscriber := redis.NewRedisEventSubscriber(rdb, log)
	bidRepo := mysql.NewMySQLBidEventRepository(db, clock.System{})
	analyticsService := services.NewAnalyticsService(eventSubscriber, bidRepo, log)

	go func() {
		if err := analyticsService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Analytics service failed", "error", err)
			os.Exit(1)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	handlers.NewAnalyticsHandler(analyticsService, log).Register(e.Group("/api/v1"))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "analytics-service",
		})
	})

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

	log.Info("Shutting down analytics service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Analytics service stopped")
}
