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
)

var configPath = flag.String("config", "", "config file; ./config.yaml and /etc/diamond-auction/ are searched when empty")

// The bidding service is a websocket edge. It shares the store with the
// auction service but never runs the lifecycle sweep.
func main() {
	flag.Parse()
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	if cfg.Store.Driver == "memory" {
		log.Warn("Bidding service running on the in-memory store; state is not shared with other instances")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	engine, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	wsHandler := websocket.NewWebSocketHandler(engine.Bids, engine.Auctions, engine.Hub, engine.ConnManager, log)
	router := handlers.NewWebSocketRouter(wsHandler, log)

	engine.StartListener(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bidding service stopped")
}
