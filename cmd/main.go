/*
Package main is the entry point for the Buzzline server.

It loads configuration, initializes logging and the database pool, assembles
the connection engine, and runs the HTTP server with graceful shutdown on
SIGINT/SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buzzline/internal/app/chat"
	"buzzline/internal/app/db"
	"buzzline/internal/app/store"
	"buzzline/internal/configs"
	"buzzline/internal/handler"
	"buzzline/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("buzz_cooldown", cfg.BuzzCooldown).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to initialize database")
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)

	index := chat.NewSubscriptionIndex()
	registry := chat.NewConnectionRegistry(pg, index)
	broadcaster := chat.NewBroadcaster(registry, index, pg)
	buzz := chat.NewBuzzLimiter(cfg.BuzzCooldown)
	gateway := chat.NewMessageGateway(registry, index, pg, buzz, broadcaster)

	deps := &handler.AppDeps{
		Gateway: gateway,
		Store:   pg,
		Config:  cfg,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     handler.Router(deps),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Buzzline server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	logx.Info("Server gracefully stopped.")
}
