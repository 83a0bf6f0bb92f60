package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OlgaBilynska/REST-API-app/internal/app/migrate"
	"github.com/OlgaBilynska/REST-API-app/internal/avatars"
	httpx "github.com/OlgaBilynska/REST-API-app/internal/http"
	"github.com/OlgaBilynska/REST-API-app/internal/mail"
	"github.com/OlgaBilynska/REST-API-app/internal/repository/postgres"
	"github.com/OlgaBilynska/REST-API-app/internal/service/auth"
	"github.com/OlgaBilynska/REST-API-app/pkg/config"
	"github.com/OlgaBilynska/REST-API-app/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	store, err := avatars.NewStore(cfg.PublicDir)
	if err != nil {
		log.Error("failed to prepare avatar storage", "error", err)
		os.Exit(1)
	}

	sender, err := mail.NewSMTPSender(cfg)
	if err != nil {
		log.Error("failed to configure mail sender", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, store, sender, log, cfg)
	router := httpx.NewRouter(log, authSvc, cfg.TmpUploadDir, cfg.PublicDir, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
