package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"session_auth/internal/auth"
	"session_auth/internal/config"
	"session_auth/internal/handler"
	"session_auth/internal/metrics"
	"session_auth/internal/service"
	"session_auth/internal/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")

	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		log.Fatal("failed get config path from flags or CONFIG_PATH")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting session auth service", slog.String("env", cfg.Env))

	if err := run(cfg, lgr); err != nil {
		lgr.Error("service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, lgr *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//INIT DB
	db, err := storage.Connect(ctx, cfg.DB.DbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db); err != nil {
		return err
	}

	pg := storage.NewPostgresStorage(db)

	tokens, closeTokens, err := newTokenStorage(ctx, cfg, pg, lgr)
	if err != nil {
		return err
	}
	defer closeTokens()

	//INIT SERVICE
	issuer, err := auth.NewIssuer([]byte(cfg.JWT.Secret), cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	if err != nil {
		return err
	}

	m := metrics.New()

	srvc, err := service.NewSessionService(service.Options{
		Users:          pg,
		Tokens:         tokens,
		Issuer:         issuer,
		Hasher:         auth.BcryptHasher{Cost: cfg.Security.BcryptCost},
		Log:            lgr,
		Metrics:        m,
		RevokeOnReplay: cfg.Security.RevokeOnReplay,
	})
	if err != nil {
		return err
	}

	reaper := &service.Reaper{
		Tokens:   tokens,
		Interval: cfg.Reaper.Interval,
		Log:      lgr,
		Metrics:  m,
	}
	go reaper.Run(ctx)

	//INIT SERVER
	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handler.NewHandler(srvc, issuer, m, cfg.CORS.AllowedOrigins, lgr)

	httpServer := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		lgr.Info("http server started", slog.String("address", cfg.HTTPServer.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		lgr.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lgr.Error("http server forced to shutdown", slog.Any("error", err))
	}

	lgr.Info("service stopped")

	return nil
}

// newTokenStorage picks the refresh token backend. Users always live in
// Postgres.
func newTokenStorage(ctx context.Context, cfg *config.Config, pg *storage.PostgresStorage, lgr *slog.Logger) (storage.TokenStorage, func(), error) {
	switch cfg.Storage.RefreshBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}

		lgr.Info("refresh tokens stored in redis", slog.String("addr", cfg.Redis.Addr))

		return storage.NewRedisTokenStorage(client), func() { _ = client.Close() }, nil
	default:
		lgr.Info("refresh tokens stored in postgres")

		return pg, func() {}, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}
	return log
}
