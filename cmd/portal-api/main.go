package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/config"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/db"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/logging"
	redisclient "github.com/TrixieAM/MyHubCares---90-sub003/internal/redis"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Env, "portal-api")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("portal-api starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := &server.Health{}

	var store server.Store
	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pool.Close()
		log.Info().Msg("connected to Postgres")
		store = server.NewPgStore(pool)
		health.Pool = pool
	} else {
		log.Warn().Msg("POSTGRES_DSN not set, using in-memory store with demo data")
		mem := server.NewMemStore()
		mem.Seed(3, 5, 20)
		store = mem
	}

	var locker redisclient.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")
		locker = redisclient.NewRedisWindowLocker(rdb, cfg.LockTTL)
		health.Redis = rdb
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-process booking locks")
		locker = redisclient.NewLocalWindowLocker()
	}

	hub := server.NewHub(log)
	handlers := server.NewHandlers(store, locker, hub, cfg.JWTSecret, log)
	router := server.NewRouter(handlers, health, cfg.JWTSecret, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-rootCtx.Done():
	}

	log.Info().Msg("shutting down portal-api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
