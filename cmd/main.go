package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomrelay/backend/internal/api/handler"
	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/logger"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type dependencies struct {
	redis     *redis.Client
	registry  registry.Registry
	history   storage.HistoryStore
	deliverer chathub.Deliverer
	hub       *chathub.Hub
	closers   []func() error
}

func setupDependencies(ctx context.Context, cfg config.Config) (*dependencies, error) {
	deps := &dependencies{hub: chathub.NewHub()}

	if cfg.UsesRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		deps.redis = rdb
		deps.closers = append(deps.closers, rdb.Close)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
	}

	switch cfg.RegistryBackend {
	case config.BackendRedis:
		deps.registry = registry.NewRedis(deps.redis, registry.WithKeyPrefix(cfg.RedisPrefix))
	default:
		deps.registry = registry.NewMemory()
	}

	switch cfg.HistoryBackend {
	case config.BackendPostgres, config.BackendSQLite:
		db, err := storage.Open(cfg.HistoryBackend, cfg.DatabaseDSN, cfg.LogLevel == "debug")
		if err != nil {
			return nil, err
		}
		svc := storage.NewStorageService(db)
		if err := svc.Migrate(); err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			deps.closers = append(deps.closers, sqlDB.Close)
		}
		deps.history = svc
		log.Info().Str("driver", cfg.HistoryBackend).Msg("history database ready, migrations complete")
	default:
		deps.history = storage.NewMemory()
	}

	if cfg.DeliveryMode == config.DeliveryRedis {
		deps.hub.ListenRedis(deps.redis, cfg.RedisPrefix)
		deps.deliverer = chathub.NewRedisDeliverer(deps.redis, cfg.RedisPrefix)
	} else {
		deps.deliverer = deps.hub
	}

	return deps, nil
}

func (d *dependencies) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("closing dependency")
		}
	}
}

func main() {
	cfg, err := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Msg("Starting room relay...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up dependencies")
	}
	defer deps.Close()

	pres := presence.NewManager(deps.registry, cfg.ConnectionTTL)
	dispatcher := chathub.NewDispatcher(deps.registry, deps.history, pres, deps.deliverer)
	dispatcher.MaxBodyBytes = cfg.MaxBodyBytes
	dispatcher.DeliveryTimeout = cfg.DeliveryTimeout
	dispatcher.FanoutLimit = cfg.FanoutLimit

	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(deps.hub, pres, dispatcher, cfg.JWTSecret, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        h.Router(),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pres.RunSweeper(gctx, cfg.SweepInterval, deps.hub.Disconnect)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		deps.hub.Shutdown()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		return
	}
	log.Info().Msg("relay stopped")
}
