// Package main is the entry point for the docbridge ops server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/adapter"
	"github.com/docbridge/docbridge/internal/api/routes"
	"github.com/docbridge/docbridge/internal/config"
	"github.com/docbridge/docbridge/internal/connection"
	"github.com/docbridge/docbridge/internal/core/cache"
	"github.com/docbridge/docbridge/internal/core/docdb"
	rediscache "github.com/docbridge/docbridge/internal/infrastructure/cache/redis"
	"github.com/docbridge/docbridge/internal/infrastructure/docdb/mongodb"
	"github.com/docbridge/docbridge/internal/pkg/encryption"
	"github.com/docbridge/docbridge/internal/pkg/retry"
	"github.com/docbridge/docbridge/internal/registry"
	"github.com/docbridge/docbridge/internal/services/cached"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Log)
	ctx := context.Background()

	reg := registry.New(logger)
	if _, err := createDefaultInstance(reg, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to create default instance")
	}

	// Warm the default connection so /ready reflects reality at startup.
	if instance, err := reg.GetDefault(); err == nil {
		if err := instance.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial database connection failed, will retry lazily")
		}
	}

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	routes.Setup(router, reg, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Address()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	// Hard deadline: in-flight work past the timeout is abandoned.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := reg.CloseAll(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to close instances")
	}

	logger.Info().Msg("server exited")
}

// createDefaultInstance builds the default adapter instance from the
// environment configuration.
func createDefaultInstance(reg *registry.Registry, cfg *config.Config, logger zerolog.Logger) (*adapter.Adapter, error) {
	factory := func(ctx context.Context) (docdb.Client, error) {
		return mongodb.NewClient(ctx, &mongodb.ClientConfig{
			URI:           cfg.Database.ResolveURI(),
			DatabaseName:  cfg.Database.Database,
			ClientCertPEM: cfg.Database.ClientCertPEM,
			ClientKeyPEM:  cfg.Database.ClientKeyPEM,
		})
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retry.MaxRetries
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay
	retryCfg.Multiplier = cfg.Retry.Multiplier

	adapterCfg := adapter.Config{
		Factory: factory,
		Pool: connection.Options{
			PoolingEnabled: cfg.Pool.Enabled,
			IdleTimeout:    cfg.Pool.IdleTimeout,
			MaxIdleTime:    cfg.Pool.MaxIdleTime,
		},
		RetryEnabled: cfg.Retry.Enabled,
		Retry:        retryCfg,
	}

	if cfg.Cache.Enabled {
		store, err := createCacheStore(cfg.Cache)
		if err != nil {
			return nil, err
		}
		adapterCfg.CacheStore = store
		adapterCfg.Cached = cached.Config{
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
		}
		if cfg.Cache.EncryptionKey != "" {
			encryptor, err := encryption.NewAESEncryptor(cfg.Cache.EncryptionKey)
			if err != nil {
				return nil, err
			}
			adapterCfg.Cached.Encryptor = encryptor
		}
	}

	return reg.CreateInstance(registry.DefaultInstanceName, adapterCfg)
}

// createCacheStore connects the Redis cache.
func createCacheStore(cfg config.CacheConfig) (cache.Cache, error) {
	return rediscache.New(rediscache.Config{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		DefaultTTL: cfg.TTL,
	})
}

// newLogger builds the process logger from the log configuration.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
