package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/internal/bearer"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/registry"
	"github.com/oauthkit/deviceauth/internal/store"
	"github.com/oauthkit/deviceauth/internal/usercode"
)

// Version is set by the build process.
var Version = "dev"

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("loading configuration")
	}

	logger := newLogger(cfg)
	logger.Info().Str("version", Version).Msg("starting deviceauthd")

	st, cleanup, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing store")
	}
	defer cleanup()

	clients, err := registry.Load(cfg.ClientsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading client registry")
	}

	validator := registry.NewValidator(clients, st, logger)
	issuer := bearer.NewIssuer([]byte(cfg.SigningSecret), cfg.Issuer, cfg.AccessTokenTTL)
	grant := devicegrant.NewServer(validator, issuer, cfg.VerificationURI, usercode.Generate,
		devicegrant.WithInterval(cfg.PollInterval),
		devicegrant.WithLifetime(cfg.CodeLifetime),
		devicegrant.WithRefresh(cfg.RefreshTokens),
		devicegrant.WithLogger(logger),
	)

	srv := newServer(grant, st, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal().Err(err).Msg("server failed")

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("closing server")
			}
		}
	}
}

func newLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newStore selects Redis when configured, in-memory otherwise.
func newStore(cfg Config) (store.Store, func(), error) {
	if cfg.RedisURL == "" {
		mem := store.NewMemoryStore()
		return mem, mem.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}

	return store.NewRedisStore(client), func() { _ = client.Close() }, nil
}
