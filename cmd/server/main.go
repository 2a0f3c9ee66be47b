package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/sales-copilot/internal/api"
	"github.com/Rrens/sales-copilot/internal/api/handler"
	"github.com/Rrens/sales-copilot/internal/app"
	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/logger"
	"github.com/Rrens/sales-copilot/internal/repository/redis"
	"github.com/Rrens/sales-copilot/internal/security"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// conversations idle this long are dropped from memory; they reload from the store
const conversationIdle = 30 * time.Minute

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("auth.jwt_secret is required")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Starting Sales Copilot API server")

	ctx := context.Background()

	deps := api.Dependencies{
		JWT:   security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, ""),
		Ready: map[string]handler.Pinger{},
	}

	// Redis is optional: rate limiting, the cross-replica turn lock and the
	// shared agent credential all degrade to per-process behaviour without it
	var credCache credential.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		deps.Ready["redis"] = redisClient
		deps.RateLimiter = redis.NewRateLimiter(
			redisClient,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
		deps.TurnLock = redis.NewTurnLock(redisClient, cfg.Security.TurnLockTTL)

		if cfg.Credential.Shared {
			encryptor, err := security.NewEncryptorFromSecret(cfg.Credential.CacheKey)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid credential cache key")
			}
			credCache = redis.NewCredentialCache(redisClient, encryptor, cfg.Credential.Type)
		}
	}

	stack, err := app.Build(ctx, cfg, credCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize conversation stack")
	}
	defer stack.Store.Close()

	if stack.Store.Ping != nil {
		deps.Ready["store"] = pingFunc(stack.Store.Ping)
	}

	registry := service.NewRegistry(stack.Conversations)
	deps.Agents = stack.Agents
	deps.Conversations = stack.Conversations
	deps.Registry = registry

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweep(sweepCtx, registry)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func sweep(ctx context.Context, registry *service.Registry) {
	ticker := time.NewTicker(conversationIdle / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(conversationIdle); n > 0 {
				log.Debug().Int("dropped", n).Int("live", registry.Len()).Msg("swept idle conversations")
			}
		}
	}
}
