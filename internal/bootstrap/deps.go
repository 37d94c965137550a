package bootstrap

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/persistence"
	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider"
	"github.com/kamiwaza-drew/tool-email-mcp/config"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/security"
	"github.com/kamiwaza-drew/tool-email-mcp/infra/database"
	"github.com/kamiwaza-drew/tool-email-mcp/internal/session"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/cache"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

// Dependencies wires the service graph.
type Dependencies struct {
	Config *config.Config

	Redis *redis.Client

	Store    out.CredentialStore
	Factory  out.ProviderFactory
	Security *security.Manager
	Sessions *session.Manager
}

// NewDependencies builds the dependency graph. Redis is optional: when
// REDIS_URL is unset or unreachable, sessions fall back to an
// in-memory credential store and rate limiting stays per-process.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			logger.Info("Redis connected")
		}
	}

	if deps.Redis != nil {
		deps.Store = persistence.NewRedisCredentialStore(cache.NewRedisCache(deps.Redis), cfg.CredentialTTL)
	} else {
		deps.Store = persistence.NewMemoryCredentialStore(cfg.CredentialTTL)
		logger.Info("using in-memory credential store")
	}

	deps.Factory = provider.NewFactory()
	deps.Security = security.NewManager()
	deps.Sessions = session.NewManager(cfg, deps.Factory, deps.Security, deps.Store, logger.Default())

	deps.Sessions.Start(cfg.SweepInterval)
	cleanups = append(cleanups, deps.Sessions.Stop)

	deps.Sessions.ConfigureFromEnv(context.Background(), cfg)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return deps, cleanup, nil
}
