package repositories

import (
	"context"

	"midimesh/internal/core/ports"
	"midimesh/internal/infrastructure/repositories/memory"
	redisrepo "midimesh/internal/infrastructure/repositories/redis"
	"midimesh/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates repositories backed by Redis when configured and
// reachable, falling back to in-memory otherwise.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}
	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory, nil
}

// RedisClient exposes the shared client for non-repository consumers such
// as the roster event bus. Nil when running on memory repositories.
func (f *Factory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

func (f *Factory) CreatePeerRepository() ports.PeerRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewPeerRepository(f.redisClient)
	}
	return memory.NewPeerRepository()
}

func (f *Factory) CreateSessionRepository() ports.SessionRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewSessionRepository(f.redisClient)
	}
	return memory.NewSessionRepository()
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseClient(f.redisClient)
	}
	return nil
}

// HealthCheck verifies the backing store is reachable.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
