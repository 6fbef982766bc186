package repositories

import (
	"time"

	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/repositories/memory"
	redisrepo "huddle/internal/infrastructure/repositories/redis"
	"huddle/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates repositories backed by Redis, falling back to in-process
// memory when Redis is unreachable. Signaling still needs the broker, but a
// client with local repositories can at least browse rooms and keep history.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{useRedis: true, cfg: cfg, logger: logger}

	client, err := redisrepo.NewClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		logger,
	)
	if err != nil {
		logger.Warnw("redis unreachable, falling back to memory repositories", "error", err)
		factory.useRedis = false
	} else {
		factory.redisClient = client
	}
	return factory, nil
}

// RedisClient exposes the shared client for the pub/sub transport and the
// roster responder. Nil when running on memory repositories.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *Factory) CreateRoomRepository() ports.RoomRepository {
	if f.useRedis {
		// Room lookups sit on the HTTP hot path; cache them briefly.
		return NewCachedRoomRepository(redisrepo.NewRoomRepository(f.redisClient), 5*time.Second)
	}
	return memory.NewRoomRepository()
}

func (f *Factory) CreateHistoryRepository() ports.HistoryRepository {
	if f.useRedis {
		return redisrepo.NewHistoryRepository(f.redisClient, f.cfg.Chat.HistoryLimit)
	}
	return memory.NewHistoryRepository(f.cfg.Chat.HistoryLimit)
}

func (f *Factory) CreateRosterRepository() ports.RosterRepository {
	if f.useRedis {
		return redisrepo.NewRosterRepository(f.redisClient, f.cfg.Presence.RosterTTL)
	}
	return memory.NewRosterRepository(f.cfg.Presence.RosterTTL)
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
