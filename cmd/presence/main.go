package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"time"

	"huddle/internal/infrastructure/repositories"
	"huddle/internal/infrastructure/signaling"
	"huddle/pkg/config"
	"huddle/pkg/distributed"
	"huddle/pkg/logger"
)

func loadConfig(path string) *config.Config {
	paths := []string{path, "configs/config.yaml", "config.yaml"}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if cfg, err := config.Load(p); err == nil {
			return cfg
		}
	}
	return config.Default()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := loadConfig(*configPath)

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	redisClient := repoFactory.RedisClient()
	if redisClient == nil {
		log.Fatal("presence requires redis; check redis.address")
	}

	pubsub := signaling.NewRedisPubSub(signaling.RedisPubSubConfig{
		PingInterval:   cfg.Signaling.PingInterval,
		ResubscribeMax: cfg.Signaling.ResubscribeMax,
		ResubscribeMin: cfg.Signaling.ResubscribeMin,
	}, redisClient, log)
	defer pubsub.Close()

	channel := signaling.NewChannel(pubsub, log)

	responder := signaling.NewResponder(
		signaling.ResponderConfig{RosterTTL: cfg.Presence.RosterTTL},
		redisClient,
		channel,
		repoFactory.CreateRosterRepository(),
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only one responder may serve the roster at a time; a second instance
	// waits here until the leader's lease lapses.
	leaderLock := distributed.NewLock(redisClient, "huddle:presence:leader", 15*time.Second)
	log.Info("waiting for presence leadership")
	if err := leaderLock.Acquire(ctx); err != nil {
		log.Fatalw("failed to acquire leadership", "error", err)
	}
	defer func() {
		if err := leaderLock.Release(context.Background()); err != nil {
			log.Warnw("failed to release leadership", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		log.Info("presence responder started")
		runErr <- responder.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Fatalw("responder failed", "error", err)
		}
	case sig := <-sigChan:
		log.Infow("shutting down", "signal", sig)
		cancel()
		<-runErr
	}

	log.Info("presence stopped")
}
