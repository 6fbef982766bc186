package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	httphandlers "huddle/internal/handlers/http"
	"huddle/internal/handlers/ws"
	"huddle/internal/infrastructure/capture"
	"huddle/internal/infrastructure/media"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories"
	"huddle/internal/infrastructure/signaling"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	identity := flag.String("identity", "", "display name to sign into rooms with")
	flag.Parse()

	cfg := loadConfig(*configPath)

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	self := domain.ParticipantID(*identity)
	if self == "" {
		self = domain.ParticipantID(cfg.Client.Identity)
	}
	if self == "" {
		log.Fatal("no identity configured; set -identity or client.identity")
	}

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "huddle",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	redisClient := repoFactory.RedisClient()
	if redisClient == nil {
		log.Fatal("signaling requires redis; check redis.address")
	}

	pubsub := signaling.NewRedisPubSub(signaling.RedisPubSubConfig{
		PingInterval:   cfg.Signaling.PingInterval,
		ResubscribeMax: cfg.Signaling.ResubscribeMax,
		ResubscribeMin: cfg.Signaling.ResubscribeMin,
	}, redisClient, log)
	defer pubsub.Close()

	channel := signaling.NewChannel(pubsub, log)

	transportCfg := media.TransportConfig{ICEServers: iceServers(cfg)}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	transport := media.NewTransport(transportCfg, pubsub, log)

	device := capture.NewDevice(capture.DeviceConfig{
		VideoBitrate: cfg.Capture.VideoBitrate,
	}, log)

	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	roomService := services.NewRoomService(
		repoFactory.CreateRoomRepository(),
		repoFactory.CreateRosterRepository(),
	)

	collector := monitoring.NewPrometheusCollector()

	hub := ws.NewHub(nil, log)
	sessionCfg := services.SessionManagerConfig{
		Chat: services.ChatConfig{
			HistoryLimit:  cfg.Chat.HistoryLimit,
			TypingTimeout: cfg.Chat.TypingTimeout,
		},
	}
	sessionCfg.Call.Constraints.Width = cfg.Capture.Width
	sessionCfg.Call.Constraints.Height = cfg.Capture.Height
	sessionCfg.Call.ReconnectDelay = cfg.Call.ReconnectDelay
	sessionCfg.Call.ReconnectMaxAttempts = cfg.Call.ReconnectMaxAttempts

	sessions := services.NewSessionManager(
		sessionCfg, self,
		pubsub, channel, transport, device,
		repoFactory.CreateHistoryRepository(),
		collector, hub, log,
	)
	hub.BindSessions(sessions)

	health := monitoring.NewHealthChecker()
	health.AddRedisCheck(redisClient, 2*time.Second)
	health.AddRoomRepositoryCheck(repoFactory.CreateRoomRepository(), 2*time.Second)
	health.AddSignalingCheck(channel)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(logger.NewContextLogger(log)))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	auth := middleware.AuthMiddleware(authService)
	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
	httphandlers.NewRoomHandler(roomService).SetupRoutes(router, auth)
	httphandlers.NewCallHandler(sessions).SetupRoutes(router, auth)
	hub.SetupRoutes(router, auth)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("huddle client daemon listening", "address", cfg.Server.Address, "identity", self)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}

	// Leave every room cleanly so peers and the roster see our LEAVE.
	sessions.CloseAll(shutdownCtx)

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}

	log.Info("huddle stopped")
}
