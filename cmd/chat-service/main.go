package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"rendezvous-backend/internal/database"
	chatHandler "rendezvous-backend/internal/handler/http/chat"
	pushHandler "rendezvous-backend/internal/handler/http/push"
	"rendezvous-backend/internal/handler/sse"
	"rendezvous-backend/internal/handler/ws"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/realtime"
	"rendezvous-backend/internal/repository/cassandra"
	"rendezvous-backend/internal/repository/cockroach"
	redisRepo "rendezvous-backend/internal/repository/redis"
	callService "rendezvous-backend/internal/service/call"
	conversationService "rendezvous-backend/internal/service/conversation"
	notificationService "rendezvous-backend/internal/service/notification"
	presenceService "rendezvous-backend/internal/service/presence"
	relationshipService "rendezvous-backend/internal/service/relationship"
	sessionService "rendezvous-backend/internal/service/session"
	visibilityService "rendezvous-backend/internal/service/visibility"
	"rendezvous-backend/pkg/audit"
	"rendezvous-backend/pkg/cache"
	"rendezvous-backend/pkg/cipher"
	"rendezvous-backend/pkg/config"
	"rendezvous-backend/pkg/constants"
	"rendezvous-backend/pkg/jwt"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/push"
	"rendezvous-backend/pkg/resilience"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	pflag.Parse()

	// .env is a development convenience; real deployments inject the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("Chat service failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 1. Stores
	db, err := database.NewDB(ctx, &database.DBConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to CockroachDB: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to CockroachDB")

	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.Cassandra.Hosts,
		Keyspace: cfg.Cassandra.Keyspace,
		Username: cfg.Cassandra.Username,
		Password: cfg.Cassandra.Password,
		Timeout:  cfg.Cassandra.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra: %w", err)
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	defer redisDB.Close()
	redisDB.ObserveCommands(appMetrics.RecordRedisCommand)
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 2. Repositories
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	friendshipRepo := cockroach.NewFriendshipRepository(db.Pool)
	groupRepo := cockroach.NewGroupRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	visibilityRepo := cockroach.NewVisibilityRepository(db.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	sessionRepo := redisRepo.NewSessionRepository(redisDB.Client)
	callRepo := redisRepo.NewCallRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 3. Push channel
	registry := realtime.NewRegistry()
	var deliverer notificationService.Deliverer = registry
	if cfg.Realtime.RelayEnabled {
		relay := realtime.NewRelay(registry, redisDB, redisDB.Client, cfg.Realtime.RelayChannel)
		go relay.Run(ctx)
		deliverer = relay
		logger.Info("Cross-instance relay enabled", zap.String("channel", cfg.Realtime.RelayChannel))
	}

	provider, err := push.NewProvider(ctx, cfg.Push.Provider)
	if err != nil {
		return fmt.Errorf("failed to initialize push provider: %w", err)
	}
	provider = push.WithBreaker(provider, resilience.NewBreaker("push", resilience.Config{}))
	pushSvc := push.NewService(provider, pushTokenRepo)

	var (
		offlinePush     notificationService.PushSender
		offlinePresence notificationService.PresenceChecker
	)
	if cfg.Push.Enabled {
		offlinePush = pushSvc
		offlinePresence = presenceRepo
	}

	// 4. Services
	codec, err := cipher.New(cfg.Cipher.Secret)
	if err != nil {
		return fmt.Errorf("failed to initialize message cipher: %w", err)
	}

	relationshipSvc := relationshipService.NewService(friendshipRepo, conversationRepo, groupRepo)
	dispatcher := notificationService.NewService(notificationService.Config{
		QueueSize: cfg.Realtime.QueueSize,
		Workers:   cfg.Realtime.Workers,
	}, deliverer, relationshipSvc, offlinePush, offlinePresence)
	dispatcher.Start(ctx)

	visibilitySvc := visibilityService.NewService(visibilityRepo)
	presenceSvc := presenceService.NewService(userRepo, presenceRepo, dispatcher)
	callSvc := callService.NewService(callRepo, friendshipRepo, dispatcher)
	conversationSvc := conversationService.NewService(conversationService.Dependencies{
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Groups:        groupRepo,
		Friendships:   friendshipRepo,
		Profiles:      userRepo,
		Visibility:    visibilitySvc,
		Cipher:        codec,
		Publisher:     dispatcher,
		Audit:         audit.NewLogger(redisDB.Client),
	})

	sessions := sessionService.NewService(
		jwt.NewJWTManager(cfg.JWT.Secret, constants.SessionTokenExpiry),
		sessionRepo,
		userRepo,
		cache.NewMemoryCache(cfg.SessionCache.TTL, cfg.SessionCache.MaxSize),
		cfg.SessionCache.TTL,
	)

	// 5. Handlers
	lifecycle := realtime.NewLifecycle(registry, presenceSvc)
	streamHdlr := sse.NewHandler(sessions, lifecycle, cfg.Realtime.KeepAliveInterval, constants.PushConnectionBuffer)
	wsHdlr := ws.NewHandler(sessions, lifecycle, conversationSvc, ws.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		BufferSize:     constants.PushConnectionBuffer,
	})
	chatHdlr := chatHandler.NewHandler(conversationSvc, presenceSvc, callSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	// 6. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("failed to configure trusted proxies: %w", err)
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())
	router.Use(middleware.NewTimeoutMiddleware(&middleware.TimeoutConfig{
		DefaultTimeout: cfg.Server.RequestTimeout,
		SkipPrefixes:   []string{"/v1/notifications/"},
	}).Middleware())

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Push streams authenticate themselves and accept ?token=
	notifications := router.Group("/v1/notifications")
	notifications.GET("/stream", streamHdlr.Stream)
	notifications.GET("/ws", wsHdlr.ServeWS)

	limiter := middleware.NewRateLimiter(
		middleware.NewRedisCounter(redisDB.Client),
		middleware.NewMemoryCounter(),
		cfg.Server.RateLimit,
		time.Minute,
		appMetrics,
	)

	v1 := router.Group("/v1")
	v1.Use(middleware.NewDBPoolLimiter(db.Pool, 0).Middleware())
	v1.Use(middleware.AuthMiddleware(sessions))
	chatHdlr.RegisterRoutes(v1, limiter.Middleware())
	pushHdlr.RegisterRoutes(v1)

	// 7. Serve
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Chat service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Push streams never go idle, so close them before waiting on the server
	lifecycle.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	dispatcher.Stop()
	return nil
}
