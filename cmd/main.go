package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/weiawesome/wes-io-live/dm-service/internal/cache"
	"github.com/weiawesome/wes-io-live/dm-service/internal/config"
	"github.com/weiawesome/wes-io-live/dm-service/internal/directory"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/handler"
	"github.com/weiawesome/wes-io-live/dm-service/internal/hub"
	"github.com/weiawesome/wes-io-live/dm-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/dm-service/internal/lock"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/registry"
	"github.com/weiawesome/wes-io-live/dm-service/internal/relay"
	"github.com/weiawesome/wes-io-live/dm-service/internal/repository"
	"github.com/weiawesome/wes-io-live/dm-service/internal/service"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/response"
)

type stores struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	users         directory.UserDirectory
	posts         directory.PostDirectory

	// Set for SQL backends only.
	ping  func(context.Context) error
	close func() error
}

func main() {
	// Load configuration
	cfg, err := config.LoadAndWatch(func(next *config.Config) {
		pkglog.SetLevel(next.Log.Level)
	})
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	logger := pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "dm-service"})

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Str("instance_id", instanceID).Msg("starting dm-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stores")
	}
	if st.close != nil {
		defer func() {
			if err := st.close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close database")
			}
		}()
	}

	users, err := directory.NewCachedUserDirectory(st.users, cfg.Directory.CacheSize, cfg.Directory.CacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create user directory cache")
	}

	// Redis backs presence mirroring, the history cache, the pair lock and the relay.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pubsub.NewClient(pubsub.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     pubsub.DefaultConfig().PoolSize,
			ReadTimeout:  pubsub.DefaultConfig().ReadTimeout,
			WriteTimeout: pubsub.DefaultConfig().WriteTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	var historyStore cache.MessageCache = cache.NewNoopMessageCache()
	if cfg.Cache.Enabled && redisClient != nil {
		historyStore = cache.NewRedisMessageCache(redisClient, cfg.Cache.Prefix)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Driver == "redis" && redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.Prefix, cfg.Lock.Expiry)
	}

	var producer kafka.EventProducer = kafka.NewNoopProducer()
	if cfg.Kafka.Enabled {
		cp, err := kafka.NewConfluentProducer(kafka.ProducerConfig{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		producer = cp
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn().Err(err).Msg("kafka producer closed with pending events")
		}
	}()

	// Services
	conversationSvc, err := service.NewConversationService(st.conversations, users, locker, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create conversation service")
	}
	history := service.NewHistoryCache(historyStore, cfg.Cache.TTL)
	messageSvc := service.NewMessageService(conversationSvc, st.messages, st.posts, users, history, producer)
	reactionSvc := service.NewReactionService(conversationSvc, st.messages, history, producer)

	opts := service.DeliveryOptions{TypingWindow: cfg.Typing.Window}
	var httpAuth gin.HandlerFunc
	if cfg.Auth.Enabled {
		manager, err := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create token validator")
		}
		opts.Tokens = manager
		httpAuth = middleware.NewAuthMiddleware(manager).RequireAuth()
	} else {
		logger.Warn().Msg("token checks disabled, trusting the X-User-ID header")
		httpAuth = middleware.TrustHeader()
	}
	if redisClient != nil {
		opts.Mirror = registry.NewRedisMirror(redisClient, cfg.Redis, instanceID)
		if cfg.Relay.Enabled {
			opts.Relay = relay.NewPubSubRelay(pubsub.NewRedisPubSub(redisClient), cfg.Relay.Prefix, instanceID)
		}
	}

	deliverySvc, err := service.NewDeliveryService(registry.NewMemoryRegistry(), conversationSvc, messageSvc, users, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create delivery service")
	}
	if err := deliverySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start delivery service")
	}
	defer deliverySvc.Stop()

	// Initialize Hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()
	defer wsHub.Stop()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), pkglog.GinMiddleware(logger, "/health", "/metrics"), metrics.GinMiddleware())

	router.GET("/health", func(c *gin.Context) {
		if st.ping != nil {
			pingCtx, pingCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer pingCancel()
			if err := st.ping(pingCtx); err != nil {
				response.ServiceUnavailable(c, "database unreachable", gin.H{"status": "degraded", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": wsHub.ClientCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewHTTPHandler(conversationSvc, messageSvc, reactionSvc, deliverySvc, httpAuth).RegisterRoutes(router)
	handler.NewWSHandler(wsHub, deliverySvc, cfg.WebSocket, cfg.Server.AllowedOrigins).RegisterRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.UserIDHeader, "X-Request-ID"},
		AllowCredentials: true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     corsHandler.Handler(router),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Msg("dm-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down dm-service")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("dm-service stopped")
}

// openStores connects the configured persistence backend.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == "dynamodb" {
		client, err := repository.NewDynamoClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		dir := directory.NewDynamoDirectory(client, cfg.Directory.UsersTable, cfg.Directory.PostsTable)
		return &stores{
			conversations: repository.NewDynamoConversationRepository(client, cfg.DynamoDB.Table),
			messages:      repository.NewDynamoMessageRepository(client, cfg.DynamoDB.Table),
			users:         dir,
			posts:         dir,
		}, nil
	}

	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
		SlowThreshold:   cfg.Database.SlowThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.AutoMigrate(db, &domain.ConversationModel{}, &domain.MessageModel{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}
	l := pkglog.L()
	l.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	dir := directory.NewGormDirectory(db, cfg.Directory.UsersTable, cfg.Directory.PostsTable)
	return &stores{
		conversations: repository.NewGormConversationRepository(db),
		messages:      repository.NewGormMessageRepository(db),
		users:         dir,
		posts:         dir,
		ping:          func(ctx context.Context) error { return database.Ping(ctx, db) },
		close:         func() error { return database.Close(db) },
	}, nil
}
