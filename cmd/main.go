/**
 * @description
 * Entry point for the transfer-service. It loads configuration, opens the
 * selected store, connects the optional Redis limiter and RabbitMQ
 * publisher/consumer, starts the settlement sweeper and serves HTTP until a
 * shutdown signal arrives.
 *
 * @dependencies
 * - github.com/joho/godotenv: local .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL pool.
 * - go.mongodb.org/mongo-driver: MongoDB client.
 * - github.com/redis/go-redis/v9: rate limiter backend.
 * - go.uber.org/zap: structured logging.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/transfer-service/internal/api"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/config"
	"github.com/transfa/transfer-service/internal/fees"
	"github.com/transfa/transfer-service/internal/logging"
	"github.com/transfa/transfer-service/internal/store"
	rmrabbit "github.com/transfa/transfer-service/pkg/rabbitmq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Info("no .env file loaded; using process environment", zap.String("component", "bootstrap"))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.String("component", "bootstrap"), zap.Error(err))
	}
	logger.Info("starting transfer-service",
		zap.String("component", "bootstrap"),
		zap.String("port", cfg.ServerPort),
		zap.String("store", cfg.StoreDriver),
	)

	repository, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.String("component", "bootstrap"), zap.Error(err))
	}
	defer closeStore()

	overrides, err := fees.ParseRates(cfg.FXRates)
	if err != nil {
		logger.Fatal("fx rate table invalid", zap.String("component", "bootstrap"), zap.Error(err))
	}

	var publisher rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", zap.String("component", "bootstrap"), zap.Error(err))
		publisher = &rmrabbit.EventProducerFallback{Logger: logger}
	} else {
		publisher = rmrabbit.NewBreakerPublisher(producer, rmrabbit.DefaultBreakerSettings(), logger)
		logger.Info("rabbitmq producer connected", zap.String("component", "bootstrap"))
	}
	defer publisher.Close()

	transferService := app.NewService(
		repository,
		fees.NewCalculator(overrides),
		app.WithPublisher(publisher, cfg.EventsExchange),
		app.WithLogger(logger),
	)

	var limiter api.RateLimiter
	if redisClient := connectRedis(cfg, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.TransferRateLimitPerMinute, time.Minute)
	}

	// The review-decision consumer is optional: without a broker, staff
	// decisions cannot arrive but the HTTP surface still works.
	if consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq consumer unavailable; review decisions disabled", zap.String("component", "bootstrap"), zap.Error(err))
	} else {
		defer consumer.Close()
		reviews := app.NewReviewDecisionConsumer(transferService, logger)
		if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ReviewEventQueue, reviews.Bindings()); err != nil {
			logger.Fatal("review consumer start failed", zap.String("component", "bootstrap"), zap.Error(err))
		}
	}

	sweeper := app.NewSettlementSweeper(transferService, cfg.SweeperSchedule, cfg.SettlementTimeout(), logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("settlement sweeper start failed", zap.String("component", "bootstrap"), zap.Error(err))
	}

	handlers := api.NewHandlers(transferService, logger)
	router := api.Routes(handlers, api.RouterConfig{
		Auth: api.NewAuthenticator(api.AuthConfig{
			Secret:   cfg.JWTSecret,
			JWKSURL:  cfg.JWKSURL,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}, logger),
		InternalAPIKey: cfg.InternalAPIKey,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("component", "http"), zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped unexpectedly", zap.String("component", "http"), zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", zap.String("component", "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sweeper.Stop(ctx)
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.String("component", "http"), zap.Error(err))
	}
	logger.Info("shutdown complete", zap.String("component", "http"))
}

// openStore builds the configured repository and returns a function that
// releases its connections.
func openStore(cfg config.Config, logger *zap.Logger) (store.Repository, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database url: %w", err)
		}
		poolConfig.MaxConns = cfg.DBMaxConns
		poolConfig.MinConns = cfg.DBMinConns
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("database connected", zap.String("component", "bootstrap"))
		return store.NewPostgresRepository(pool), pool.Close, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closeClient := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		repo := store.NewMongoRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		logger.Info("mongo connected", zap.String("component", "bootstrap"), zap.String("database", cfg.MongoDatabase))
		return repo, closeClient, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart", zap.String("component", "bootstrap"))
		return store.NewMemoryRepository(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// connectRedis returns nil when rate limiting is disabled or Redis is
// unreachable; the limiter then lets every request through.
func connectRedis(cfg config.Config, logger *zap.Logger) *redis.Client {
	if cfg.TransferRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; transfer rate limiting disabled", zap.String("component", "bootstrap"))
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; transfer rate limiting disabled", zap.String("component", "bootstrap"), zap.Error(err))
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; transfer rate limiting disabled", zap.String("component", "bootstrap"), zap.Error(err))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", zap.String("component", "bootstrap"))
	return client
}
