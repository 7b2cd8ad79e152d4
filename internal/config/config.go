/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, and go-playground/validator to reject unusable combinations at boot.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 * - github.com/go-playground/validator/v10: struct validation.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all the configuration variables for the transfer-service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT" validate:"required"`
	AppEnv                     string `mapstructure:"APP_ENV"`
	LogLevel                   string `mapstructure:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	StoreDriver                string `mapstructure:"STORE_DRIVER" validate:"oneof=postgres mongo memory"`
	DatabaseURL                string `mapstructure:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	DBMaxConns                 int32  `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns                 int32  `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	MongoURI                   string `mapstructure:"MONGO_URI" validate:"required_if=StoreDriver mongo"`
	MongoDatabase              string `mapstructure:"MONGO_DATABASE"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	ReviewEventQueue           string `mapstructure:"REVIEW_EVENT_QUEUE"`
	JWTSecret                  string `mapstructure:"JWT_SECRET" validate:"required_without=JWKSURL"`
	JWKSURL                    string `mapstructure:"JWKS_URL" validate:"omitempty,url"`
	JWTIssuer                  string `mapstructure:"JWT_ISSUER"`
	JWTAudience                string `mapstructure:"JWT_AUDIENCE"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY" validate:"required"`
	FXRates                    string `mapstructure:"FX_RATES"`
	SettlementTimeoutMinutes   int    `mapstructure:"SETTLEMENT_TIMEOUT_MINUTES"`
	SweeperSchedule            string `mapstructure:"SWEEPER_SCHEDULE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", DriverPostgres)
	viper.SetDefault("DB_MAX_CONNS", 25)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("MONGO_DATABASE", "transfa")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "transfa:rate_limit")
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("EVENTS_EXCHANGE", "transfa.events")
	viper.SetDefault("REVIEW_EVENT_QUEUE", "transfer_service.review_decisions")
	viper.SetDefault("SETTLEMENT_TIMEOUT_MINUTES", 15)
	viper.SetDefault("SWEEPER_SCHEDULE", "@every 1m")

	// Bind explicitly so values without defaults still reach Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("MONGO_URI")
	_ = viper.BindEnv("MONGO_DATABASE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REVIEW_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRANSFER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("FX_RATES")
	_ = viper.BindEnv("SETTLEMENT_TIMEOUT_MINUTES")
	_ = viper.BindEnv("SWEEPER_SCHEDULE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = os.Getenv("TRANSFER_SERVICE_INTERNAL_API_KEY")
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.AppEnv = strings.ToLower(strings.TrimSpace(config.AppEnv))
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.MongoURI = strings.TrimSpace(config.MongoURI)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWKSURL = strings.TrimSpace(config.JWKSURL)

	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "transfa:rate_limit"
	}
	if strings.TrimSpace(config.EventsExchange) == "" {
		config.EventsExchange = "transfa.events"
	}
	if strings.TrimSpace(config.MongoDatabase) == "" {
		config.MongoDatabase = "transfa"
	}
	if config.TransferRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit; disabling limiter\" value=%d", config.TransferRateLimitPerMinute)
		config.TransferRateLimitPerMinute = 0
	}
	if config.SettlementTimeoutMinutes <= 0 {
		config.SettlementTimeoutMinutes = 15
	}
	if strings.TrimSpace(config.SweeperSchedule) == "" {
		config.SweeperSchedule = "@every 1m"
	}

	return
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects configurations the service cannot boot with.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SettlementTimeout is how long a purchase may stay PROCESSING.
func (c Config) SettlementTimeout() time.Duration {
	return time.Duration(c.SettlementTimeoutMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS. An empty value allows any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// IsDevelopment switches logging to the human-readable encoder.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "local"
}
