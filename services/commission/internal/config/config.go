package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	base "github.com/vivian5285/panda-quant/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaTopics struct {
	CommissionsRecorded  string
	SettlementsGenerated string
	SettlementsCompleted string
	WithdrawalsUpdated   string
	DeadLetter           string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type SettlementConfig struct {
	Interval         time.Duration
	BatchSize        int
	Concurrency      int
	PlatformRate     decimal.Decimal
	LockTTL          time.Duration
	RuleRefresh      time.Duration
	SchedulerEnabled bool
}

// RateLimitConfig bounds withdrawal requests per user. A zero limit disables
// throttling.
type RateLimitConfig struct {
	WithdrawalLimit  int
	WithdrawalWindow time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type Config struct {
	App        base.AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig
	Auth       AuthConfig
}

func Load() (*Config, error) {
	return LoadFrom(os.Getenv("PQ_CONFIG"))
}

// LoadFrom reads the config file at path, if any, then applies env overrides.
func LoadFrom(path string) (*Config, error) {
	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	appCfg, err := base.FromViper(v)
	if err != nil {
		return nil, err
	}

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "commission-service")
	v.SetDefault("kafka.topics.commissions_recorded", "commissions.recorded")
	v.SetDefault("kafka.topics.settlements_generated", "settlements.generated")
	v.SetDefault("kafka.topics.settlements_completed", "settlements.completed")
	v.SetDefault("kafka.topics.withdrawals_updated", "withdrawals.updated")
	v.SetDefault("kafka.topics.dead_letter", "commissions.dlq")
	v.SetDefault("settlement.interval", "1h")
	v.SetDefault("settlement.batch_size", 500)
	v.SetDefault("settlement.concurrency", 8)
	v.SetDefault("settlement.platform_rate", "0.10")
	v.SetDefault("settlement.lock_ttl", "10m")
	v.SetDefault("settlement.rule_refresh", "1m")
	v.SetDefault("settlement.scheduler_enabled", true)
	v.SetDefault("rate_limit.withdrawal_limit", 5)
	v.SetDefault("rate_limit.withdrawal_window", "1m")

	platformRate, err := decimal.NewFromString(envString("PLATFORM_RATE", v.GetString("settlement.platform_rate")))
	if err != nil {
		return nil, fmt.Errorf("settlement.platform_rate must be a decimal: %w", err)
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "panda_quant"),
			User:     envString("POSTGRES_USER", "panda"),
			Password: envString("POSTGRES_PASSWORD", "panda"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
			MaxConns: int32(envInt("POSTGRES_MAX_CONNS", 16)),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				CommissionsRecorded:  envString("KAFKA_COMMISSIONS_TOPIC", v.GetString("kafka.topics.commissions_recorded")),
				SettlementsGenerated: v.GetString("kafka.topics.settlements_generated"),
				SettlementsCompleted: v.GetString("kafka.topics.settlements_completed"),
				WithdrawalsUpdated:   v.GetString("kafka.topics.withdrawals_updated"),
				DeadLetter:           envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Settlement: SettlementConfig{
			Interval:         envDuration("SETTLEMENT_INTERVAL", v.GetDuration("settlement.interval")),
			BatchSize:        envInt("SETTLEMENT_BATCH_SIZE", v.GetInt("settlement.batch_size")),
			Concurrency:      envInt("SETTLEMENT_CONCURRENCY", v.GetInt("settlement.concurrency")),
			PlatformRate:     platformRate,
			LockTTL:          envDuration("SETTLEMENT_LOCK_TTL", v.GetDuration("settlement.lock_ttl")),
			RuleRefresh:      envDuration("RULE_CACHE_REFRESH", v.GetDuration("settlement.rule_refresh")),
			SchedulerEnabled: envBool("SETTLEMENT_SCHEDULER_ENABLED", v.GetBool("settlement.scheduler_enabled")),
		},
		RateLimit: RateLimitConfig{
			WithdrawalLimit:  envInt("WITHDRAWAL_RATE_LIMIT", v.GetInt("rate_limit.withdrawal_limit")),
			WithdrawalWindow: envDuration("WITHDRAWAL_RATE_WINDOW", v.GetDuration("rate_limit.withdrawal_window")),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Port <= 0 {
		return fmt.Errorf("POSTGRES_PORT must be positive")
	}
	if c.Settlement.BatchSize <= 0 {
		return fmt.Errorf("settlement batch size must be positive")
	}
	if c.Settlement.Concurrency <= 0 {
		return fmt.Errorf("settlement concurrency must be positive")
	}
	if c.Settlement.PlatformRate.IsNegative() || c.Settlement.PlatformRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("settlement platform rate must be within [0, 1]")
	}
	if c.Settlement.SchedulerEnabled && c.Settlement.Interval <= 0 {
		return fmt.Errorf("settlement interval must be positive")
	}
	if c.RateLimit.WithdrawalLimit > 0 && c.RateLimit.WithdrawalWindow <= 0 {
		return fmt.Errorf("withdrawal rate window must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.CommissionsRecorded == "" {
			return fmt.Errorf("kafka commissions topic required")
		}
	}
	if c.App.Env != "dev" && c.App.Env != "test" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside dev")
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret-change-me"
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
