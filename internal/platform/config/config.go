// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string

	// DatabaseURL selects the PostgreSQL-backed store; empty means in-memory.
	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig

	// LedgerLatency is the simulated confirmation latency of the in-memory
	// ledger, for local development.
	LedgerLatency time.Duration

	// AwaitTimeout bounds each ledger confirmation wait.
	AwaitTimeout time.Duration
}

// RedisConfig configures the shared pending-handle store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the confirmed-fact event stream.
type KafkaConfig struct {
	Seeds []string
	Topic string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("LANDLEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - override in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "landledger.facts"
	}
	var seeds []string
	if raw := os.Getenv("KAFKA_SEEDS"); raw != "" {
		seeds = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Seeds: seeds,
			Topic: topic,
		},
		LedgerLatency: durationFromEnv("LEDGER_LATENCY", 0),
		AwaitTimeout:  durationFromEnv("LEDGER_AWAIT_TIMEOUT", 30*time.Second),
	}
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
