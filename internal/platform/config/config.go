// Package config loads process configuration from the environment and the
// versioned policy file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	JWTSigningKey   string
	ShutdownTimeout time.Duration
	// Storage selects "postgres" or "memory" backends.
	Storage    string
	PolicyPath string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Booking  BookingConfig
	Workers  WorkerConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	Partitions int32
	Replicas   int16
}

type BookingConfig struct {
	// BaseURL of the booking service. Empty uses the in-memory directory.
	BaseURL string
	// Token is sent as a bearer credential to the booking service.
	Token   string
	Timeout time.Duration
}

type WorkerConfig struct {
	SweepSchedule string
	RelaySchedule string
}

const defaultJWTKey = "dev-secret-key-change-in-production"

// Load reads an optional .env file, then builds Server from the environment.
func Load() (Server, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            getEnv("BADAL_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", defaultJWTKey),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Storage:         getEnv("STORAGE_BACKEND", "memory"),
		PolicyPath:      os.Getenv("POLICY_FILE"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "badal.audit"),
			Partitions: int32(getInt("KAFKA_AUDIT_PARTITIONS", 3)),
			Replicas:   int16(getInt("KAFKA_AUDIT_REPLICAS", 1)),
		},
		Booking: BookingConfig{
			BaseURL: os.Getenv("BOOKING_SERVICE_URL"),
			Token:   os.Getenv("BOOKING_SERVICE_TOKEN"),
			Timeout: getDuration("BOOKING_SERVICE_TIMEOUT", 3*time.Second),
		},
		Workers: WorkerConfig{
			SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 10m"),
			RelaySchedule: getEnv("OUTBOX_RELAY_SCHEDULE", "@every 5s"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) validate() error {
	switch c.Storage {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage)
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return nil
}

// UsingDefaultJWTKey reports whether the development signing key is active.
func (c Server) UsingDefaultJWTKey() bool {
	return c.JWTSigningKey == defaultJWTKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
