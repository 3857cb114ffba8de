package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "inventory-engine"
	ServiceVersion = "0.1.0"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"

	NotifierLog   = "log"
	NotifierRedis = "redis"
	NotifierKafka = "kafka"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver string
	MySQLDSN    string

	Notifier     string
	RedisAddr    string
	RedisChannel string
	KafkaBrokers []string
	KafkaTopic   string

	ProcessingDelay     time.Duration
	IdleDelay           time.Duration
	MaxCommitAttempts   int
	RejectTerminalOrder bool

	LogLevel  string
	LogFormat string

	OtelEndpoint string
}

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:     getenv("GRPC_ADDR", ":50051"),
		StoreDriver:  getenv("STORE_DRIVER", StoreMemory),
		MySQLDSN:     getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory"),
		Notifier:     getenv("NOTIFIER", NotifierLog),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		RedisChannel: getenv("REDIS_CHANNEL", "order-notifications"),
		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "order-notifications"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
		OtelEndpoint: os.Getenv("OTEL_ENDPOINT"),
	}

	var err error
	if cfg.ProcessingDelay, err = durationEnv("FULFILLMENT_PROCESSING_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdleDelay, err = durationEnv("FULFILLMENT_IDLE_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxCommitAttempts, err = intEnv("COMMIT_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RejectTerminalOrder, err = boolEnv("REJECT_TERMINAL_ORDER_CHANGES", true); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreMySQL:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StoreMySQL, c.StoreDriver)
	}
	switch c.Notifier {
	case NotifierLog, NotifierRedis:
	case NotifierKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFIER=%s", NotifierKafka)
		}
	default:
		return fmt.Errorf("NOTIFIER must be one of log, redis, kafka, got %q", c.Notifier)
	}
	if c.MaxCommitAttempts < 1 {
		return fmt.Errorf("COMMIT_MAX_ATTEMPTS must be at least 1, got %d", c.MaxCommitAttempts)
	}
	if c.ProcessingDelay < 0 || c.IdleDelay < 0 {
		return fmt.Errorf("fulfillment delays must not be negative")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := getenv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitCSV(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
