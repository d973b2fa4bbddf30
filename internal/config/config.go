package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the campaign dispatcher.
type Config struct {
	App       AppConfig
	DB        DBConfig
	AMQP      AMQPConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Addr     string
	LogLevel string
}

// DBConfig holds the Postgres connection parameters.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the connection parameters as a lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// AMQPConfig holds the broker URL. An empty URL means the in-memory queue is
// used and all stages run in one process.
type AMQPConfig struct {
	URL string
}

// DispatchConfig controls the two worker pools and their throttles.
type DispatchConfig struct {
	ProcessorConcurrency int
	WorkerConcurrency    int
	RatePerWindow        int
	RateWindow           time.Duration
	JitterMin            time.Duration
	JitterMax            time.Duration
	MaxAttempts          int
	RetryBase            time.Duration
	MockFailureRate      float64
}

// SchedulerConfig controls the backup reconciliation poller.
type SchedulerConfig struct {
	PollInterval time.Duration
}

// Load reads configuration from the environment, layering a local .env file if
// one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Env:      getString("APP_ENV", "development"),
			Addr:     getString("HTTP_ADDR", ":8080"),
			LogLevel: getString("LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			Host:     getString("DB_HOST", "localhost"),
			Port:     getString("DB_PORT", "5432"),
			User:     getString("DB_USER", "postgres"),
			Password: getString("DB_PASSWORD", "postgres"),
			Name:     getString("DB_NAME", "convoreach"),
			SSLMode:  getString("DB_SSLMODE", "disable"),
		},
		AMQP: AMQPConfig{
			URL: getString("AMQP_URL", ""),
		},
		Dispatch: DispatchConfig{
			ProcessorConcurrency: getInt("PROCESSOR_CONCURRENCY", 2),
			WorkerConcurrency:    getInt("DISPATCH_CONCURRENCY", 5),
			RatePerWindow:        getInt("DISPATCH_RATE_LIMIT", 20),
			RateWindow:           getDuration("DISPATCH_RATE_WINDOW", time.Minute),
			JitterMin:            getDuration("DISPATCH_JITTER_MIN", 3*time.Second),
			JitterMax:            getDuration("DISPATCH_JITTER_MAX", 8*time.Second),
			MaxAttempts:          getInt("DISPATCH_MAX_ATTEMPTS", 3),
			RetryBase:            getDuration("DISPATCH_RETRY_BASE", 5*time.Second),
			MockFailureRate:      getFloat("MOCK_FAILURE_RATE", 0.1),
		},
		Scheduler: SchedulerConfig{
			PollInterval: getDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
		},
	}

	if cfg.Dispatch.JitterMax < cfg.Dispatch.JitterMin {
		return nil, fmt.Errorf("config: DISPATCH_JITTER_MAX (%s) is below DISPATCH_JITTER_MIN (%s)",
			cfg.Dispatch.JitterMax, cfg.Dispatch.JitterMin)
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
