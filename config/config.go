// Package config loads the engine configuration: infrastructure settings
// from environment variables and bot definitions from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Broker modes.
const (
	BrokerPaper = "paper"
)

// Config holds all application configuration.
type Config struct {
	// Infrastructure
	MetricsAddr   string
	SQLitePath    string // candle history, read by the replay tool
	JournalPath   string // trade journal; empty disables it
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string
	RedisDB       int
	PostgresDSN   string // empty disables the Postgres sink
	LogLevel      string
	BrokerMode    string

	// Notifications
	WebhookURL     string
	TelegramToken  string
	TelegramChatID string

	HealthInterval time.Duration

	BotsFile string
	Bots     *BotsFile
}

// Load reads configuration from environment variables with sensible
// defaults, then the bot file named by BOTS_FILE.
func Load() (*Config, error) {
	c := &Config{
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("PG_DSN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BrokerMode:    getEnv("BROKER_MODE", BrokerPaper),

		WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		HealthInterval: getEnvDuration("HEALTH_INTERVAL", 15*time.Second),

		BotsFile: getEnv("BOTS_FILE", "bots.yaml"),
	}
	if c.TelegramToken != "" {
		c.TelegramChatID = mustEnv("TELEGRAM_CHAT_ID")
	}

	bots, err := LoadBots(c.BotsFile)
	if err != nil {
		return nil, err
	}
	c.Bots = bots
	return c, nil
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BrokerMode != BrokerPaper {
		errs = append(errs, fmt.Errorf("config: BROKER_MODE %q not supported (only %q)", c.BrokerMode, BrokerPaper))
	}
	if c.MetricsAddr == "" {
		errs = append(errs, errors.New("config: METRICS_ADDR is empty"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: HEALTH_INTERVAL %s must be > 0", c.HealthInterval))
	}
	if c.Bots == nil {
		errs = append(errs, errors.New("config: no bot file loaded"))
	} else if err := c.Bots.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
