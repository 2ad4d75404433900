package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderDiscord = "discord"
	ProviderMemory  = "memory"
)

// Config is the process configuration read from the environment.
type Config struct {
	Environment string
	DBDSN       string
	HTTPAddr    string
	JWTSecret   string
	CORSOrigins []string

	ChannelProvider   string
	DiscordToken      string
	DiscordGuildID    string
	DiscordCategoryID string
	ProviderTimeout   time.Duration

	RelayPollInterval time.Duration
	RelayFetchLimit   int
	ReminderInterval  time.Duration

	TelegramToken string

	RedisAddr     string
	SendRateLimit int64

	KafkaBrokers string
	KafkaTopic   string

	OTLPEndpoint string
}

// Load reads the environment, after an optional .env file, and validates it.
func Load() (*Config, error) {
	// .env is optional; real deployments pass variables directly
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	return FromEnv()
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Environment:       getEnv("ENV", "development"),
		DBDSN:             os.Getenv("DB_DSN"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		ChannelProvider:   strings.ToLower(getEnv("CHANNEL_PROVIDER", ProviderMemory)),
		DiscordToken:      os.Getenv("DISCORD_TOKEN"),
		DiscordGuildID:    os.Getenv("DISCORD_GUILD_ID"),
		DiscordCategoryID: os.Getenv("DISCORD_CATEGORY_ID"),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "community.events"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RelayPollInterval, err = getDuration("RELAY_POLL_INTERVAL", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReminderInterval, err = getDuration("REMINDER_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RelayFetchLimit, err = getInt("RELAY_FETCH_LIMIT", 50); err != nil {
		return nil, err
	}
	limit, err := getInt("SEND_RATE_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	cfg.SendRateLimit = int64(limit)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required but not set")
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		c.JWTSecret = "dev-secret"
	}

	switch c.ChannelProvider {
	case ProviderMemory:
		if c.IsProduction() {
			return fmt.Errorf("CHANNEL_PROVIDER=memory is not allowed in production")
		}
	case ProviderDiscord:
		if c.DiscordToken == "" || c.DiscordGuildID == "" {
			return fmt.Errorf("DISCORD_TOKEN and DISCORD_GUILD_ID are required for the discord provider")
		}
	default:
		return fmt.Errorf("unknown CHANNEL_PROVIDER %q", c.ChannelProvider)
	}

	if c.RelayPollInterval < time.Second {
		return fmt.Errorf("RELAY_POLL_INTERVAL must be at least 1s")
	}
	if c.ReminderInterval < time.Second {
		return fmt.Errorf("REMINDER_INTERVAL must be at least 1s")
	}
	if c.SendRateLimit <= 0 {
		return fmt.Errorf("SEND_RATE_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
