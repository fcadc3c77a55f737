package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	FeedFirestore = "firestore"
	FeedPostgres  = "postgres"
	FeedRedis     = "redis"
	FeedMemory    = "memory"

	TransportFCM      = "fcm"
	TransportRabbitMQ = "rabbitmq"
)

type Config struct {

	// Application configuration
	AppConfig struct {
		Port            int           `envconfig:"PORT" default:"3000"`
		Address         string        `envconfig:"ADDRESS"`
		LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
		ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	}

	// Firebase credentials. The raw JSON takes precedence over the key file.
	FirebaseConfig struct {
		ServiceAccountJSON string          `envconfig:"FIREBASE_SERVICE_ACCOUNT"`
		ServiceAccountFile string          `envconfig:"FIREBASE_SERVICE_ACCOUNT_FILE" default:"serviceAccountKey.json"`
		ServiceAccount     *ServiceAccount `ignored:"true"`
	}

	// Change feed configuration
	FeedConfig struct {
		Driver              string        `envconfig:"FEED_DRIVER" default:"firestore"`
		Collections         []string      `envconfig:"WATCHED_COLLECTIONS" default:"events,bulletins"`
		ResubscribeDelay    time.Duration `envconfig:"FEED_RESUBSCRIBE_DELAY" default:"5s"`
		SkipInitialSnapshot bool          `envconfig:"FIRESTORE_SKIP_INITIAL_SNAPSHOT" default:"true"`
		RedisChannelPrefix  string        `envconfig:"REDIS_CHANNEL_PREFIX" default:"anam.changes."`
	}

	// Push transport configuration
	TransportConfig struct {
		Driver string `envconfig:"TRANSPORT_DRIVER" default:"fcm"`
	}

	// Database configuration, used by the postgres feed
	DatabaseConfig struct {
		DatabaseHost                      string `envconfig:"DB_HOST" default:"localhost"`
		DatabaseUser                      string `envconfig:"DB_USER"`
		DatabasePassword                  string `envconfig:"DB_PASSWORD"`
		DatabaseName                      string `envconfig:"DB_NAME"`
		DatabasePort                      int32  `envconfig:"DB_PORT" default:"5432"`
		DatabasePoolMaxConnections        int32  `envconfig:"DB_MAX_CON" default:"4"`
		DatabasePoolMinConnections        int32  `envconfig:"DB_POOL_MIN_CON" default:"1"`
		DatabasePoolMaxConnectionLifetime int    `envconfig:"DB_POOL_MAX_LIFETIME" default:"1"`
	}

	// Redis configuration, used by the redis feed
	RedisConfig struct {
		URL string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	}

	// RabbitMQ configuration, used by the rabbitmq transport
	RabbitMQConfig struct {
		RabbitMQUser    string `envconfig:"RABBITMQ_USER"`
		RabbitMQPass    string `envconfig:"RABBITMQ_PASSWORD"`
		RabbitMQAddress string `envconfig:"RABBITMQ_ADDRESS" default:"localhost"`
		RabbitMQPort    int    `envconfig:"RABBITMQ_PORT" default:"5672"`
		Exchange        string `envconfig:"RABBITMQ_EXCHANGE" default:"gossip-monger.exchange"`
		RoutingKey      string `envconfig:"RABBITMQ_ROUTING_KEY" default:"gossip-monger.notification.requested"`
	}
}

// The LoadConfig function loads the env file if present and returns
// a validated configuration object ready for use. When a Firebase backed
// driver is selected the service account is resolved here, so a missing or
// malformed credential fails before anything is started.
func LoadConfig() (*Config, error) {
	cfg := Config{}

	// A missing .env file is fine, the environment may already be populated.
	_ = godotenv.Load()

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.ResolveCredentials(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveCredentials makes sure a valid service account is available when a
// Firebase backed driver is selected. A pre-parsed ServiceAccount set by the
// caller is validated and kept; otherwise it is loaded from the environment
// or the key file.
func (c *Config) ResolveCredentials() error {
	if !c.NeedsFirebase() {
		return nil
	}

	if sa := c.FirebaseConfig.ServiceAccount; sa != nil {
		return sa.Validate()
	}

	sa, err := c.loadServiceAccount()
	if err != nil {
		return err
	}
	c.FirebaseConfig.ServiceAccount = sa
	return nil
}

// Validate checks driver names and watched collections.
func (c *Config) Validate() error {
	switch c.FeedConfig.Driver {
	case FeedFirestore, FeedPostgres, FeedRedis, FeedMemory:
	default:
		return fmt.Errorf("unsupported FEED_DRIVER %q", c.FeedConfig.Driver)
	}

	switch c.TransportConfig.Driver {
	case TransportFCM, TransportRabbitMQ:
	default:
		return fmt.Errorf("unsupported TRANSPORT_DRIVER %q", c.TransportConfig.Driver)
	}

	if len(c.FeedConfig.Collections) == 0 {
		return errors.New("WATCHED_COLLECTIONS must name at least one collection")
	}
	for i, col := range c.FeedConfig.Collections {
		c.FeedConfig.Collections[i] = strings.TrimSpace(col)
	}

	if c.AppConfig.Port <= 0 || c.AppConfig.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.AppConfig.Port)
	}
	return nil
}

// NeedsFirebase reports whether any selected driver talks to Firebase.
func (c *Config) NeedsFirebase() bool {
	return c.FeedConfig.Driver == FeedFirestore || c.TransportConfig.Driver == TransportFCM
}

func (c *Config) loadServiceAccount() (*ServiceAccount, error) {
	if raw := c.FirebaseConfig.ServiceAccountJSON; raw != "" {
		sa, err := ParseServiceAccount([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse FIREBASE_SERVICE_ACCOUNT: %w", err)
		}
		sa.Source = "environment"
		return sa, nil
	}

	path := c.FirebaseConfig.ServiceAccountFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("service account key %s not found, set FIREBASE_SERVICE_ACCOUNT or provide the file: %w", path, err)
	}
	sa, err := ParseServiceAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	sa.Source = path
	return sa, nil
}

// LogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.AppConfig.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
