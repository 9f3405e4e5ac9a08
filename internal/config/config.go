package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	DefaultMaxMessageSize = 64 << 10
)

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	// Addr enables the presence mirror when set.
	Addr string `yaml:"addr"`
}

// SeedAccount is loaded into the memory store on startup.
type SeedAccount struct {
	Username string `yaml:"username"`
	Nickname string `yaml:"nickname"`
	Blocked  bool   `yaml:"blocked"`
}

type Config struct {
	ServerAddr          string        `yaml:"server_addr"`
	Store               string        `yaml:"store"`
	DatabaseDSN         string        `yaml:"database_dsn"`
	Mongo               MongoConfig   `yaml:"mongo"`
	Redis               RedisConfig   `yaml:"redis"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`
	AnnounceConnections bool          `yaml:"announce_connections"`
	RejectInactive      bool          `yaml:"reject_inactive"`
	// MaxMessageSize bounds one inbound frame in bytes. Larger frames are
	// discarded with a notice and the connection stays open.
	MaxMessageSize      int64         `yaml:"max_message_size"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	SeedAccounts        []SeedAccount `yaml:"seed_accounts"`
}

func Default() *Config {
	return &Config{
		ServerAddr:          "localhost:8000",
		Store:               StoreMemory,
		Mongo:               MongoConfig{Database: "chat"},
		AnnounceConnections: true,
		MaxMessageSize:      DefaultMaxMessageSize,
		LogLevel:            "info",
		LogFormat:           LogFormatConsole,
	}
}

// LoadFile reads path over the defaults. Keys missing from the file keep
// their default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo URI cannot be empty")
		}
		if c.Mongo.Database == "" {
			return fmt.Errorf("mongo database cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	for i, acct := range c.SeedAccounts {
		if acct.Username == "" {
			return fmt.Errorf("seed account %d has no username", i)
		}
	}

	return nil
}

// Level parses the configured log level.
func (c *Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
