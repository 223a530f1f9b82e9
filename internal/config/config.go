// Package config handles configuration loading for the gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - gateway: local identity and message id policy
//   - pmode: path to the exchange configuration file
//   - storage: backend selection (mongodb, postgres, memory) and settings
//   - sender: push delivery tuning
//   - pull: pull scheduling and backoff tuning
//
// # Example Configuration
//
//	gateway:
//	  party: blue_gw
//	  messageIdSuffix: blue.example.com
//
//	pmode:
//	  file: /etc/gateway/pmodes.yaml
//
//	storage:
//	  type: postgres
//	  postgres:
//	    connString: ${DATABASE_URL}
//	    claimMode: nowait
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	PMode   PModeConfig   `yaml:"pmode"`
	Storage StorageConfig `yaml:"storage"`
	Sender  SenderConfig  `yaml:"sender"`
	Pull    PullConfig    `yaml:"pull"`
}

// GatewayConfig holds the local gateway identity and id policy
type GatewayConfig struct {
	// Party is the local party name; it must match a party in the
	// exchange configuration.
	Party string `yaml:"party"`
	// MessageIDSuffix is appended to generated message ids after an "@".
	MessageIDSuffix string `yaml:"messageIdSuffix"`
	// MessageIDPattern validates submitted message ids. Defaults to
	// printable US-ASCII.
	MessageIDPattern string `yaml:"messageIdPattern"`
}

// PModeConfig locates the exchange configuration
type PModeConfig struct {
	File string `yaml:"file"`
}

// StorageConfig holds backend selection and settings
type StorageConfig struct {
	// Type selects the backend: mongodb, postgres or memory.
	Type     string         `yaml:"type"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	ConnString string `yaml:"connString"`
	// ClaimMode selects FOR UPDATE behavior on contended locks:
	// wait, nowait or skip_locked.
	ClaimMode string `yaml:"claimMode"`
}

// SenderConfig holds push delivery tuning
type SenderConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
}

// PullConfig holds pull scheduling and backoff tuning
type PullConfig struct {
	// Interval is the base pull frequency per partition channel.
	Interval time.Duration `yaml:"interval"`
	// MaxBackoff caps the per-channel backoff after connection failures.
	MaxBackoff time.Duration `yaml:"maxBackoff"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "as4gateway"
	}
	if c.Storage.Postgres.ClaimMode == "" {
		c.Storage.Postgres.ClaimMode = "wait"
	}
	if c.Sender.PollInterval == 0 {
		c.Sender.PollInterval = 10 * time.Second
	}
	if c.Sender.BatchSize == 0 {
		c.Sender.BatchSize = 10
	}
	if c.Sender.HTTPTimeout == 0 {
		c.Sender.HTTPTimeout = 60 * time.Second
	}
	if c.Pull.Interval == 0 {
		c.Pull.Interval = 5 * time.Second
	}
	if c.Pull.MaxBackoff == 0 {
		c.Pull.MaxBackoff = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Gateway.Party == "" {
		return fmt.Errorf("gateway.party is required")
	}
	if c.PMode.File == "" {
		return fmt.Errorf("pmode.file is required")
	}

	switch c.Storage.Type {
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required")
		}
	case "postgres":
		if c.Storage.Postgres.ConnString == "" {
			return fmt.Errorf("storage.postgres.connString is required")
		}
		switch c.Storage.Postgres.ClaimMode {
		case "wait", "nowait", "skip_locked":
		default:
			return fmt.Errorf("storage.postgres.claimMode must be 'wait', 'nowait' or 'skip_locked', got '%s'", c.Storage.Postgres.ClaimMode)
		}
	case "memory":
		// Valid, nothing to check
	default:
		return fmt.Errorf("storage.type must be 'mongodb', 'postgres' or 'memory', got '%s'", c.Storage.Type)
	}

	return nil
}
