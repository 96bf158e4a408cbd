// Package config loads vestingd settings from a YAML file with environment
// overrides. A missing file yields defaults, so a deployment can run on
// environment variables alone.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/shared"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ValidStoreDrivers lists the supported ledger backends.
var ValidStoreDrivers = []string{StoreMemory, StoreSQLite, StorePostgres, StoreRedis}

type Config struct {
	Network   string          `yaml:"network"`
	Operator  OperatorConfig  `yaml:"operator"`
	Token     TokenConfig     `yaml:"token"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type OperatorConfig struct {
	AccountID  string `yaml:"account_id"`
	PrivateKey string `yaml:"private_key"`
}

type TokenConfig struct {
	TokenID           string `yaml:"token_id"`
	VaultAccountID    string `yaml:"vault_account_id"`
	RecoveryAccountID string `yaml:"recovery_account_id"`
}

type MirrorConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type StoreConfig struct {
	Driver      string        `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	RedisURL    string        `yaml:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type APIConfig struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AuditConfig struct {
	TopicID        string   `yaml:"topic_id"`
	SignerKey      string   `yaml:"signer_key"`
	Compress       bool     `yaml:"compress"`
	TrustedSigners []string `yaml:"trusted_signers"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Network: shared.NetworkTestnet,
		Store: StoreConfig{
			Driver:      StoreSQLite,
			SQLitePath:  filepath.Join(".vesting", "ledger.db"),
			RedisPrefix: "vesting",
			LockTTL:     30 * time.Second,
			LockTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Listen:         ":8080",
			RequestTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Compress: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "vestingd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	shared.LoadDotEnv()
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Network, "VESTING_NETWORK", "HEDERA_NETWORK")
	setString(&c.Operator.AccountID, "VESTING_OPERATOR_ID", "HEDERA_ACCOUNT_ID", "HEDERA_OPERATOR_ID")
	setString(&c.Operator.PrivateKey, "VESTING_OPERATOR_KEY", "HEDERA_PRIVATE_KEY", "HEDERA_OPERATOR_KEY")
	setString(&c.Token.TokenID, "VESTING_TOKEN_ID")
	setString(&c.Token.VaultAccountID, "VESTING_VAULT_ACCOUNT_ID")
	setString(&c.Token.RecoveryAccountID, "VESTING_RECOVERY_ACCOUNT_ID")
	setString(&c.Mirror.BaseURL, "VESTING_MIRROR_URL")
	setString(&c.Mirror.APIKey, "VESTING_MIRROR_API_KEY")
	setString(&c.Store.Driver, "VESTING_STORE_DRIVER")
	setString(&c.Store.SQLitePath, "VESTING_SQLITE_PATH")
	setString(&c.Store.PostgresDSN, "VESTING_POSTGRES_DSN")
	setString(&c.Store.RedisURL, "VESTING_REDIS_URL")
	setString(&c.API.Listen, "VESTING_API_LISTEN")
	setString(&c.Audit.TopicID, "VESTING_AUDIT_TOPIC_ID")
	setString(&c.Audit.SignerKey, "VESTING_AUDIT_SIGNER_KEY")
	setString(&c.Telemetry.OTLPEndpoint, "VESTING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Logging.Level, "VESTING_LOG_LEVEL")

	if raw := strings.TrimSpace(os.Getenv("VESTING_AUDIT_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid VESTING_AUDIT_COMPRESS: %w", err)
		}
		c.Audit.Compress = value
	}
	if raw := strings.TrimSpace(os.Getenv("VESTING_AUDIT_TRUSTED_SIGNERS")); raw != "" {
		c.Audit.TrustedSigners = splitList(raw)
	}
	return nil
}

// Validate normalises the network and store driver and checks that the
// selected store has its connection settings.
func (c *Config) Validate() error {
	network, err := shared.NormalizeNetwork(c.Network)
	if err != nil {
		return err
	}
	c.Network = network

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	case StoreRedis:
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %q (valid: %v)", c.Store.Driver, ValidStoreDrivers)
	}

	if c.Audit.TopicID != "" && !shared.IsEntityID(c.Audit.TopicID) {
		return fmt.Errorf("invalid audit.topic_id %q", c.Audit.TopicID)
	}
	return nil
}

// HasOperator reports whether transfer credentials are configured.
func (c *Config) HasOperator() bool {
	return strings.TrimSpace(c.Operator.AccountID) != "" && strings.TrimSpace(c.Operator.PrivateKey) != ""
}

// VaultAccountID falls back to the operator account.
func (c *Config) VaultAccountID() string {
	if vault := strings.TrimSpace(c.Token.VaultAccountID); vault != "" {
		return vault
	}
	return strings.TrimSpace(c.Operator.AccountID)
}

func setString(target *string, keys ...string) {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
			return
		}
	}
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
