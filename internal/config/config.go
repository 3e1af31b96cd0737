// Package config provides configuration loading for popdeploy.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/deployment"
	"github.com/Bidon15/popdeploy/internal/registry"
	"github.com/Bidon15/popdeploy/internal/retry"
)

// Signer types.
const (
	SignerLocal  = "local"
	SignerDev    = "dev"
	SignerRemote = "remote"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Networks   []NetworkConfig  `mapstructure:"networks" validate:"dive"`
}

// ServerConfig holds the read-only API server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// RegistryConfig selects where deployment records live.
type RegistryConfig struct {
	Backend  string                 `mapstructure:"backend" validate:"oneof=file postgres redis"`
	Path     string                 `mapstructure:"path" validate:"required_if=Backend file"`
	Postgres PostgresRegistryConfig `mapstructure:"postgres"`
	Redis    RedisRegistryConfig    `mapstructure:"redis"`
}

// PostgresRegistryConfig holds PostgreSQL registry settings.
type PostgresRegistryConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisRegistryConfig holds Redis registry settings.
type RedisRegistryConfig struct {
	URL        string `mapstructure:"url"`
	Prefix     string `mapstructure:"prefix"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// Open returns the registry.Config for the configured backend.
func (c RegistryConfig) Open() registry.Config {
	return registry.Config{
		Backend: c.Backend,
		Path:    c.Path,
		Postgres: registry.PostgresConfig{
			DSN:             c.Postgres.DSN,
			MaxConns:        c.Postgres.MaxConns,
			MinConns:        c.Postgres.MinConns,
			ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
			Migrate:         c.Postgres.Migrate,
		},
		Redis: registry.RedisConfig{
			URL:        c.Redis.URL,
			Prefix:     c.Redis.Prefix,
			MaxRetries: c.Redis.MaxRetries,
		},
	}
}

// DeploymentConfig holds deployer settings shared by every network.
type DeploymentConfig struct {
	ConfirmationThreshold uint64        `mapstructure:"confirmation_threshold" validate:"min=1"`
	ConfirmationTimeout   time.Duration `mapstructure:"confirmation_timeout"`
	PollInitialInterval   time.Duration `mapstructure:"poll_initial_interval"`
	PollMaxInterval       time.Duration `mapstructure:"poll_max_interval"`
	MaxNonceRetries       int           `mapstructure:"max_nonce_retries" validate:"min=0"`
	DefaultGasLimit       uint64        `mapstructure:"default_gas_limit"`
	GasMarginPercent      uint64        `mapstructure:"gas_margin_percent" validate:"max=100"`
	RetryAttempts         int           `mapstructure:"retry_attempts" validate:"min=1"`
	RetryInitialDelay     time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
	// GasLimitOverride skips estimation for every contract without its own
	// gas in the plan. Zero means estimate.
	GasLimitOverride uint64 `mapstructure:"gas_limit_override"`
	// ForceRedeploy deploys again even when a confirmed record exists.
	ForceRedeploy bool `mapstructure:"force_redeploy"`
	// ContractDataFile receives {address, abi} after each confirmed
	// deployment. "{contract}" in the path is replaced by the contract name.
	// Empty disables the export.
	ContractDataFile string `mapstructure:"contract_data_file"`
}

// Retry returns the RPC retry settings.
func (c DeploymentConfig) Retry() retry.Config {
	return retry.Config{
		Attempts:     c.RetryAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
	}
}

// Deployer returns the deployment.Config for these settings.
func (c DeploymentConfig) Deployer(logger *slog.Logger) deployment.Config {
	return deployment.Config{
		ConfirmationThreshold: c.ConfirmationThreshold,
		ConfirmationTimeout:   c.ConfirmationTimeout,
		PollInitialInterval:   c.PollInitialInterval,
		PollMaxInterval:       c.PollMaxInterval,
		MaxNonceRetries:       c.MaxNonceRetries,
		DefaultGasLimit:       c.DefaultGasLimit,
		GasMarginPercent:      c.GasMarginPercent,
		Retry:                 c.Retry(),
		Logger:                logger,
	}
}

// NetworkConfig describes one deployment target.
type NetworkConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	RPCURL  string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID uint64 `mapstructure:"chain_id" validate:"required"`
	// NetworkID keys the Truffle artifact networks map. Defaults to ChainID.
	NetworkID string       `mapstructure:"network_id"`
	Client    string       `mapstructure:"client" validate:"omitempty,oneof=ethclient w3"`
	From      string       `mapstructure:"from" validate:"omitempty,eth_addr"`
	Signer    SignerConfig `mapstructure:"signer"`
}

// SignerConfig selects how transactions are signed.
type SignerConfig struct {
	Type       string `mapstructure:"type" validate:"oneof=local dev remote"`
	PrivateKey string `mapstructure:"private_key" validate:"required_if=Type local"`
	Endpoint   string `mapstructure:"endpoint" validate:"required_if=Type remote"`
	APIKey     string `mapstructure:"api_key"`
}

// FromAddress returns the configured deployer account, if any.
func (n NetworkConfig) FromAddress() (common.Address, bool) {
	if n.From == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(n.From), true
}

// Network returns the network named name.
func (c *Config) Network(name string) (*NetworkConfig, error) {
	for i := range c.Networks {
		if c.Networks[i].Name == name {
			return &c.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("network %q is not configured", name)
}

// Load reads configuration from an optional YAML file, a .env file and
// environment variables, in increasing order of precedence.
// An empty path searches ./popdeploy.yaml, ./config/popdeploy.yaml and
// /etc/popdeploy/popdeploy.yaml.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("popdeploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/popdeploy")
	}

	v.SetEnvPrefix("POPDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Networks) == 0 {
		if n, ok := ganacheFromEnv(); ok {
			cfg.Networks = append(cfg.Networks, n)
		}
	}
	for i := range cfg.Networks {
		applyNetworkDefaults(&cfg.Networks[i])
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Registry defaults
	v.SetDefault("registry.backend", registry.BackendFile)
	v.SetDefault("registry.path", "deployments.json")
	v.SetDefault("registry.postgres.max_conns", 10)
	v.SetDefault("registry.postgres.min_conns", 1)
	v.SetDefault("registry.postgres.conn_max_lifetime", "5m")
	v.SetDefault("registry.postgres.migrate", true)
	v.SetDefault("registry.redis.prefix", registry.DefaultRedisPrefix)
	v.SetDefault("registry.redis.max_retries", 10)

	// Deployment defaults
	v.SetDefault("deployment.confirmation_threshold", deployment.DefaultConfirmationThreshold)
	v.SetDefault("deployment.confirmation_timeout", deployment.DefaultConfirmationTimeout.String())
	v.SetDefault("deployment.poll_initial_interval", deployment.DefaultPollInitialInterval.String())
	v.SetDefault("deployment.poll_max_interval", deployment.DefaultPollMaxInterval.String())
	v.SetDefault("deployment.max_nonce_retries", deployment.DefaultMaxNonceRetries)
	v.SetDefault("deployment.default_gas_limit", deployment.LegacyDefaultGasLimit)
	v.SetDefault("deployment.gas_margin_percent", deployment.DefaultGasMarginPercent)
	v.SetDefault("deployment.retry_attempts", 3)
	v.SetDefault("deployment.retry_initial_delay", "1s")
	v.SetDefault("deployment.retry_max_delay", "30s")
	v.SetDefault("deployment.gas_limit_override", 0)
	v.SetDefault("deployment.force_redeploy", false)
	v.SetDefault("deployment.contract_data_file", "")
}

// bindEnv binds keys AutomaticEnv cannot discover and the variable names
// used by existing .env files.
func bindEnv(v *viper.Viper) {
	v.BindEnv("deployment.contract_data_file", "POPDEPLOY_DEPLOYMENT_CONTRACT_DATA_FILE", "CONTRACT_DATA_FILE")
	v.BindEnv("registry.postgres.dsn", "POPDEPLOY_REGISTRY_POSTGRES_DSN", "DATABASE_URL")
	v.BindEnv("registry.redis.url", "POPDEPLOY_REGISTRY_REDIS_URL", "REDIS_URL")
	v.BindEnv("log.level", "POPDEPLOY_LOG_LEVEL")
	v.BindEnv("deployment.gas_limit_override", "POPDEPLOY_DEPLOYMENT_GAS_LIMIT_OVERRIDE", "GAS_LIMIT_OVERRIDE")
	v.BindEnv("deployment.force_redeploy", "POPDEPLOY_DEPLOYMENT_FORCE_REDEPLOY", "FORCE_REDEPLOY")
}

// ganacheFromEnv builds a network from GANACHE_URL, CHAIN_ACCOUNT_ADDRESS and
// CHAIN_PRIVATE_KEY when no networks are configured.
func ganacheFromEnv() (NetworkConfig, bool) {
	url := os.Getenv("GANACHE_URL")
	if url == "" {
		return NetworkConfig{}, false
	}

	n := NetworkConfig{
		Name:      "ganache",
		RPCURL:    url,
		ChainID:   1337,
		NetworkID: "5777",
		From:      os.Getenv("CHAIN_ACCOUNT_ADDRESS"),
		Signer:    SignerConfig{Type: SignerDev},
	}
	if key := os.Getenv("CHAIN_PRIVATE_KEY"); key != "" {
		n.Signer = SignerConfig{Type: SignerLocal, PrivateKey: key}
	}
	return n, true
}

func applyNetworkDefaults(n *NetworkConfig) {
	if n.Client == "" {
		n.Client = chain.BackendEthclient
	}
	if n.Signer.Type == "" {
		n.Signer.Type = SignerDev
	}
	if n.NetworkID == "" && n.ChainID != 0 {
		n.NetworkID = fmt.Sprintf("%d", n.ChainID)
	}
}

var validate = validator.New()

// Validate checks the configuration for missing or malformed settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Registry.Backend {
	case registry.BackendPostgres:
		if c.Registry.Postgres.DSN == "" {
			return fmt.Errorf("invalid config: registry.postgres.dsn is required")
		}
	case registry.BackendRedis:
		if c.Registry.Redis.URL == "" {
			return fmt.Errorf("invalid config: registry.redis.url is required")
		}
	}

	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if seen[n.Name] {
			return fmt.Errorf("invalid config: network %q configured twice", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}
