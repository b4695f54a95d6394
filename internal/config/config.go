// Package config provides configuration loading for the TxRegistry deployer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Artifact layouts understood by the artifact loader.
const (
	LayoutHardhat = "hardhat"
	LayoutFoundry = "foundry"
)

// Defaults match the local development node the project ships with.
const (
	DefaultRPCURL       = "http://127.0.0.1:8545"
	DefaultChainID      = 1337
	DefaultContractName = "TxRegistry"
	DefaultEnvKey       = "CONTRACT_ADDRESS"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds everything a deployment run needs. It is built once by Load and
// passed to the orchestrator; no component reads the environment on its own.
type Config struct {
	// Node connection
	RPCURL  string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID uint64 `mapstructure:"chain_id" validate:"required,gt=0"`

	// Signer
	PrivateKey        string `mapstructure:"private_key"`
	AllowNodeAccounts bool   `mapstructure:"allow_node_accounts"`

	// Contract and artifacts
	ContractName     string `mapstructure:"contract_name" validate:"required"`
	ArtifactsDir     string `mapstructure:"artifacts_dir" validate:"required"`
	ArtifactLayout   string `mapstructure:"artifact_layout" validate:"oneof=hardhat foundry"`
	GasLimitFallback uint64 `mapstructure:"gas_limit_fallback" validate:"gte=21000"`

	// Publication
	ABIDir  string `mapstructure:"abi_dir" validate:"required"`
	EnvFile string `mapstructure:"env_file" validate:"required"`
	EnvKey  string `mapstructure:"env_key" validate:"required"`

	// Observability
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `mapstructure:"log_format" validate:"oneof=text json"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an optional YAML/TOML/JSON file.
	ConfigFile string
	// Flags are bound on top of every other source when set.
	Flags *pflag.FlagSet
}

// flagBindings maps config keys to CLI flag names.
var flagBindings = map[string]string{
	"rpc_url":             "rpc-url",
	"chain_id":            "chain-id",
	"private_key":         "private-key",
	"allow_node_accounts": "allow-node-accounts",
	"contract_name":       "contract",
	"artifacts_dir":       "artifacts-dir",
	"artifact_layout":     "artifact-layout",
	"gas_limit_fallback":  "gas-limit-fallback",
	"abi_dir":             "abi-dir",
	"env_file":            "env-file",
	"env_key":             "env-key",
	"log_level":           "log-level",
	"log_format":          "log-format",
	"metrics_file":        "metrics-file",
}

// Load reads configuration from defaults, the project dotenv file, an optional
// config file, environment variables and flags, in increasing precedence.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// RPC_URL, CHAIN_ID, PRIVATE_KEY... are read without a prefix so the same
	// names work in the shell and in the dotenv file.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range flagBindings {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// env_file may come from any source above, so the dotenv file is only
	// located once they are all in place. It is both an input and the file
	// that gets updated after deployment. Missing is fine; it is checked
	// again before the update.
	if envFile := v.GetString("env_file"); envFile != "" {
		if err := loadDotenv(v, envFile); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.PrivateKey = strings.TrimSpace(cfg.PrivateKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotenv reads path with viper's env codec and installs its values as
// defaults, so they sit above the built-in defaults and below the config
// file, the environment and flags.
func loadDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(path)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	for _, key := range dotenv.AllKeys() {
		v.SetDefault(key, dotenv.Get(key))
	}
	return nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", DefaultRPCURL)
	v.SetDefault("chain_id", DefaultChainID)
	v.SetDefault("private_key", "")
	v.SetDefault("allow_node_accounts", true)

	v.SetDefault("contract_name", DefaultContractName)
	v.SetDefault("artifacts_dir", "hardhat/artifacts")
	v.SetDefault("artifact_layout", LayoutHardhat)
	v.SetDefault("gas_limit_fallback", 6_000_000)

	v.SetDefault("abi_dir", "abi")
	v.SetDefault("env_file", ".env")
	v.SetDefault("env_key", DefaultEnvKey)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_file", "")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !identifierPattern.MatchString(c.ContractName) {
		return fmt.Errorf("%w: contract_name %q is not a valid contract identifier", ErrInvalidConfig, c.ContractName)
	}
	if !envKeyPattern.MatchString(c.EnvKey) {
		return fmt.Errorf("%w: env_key %q is not a valid variable name", ErrInvalidConfig, c.EnvKey)
	}
	return nil
}

// HasPrivateKey reports whether a private key was supplied at all.
func (c *Config) HasPrivateKey() bool {
	return c.PrivateKey != ""
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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

// LogValue implements slog.LogValuer. The private key is never included.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rpc_url", c.RPCURL),
		slog.Uint64("chain_id", c.ChainID),
		slog.Bool("private_key_set", c.HasPrivateKey()),
		slog.Bool("allow_node_accounts", c.AllowNodeAccounts),
		slog.String("contract", c.ContractName),
		slog.String("artifacts_dir", c.ArtifactsDir),
		slog.String("artifact_layout", c.ArtifactLayout),
		slog.String("abi_dir", c.ABIDir),
		slog.String("env_file", c.EnvFile),
		slog.String("env_key", c.EnvKey),
	)
}
