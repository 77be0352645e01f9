// Package config loads daemon and client settings from file, ATTEST_* env vars and flags.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"tweetattest-backend/core"
)

// EnvPrefix is prepended to every environment override, e.g. ATTEST_STORE_DRIVER.
const EnvPrefix = "ATTEST"

type OracleConfig struct {
	Liveness time.Duration `mapstructure:"liveness" yaml:"liveness"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory | leveldb | postgres
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

type APIKeyConfig struct {
	Key    string `mapstructure:"key" yaml:"key"`
	Wallet string `mapstructure:"wallet" yaml:"wallet"`
	Admin  bool   `mapstructure:"admin" yaml:"admin"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type MCPConfig struct {
	Wallet string `mapstructure:"wallet" yaml:"wallet,omitempty"`
}

type WebConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// Config is the attestd configuration.
type Config struct {
	Listen          string            `mapstructure:"listen" yaml:"listen"`
	ChainID         uint64            `mapstructure:"chain_id" yaml:"chain_id"`
	RegistryAddress string            `mapstructure:"registry_address" yaml:"registry_address"`
	OracleAddress   string            `mapstructure:"oracle_address" yaml:"oracle_address"`
	RewardWei       string            `mapstructure:"reward_wei" yaml:"reward_wei"`
	Oracle          OracleConfig      `mapstructure:"oracle" yaml:"oracle"`
	Store           StoreConfig       `mapstructure:"store" yaml:"store"`
	APIKeys         []APIKeyConfig    `mapstructure:"api_keys" yaml:"api_keys,omitempty"`
	Genesis         map[string]string `mapstructure:"genesis" yaml:"genesis,omitempty"` // address -> wei
	Log             LogConfig         `mapstructure:"log" yaml:"log"`
	Kafka           KafkaConfig       `mapstructure:"kafka" yaml:"kafka"`
	RateLimit       RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	MCP             MCPConfig         `mapstructure:"mcp" yaml:"mcp"`
	Web             WebConfig         `mapstructure:"web" yaml:"web"`
	CORS            []string          `mapstructure:"cors" yaml:"cors,omitempty"`
}

// SetDefaults registers every daemon key so env overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("chain_id", 31337)
	v.SetDefault("registry_address", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	v.SetDefault("oracle_address", "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	v.SetDefault("reward_wei", "10000000000000000")
	v.SetDefault("oracle.liveness", 2*time.Hour)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", filepath.Join("data", "attest.db"))
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "attest-events")
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("mcp.wallet", "")
	v.SetDefault("web.enabled", true)
	v.SetDefault("web.session_ttl", 30*time.Minute)
	v.SetDefault("cors", []string{"*"})
}

// New returns a viper instance with defaults, env binding and, if found, the
// config file. An empty path searches ./attest.yaml and ~/.attest/attest.yaml.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	SetClientDefaults(v)
	bindEnv(v)
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	return v, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func readFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("attest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".attest"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes and validates the daemon configuration.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks addresses, amounts and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Listen == "" {
		problems = append(problems, "listen is required")
	}
	if c.ChainID == 0 {
		problems = append(problems, "chain_id must be non-zero")
	}
	if !common.IsHexAddress(c.RegistryAddress) {
		problems = append(problems, fmt.Sprintf("registry_address %q is not an address", c.RegistryAddress))
	}
	if !common.IsHexAddress(c.OracleAddress) {
		problems = append(problems, fmt.Sprintf("oracle_address %q is not an address", c.OracleAddress))
	}
	if c.RegistryAddress != "" && strings.EqualFold(c.RegistryAddress, c.OracleAddress) {
		problems = append(problems, "registry_address and oracle_address must differ")
	}
	if reward, err := core.ParseWei(c.RewardWei); err != nil || reward.Sign() <= 0 {
		problems = append(problems, fmt.Sprintf("reward_wei %q must be a positive integer", c.RewardWei))
	}
	if c.Oracle.Liveness <= 0 {
		problems = append(problems, "oracle.liveness must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "leveldb":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for leveldb")
		}
	case "postgres":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be memory, leveldb or postgres", c.Store.Driver))
	}
	for i, k := range c.APIKeys {
		if k.Key == "" {
			problems = append(problems, fmt.Sprintf("api_keys[%d].key is empty", i))
		}
		if !common.IsHexAddress(k.Wallet) {
			problems = append(problems, fmt.Sprintf("api_keys[%d].wallet %q is not an address", i, k.Wallet))
		}
	}
	if _, err := c.GenesisAlloc(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.MCP.Wallet != "" && !common.IsHexAddress(c.MCP.Wallet) {
		problems = append(problems, fmt.Sprintf("mcp.wallet %q is not an address", c.MCP.Wallet))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit values must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", core.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) RegistryAddr() common.Address { return common.HexToAddress(c.RegistryAddress) }
func (c *Config) OracleAddr() common.Address   { return common.HexToAddress(c.OracleAddress) }

// Reward returns reward_wei; Validate must have passed.
func (c *Config) Reward() *big.Int {
	r, _ := core.ParseWei(c.RewardWei)
	return r
}

// MCPWallet returns the default MCP signer, or the zero address.
func (c *Config) MCPWallet() common.Address {
	if c.MCP.Wallet == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.MCP.Wallet)
}

// GenesisAlloc parses the genesis balances.
func (c *Config) GenesisAlloc() (map[common.Address]*big.Int, error) {
	alloc := make(map[common.Address]*big.Int, len(c.Genesis))
	for addr, wei := range c.Genesis {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("genesis address %q is not an address", addr)
		}
		amount, err := core.ParseWei(wei)
		if err != nil {
			return nil, fmt.Errorf("genesis balance for %s: %v", addr, err)
		}
		alloc[common.HexToAddress(addr)] = amount
	}
	return alloc, nil
}

// ClientConfig is the attestctl / mcpserver configuration.
type ClientConfig struct {
	Server  string        `mapstructure:"server" yaml:"server"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	From    string        `mapstructure:"from" yaml:"from,omitempty"`
	ChainID uint64        `mapstructure:"chain_id" yaml:"chain_id"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetClientDefaults registers the client keys. chain_id is shared with the daemon.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("api_key", "")
	v.SetDefault("from", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("chain_id", 31337)
}

// LoadClient decodes and validates the client configuration.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("%w: server is required", core.ErrInvalidInput)
	}
	if cfg.From != "" && !common.IsHexAddress(cfg.From) {
		return nil, fmt.Errorf("%w: from %q is not an address", core.ErrInvalidInput, cfg.From)
	}
	return &cfg, nil
}

// Wallet returns the configured sender, or the zero address.
func (c *ClientConfig) Wallet() common.Address {
	if c.From == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.From)
}
