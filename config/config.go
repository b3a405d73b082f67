package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ipfs-force-community/metrics"
	"github.com/pelletier/go-toml"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

const (
	// Configuration file name
	ConfigFile = "config.toml"

	// EnvPrefix prefixes every environment override, followed by the
	// section name, e.g. NEBULA_GATEWAY_NEBULA_AUTH_TOKEN.
	EnvPrefix = "NEBULA_GATEWAY_"
)

type Config struct {
	API     *APIConfig
	Nebula  *NebulaConfig
	Storage *StorageConfig
	Wallet  *WalletConfig
	Deploy  *DeployConfig
	Metrics *metrics.MetricsConfig
	Trace   *metrics.TraceConfig
}

type APIConfig struct {
	ListenAddress string `env:"LISTEN_ADDRESS"`
}

type NebulaConfig struct {
	URL            string        `env:"URL"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	RateLimit      float64       `env:"RATE_LIMIT"`
	Burst          int           `env:"BURST"`
	// origin of the chat pages linked as "new chat"
	AppURL string `env:"APP_URL"`
}

// RequestConfig converts the section for the nebula client.
func (c *NebulaConfig) RequestConfig() *types.RequestConfig {
	return &types.RequestConfig{
		RequestTimeout: c.RequestTimeout,
		RateLimit:      c.RateLimit,
		Burst:          c.Burst,
	}
}

type StorageConfig struct {
	// badger directory, relative paths are resolved against the repo
	Path     string `env:"PATH"`
	InMemory bool   `env:"IN_MEMORY"`
}

type WalletConfig struct {
	AccountAbstraction bool   `env:"ACCOUNT_ABSTRACTION"`
	FactoryAddress     string `env:"FACTORY_ADDRESS"`
	InitCodeHash       string `env:"INIT_CODE_HASH"`
	AccountSalt        string `env:"ACCOUNT_SALT"`
	SponsorGas         bool   `env:"SPONSOR_GAS"`
	DefaultChainID     int64  `env:"DEFAULT_CHAIN_ID"`
}

type DeployConfig struct {
	// JSON array of published contract metadata, empty starts with no contracts
	RegistryPath string `env:"REGISTRY_PATH"`
}

func DefaultConfig() *Config {
	request := types.DefaultConfig()
	cfg := &Config{
		API: &APIConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45142"},
		Nebula: &NebulaConfig{
			URL:            "https://nebula-api.thirdweb.com",
			RequestTimeout: request.RequestTimeout,
			RateLimit:      request.RateLimit,
			Burst:          request.Burst,
			AppURL:         "https://thirdweb.com/nebula",
		},
		Storage: &StorageConfig{Path: "badger"},
		Wallet:  &WalletConfig{DefaultChainID: 1},
		Deploy:  &DeployConfig{},
		Metrics: metrics.DefaultMetricsConfig(),
		Trace:   metrics.DefaultTraceConfig(),
	}
	namespace := "nebula_gateway"
	cfg.Metrics.Exporter.Prometheus.Namespace = namespace
	cfg.Metrics.Exporter.Graphite.Namespace = namespace
	cfg.Metrics.Exporter.Prometheus.EndPoint = "/ip4/0.0.0.0/tcp/4579"
	cfg.Metrics.Exporter.Graphite.Port = 4579
	cfg.Trace.ServerName = "nebula-gateway"
	cfg.Trace.JaegerEndpoint = ""

	return cfg
}

func ReadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	err = toml.Unmarshal(data, cfg)

	return cfg, err
}

func WriteConfig(filePath string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}

// ApplyEnv overrides config values with NEBULA_GATEWAY_<SECTION>_<FIELD>
// environment variables.
func ApplyEnv(cfg *Config) error {
	if cfg.API == nil {
		cfg.API = &APIConfig{}
	}
	if cfg.Nebula == nil {
		cfg.Nebula = &NebulaConfig{}
	}
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Wallet == nil {
		cfg.Wallet = &WalletConfig{}
	}
	if cfg.Deploy == nil {
		cfg.Deploy = &DeployConfig{}
	}

	sections := map[string]interface{}{
		"API_":     cfg.API,
		"NEBULA_":  cfg.Nebula,
		"STORAGE_": cfg.Storage,
		"WALLET_":  cfg.Wallet,
		"DEPLOY_":  cfg.Deploy,
	}
	for prefix, section := range sections {
		if err := env.ParseWithOptions(section, env.Options{Prefix: EnvPrefix + prefix}); err != nil {
			return err
		}
	}
	return nil
}
