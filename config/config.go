// Package config loads the pipeline's configuration via viper, the
// teacher's own config library, and optionally hot-reloads the
// whitelist/rate-limit/contract-address fields through viper's fsnotify
// watch. Dialed resources (RPC endpoint, bus, store connections) are
// read once at startup and are not hot-reloadable.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Contracts holds the well-known protocol addresses spec §6 requires.
type Contracts struct {
	Factory string `mapstructure:"factory"`
	Router  string `mapstructure:"router"`
	WETH    string `mapstructure:"weth"`
	USDT    string `mapstructure:"usdt"`
	DAI     string `mapstructure:"dai"`
}

// RPCConfig describes the chain JSON-RPC endpoint and its rate limit.
type RPCConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	RateLimit string `mapstructure:"rate_limit"` // e.g. "30/second"
}

// RateLimitWindow parses "N/second"|"N/minute" into (N, period).
func (r RPCConfig) RateLimitWindow() (capacity int, period time.Duration, err error) {
	parts := strings.SplitN(r.RateLimit, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit %q, want N/unit", r.RateLimit)
	}
	if _, err = fmt.Sscanf(parts[0], "%d", &capacity); err != nil {
		return 0, 0, fmt.Errorf("invalid rate_limit capacity %q: %w", parts[0], err)
	}
	switch strings.ToLower(parts[1]) {
	case "second", "sec", "s":
		period = time.Second
	case "minute", "min", "m":
		period = time.Minute
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit unit %q", parts[1])
	}
	return capacity, period, nil
}

// HTTPTimeouts mirrors spec §6's configuration surface.
type HTTPTimeouts struct {
	ConnectionInit time.Duration `mapstructure:"connection_init"`
	Archival       time.Duration `mapstructure:"archival"`
}

// Config is the complete pipeline configuration.
type Config struct {
	Namespace       string       `mapstructure:"namespace"`
	ProjectTag      string       `mapstructure:"project_tag"`
	RPC             RPCConfig    `mapstructure:"rpc"`
	Whitelist       []string     `mapstructure:"whitelist"`
	Contracts       Contracts    `mapstructure:"contracts"`
	BusURL          string       `mapstructure:"bus_url"`
	StoreAddr       string       `mapstructure:"store_addr"`
	StoreDB         int          `mapstructure:"store_db"`
	HTTPTimeouts    HTTPTimeouts `mapstructure:"http_timeouts"`
	AuditBaseURL    string       `mapstructure:"audit_base_url"`
	// PricePruneHorizonBlocks is the horizon C4's prune() uses; spec §4.4
	// fixes this at 20 but §9 flags it as properly configurable.
	PricePruneHorizonBlocks uint64 `mapstructure:"price_prune_horizon_blocks"`
	// EagerAck is loaded from config (default true) but nothing reads it:
	// distributor.Run and worker.Run always acknowledge each inbound
	// message before processing it (at-most-once), whatever its value.
	EagerAck bool `mapstructure:"eager_ack"`
}

func (c *Config) setDefaults(v *viper.Viper) {
	v.SetDefault("price_prune_horizon_blocks", 20)
	v.SetDefault("eager_ack", true)
	v.SetDefault("http_timeouts.connection_init", "5s")
	v.SetDefault("http_timeouts.archival", "30s")
	v.SetDefault("store_db", 0)
}

func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.ProjectTag == "" {
		return fmt.Errorf("project_tag is required")
	}
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}
	if _, _, err := c.RPC.RateLimitWindow(); err != nil {
		return err
	}
	if len(c.Whitelist) == 0 {
		return fmt.Errorf("whitelist must not be empty")
	}
	return nil
}

// Load reads configuration from path (YAML/JSON/TOML, viper auto-detects
// by extension) overlaid with PAIRSNAP_-prefixed environment variables.
// When watch is true and path is non-empty, whitelist/rate-limit/
// contract-address changes are hot-applied via onChange.
func Load(path string, watch bool, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAIRSNAP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	cfg.setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if watch && path != "" && onChange != nil {
		logger := log.New("component", "config")
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := &Config{}
			updated.setDefaults(v)
			if err := v.Unmarshal(updated); err != nil {
				logger.Error("failed to reload config", "err", err)
				return
			}
			if err := updated.Validate(); err != nil {
				logger.Error("reloaded config failed validation, keeping previous", "err", err)
				return
			}
			logger.Info("config reloaded", "path", path)
			onChange(updated)
		})
		v.WatchConfig()
	}

	return cfg, nil
}
