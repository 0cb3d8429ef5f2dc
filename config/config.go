package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/arbvault/engine"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// DefaultConfigName is looked up in the home directory when no path is given.
const DefaultConfigName = ".arbvault.yaml"

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Router  RouterConfig  `yaml:"router"`
}

// EngineConfig seeds the engine. Addresses are hex strings and amounts are
// base-10 strings so that 256-bit values survive YAML.
type EngineConfig struct {
	Admin               string       `yaml:"admin"`
	EmergencyWithdrawer string       `yaml:"emergency_withdrawer"`
	FeeRecipient        string       `yaml:"fee_recipient"`
	Custody             string       `yaml:"custody"`
	RewardAsset         string       `yaml:"reward_asset"`
	PlatformFeeBps      uint64       `yaml:"platform_fee_bps"`
	FlashLoanFeeBps     uint64       `yaml:"flash_loan_fee_bps"`
	ArbitrageEnabled    bool         `yaml:"arbitrage_enabled"`
	FlashLoansEnabled   bool         `yaml:"flash_loans_enabled"`
	Venues              []string     `yaml:"venues"`
	Pools               []PoolConfig `yaml:"pools"`
	StartTick           uint64       `yaml:"start_tick"`
}

type PoolConfig struct {
	Asset      string `yaml:"asset"`
	RewardRate string `yaml:"reward_rate"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug"`
	// OutputPaths defaults to stdout plus arbvault.log.
	OutputPaths      []string `yaml:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr"`
}

// RouterConfig configures the eth_call venue adapter.
type RouterConfig struct {
	RPCEndpoint       string        `yaml:"rpc_endpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Custody:           "0x000000000000000000000000000000000000fa17",
			PlatformFeeBps:    100,
			FlashLoanFeeBps:   types.DefaultFlashLoanFeeBps,
			ArbitrageEnabled:  true,
			FlashLoansEnabled: true,
		},
		Logging: LoggingConfig{
			OutputPaths:      []string{"stdout", "arbvault.log"},
			ErrorOutputPaths: []string{"stderr", "arbvault-error.log"},
		},
		Metrics: MetricsConfig{
			Namespace:  "arbvault",
			ListenAddr: ":9102",
		},
		Router: RouterConfig{
			RPCEndpoint:       "http://localhost:8545",
			Timeout:           5 * time.Second,
			RequestsPerSecond: 10,
			BurstSize:         20,
		},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultConfigName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig without validating.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	var errors []string

	e := c.Engine
	if !isAddress(e.Admin) || common.HexToAddress(e.Admin) == (common.Address{}) {
		errors = append(errors, "engine.admin must be a non-zero address")
	}
	if !isAddress(e.Custody) || common.HexToAddress(e.Custody) == (common.Address{}) {
		errors = append(errors, "engine.custody must be a non-zero address")
	}
	for _, opt := range []struct{ name, addr string }{
		{"engine.emergency_withdrawer", e.EmergencyWithdrawer},
		{"engine.fee_recipient", e.FeeRecipient},
		{"engine.reward_asset", e.RewardAsset},
	} {
		if opt.addr != "" && !isAddress(opt.addr) {
			errors = append(errors, fmt.Sprintf("%s is not an address: %q", opt.name, opt.addr))
		}
	}
	if e.PlatformFeeBps > types.MaxFeeBps {
		errors = append(errors, fmt.Sprintf("engine.platform_fee_bps must be at most %d", types.MaxFeeBps))
	}
	if e.FlashLoanFeeBps > types.MaxFeeBps {
		errors = append(errors, fmt.Sprintf("engine.flash_loan_fee_bps must be at most %d", types.MaxFeeBps))
	}
	for i, v := range e.Venues {
		if !isAddress(v) {
			errors = append(errors, fmt.Sprintf("engine.venues[%d] is not an address: %q", i, v))
		}
	}
	for i, p := range e.Pools {
		if !isAddress(p.Asset) {
			errors = append(errors, fmt.Sprintf("engine.pools[%d].asset is not an address: %q", i, p.Asset))
		}
		if _, err := fixed.ParseAmount(p.RewardRate); err != nil {
			errors = append(errors, fmt.Sprintf("engine.pools[%d].reward_rate: %v", i, err))
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errors = append(errors, "metrics.listen_addr must be set when metrics are enabled")
	}
	if err := c.Router.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("router config error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (r *RouterConfig) Validate() error {
	if r.RPCEndpoint == "" {
		return nil
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// ToEngineConfig converts the validated file form into engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	e := c.Engine
	venues := make([]common.Address, 0, len(e.Venues))
	for _, v := range e.Venues {
		venues = append(venues, common.HexToAddress(v))
	}
	return engine.Config{
		Admin:               common.HexToAddress(e.Admin),
		EmergencyWithdrawer: optionalAddress(e.EmergencyWithdrawer),
		FeeRecipient:        optionalAddress(e.FeeRecipient),
		RewardAsset:         optionalAddress(e.RewardAsset),
		PlatformFeeBps:      e.PlatformFeeBps,
		FlashLoanFeeBps:     e.FlashLoanFeeBps,
		ArbitrageEnabled:    e.ArbitrageEnabled,
		FlashLoansEnabled:   e.FlashLoansEnabled,
		Venues:              venues,
		StartTick:           e.StartTick,
	}
}

func (c *Config) CustodyAddress() common.Address {
	return common.HexToAddress(c.Engine.Custody)
}

// PoolSpec is a pool to create at startup.
type PoolSpec struct {
	Asset      common.Address
	RewardRate *uint256.Int
}

func (c *Config) PoolSpecs() ([]PoolSpec, error) {
	out := make([]PoolSpec, 0, len(c.Engine.Pools))
	for i, p := range c.Engine.Pools {
		rate, err := fixed.ParseAmount(p.RewardRate)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		out = append(out, PoolSpec{Asset: common.HexToAddress(p.Asset), RewardRate: rate})
	}
	return out, nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(s)
}

func optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
