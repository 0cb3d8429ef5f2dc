package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvAdmin               = "ARBVAULT_ADMIN"
	EnvEmergencyWithdrawer = "ARBVAULT_EMERGENCY_WITHDRAWER"
	EnvFeeRecipient        = "ARBVAULT_FEE_RECIPIENT"
	EnvPlatformFeeBps      = "ARBVAULT_PLATFORM_FEE_BPS"
	EnvFlashLoanFeeBps     = "ARBVAULT_FLASH_LOAN_FEE_BPS"
	EnvVenues              = "ARBVAULT_VENUES" // comma separated
	EnvRPCEndpoint         = "ARBVAULT_RPC_ENDPOINT"
	EnvMetricsAddr         = "ARBVAULT_METRICS_ADDR"
	EnvDebug               = "ARBVAULT_DEBUG"
)

// LoadEnv loads environment variables from the given files, .env by default.
// Missing files are skipped and variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides file settings with any ARBVAULT_* variables that are set.
func (c *Config) ApplyEnv() error {
	c.Engine.Admin = GetEnvWithDefault(EnvAdmin, c.Engine.Admin)
	c.Engine.EmergencyWithdrawer = GetEnvWithDefault(EnvEmergencyWithdrawer, c.Engine.EmergencyWithdrawer)
	c.Engine.FeeRecipient = GetEnvWithDefault(EnvFeeRecipient, c.Engine.FeeRecipient)
	c.Router.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, c.Router.RPCEndpoint)
	c.Metrics.ListenAddr = GetEnvWithDefault(EnvMetricsAddr, c.Metrics.ListenAddr)

	if v := os.Getenv(EnvPlatformFeeBps); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPlatformFeeBps, err)
		}
		c.Engine.PlatformFeeBps = bps
	}
	if v := os.Getenv(EnvFlashLoanFeeBps); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFlashLoanFeeBps, err)
		}
		c.Engine.FlashLoanFeeBps = bps
	}
	if v := os.Getenv(EnvVenues); v != "" {
		c.Engine.Venues = nil
		for _, venue := range strings.Split(v, ",") {
			if venue = strings.TrimSpace(venue); venue != "" {
				c.Engine.Venues = append(c.Engine.Venues, venue)
			}
		}
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Logging.Debug = debug
	}
	return nil
}
