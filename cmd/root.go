package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/config"
	"github.com/michaelpento.lv/arbvault/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbvault",
	Short: "A custody ledger with reward pools, arbitrage and flash loans",
	Long: `arbvault settles deposits, reward accrual, two-leg arbitrage, strategies
and flash loans against a single custody ledger. Every call commits
completely or leaves no trace.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbvault.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	if err := config.LoadEnv(); err != nil {
		utils.InitLogger(debug).Warn("Failed to load .env", zap.Error(err))
	}
}

// loadConfig reads the config file and starts the global logger with its
// logging section.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger := utils.InitLoggerWithPaths(debug || cfg.Logging.Debug, cfg.Logging.OutputPaths, cfg.Logging.ErrorOutputPaths)
	return cfg, logger, nil
}
