package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ec := cfg.ToEngineConfig()
		pools, err := cfg.PoolSpecs()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "configuration OK")
		fmt.Fprintf(out, "  admin               %s\n", ec.Admin.Hex())
		fmt.Fprintf(out, "  custody             %s\n", cfg.CustodyAddress().Hex())
		fmt.Fprintf(out, "  platform fee        %d bps\n", ec.PlatformFeeBps)
		fmt.Fprintf(out, "  flash loan fee      %d bps\n", ec.FlashLoanFeeBps)
		fmt.Fprintf(out, "  authorized venues   %d\n", len(ec.Venues))
		fmt.Fprintf(out, "  pools               %d\n", len(pools))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
