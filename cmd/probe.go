package cmd

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/dex"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

var (
	probeVenue  string
	probePath   []string
	probeAmount string
	probeRouter bool
)

// probeCmd quotes a deployed venue through eth_call. Nothing is broadcast.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Quote a deployed venue with eth_call",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if !common.IsHexAddress(probeVenue) {
			return fmt.Errorf("--venue: %q is not an address", probeVenue)
		}
		venue := common.HexToAddress(probeVenue)
		amount, err := fixed.ParseAmount(probeAmount)
		if err != nil {
			return fmt.Errorf("--amount: %w", err)
		}
		path := make([]common.Address, 0, len(probePath))
		for _, p := range probePath {
			if !common.IsHexAddress(p) {
				return fmt.Errorf("--path: %q is not an address", p)
			}
			path = append(path, common.HexToAddress(p))
		}

		var payload []byte
		if probeRouter {
			payload, err = dex.EncodeRouterSwap(dex.RouterSwap{
				AmountIn: amount,
				Path:     path,
				To:       cfg.CustodyAddress(),
				Deadline: uint64(time.Now().Add(5 * time.Minute).Unix()),
			})
		} else {
			if len(path) != 2 {
				return fmt.Errorf("--path needs exactly two tokens for a pair swap")
			}
			payload, err = dex.EncodeSwap(dex.SwapCall{TokenIn: path[0], TokenOut: path[1], AmountIn: amount})
		}
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := ethclient.DialContext(ctx, cfg.Router.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.Router.RPCEndpoint, err)
		}
		defer client.Close()

		router, err := dex.NewEVMRouter(client, dex.EVMConfig{
			From:      cfg.CustodyAddress(),
			Timeout:   cfg.Router.Timeout,
			RateLimit: cfg.Router.RequestsPerSecond,
			RateBurst: cfg.Router.BurstSize,
		}, logger)
		if err != nil {
			return err
		}

		out, err := router.InvokeContext(ctx, venue, payload)
		if err != nil {
			logger.Warn("Probe failed", zap.String("venue", venue.Hex()), zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", amount.Dec(), out.Dec())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeVenue, "venue", "", "venue or router address")
	probeCmd.Flags().StringSliceVar(&probePath, "path", nil, "token path, input first")
	probeCmd.Flags().StringVar(&probeAmount, "amount", "", "input amount in base units")
	probeCmd.Flags().BoolVar(&probeRouter, "router", false, "encode a swapExactTokensForTokens router call")
	_ = probeCmd.MarkFlagRequired("venue")
	_ = probeCmd.MarkFlagRequired("amount")
}
