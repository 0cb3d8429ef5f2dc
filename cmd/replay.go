package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/utils/monitor"
)

var (
	metricsAddr string
	linger      time.Duration
	eventsFor   string
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scenario against an in-memory engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		sc, err := LoadScenario(args[0])
		if err != nil {
			return err
		}
		replay, err := NewReplay(cfg, sc, logger)
		if err != nil {
			return err
		}

		addr := metricsAddr
		if addr == "" && cfg.Metrics.Enabled {
			addr = cfg.Metrics.ListenAddr
		}
		var srv *http.Server
		if addr != "" {
			mon, err := monitor.NewProcessMonitor(cfg.Metrics.Namespace, replay.Registry(), time.Second, logger)
			if err != nil {
				return err
			}
			mon.Start(cmd.Context())
			defer mon.Stop()
			srv = serveMetrics(addr, replay, logger)
			defer srv.Close()
		}

		out := cmd.OutOrStdout()
		results := replay.Run(out)
		replay.Summary(out)
		if eventsFor != "" {
			if !common.IsHexAddress(eventsFor) {
				return fmt.Errorf("--events: %q is not an address", eventsFor)
			}
			fmt.Fprintf(out, "\nrecent events for %s\n", eventsFor)
			replay.RecentEvents(out, common.HexToAddress(eventsFor), 20)
		}

		if srv != nil && linger > 0 {
			logger.Info("Serving metrics", zap.String("addr", addr), zap.Duration("linger", linger))
			select {
			case <-time.After(linger):
			case <-cmd.Context().Done():
			}
		}

		mismatched := 0
		for _, r := range results {
			if !r.Matched {
				mismatched++
			}
		}
		if mismatched > 0 {
			return fmt.Errorf("%d of %d steps did not match their expectation", mismatched, len(results))
		}
		return nil
	},
}

func serveMetrics(addr string, replay *Replay, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", replay.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while replaying")
	replayCmd.Flags().DurationVar(&linger, "linger", 0, "keep serving metrics this long after the replay")
	replayCmd.Flags().StringVar(&eventsFor, "events", "", "print recent events for this account")
}

