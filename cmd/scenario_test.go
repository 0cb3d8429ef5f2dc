package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbvault/config"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	usdc   = common.HexToAddress("0x000000000000000000000000000000000000c0c0")
	reward = common.HexToAddress("0x000000000000000000000000000000000000a3a3")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.Admin = "0x000000000000000000000000000000000000ad01"
	cfg.Engine.EmergencyWithdrawer = "0x000000000000000000000000000000000000e911"
	cfg.Engine.RewardAsset = reward.Hex()
	cfg.Engine.Venues = []string{
		"0x00000000000000000000000000000000000000aa",
		"0x00000000000000000000000000000000000000bb",
	}
	cfg.Engine.Pools = []config.PoolConfig{{Asset: usdc.Hex(), RewardRate: "10"}}
	dir := t.TempDir()
	cfg.Logging.OutputPaths = []string{filepath.Join(dir, "arbvault.log")}
	cfg.Logging.ErrorOutputPaths = []string{filepath.Join(dir, "arbvault-error.log")}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestReplayScenario(t *testing.T) {
	sc, err := LoadScenario("testdata/scenario.yaml")
	require.NoError(t, err)

	replay, err := NewReplay(testConfig(t), sc, zaptest.NewLogger(t))
	require.NoError(t, err)

	var out bytes.Buffer
	results := replay.Run(&out)
	require.Len(t, results, len(sc.Steps))
	for _, r := range results {
		assert.True(t, r.Matched, "step %d (%s): %v", r.Index, r.Op, r.Err)
	}

	assert.Equal(t, "claimed=50", results[2].Detail)
	assert.True(t, strings.HasPrefix(results[3].Detail, "profit="), results[3].Detail)
	assert.Equal(t, "amount=500 fee=1", results[5].Detail)

	e := replay.Engine()
	totals := e.Totals()
	assert.True(t, totals.TotalValueLocked.IsZero())
	assert.Equal(t, "100", totals.TotalVolume.Dec())
	assert.Equal(t, "850", e.Custody(reward).Dec())

	rate := replay.Metrics().SuccessRate()
	assert.Greater(t, rate, 0.0)
	assert.Less(t, rate, 1.0)

	out.Reset()
	replay.Summary(&out)
	assert.Contains(t, out.String(), "total volume            100")

	out.Reset()
	replay.RecentEvents(&out, alice, 10)
	assert.Contains(t, out.String(), "liquidity.removed")
	assert.Contains(t, out.String(), "arbitrage.executed")
}

func TestReplayReportsMismatch(t *testing.T) {
	sc := &Scenario{Steps: []Step{
		{Op: "deposit", Caller: alice.Hex(), Pool: 9, Amount: "1"},
		{Op: "deposit", Caller: alice.Hex(), Pool: 9, Amount: "1", Expect: "not_found"},
		{Op: "rebalance"},
		{Op: "deposit", Caller: "alice", Amount: "1", Expect: "invalid_input"},
	}}
	replay, err := NewReplay(testConfig(t), sc, zaptest.NewLogger(t))
	require.NoError(t, err)

	var out bytes.Buffer
	results := replay.Run(&out)
	assert.False(t, results[0].Matched)
	assert.True(t, results[1].Matched)
	assert.False(t, results[2].Matched)
	assert.ErrorContains(t, results[2].Err, `unknown op "rebalance"`)
	assert.True(t, results[3].Matched)
	assert.Contains(t, out.String(), "expected ok")
}

func TestNewReplayRejectsBadWorld(t *testing.T) {
	for name, sc := range map[string]*Scenario{
		"borrower kind": {Borrowers: []BorrowerSpec{{Address: alice.Hex(), Kind: "gift"}}},
		"venue tokens":  {Venues: []VenueSpec{{Address: alice.Hex(), Token0: usdc.Hex(), Token1: usdc.Hex(), Reserve0: "1", Reserve1: "1"}}},
		"balance":       {Balances: []BalanceSpec{{Holder: alice.Hex(), Asset: usdc.Hex(), Amount: "-5"}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewReplay(testConfig(t), sc, zaptest.NewLogger(t))
			assert.Error(t, err)
		})
	}
}

func TestReplayAndValidateCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "arbvault.yaml")
	require.NoError(t, config.SaveConfig(testConfig(t), cfgPath))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"--config", cfgPath, "validate"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "configuration OK")
	assert.Contains(t, out.String(), "authorized venues   2")

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfgPath, "replay", "testdata/scenario.yaml", "--events", alice.Hex()})
	require.NoError(t, rootCmd.Execute(), out.String())
	assert.Contains(t, out.String(), "total value locked      0")
	assert.Contains(t, out.String(), "recent events for")
	assert.NotContains(t, out.String(), "✗")
}

func TestServeMetrics(t *testing.T) {
	logger := zaptest.NewLogger(t)
	replay, err := NewReplay(testConfig(t), &Scenario{Steps: []Step{{Op: "pause"}, {Op: "pause", Caller: alice.Hex(), Expect: "unauthorized"}}}, logger)
	require.NoError(t, err)
	replay.Run(io.Discard)

	srv := serveMetrics("127.0.0.1:0", replay, logger)
	t.Cleanup(func() { _ = srv.Close() })

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `arbvault_calls_total{op="admin",outcome="success"} 2`)
	assert.Contains(t, rec.Body.String(), `arbvault_failures_total{kind="unauthorized",op="admin"} 1`)
}
