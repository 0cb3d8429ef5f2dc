package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/arbvault/config"
	"github.com/michaelpento.lv/arbvault/custody"
	"github.com/michaelpento.lv/arbvault/dex"
	"github.com/michaelpento.lv/arbvault/engine"
	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/flashloan"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
	"github.com/michaelpento.lv/arbvault/utils/metrics"
)

// Scenario is a replayable world: opening balances, venues, borrowers and
// the calls made against the engine.
type Scenario struct {
	Balances  []BalanceSpec  `yaml:"balances"`
	Venues    []VenueSpec    `yaml:"venues"`
	Borrowers []BorrowerSpec `yaml:"borrowers"`
	Steps     []Step         `yaml:"steps"`
}

type BalanceSpec struct {
	Holder string `yaml:"holder"`
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

// VenueSpec is a constant-product pair; its reserves are minted to Address.
type VenueSpec struct {
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Token0   string `yaml:"token0"`
	Token1   string `yaml:"token1"`
	Reserve0 string `yaml:"reserve0"`
	Reserve1 string `yaml:"reserve1"`
	FeeBps   uint64 `yaml:"fee_bps"`
}

// BorrowerSpec registers a flash-loan receiver. Kind is repay, short or route.
type BorrowerSpec struct {
	Address   string    `yaml:"address"`
	Kind      string    `yaml:"kind"`
	Tip       string    `yaml:"tip"`
	Shortfall string    `yaml:"shortfall"`
	Route     []HopSpec `yaml:"route"`
}

type HopSpec struct {
	Venue    string `yaml:"venue"`
	TokenOut string `yaml:"token_out"`
}

// Step is one engine call. Which fields are read depends on Op. Expect is
// "ok" (the default) or the error kind the call must fail with.
type Step struct {
	Op       string `yaml:"op"`
	Caller   string `yaml:"caller"`
	Tick     uint64 `yaml:"tick"`
	Pool     uint64 `yaml:"pool"`
	Asset    string `yaml:"asset"`
	AssetOut string `yaml:"asset_out"`
	Venue    string `yaml:"venue"`
	VenueA   string `yaml:"venue_a"`
	VenueB   string `yaml:"venue_b"`
	Amount   string `yaml:"amount"`
	Value    string `yaml:"value"`
	MinOut   string `yaml:"min_out"`
	Strategy string `yaml:"strategy"`
	To       string `yaml:"to"`
	Enabled  bool   `yaml:"enabled"`
	Bps      uint64 `yaml:"bps"`
	Data     string `yaml:"data"`
	Expect   string `yaml:"expect"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.UnmarshalStrict(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return &sc, nil
}

// StepResult is the outcome of one replayed step.
type StepResult struct {
	Index   int
	Op      string
	Detail  string
	Err     error
	Matched bool
}

// Replay is an engine wired to an in-memory bank, AMM venues and scripted
// borrowers.
type Replay struct {
	logger    *zap.Logger
	admin     common.Address
	guardian  common.Address
	bank      *custody.Bank
	amm       *dex.AMM
	borrowers *flashloan.Registry
	engine    *engine.Engine
	metrics   *metrics.EngineMetrics
	index     *events.Index
	registry  *prometheus.Registry
	steps     []Step
}

func NewReplay(cfg *config.Config, sc *Scenario, logger *zap.Logger) (*Replay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	bank := custody.NewBank(cfg.CustodyAddress(), logger)
	amm := dex.NewAMM(bank, logger)
	borrowers := flashloan.NewRegistry(logger, registry)

	ec := cfg.ToEngineConfig()
	eng, err := engine.NewEngine(ec, bank, engine.Calls{VenueCaller: amm, CallbackCaller: borrowers}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	m := metrics.NewEngineMetrics(cfg.Metrics.Namespace, registry)
	index, err := events.NewIndex(events.DefaultAccounts, events.DefaultPerAccount)
	if err != nil {
		return nil, err
	}
	eng.SetMetrics(m)
	eng.SetEmitter(events.Fanout{events.NewLogEmitter(logger), index})

	r := &Replay{
		logger:    logger,
		admin:     ec.Admin,
		guardian:  ec.EmergencyWithdrawer,
		bank:      bank,
		amm:       amm,
		borrowers: borrowers,
		engine:    eng,
		metrics:   m,
		index:     index,
		registry:  registry,
		steps:     sc.Steps,
	}

	pools, err := cfg.PoolSpecs()
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		if _, err := eng.CreatePool(r.admin, p.Asset, p.RewardRate); err != nil {
			return nil, fmt.Errorf("failed to create pool for %s: %w", p.Asset.Hex(), err)
		}
	}
	if err := r.seed(sc); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Replay) seed(sc *Scenario) error {
	for i, b := range sc.Balances {
		holder, err := parseAddress(b.Holder)
		if err != nil {
			return fmt.Errorf("balances[%d].holder: %w", i, err)
		}
		asset, err := parseAddress(b.Asset)
		if err != nil {
			return fmt.Errorf("balances[%d].asset: %w", i, err)
		}
		amount, err := fixed.ParseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("balances[%d].amount: %w", i, err)
		}
		if err := r.bank.Mint(asset, holder, amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}

	for i, v := range sc.Venues {
		if err := r.addVenue(v); err != nil {
			return fmt.Errorf("venues[%d]: %w", i, err)
		}
	}

	for i, b := range sc.Borrowers {
		addr, err := parseAddress(b.Address)
		if err != nil {
			return fmt.Errorf("borrowers[%d].address: %w", i, err)
		}
		recv, err := r.receiver(b)
		if err != nil {
			return fmt.Errorf("borrowers[%d]: %w", i, err)
		}
		if err := r.borrowers.Register(addr, recv); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replay) addVenue(v VenueSpec) error {
	addr, err := parseAddress(v.Address)
	if err != nil {
		return err
	}
	token0, err := parseAddress(v.Token0)
	if err != nil {
		return err
	}
	token1, err := parseAddress(v.Token1)
	if err != nil {
		return err
	}
	if err := r.amm.AddVenue(addr, dex.Venue{Name: v.Name, Token0: token0, Token1: token1, FeeBps: v.FeeBps}); err != nil {
		return err
	}
	for _, res := range []struct {
		token  common.Address
		amount string
	}{{token0, v.Reserve0}, {token1, v.Reserve1}} {
		amount, err := fixed.ParseAmount(res.amount)
		if err != nil {
			return err
		}
		if err := r.bank.Mint(res.token, addr, amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replay) receiver(b BorrowerSpec) (flashloan.Receiver, error) {
	custodyAddr := r.bank.Custody()
	switch b.Kind {
	case "repay":
		tip, err := optionalAmount(b.Tip)
		if err != nil {
			return nil, err
		}
		return flashloan.Repayer{Funds: r.bank, Lender: custodyAddr, Tip: tip}, nil
	case "short":
		shortfall, err := optionalAmount(b.Shortfall)
		if err != nil {
			return nil, err
		}
		return flashloan.ShortPayer{Funds: r.bank, Lender: custodyAddr, Shortfall: shortfall}, nil
	case "route":
		route := make([]flashloan.Hop, 0, len(b.Route))
		for _, h := range b.Route {
			venue, err := parseAddress(h.Venue)
			if err != nil {
				return nil, err
			}
			out, err := parseAddress(h.TokenOut)
			if err != nil {
				return nil, err
			}
			route = append(route, flashloan.Hop{Venue: venue, TokenOut: out})
		}
		return flashloan.RouteTrader{Funds: r.bank, Swaps: r.amm, Lender: custodyAddr, Route: route}, nil
	default:
		return nil, fmt.Errorf("unknown borrower kind %q", b.Kind)
	}
}

// Run replays every step in order. A step whose outcome differs from its
// expectation is reported but does not stop the replay.
func (r *Replay) Run(w io.Writer) []StepResult {
	results := make([]StepResult, 0, len(r.steps))
	for i, step := range r.steps {
		detail, err := r.apply(step)
		want := step.Expect
		if want == "" {
			want = "ok"
		}
		got := "ok"
		if err != nil {
			got = types.Kind(err)
		}
		res := StepResult{Index: i, Op: step.Op, Detail: detail, Err: err, Matched: got == want}
		results = append(results, res)

		mark := "✓"
		if !res.Matched {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s #%-3d %-20s %-22s %s\n", mark, i, step.Op, got, detail)
		if !res.Matched {
			fmt.Fprintf(w, "      expected %s: %v\n", want, err)
		}
	}
	return results
}

func (r *Replay) apply(s Step) (string, error) {
	e := r.engine
	switch s.Op {
	case "advance":
		return fmt.Sprintf("tick=%d", s.Tick), e.AdvanceTo(s.Tick)

	case "deposit", "withdraw":
		caller, amount, err := r.callerAndAmount(s)
		if err != nil {
			return "", err
		}
		if s.Op == "withdraw" {
			return fmt.Sprintf("pool=%d amount=%s", s.Pool, amount.Dec()), e.Withdraw(caller, s.Pool, amount)
		}
		value, err := optionalAmount(s.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pool=%d amount=%s", s.Pool, amount.Dec()), e.Deposit(caller, s.Pool, amount, value)

	case "claim":
		caller, err := parseAddress(s.Caller)
		if err != nil {
			return "", err
		}
		claimed, err := e.ClaimRewards(caller)
		if err != nil {
			return "", err
		}
		return "claimed=" + claimed.Dec(), nil

	case "arbitrage":
		return r.arbitrage(s)

	case "flashloan":
		caller, amount, err := r.callerAndAmount(s)
		if err != nil {
			return "", err
		}
		asset, err := parseAddress(s.Asset)
		if err != nil {
			return "", err
		}
		fee, err := e.FlashLoan(caller, types.FlashLoanIntent{Asset: asset, Amount: amount, Data: []byte(s.Data)})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("amount=%s fee=%s", amount.Dec(), fee.Dec()), nil

	case "strategy":
		return r.strategy(s)

	case "emergency_withdraw":
		caller := r.guardian
		if s.Caller != "" {
			var err error
			if caller, err = parseAddress(s.Caller); err != nil {
				return "", err
			}
		}
		asset, err := parseAddress(s.Asset)
		if err != nil {
			return "", err
		}
		to, err := parseAddress(s.To)
		if err != nil {
			return "", err
		}
		amount, err := fixed.ParseAmount(s.Amount)
		if err != nil {
			return "", err
		}
		return "amount=" + amount.Dec(), e.EmergencyWithdraw(caller, asset, to, amount)
	}

	return r.adminStep(s)
}

func (r *Replay) adminStep(s Step) (string, error) {
	e := r.engine
	caller := r.admin
	if s.Caller != "" {
		var err error
		if caller, err = parseAddress(s.Caller); err != nil {
			return "", err
		}
	}

	switch s.Op {
	case "pause":
		return "", e.SetPaused(caller, true)
	case "unpause":
		return "", e.SetPaused(caller, false)
	case "set_arbitrage":
		return fmt.Sprintf("enabled=%t", s.Enabled), e.SetArbitrageEnabled(caller, s.Enabled)
	case "set_flash_loans":
		return fmt.Sprintf("enabled=%t", s.Enabled), e.SetFlashLoansEnabled(caller, s.Enabled)
	case "set_platform_fee":
		return fmt.Sprintf("bps=%d", s.Bps), e.SetPlatformFee(caller, s.Bps)
	case "set_flash_loan_fee":
		return fmt.Sprintf("bps=%d", s.Bps), e.SetFlashLoanFee(caller, s.Bps)
	case "set_pool_active":
		return fmt.Sprintf("pool=%d active=%t", s.Pool, s.Enabled), e.SetPoolActive(caller, s.Pool, s.Enabled)
	case "set_reward_rate":
		rate, err := fixed.ParseAmount(s.Amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pool=%d rate=%s", s.Pool, rate.Dec()), e.SetRewardRate(caller, s.Pool, rate)
	case "create_pool":
		asset, err := parseAddress(s.Asset)
		if err != nil {
			return "", err
		}
		rate, err := fixed.ParseAmount(s.Amount)
		if err != nil {
			return "", err
		}
		id, err := e.CreatePool(caller, asset, rate)
		return fmt.Sprintf("pool=%d", id), err
	case "authorize_venue":
		venue, err := parseAddress(s.Venue)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("venue=%s authorized=%t", venue.Hex(), s.Enabled), e.AuthorizeVenue(caller, venue, s.Enabled)
	}
	return "", fmt.Errorf("%w: unknown op %q", types.ErrInvalidInput, s.Op)
}

// arbitrage builds both leg payloads. Leg B sells what leg A is quoted to
// buy at the moment the step runs.
func (r *Replay) arbitrage(s Step) (string, error) {
	caller, amount, err := r.callerAndAmount(s)
	if err != nil {
		return "", err
	}
	var addrs [4]common.Address
	for i, raw := range []string{s.Asset, s.AssetOut, s.VenueA, s.VenueB} {
		if addrs[i], err = parseAddress(raw); err != nil {
			return "", err
		}
	}
	assetIn, assetOut, venueA, venueB := addrs[0], addrs[1], addrs[2], addrs[3]
	minOut, err := optionalAmount(s.MinOut)
	if err != nil {
		return "", err
	}

	legA := dex.SwapCall{TokenIn: assetIn, TokenOut: assetOut, AmountIn: amount}
	bought, err := r.amm.Quote(venueA, legA)
	if err != nil || bought.IsZero() {
		bought = amount
	}
	payloadA, err := dex.EncodeSwap(legA)
	if err != nil {
		return "", err
	}
	payloadB, err := dex.EncodeSwap(dex.SwapCall{TokenIn: assetOut, TokenOut: assetIn, AmountIn: bought})
	if err != nil {
		return "", err
	}

	res, err := r.engine.ExecuteArbitrage(caller, types.ArbitrageIntent{
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		VenueA:       venueA,
		VenueB:       venueB,
		AmountIn:     amount,
		MinAmountOut: minOut,
		PayloadA:     payloadA,
		PayloadB:     payloadB,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("profit=%s fee=%s user=%s", res.Profit.Dec(), res.Fee.Dec(), res.UserProfit.Dec()), nil
}

func (r *Replay) strategy(s Step) (string, error) {
	caller, amount, err := r.callerAndAmount(s)
	if err != nil {
		return "", err
	}
	var addrs [3]common.Address
	for i, raw := range []string{s.Asset, s.AssetOut, s.Venue} {
		if addrs[i], err = parseAddress(raw); err != nil {
			return "", err
		}
	}
	minOut, err := optionalAmount(s.MinOut)
	if err != nil {
		return "", err
	}

	kind := types.StrategyType(255)
	for _, t := range []types.StrategyType{types.StrategySwap, types.StrategySwapAndDeposit} {
		if t.String() == s.Strategy {
			kind = t
		}
	}
	payload, err := dex.EncodeSwap(dex.SwapCall{TokenIn: addrs[0], TokenOut: addrs[1], AmountIn: amount})
	if err != nil {
		return "", err
	}

	out, err := r.engine.ExecuteStrategy(caller, types.StrategyIntent{
		Type:         kind,
		AssetIn:      addrs[0],
		AssetOut:     addrs[1],
		Venue:        addrs[2],
		AmountIn:     amount,
		MinAmountOut: minOut,
		Payload:      payload,
		PoolID:       s.Pool,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s out=%s", kind, out.Dec()), nil
}

func (r *Replay) callerAndAmount(s Step) (common.Address, *uint256.Int, error) {
	caller, err := parseAddress(s.Caller)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := optionalAmount(s.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return caller, amount, nil
}

// Summary prints ledger totals, custody holdings and call metrics.
func (r *Replay) Summary(w io.Writer) {
	totals := r.engine.Totals()
	fmt.Fprintf(w, "\ntick                    %d\n", r.engine.Tick())
	fmt.Fprintf(w, "total value locked      %s\n", totals.TotalValueLocked.Dec())
	fmt.Fprintf(w, "total volume            %s\n", totals.TotalVolume.Dec())
	fmt.Fprintf(w, "total arbitrage profit  %s\n", totals.TotalArbitrageProfit.Dec())
	fmt.Fprintf(w, "success rate            %.2f\n", r.metrics.SuccessRate())

	holdings := r.bank.Holdings(r.bank.Custody())
	assets := make([]common.Address, 0, len(holdings))
	for asset := range holdings {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Cmp(assets[j]) < 0 })
	for _, asset := range assets {
		fmt.Fprintf(w, "custody %s  %s\n", asset.Hex(), holdings[asset].Dec())
	}
}

// RecentEvents prints up to limit committed events of account, newest first.
func (r *Replay) RecentEvents(w io.Writer, account common.Address, limit int) {
	for _, ev := range r.index.Recent(account, limit) {
		attrs := events.Attributes(ev)
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "  %s", ev.EventType())
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%s", k, attrs[k])
		}
		fmt.Fprintln(w)
	}
}

func (r *Replay) Engine() *engine.Engine          { return r.engine }
func (r *Replay) Metrics() *metrics.EngineMetrics { return r.metrics }
func (r *Replay) Registry() *prometheus.Registry  { return r.registry }

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not an address", types.ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}

func optionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return fixed.ParseAmount(s)
}
