package funding

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/lp-agent/internal/chains"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/pricing"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// Policy holds the funding thresholds. Fractions are relative to the full
// position target unless noted otherwise. Zero values fall back to defaults.
type Policy struct {
	// BridgeTriggerPct: bridge in funds when local liquidity covers less than
	// this share of the target.
	BridgeTriggerPct float64
	// SwapTriggerPct: swap into a side when it covers less than this share of
	// its half of the target. Also the floor a side must reach or the whole
	// funding attempt aborts.
	SwapTriggerPct float64
	// DustTolerancePct: shortfalls below this share of a half-target are
	// ignored rather than swapped.
	DustTolerancePct float64
	// MaxPriceImpactPct aborts any swap whose quoted impact exceeds it.
	MaxPriceImpactPct float64
}

const (
	defaultBridgeTriggerPct  = 0.50
	defaultSwapTriggerPct    = 0.30
	defaultDustTolerancePct  = 0.05
	defaultMaxPriceImpactPct = 3.0

	bridgePollInterval = 10 * time.Second
	bridgeWaitTimeout  = 4 * time.Minute
)

func (p Policy) withDefaults() Policy {
	if p.BridgeTriggerPct <= 0 {
		p.BridgeTriggerPct = defaultBridgeTriggerPct
	}
	if p.SwapTriggerPct <= 0 {
		p.SwapTriggerPct = defaultSwapTriggerPct
	}
	if p.DustTolerancePct <= 0 {
		p.DustTolerancePct = defaultDustTolerancePct
	}
	if p.MaxPriceImpactPct <= 0 {
		p.MaxPriceImpactPct = defaultMaxPriceImpactPct
	}
	return p
}

// nativeGasReserveWei is never spent on wrapping; it stays behind to pay for
// the mint and later exits.
var nativeGasReserveWei = big.NewInt(2_000_000_000_000_000)

// Backend is the slice of the chain pool the orchestrator needs.
type Backend interface {
	ERC20Balance(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error)
	Slot0(ctx context.Context, chainID int64, pool common.Address, variant registry.ABIVariant) (*big.Int, int64, error)
	Send(ctx context.Context, chainID int64, to common.Address, value *big.Int, data []byte, opts chains.SendOptions) (*chains.SendResult, error)
}

// Target describes what the funding run must produce: enough of both pool
// tokens on the pool's chain to open a position of the requested size.
type Target struct {
	ChainID     int64
	PoolAddress common.Address
	Variant     registry.ABIVariant
	Token0      model.PoolToken
	Token1      model.PoolToken
	TargetUSD   float64
	Owner       common.Address
}

// Step is one recorded funding action, executed or planned.
type Step struct {
	Phase       string  `json:"phase"`
	Description string  `json:"description"`
	TxHash      string  `json:"tx_hash,omitempty"`
	AmountUSD   float64 `json:"amount_usd,omitempty"`
	Executed    bool    `json:"executed"`
}

// Result is the funding outcome: what was done and how much of each pool
// token is now committed to the mint.
type Result struct {
	Steps      []Step   `json:"steps"`
	Amount0    *big.Int `json:"-"`
	Amount1    *big.Int `json:"-"`
	Funded0USD float64  `json:"funded0_usd"`
	Funded1USD float64  `json:"funded1_usd"`
}

// Orchestrator prepares both sides of a position: it assesses local holdings,
// bridges in stablecoins when the chain is dry, swaps into the pool tokens,
// and wraps native when the pool wants the wrapped token.
type Orchestrator struct {
	backend      Backend
	swap         SwapService
	bridge       BridgeService
	oracle       *pricing.Oracle
	log          *zap.Logger
	dryRun       bool
	sourceChains []int64
	policy       Policy
}

func NewOrchestrator(backend Backend, swap SwapService, bridge BridgeService, oracle *pricing.Oracle, sourceChains []int64, dryRun bool, log *zap.Logger) *Orchestrator {
	if swap == nil {
		swap = UnconfiguredSwap{}
	}
	if bridge == nil {
		bridge = UnconfiguredBridge{}
	}
	return &Orchestrator{
		backend:      backend,
		swap:         swap,
		bridge:       bridge,
		oracle:       oracle,
		log:          log,
		dryRun:       dryRun,
		sourceChains: sourceChains,
		policy:       Policy{}.withDefaults(),
	}
}

// WithPolicy overrides the funding thresholds. Zero fields keep defaults.
func (o *Orchestrator) WithPolicy(p Policy) *Orchestrator {
	o.policy = p.withDefaults()
	return o
}

type sideState struct {
	token   model.PoolToken
	balance *big.Int
	unitUSD float64
	usd     float64
}

// Fund runs the assess, bridge, swap and wrap phases for the target. In
// dry-run mode every mutating step is recorded as planned and projected
// amounts stand in for executed ones.
func (o *Orchestrator) Fund(ctx context.Context, target Target) (*Result, error) {
	if target.TargetUSD <= 0 {
		return nil, lperr.New(lperr.CodeUsage, "funding target must be positive")
	}
	halfUSD := target.TargetUSD / 2
	result := &Result{}

	sides := [2]*sideState{
		{token: target.Token0},
		{token: target.Token1},
	}
	for _, side := range sides {
		balance, err := o.backend.ERC20Balance(ctx, target.ChainID, common.HexToAddress(side.token.Address), target.Owner)
		if err != nil {
			return nil, lperr.Wrap(lperr.CodeFunding, "read pool token balance", err)
		}
		side.balance = balance
		side.unitUSD = o.unitUSD(ctx, target, side.token)
		side.usd = humanAmount(balance, side.token.Decimals) * side.unitUSD
	}

	stable, stableBalance, stableUSD, stableIsSide, err := o.fundingStable(ctx, target, sides, halfUSD)
	if err != nil {
		return nil, err
	}

	available := sides[0].usd + sides[1].usd
	if !stableIsSide {
		available += stableUSD
	}
	result.Steps = append(result.Steps, Step{
		Phase: "assess",
		Description: fmt.Sprintf("holdings %.2f USD against %.2f USD target (token0 %.2f, token1 %.2f, stable %.2f)",
			available, target.TargetUSD, sides[0].usd, sides[1].usd, stableUSD),
		Executed: true,
	})

	// Phase failures below are soft: each leaves the gap for the next phase,
	// and only the aggregate checks at the end are hard failures.
	if available < o.policy.BridgeTriggerPct*target.TargetUSD {
		bridgedUSD := o.bridgeIn(ctx, target, stable, target.TargetUSD-available, stableBalance, result)
		stableUSD += bridgedUSD
	}

	// Wrap first, then split the stable budget across whichever sides still
	// need a swap in proportion to their gaps. A sequential spend would let
	// the first side drain the stable and starve the second.
	var swapSides []*sideState
	combinedNeed := 0.0
	for _, side := range sides {
		need := halfUSD - side.usd
		if need <= o.policy.DustTolerancePct*halfUSD {
			continue
		}
		if registry.IsWrappedNative(target.ChainID, side.token.Address) {
			if o.wrapNative(ctx, target, side, need, result) {
				continue
			}
		}
		if side.usd < o.policy.SwapTriggerPct*halfUSD {
			swapSides = append(swapSides, side)
			combinedNeed += halfUSD - side.usd
		}
	}
	share := 1.0
	if combinedNeed > stableUSD && combinedNeed > 0 {
		share = stableUSD / combinedNeed
	}
	for _, side := range swapSides {
		spendUSD := (halfUSD - side.usd) * share
		if o.swapIn(ctx, target, stable, side, spendUSD, result) {
			stableUSD -= spendUSD
		}
	}

	if (sides[0].usd < o.policy.DustTolerancePct*halfUSD) != (sides[1].usd < o.policy.DustTolerancePct*halfUSD) {
		from, to := sides[0], sides[1]
		if from.usd < to.usd {
			from, to = to, from
		}
		o.zap(ctx, target, from, to, result)
	}

	negligible0 := sides[0].usd < o.policy.DustTolerancePct*halfUSD
	negligible1 := sides[1].usd < o.policy.DustTolerancePct*halfUSD
	switch {
	case negligible0 && negligible1:
		return nil, lperr.Newf(lperr.CodeFunding, "funding produced nothing usable on either side of %s/%s", target.Token0.Symbol, target.Token1.Symbol)
	case negligible0:
		return nil, lperr.Newf(lperr.CodeFunding, "cannot mint in-range with only %s: %s side is empty", target.Token1.Symbol, target.Token0.Symbol)
	case negligible1:
		return nil, lperr.Newf(lperr.CodeFunding, "cannot mint in-range with only %s: %s side is empty", target.Token0.Symbol, target.Token1.Symbol)
	}
	if total := sides[0].usd + sides[1].usd; total < o.policy.SwapTriggerPct*target.TargetUSD {
		return nil, lperr.Newf(lperr.CodeFunding, "funded %.2f USD of a %.2f USD target, not worth the gas", total, target.TargetUSD)
	}

	result.Amount0 = o.commitAmount(sides[0], halfUSD)
	result.Amount1 = o.commitAmount(sides[1], halfUSD)
	result.Funded0USD = sides[0].usd
	result.Funded1USD = sides[1].usd
	return result, nil
}

// fundingStable picks the chain's preferred stablecoin and works out how much
// of it is spendable on funding. A stable that is itself one of the pool
// tokens only contributes its surplus above that side's half-target.
func (o *Orchestrator) fundingStable(ctx context.Context, target Target, sides [2]*sideState, halfUSD float64) (model.PoolToken, *big.Int, float64, bool, error) {
	stables := registry.Stablecoins(target.ChainID)
	if len(stables) == 0 {
		return model.PoolToken{}, big.NewInt(0), 0, false, lperr.Newf(lperr.CodeFunding, "no registered stablecoin on chain %d", target.ChainID)
	}
	stable := stables[0]
	for _, side := range sides {
		if strings.EqualFold(stable.Address, side.token.Address) {
			surplus := side.usd - halfUSD
			if surplus < 0 {
				surplus = 0
			}
			return stable, new(big.Int).Set(side.balance), surplus, true, nil
		}
	}
	balance, err := o.backend.ERC20Balance(ctx, target.ChainID, common.HexToAddress(stable.Address), target.Owner)
	if err != nil {
		return model.PoolToken{}, nil, 0, false, lperr.Wrap(lperr.CodeFunding, "read stable balance", err)
	}
	return stable, balance, humanAmount(balance, stable.Decimals), false, nil
}

// bridgeIn moves the preferred stablecoin from the richest other chain. Every
// failure here is soft: an unconfigured provider, an empty source, or a
// failed transfer just leaves the gap to the later phases.
func (o *Orchestrator) bridgeIn(ctx context.Context, target Target, stable model.PoolToken, neededUSD float64, localStable *big.Int, result *Result) float64 {
	sourceChain, sourceToken, sourceBalance := o.richestSource(ctx, target)
	if sourceChain == 0 || sourceBalance.Sign() == 0 {
		o.log.Warn("no bridge source with stable balance", zap.Int64("target_chain", target.ChainID))
		return 0
	}

	amount := baseUnits(neededUSD, sourceToken.Decimals)
	if amount.Cmp(sourceBalance) > 0 {
		amount = new(big.Int).Set(sourceBalance)
	}
	quote, err := o.bridge.QuoteBridge(ctx, sourceChain, target.ChainID,
		common.HexToAddress(sourceToken.Address), common.HexToAddress(stable.Address), amount, target.Owner)
	if err != nil {
		o.log.Warn("bridge quote unavailable, skipping bridge phase", zap.Error(err))
		return 0
	}

	bridgedUSD := humanAmount(quote.EstimatedOut, stable.Decimals)
	step := Step{
		Phase:       "bridge",
		Description: fmt.Sprintf("bridge %s %s from chain %d via %s", amount, sourceToken.Symbol, sourceChain, quote.Route),
		AmountUSD:   bridgedUSD,
	}
	if o.dryRun {
		result.Steps = append(result.Steps, step)
		return bridgedUSD
	}

	if err := o.ensureAllowance(ctx, sourceChain, common.HexToAddress(sourceToken.Address), target.Owner, quote.ApprovalSpender, amount, result); err != nil {
		o.log.Warn("bridge approval failed", zap.Error(err))
		return 0
	}
	sent, err := o.backend.Send(ctx, sourceChain, quote.To, quote.Value, quote.Data, chains.SendOptions{})
	if err != nil {
		o.log.Warn("bridge transaction failed", zap.Error(err))
		return 0
	}
	step.TxHash = sent.TxHash
	step.Executed = true
	result.Steps = append(result.Steps, step)

	if err := o.awaitBridgeArrival(ctx, target, stable, localStable); err != nil {
		o.log.Warn("bridge transfer not confirmed on target chain", zap.Error(err))
		return 0
	}
	return bridgedUSD
}

// richestSource scans the other configured chains for the largest preferred
// stablecoin balance.
func (o *Orchestrator) richestSource(ctx context.Context, target Target) (int64, model.PoolToken, *big.Int) {
	best := big.NewInt(0)
	var bestChain int64
	var bestToken model.PoolToken
	for _, chainID := range o.sourceChains {
		if chainID == target.ChainID {
			continue
		}
		stables := registry.Stablecoins(chainID)
		if len(stables) == 0 {
			continue
		}
		balance, err := o.backend.ERC20Balance(ctx, chainID, common.HexToAddress(stables[0].Address), target.Owner)
		if err != nil {
			o.log.Warn("bridge source scan failed", zap.Int64("chain_id", chainID), zap.Error(err))
			continue
		}
		if balance.Cmp(best) > 0 {
			best = balance
			bestChain = chainID
			bestToken = stables[0]
		}
	}
	return bestChain, bestToken, best
}

func (o *Orchestrator) awaitBridgeArrival(ctx context.Context, target Target, stable model.PoolToken, before *big.Int) error {
	deadline := time.Now().Add(bridgeWaitTimeout)
	for {
		if time.Now().After(deadline) {
			return lperr.New(lperr.CodeTimeout, "bridge transfer did not arrive in time")
		}
		select {
		case <-ctx.Done():
			return lperr.Wrap(lperr.CodeTimeout, "await bridge arrival", ctx.Err())
		case <-time.After(bridgePollInterval):
		}
		balance, err := o.backend.ERC20Balance(ctx, target.ChainID, common.HexToAddress(stable.Address), target.Owner)
		if err != nil {
			continue
		}
		if balance.Cmp(before) > 0 {
			return nil
		}
	}
}

// swapIn converts spendUSD of the funding stable into the side's token,
// reporting whether it contributed anything. The price impact gate refuses to
// drain a thin pool to fund ourselves; like every other phase failure it is
// soft, and the final coverage checks decide the outcome.
func (o *Orchestrator) swapIn(ctx context.Context, target Target, stable model.PoolToken, side *sideState, spendUSD float64, result *Result) bool {
	if spendUSD <= 0 {
		o.log.Warn("no stable liquidity left to swap", zap.String("token", side.token.Symbol))
		return false
	}
	amountIn := baseUnits(spendUSD, stable.Decimals)
	quote, err := o.swap.QuoteSwap(ctx, target.ChainID,
		common.HexToAddress(stable.Address), common.HexToAddress(side.token.Address), amountIn, target.Owner)
	if err != nil {
		o.log.Warn("swap quote unavailable", zap.String("token", side.token.Symbol), zap.Error(err))
		return false
	}
	if quote.PriceImpactPct > o.policy.MaxPriceImpactPct {
		o.log.Warn("swap skipped on price impact",
			zap.String("token", side.token.Symbol),
			zap.Float64("impact_pct", quote.PriceImpactPct),
			zap.Float64("limit_pct", o.policy.MaxPriceImpactPct))
		return false
	}

	step := Step{
		Phase:       "swap",
		Description: fmt.Sprintf("swap %s %s into %s via %s", amountIn, stable.Symbol, side.token.Symbol, quote.Route),
		AmountUSD:   spendUSD,
	}
	if o.dryRun {
		result.Steps = append(result.Steps, step)
		o.project(side, quote.AmountOut, spendUSD)
		return true
	}

	if err := o.ensureAllowance(ctx, target.ChainID, common.HexToAddress(stable.Address), target.Owner, quote.ApprovalSpender, amountIn, result); err != nil {
		o.log.Warn("swap approval failed", zap.Error(err))
		return false
	}
	sent, err := o.backend.Send(ctx, target.ChainID, quote.To, quote.Value, quote.Data, chains.SendOptions{})
	if err != nil {
		o.log.Warn("swap transaction failed", zap.Error(err))
		return false
	}
	step.TxHash = sent.TxHash
	step.Executed = true
	result.Steps = append(result.Steps, step)

	balance, err := o.backend.ERC20Balance(ctx, target.ChainID, common.HexToAddress(side.token.Address), target.Owner)
	if err != nil {
		o.log.Warn("balance re-read after swap failed", zap.Error(err))
		o.project(side, quote.AmountOut, spendUSD)
		return true
	}
	side.balance = balance
	side.usd = humanAmount(balance, side.token.Decimals) * side.unitUSD
	if side.unitUSD == 0 {
		side.usd += spendUSD
	}
	return true
}

// wrapNative covers a wrapped-native shortfall by depositing native, keeping
// the gas reserve untouched. Returns false when native cannot cover the need,
// letting the swap path take over.
func (o *Orchestrator) wrapNative(ctx context.Context, target Target, side *sideState, needUSD float64, result *Result) bool {
	nativeUSD := o.oracle.NativeTokenPrice(target.ChainID)
	if nativeUSD <= 0 {
		return false
	}
	nativeBalance, err := o.backend.NativeBalance(ctx, target.ChainID, target.Owner)
	if err != nil {
		o.log.Warn("native balance read failed", zap.Error(err))
		return false
	}
	spendable := new(big.Int).Sub(nativeBalance, nativeGasReserveWei)
	needWei := baseUnits(needUSD/nativeUSD, 18)
	if spendable.Cmp(needWei) < 0 {
		return false
	}

	step := Step{
		Phase:       "wrap",
		Description: fmt.Sprintf("wrap %s wei into %s", needWei, side.token.Symbol),
		AmountUSD:   needUSD,
	}
	if o.dryRun {
		result.Steps = append(result.Steps, step)
		o.project(side, needWei, needUSD)
		return true
	}

	weth9, err := registry.WETH9()
	if err != nil {
		o.log.Warn("weth9 abi unavailable", zap.Error(err))
		return false
	}
	data, err := weth9.Pack("deposit")
	if err != nil {
		o.log.Warn("pack deposit failed", zap.Error(err))
		return false
	}
	sent, err := o.backend.Send(ctx, target.ChainID, common.HexToAddress(side.token.Address), needWei, data, chains.SendOptions{})
	if err != nil {
		o.log.Warn("wrap transaction failed", zap.Error(err))
		return false
	}
	step.TxHash = sent.TxHash
	step.Executed = true
	result.Steps = append(result.Steps, step)

	side.balance = new(big.Int).Add(side.balance, needWei)
	side.usd += needUSD
	return true
}

// zap is the single-sided recovery: when one side came up empty but the other
// is funded, swap half of the held side directly into the missing token. This
// is the fallback for pools whose second token has no stablecoin route.
func (o *Orchestrator) zap(ctx context.Context, target Target, from, to *sideState, result *Result) {
	amountIn := new(big.Int).Rsh(from.balance, 1)
	if amountIn.Sign() == 0 {
		return
	}
	quote, err := o.swap.QuoteSwap(ctx, target.ChainID,
		common.HexToAddress(from.token.Address), common.HexToAddress(to.token.Address), amountIn, target.Owner)
	if err != nil {
		o.log.Warn("zap quote unavailable", zap.String("token", to.token.Symbol), zap.Error(err))
		return
	}
	if quote.PriceImpactPct > o.policy.MaxPriceImpactPct {
		o.log.Warn("zap skipped on price impact", zap.Float64("impact_pct", quote.PriceImpactPct))
		return
	}

	usdMoved := from.usd / 2
	step := Step{
		Phase:       "zap",
		Description: fmt.Sprintf("zap %s %s into %s via %s", amountIn, from.token.Symbol, to.token.Symbol, quote.Route),
		AmountUSD:   usdMoved,
	}
	if o.dryRun {
		result.Steps = append(result.Steps, step)
		from.balance = new(big.Int).Sub(from.balance, amountIn)
		from.usd -= usdMoved
		o.project(to, quote.AmountOut, usdMoved)
		return
	}

	if err := o.ensureAllowance(ctx, target.ChainID, common.HexToAddress(from.token.Address), target.Owner, quote.ApprovalSpender, amountIn, result); err != nil {
		o.log.Warn("zap approval failed", zap.Error(err))
		return
	}
	sent, err := o.backend.Send(ctx, target.ChainID, quote.To, quote.Value, quote.Data, chains.SendOptions{})
	if err != nil {
		o.log.Warn("zap transaction failed", zap.Error(err))
		return
	}
	step.TxHash = sent.TxHash
	step.Executed = true
	result.Steps = append(result.Steps, step)

	from.balance = new(big.Int).Sub(from.balance, amountIn)
	from.usd -= usdMoved
	balance, err := o.backend.ERC20Balance(ctx, target.ChainID, common.HexToAddress(to.token.Address), target.Owner)
	if err != nil {
		o.project(to, quote.AmountOut, usdMoved)
		return
	}
	to.balance = balance
	to.usd = humanAmount(balance, to.token.Decimals) * to.unitUSD
	if to.unitUSD == 0 {
		to.usd += usdMoved
	}
}

func (o *Orchestrator) ensureAllowance(ctx context.Context, chainID int64, token, owner, spender common.Address, amount *big.Int, result *Result) error {
	if spender == (common.Address{}) {
		return nil
	}
	allowance, err := o.backend.Allowance(ctx, chainID, token, owner, spender)
	if err != nil {
		return lperr.Wrap(lperr.CodeFunding, "read allowance", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	erc20, err := registry.ERC20()
	if err != nil {
		return lperr.Wrap(lperr.CodeInternal, "erc20 abi", err)
	}
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return lperr.Wrap(lperr.CodeInternal, "pack approve", err)
	}
	sent, err := o.backend.Send(ctx, chainID, token, nil, data, chains.SendOptions{})
	if err != nil {
		return lperr.Wrap(lperr.CodeFunding, "send approval", err)
	}
	result.Steps = append(result.Steps, Step{
		Phase:       "approve",
		Description: fmt.Sprintf("approve %s to spend %s", spender.Hex(), amount),
		TxHash:      sent.TxHash,
		Executed:    true,
	})
	return nil
}

// project applies a planned step's output to a side without touching the
// chain, so dry-run coverage checks see what a live run would produce.
func (o *Orchestrator) project(side *sideState, amountOut *big.Int, usd float64) {
	if amountOut != nil {
		side.balance = new(big.Int).Add(side.balance, amountOut)
	}
	side.usd += usd
}

// commitAmount caps the committed balance at the half-target so a funding
// overshoot does not commit the whole wallet to one position.
func (o *Orchestrator) commitAmount(side *sideState, halfUSD float64) *big.Int {
	if side.unitUSD <= 0 {
		return new(big.Int).Set(side.balance)
	}
	limit := baseUnits(halfUSD/side.unitUSD, side.token.Decimals)
	if side.balance.Cmp(limit) < 0 {
		return new(big.Int).Set(side.balance)
	}
	return limit
}

// unitUSD values one human unit of a token: stables are a dollar, wrapped
// native follows the oracle, anything else is priced through the pool against
// its counterpart. An unpriceable token values to zero and is funded purely
// by swap output.
func (o *Orchestrator) unitUSD(ctx context.Context, target Target, token model.PoolToken) float64 {
	if registry.IsStablecoin(target.ChainID, token) {
		return 1
	}
	if registry.IsWrappedNative(target.ChainID, token.Address) {
		return o.oracle.NativeTokenPrice(target.ChainID)
	}

	other := target.Token1
	tokenIsZero := strings.EqualFold(token.Address, target.Token0.Address)
	if !tokenIsZero {
		other = target.Token0
	}
	otherUnit := 0.0
	switch {
	case registry.IsStablecoin(target.ChainID, other):
		otherUnit = 1
	case registry.IsWrappedNative(target.ChainID, other.Address):
		otherUnit = o.oracle.NativeTokenPrice(target.ChainID)
	}
	if otherUnit <= 0 {
		return 0
	}

	sqrtPrice, _, err := o.backend.Slot0(ctx, target.ChainID, target.PoolAddress, target.Variant)
	if err != nil {
		o.log.Warn("slot0 read for pricing failed", zap.Error(err))
		return 0
	}
	ratio := priceToken0InToken1(sqrtPrice, target.Token0.Decimals, target.Token1.Decimals)
	if ratio <= 0 {
		return 0
	}
	if tokenIsZero {
		return ratio * otherUnit
	}
	return otherUnit / ratio
}

// priceToken0InToken1 converts a Q64.96 sqrt price into the human price of
// one token0 in token1 units.
func priceToken0InToken1(sqrtPriceX96 *big.Int, decimals0, decimals1 int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0
	}
	sqrt := new(big.Float).SetInt(sqrtPriceX96)
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(sqrt, q96)
	ratio.Mul(ratio, ratio)
	raw, _ := ratio.Float64()
	return raw * math.Pow(10, float64(decimals0-decimals1))
}

func humanAmount(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

func baseUnits(human float64, decimals int) *big.Int {
	if human <= 0 {
		return big.NewInt(0)
	}
	f := new(big.Float).SetFloat64(human)
	scale := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}
