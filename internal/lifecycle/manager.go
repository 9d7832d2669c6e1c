package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ggonzalez94/lp-agent/internal/chains"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/funding"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/pricing"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

const (
	// mintGasUnits deliberately overshoots a typical concentrated-liquidity
	// mint (~350-450k) so the gas gate errs on the side of aborting.
	mintGasUnits    = 600_000
	maxGasSharePct  = 5.0
	mintDeadline    = 10 * time.Minute
	dryRunTxMarker  = "dry-run"
	rebalanceGasMin = 1.0
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Backend is the on-chain surface the lifecycle needs. chains.Pool satisfies
// it.
type Backend interface {
	FactoryPool(ctx context.Context, chainID int64, factory, tokenA, tokenB common.Address, feeOrSpacing int64, variant registry.ABIVariant) (common.Address, error)
	Slot0(ctx context.Context, chainID int64, pool common.Address, variant registry.ABIVariant) (*big.Int, int64, error)
	PositionDetails(ctx context.Context, chainID int64, mint common.Address, variant registry.ABIVariant, tokenID *big.Int) (chains.PositionData, error)
	ERC20Metadata(ctx context.Context, chainID int64, token common.Address) (model.PoolToken, error)
	Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error)
	GasPrice(ctx context.Context, chainID int64) (*big.Int, error)
	PendingNonce(ctx context.Context, chainID int64, account common.Address) (uint64, error)
	EstimateContractGas(ctx context.Context, chainID int64, to common.Address, value *big.Int, data []byte) (uint64, error)
	Send(ctx context.Context, chainID int64, to common.Address, value *big.Int, data []byte, opts chains.SendOptions) (*chains.SendResult, error)
}

// Funder prepares both sides of a position before a mint.
type Funder interface {
	Fund(ctx context.Context, target funding.Target) (*funding.Result, error)
}

// Discoverer supplies ranked pool candidates for rebalancing.
type Discoverer interface {
	DiscoverPools(ctx context.Context, force bool) ([]model.ScoredPool, error)
}

// RecordStore persists the positions this wallet opened.
type RecordStore interface {
	Save(record model.EvmLpRecord) error
	Delete(chainID int64, posID string) error
}

// TxRef identifies one broadcast transaction within a lifecycle operation.
type TxRef struct {
	Action  string `json:"action"`
	TxHash  string `json:"tx_hash"`
	GasUsed uint64 `json:"gas_used"`
}

type OpenResult struct {
	PosID          string         `json:"pos_id"`
	TxHash         string         `json:"tx_hash"`
	ChainID        int64          `json:"chain_id"`
	Protocol       string         `json:"protocol"`
	PoolAddress    string         `json:"pool_address"`
	TickLower      int64          `json:"tick_lower"`
	TickUpper      int64          `json:"tick_upper"`
	DeployUSD      float64        `json:"deploy_usd"`
	FundedUSD      float64        `json:"funded_usd"`
	FundingSteps   []funding.Step `json:"funding_steps"`
	GasPriceWei    string         `json:"gas_price_wei"`
	GasEstimateUSD float64        `json:"gas_estimate_usd"`
	NativeUSD      float64        `json:"native_usd"`
	DryRun         bool           `json:"dry_run"`
	// Chain reads the dry run performed to produce the plan. Dry-run
	// suppresses transactions, not reads.
	ConsultedReads []string `json:"consulted_reads,omitempty"`
}

type CloseResult struct {
	PosID        string  `json:"pos_id"`
	ChainID      int64   `json:"chain_id"`
	Txs          []TxRef `json:"txs"`
	BurnFailed   bool    `json:"burn_failed,omitempty"`
	Recovered0   string  `json:"recovered_0"`
	Recovered1   string  `json:"recovered_1"`
	RecoveredUSD float64 `json:"recovered_usd"`
	DryRun       bool    `json:"dry_run"`
}

type ClaimResult struct {
	PosID    string  `json:"pos_id"`
	TxHash   string  `json:"tx_hash"`
	Claimed0 string  `json:"claimed_0"`
	Claimed1 string  `json:"claimed_1"`
	USD      float64 `json:"usd"`
	DryRun   bool    `json:"dry_run"`
}

type RebalanceResult struct {
	Close     *CloseResult `json:"close"`
	Open      *OpenResult  `json:"open,omitempty"`
	CloseOnly bool         `json:"close_only"`
	Reason    string       `json:"reason,omitempty"`
}

// Manager drives the position state machine: none, minted, fees claimed any
// number of times, closed. It keeps no state between calls beyond the record
// store; everything else is re-read on-chain.
type Manager struct {
	backend Backend
	funder  Funder
	disc    Discoverer
	records RecordStore
	oracle  *pricing.Oracle
	owner   common.Address
	dryRun  bool
	log     *zap.Logger
	now     func() time.Time
}

func NewManager(backend Backend, funder Funder, disc Discoverer, records RecordStore, oracle *pricing.Oracle, owner common.Address, dryRun bool, log *zap.Logger) *Manager {
	return &Manager{
		backend: backend,
		funder:  funder,
		disc:    disc,
		records: records,
		oracle:  oracle,
		owner:   owner,
		dryRun:  dryRun,
		log:     log.Named("lifecycle"),
		now:     time.Now,
	}
}

// Open mints a new position in the pool around the current tick. The flow is
// resolve, verify on factory, align ticks, fund, gas gate, approve, preflight,
// mint. In dry-run mode nothing past the funding plan is broadcast.
func (m *Manager) Open(ctx context.Context, pool model.Pool, deployUSD float64, rangeWidthTicks int64) (*OpenResult, error) {
	if deployUSD <= 0 {
		return nil, lperr.New(lperr.CodeUsage, "deploy amount must be positive")
	}
	if rangeWidthTicks <= 0 {
		return nil, lperr.New(lperr.CodeUsage, "range width must be positive")
	}
	support, ok := registry.Resolve(pool.Protocol, pool.ChainID)
	if !ok {
		return nil, lperr.Newf(lperr.CodeUnsupportedProtocol, "protocol %q is not supported on chain %d", pool.Protocol, pool.ChainID)
	}
	variant := support.Variant()
	mintContract := common.HexToAddress(support.MintContract)

	// A mint against a pool the factory does not know always reverts, so
	// check before spending anything on funding.
	factoryPool, err := m.backend.FactoryPool(ctx, pool.ChainID, common.HexToAddress(support.Factory),
		common.HexToAddress(pool.Token0.Address), common.HexToAddress(pool.Token1.Address), pool.FeeOrSpacing, variant)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodePoolNotFound, "query factory", err)
	}
	if factoryPool == (common.Address{}) {
		return nil, lperr.Newf(lperr.CodePoolNotFound, "factory has no pool for %s/%s fee-or-spacing %d on chain %d",
			pool.Token0.Symbol, pool.Token1.Symbol, pool.FeeOrSpacing, pool.ChainID)
	}

	_, currentTick, err := m.backend.Slot0(ctx, pool.ChainID, factoryPool, variant)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "read pool tick", err)
	}
	spacing := registry.TickSpacingFor(variant, pool.FeeOrSpacing)
	tickLower, tickUpper := alignRange(currentTick, rangeWidthTicks, spacing)

	funded, err := m.funder.Fund(ctx, funding.Target{
		ChainID:     pool.ChainID,
		PoolAddress: factoryPool,
		Variant:     variant,
		Token0:      pool.Token0,
		Token1:      pool.Token1,
		TargetUSD:   deployUSD,
		Owner:       m.owner,
	})
	if err != nil {
		return nil, err
	}

	// The mint contract requires token0 < token1 by address. The aggregator
	// usually reports pools in that order already, but never trust it.
	token0, token1 := pool.Token0, pool.Token1
	amount0, amount1 := funded.Amount0, funded.Amount1
	addr0, addr1 := common.HexToAddress(token0.Address), common.HexToAddress(token1.Address)
	if bytes.Compare(addr0.Bytes(), addr1.Bytes()) > 0 {
		token0, token1 = token1, token0
		amount0, amount1 = amount1, amount0
		addr0, addr1 = addr1, addr0
	}

	gasPrice, err := m.backend.GasPrice(ctx, pool.ChainID)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "read gas price", err)
	}
	nativeUSD := m.oracle.NativeTokenPrice(pool.ChainID)
	gasUSD := gasCostUSD(gasPrice, mintGasUnits, nativeUSD)
	if gasUSD > maxGasSharePct/100*deployUSD {
		return nil, lperr.Newf(lperr.CodeFunding, "estimated mint gas %.2f USD exceeds %.0f%% of the %.2f USD deployment",
			gasUSD, maxGasSharePct, deployUSD)
	}

	npmABI, err := registry.PositionManagerABI(variant)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "load position manager abi", err)
	}
	deadline := big.NewInt(m.now().Add(mintDeadline).Unix())
	data, err := packMint(npmABI, variant, addr0, addr1, pool.FeeOrSpacing, tickLower, tickUpper, amount0, amount1, m.owner, deadline)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "encode mint", err)
	}

	result := &OpenResult{
		ChainID:        pool.ChainID,
		Protocol:       support.Def.Key,
		PoolAddress:    factoryPool.Hex(),
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		DeployUSD:      deployUSD,
		FundedUSD:      funded.Funded0USD + funded.Funded1USD,
		FundingSteps:   funded.Steps,
		GasPriceWei:    gasPrice.String(),
		GasEstimateUSD: gasUSD,
		NativeUSD:      nativeUSD,
	}
	if m.dryRun {
		result.DryRun = true
		result.PosID = dryRunTxMarker
		result.TxHash = dryRunTxMarker
		result.ConsultedReads = []string{"factory pool lookup", "pool slot0", "gas price"}
		return result, nil
	}

	if err := m.approveIfNeeded(ctx, pool.ChainID, addr0, mintContract, amount0); err != nil {
		return nil, err
	}
	if err := m.approveIfNeeded(ctx, pool.ChainID, addr1, mintContract, amount1); err != nil {
		return nil, err
	}

	// Simulate before broadcasting so an out-of-ratio or paused pool costs
	// nothing but an RPC round trip.
	if _, err := m.backend.EstimateContractGas(ctx, pool.ChainID, mintContract, nil, data); err != nil {
		return nil, lperr.Wrap(lperr.CodeSimReverted, "mint would revert", err)
	}

	sent, err := m.backend.Send(ctx, pool.ChainID, mintContract, nil, data, chains.SendOptions{})
	if err != nil {
		return nil, err
	}
	result.TxHash = sent.TxHash

	posID, ok := parseMintedID(npmABI, sent.Receipt, m.owner)
	if !ok {
		m.log.Warn("minted but could not decode position id from receipt", zap.String("tx_hash", sent.TxHash))
		return result, nil
	}
	result.PosID = posID.String()

	record := model.EvmLpRecord{
		PosID:       result.PosID,
		ChainID:     pool.ChainID,
		Protocol:    support.Def.Key,
		PoolAddress: factoryPool.Hex(),
		Symbol0:     token0.Symbol,
		Symbol1:     token1.Symbol,
		EntryUSD:    result.FundedUSD,
		OpenedAt:    m.now(),
	}
	if err := m.records.Save(record); err != nil {
		m.log.Warn("position opened but record not persisted", zap.String("pos_id", result.PosID), zap.Error(err))
	}
	m.log.Info("position opened",
		zap.String("pos_id", result.PosID),
		zap.Int64("chain_id", pool.ChainID),
		zap.String("pool", factoryPool.Hex()),
		zap.Float64("funded_usd", result.FundedUSD))
	return result, nil
}

// Close unwinds a position: decrease all liquidity, collect everything owed,
// then burn the token. The three transactions carry explicitly incremented
// nonces; pending-nonce inference can race the previous send on fast chains.
func (m *Manager) Close(ctx context.Context, chainID int64, posID, protocol string) (*CloseResult, error) {
	support, tokenID, err := m.resolvePosition(chainID, posID, protocol)
	if err != nil {
		return nil, err
	}
	if m.dryRun {
		return &CloseResult{PosID: posID, ChainID: chainID, Recovered0: "0", Recovered1: "0", DryRun: true}, nil
	}

	variant := support.Variant()
	mintContract := common.HexToAddress(support.MintContract)
	pos, err := m.backend.PositionDetails(ctx, chainID, mintContract, variant, tokenID)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "read position", err)
	}
	npmABI, err := registry.PositionManagerABI(variant)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "load position manager abi", err)
	}

	nonce, err := m.backend.PendingNonce(ctx, chainID, m.owner)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "read pending nonce", err)
	}
	result := &CloseResult{PosID: posID, ChainID: chainID, Recovered0: "0", Recovered1: "0"}

	if pos.Liquidity != nil && pos.Liquidity.Sign() > 0 {
		data, err := npmABI.Pack("decreaseLiquidity", decreaseParams{
			TokenId:    tokenID,
			Liquidity:  pos.Liquidity,
			Amount0Min: big.NewInt(0),
			Amount1Min: big.NewInt(0),
			Deadline:   big.NewInt(m.now().Add(mintDeadline).Unix()),
		})
		if err != nil {
			return nil, lperr.Wrap(lperr.CodeInternal, "encode decrease", err)
		}
		sent, err := m.sendWithNonce(ctx, chainID, mintContract, data, &nonce)
		if err != nil {
			return nil, err
		}
		result.Txs = append(result.Txs, TxRef{Action: "decrease", TxHash: sent.TxHash, GasUsed: sent.GasUsed})
	} else {
		m.log.Info("position has no liquidity, skipping decrease", zap.String("pos_id", posID))
	}

	collectData, err := npmABI.Pack("collect", collectParams{
		TokenId:    tokenID,
		Recipient:  m.owner,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "encode collect", err)
	}
	collected, err := m.sendWithNonce(ctx, chainID, mintContract, collectData, &nonce)
	if err != nil {
		return nil, err
	}
	result.Txs = append(result.Txs, TxRef{Action: "collect", TxHash: collected.TxHash, GasUsed: collected.GasUsed})

	amount0, amount1 := parseCollected(npmABI, collected.Receipt)
	if amount0 == nil {
		// No decodable event; the pre-read owed amounts are the next best
		// approximation of what the collect swept.
		amount0, amount1 = pos.TokensOwed0, pos.TokensOwed1
	}
	result.Recovered0, result.Recovered1 = bigString(amount0), bigString(amount1)
	result.RecoveredUSD = m.recoveredUSD(ctx, chainID, pos.Token0, amount0) + m.recoveredUSD(ctx, chainID, pos.Token1, amount1)

	// The collect above is what matters economically. A burn refused over
	// residual dust leaves an empty NFT behind, nothing more.
	burnData, err := npmABI.Pack("burn", tokenID)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "encode burn", err)
	}
	if sent, err := m.sendWithNonce(ctx, chainID, mintContract, burnData, &nonce); err != nil {
		result.BurnFailed = true
		m.log.Warn("burn failed after collect, position is economically closed", zap.String("pos_id", posID), zap.Error(err))
	} else {
		result.Txs = append(result.Txs, TxRef{Action: "burn", TxHash: sent.TxHash, GasUsed: sent.GasUsed})
	}

	if err := m.records.Delete(chainID, posID); err != nil {
		m.log.Warn("close succeeded but record not removed", zap.String("pos_id", posID), zap.Error(err))
	}
	m.log.Info("position closed",
		zap.String("pos_id", posID),
		zap.Int64("chain_id", chainID),
		zap.Float64("recovered_usd", result.RecoveredUSD),
		zap.Bool("burn_failed", result.BurnFailed))
	return result, nil
}

// ClaimFees collects owed fees without touching liquidity.
func (m *Manager) ClaimFees(ctx context.Context, chainID int64, posID, protocol string) (*ClaimResult, error) {
	support, tokenID, err := m.resolvePosition(chainID, posID, protocol)
	if err != nil {
		return nil, err
	}
	if m.dryRun {
		return &ClaimResult{PosID: posID, TxHash: dryRunTxMarker, Claimed0: "0", Claimed1: "0", DryRun: true}, nil
	}

	variant := support.Variant()
	npmABI, err := registry.PositionManagerABI(variant)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "load position manager abi", err)
	}
	data, err := npmABI.Pack("collect", collectParams{
		TokenId:    tokenID,
		Recipient:  m.owner,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "encode collect", err)
	}
	mintContract := common.HexToAddress(support.MintContract)
	sent, err := m.backend.Send(ctx, chainID, mintContract, nil, data, chains.SendOptions{})
	if err != nil {
		return nil, err
	}

	result := &ClaimResult{PosID: posID, TxHash: sent.TxHash, Claimed0: "0", Claimed1: "0"}
	amount0, amount1 := parseCollected(npmABI, sent.Receipt)
	if amount0 != nil {
		result.Claimed0, result.Claimed1 = bigString(amount0), bigString(amount1)
		pos, err := m.backend.PositionDetails(ctx, chainID, mintContract, variant, tokenID)
		if err == nil {
			result.USD = m.recoveredUSD(ctx, chainID, pos.Token0, amount0) + m.recoveredUSD(ctx, chainID, pos.Token1, amount1)
		}
	}
	m.log.Info("fees claimed", zap.String("pos_id", posID), zap.String("tx_hash", sent.TxHash), zap.Float64("usd", result.USD))
	return result, nil
}

// Rebalance closes the position and reopens into the current top-scoring pool
// on the same chain, sized by the recovered value. When no eligible pool
// exists after the close the result says so instead of picking one anyway.
func (m *Manager) Rebalance(ctx context.Context, chainID int64, posID, protocol string, rangeWidthTicks int64, fallbackUSD float64, closeOnly bool) (*RebalanceResult, error) {
	closed, err := m.Close(ctx, chainID, posID, protocol)
	if err != nil {
		return nil, err
	}
	result := &RebalanceResult{Close: closed}
	if closeOnly {
		result.CloseOnly = true
		result.Reason = "close-only requested"
		return result, nil
	}

	pools, err := m.disc.DiscoverPools(ctx, true)
	if err != nil {
		result.CloseOnly = true
		result.Reason = fmt.Sprintf("discovery unavailable after close: %v", err)
		m.log.Warn("rebalance degraded to close-only", zap.String("reason", result.Reason))
		return result, nil
	}
	var target *model.ScoredPool
	for i := range pools {
		if pools[i].ChainID == chainID {
			target = &pools[i]
			break
		}
	}
	if target == nil {
		result.CloseOnly = true
		result.Reason = fmt.Sprintf("no eligible pool on chain %d after close", chainID)
		m.log.Warn("rebalance degraded to close-only", zap.String("reason", result.Reason))
		return result, nil
	}

	deployUSD := closed.RecoveredUSD
	if deployUSD < rebalanceGasMin {
		deployUSD = fallbackUSD
	}
	opened, err := m.Open(ctx, target.Pool, deployUSD, rangeWidthTicks)
	if err != nil {
		return nil, err
	}
	result.Open = opened
	return result, nil
}

func (m *Manager) resolvePosition(chainID int64, posID, protocol string) (registry.Support, *big.Int, error) {
	support, ok := registry.Resolve(protocol, chainID)
	if !ok {
		return registry.Support{}, nil, lperr.Newf(lperr.CodeUnsupportedProtocol, "protocol %q is not supported on chain %d", protocol, chainID)
	}
	tokenID, ok := new(big.Int).SetString(posID, 10)
	if !ok {
		return registry.Support{}, nil, lperr.Newf(lperr.CodeUsage, "position id %q is not numeric", posID)
	}
	return support, tokenID, nil
}

func (m *Manager) sendWithNonce(ctx context.Context, chainID int64, to common.Address, data []byte, nonce *uint64) (*chains.SendResult, error) {
	n := *nonce
	sent, err := m.backend.Send(ctx, chainID, to, nil, data, chains.SendOptions{Nonce: &n})
	if err != nil {
		return nil, err
	}
	*nonce++
	return sent, nil
}

func (m *Manager) approveIfNeeded(ctx context.Context, chainID int64, token, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	allowance, err := m.backend.Allowance(ctx, chainID, token, m.owner, spender)
	if err != nil {
		return lperr.Wrap(lperr.CodeUnavailable, "read allowance", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	erc20, err := registry.ERC20()
	if err != nil {
		return lperr.Wrap(lperr.CodeInternal, "load erc20 abi", err)
	}
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return lperr.Wrap(lperr.CodeInternal, "encode approve", err)
	}
	if _, err := m.backend.Send(ctx, chainID, token, nil, data, chains.SendOptions{}); err != nil {
		return err
	}
	return nil
}

// recoveredUSD values a raw amount with the funding heuristic: stables at
// par, wrapped native at the oracle price, anything else at zero. An
// approximation, not an accounting entry.
func (m *Manager) recoveredUSD(ctx context.Context, chainID int64, token common.Address, amount *big.Int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	meta, err := m.backend.ERC20Metadata(ctx, chainID, token)
	if err != nil {
		m.log.Warn("token metadata unavailable, valuing recovery at zero", zap.String("token", token.Hex()), zap.Error(err))
		return 0
	}
	human, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetFloat64(pow10(meta.Decimals)),
	).Float64()
	switch {
	case registry.IsStablecoin(chainID, meta):
		return human
	case registry.IsWrappedNative(chainID, meta.Address):
		return human * m.oracle.NativeTokenPrice(chainID)
	default:
		return 0
	}
}

type decreaseParams struct {
	TokenId    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

func packMint(npmABI abi.ABI, variant registry.ABIVariant, token0, token1 common.Address, feeOrSpacing, tickLower, tickUpper int64, amount0, amount1 *big.Int, recipient common.Address, deadline *big.Int) ([]byte, error) {
	if variant == registry.ABITickSpacing {
		return npmABI.Pack("mint", struct {
			Token0         common.Address
			Token1         common.Address
			TickSpacing    *big.Int
			TickLower      *big.Int
			TickUpper      *big.Int
			Amount0Desired *big.Int
			Amount1Desired *big.Int
			Amount0Min     *big.Int
			Amount1Min     *big.Int
			Recipient      common.Address
			Deadline       *big.Int
			SqrtPriceX96   *big.Int
		}{
			Token0:         token0,
			Token1:         token1,
			TickSpacing:    big.NewInt(feeOrSpacing),
			TickLower:      big.NewInt(tickLower),
			TickUpper:      big.NewInt(tickUpper),
			Amount0Desired: amount0,
			Amount1Desired: amount1,
			// Mints deposit in the ratio the tick range and current price
			// dictate, so nonzero minimums reliably revert. Protection is
			// the capped desired amounts, the deadline and the tick range.
			Amount0Min: big.NewInt(0),
			Amount1Min: big.NewInt(0),
			Recipient:  recipient,
			Deadline:   deadline,
			// A nonzero price here asks the manager to create and
			// initialize the pool. The factory check already proved the
			// pool exists, so always mint into it as-is.
			SqrtPriceX96: big.NewInt(0),
		})
	}
	return npmABI.Pack("mint", struct {
		Token0         common.Address
		Token1         common.Address
		Fee            *big.Int
		TickLower      *big.Int
		TickUpper      *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Recipient      common.Address
		Deadline       *big.Int
	}{
		Token0:         token0,
		Token1:         token1,
		Fee:            big.NewInt(feeOrSpacing),
		TickLower:      big.NewInt(tickLower),
		TickUpper:      big.NewInt(tickUpper),
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     big.NewInt(0),
		Amount1Min:     big.NewInt(0),
		Recipient:      recipient,
		Deadline:       deadline,
	})
}

// parseMintedID pulls the new token id out of the mint receipt, preferring
// the IncreaseLiquidity event and falling back to the raw ERC-721 Transfer
// topics when structured decoding finds nothing.
func parseMintedID(npmABI abi.ABI, receipt *types.Receipt, owner common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	increaseID := npmABI.Events["IncreaseLiquidity"].ID
	transferID := npmABI.Events["Transfer"].ID
	for _, entry := range receipt.Logs {
		if len(entry.Topics) >= 2 && entry.Topics[0] == increaseID {
			return new(big.Int).SetBytes(entry.Topics[1].Bytes()), true
		}
	}
	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 4 && entry.Topics[0] == transferID &&
			common.BytesToAddress(entry.Topics[2].Bytes()) == owner {
			return new(big.Int).SetBytes(entry.Topics[3].Bytes()), true
		}
	}
	return nil, false
}

func parseCollected(npmABI abi.ABI, receipt *types.Receipt) (*big.Int, *big.Int) {
	if receipt == nil {
		return nil, nil
	}
	collectID := npmABI.Events["Collect"].ID
	for _, entry := range receipt.Logs {
		if len(entry.Topics) < 1 || entry.Topics[0] != collectID {
			continue
		}
		values, err := npmABI.Events["Collect"].Inputs.NonIndexed().Unpack(entry.Data)
		if err != nil || len(values) != 3 {
			continue
		}
		amount0, ok0 := values[1].(*big.Int)
		amount1, ok1 := values[2].(*big.Int)
		if ok0 && ok1 {
			return amount0, amount1
		}
	}
	return nil, nil
}

func gasCostUSD(gasPrice *big.Int, units int64, nativeUSD float64) float64 {
	wei := new(big.Int).Mul(gasPrice, big.NewInt(units))
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return eth * nativeUSD
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func pow10(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
