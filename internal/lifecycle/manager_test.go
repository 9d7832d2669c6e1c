package lifecycle

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/lp-agent/internal/chains"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/funding"
	"github.com/ggonzalez94/lp-agent/internal/logx"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/pricing"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

var (
	usdcBase = model.PoolToken{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	wethBase = model.PoolToken{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18}
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	poolAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type sentCall struct {
	to    common.Address
	data  []byte
	nonce *uint64
}

type fakeBackend struct {
	factory     common.Address
	tick        int64
	details     chains.PositionData
	detailsErr  error
	gasPrice    *big.Int
	nonce       uint64
	estimateErr error
	receipt     *types.Receipt
	failOn      []byte // method selector that makes Send fail
	sends       []sentCall
}

func (f *fakeBackend) FactoryPool(context.Context, int64, common.Address, common.Address, common.Address, int64, registry.ABIVariant) (common.Address, error) {
	return f.factory, nil
}

func (f *fakeBackend) Slot0(context.Context, int64, common.Address, registry.ABIVariant) (*big.Int, int64, error) {
	return big.NewInt(1), f.tick, nil
}

func (f *fakeBackend) PositionDetails(context.Context, int64, common.Address, registry.ABIVariant, *big.Int) (chains.PositionData, error) {
	return f.details, f.detailsErr
}

func (f *fakeBackend) ERC20Metadata(_ context.Context, _ int64, token common.Address) (model.PoolToken, error) {
	for _, meta := range []model.PoolToken{usdcBase, wethBase} {
		if common.HexToAddress(meta.Address) == token {
			return meta, nil
		}
	}
	return model.PoolToken{Address: token.Hex(), Symbol: "UNK", Decimals: 18}, nil
}

func (f *fakeBackend) Allowance(context.Context, int64, common.Address, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) GasPrice(context.Context, int64) (*big.Int, error) {
	if f.gasPrice != nil {
		return new(big.Int).Set(f.gasPrice), nil
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonce(context.Context, int64, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) EstimateContractGas(context.Context, int64, common.Address, *big.Int, []byte) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 400_000, nil
}

func (f *fakeBackend) Send(_ context.Context, _ int64, to common.Address, _ *big.Int, data []byte, opts chains.SendOptions) (*chains.SendResult, error) {
	if f.failOn != nil && bytes.HasPrefix(data, f.failOn) {
		return nil, lperr.New(lperr.CodeTxFailed, "transaction reverted")
	}
	f.sends = append(f.sends, sentCall{to: to, data: data, nonce: opts.Nonce})
	return &chains.SendResult{TxHash: "0xsent", GasUsed: 250_000, Receipt: f.receipt}, nil
}

type fakeFunder struct {
	targets []funding.Target
	result  *funding.Result
	err     error
}

func (f *fakeFunder) Fund(_ context.Context, target funding.Target) (*funding.Result, error) {
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDisc struct {
	pools []model.ScoredPool
	err   error
}

func (f *fakeDisc) DiscoverPools(context.Context, bool) ([]model.ScoredPool, error) {
	return f.pools, f.err
}

type fakeRecords struct {
	saved   []model.EvmLpRecord
	deleted []string
}

func (f *fakeRecords) Save(record model.EvmLpRecord) error {
	f.saved = append(f.saved, record)
	return nil
}

func (f *fakeRecords) Delete(_ int64, posID string) error {
	f.deleted = append(f.deleted, posID)
	return nil
}

func basePool() model.Pool {
	return model.Pool{
		ChainID:      8453,
		Protocol:     "uniswap-v3",
		Address:      poolAddr.Hex(),
		Token0:       usdcBase,
		Token1:       wethBase,
		FeeOrSpacing: 3000,
	}
}

func fundedResult() *funding.Result {
	return &funding.Result{
		// 500 USDC and roughly 0.142 WETH.
		Amount0:    big.NewInt(500_000_000),
		Amount1:    big.NewInt(142_000_000_000_000_000),
		Funded0USD: 500,
		Funded1USD: 497,
	}
}

func newManager(backend *fakeBackend, funder *fakeFunder, disc *fakeDisc, records *fakeRecords, dryRun bool) *Manager {
	return NewManager(backend, funder, disc, records, pricing.NewOracle(), owner, dryRun, logx.Nop())
}

func TestOpenRejectsUnsupportedProtocol(t *testing.T) {
	backend := &fakeBackend{factory: poolAddr}
	funder := &fakeFunder{result: fundedResult()}
	m := newManager(backend, funder, &fakeDisc{}, &fakeRecords{}, false)

	pool := basePool()
	pool.Protocol = "osmosis"
	_, err := m.Open(context.Background(), pool, 1000, 250)
	if !lperr.HasCode(err, lperr.CodeUnsupportedProtocol) {
		t.Fatalf("err = %v, want unsupported protocol", err)
	}
	if len(funder.targets) != 0 {
		t.Fatal("funder called for an unsupported protocol")
	}
}

func TestOpenFailsWhenFactoryHasNoPool(t *testing.T) {
	backend := &fakeBackend{factory: common.Address{}}
	funder := &fakeFunder{result: fundedResult()}
	m := newManager(backend, funder, &fakeDisc{}, &fakeRecords{}, false)

	_, err := m.Open(context.Background(), basePool(), 1000, 250)
	if !lperr.HasCode(err, lperr.CodePoolNotFound) {
		t.Fatalf("err = %v, want pool not found", err)
	}
	if len(funder.targets) != 0 || len(backend.sends) != 0 {
		t.Fatal("unknown pool must not trigger funding or transactions")
	}
}

func TestOpenDryRunAlignsTicksAndSendsNothing(t *testing.T) {
	backend := &fakeBackend{factory: poolAddr, tick: 100}
	funder := &fakeFunder{result: fundedResult()}
	m := newManager(backend, funder, &fakeDisc{}, &fakeRecords{}, true)

	result, err := m.Open(context.Background(), basePool(), 1000, 250)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !result.DryRun || result.PosID != "dry-run" {
		t.Fatalf("expected synthetic dry-run result, got %+v", result)
	}
	// Fee tier 3000 has spacing 60: [100-250, 100+250] widens to [-180, 360].
	if result.TickLower != -180 || result.TickUpper != 360 {
		t.Fatalf("tick range = (%d, %d), want (-180, 360)", result.TickLower, result.TickUpper)
	}
	if len(backend.sends) != 0 {
		t.Fatalf("dry run sent %d transactions", len(backend.sends))
	}
	if len(funder.targets) != 1 || funder.targets[0].TargetUSD != 1000 {
		t.Fatalf("funder targets = %+v", funder.targets)
	}
	if len(result.ConsultedReads) == 0 {
		t.Fatal("dry-run result should list the chain reads it performed")
	}
}

func TestOpenAbortsWhenGasExceedsDeployShare(t *testing.T) {
	backend := &fakeBackend{factory: poolAddr, gasPrice: big.NewInt(100_000_000_000_000)}
	funder := &fakeFunder{result: fundedResult()}
	m := newManager(backend, funder, &fakeDisc{}, &fakeRecords{}, false)

	_, err := m.Open(context.Background(), basePool(), 1000, 250)
	if !lperr.HasCode(err, lperr.CodeFunding) {
		t.Fatalf("err = %v, want funding abort on gas", err)
	}
	if len(backend.sends) != 0 {
		t.Fatal("gas gate must fire before any transaction")
	}
}

func TestOpenPreflightRevertBlocksMint(t *testing.T) {
	backend := &fakeBackend{
		factory:     poolAddr,
		estimateErr: lperr.New(lperr.CodeSimReverted, "execution reverted: LOK"),
	}
	funder := &fakeFunder{result: fundedResult()}
	m := newManager(backend, funder, &fakeDisc{}, &fakeRecords{}, false)

	_, err := m.Open(context.Background(), basePool(), 1000, 250)
	if !lperr.HasCode(err, lperr.CodeSimReverted) {
		t.Fatalf("err = %v, want simulated revert", err)
	}
	support, _ := registry.Resolve("uniswap-v3", 8453)
	for _, call := range backend.sends {
		if call.to == common.HexToAddress(support.MintContract) {
			t.Fatal("mint broadcast despite preflight revert")
		}
	}
}

func TestOpenMintsAndRecordsPosition(t *testing.T) {
	npmABI, err := registry.PositionManagerABI(registry.ABIStandard)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	receipt := &types.Receipt{Logs: []*types.Log{{
		Topics: []common.Hash{
			npmABI.Events["IncreaseLiquidity"].ID,
			common.BigToHash(big.NewInt(777)),
		},
	}}}
	backend := &fakeBackend{factory: poolAddr, tick: 100, receipt: receipt}
	funder := &fakeFunder{result: fundedResult()}
	records := &fakeRecords{}
	m := newManager(backend, funder, &fakeDisc{}, records, false)

	result, err := m.Open(context.Background(), basePool(), 1000, 250)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.PosID != "777" {
		t.Fatalf("PosID = %q, want 777", result.PosID)
	}
	// Two approvals plus the mint itself.
	if len(backend.sends) != 3 {
		t.Fatalf("sent %d transactions, want 3", len(backend.sends))
	}
	support, _ := registry.Resolve("uniswap-v3", 8453)
	if last := backend.sends[2]; last.to != common.HexToAddress(support.MintContract) {
		t.Fatalf("final transaction went to %s, not the mint contract", last.to)
	}
	if len(records.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(records.saved))
	}
	saved := records.saved[0]
	if saved.PosID != "777" || saved.ChainID != 8453 || saved.Protocol != "uniswap-v3" {
		t.Fatalf("record = %+v", saved)
	}
	if saved.EntryUSD != 997 {
		t.Fatalf("EntryUSD = %v, want funded total 997", saved.EntryUSD)
	}
	// USDC sorts after WETH by address, so the persisted symbols follow the
	// on-chain token order, not the aggregator's.
	if saved.Symbol0 != "WETH" || saved.Symbol1 != "USDC" {
		t.Fatalf("symbols = %s/%s, want WETH/USDC", saved.Symbol0, saved.Symbol1)
	}
}

func TestOpenParsesTransferTopicsWhenIncreaseMissing(t *testing.T) {
	npmABI, err := registry.PositionManagerABI(registry.ABIStandard)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	receipt := &types.Receipt{Logs: []*types.Log{{
		Topics: []common.Hash{
			npmABI.Events["Transfer"].ID,
			common.BigToHash(big.NewInt(0)), // from zero address on mint
			common.BytesToHash(owner.Bytes()),
			common.BigToHash(big.NewInt(4242)),
		},
	}}}
	backend := &fakeBackend{factory: poolAddr, receipt: receipt}
	m := newManager(backend, &fakeFunder{result: fundedResult()}, &fakeDisc{}, &fakeRecords{}, false)

	result, err := m.Open(context.Background(), basePool(), 1000, 250)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.PosID != "4242" {
		t.Fatalf("PosID = %q, want 4242", result.PosID)
	}
}

func TestPackMintZeroesPriceHintForTickSpacingPools(t *testing.T) {
	npmABI, err := registry.PositionManagerABI(registry.ABITickSpacing)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	data, err := packMint(npmABI, registry.ABITickSpacing,
		common.HexToAddress(wethBase.Address), common.HexToAddress(usdcBase.Address),
		100, -200, 200, big.NewInt(1_000_000), big.NewInt(2_000_000), owner, big.NewInt(1_700_000_000))
	if err != nil {
		t.Fatalf("packMint: %v", err)
	}
	// The params tuple is fully static: selector plus twelve words, with
	// sqrtPriceX96 last. Anything nonzero there would ask the manager to
	// create and initialize the pool.
	if len(data) != 4+12*32 {
		t.Fatalf("calldata length = %d, want %d", len(data), 4+12*32)
	}
	for _, b := range data[len(data)-32:] {
		if b != 0 {
			t.Fatal("price hint must stay zero when minting into an existing pool")
		}
	}
}

func closeBackend(t *testing.T, liquidity int64) (*fakeBackend, *types.Receipt) {
	t.Helper()
	npmABI, err := registry.PositionManagerABI(registry.ABIStandard)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	// 500 USDC and 0.1 WETH collected.
	data, err := npmABI.Events["Collect"].Inputs.NonIndexed().Pack(
		owner, big.NewInt(500_000_000), big.NewInt(100_000_000_000_000_000))
	if err != nil {
		t.Fatalf("pack collect event: %v", err)
	}
	receipt := &types.Receipt{Logs: []*types.Log{{
		Topics: []common.Hash{npmABI.Events["Collect"].ID, common.BigToHash(big.NewInt(99))},
		Data:   data,
	}}}
	return &fakeBackend{
		nonce:   7,
		receipt: receipt,
		details: chains.PositionData{
			Token0:      common.HexToAddress(usdcBase.Address),
			Token1:      common.HexToAddress(wethBase.Address),
			Liquidity:   big.NewInt(liquidity),
			TokensOwed0: big.NewInt(0),
			TokensOwed1: big.NewInt(0),
		},
	}, receipt
}

func TestCloseSequencesExplicitNonces(t *testing.T) {
	backend, _ := closeBackend(t, 5000)
	records := &fakeRecords{}
	m := newManager(backend, &fakeFunder{}, &fakeDisc{}, records, false)

	result, err := m.Close(context.Background(), 8453, "99", "uniswap-v3")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(backend.sends) != 3 {
		t.Fatalf("sent %d transactions, want decrease+collect+burn", len(backend.sends))
	}
	for i, want := range []uint64{7, 8, 9} {
		call := backend.sends[i]
		if call.nonce == nil || *call.nonce != want {
			t.Fatalf("send %d nonce = %v, want %d", i, call.nonce, want)
		}
	}
	if result.Recovered0 != "500000000" || result.Recovered1 != "100000000000000000" {
		t.Fatalf("recovered = %s / %s", result.Recovered0, result.Recovered1)
	}
	// 500 USDC at par plus 0.1 WETH at the 3500 fallback.
	if result.RecoveredUSD != 850 {
		t.Fatalf("RecoveredUSD = %v, want 850", result.RecoveredUSD)
	}
	if len(records.deleted) != 1 || records.deleted[0] != "99" {
		t.Fatalf("deleted = %v, want the closed position", records.deleted)
	}
}

func TestCloseSkipsDecreaseWithoutLiquidity(t *testing.T) {
	backend, _ := closeBackend(t, 0)
	m := newManager(backend, &fakeFunder{}, &fakeDisc{}, &fakeRecords{}, false)

	_, err := m.Close(context.Background(), 8453, "99", "uniswap-v3")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(backend.sends) != 2 {
		t.Fatalf("sent %d transactions, want collect+burn only", len(backend.sends))
	}
	if *backend.sends[0].nonce != 7 || *backend.sends[1].nonce != 8 {
		t.Fatalf("nonces = %d, %d", *backend.sends[0].nonce, *backend.sends[1].nonce)
	}
}

func TestCloseBurnFailureIsNonFatal(t *testing.T) {
	backend, _ := closeBackend(t, 5000)
	npmABI, _ := registry.PositionManagerABI(registry.ABIStandard)
	backend.failOn = npmABI.Methods["burn"].ID

	m := newManager(backend, &fakeFunder{}, &fakeDisc{}, &fakeRecords{}, false)
	result, err := m.Close(context.Background(), 8453, "99", "uniswap-v3")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !result.BurnFailed {
		t.Fatal("burn failure not reported")
	}
	if len(result.Txs) != 2 {
		t.Fatalf("recorded %d transactions, want decrease+collect", len(result.Txs))
	}
}

func TestCloseDryRunShortCircuits(t *testing.T) {
	backend, _ := closeBackend(t, 5000)
	m := newManager(backend, &fakeFunder{}, &fakeDisc{}, &fakeRecords{}, true)

	result, err := m.Close(context.Background(), 8453, "99", "uniswap-v3")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !result.DryRun || len(backend.sends) != 0 {
		t.Fatalf("dry run result %+v with %d sends", result, len(backend.sends))
	}
}

func TestCloseRejectsNonNumericID(t *testing.T) {
	m := newManager(&fakeBackend{}, &fakeFunder{}, &fakeDisc{}, &fakeRecords{}, false)
	_, err := m.Close(context.Background(), 8453, "osmo-position-9", "uniswap-v3")
	if !lperr.HasCode(err, lperr.CodeUsage) {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestClaimFeesCollectsOnce(t *testing.T) {
	backend, _ := closeBackend(t, 5000)
	m := newManager(backend, &fakeFunder{}, &fakeDisc{}, &fakeRecords{}, false)

	result, err := m.ClaimFees(context.Background(), 8453, "99", "uniswap-v3")
	if err != nil {
		t.Fatalf("ClaimFees: %v", err)
	}
	if len(backend.sends) != 1 {
		t.Fatalf("sent %d transactions, want a single collect", len(backend.sends))
	}
	if result.Claimed0 != "500000000" {
		t.Fatalf("Claimed0 = %s", result.Claimed0)
	}
	if result.USD != 850 {
		t.Fatalf("USD = %v, want 850", result.USD)
	}
}

func TestRebalanceDegradesToCloseOnly(t *testing.T) {
	backend, _ := closeBackend(t, 5000)
	otherChain := basePool()
	otherChain.ChainID = 42161
	disc := &fakeDisc{pools: []model.ScoredPool{{Pool: otherChain, Score: 90}}}
	m := newManager(backend, &fakeFunder{}, disc, &fakeRecords{}, false)

	result, err := m.Rebalance(context.Background(), 8453, "99", "uniswap-v3", 250, 500, false)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if !result.CloseOnly || result.Open != nil {
		t.Fatalf("expected close-only degradation, got %+v", result)
	}
	if result.Reason == "" {
		t.Fatal("degraded rebalance must say why")
	}
}

func TestRebalanceOpensTopPoolWithFallbackSize(t *testing.T) {
	backend := &fakeBackend{factory: poolAddr, tick: 100}
	funder := &fakeFunder{result: fundedResult()}
	disc := &fakeDisc{pools: []model.ScoredPool{{Pool: basePool(), Score: 90}}}
	m := newManager(backend, funder, disc, &fakeRecords{}, true)

	result, err := m.Rebalance(context.Background(), 8453, "99", "uniswap-v3", 250, 500, false)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if result.CloseOnly || result.Open == nil {
		t.Fatalf("expected a reopened position, got %+v", result)
	}
	// Dry-run close recovers nothing, so sizing falls back to the cap.
	if len(funder.targets) != 1 || funder.targets[0].TargetUSD != 500 {
		t.Fatalf("funder targets = %+v", funder.targets)
	}
	if len(backend.sends) != 0 {
		t.Fatalf("dry run sent %d transactions", len(backend.sends))
	}
}
