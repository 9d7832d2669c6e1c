package positions

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/lp-agent/internal/aggregator"
	"github.com/ggonzalez94/lp-agent/internal/chains"
	"github.com/ggonzalez94/lp-agent/internal/logx"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

type fakePosSource struct {
	positions []aggregator.RawPosition
	err       error
}

func (f *fakePosSource) Positions(context.Context, string) ([]aggregator.RawPosition, error) {
	return f.positions, f.err
}

type fakeBackend struct {
	slot0Calls int
	tick       int64
	details    map[string]chains.PositionData
	detailsErr error
}

func (f *fakeBackend) Slot0(context.Context, int64, common.Address, registry.ABIVariant) (*big.Int, int64, error) {
	f.slot0Calls++
	return big.NewInt(1), f.tick, nil
}

func (f *fakeBackend) PositionDetails(_ context.Context, _ int64, _ common.Address, _ registry.ABIVariant, tokenID *big.Int) (chains.PositionData, error) {
	if f.detailsErr != nil {
		return chains.PositionData{}, f.detailsErr
	}
	d, ok := f.details[tokenID.String()]
	if !ok {
		return chains.PositionData{}, errors.New("unknown token id")
	}
	return d, nil
}

func (f *fakeBackend) ERC20Metadata(context.Context, int64, common.Address) (model.PoolToken, error) {
	return model.PoolToken{}, errors.New("no metadata")
}

type fakeRecords struct {
	records []model.EvmLpRecord
	err     error
}

func (f *fakeRecords) List() ([]model.EvmLpRecord, error) { return f.records, f.err }

func mustRawPosition(t *testing.T, payload string) aggregator.RawPosition {
	t.Helper()
	var rp aggregator.RawPosition
	if err := json.Unmarshal([]byte(payload), &rp); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return rp
}

const aggFixture = `{
	"id": 812345,
	"chainId": 8453,
	"protocol": "aerodrome",
	"status": "open",
	"pool": {
		"poolAddress": "0x1111111111111111111111111111111111111111",
		"token0": {"address": "0xaaa0000000000000000000000000000000000001", "symbol": "USDC", "decimals": 6},
		"token1": {"address": "0xaaa0000000000000000000000000000000000002", "symbol": "WETH", "decimals": 18}
	},
	"currentPositionValue": 1500.5,
	"minTick": -1000,
	"maxTick": 1000,
	"currentTick": 250,
	"tradingFees": [
		{"token": {"address": "0xaaa0000000000000000000000000000000000001", "symbol": "USDC"}, "balance": "1200000", "value": 1.2},
		{"token": {"address": "0xaaa0000000000000000000000000000000000002", "symbol": "WETH"}, "balance": "400000000000000", "value": 1.4}
	]
}`

func TestFetchPositionsFromAggregator(t *testing.T) {
	src := &fakePosSource{positions: []aggregator.RawPosition{mustRawPosition(t, aggFixture)}}
	reader := NewReader(src, &fakeBackend{}, &fakeRecords{}, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}
	pos := got[0]
	if pos.ID != "812345" || pos.ChainID != 8453 || pos.Protocol != "aerodrome-cl" {
		t.Fatalf("identity wrong: %+v", pos)
	}
	if pos.Source != "aggregator" {
		t.Fatalf("source = %s, want aggregator", pos.Source)
	}
	if !pos.InRange {
		t.Fatal("tick 250 inside [-1000,1000) should be in range")
	}
	if pos.RangeUtilisationPct != 75 {
		t.Fatalf("utilisation = %v, want 75", pos.RangeUtilisationPct)
	}
	if pos.FeesOwedUSD != 2.6 {
		t.Fatalf("fees owed = %v, want 2.6", pos.FeesOwedUSD)
	}
	if pos.FeesOwed0 != "1200000" || pos.FeesOwed1 != "400000000000000" {
		t.Fatalf("fee balances wrong: %q %q", pos.FeesOwed0, pos.FeesOwed1)
	}
}

func TestFetchPositionsSkipsClosed(t *testing.T) {
	closed := mustRawPosition(t, `{"id": 1, "chainId": 1, "protocol": "uniswap-v3", "status": "closed"}`)
	src := &fakePosSource{positions: []aggregator.RawPosition{closed}}
	reader := NewReader(src, &fakeBackend{}, &fakeRecords{}, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("closed position leaked through: %+v", got)
	}
}

func TestFetchPositionsReconcilesFromChain(t *testing.T) {
	backend := &fakeBackend{
		tick: 50,
		details: map[string]chains.PositionData{
			"777": {
				Token0:      common.HexToAddress("0xaaa0000000000000000000000000000000000001"),
				Token1:      common.HexToAddress("0xaaa0000000000000000000000000000000000002"),
				TickLower:   -100,
				TickUpper:   100,
				Liquidity:   big.NewInt(5_000_000),
				TokensOwed0: big.NewInt(10),
				TokensOwed1: big.NewInt(20),
			},
		},
	}
	records := &fakeRecords{records: []model.EvmLpRecord{
		{PosID: "777", ChainID: 1, Protocol: "uniswap-v3", PoolAddress: "0x2222222222222222222222222222222222222222", Symbol0: "USDC", Symbol1: "WETH", EntryUSD: 900, OpenedAt: time.Now()},
	}}
	reader := NewReader(&fakePosSource{}, backend, records, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1 reconciled", len(got))
	}
	pos := got[0]
	if pos.Source != "onchain" {
		t.Fatalf("source = %s, want onchain", pos.Source)
	}
	if pos.ValueUSD != 900 {
		t.Fatalf("value should fall back to entry value, got %v", pos.ValueUSD)
	}
	if !pos.InRange || pos.CurrentTick != 50 {
		t.Fatalf("range state wrong: %+v", pos)
	}
	if pos.FeesOwed0 != "10" || pos.FeesOwed1 != "20" {
		t.Fatalf("fees wrong: %q %q", pos.FeesOwed0, pos.FeesOwed1)
	}
}

func TestFetchPositionsServesRecordsWhenAggregatorDown(t *testing.T) {
	src := &fakePosSource{err: errors.New("aggregator down")}
	backend := &fakeBackend{
		tick: 10,
		details: map[string]chains.PositionData{
			"55": {
				Token0:    common.HexToAddress("0xaaa0000000000000000000000000000000000001"),
				Token1:    common.HexToAddress("0xaaa0000000000000000000000000000000000002"),
				TickLower: -200,
				TickUpper: 200,
				Liquidity: big.NewInt(1000),
			},
		},
	}
	records := &fakeRecords{records: []model.EvmLpRecord{
		{PosID: "55", ChainID: 1, Protocol: "uniswap-v3", PoolAddress: "0x4444444444444444444444444444444444444444", EntryUSD: 300},
	}}
	reader := NewReader(src, backend, records, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions should degrade, not fail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d positions, want the recorded one", len(got))
	}
	if got[0].ID != "55" || got[0].Source != "onchain" {
		t.Fatalf("wrong position served: %+v", got[0])
	}
}

func TestFetchPositionsDropsBurnedAndNonNumeric(t *testing.T) {
	backend := &fakeBackend{
		details: map[string]chains.PositionData{
			"5": {Liquidity: big.NewInt(0)},
		},
	}
	records := &fakeRecords{records: []model.EvmLpRecord{
		{PosID: "5", ChainID: 1, Protocol: "uniswap-v3"},
		{PosID: "osmo-position-9", ChainID: 1, Protocol: "uniswap-v3"},
	}}
	reader := NewReader(&fakePosSource{}, backend, records, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("burned or malformed records leaked through: %+v", got)
	}
}

func TestFetchPositionsAggregatorWinsOverRecord(t *testing.T) {
	src := &fakePosSource{positions: []aggregator.RawPosition{mustRawPosition(t, aggFixture)}}
	records := &fakeRecords{records: []model.EvmLpRecord{
		{PosID: "812345", ChainID: 8453, Protocol: "aerodrome-cl", EntryUSD: 1},
	}}
	backend := &fakeBackend{detailsErr: errors.New("should not be called")}
	reader := NewReader(src, backend, records, logx.Nop())

	got, err := reader.FetchPositions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(got) != 1 || got[0].Source != "aggregator" {
		t.Fatalf("expected single aggregator-sourced position, got %+v", got)
	}
}

func TestCachedTickAvoidsRepeatReads(t *testing.T) {
	backend := &fakeBackend{tick: 7}
	reader := NewReader(&fakePosSource{}, backend, &fakeRecords{}, logx.Nop())

	pool := common.HexToAddress("0x3333333333333333333333333333333333333333")
	for i := 0; i < 3; i++ {
		if _, err := reader.cachedTick(context.Background(), 1, pool, registry.ABIStandard); err != nil {
			t.Fatalf("cachedTick: %v", err)
		}
	}
	if backend.slot0Calls != 1 {
		t.Fatalf("slot0 called %d times, want 1", backend.slot0Calls)
	}

	reader.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := reader.cachedTick(context.Background(), 1, pool, registry.ABIStandard); err != nil {
		t.Fatalf("cachedTick after expiry: %v", err)
	}
	if backend.slot0Calls != 2 {
		t.Fatalf("expired tick not refreshed: %d calls", backend.slot0Calls)
	}
}
