package positions

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/lp-agent/internal/aggregator"
	"github.com/ggonzalez94/lp-agent/internal/chains"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// PositionSource is the slice of the aggregator client this reader needs.
type PositionSource interface {
	Positions(ctx context.Context, wallet string) ([]aggregator.RawPosition, error)
}

// ChainBackend is the slice of the chain pool the reader needs for on-chain
// reconciliation of positions the aggregator stopped reporting.
type ChainBackend interface {
	Slot0(ctx context.Context, chainID int64, pool common.Address, variant registry.ABIVariant) (*big.Int, int64, error)
	PositionDetails(ctx context.Context, chainID int64, mint common.Address, variant registry.ABIVariant, tokenID *big.Int) (chains.PositionData, error)
	ERC20Metadata(ctx context.Context, chainID int64, token common.Address) (model.PoolToken, error)
}

// RecordSource lists the positions this wallet opened, used to spot positions
// missing from the aggregator's answer.
type RecordSource interface {
	List() ([]model.EvmLpRecord, error)
}

const tickCacheTTL = 60 * time.Second

type tickEntry struct {
	tick int64
	at   time.Time
}

// Reader assembles the wallet's live position view: the aggregator's answer,
// reconciled against local records via direct contract reads for anything the
// aggregator dropped.
type Reader struct {
	source  PositionSource
	backend ChainBackend
	records RecordSource
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	ticks map[string]tickEntry
}

func NewReader(source PositionSource, backend ChainBackend, records RecordSource, log *zap.Logger) *Reader {
	return &Reader{
		source:  source,
		backend: backend,
		records: records,
		log:     log,
		now:     time.Now,
		ticks:   make(map[string]tickEntry),
	}
}

// FetchPositions returns every open position for the wallet. The aggregator
// view wins for positions it reports; local records fill the gaps via on-chain
// reads. Results are sorted by (chain, position id) so repeated calls agree.
func (r *Reader) FetchPositions(ctx context.Context, wallet string) ([]model.Position, error) {
	raw, err := r.source.Positions(ctx, wallet)
	if err != nil {
		// Record-backed reconciliation still works without the aggregator.
		r.log.Warn("aggregator positions unavailable, serving from records", zap.Error(err))
		raw = nil
	}

	result := make([]model.Position, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, rp := range raw {
		pos, ok := r.fromAggregator(ctx, rp)
		if !ok {
			continue
		}
		seen[posKey(pos.ChainID, pos.ID)] = struct{}{}
		result = append(result, pos)
	}

	records, err := r.records.List()
	if err != nil {
		// The aggregator answer is still useful without reconciliation.
		r.log.Warn("record store unreadable, skipping reconciliation", zap.Error(err))
		records = nil
	}
	for _, record := range records {
		if _, ok := seen[posKey(record.ChainID, record.PosID)]; ok {
			continue
		}
		pos, ok := r.fromChain(ctx, record)
		if !ok {
			continue
		}
		result = append(result, pos)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ChainID != result[j].ChainID {
			return result[i].ChainID < result[j].ChainID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func posKey(chainID int64, posID string) string {
	return model.Pool{ChainID: chainID, Address: posID}.Key()
}

func (r *Reader) fromAggregator(ctx context.Context, rp aggregator.RawPosition) (model.Position, bool) {
	if rp.Closed() {
		return model.Position{}, false
	}
	id := rp.ResolvedID()
	chainID := rp.ResolvedChainID()
	if id == "" || chainID == 0 {
		return model.Position{}, false
	}
	support, ok := registry.Resolve(rp.ProtocolKey(), chainID)
	if !ok {
		return model.Position{}, false
	}

	pos := model.Position{
		ID:          id,
		ChainID:     chainID,
		Protocol:    support.Def.Key,
		PoolAddress: rp.Pool.Address,
		Source:      "aggregator",
	}
	if rp.Pool.Token0 != nil {
		pos.Token0 = toToken(*rp.Pool.Token0)
	}
	if rp.Pool.Token1 != nil {
		pos.Token1 = toToken(*rp.Pool.Token1)
	}
	pos.ValueUSD, _ = rp.ValueUSD.Float64()
	pos.TickLower, _ = rp.TickLower.Int64()
	pos.TickUpper, _ = rp.TickUpper.Int64()
	if opened, err := rp.OpenedAt.Int64(); err == nil && opened > 0 {
		pos.OpenedAt = time.Unix(opened, 0).UTC()
	}

	for _, reward := range rp.Pending {
		usd, _ := reward.Quotes.Float64()
		pos.FeesOwedUSD += usd
		switch {
		case strings.EqualFold(reward.Token.Address, pos.Token0.Address):
			pos.FeesOwed0 = reward.Balance
		case strings.EqualFold(reward.Token.Address, pos.Token1.Address):
			pos.FeesOwed1 = reward.Balance
		}
	}

	var currentTick int64
	haveTick := false
	if v, err := rp.CurrentTick.Int64(); err == nil && rp.CurrentTick.String() != "" {
		currentTick, haveTick = v, true
	}
	if !haveTick && pos.PoolAddress != "" {
		if tick, err := r.cachedTick(ctx, chainID, common.HexToAddress(pos.PoolAddress), support.Variant()); err == nil {
			currentTick, haveTick = tick, true
		}
	}
	if haveTick {
		applyRange(&pos, currentTick)
	}
	return pos, true
}

// fromChain rebuilds one position from contract state. Any failure skips the
// record rather than failing the whole fetch; the position will reappear once
// its chain answers again.
func (r *Reader) fromChain(ctx context.Context, record model.EvmLpRecord) (model.Position, bool) {
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(record.PosID), 10)
	if !ok {
		r.log.Warn("recorded position id is not numeric, cannot reconcile on chain",
			zap.String("pos_id", record.PosID),
			zap.Int64("chain_id", record.ChainID))
		return model.Position{}, false
	}
	support, resolved := registry.Resolve(record.Protocol, record.ChainID)
	if !resolved {
		r.log.Warn("recorded protocol no longer registered",
			zap.String("protocol", record.Protocol),
			zap.Int64("chain_id", record.ChainID))
		return model.Position{}, false
	}

	details, err := r.backend.PositionDetails(ctx, record.ChainID, common.HexToAddress(support.MintContract), support.Variant(), tokenID)
	if err != nil {
		r.log.Warn("on-chain position read failed",
			zap.String("pos_id", record.PosID),
			zap.Int64("chain_id", record.ChainID),
			zap.Error(err))
		return model.Position{}, false
	}
	if details.Liquidity == nil || details.Liquidity.Sign() == 0 {
		// Burned or fully withdrawn elsewhere; the record is stale.
		return model.Position{}, false
	}

	pos := model.Position{
		ID:          record.PosID,
		ChainID:     record.ChainID,
		Protocol:    support.Def.Key,
		PoolAddress: record.PoolAddress,
		ValueUSD:    record.EntryUSD,
		TickLower:   details.TickLower,
		TickUpper:   details.TickUpper,
		OpenedAt:    record.OpenedAt,
		Source:      "onchain",
	}
	if details.TokensOwed0 != nil {
		pos.FeesOwed0 = details.TokensOwed0.String()
	}
	if details.TokensOwed1 != nil {
		pos.FeesOwed1 = details.TokensOwed1.String()
	}

	pos.Token0 = model.PoolToken{Address: details.Token0.Hex(), Symbol: record.Symbol0}
	pos.Token1 = model.PoolToken{Address: details.Token1.Hex(), Symbol: record.Symbol1}
	if meta, err := r.backend.ERC20Metadata(ctx, record.ChainID, details.Token0); err == nil {
		pos.Token0 = meta
	}
	if meta, err := r.backend.ERC20Metadata(ctx, record.ChainID, details.Token1); err == nil {
		pos.Token1 = meta
	}

	if record.PoolAddress != "" {
		if tick, err := r.cachedTick(ctx, record.ChainID, common.HexToAddress(record.PoolAddress), support.Variant()); err == nil {
			applyRange(&pos, tick)
		}
	}
	return pos, true
}

func toToken(t aggregator.RawToken) model.PoolToken {
	decimals, _ := t.Decimals.Int64()
	return model.PoolToken{Address: t.Address, Symbol: t.Symbol, Name: t.Name, Decimals: int(decimals)}
}

// applyRange fills the tick-derived fields: in-range uses the half-open
// convention the pool contracts use, and utilisation is distance from the
// range center scaled so the center is 100 and either bound is 0.
func applyRange(pos *model.Position, currentTick int64) {
	pos.CurrentTick = currentTick
	if pos.TickUpper <= pos.TickLower {
		return
	}
	pos.InRange = currentTick >= pos.TickLower && currentTick < pos.TickUpper

	center := float64(pos.TickLower+pos.TickUpper) / 2
	halfWidth := float64(pos.TickUpper-pos.TickLower) / 2
	util := 100 * (1 - abs(float64(currentTick)-center)/halfWidth)
	if util < 0 {
		util = 0
	}
	pos.RangeUtilisationPct = util
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// cachedTick reads the pool's current tick, serving a recent value from
// memory: position listings hit the same pools repeatedly and the tick does
// not move meaningfully within a minute.
func (r *Reader) cachedTick(ctx context.Context, chainID int64, pool common.Address, variant registry.ABIVariant) (int64, error) {
	key := model.Pool{ChainID: chainID, Address: pool.Hex()}.Key()

	r.mu.Lock()
	entry, ok := r.ticks[key]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.at) < tickCacheTTL {
		return entry.tick, nil
	}

	_, tick, err := r.backend.Slot0(ctx, chainID, pool, variant)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.ticks[key] = tickEntry{tick: tick, at: r.now()}
	r.mu.Unlock()
	return tick, nil
}
