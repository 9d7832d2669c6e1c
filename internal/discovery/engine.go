package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/lp-agent/internal/aggregator"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// PoolSource is the slice of the aggregator client discovery needs.
type PoolSource interface {
	Pools(ctx context.Context, chainID int64, limit, offset int) ([]aggregator.RawPool, error)
}

// Config tunes a discovery Engine. Zero values fall back to defaults.
type Config struct {
	Chains        []int64
	PageSize      int
	PagesPerChain int
	MinTVLUSD     float64
	MinAPR7d      float64
	CacheTTL      time.Duration
}

const (
	defaultPageSize      = 50
	defaultPagesPerChain = 2
	defaultMinTVLUSD     = 250_000
	defaultMinAPR7d      = 5
	defaultCacheTTL      = time.Hour
)

func (c Config) withDefaults() Config {
	if len(c.Chains) == 0 {
		c.Chains = registry.SupportedChains()
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.PagesPerChain <= 0 {
		c.PagesPerChain = defaultPagesPerChain
	}
	if c.MinTVLUSD <= 0 {
		c.MinTVLUSD = defaultMinTVLUSD
	}
	if c.MinAPR7d <= 0 {
		c.MinAPR7d = defaultMinAPR7d
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}

// Engine fetches, filters, scores and ranks candidate pools, keeping the last
// completed scan in memory. A scan is swapped in atomically: readers either
// see the previous complete list or the new one, never a partial mix.
type Engine struct {
	cfg      Config
	source   PoolSource
	snapshot *Snapshot
	log      *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	cached    []model.ScoredPool
	fetchedAt time.Time
}

func NewEngine(cfg Config, source PoolSource, snapshot *Snapshot, log *zap.Logger) *Engine {
	eng := &Engine{
		cfg:      cfg.withDefaults(),
		source:   source,
		snapshot: snapshot,
		log:      log,
		now:      time.Now,
	}
	if pools, at, err := snapshot.Load(); err != nil {
		log.Warn("discovery snapshot unreadable", zap.Error(err))
	} else if len(pools) > 0 {
		eng.cached = pools
		eng.fetchedAt = at
	}
	return eng
}

// DiscoverPools returns the ranked pool list. A cached scan younger than the
// TTL is served without network traffic unless force is set. When every fetch
// fails, the previous scan is returned untouched so one bad aggregator window
// does not blank the agent's view of the market.
func (e *Engine) DiscoverPools(ctx context.Context, force bool) ([]model.ScoredPool, error) {
	e.mu.RLock()
	cached, fetchedAt := e.cached, e.fetchedAt
	e.mu.RUnlock()

	if !force && !fetchedAt.IsZero() && e.now().Sub(fetchedAt) < e.cfg.CacheTTL {
		return cached, nil
	}

	raw, fetchErrs := e.fetchAll(ctx)
	if len(raw) == 0 {
		if len(cached) > 0 {
			e.log.Warn("all discovery fetches failed, serving stale scan",
				zap.Int("errors", len(fetchErrs)),
				zap.Duration("age", e.now().Sub(fetchedAt)))
			return cached, nil
		}
		if len(fetchErrs) > 0 {
			return nil, lperr.Wrap(lperr.CodeUnavailable, "pool discovery failed on every chain", fetchErrs[0])
		}
		// Aggregator answered but had nothing; an empty scan is still a scan.
	}

	scored := e.rank(raw)

	now := e.now()
	e.mu.Lock()
	e.cached = scored
	e.fetchedAt = now
	e.mu.Unlock()

	if err := e.snapshot.Save(scored, now); err != nil {
		e.log.Warn("discovery snapshot write failed", zap.Error(err))
	}
	e.log.Info("discovery scan complete",
		zap.Int("raw", len(raw)),
		zap.Int("ranked", len(scored)),
		zap.Int("fetch_errors", len(fetchErrs)))
	return scored, nil
}

// fetchAll fans out one goroutine per (chain, page) and collects results into
// fixed slots, so the flattened order is stable regardless of which request
// finished first. A failed page is logged and skipped; the scan proceeds with
// whatever the other requests produced.
func (e *Engine) fetchAll(ctx context.Context) ([]aggregator.RawPool, []error) {
	type slot struct {
		pools []aggregator.RawPool
		err   error
	}
	slots := make([]slot, len(e.cfg.Chains)*e.cfg.PagesPerChain)

	var wg sync.WaitGroup
	for ci, chainID := range e.cfg.Chains {
		for page := 0; page < e.cfg.PagesPerChain; page++ {
			wg.Add(1)
			go func(idx int, chainID int64, offset int) {
				defer wg.Done()
				pools, err := e.source.Pools(ctx, chainID, e.cfg.PageSize, offset)
				slots[idx] = slot{pools: pools, err: err}
			}(ci*e.cfg.PagesPerChain+page, chainID, page*e.cfg.PageSize)
		}
	}
	wg.Wait()

	var flat []aggregator.RawPool
	var errs []error
	for i, s := range slots {
		if s.err != nil {
			chainID := e.cfg.Chains[i/e.cfg.PagesPerChain]
			e.log.Warn("pool page fetch failed",
				zap.Int64("chain_id", chainID),
				zap.Int("page", i%e.cfg.PagesPerChain),
				zap.Error(s.err))
			errs = append(errs, s.err)
			continue
		}
		flat = append(flat, s.pools...)
	}
	return flat, errs
}

// rank normalizes, dedups, filters and scores raw pools, returning them best
// first. Dedup keeps the first occurrence of each (chain, address) key, which
// is deterministic because fetchAll flattens in fixed slot order.
func (e *Engine) rank(raw []aggregator.RawPool) []model.ScoredPool {
	seen := make(map[string]struct{}, len(raw))
	scored := make([]model.ScoredPool, 0, len(raw))
	for _, rp := range raw {
		pool, support, ok := normalize(rp)
		if !ok {
			continue
		}
		key := pool.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if pool.TVLUSD < e.cfg.MinTVLUSD || pool.APR7d < e.cfg.MinAPR7d {
			continue
		}
		scored = append(scored, scorePool(pool, support.Def))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Key() < scored[j].Key()
	})
	return scored
}

// normalize converts one aggregator record into the internal pool shape. A
// record that cannot be resolved to a supported (protocol, chain) pair, or is
// missing identity fields, is dropped silently; the feed carries plenty of
// protocols this agent does not trade.
func normalize(rp aggregator.RawPool) (model.Pool, registry.Support, bool) {
	chainID := rp.ResolvedChainID()
	address := strings.TrimSpace(rp.ResolvedAddress())
	if chainID == 0 || address == "" {
		return model.Pool{}, registry.Support{}, false
	}
	support, ok := registry.Resolve(rp.ProtocolKey(), chainID)
	if !ok {
		return model.Pool{}, registry.Support{}, false
	}

	token0, token1, ok := resolveTokens(rp)
	if !ok {
		return model.Pool{}, registry.Support{}, false
	}

	pool := model.Pool{
		ChainID:      chainID,
		Protocol:     support.Def.Key,
		Address:      address,
		Token0:       token0,
		Token1:       token1,
		FeeOrSpacing: resolveFeeOrSpacing(rp, support.Variant()),
		TVLUSD:       rp.ResolvedTVLUSD(),
		APR24h:       rp.ResolvedAPR24h(),
		APR7d:        rp.ResolvedAPR7d(),
		APR30d:       rp.ResolvedAPR30d(),
	}
	return pool, support, true
}

func resolveTokens(rp aggregator.RawPool) (model.PoolToken, model.PoolToken, bool) {
	t0, t1 := rp.Token0, rp.Token1
	if t0 == nil || t1 == nil {
		if len(rp.Tokens) < 2 {
			return model.PoolToken{}, model.PoolToken{}, false
		}
		t0, t1 = &rp.Tokens[0], &rp.Tokens[1]
	}
	if t0.Address == "" || t1.Address == "" {
		return model.PoolToken{}, model.PoolToken{}, false
	}
	return toPoolToken(*t0), toPoolToken(*t1), true
}

func toPoolToken(t aggregator.RawToken) model.PoolToken {
	decimals, _ := t.Decimals.Int64()
	return model.PoolToken{
		Address:  t.Address,
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: int(decimals),
	}
}

func resolveFeeOrSpacing(rp aggregator.RawPool, variant registry.ABIVariant) int64 {
	if variant == registry.ABITickSpacing {
		if v, err := rp.TickSpacing.Int64(); err == nil && v != 0 {
			return v
		}
	}
	if v, err := rp.FeeTier.Int64(); err == nil && v != 0 {
		return v
	}
	if v, err := rp.Fee.Int64(); err == nil && v != 0 {
		return v
	}
	return 0
}
