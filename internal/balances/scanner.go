package balances

import (
	"context"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/pricing"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// Backend is the read-only on-chain surface the scanner needs. chains.Pool
// satisfies it.
type Backend interface {
	ERC20Balance(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error)
}

// Scanner aggregates stablecoin, wrapped-native and native holdings per
// chain. Every scan re-reads the chain; nothing is cached.
type Scanner struct {
	backend Backend
	oracle  *pricing.Oracle
	chains  []int64
	log     *zap.Logger
}

func NewScanner(backend Backend, oracle *pricing.Oracle, chainIDs []int64, log *zap.Logger) *Scanner {
	return &Scanner{backend: backend, oracle: oracle, chains: chainIDs, log: log.Named("balances")}
}

// Scan reads every configured chain concurrently. A chain whose reads fail is
// dropped from the snapshot with a warning; the scan only errors when no
// chain could be read at all.
func (s *Scanner) Scan(ctx context.Context, wallet common.Address) ([]model.ChainBalance, error) {
	if len(s.chains) == 0 {
		return nil, lperr.New(lperr.CodeUsage, "no chains configured")
	}

	results := make([]*model.ChainBalance, len(s.chains))
	var wg sync.WaitGroup
	for i, chainID := range s.chains {
		wg.Add(1)
		go func(slot int, chainID int64) {
			defer wg.Done()
			snapshot, err := s.scanChain(ctx, chainID, wallet)
			if err != nil {
				s.log.Warn("chain scan failed", zap.Int64("chain_id", chainID), zap.Error(err))
				return
			}
			results[slot] = snapshot
		}(i, chainID)
	}
	wg.Wait()

	out := make([]model.ChainBalance, 0, len(results))
	for _, snapshot := range results {
		if snapshot != nil {
			out = append(out, *snapshot)
		}
	}
	if len(out) == 0 {
		return nil, lperr.New(lperr.CodeUnavailable, "no chain could be scanned")
	}
	return out, nil
}

func (s *Scanner) scanChain(ctx context.Context, chainID int64, wallet common.Address) (*model.ChainBalance, error) {
	snapshot := &model.ChainBalance{ChainID: chainID}

	for _, stable := range registry.Stablecoins(chainID) {
		balance, err := s.backend.ERC20Balance(ctx, chainID, common.HexToAddress(stable.Address), wallet)
		if err != nil {
			return nil, err
		}
		usd := humanAmount(balance, stable.Decimals)
		snapshot.Stables = append(snapshot.Stables, model.TokenBalance{
			Token:     stable,
			BaseUnits: balance.String(),
			USD:       usd,
		})
		snapshot.TotalUSD += usd
	}

	nativeUSD := s.oracle.NativeTokenPrice(chainID)
	if wrapped, ok := registry.WrappedNative(chainID); ok {
		balance, err := s.backend.ERC20Balance(ctx, chainID, common.HexToAddress(wrapped.Address), wallet)
		if err != nil {
			return nil, err
		}
		usd := humanAmount(balance, wrapped.Decimals) * nativeUSD
		snapshot.WrappedNative = &model.TokenBalance{
			Token:     wrapped,
			BaseUnits: balance.String(),
			USD:       usd,
		}
		snapshot.TotalUSD += usd
	}

	native, err := s.backend.NativeBalance(ctx, chainID, wallet)
	if err != nil {
		return nil, err
	}
	snapshot.NativeWei = native.String()
	snapshot.NativeUSD = humanAmount(native, 18) * nativeUSD
	snapshot.TotalUSD += snapshot.NativeUSD
	return snapshot, nil
}

func humanAmount(raw *big.Int, decimals int) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(math.Pow10(decimals)),
	).Float64()
	return value
}
