package model

import (
	"fmt"
	"strings"
	"time"
)

// PoolToken is ERC-20 metadata as reported by the aggregator or read on chain.
type PoolToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

// Pool is a normalized concentrated-liquidity pool candidate.
//
// FeeOrSpacing is the fee in hundredths of a bip for standard-variant
// protocols, or the raw tick spacing for tick-spacing-native protocols. The
// registry's ABI variant decides which reading applies.
type Pool struct {
	ChainID      int64     `json:"chain_id"`
	Protocol     string    `json:"protocol"`
	Address      string    `json:"address"`
	Token0       PoolToken `json:"token0"`
	Token1       PoolToken `json:"token1"`
	FeeOrSpacing int64     `json:"fee_or_spacing"`
	TVLUSD       float64   `json:"tvl_usd"`
	APR24h       float64   `json:"apr_24h"`
	APR7d        float64   `json:"apr_7d"`
	APR30d       float64   `json:"apr_30d"`
}

// Key is the pool identity used for deduplication: (chainId, poolAddress).
func (p Pool) Key() string {
	return fmt.Sprintf("%d:%s", p.ChainID, strings.ToLower(p.Address))
}

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// ScoreBreakdown holds the five independently inspectable sub-scores. They sum
// to the pool's total score.
type ScoreBreakdown struct {
	APR         float64 `json:"apr"`
	TVL         float64 `json:"tvl"`
	Consistency float64 `json:"consistency"`
	Protocol    float64 `json:"protocol"`
	RangeSafety float64 `json:"range_safety"`
}

func (b ScoreBreakdown) Total() float64 {
	return b.APR + b.TVL + b.Consistency + b.Protocol + b.RangeSafety
}

// ScoredPool is a Pool plus its derived score. Recomputed every discovery
// cycle; never mutated in place.
type ScoredPool struct {
	Pool
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`
	Reasons   []string       `json:"reasoning"`
	Risk      RiskTier       `json:"risk_tier"`
}

// Position is the live state of a concentrated-liquidity position. It is only
// ever produced by re-reading aggregator or on-chain state, never patched.
type Position struct {
	ID                  string    `json:"pos_id"`
	ChainID             int64     `json:"chain_id"`
	Protocol            string    `json:"protocol"`
	PoolAddress         string    `json:"pool_address"`
	Token0              PoolToken `json:"token0"`
	Token1              PoolToken `json:"token1"`
	ValueUSD            float64   `json:"value_usd"`
	InRange             bool      `json:"in_range"`
	RangeUtilisationPct float64   `json:"range_utilisation_pct"`
	TickLower           int64     `json:"tick_lower"`
	TickUpper           int64     `json:"tick_upper"`
	CurrentTick         int64     `json:"current_tick"`
	FeesOwed0           string    `json:"fees_owed_0"`
	FeesOwed1           string    `json:"fees_owed_1"`
	FeesOwedUSD         float64   `json:"fees_owed_usd"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	Source              string    `json:"source"`
}

// EvmLpRecord is the minimal persisted record of a position this wallet
// opened. It is the source of truth for reconciliation when the aggregator has
// stopped reporting a position.
type EvmLpRecord struct {
	PosID       string    `json:"pos_id"`
	ChainID     int64     `json:"chain_id"`
	Protocol    string    `json:"protocol"`
	PoolAddress string    `json:"pool_address"`
	Symbol0     string    `json:"symbol0"`
	Symbol1     string    `json:"symbol1"`
	EntryUSD    float64   `json:"entry_usd"`
	OpenedAt    time.Time `json:"opened_at"`
}

// TokenBalance is a single token holding with its best-effort USD valuation.
type TokenBalance struct {
	Token     PoolToken `json:"token"`
	BaseUnits string    `json:"base_units"`
	USD       float64   `json:"usd"`
}

// ChainBalance is a read-only snapshot of the wallet's holdings on one chain.
// Recomputed on demand; never cached.
type ChainBalance struct {
	ChainID       int64          `json:"chain_id"`
	Stables       []TokenBalance `json:"stables"`
	WrappedNative *TokenBalance  `json:"wrapped_native,omitempty"`
	NativeWei     string         `json:"native_wei"`
	NativeUSD     float64        `json:"native_usd"`
	TotalUSD      float64        `json:"total_usd"`
}
