package discovery

import (
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// aprInputCap bounds the 7d APR before banding; beyond this the number is
// noise, not yield.
const aprInputCap = 200.0

// Score computes the five sub-scores for a pool. It is a pure function of its
// inputs: scoring the same pool twice yields identical results.
func Score(pool model.Pool, protocolBonus float64, stable0, stable1 bool) (model.ScoreBreakdown, []string, model.RiskTier) {
	var breakdown model.ScoreBreakdown
	reasons := make([]string, 0, 4)

	apr := pool.APR7d
	if apr > aprInputCap {
		apr = aprInputCap
	}
	switch {
	case apr >= 100:
		breakdown.APR = 40
		reasons = append(reasons, "exceptional-apr")
	case apr >= 60:
		breakdown.APR = 34
		reasons = append(reasons, "high-apr")
	case apr >= 40:
		breakdown.APR = 28
	case apr >= 25:
		breakdown.APR = 22
	case apr >= 15:
		breakdown.APR = 16
	case apr >= 10:
		breakdown.APR = 10
	case apr >= 5:
		breakdown.APR = 6
	default:
		breakdown.APR = 2
		reasons = append(reasons, "thin-yield")
	}

	switch {
	case pool.TVLUSD >= 10_000_000:
		breakdown.TVL = 25
		reasons = append(reasons, "deep-tvl")
	case pool.TVLUSD >= 5_000_000:
		breakdown.TVL = 21
	case pool.TVLUSD >= 2_000_000:
		breakdown.TVL = 17
	case pool.TVLUSD >= 1_000_000:
		breakdown.TVL = 13
	case pool.TVLUSD >= 500_000:
		breakdown.TVL = 9
	case pool.TVLUSD >= 250_000:
		breakdown.TVL = 5
	default:
		breakdown.TVL = 1
		reasons = append(reasons, "shallow-tvl")
	}

	// Ratio of 24h to 7d APR: near 1 means the yield held all week, far from
	// 1 means a spike or decay.
	if pool.APR7d > 0 && pool.APR24h > 0 {
		ratio := pool.APR24h / pool.APR7d
		switch {
		case ratio >= 0.6 && ratio <= 1.6:
			breakdown.Consistency = 20
			reasons = append(reasons, "stable-yield")
		case ratio >= 0.45 && ratio <= 2.0:
			breakdown.Consistency = 14
		case ratio >= 0.3 && ratio <= 2.5:
			breakdown.Consistency = 8
		default:
			breakdown.Consistency = 2
			reasons = append(reasons, "volatile-yield")
		}
	} else {
		breakdown.Consistency = 3
		reasons = append(reasons, "missing-apr-window")
	}

	breakdown.Protocol = protocolBonus

	var risk model.RiskTier
	switch {
	case stable0 && stable1:
		breakdown.RangeSafety = 5
		risk = model.RiskLow
		reasons = append(reasons, "stable-stable")
	case stable0 || stable1:
		breakdown.RangeSafety = 3
		risk = model.RiskMedium
	default:
		breakdown.RangeSafety = 1
		risk = model.RiskHigh
		reasons = append(reasons, "volatile-pair")
	}

	return breakdown, reasons, risk
}

func scorePool(pool model.Pool, def registry.ProtocolDef) model.ScoredPool {
	stable0 := registry.IsStablecoin(pool.ChainID, pool.Token0)
	stable1 := registry.IsStablecoin(pool.ChainID, pool.Token1)
	breakdown, reasons, risk := Score(pool, def.ScoreBonus, stable0, stable1)
	return model.ScoredPool{
		Pool:      pool,
		Score:     breakdown.Total(),
		Breakdown: breakdown,
		Reasons:   reasons,
		Risk:      risk,
	}
}
