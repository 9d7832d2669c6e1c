package discovery

import (
	"reflect"
	"testing"

	"github.com/ggonzalez94/lp-agent/internal/model"
)

func TestScoreBands(t *testing.T) {
	tests := []struct {
		name             string
		pool             model.Pool
		bonus            float64
		stable0, stable1 bool
		want             model.ScoreBreakdown
		wantRisk         model.RiskTier
	}{
		{
			name:     "top band everything",
			pool:     model.Pool{APR7d: 120, APR24h: 110, TVLUSD: 12_000_000},
			bonus:    10,
			stable0:  true,
			stable1:  true,
			want:     model.ScoreBreakdown{APR: 40, TVL: 25, Consistency: 20, Protocol: 10, RangeSafety: 5},
			wantRisk: model.RiskLow,
		},
		{
			name:     "mid band volatile pair",
			pool:     model.Pool{APR7d: 30, APR24h: 55, TVLUSD: 800_000},
			bonus:    6,
			want:     model.ScoreBreakdown{APR: 22, TVL: 9, Consistency: 14, Protocol: 6, RangeSafety: 1},
			wantRisk: model.RiskHigh,
		},
		{
			name:     "apr spike scores low consistency",
			pool:     model.Pool{APR7d: 20, APR24h: 80, TVLUSD: 3_000_000},
			bonus:    7,
			stable0:  true,
			want:     model.ScoreBreakdown{APR: 16, TVL: 17, Consistency: 2, Protocol: 7, RangeSafety: 3},
			wantRisk: model.RiskMedium,
		},
		{
			name:     "missing apr window",
			pool:     model.Pool{APR7d: 12, APR24h: 0, TVLUSD: 600_000},
			bonus:    10,
			want:     model.ScoreBreakdown{APR: 10, TVL: 9, Consistency: 3, Protocol: 10, RangeSafety: 1},
			wantRisk: model.RiskHigh,
		},
		{
			name:     "apr capped before banding",
			pool:     model.Pool{APR7d: 5000, APR24h: 4800, TVLUSD: 260_000},
			bonus:    6,
			want:     model.ScoreBreakdown{APR: 40, TVL: 5, Consistency: 20, Protocol: 6, RangeSafety: 1},
			wantRisk: model.RiskHigh,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _, risk := Score(tc.pool, tc.bonus, tc.stable0, tc.stable1)
			if got != tc.want {
				t.Fatalf("breakdown = %+v, want %+v", got, tc.want)
			}
			if risk != tc.wantRisk {
				t.Fatalf("risk = %s, want %s", risk, tc.wantRisk)
			}
		})
	}
}

func TestScoreTopBandSumsToHundred(t *testing.T) {
	pool := model.Pool{APR7d: 120, APR24h: 110, TVLUSD: 12_000_000}
	breakdown, reasons, _ := Score(pool, 10, true, true)
	if total := breakdown.Total(); total != 100 {
		t.Fatalf("total = %v, want 100", total)
	}
	if len(reasons) == 0 {
		t.Fatal("expected reason tags for a top-band pool")
	}
}

func TestScoreIsPure(t *testing.T) {
	pool := model.Pool{APR7d: 42, APR24h: 40, TVLUSD: 1_500_000}
	b1, r1, risk1 := Score(pool, 7, false, true)
	b2, r2, risk2 := Score(pool, 7, false, true)
	if b1 != b2 || risk1 != risk2 || !reflect.DeepEqual(r1, r2) {
		t.Fatalf("scoring is not deterministic: %+v/%v vs %+v/%v", b1, r1, b2, r2)
	}
}
