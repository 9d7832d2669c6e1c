package pricing

import "sync"

// Static per-chain native-token USD fallbacks. Approximate values: the
// oracle is a heuristic input for funding-size decisions, not a ledger.
var fallbackNativeUSD = map[int64]float64{
	1:     3500,
	10:    3500,
	56:    600,
	137:   0.5,
	8453:  3500,
	42161: 3500,
}

// Oracle is an analyst-fed native-token price lookup with a static fallback
// table. Feeds overwrite the fallback; reads never block on a feed.
type Oracle struct {
	mu   sync.RWMutex
	feed map[int64]float64
}

func NewOracle() *Oracle {
	return &Oracle{feed: map[int64]float64{}}
}

// SetNativeTokenPrice records an analyst-supplied price for a chain.
func (o *Oracle) SetNativeTokenPrice(chainID int64, usd float64) {
	if usd <= 0 {
		return
	}
	o.mu.Lock()
	o.feed[chainID] = usd
	o.mu.Unlock()
}

// NativeTokenPrice returns the current native-token USD price for a chain,
// falling back to the static table. Unknown chains price at zero, which makes
// every downstream value estimate conservatively small.
func (o *Oracle) NativeTokenPrice(chainID int64) float64 {
	o.mu.RLock()
	price, ok := o.feed[chainID]
	o.mu.RUnlock()
	if ok {
		return price
	}
	return fallbackNativeUSD[chainID]
}
