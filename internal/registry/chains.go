package registry

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/lp-agent/internal/model"
)

// Canonical default EVM RPC endpoints by chain ID. Used whenever config does
// not override the endpoint for a chain.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.binance.org",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := defaultRPCByChainID[chainID]; ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d", chainID)
}

// SupportedChains lists every chain at least one registered protocol is
// deployed on, in ascending chain-id order.
func SupportedChains() []int64 {
	return []int64{1, 10, 56, 137, 8453, 42161}
}

// Stablecoins by chain. Order matters: the first entry is the chain's
// preferred funding stablecoin; bridged variants follow the native issue.
var stablecoinsByChainID = map[int64][]model.PoolToken{
	1: {
		{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
		{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Decimals: 18},
	},
	10: {
		{Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Symbol: "USDC", Decimals: 6},
		{Address: "0x7F5c764cBc14f9669B88837ca1490cCa17c31607", Symbol: "USDC.e", Decimals: 6},
		{Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Symbol: "USDT", Decimals: 6},
	},
	56: {
		{Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Symbol: "USDC", Decimals: 18},
		{Address: "0x55d398326f99059fF775485246999027B3197955", Symbol: "USDT", Decimals: 18},
	},
	137: {
		{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6},
		{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Symbol: "USDC.e", Decimals: 6},
		{Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Decimals: 6},
	},
	8453: {
		{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
		{Address: "0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA", Symbol: "USDbC", Decimals: 6},
	},
	42161: {
		{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
		{Address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", Symbol: "USDC.e", Decimals: 6},
		{Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Symbol: "USDT", Decimals: 6},
	},
}

func Stablecoins(chainID int64) []model.PoolToken {
	return stablecoinsByChainID[chainID]
}

var wrappedNativeByChainID = map[int64]model.PoolToken{
	1:     {Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
	10:    {Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
	56:    {Address: "0xbb4CdB9CBd36B01bD1cBaEF60aF814a3f6F0Ee75", Symbol: "WBNB", Decimals: 18},
	137:   {Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Symbol: "WPOL", Decimals: 18},
	8453:  {Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
	42161: {Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Symbol: "WETH", Decimals: 18},
}

func WrappedNative(chainID int64) (model.PoolToken, bool) {
	value, ok := wrappedNativeByChainID[chainID]
	return value, ok
}

// IsWrappedNative reports whether addr is the chain's canonical wrapped-native
// asset.
func IsWrappedNative(chainID int64, addr string) bool {
	token, ok := wrappedNativeByChainID[chainID]
	return ok && strings.EqualFold(token.Address, addr)
}

var stableSymbols = map[string]struct{}{
	"USDC": {}, "USDC.E": {}, "USDBC": {}, "USDT": {}, "DAI": {},
	"FDUSD": {}, "LUSD": {}, "GHO": {}, "USDE": {},
}

// IsStablecoin matches against the per-chain address table first, then the
// symbol set (aggregator records sometimes carry addresses the table does not
// know, bridged variants especially).
func IsStablecoin(chainID int64, token model.PoolToken) bool {
	for _, stable := range stablecoinsByChainID[chainID] {
		if strings.EqualFold(stable.Address, token.Address) {
			return true
		}
	}
	_, ok := stableSymbols[strings.ToUpper(strings.TrimSpace(token.Symbol))]
	return ok
}
