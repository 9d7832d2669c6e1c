package funding

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
)

// SwapQuote is an executable single-chain swap: the estimated output plus the
// transaction payload that performs it.
type SwapQuote struct {
	ChainID         int64
	TokenIn         common.Address
	TokenOut        common.Address
	AmountIn        *big.Int
	AmountOut       *big.Int
	PriceImpactPct  float64
	To              common.Address
	Data            []byte
	Value           *big.Int
	ApprovalSpender common.Address
	Route           string
}

// SwapService produces executable swap quotes on one chain.
type SwapService interface {
	QuoteSwap(ctx context.Context, chainID int64, tokenIn, tokenOut common.Address, amountIn *big.Int, sender common.Address) (SwapQuote, error)
}

// BridgeQuote is an executable cross-chain transfer payload.
type BridgeQuote struct {
	FromChainID     int64
	ToChainID       int64
	FromToken       common.Address
	ToToken         common.Address
	AmountIn        *big.Int
	EstimatedOut    *big.Int
	FeeUSD          float64
	To              common.Address
	Data            []byte
	Value           *big.Int
	ApprovalSpender common.Address
	Route           string
}

// BridgeService produces executable bridge quotes between chains.
type BridgeService interface {
	QuoteBridge(ctx context.Context, fromChain, toChain int64, fromToken, toToken common.Address, amount *big.Int, sender common.Address) (BridgeQuote, error)
}

// UnconfiguredSwap is the default when no swap provider is wired. Every quote
// fails with an unsupported error, which the orchestrator reports as a
// funding failure only when a swap is actually required.
type UnconfiguredSwap struct{}

func (UnconfiguredSwap) QuoteSwap(context.Context, int64, common.Address, common.Address, *big.Int, common.Address) (SwapQuote, error) {
	return SwapQuote{}, lperr.New(lperr.CodeUnsupported, "no swap provider configured")
}

// UnconfiguredBridge is the default when no bridge provider is wired.
type UnconfiguredBridge struct{}

func (UnconfiguredBridge) QuoteBridge(context.Context, int64, int64, common.Address, common.Address, *big.Int, common.Address) (BridgeQuote, error) {
	return BridgeQuote{}, lperr.New(lperr.CodeUnsupported, "no bridge provider configured")
}
