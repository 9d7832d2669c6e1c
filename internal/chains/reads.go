package chains

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/model"
	"github.com/ggonzalez94/lp-agent/internal/registry"
)

// PositionData is the decoded position struct, identical across variants
// except for the meaning of FeeOrSpacing.
type PositionData struct {
	Token0       common.Address
	Token1       common.Address
	FeeOrSpacing int64
	TickLower    int64
	TickUpper    int64
	Liquidity    *big.Int
	TokensOwed0  *big.Int
	TokensOwed1  *big.Int
}

func (p *Pool) call(ctx context.Context, chainID int64, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, fmt.Sprintf("pack %s call", method), err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, fmt.Sprintf("call %s", method), err)
	}
	values, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, fmt.Sprintf("unpack %s result", method), err)
	}
	return values, nil
}

func (p *Pool) ERC20Balance(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error) {
	erc20, err := registry.ERC20()
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "erc20 abi", err)
	}
	values, err := p.call(ctx, chainID, token, erc20, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (p *Pool) ERC20Metadata(ctx context.Context, chainID int64, token common.Address) (model.PoolToken, error) {
	erc20, err := registry.ERC20()
	if err != nil {
		return model.PoolToken{}, lperr.Wrap(lperr.CodeInternal, "erc20 abi", err)
	}
	symValues, err := p.call(ctx, chainID, token, erc20, "symbol")
	if err != nil {
		return model.PoolToken{}, err
	}
	symbol, _ := symValues[0].(string)
	decValues, err := p.call(ctx, chainID, token, erc20, "decimals")
	if err != nil {
		return model.PoolToken{}, err
	}
	decimals, ok := decValues[0].(uint8)
	if !ok {
		return model.PoolToken{}, lperr.New(lperr.CodeUnavailable, "unexpected decimals type")
	}
	return model.PoolToken{Address: token.Hex(), Symbol: symbol, Decimals: int(decimals)}, nil
}

func (p *Pool) Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error) {
	erc20, err := registry.ERC20()
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "erc20 abi", err)
	}
	values, err := p.call(ctx, chainID, token, erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (p *Pool) NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	balance, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "read native balance", err)
	}
	return balance, nil
}

// Slot0 reads the pool's current sqrtPriceX96 and tick. The output layout
// differs between variants, but the first two values are common.
func (p *Pool) Slot0(ctx context.Context, chainID int64, pool common.Address, variant registry.ABIVariant) (*big.Int, int64, error) {
	poolABI, err := registry.PoolABI(variant)
	if err != nil {
		return nil, 0, lperr.Wrap(lperr.CodeInternal, "pool abi", err)
	}
	values, err := p.call(ctx, chainID, pool, poolABI, "slot0")
	if err != nil {
		return nil, 0, err
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return nil, 0, err
	}
	tick, err := asBigInt(values[1])
	if err != nil {
		return nil, 0, err
	}
	return sqrtPrice, tick.Int64(), nil
}

// FactoryPool resolves the pool address for a token pair and fee/spacing key.
// The zero address means the pool does not exist on this factory.
func (p *Pool) FactoryPool(ctx context.Context, chainID int64, factory, tokenA, tokenB common.Address, feeOrSpacing int64, variant registry.ABIVariant) (common.Address, error) {
	factoryABI, err := registry.FactoryABI(variant)
	if err != nil {
		return common.Address{}, lperr.Wrap(lperr.CodeInternal, "factory abi", err)
	}
	// go-ethereum packs both uint24 and int24 from *big.Int, so the variant
	// only selects the ABI fragment, not the argument encoding.
	values, err := p.call(ctx, chainID, factory, factoryABI, "getPool", tokenA, tokenB, big.NewInt(feeOrSpacing))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, lperr.New(lperr.CodeUnavailable, "unexpected getPool result type")
	}
	return addr, nil
}

// PositionDetails reads and decodes positions(tokenId) from the mint contract.
func (p *Pool) PositionDetails(ctx context.Context, chainID int64, mint common.Address, variant registry.ABIVariant, tokenID *big.Int) (PositionData, error) {
	npm, err := registry.PositionManagerABI(variant)
	if err != nil {
		return PositionData{}, lperr.Wrap(lperr.CodeInternal, "position manager abi", err)
	}
	values, err := p.call(ctx, chainID, mint, npm, "positions", tokenID)
	if err != nil {
		return PositionData{}, err
	}
	if len(values) < 12 {
		return PositionData{}, lperr.New(lperr.CodeUnavailable, "unexpected positions result arity")
	}
	token0, _ := values[2].(common.Address)
	token1, _ := values[3].(common.Address)
	feeOrSpacing, err := asBigInt(values[4])
	if err != nil {
		return PositionData{}, err
	}
	tickLower, err := asBigInt(values[5])
	if err != nil {
		return PositionData{}, err
	}
	tickUpper, err := asBigInt(values[6])
	if err != nil {
		return PositionData{}, err
	}
	liquidity, err := asBigInt(values[7])
	if err != nil {
		return PositionData{}, err
	}
	owed0, err := asBigInt(values[10])
	if err != nil {
		return PositionData{}, err
	}
	owed1, err := asBigInt(values[11])
	if err != nil {
		return PositionData{}, err
	}
	return PositionData{
		Token0:       token0,
		Token1:       token1,
		FeeOrSpacing: feeOrSpacing.Int64(),
		TickLower:    tickLower.Int64(),
		TickUpper:    tickUpper.Int64(),
		Liquidity:    liquidity,
		TokensOwed0:  owed0,
		TokensOwed1:  owed1,
	}, nil
}

func (p *Pool) GasPrice(ctx context.Context, chainID int64) (*big.Int, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "suggest gas price", err)
	}
	return price, nil
}

func (p *Pool) PendingNonce(ctx context.Context, chainID int64, account common.Address) (uint64, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	nonce, err := client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, lperr.Wrap(lperr.CodeUnavailable, "fetch nonce", err)
	}
	return nonce, nil
}

func asBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		return t, nil
	case uint8:
		return big.NewInt(int64(t)), nil
	case uint16:
		return big.NewInt(int64(t)), nil
	case uint32:
		return big.NewInt(int64(t)), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case int64:
		return big.NewInt(t), nil
	default:
		return nil, lperr.Newf(lperr.CodeUnavailable, "unexpected numeric type %T", v)
	}
}
