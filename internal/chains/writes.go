package chains

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
)

// SendOptions bounds a single transaction send. Zero values take the defaults
// below; there is no unbounded wait anywhere.
type SendOptions struct {
	// Nonce, when non-nil, is used verbatim instead of the wallet's pending
	// nonce. Dependent transactions on fast chains must pass explicitly
	// incremented nonces; pending-nonce inference can race the previous send.
	Nonce         *uint64
	GasLimit      uint64
	GasMultiplier float64
	PollInterval  time.Duration
	Timeout       time.Duration
}

type SendResult struct {
	TxHash  string
	GasUsed uint64
	Receipt *types.Receipt
}

// EstimateContractGas dry-runs the call. A revert is surfaced with the
// simulator's reason and CodeSimReverted; nothing is broadcast.
func (p *Pool) EstimateContractGas(ctx context.Context, chainID int64, to common.Address, value *big.Int, data []byte) (uint64, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	if p.signer == nil {
		return 0, lperr.New(lperr.CodeSigner, "missing signer")
	}
	msg := ethereum.CallMsg{From: p.signer.Address(), To: &to, Value: value, Data: data}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, lperr.Wrap(lperr.CodeSimReverted, "estimate gas", err)
	}
	return gas, nil
}

// Send signs and broadcasts one EIP-1559 transaction and waits for its
// receipt. Returns CodeTxFailed when the transaction reverts on-chain.
func (p *Pool) Send(ctx context.Context, chainID int64, to common.Address, value *big.Int, data []byte, opts SendOptions) (*SendResult, error) {
	client, err := p.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if p.signer == nil {
		return nil, lperr.New(lperr.CodeSigner, "missing signer")
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if value == nil {
		value = big.NewInt(0)
	}

	from := p.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return nil, lperr.Wrap(lperr.CodeSimReverted, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimated) * opts.GasMultiplier)
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	var nonce uint64
	if opts.Nonce != nil {
		nonce = *opts.Nonce
	} else {
		nonce, err = client.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, lperr.Wrap(lperr.CodeUnavailable, "fetch nonce", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := p.signer.SignTx(big.NewInt(chainID), tx)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "broadcast transaction", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, signed.Hash())
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return &SendResult{TxHash: signed.Hash().Hex(), GasUsed: receipt.GasUsed, Receipt: receipt}, nil
			}
			return nil, lperr.New(lperr.CodeTxFailed, "transaction reverted on-chain")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			// Transient RPC polling failures are ignored until timeout.
		}
		select {
		case <-waitCtx.Done():
			return nil, lperr.Wrap(lperr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
