package chains

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/registry"
	"github.com/ggonzalez94/lp-agent/internal/signer"
)

// Pool lazily creates and caches one RPC connection per chain id. A single
// signing wallet is shared across all chains.
type Pool struct {
	mu           sync.Mutex
	clients      map[int64]*ethclient.Client
	rpcOverrides map[int64]string
	signer       signer.Signer
}

func NewPool(rpcOverrides map[int64]string, txSigner signer.Signer) *Pool {
	if rpcOverrides == nil {
		rpcOverrides = map[int64]string{}
	}
	return &Pool{
		clients:      map[int64]*ethclient.Client{},
		rpcOverrides: rpcOverrides,
		signer:       txSigner,
	}
}

// Client returns the cached connection for chainID, dialing on first use.
func (p *Pool) Client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[chainID]; ok {
		return client, nil
	}
	rpcURL, err := registry.ResolveRPCURL(p.rpcOverrides[chainID], chainID)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeUnavailable, "connect rpc", err)
	}
	p.clients[chainID] = client
	return client, nil
}

func (p *Pool) Signer() signer.Signer { return p.signer }

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, client := range p.clients {
		client.Close()
		delete(p.clients, id)
	}
}
