package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ggonzalez94/lp-agent/internal/httpx"
)

const DefaultBaseURL = "https://api.krystal.app/all"

// Client talks to the off-chain pool/position aggregator. Both endpoints may
// fail or return partial data; callers tolerate both.
type Client struct {
	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// RawToken is token metadata as the aggregator reports it. Decimals sometimes
// arrives as a string, so it stays a json.Number until normalization.
type RawToken struct {
	Address  string      `json:"address"`
	Symbol   string      `json:"symbol"`
	Name     string      `json:"name"`
	Decimals json.Number `json:"decimals"`
}

// RawPool mirrors the aggregator's pool record. The feed has drifted over
// time, so most fields have at least one alternate spelling; normalization
// resolves them.
type RawPool struct {
	ChainID     json.Number `json:"chainId"`
	Chain       rawChain    `json:"chain"`
	Address     string      `json:"address"`
	PoolAddress string      `json:"poolAddress"`

	Protocol json.RawMessage `json:"protocol"`
	Project  string          `json:"project"`

	Token0 *RawToken  `json:"token0"`
	Token1 *RawToken  `json:"token1"`
	Tokens []RawToken `json:"tokens"`

	FeeTier     json.Number `json:"feeTier"`
	Fee         json.Number `json:"fee"`
	TickSpacing json.Number `json:"tickSpacing"`

	TVLUSD json.Number `json:"tvlUsd"`
	Stats  *rawStats   `json:"stats"`
	APR24h json.Number `json:"apr24h"`
	APR7d  json.Number `json:"apr7d"`
	APR30d json.Number `json:"apr30d"`
}

type rawChain struct {
	ID json.Number `json:"id"`
}

type rawStats struct {
	TVLUSD json.Number `json:"tvlUsd"`
	APR24h json.Number `json:"apr24h"`
	APR7d  json.Number `json:"apr7d"`
	APR30d json.Number `json:"apr30d"`
}

// ProtocolKey resolves the protocol identifier from whichever shape the feed
// used: a bare string, an object with key/name, or the project field.
func (p RawPool) ProtocolKey() string {
	if len(p.Protocol) > 0 {
		var asString string
		if err := json.Unmarshal(p.Protocol, &asString); err == nil && asString != "" {
			return asString
		}
		var asObject struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(p.Protocol, &asObject); err == nil {
			if asObject.Key != "" {
				return asObject.Key
			}
			if asObject.Name != "" {
				return asObject.Name
			}
		}
	}
	return p.Project
}

func (p RawPool) ResolvedChainID() int64 {
	if v, err := p.ChainID.Int64(); err == nil && v != 0 {
		return v
	}
	if v, err := p.Chain.ID.Int64(); err == nil {
		return v
	}
	return 0
}

func (p RawPool) ResolvedAddress() string {
	if p.Address != "" {
		return p.Address
	}
	return p.PoolAddress
}

// The flat fields won over the nested stats object at some point; prefer them
// and fall back to stats for older payloads.

func (p RawPool) ResolvedTVLUSD() float64 {
	return numberWithStat(p.TVLUSD, p.Stats, func(s *rawStats) json.Number { return s.TVLUSD })
}

func (p RawPool) ResolvedAPR24h() float64 {
	return numberWithStat(p.APR24h, p.Stats, func(s *rawStats) json.Number { return s.APR24h })
}

func (p RawPool) ResolvedAPR7d() float64 {
	return numberWithStat(p.APR7d, p.Stats, func(s *rawStats) json.Number { return s.APR7d })
}

func (p RawPool) ResolvedAPR30d() float64 {
	return numberWithStat(p.APR30d, p.Stats, func(s *rawStats) json.Number { return s.APR30d })
}

func numberWithStat(primary json.Number, stats *rawStats, pick func(*rawStats) json.Number) float64 {
	if v, err := primary.Float64(); err == nil && v != 0 {
		return v
	}
	if stats != nil {
		if v, err := pick(stats).Float64(); err == nil {
			return v
		}
	}
	return 0
}

type poolsEnvelope struct {
	Pools []RawPool `json:"pools"`
	Data  []RawPool `json:"data"`
}

// Pools fetches one page of candidate pools for a chain.
func (c *Client) Pools(ctx context.Context, chainID int64, limit, offset int) ([]RawPool, error) {
	vals := url.Values{}
	vals.Set("chainId", fmt.Sprintf("%d", chainID))
	vals.Set("limit", fmt.Sprintf("%d", limit))
	vals.Set("offset", fmt.Sprintf("%d", offset))
	var env poolsEnvelope
	if err := c.http.GetJSON(ctx, c.baseURL+"/v1/pools?"+vals.Encode(), &env); err != nil {
		return nil, err
	}
	if len(env.Pools) > 0 {
		return env.Pools, nil
	}
	return env.Data, nil
}

// RawPosition mirrors the aggregator's open-position record.
type RawPosition struct {
	ID          json.Number        `json:"id"`
	TokenID     json.Number        `json:"tokenId"`
	ChainID     json.Number        `json:"chainId"`
	Chain       rawChain           `json:"chain"`
	Protocol    json.RawMessage    `json:"protocol"`
	Status      string             `json:"status"`
	Pool        rawPosPool         `json:"pool"`
	ValueUSD    json.Number        `json:"currentPositionValue"`
	TickLower   json.Number        `json:"minTick"`
	TickUpper   json.Number        `json:"maxTick"`
	CurrentTick json.Number        `json:"currentTick"`
	OpenedAt    json.Number        `json:"openedTime"`
	Pending     []rawPendingReward `json:"tradingFees"`
}

type rawPosPool struct {
	Address string      `json:"poolAddress"`
	Token0  *RawToken   `json:"token0"`
	Token1  *RawToken   `json:"token1"`
	FeeTier json.Number `json:"feeTier"`
	Project string      `json:"project"`
}

type rawPendingReward struct {
	Token   RawToken    `json:"token"`
	Balance string      `json:"balance"`
	Quotes  json.Number `json:"value"`
}

func (p RawPosition) ProtocolKey() string {
	if len(p.Protocol) > 0 {
		var asString string
		if err := json.Unmarshal(p.Protocol, &asString); err == nil && asString != "" {
			return asString
		}
		var asObject struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(p.Protocol, &asObject); err == nil && asObject.Key != "" {
			return asObject.Key
		}
	}
	return p.Pool.Project
}

func (p RawPosition) ResolvedID() string {
	if p.ID.String() != "" && p.ID.String() != "0" {
		return p.ID.String()
	}
	return p.TokenID.String()
}

func (p RawPosition) ResolvedChainID() int64 {
	if v, err := p.ChainID.Int64(); err == nil && v != 0 {
		return v
	}
	if v, err := p.Chain.ID.Int64(); err == nil {
		return v
	}
	return 0
}

// Closed reports whether the aggregator considers the position closed.
func (p RawPosition) Closed() bool {
	status := strings.ToLower(strings.TrimSpace(p.Status))
	return status == "closed" || status == "inactive"
}

type positionsEnvelope struct {
	Positions []RawPosition `json:"positions"`
	Data      []RawPosition `json:"data"`
}

// Positions fetches the open positions the aggregator knows for a wallet.
func (c *Client) Positions(ctx context.Context, wallet string) ([]RawPosition, error) {
	vals := url.Values{}
	vals.Set("wallet", wallet)
	var env positionsEnvelope
	if err := c.http.GetJSON(ctx, c.baseURL+"/v1/positions?"+vals.Encode(), &env); err != nil {
		return nil, err
	}
	if len(env.Positions) > 0 {
		return env.Positions, nil
	}
	return env.Data, nil
}
