package oneinch

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/funding"
	"github.com/ggonzalez94/lp-agent/internal/httpx"
)

const defaultBase = "https://api.1inch.dev"

// Client quotes executable swaps through the 1inch aggregation router.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: defaultBase, apiKey: apiKey}
}

// WithBaseURL overrides the API host, used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

type spenderResponse struct {
	Address string `json:"address"`
}

func (c *Client) QuoteSwap(ctx context.Context, chainID int64, tokenIn, tokenOut common.Address, amountIn *big.Int, sender common.Address) (funding.SwapQuote, error) {
	if c.apiKey == "" {
		return funding.SwapQuote{}, lperr.New(lperr.CodeAuth, "missing required API key for 1inch (LP_AGENT_1INCH_API_KEY)")
	}
	chain := strconv.FormatInt(chainID, 10)

	vals := url.Values{}
	vals.Set("src", tokenIn.Hex())
	vals.Set("dst", tokenOut.Hex())
	vals.Set("amount", amountIn.String())
	vals.Set("from", sender.Hex())
	vals.Set("origin", sender.Hex())
	vals.Set("slippage", "0.5")

	reqURL := fmt.Sprintf("%s/swap/v6.0/%s/swap?%s", c.baseURL, chain, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return funding.SwapQuote{}, lperr.Wrap(lperr.CodeInternal, "build 1inch swap request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp swapResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return funding.SwapQuote{}, err
	}
	if resp.DstAmount == "" || strings.TrimSpace(resp.Tx.To) == "" || strings.TrimSpace(resp.Tx.Data) == "" {
		return funding.SwapQuote{}, lperr.New(lperr.CodeUnavailable, "1inch swap response missing transaction payload")
	}
	amountOut, ok := new(big.Int).SetString(resp.DstAmount, 10)
	if !ok {
		return funding.SwapQuote{}, lperr.New(lperr.CodeUnavailable, "1inch swap response has malformed output amount")
	}
	value := big.NewInt(0)
	if strings.TrimSpace(resp.Tx.Value) != "" {
		if value, ok = new(big.Int).SetString(resp.Tx.Value, 10); !ok {
			return funding.SwapQuote{}, lperr.New(lperr.CodeUnavailable, "1inch swap response has malformed value")
		}
	}

	spender, err := c.routerSpender(ctx, chain)
	if err != nil {
		return funding.SwapQuote{}, err
	}

	return funding.SwapQuote{
		ChainID:         chainID,
		TokenIn:         tokenIn,
		TokenOut:        tokenOut,
		AmountIn:        new(big.Int).Set(amountIn),
		AmountOut:       amountOut,
		To:              common.HexToAddress(resp.Tx.To),
		Data:            common.FromHex(resp.Tx.Data),
		Value:           value,
		ApprovalSpender: spender,
		Route:           "1inch",
	}, nil
}

func (c *Client) routerSpender(ctx context.Context, chain string) (common.Address, error) {
	reqURL := fmt.Sprintf("%s/swap/v6.0/%s/approve/spender", c.baseURL, chain)
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return common.Address{}, lperr.Wrap(lperr.CodeInternal, "build 1inch spender request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp spenderResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(resp.Address) {
		return common.Address{}, lperr.New(lperr.CodeUnavailable, "1inch spender response missing router address")
	}
	return common.HexToAddress(resp.Address), nil
}
