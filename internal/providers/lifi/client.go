package lifi

import (
	"context"
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

const defaultBase = "https://li.quest/v1"

// Client quotes executable stablecoin bridge transfers through LiFi routes.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: defaultBase}
}

// WithBaseURL overrides the API host, used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type quoteResponse struct {
	Estimate struct {
		ToAmount        string `json:"toAmount"`
		ApprovalAddress string `json:"approvalAddress"`
		FeeCosts        []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
	} `json:"estimate"`
	ToolDetails struct {
		Name string `json:"name"`
	} `json:"toolDetails"`
	Tool               string `json:"tool"`
	TransactionRequest struct {
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int64  `json:"chainId"`
	} `json:"transactionRequest"`
}

func (c *Client) QuoteBridge(ctx context.Context, fromChain, toChain int64, fromToken, toToken common.Address, amount *big.Int, sender common.Address) (funding.BridgeQuote, error) {
	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(fromChain, 10))
	vals.Set("toChain", strconv.FormatInt(toChain, 10))
	vals.Set("fromToken", strings.ToLower(fromToken.Hex()))
	vals.Set("toToken", strings.ToLower(toToken.Hex()))
	vals.Set("fromAmount", amount.String())
	vals.Set("fromAddress", sender.Hex())
	vals.Set("toAddress", sender.Hex())
	vals.Set("slippage", "0.005")

	reqURL := c.baseURL + "/quote?" + vals.Encode()
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return funding.BridgeQuote{}, lperr.Wrap(lperr.CodeInternal, "build lifi quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return funding.BridgeQuote{}, err
	}
	if resp.Estimate.ToAmount == "" {
		return funding.BridgeQuote{}, lperr.New(lperr.CodeUnavailable, "lifi quote missing output amount")
	}
	if strings.TrimSpace(resp.TransactionRequest.To) == "" || strings.TrimSpace(resp.TransactionRequest.Data) == "" {
		return funding.BridgeQuote{}, lperr.New(lperr.CodeUnavailable, "lifi quote missing executable transaction payload")
	}
	if resp.TransactionRequest.ChainID != 0 && resp.TransactionRequest.ChainID != fromChain {
		return funding.BridgeQuote{}, lperr.New(lperr.CodeUnavailable, "lifi transaction chain does not match source chain")
	}

	estimatedOut, ok := new(big.Int).SetString(resp.Estimate.ToAmount, 10)
	if !ok {
		return funding.BridgeQuote{}, lperr.New(lperr.CodeUnavailable, "lifi quote has malformed output amount")
	}
	value, err := hexToBig(resp.TransactionRequest.Value)
	if err != nil {
		return funding.BridgeQuote{}, lperr.Wrap(lperr.CodeUnavailable, "parse bridge transaction value", err)
	}

	feeUSD := 0.0
	for _, item := range resp.Estimate.FeeCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}
	for _, item := range resp.Estimate.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}
	route := resp.ToolDetails.Name
	if route == "" {
		route = resp.Tool
	}

	var spender common.Address
	if common.IsHexAddress(resp.Estimate.ApprovalAddress) {
		spender = common.HexToAddress(resp.Estimate.ApprovalAddress)
	}

	return funding.BridgeQuote{
		FromChainID:     fromChain,
		ToChainID:       toChain,
		FromToken:       fromToken,
		ToToken:         toToken,
		AmountIn:        new(big.Int).Set(amount),
		EstimatedOut:    estimatedOut,
		FeeUSD:          feeUSD,
		To:              common.HexToAddress(resp.TransactionRequest.To),
		Data:            common.FromHex(resp.TransactionRequest.Data),
		Value:           value,
		ApprovalSpender: spender,
		Route:           route,
	}, nil
}

func hexToBig(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return big.NewInt(0), nil
	}
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	n, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, lperr.Newf(lperr.CodeUnavailable, "invalid hex value %q", v)
	}
	return n, nil
}
