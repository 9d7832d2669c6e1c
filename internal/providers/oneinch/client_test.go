package oneinch

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/httpx"
)

func newSwapServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/approve/spender"):
			_, _ = w.Write([]byte(`{"address": "0x1111111254EEB25477B68fb85Ed929f73A960582"}`))
		case strings.HasSuffix(r.URL.Path, "/swap"):
			if r.URL.Query().Get("src") == "" || r.URL.Query().Get("amount") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{
				"dstAmount": "423000000000000000",
				"tx": {
					"to": "0x1111111254EEB25477B68fb85Ed929f73A960582",
					"data": "0x12aa3caf",
					"value": "0"
				}
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestQuoteSwap(t *testing.T) {
	server := newSwapServer(t)
	defer server.Close()

	c := New(httpx.New(2*time.Second, 0), "test-key").WithBaseURL(server.URL)
	quote, err := c.QuoteSwap(context.Background(), 8453,
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		common.HexToAddress("0x4200000000000000000000000000000000000006"),
		big.NewInt(1_500_000_000),
		common.HexToAddress("0x00000000000000000000000000000000000000AA"))
	if err != nil {
		t.Fatalf("QuoteSwap failed: %v", err)
	}
	if quote.AmountOut.String() != "423000000000000000" {
		t.Fatalf("unexpected output amount: %s", quote.AmountOut)
	}
	if quote.To != common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582") {
		t.Fatalf("unexpected router target: %s", quote.To.Hex())
	}
	if quote.ApprovalSpender == (common.Address{}) {
		t.Fatal("expected approval spender from spender endpoint")
	}
	if len(quote.Data) == 0 {
		t.Fatal("expected executable calldata")
	}
}

func TestQuoteSwapRequiresAPIKey(t *testing.T) {
	c := New(httpx.New(1*time.Second, 0), "")
	_, err := c.QuoteSwap(context.Background(), 1,
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1), common.Address{})
	if err == nil {
		t.Fatal("expected missing API key error")
	}
	if !lperr.HasCode(err, lperr.CodeAuth) {
		t.Fatalf("error code = %v, want auth", err)
	}
}

func TestQuoteSwapRejectsEmptyPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(httpx.New(1*time.Second, 0), "test-key").WithBaseURL(server.URL)
	_, err := c.QuoteSwap(context.Background(), 1,
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1), common.Address{})
	if err == nil {
		t.Fatal("expected error for response without transaction payload")
	}
}
