package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
)

func TestGetJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&count, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if err := client.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
	if atomic.LoadInt32(&count) != 2 {
		t.Fatalf("expected 2 attempts, got %d", count)
	}
}

func TestGetJSONMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	err := client.GetJSON(context.Background(), srv.URL, &map[string]any{})
	if !lperr.HasCode(err, lperr.CodeRateLimited) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
}

func TestGetJSONDoesNotRetryAuthFailure(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	err := client.GetJSON(context.Background(), srv.URL, &map[string]any{})
	if !lperr.HasCode(err, lperr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("auth failure should not retry, got %d attempts", count)
	}
}

func TestPostJSONResendsBodyOnRetry(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		if err := json.Unmarshal(body, &in); err != nil || in["amount"] != "100" {
			t.Errorf("attempt %d got body %s", atomic.LoadInt32(&count)+1, body)
		}
		if atomic.AddInt32(&count, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if err := client.PostJSON(context.Background(), srv.URL, map[string]string{"amount": "100"}, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if atomic.LoadInt32(&count) != 2 {
		t.Fatalf("expected 2 attempts, got %d", count)
	}
}

func TestGetJSONRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	err := client.GetJSON(context.Background(), srv.URL, &map[string]any{})
	if !lperr.HasCode(err, lperr.CodeUnavailable) {
		t.Fatalf("expected unavailable error for empty body, got %v", err)
	}
}
