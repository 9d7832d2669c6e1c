package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	file := "timeout: 5s\nretries: 1\nchains: [1, 10]\n"
	if err := os.WriteFile(configPath, []byte(file), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LP_AGENT_TIMEOUT", "20s")
	flags := GlobalFlags{ConfigPath: configPath, Retries: 5, Chains: "8453"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 20*time.Second {
		t.Fatalf("expected env to beat file, got timeout=%s", settings.Timeout)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if len(settings.Chains) != 1 || settings.Chains[0] != 8453 {
		t.Fatalf("expected flag chains to win, got %v", settings.Chains)
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	file := `chains: [8453]
rpc:
  8453: https://base.example
aggregator:
  base_url: https://agg.example
dry_run: true
discovery:
  min_tvl_usd: 500000
  cache_ttl: 30m
funding:
  swap_trigger_pct: 0.25
  max_price_impact_pct: 1.5
store:
  path: /tmp/lp/records.db
`
	if err := os.WriteFile(configPath, []byte(file), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.RPCOverrides[8453] != "https://base.example" {
		t.Fatalf("rpc override = %q", settings.RPCOverrides[8453])
	}
	if settings.AggregatorBaseURL != "https://agg.example" {
		t.Fatalf("aggregator url = %q", settings.AggregatorBaseURL)
	}
	if !settings.DryRun {
		t.Fatal("dry_run not applied from file")
	}
	if settings.MinTVLUSD != 500_000 {
		t.Fatalf("MinTVLUSD = %v", settings.MinTVLUSD)
	}
	if settings.DiscoveryTTL != 30*time.Minute {
		t.Fatalf("DiscoveryTTL = %s", settings.DiscoveryTTL)
	}
	if settings.StorePath != "/tmp/lp/records.db" {
		t.Fatalf("StorePath = %q", settings.StorePath)
	}
	if settings.FundingSwapTriggerPct != 0.25 || settings.FundingMaxPriceImpactPct != 1.5 {
		t.Fatalf("funding thresholds = %v / %v", settings.FundingSwapTriggerPct, settings.FundingMaxPriceImpactPct)
	}
	if settings.FundingBridgeTriggerPct != 0 {
		t.Fatalf("unset funding threshold should stay zero, got %v", settings.FundingBridgeTriggerPct)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	tmp := t.TempDir()
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(tmp, "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.Chains) == 0 {
		t.Fatal("expected default chains")
	}
	if settings.MinTVLUSD != 250_000 || settings.MinAPR7d != 5 {
		t.Fatalf("discovery floors = %v / %v", settings.MinTVLUSD, settings.MinAPR7d)
	}
	if settings.DiscoveryTTL != time.Hour {
		t.Fatalf("DiscoveryTTL = %s", settings.DiscoveryTTL)
	}
}

func TestLoadRejectsBadRPCOverride(t *testing.T) {
	tmp := t.TempDir()
	flags := GlobalFlags{
		ConfigPath:   filepath.Join(tmp, "missing.yaml"),
		RPCOverrides: []string{"base:https://x"},
		Retries:      -1,
	}
	if _, err := Load(flags); err == nil {
		t.Fatal("expected error for malformed rpc override")
	}
}

func TestLoadAPIKeyFromEnvIndirection(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	file := "providers:\n  oneinch:\n    api_key_env: TEST_ONEINCH_KEY\n"
	if err := os.WriteFile(configPath, []byte(file), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_ONEINCH_KEY", "secret-key")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OneInchAPIKey != "secret-key" {
		t.Fatalf("OneInchAPIKey = %q", settings.OneInchAPIKey)
	}
}
