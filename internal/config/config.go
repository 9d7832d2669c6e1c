package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/lp-agent/internal/registry"
)

type GlobalFlags struct {
	ConfigPath    string
	Chains        string
	RPCOverrides  []string
	AggregatorURL string
	Wallet        string
	Timeout       string
	Retries       int
	DryRun        bool
	LogLevel      string
	StorePath     string
}

type Settings struct {
	Chains            []int64
	RPCOverrides      map[int64]string
	AggregatorBaseURL string
	Wallet            string
	Timeout           time.Duration
	Retries           int
	DryRun            bool
	LogLevel          string
	StorePath         string
	StoreLockPath     string
	SnapshotPath      string
	SnapshotLockPath  string
	MinTVLUSD         float64
	MinAPR7d          float64
	DiscoveryTTL      time.Duration
	PageSize          int
	PagesPerChain     int
	OneInchAPIKey     string

	// Funding thresholds. Zero means the orchestrator default.
	FundingBridgeTriggerPct  float64
	FundingSwapTriggerPct    float64
	FundingDustTolerancePct  float64
	FundingMaxPriceImpactPct float64
}

type fileConfig struct {
	Chains     []int64          `yaml:"chains"`
	RPC        map[int64]string `yaml:"rpc"`
	Aggregator struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"aggregator"`
	Wallet   string `yaml:"wallet"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	DryRun   *bool  `yaml:"dry_run"`
	LogLevel string `yaml:"log_level"`
	Store    struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Snapshot struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"snapshot"`
	Discovery struct {
		MinTVLUSD     *float64 `yaml:"min_tvl_usd"`
		MinAPR7d      *float64 `yaml:"min_apr_7d"`
		CacheTTL      string   `yaml:"cache_ttl"`
		PageSize      *int     `yaml:"page_size"`
		PagesPerChain *int     `yaml:"pages_per_chain"`
	} `yaml:"discovery"`
	Funding struct {
		BridgeTriggerPct  *float64 `yaml:"bridge_trigger_pct"`
		SwapTriggerPct    *float64 `yaml:"swap_trigger_pct"`
		DustTolerancePct  *float64 `yaml:"dust_tolerance_pct"`
		MaxPriceImpactPct *float64 `yaml:"max_price_impact_pct"`
	} `yaml:"funding"`
	Providers struct {
		OneInch struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"oneinch"`
	} `yaml:"providers"`
}

// Load layers configuration sources: built-in defaults, then the yaml file,
// then LP_AGENT_* environment variables, then flags. Later sources win.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if len(settings.Chains) == 0 {
		settings.Chains = registry.SupportedChains()
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cacheDir, err := defaultCacheDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Chains:           registry.SupportedChains(),
		RPCOverrides:     map[int64]string{},
		Timeout:          10 * time.Second,
		Retries:          2,
		LogLevel:         "info",
		StorePath:        filepath.Join(cacheDir, "records.db"),
		StoreLockPath:    filepath.Join(cacheDir, "records.lock"),
		SnapshotPath:     filepath.Join(cacheDir, "pools.db"),
		SnapshotLockPath: filepath.Join(cacheDir, "pools.lock"),
		MinTVLUSD:        250_000,
		MinAPR7d:         5,
		DiscoveryTTL:     time.Hour,
		PageSize:         50,
		PagesPerChain:    2,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lp-agent", "config.yaml"), nil
}

func defaultCacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "lp-agent"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if len(cfg.Chains) > 0 {
		settings.Chains = cfg.Chains
	}
	for chainID, url := range cfg.RPC {
		settings.RPCOverrides[chainID] = url
	}
	if cfg.Aggregator.BaseURL != "" {
		settings.AggregatorBaseURL = cfg.Aggregator.BaseURL
	}
	if cfg.Wallet != "" {
		settings.Wallet = cfg.Wallet
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.DryRun != nil {
		settings.DryRun = *cfg.DryRun
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Snapshot.Path != "" {
		settings.SnapshotPath = cfg.Snapshot.Path
	}
	if cfg.Snapshot.LockPath != "" {
		settings.SnapshotLockPath = cfg.Snapshot.LockPath
	}
	if cfg.Discovery.MinTVLUSD != nil {
		settings.MinTVLUSD = *cfg.Discovery.MinTVLUSD
	}
	if cfg.Discovery.MinAPR7d != nil {
		settings.MinAPR7d = *cfg.Discovery.MinAPR7d
	}
	if cfg.Discovery.CacheTTL != "" {
		d, err := time.ParseDuration(cfg.Discovery.CacheTTL)
		if err != nil {
			return fmt.Errorf("config discovery.cache_ttl: %w", err)
		}
		settings.DiscoveryTTL = d
	}
	if cfg.Discovery.PageSize != nil {
		settings.PageSize = *cfg.Discovery.PageSize
	}
	if cfg.Discovery.PagesPerChain != nil {
		settings.PagesPerChain = *cfg.Discovery.PagesPerChain
	}
	if cfg.Funding.BridgeTriggerPct != nil {
		settings.FundingBridgeTriggerPct = *cfg.Funding.BridgeTriggerPct
	}
	if cfg.Funding.SwapTriggerPct != nil {
		settings.FundingSwapTriggerPct = *cfg.Funding.SwapTriggerPct
	}
	if cfg.Funding.DustTolerancePct != nil {
		settings.FundingDustTolerancePct = *cfg.Funding.DustTolerancePct
	}
	if cfg.Funding.MaxPriceImpactPct != nil {
		settings.FundingMaxPriceImpactPct = *cfg.Funding.MaxPriceImpactPct
	}
	if cfg.Providers.OneInch.APIKey != "" {
		settings.OneInchAPIKey = cfg.Providers.OneInch.APIKey
	}
	if cfg.Providers.OneInch.APIKeyEnv != "" {
		settings.OneInchAPIKey = os.Getenv(cfg.Providers.OneInch.APIKeyEnv)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("LP_AGENT_CHAINS"); v != "" {
		if chains, err := parseChains(v); err == nil {
			settings.Chains = chains
		}
	}
	if v := os.Getenv("LP_AGENT_AGGREGATOR_URL"); v != "" {
		settings.AggregatorBaseURL = v
	}
	if v := os.Getenv("LP_AGENT_WALLET"); v != "" {
		settings.Wallet = v
	}
	if v := os.Getenv("LP_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("LP_AGENT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("LP_AGENT_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.DryRun = b
		}
	}
	if v := os.Getenv("LP_AGENT_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("LP_AGENT_STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("LP_AGENT_STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := os.Getenv("LP_AGENT_SNAPSHOT_PATH"); v != "" {
		settings.SnapshotPath = v
	}
	if v := os.Getenv("LP_AGENT_SNAPSHOT_LOCK_PATH"); v != "" {
		settings.SnapshotLockPath = v
	}
	if v := os.Getenv("LP_AGENT_1INCH_API_KEY"); v != "" {
		settings.OneInchAPIKey = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if strings.TrimSpace(flags.Chains) != "" {
		chains, err := parseChains(flags.Chains)
		if err != nil {
			return fmt.Errorf("parse --chains: %w", err)
		}
		settings.Chains = chains
	}
	for _, override := range flags.RPCOverrides {
		chainID, url, err := parseRPCOverride(override)
		if err != nil {
			return err
		}
		settings.RPCOverrides[chainID] = url
	}
	if flags.AggregatorURL != "" {
		settings.AggregatorBaseURL = flags.AggregatorURL
	}
	if flags.Wallet != "" {
		settings.Wallet = flags.Wallet
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.DryRun {
		settings.DryRun = true
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.StorePath != "" {
		settings.StorePath = flags.StorePath
		settings.StoreLockPath = flags.StorePath + ".lock"
	}
	return nil
}

func parseChains(input string) ([]int64, error) {
	parts := strings.Split(input, ",")
	chains := make([]int64, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		chainID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q", v)
		}
		chains = append(chains, chainID)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no chain ids in %q", input)
	}
	return chains, nil
}

func parseRPCOverride(input string) (int64, string, error) {
	chainPart, url, ok := strings.Cut(input, "=")
	if !ok || strings.TrimSpace(url) == "" {
		return 0, "", fmt.Errorf("rpc override %q must be chainID=url", input)
	}
	chainID, err := strconv.ParseInt(strings.TrimSpace(chainPart), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("rpc override %q has invalid chain id", input)
	}
	return chainID, strings.TrimSpace(url), nil
}
