package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/lp-agent/internal/aggregator"
	"github.com/ggonzalez94/lp-agent/internal/balances"
	"github.com/ggonzalez94/lp-agent/internal/chains"
	"github.com/ggonzalez94/lp-agent/internal/config"
	"github.com/ggonzalez94/lp-agent/internal/discovery"
	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/funding"
	"github.com/ggonzalez94/lp-agent/internal/httpx"
	"github.com/ggonzalez94/lp-agent/internal/lifecycle"
	"github.com/ggonzalez94/lp-agent/internal/logx"
	"github.com/ggonzalez94/lp-agent/internal/positions"
	"github.com/ggonzalez94/lp-agent/internal/pricing"
	"github.com/ggonzalez94/lp-agent/internal/providers/lifi"
	"github.com/ggonzalez94/lp-agent/internal/providers/oneinch"
	"github.com/ggonzalez94/lp-agent/internal/signer"
	"github.com/ggonzalez94/lp-agent/internal/store"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, now: time.Now}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      *zap.Logger

	httpClient *httpx.Client
	agg        *aggregator.Client
	pool       *chains.Pool
	oracle     *pricing.Oracle
	txSigner   signer.Signer
	records    *store.Store
	snapshot   *discovery.Snapshot
	engine     *discovery.Engine
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	state.shutdown()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return lperr.ExitCode(err)
}

func (s *runtimeState) shutdown() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.records != nil {
		_ = s.records.Close()
	}
	if s.snapshot != nil {
		_ = s.snapshot.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lp",
		Short: "Concentrated-liquidity position agent for EVM chains",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return lperr.Wrap(lperr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logx.New(settings.LogLevel)
			s.httpClient = httpx.New(settings.Timeout, settings.Retries)
			s.agg = aggregator.New(s.httpClient, settings.AggregatorBaseURL)
			s.oracle = pricing.NewOracle()

			// The signer is optional for read-only commands; mutating
			// commands check for it explicitly.
			if sig, err := signer.NewLocalSignerFromEnv(); err == nil {
				s.txSigner = sig
			}
			s.pool = chains.NewPool(settings.RPCOverrides, s.txSigner)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return lperr.Wrap(lperr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Chains, "chains", "", "Chain ids to operate on (comma-separated)")
	cmd.PersistentFlags().StringArrayVar(&s.flags.RPCOverrides, "rpc", nil, "RPC override as chainID=url (repeatable)")
	cmd.PersistentFlags().StringVar(&s.flags.AggregatorURL, "aggregator-url", "", "Aggregator API base URL")
	cmd.PersistentFlags().StringVar(&s.flags.Wallet, "wallet", "", "Wallet address for read-only commands")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "HTTP request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per HTTP request")
	cmd.PersistentFlags().BoolVar(&s.flags.DryRun, "dry-run", false, "Plan every transaction without broadcasting")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.StorePath, "store-path", "", "Path to the position record database")

	cmd.AddCommand(s.newDiscoverCommand())
	cmd.AddCommand(s.newPositionsCommand())
	cmd.AddCommand(s.newBalancesCommand())
	cmd.AddCommand(s.newOpenCommand())
	cmd.AddCommand(s.newCloseCommand())
	cmd.AddCommand(s.newClaimCommand())
	cmd.AddCommand(s.newRebalanceCommand())
	cmd.AddCommand(s.newRecordsCommand())
	return cmd
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *runtimeState) emit(data any) error {
	enc := json.NewEncoder(s.runner.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{Success: true, Data: data})
}

func (s *runtimeState) renderError(err error) {
	body := &errorBody{Code: lperr.ExitCode(err), Type: "internal_error", Message: err.Error()}
	if typed, ok := lperr.As(err); ok {
		body.Message = typed.Message
		if typed.Cause != nil {
			body.Message = fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		body.Type = errorType(typed.Code)
	}
	enc := json.NewEncoder(s.runner.stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(envelope{Success: false, Data: []any{}, Error: body})
}

func errorType(code lperr.Code) string {
	switch code {
	case lperr.CodeUsage:
		return "usage_error"
	case lperr.CodeAuth:
		return "auth_error"
	case lperr.CodeRateLimited:
		return "rate_limited"
	case lperr.CodeUnavailable:
		return "unavailable"
	case lperr.CodeUnsupported:
		return "unsupported"
	case lperr.CodeTimeout:
		return "timeout"
	case lperr.CodeSigner:
		return "signer_error"
	case lperr.CodeUnsupportedProtocol:
		return "unsupported_protocol"
	case lperr.CodePoolNotFound:
		return "pool_not_found"
	case lperr.CodeFunding:
		return "funding_failed"
	case lperr.CodeSimReverted:
		return "mint_would_revert"
	case lperr.CodeTxFailed:
		return "tx_failed"
	default:
		return "internal_error"
	}
}

// ownerAddress resolves the acting wallet. Mutating commands need the signer;
// read-only commands accept a bare --wallet address.
func (s *runtimeState) ownerAddress(requireSigner bool) (common.Address, error) {
	if s.txSigner != nil {
		return s.txSigner.Address(), nil
	}
	if requireSigner {
		return common.Address{}, lperr.New(lperr.CodeSigner,
			"no signing key configured: set LP_AGENT_PRIVATE_KEY or LP_AGENT_KEYSTORE_PATH")
	}
	wallet := strings.TrimSpace(s.settings.Wallet)
	if wallet == "" {
		return common.Address{}, lperr.New(lperr.CodeUsage, "--wallet is required without a signing key")
	}
	if !common.IsHexAddress(wallet) {
		return common.Address{}, lperr.Newf(lperr.CodeUsage, "invalid wallet address %q", wallet)
	}
	return common.HexToAddress(wallet), nil
}

func (s *runtimeState) openRecords() (*store.Store, error) {
	if s.records != nil {
		return s.records, nil
	}
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, lperr.Wrap(lperr.CodeInternal, "open record store", err)
	}
	s.records = st
	return st, nil
}

// discoveryEngine builds the engine once per process. The sqlite snapshot is
// best-effort: a broken snapshot file degrades to a cold cache, not a failed
// command.
func (s *runtimeState) discoveryEngine() *discovery.Engine {
	if s.engine != nil {
		return s.engine
	}
	snapshot, err := discovery.OpenSnapshot(s.settings.SnapshotPath, s.settings.SnapshotLockPath)
	if err != nil {
		s.log.Warn("discovery snapshot unavailable", zap.Error(err))
	} else {
		s.snapshot = snapshot
	}
	s.engine = discovery.NewEngine(discovery.Config{
		Chains:        s.settings.Chains,
		PageSize:      s.settings.PageSize,
		PagesPerChain: s.settings.PagesPerChain,
		MinTVLUSD:     s.settings.MinTVLUSD,
		MinAPR7d:      s.settings.MinAPR7d,
		CacheTTL:      s.settings.DiscoveryTTL,
	}, s.agg, s.snapshot, s.log)
	return s.engine
}

func (s *runtimeState) fundingOrchestrator() *funding.Orchestrator {
	var swapSvc funding.SwapService
	if s.settings.OneInchAPIKey != "" {
		swapSvc = oneinch.New(s.httpClient, s.settings.OneInchAPIKey)
	}
	return funding.NewOrchestrator(s.pool, swapSvc, lifi.New(s.httpClient), s.oracle,
		s.settings.Chains, s.settings.DryRun, s.log).
		WithPolicy(funding.Policy{
			BridgeTriggerPct:  s.settings.FundingBridgeTriggerPct,
			SwapTriggerPct:    s.settings.FundingSwapTriggerPct,
			DustTolerancePct:  s.settings.FundingDustTolerancePct,
			MaxPriceImpactPct: s.settings.FundingMaxPriceImpactPct,
		})
}

func (s *runtimeState) lifecycleManager(owner common.Address) (*lifecycle.Manager, error) {
	records, err := s.openRecords()
	if err != nil {
		return nil, err
	}
	return lifecycle.NewManager(s.pool, s.fundingOrchestrator(), s.discoveryEngine(),
		records, s.oracle, owner, s.settings.DryRun, s.log), nil
}

func (s *runtimeState) positionReader() (*positions.Reader, error) {
	records, err := s.openRecords()
	if err != nil {
		return nil, err
	}
	return positions.NewReader(s.agg, s.pool, records, s.log), nil
}

func (s *runtimeState) balanceScanner() *balances.Scanner {
	return balances.NewScanner(s.pool, s.oracle, s.settings.Chains, s.log)
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := lperr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return lperr.Wrap(lperr.CodeUsage, "invalid command input", err)
	}
	return lperr.Wrap(lperr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"required flag(s)",
		"invalid argument",
		"accepts ",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
