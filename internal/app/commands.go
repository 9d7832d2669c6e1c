package app

import (
	"strings"

	"github.com/spf13/cobra"

	lperr "github.com/ggonzalez94/lp-agent/internal/errors"
	"github.com/ggonzalez94/lp-agent/internal/model"
)

func (s *runtimeState) newDiscoverCommand() *cobra.Command {
	var limit int
	var force bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Rank concentrated-liquidity pools by yield and risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := s.discoveryEngine().DiscoverPools(cmd.Context(), force)
			if err != nil {
				return err
			}
			if limit > 0 && len(pools) > limit {
				pools = pools[:limit]
			}
			return s.emit(pools)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of pools to return")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the discovery cache")
	return cmd
}

func (s *runtimeState) newPositionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions, reconciled against on-chain state",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(false)
			if err != nil {
				return err
			}
			reader, err := s.positionReader()
			if err != nil {
				return err
			}
			list, err := reader.FetchPositions(cmd.Context(), owner.Hex())
			if err != nil {
				return err
			}
			return s.emit(list)
		},
	}
	return cmd
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Snapshot stable, wrapped-native and native holdings per chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(false)
			if err != nil {
				return err
			}
			snapshots, err := s.balanceScanner().Scan(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return s.emit(snapshots)
		},
	}
	return cmd
}

func (s *runtimeState) newOpenCommand() *cobra.Command {
	var chainID int64
	var poolAddr string
	var amountUSD float64
	var widthTicks int64
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Fund and mint a new position in a discovered pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(!s.settings.DryRun)
			if err != nil {
				return err
			}
			pool, err := s.findPool(cmd, chainID, poolAddr)
			if err != nil {
				return err
			}
			manager, err := s.lifecycleManager(owner)
			if err != nil {
				return err
			}
			result, err := manager.Open(cmd.Context(), pool, amountUSD, widthTicks)
			if err != nil {
				return err
			}
			return s.emit(result)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id of the pool")
	cmd.Flags().StringVar(&poolAddr, "pool", "", "Pool address")
	cmd.Flags().Float64Var(&amountUSD, "amount", 0, "Deployment size in USD")
	cmd.Flags().Int64Var(&widthTicks, "width", 500, "Half-width of the tick range")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newCloseCommand() *cobra.Command {
	var chainID int64
	var posID string
	var protocol string
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Unwind a position: decrease, collect, burn",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(!s.settings.DryRun)
			if err != nil {
				return err
			}
			manager, err := s.lifecycleManager(owner)
			if err != nil {
				return err
			}
			result, err := manager.Close(cmd.Context(), chainID, posID, protocol)
			if err != nil {
				return err
			}
			return s.emit(result)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id of the position")
	cmd.Flags().StringVar(&posID, "id", "", "Position token id")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol key (e.g. uniswap-v3)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("protocol")
	return cmd
}

func (s *runtimeState) newClaimCommand() *cobra.Command {
	var chainID int64
	var posID string
	var protocol string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Collect owed fees without touching liquidity",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(!s.settings.DryRun)
			if err != nil {
				return err
			}
			manager, err := s.lifecycleManager(owner)
			if err != nil {
				return err
			}
			result, err := manager.ClaimFees(cmd.Context(), chainID, posID, protocol)
			if err != nil {
				return err
			}
			return s.emit(result)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id of the position")
	cmd.Flags().StringVar(&posID, "id", "", "Position token id")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol key (e.g. uniswap-v3)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("protocol")
	return cmd
}

func (s *runtimeState) newRebalanceCommand() *cobra.Command {
	var chainID int64
	var posID string
	var protocol string
	var widthTicks int64
	var fallbackUSD float64
	var closeOnly bool
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Close a position and reopen into the current top pool on its chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress(!s.settings.DryRun)
			if err != nil {
				return err
			}
			manager, err := s.lifecycleManager(owner)
			if err != nil {
				return err
			}
			result, err := manager.Rebalance(cmd.Context(), chainID, posID, protocol, widthTicks, fallbackUSD, closeOnly)
			if err != nil {
				return err
			}
			return s.emit(result)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id of the position")
	cmd.Flags().StringVar(&posID, "id", "", "Position token id")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol key (e.g. uniswap-v3)")
	cmd.Flags().Int64Var(&widthTicks, "width", 500, "Half-width of the new tick range")
	cmd.Flags().Float64Var(&fallbackUSD, "fallback-usd", 250, "Deployment size when recovered value is negligible")
	cmd.Flags().BoolVar(&closeOnly, "close-only", false, "Close without reopening")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("protocol")
	return cmd
}

func (s *runtimeState) newRecordsCommand() *cobra.Command {
	root := &cobra.Command{Use: "records", Short: "Locally persisted position records"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List positions this wallet opened, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := s.openRecords()
			if err != nil {
				return err
			}
			items, err := records.List()
			if err != nil {
				return err
			}
			return s.emit(items)
		},
	}
	root.AddCommand(list)
	return root
}

// findPool locates the pool in the current discovery set; opening into an
// unranked pool would bypass the TVL and APR floors.
func (s *runtimeState) findPool(cmd *cobra.Command, chainID int64, poolAddr string) (model.Pool, error) {
	pools, err := s.discoveryEngine().DiscoverPools(cmd.Context(), false)
	if err != nil {
		return model.Pool{}, err
	}
	for _, candidate := range pools {
		if candidate.ChainID == chainID && strings.EqualFold(candidate.Address, poolAddr) {
			return candidate.Pool, nil
		}
	}
	return model.Pool{}, lperr.Newf(lperr.CodePoolNotFound,
		"pool %s on chain %d is not in the current discovery set", poolAddr, chainID)
}
