package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/stores"
)

func newHistoryCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Inspect the run history.

Every up, halt and destroy is recorded with its outcome and the instance
states it observed. History is an audit trail only; it never influences what
a run does.`,
	}

	cmd.AddCommand(newHistoryListCommand(version))
	cmd.AddCommand(newHistoryShowCommand(version))
	cmd.AddCommand(newHistoryDeleteCommand(version))
	cmd.AddCommand(newHistoryPruneCommand(version))

	return cmd
}

func newHistoryListCommand(version string) *cobra.Command {
	var (
		limit     int
		operation string
		status    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  # Last 20 runs
  boxctl history list

  # Failed destroys in one working directory
  boxctl history list --workdir /tmp/scenario --operation destroy --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := stores.ListOptions{
				Limit:     limit,
				Operation: engine.Operation(operation),
				Status:    engine.RunStatus(status),
			}
			if operation != "" {
				if err := opts.Operation.Validate(); err != nil {
					return engine.NewConfigurationError("invalid --operation", err).WithCode(engine.ErrCodeInvalidParams)
				}
			}
			if status != "" {
				if err := opts.Status.Validate(); err != nil {
					return engine.NewConfigurationError("invalid --status", err).WithCode(engine.ErrCodeInvalidParams)
				}
			}
			if workdirFlag != "" {
				abs, err := filepath.Abs(workdirFlag)
				if err != nil {
					return err
				}
				opts.Workdir = abs
			}

			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			store, err := s.requireHistory(ctx)
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(ctx, opts)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*engine.RunRecord{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")
	cmd.Flags().StringVar(&operation, "operation", "", "only runs of this operation (up, halt, destroy)")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, succeeded, failed)")

	return cmd
}

func newHistoryShowCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its instance states",
		Long:  `Show one run. A unique prefix of the run ID is enough.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			store, err := s.requireHistory(ctx)
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run)
		},
	}
}

func newHistoryDeleteCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			store, err := s.requireHistory(ctx)
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteRun(ctx, run.ID); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": run.ID})
		},
	}
}

func newHistoryPruneCommand(version string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Example: `  # Keep the last 100 runs
  boxctl history prune --keep 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return engine.NewConfigurationError(fmt.Sprintf("--keep must not be negative: %d", keep), nil).
					WithCode(engine.ErrCodeInvalidParams)
			}

			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			store, err := s.requireHistory(ctx)
			if err != nil {
				return err
			}
			deleted, err := store.PruneRuns(ctx, keep)
			if err != nil {
				return err
			}
			s.logger.WithField("deleted", deleted).Info("pruned run history")
			return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": deleted})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of runs to keep")

	return cmd
}
