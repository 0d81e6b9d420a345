package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/config"
	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/render"
)

// statusOutput is printed by the status command.
type statusOutput struct {
	Workdir   string                      `json:"workdir"`
	Operation engine.Operation            `json:"operation"`
	Instances []engine.LiveInstanceStatus `json:"instances"`
	Diff      *engine.DiffResult          `json:"diff"`
}

func newStatusCommand(version string) *cobra.Command {
	var (
		scenario scenarioFlags
		target   string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live instance state and drift",
		Long: `Query vagrant for the state of every instance and report what an
operation would change.

With --file the scenario is rendered and validated first. Without it the
instance list written by the last run in the working directory is used.`,
		Example: `  # Status of the last rendered scenario
  boxctl status --workdir /tmp/scenario

  # What would destroy change?
  boxctl status -f molecule.yml --for destroy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := engine.Operation(target)
			if err := op.Validate(); err != nil {
				return engine.NewConfigurationError("invalid --for", err).WithCode(engine.ErrCodeInvalidParams)
			}

			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			normalized, fresh, err := statusTarget(ctx, &scenario, cmd.InOrStdin())
			if err != nil {
				return err
			}
			manager, err := s.manager(ctx, normalized, managerOptions{})
			if err != nil {
				return err
			}
			if fresh {
				if err := manager.Prepare(ctx, normalized.Workdir, normalized.Instances, normalized.Settings); err != nil {
					return err
				}
			}

			statuses, diff, err := manager.Inspect(ctx, op, normalized.Instances)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), statusOutput{
				Workdir:   normalized.Workdir,
				Operation: op,
				Instances: statuses,
				Diff:      diff,
			})
		},
	}

	scenario.register(cmd)
	cmd.Flags().StringVar(&target, "for", string(engine.OperationUp), "operation to compute drift for (up, halt, destroy)")

	return cmd
}

// statusTarget returns the instances to query and whether they came from a
// scenario, which then still has to be rendered.
func statusTarget(ctx context.Context, scenario *scenarioFlags, in io.Reader) (*config.Normalized, bool, error) {
	if scenario.path != "" {
		normalized, err := scenario.load(ctx, in, nil)
		return normalized, true, err
	}

	workdir, err := config.ResolveWorkdir(workdirFlag, lookupEnv)
	if err != nil {
		return nil, false, err
	}
	instances, settings, err := render.ReadInstances(workdir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, engine.NewConfigurationError(
				fmt.Sprintf("nothing rendered in %s: pass --file", workdir), nil).
				WithCode(engine.ErrCodeInvalidParams)
		}
		return nil, false, engine.NewInternalError("failed to read the instance file", err)
	}
	return &config.Normalized{
		Workdir:   workdir,
		Instances: instances,
		Settings:  settings,
		Parallel:  true,
	}, false, nil
}
