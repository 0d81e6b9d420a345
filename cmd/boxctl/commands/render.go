package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/render"
)

func newRenderCommand(version string) *cobra.Command {
	var (
		scenario scenarioFlags
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the Vagrantfile without running vagrant",
		Long: `Render the scenario into <workdir>/Vagrantfile and <workdir>/vagrant.yml.

Vagrant is not invoked. With --watch the files are rewritten whenever the
scenario changes, until interrupted.`,
		Example: `  # Render once
  boxctl render -f molecule.yml --workdir /tmp/scenario

  # Re-render on every save
  boxctl render -f molecule.cue --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && scenario.path == "-" {
				return engine.NewConfigurationError("--watch needs a scenario file, not stdin", nil).
					WithCode(engine.ErrCodeInvalidParams)
			}

			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			renderOnce := func() error {
				return renderScenario(ctx, &scenario, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			if err := renderOnce(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			watcher := render.NewWatcher(s.tel.Logger.Zerolog(), render.DefaultDebounce)
			return watcher.Watch(ctx, []string{scenario.path}, renderOnce)
		},
	}

	scenario.register(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "re-render when the scenario changes")

	return cmd
}

// renderScenario loads the scenario, writes both files and prints their paths.
func renderScenario(ctx context.Context, scenario *scenarioFlags, in io.Reader, out io.Writer) error {
	normalized, err := scenario.load(ctx, in, nil)
	if err != nil {
		return err
	}
	rendered, err := render.NewWriter().Write(normalized.Workdir, normalized.Instances, normalized.Settings)
	if err != nil {
		return engine.NewInternalError("failed to write Vagrantfile", err).WithCode(engine.ErrCodeRenderFailed)
	}
	return writeJSON(out, rendered)
}
