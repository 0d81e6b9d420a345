package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/render"
)

// validateOutput is printed by the validate command.
type validateOutput struct {
	Valid       bool     `json:"valid"`
	Workdir     string   `json:"workdir"`
	Vagrantfile string   `json:"vagrantfile"`
	Instances   []string `json:"instances"`
	Warnings    []string `json:"warnings,omitempty"`
}

func newValidateCommand(version string) *cobra.Command {
	var scenario scenarioFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario without changing any instance",
		Long: `Validate a scenario.

This command:
  - Loads the scenario and checks it against the schema
  - Evaluates the built-in and --policy policies
  - Writes the Vagrantfile and runs vagrant validate`,
		Example: `  # Validate a scenario
  boxctl validate -f molecule.yml

  # Validate with extra policies
  boxctl validate -f molecule.yml --policy ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(version)
			if err != nil {
				return err
			}
			ctx := s.context(cmd.Context())
			defer s.close(ctx)

			normalized, err := scenario.load(ctx, cmd.InOrStdin(), nil)
			if err != nil {
				return err
			}
			manager, err := s.manager(ctx, normalized, managerOptions{})
			if err != nil {
				return err
			}

			warnings, err := manager.Validate(ctx, normalized.Workdir, normalized.Instances, normalized.Settings)
			if err != nil {
				return err
			}

			out := validateOutput{
				Valid:       true,
				Workdir:     normalized.Workdir,
				Vagrantfile: filepath.Join(normalized.Workdir, render.VagrantfileName),
				Instances:   make([]string, len(normalized.Instances)),
				Warnings:    warnings,
			}
			for i, spec := range normalized.Instances {
				out.Instances[i] = spec.Name
			}
			s.logger.WithField("instances", len(out.Instances)).Info("scenario is valid")
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	scenario.register(cmd)

	return cmd
}
