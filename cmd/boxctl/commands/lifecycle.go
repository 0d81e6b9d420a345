package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/config"
	"github.com/openfroyo/boxctl/pkg/engine"
)

// lifecycleFlags are the flags of up, halt and destroy.
type lifecycleFlags struct {
	scenario   scenarioFlags
	provision  bool
	noParallel bool
	force      bool
	probeSSH   bool
}

func newUpCommand(version string) *cobra.Command {
	var flags lifecycleFlags

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create and start instances",
		Long: `Bring every instance of the scenario up.

This command:
  - Renders and writes <workdir>/Vagrantfile and vagrant.yml
  - Has vagrant validate the file
  - Runs vagrant up only when an instance is not running
  - Reports the ssh-config of every instance`,
		Example: `  # Bring up the instances of a scenario
  boxctl up -f molecule.yml

  # Provision and check that every instance accepts SSH
  boxctl up -f molecule.yml --provision --probe-ssh

  # Read the scenario from stdin
  cat molecule.yml | boxctl up -f - --workdir /tmp/scenario`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, version, engine.OperationUp, &flags)
		},
	}

	flags.scenario.register(cmd)
	cmd.Flags().BoolVar(&flags.provision, "provision", false, "run provisioners (overrides the scenario)")
	cmd.Flags().BoolVar(&flags.noParallel, "no-parallel", false, "bring instances up one at a time")
	cmd.Flags().BoolVar(&flags.probeSSH, "probe-ssh", false, "check SSH reachability after bring-up")

	return cmd
}

func newHaltCommand(version string) *cobra.Command {
	var flags lifecycleFlags

	cmd := &cobra.Command{
		Use:   "halt",
		Short: "Stop running instances",
		Long: `Halt every running instance of the scenario. Nothing is invoked when no
instance is running.`,
		Example: `  # Halt gracefully
  boxctl halt -f molecule.yml

  # Power off immediately
  boxctl halt -f molecule.yml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, version, engine.OperationHalt, &flags)
		},
	}

	flags.scenario.register(cmd)
	cmd.Flags().BoolVar(&flags.force, "force", false, "power off instead of a graceful shutdown")

	return cmd
}

func newDestroyCommand(version string) *cobra.Command {
	var flags lifecycleFlags

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Remove instances",
		Long: `Destroy every created instance of the scenario. Nothing is invoked when no
instance exists.`,
		Example: `  # Destroy the scenario instances
  boxctl destroy -f molecule.yml

  # Force a halt first
  boxctl destroy -f molecule.yml --force-stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, version, engine.OperationDestroy, &flags)
		},
	}

	flags.scenario.register(cmd)
	cmd.Flags().BoolVar(&flags.force, "force-stop", false, "halt with --force before destroying")

	return cmd
}

// runLifecycle loads the scenario, applies op and prints the result.
func runLifecycle(cmd *cobra.Command, version string, op engine.Operation, flags *lifecycleFlags) error {
	s, err := newSession(version)
	if err != nil {
		return err
	}
	ctx := s.context(cmd.Context())
	defer s.close(ctx)

	normalized, err := flags.scenario.load(ctx, cmd.InOrStdin(), func(p *config.Params) {
		p.State = string(op)
		if cmd.Flags().Changed("provision") {
			p.Provision = flags.provision
		}
		if flags.noParallel {
			parallel := false
			p.Parallel = &parallel
		}
		if flags.force {
			p.ForceStop = true
		}
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"operation": string(op),
		"workdir":   normalized.Workdir,
		"instances": len(normalized.Instances),
	}).Debug("scenario loaded")

	manager, err := s.manager(ctx, normalized, managerOptions{history: true, probeSSH: flags.probeSSH})
	if err != nil {
		return err
	}

	result, err := manager.Apply(ctx, normalized.Request("", flags.probeSSH))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}
