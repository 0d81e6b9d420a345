package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/vagrant"
)

// Environment variables read at startup.
const (
	envLogLevel  = "LOG_LEVEL"
	envVagrant   = "BOXCTL_VAGRANT"
	envHistoryDB = "BOXCTL_HISTORY_DB"
)

var (
	// Global flags
	workdirFlag   string
	logLevel      string
	logFormat     string
	policyPaths   []string
	metricsFile   string
	traceExporter string
	traceEndpoint string
	historyDB     string
	noHistory     bool
	vagrantBinary string
)

var (
	// vagrantRunner executes vagrant; nil means a real subprocess.
	vagrantRunner vagrant.Runner

	lookupEnv = os.LookupEnv
)

// Execute runs the root command. Failures are also written to stdout as a
// JSON document.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return execute(ctx, newRootCommand(version, commit, buildDate))
}

func execute(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if werr := writeFailure(rootCmd.OutOrStdout(), err); werr != nil {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boxctl",
		Short: "boxctl - Vagrant instance lifecycle for test scenarios",
		Long: `boxctl creates, starts, halts and destroys Vagrant machines described by a
scenario file.

Every run renders the instances into <workdir>/Vagrantfile, has vagrant validate
it, compares the desired state with what vagrant reports, and only invokes
vagrant when something would change.

Results are printed to stdout as JSON; logs go to stderr.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&workdirFlag, "workdir", "w", "", "working directory (default $MOLECULE_EPHEMERAL_DIRECTORY)")
	flags.StringVar(&logLevel, "log-level", envOr(envLogLevel, "info"), "log level (trace, debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	flags.StringSliceVar(&policyPaths, "policy", nil, "policy files or directories (.rego, .json)")
	flags.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")
	flags.StringVar(&traceExporter, "trace", "", "trace exporter (otlp, stdout)")
	flags.StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	flags.StringVar(&historyDB, "history-db", envOr(envHistoryDB, ""), "run history database (default <config dir>/boxctl/history.db)")
	flags.BoolVar(&noHistory, "no-history", false, "do not record runs")
	flags.StringVar(&vagrantBinary, "vagrant", envOr(envVagrant, vagrant.DefaultBinary), "vagrant executable")

	rootCmd.AddCommand(newUpCommand(version))
	rootCmd.AddCommand(newHaltCommand(version))
	rootCmd.AddCommand(newDestroyCommand(version))
	rootCmd.AddCommand(newRenderCommand(version))
	rootCmd.AddCommand(newValidateCommand(version))
	rootCmd.AddCommand(newStatusCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))

	return rootCmd
}

func envOr(key, def string) string {
	if v, ok := lookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
