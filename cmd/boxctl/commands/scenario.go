package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/boxctl/pkg/config"
	"github.com/openfroyo/boxctl/pkg/engine"
)

// stdinName is the filename used to pick the decoder for a scenario on stdin.
const stdinName = "stdin.yml"

// scenarioFlags are the flags of commands that read a scenario.
type scenarioFlags struct {
	path string
	vars []string
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "file", "f", "", "scenario file (.yml, .yaml, .cue, .star) or - for YAML on stdin")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "scenario variable NAME=VALUE (repeatable)")
}

// load reads and normalizes the scenario. mutate, when set, adjusts the raw
// parameters before normalization. The workdir is resolved from --workdir,
// the scenario, then the environment.
func (f *scenarioFlags) load(ctx context.Context, in io.Reader, mutate func(*config.Params)) (*config.Normalized, error) {
	if f.path == "" {
		return nil, engine.NewConfigurationError("a scenario is required: pass --file", nil).
			WithCode(engine.ErrCodeInvalidParams)
	}
	vars, err := parseVars(f.vars)
	if err != nil {
		return nil, err
	}

	loader := config.NewLoader()
	var params *config.Params
	if f.path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to read scenario from stdin", err).
				WithCode(engine.ErrCodeInvalidParams)
		}
		params, err = loader.Parse(ctx, stdinName, data, vars)
		if err != nil {
			return nil, err
		}
	} else {
		params, err = loader.Load(ctx, f.path, vars)
		if err != nil {
			return nil, err
		}
	}

	if mutate != nil {
		mutate(params)
	}

	normalized, err := config.NewNormalizer().Normalize(params)
	if err != nil {
		return nil, err
	}

	explicit := normalized.Workdir
	if workdirFlag != "" {
		explicit = workdirFlag
	}
	normalized.Workdir, err = config.ResolveWorkdir(explicit, lookupEnv)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// parseVars turns NAME=VALUE pairs into a map. Later pairs win.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("invalid --var %q: expected NAME=VALUE", pair), nil).
				WithCode(engine.ErrCodeInvalidParams)
		}
		vars[name] = value
	}
	return vars, nil
}
