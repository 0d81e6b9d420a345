package config

import (
	"path/filepath"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// WorkdirEnv is the environment variable consulted when no workdir is given.
const WorkdirEnv = "MOLECULE_EPHEMERAL_DIRECTORY"

// ResolveWorkdir returns the absolute working directory. The explicit value
// wins; otherwise lookupEnv(WorkdirEnv) is used.
func ResolveWorkdir(explicit string, lookupEnv func(string) (string, bool)) (string, error) {
	dir := explicit
	if dir == "" && lookupEnv != nil {
		if v, ok := lookupEnv(WorkdirEnv); ok {
			dir = v
		}
	}
	if dir == "" {
		return "", engine.NewConfigurationError(
			"workdir is required: pass --workdir or set "+WorkdirEnv, nil).
			WithCode(engine.ErrCodeInvalidParams)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", engine.NewConfigurationError("invalid workdir "+dir, err).
			WithCode(engine.ErrCodeInvalidParams)
	}
	return abs, nil
}
