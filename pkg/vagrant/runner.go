package vagrant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Command is one subprocess invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory of the subprocess.
	Dir string

	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
}

// Output is what a finished subprocess produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands. A non-zero exit is reported in Output, not as an
// error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// ExecRunner runs commands as local subprocesses.
//
// The context is not used to kill the process: a hung vagrant hangs the
// caller.
type ExecRunner struct{}

// Run executes cmd and waits for it to exit.
func (r *ExecRunner) Run(_ context.Context, c Command) (*Output, error) {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", engine.ErrToolMissing, c.Name)
		}
		return nil, fmt.Errorf("failed to locate %s: %w", c.Name, err)
	}

	cmd := exec.Command(path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", c.Name, err)
		}
		out.ExitCode = exitErr.ExitCode()
	}

	return out, nil
}
