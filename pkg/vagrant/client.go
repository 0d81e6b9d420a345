package vagrant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/telemetry"
)

// DefaultBinary is the vagrant executable looked up on PATH.
const DefaultBinary = "vagrant"

// Log file names inside the working directory.
const (
	stdoutLog = "vagrant.out"
	stderrLog = "vagrant.err"
)

// Options configure a Client.
type Options struct {
	// Binary is the vagrant executable. Defaults to DefaultBinary.
	Binary string

	// Workdir holds the Vagrantfile; commands run there.
	Workdir string

	// LogInstance selects the legacy per-instance log names
	// vagrant-<name>.out and vagrant-<name>.err.
	LogInstance string

	// Parallel allows vagrant to bring machines up in parallel.
	Parallel bool

	// Runner defaults to ExecRunner.
	Runner Runner

	// Now is the clock used for log markers.
	Now func() time.Time
}

// Client drives vagrant subcommands for one working directory.
// It implements engine.Driver.
type Client struct {
	binary   string
	workdir  string
	outPath  string
	errPath  string
	parallel bool
	runner   Runner
	now      func() time.Time
}

var _ engine.Driver = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		binary:   opts.Binary,
		workdir:  opts.Workdir,
		parallel: opts.Parallel,
		runner:   opts.Runner,
		now:      opts.Now,
	}
	if c.binary == "" {
		c.binary = DefaultBinary
	}
	if c.runner == nil {
		c.runner = &ExecRunner{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	out, errName := stdoutLog, stderrLog
	if opts.LogInstance != "" {
		out = fmt.Sprintf("vagrant-%s.out", opts.LogInstance)
		errName = fmt.Sprintf("vagrant-%s.err", opts.LogInstance)
	}
	c.outPath = filepath.Join(c.workdir, out)
	c.errPath = filepath.Join(c.workdir, errName)

	return c
}

// LogPaths returns the stdout and stderr log file paths.
func (c *Client) LogPaths() (stdout, stderr string) {
	return c.outPath, c.errPath
}

// Validate runs vagrant validate.
func (c *Client) Validate(ctx context.Context) (*engine.CommandResult, error) {
	return c.run(ctx, "validate")
}

// Up runs vagrant up for every declared machine.
func (c *Client) Up(ctx context.Context, provision bool, provider string) (*engine.CommandResult, error) {
	args := []string{"up"}
	if provision {
		args = append(args, "--provision")
	} else {
		args = append(args, "--no-provision")
	}
	if provider != "" {
		args = append(args, "--provider="+provider)
	}
	return c.run(ctx, args...)
}

// Halt runs vagrant halt, with --force when force is set.
func (c *Client) Halt(ctx context.Context, force bool) (*engine.CommandResult, error) {
	args := []string{"halt"}
	if force {
		args = append(args, "--force")
	}
	return c.run(ctx, args...)
}

// Destroy runs vagrant destroy --force.
func (c *Client) Destroy(ctx context.Context) (*engine.CommandResult, error) {
	return c.run(ctx, "destroy", "--force")
}

// Status runs vagrant status --machine-readable and parses the machine states.
func (c *Client) Status(ctx context.Context) ([]engine.LiveInstanceStatus, *engine.CommandResult, error) {
	res, err := c.run(ctx, "status", "--machine-readable")
	if err != nil || res.Failed() {
		return nil, res, err
	}
	return ParseStatus(res.Stdout), res, nil
}

// Conf runs vagrant ssh-config for one machine and parses the result.
func (c *Client) Conf(ctx context.Context, name string) (map[string]string, *engine.CommandResult, error) {
	res, err := c.run(ctx, "ssh-config", name)
	if err != nil || res.Failed() {
		return nil, res, err
	}
	return ParseSSHConfig(res.Stdout), res, nil
}

// ErrorLog returns the stderr log path and its full content.
func (c *Client) ErrorLog() (string, string, error) {
	data, err := os.ReadFile(c.errPath)
	if err != nil {
		if os.IsNotExist(err) {
			return c.errPath, "", nil
		}
		return c.errPath, "", err
	}
	return c.errPath, string(data), nil
}

// run executes one subcommand and appends its output to the log files.
func (c *Client) run(ctx context.Context, args ...string) (*engine.CommandResult, error) {
	cmd := Command{
		Name: c.binary,
		Args: args,
		Dir:  c.workdir,
		Env:  c.env(),
	}
	result := &engine.CommandResult{
		Command: strings.Join(append([]string{c.binary}, args...), " "),
	}

	logger := telemetry.FromContext(ctx).WithCommand(result.Command)
	logger.Debug("running vagrant")

	err := telemetry.RecordCommand(ctx, args[0], args[1:], func(ctx context.Context) (bool, error) {
		out, err := c.runner.Run(ctx, cmd)
		if err != nil {
			if logErr := appendFile(c.errPath, c.marker()+err.Error()+"\n"); logErr != nil {
				logger.WithError(logErr).Warn("failed to log vagrant start failure")
			}
			return false, err
		}
		result.ExitCode = out.ExitCode
		result.Stdout = out.Stdout
		result.Stderr = out.Stderr
		result.Duration = out.Duration

		if err := c.appendLogs(out.Stdout, out.Stderr); err != nil {
			return result.Failed(), err
		}
		return result.Failed(), nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"rc":       result.ExitCode,
		"duration": result.Duration.String(),
	}).Debug("vagrant finished")
	return result, nil
}

func (c *Client) env() []string {
	env := []string{"VAGRANT_CWD=" + c.workdir}
	if !c.parallel {
		env = append(env, "VAGRANT_NO_PARALLEL=yes")
	}
	return env
}

// appendLogs writes a timestamp marker and the captured output to each log.
// Both files are opened and closed within the call.
func (c *Client) appendLogs(stdout, stderr string) error {
	marker := c.marker()
	if err := appendFile(c.outPath, marker+stdout); err != nil {
		return err
	}
	return appendFile(c.errPath, marker+stderr)
}

func (c *Client) marker() string {
	return fmt.Sprintf("### %s ###\n", c.now().Format("2006-01-02 15:04:05"))
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log %s: %w", path, err)
	}
	return nil
}
