package engine

import (
	"context"
)

// ConfigWriter renders instances into a Vagrantfile and writes it, with the
// side-channel instance file, into the working directory.
type ConfigWriter interface {
	// Write renders and overwrites <workdir>/Vagrantfile and the instance file.
	Write(workdir string, instances []InstanceSpec, settings RenderSettings) (*RenderedConfig, error)
}

// StatusSource answers live state queries.
type StatusSource interface {
	// Status runs one machine-readable status query for the working directory.
	// A non-zero exit is reported through the CommandResult, not the error.
	Status(ctx context.Context) ([]LiveInstanceStatus, *CommandResult, error)
}

// Driver runs vagrant subcommands in the working directory.
// Implementations append every call's output to the run log files.
type Driver interface {
	StatusSource

	// Validate checks the Vagrantfile.
	Validate(ctx context.Context) (*CommandResult, error)

	// Up brings up every machine declared in the Vagrantfile.
	Up(ctx context.Context, provision bool, provider string) (*CommandResult, error)

	// Halt stops every running machine.
	Halt(ctx context.Context, force bool) (*CommandResult, error)

	// Destroy removes every created machine.
	Destroy(ctx context.Context) (*CommandResult, error)

	// Conf returns the ssh-config of one machine as key/value pairs.
	Conf(ctx context.Context, name string) (map[string]string, *CommandResult, error)

	// ErrorLog returns the path and the full content of the stderr log file.
	ErrorLog() (path string, content string, err error)
}

// PolicyChecker evaluates policies against normalized instances.
type PolicyChecker interface {
	Check(ctx context.Context, instances []InstanceSpec) (*PolicyReport, error)
}

// Recorder persists run history. It is write-only from the manager's point of
// view: history never feeds lifecycle decisions.
type Recorder interface {
	StartRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, run *RunRecord) error
}

// Prober checks that an instance accepts SSH connections.
type Prober interface {
	Probe(ctx context.Context, info InstanceInfo) error
}
