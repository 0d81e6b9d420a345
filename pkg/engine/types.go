package engine

import (
	"time"
)

// DefaultProvider is the provider used when the caller names none.
const DefaultProvider = "virtualbox"

// Defaults applied by the normalizer to every instance.
const (
	DefaultMemory = 512
	DefaultCPUs   = 2
)

// Well-known config option keys.
const (
	// OptionSyncedFolder is a flag, not a vagrant key: false disables the default /vagrant share.
	OptionSyncedFolder = "synced_folder"
	OptionInsertKey    = "ssh.insert_key"
)

// DefaultConfigOptions returns the config options every instance starts from.
func DefaultConfigOptions() Options {
	return Options{
		{Key: OptionSyncedFolder, Value: false},
		{Key: OptionInsertKey, Value: true},
	}
}

// Network is one network attachment of an instance.
type Network struct {
	// Kind is the vagrant network identifier (private_network, public_network, forwarded_port).
	Kind string `yaml:"network_name" json:"network_name" validate:"required"`

	// Options are rendered as keyword arguments of the network directive.
	Options Options `yaml:"options,omitempty" json:"options,omitempty"`
}

// InstanceSpec is the canonical, fully-populated description of one instance.
// It is immutable once produced by the normalizer.
type InstanceSpec struct {
	// Name is the unique instance key and the vagrant machine name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Hostname is the guest hostname. Empty means the instance name.
	Hostname string `yaml:"hostname,omitempty" json:"hostname,omitempty"`

	// HostnameDisabled leaves the guest hostname untouched.
	HostnameDisabled bool `yaml:"hostname_disabled,omitempty" json:"hostname_disabled,omitempty"`

	// Box is the box image identifier.
	Box string `yaml:"box" json:"box" validate:"required"`

	// BoxVersion pins the box version.
	BoxVersion string `yaml:"box_version,omitempty" json:"box_version,omitempty"`

	// BoxURL overrides the box download location.
	BoxURL string `yaml:"box_url,omitempty" json:"box_url,omitempty"`

	// BoxChecksum and BoxChecksumType must be set together.
	BoxChecksum     string `yaml:"box_download_checksum,omitempty" json:"box_download_checksum,omitempty" validate:"required_with=BoxChecksumType"`
	BoxChecksumType string `yaml:"box_download_checksum_type,omitempty" json:"box_download_checksum_type,omitempty" validate:"required_with=BoxChecksum"`

	// CPUs is the virtual CPU count.
	CPUs int `yaml:"cpus" json:"cpus" validate:"gt=0"`

	// Memory is the memory size in MiB.
	Memory int `yaml:"memory" json:"memory" validate:"gt=0"`

	// Provider is the vagrant provider name.
	Provider string `yaml:"provider" json:"provider" validate:"required"`

	// Networks are rendered in order.
	Networks []Network `yaml:"interfaces,omitempty" json:"interfaces,omitempty" validate:"dive"`

	// ConfigOptions are instance-level settings rendered as c.<key> = <value>.
	ConfigOptions Options `yaml:"config_options" json:"config_options"`

	// ProviderOptions are rendered as <provider>.<key> = <value>.
	ProviderOptions Options `yaml:"provider_options,omitempty" json:"provider_options,omitempty"`

	// InstanceRaw, ProviderRaw and ProviderOverride are raw passthrough directives
	// emitted verbatim as c.<arg>, <provider>.<arg> and override.<arg>.
	InstanceRaw      []string `yaml:"instance_raw_config_args,omitempty" json:"instance_raw_config_args,omitempty"`
	ProviderRaw      []string `yaml:"provider_raw_config_args,omitempty" json:"provider_raw_config_args,omitempty"`
	ProviderOverride []string `yaml:"provider_override_args,omitempty" json:"provider_override_args,omitempty"`

	// Provision runs provisioners on bring-up.
	Provision bool `yaml:"provision" json:"provision"`
}

// EffectiveHostname returns the hostname to render and whether one should be rendered at all.
func (s *InstanceSpec) EffectiveHostname() (string, bool) {
	if s.HostnameDisabled {
		return "", false
	}
	if s.Hostname != "" {
		return s.Hostname, true
	}
	return s.Name, true
}

// RenderSettings are the global settings the renderer needs besides the instances.
type RenderSettings struct {
	// Provider is the global provider name.
	Provider string `json:"provider"`

	// Caching is the vagrant-cachier scope. Empty emits no caching block.
	Caching CachingScope `json:"caching,omitempty"`
}

// RenderedConfig describes the files written for one run.
type RenderedConfig struct {
	// VagrantfilePath is <workdir>/Vagrantfile.
	VagrantfilePath string `json:"vagrantfile"`

	// InstancesPath is the side-channel file holding the canonical instance list.
	InstancesPath string `json:"instances_file"`

	// Text is the rendered Vagrantfile.
	Text string `json:"-"`
}

// LiveInstanceStatus is the state of one instance as reported by vagrant.
// It is never cached past one reconciliation pass.
type LiveInstanceStatus struct {
	Name     string         `json:"name"`
	State    LifecycleState `json:"state"`
	RawState string         `json:"raw_state,omitempty"`
	Provider string         `json:"provider,omitempty"`
}

// InstanceInfo is the runtime record reported for an instance after bring-up.
type InstanceInfo struct {
	Name     string         `json:"instance"`
	State    LifecycleState `json:"state"`
	Provider string         `json:"provider,omitempty"`

	// Connection info as reported by vagrant ssh-config.
	Host         string            `json:"host,omitempty"`
	HostName     string            `json:"address,omitempty"`
	User         string            `json:"user,omitempty"`
	Port         string            `json:"port,omitempty"`
	IdentityFile string            `json:"identity_file,omitempty"`
	Options      map[string]string `json:"options,omitempty"`

	// SSHReachable is set when the reachability probe ran.
	SSHReachable *bool `json:"ssh_reachable,omitempty"`
}

// CommandResult is the outcome of one vagrant subcommand. A non-zero exit is a
// result, not an error.
type CommandResult struct {
	Command  string        `json:"cmd"`
	ExitCode int           `json:"rc"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the command exited non-zero.
func (r *CommandResult) Failed() bool {
	return r != nil && r.ExitCode != 0
}

// Failure converts the result into an error payload carrying stderr.
func (r *CommandResult) Failure(stderr string) *Failure {
	return &Failure{
		Command:  r.Command,
		ExitCode: r.ExitCode,
		Stderr:   stderr,
	}
}

// Decision is the reconciler verdict for one operation.
type Decision struct {
	// Changed is the value reported to the caller.
	Changed bool `json:"changed"`

	// Invoke tells the manager to run the lifecycle command.
	Invoke bool `json:"invoke"`
}

// InstanceDiff is the drift summary for one instance.
type InstanceDiff struct {
	Name    string         `json:"name"`
	Desired LifecycleState `json:"desired"`
	Actual  LifecycleState `json:"actual"`
	Action  DiffAction     `json:"action"`
}

// DiffSummary counts instance diffs by action.
type DiffSummary struct {
	Total     int `json:"total"`
	ToCreate  int `json:"to_create"`
	ToStart   int `json:"to_start"`
	ToStop    int `json:"to_stop"`
	ToRemove  int `json:"to_remove"`
	Unchanged int `json:"unchanged"`
}

// DiffResult is the drift report for a set of instances.
type DiffResult struct {
	Instances []InstanceDiff `json:"instances"`
	Summary   DiffSummary    `json:"summary"`
}

// HasChanges returns true if any instance needs work.
func (d *DiffResult) HasChanges() bool {
	return d.Summary.Unchanged < d.Summary.Total
}

// Request is one lifecycle invocation handed to the Manager.
type Request struct {
	// RunID identifies the run in logs, traces and history. Generated when empty.
	RunID string

	// Operation selects up, halt or destroy.
	Operation Operation

	// Workdir receives the Vagrantfile and the log files.
	Workdir string

	// Instances are the normalized instance specs in caller order.
	Instances []InstanceSpec

	// Settings are the global render settings.
	Settings RenderSettings

	// ForceStop halts instances with --force before destroy.
	ForceStop bool

	// Provision runs provisioners during bring-up.
	Provision bool

	// ProbeSSH dials every instance after bring-up.
	ProbeSSH bool

	// Legacy marks the single-instance parameter form; the result then carries Instance.
	Legacy bool

	// Deprecations are passed through to the result.
	Deprecations []string
}

// Result is the success outcome of a lifecycle invocation.
type Result struct {
	RunID        string         `json:"run_id"`
	Operation    Operation      `json:"operation"`
	Changed      bool           `json:"changed"`
	Instances    []InstanceInfo `json:"instances,omitempty"`
	Instance     *InstanceInfo  `json:"instance,omitempty"`
	Deprecations []string       `json:"deprecations,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// Severity is the severity of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsBlocking returns true if a violation of this severity stops the run.
func (s Severity) IsBlocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// PolicyViolation is one finding of a policy check.
type PolicyViolation struct {
	Policy   string   `json:"policy"`
	Rule     string   `json:"rule,omitempty"`
	Instance string   `json:"instance,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// PolicyReport is the result of checking instances against all loaded policies.
type PolicyReport struct {
	Violations []PolicyViolation `json:"violations"`
}

// Blocking returns the violations that stop the run.
func (r *PolicyReport) Blocking() []PolicyViolation {
	var out []PolicyViolation
	for _, v := range r.Violations {
		if v.Severity.IsBlocking() {
			out = append(out, v)
		}
	}
	return out
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID           string               `json:"id"`
	Operation    Operation            `json:"operation"`
	Workdir      string               `json:"workdir"`
	Status       RunStatus            `json:"status"`
	Changed      bool                 `json:"changed"`
	ErrorClass   ErrorClass           `json:"error_class,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
	Instances    []LiveInstanceStatus `json:"instances,omitempty"`
}
