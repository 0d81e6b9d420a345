package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Params are the invocation parameters of one run, as supplied by the caller.
// Either Instances (list form) or the legacy single-instance fields are set.
type Params struct {
	// Workdir receives the Vagrantfile and logs. Resolved by ResolveWorkdir when empty.
	Workdir string `yaml:"workdir,omitempty"`

	// Instances is the list form.
	Instances []RawInstance `yaml:"instances,omitempty" validate:"omitempty,dive"`

	// Legacy single-instance form.
	InstanceName                    string         `yaml:"instance_name,omitempty"`
	InstanceInterfaces              []RawNetwork   `yaml:"instance_interfaces,omitempty"`
	InstanceRawConfigArgs           []string       `yaml:"instance_raw_config_args,omitempty"`
	PlatformBox                     string         `yaml:"platform_box,omitempty"`
	PlatformBoxVersion              string         `yaml:"platform_box_version,omitempty"`
	PlatformBoxURL                  string         `yaml:"platform_box_url,omitempty"`
	PlatformBoxDownloadChecksum     string         `yaml:"platform_box_download_checksum,omitempty"`
	PlatformBoxDownloadChecksumType string         `yaml:"platform_box_download_checksum_type,omitempty"`
	ProviderMemory                  int            `yaml:"provider_memory,omitempty" validate:"gte=0"`
	ProviderCPUs                    int            `yaml:"provider_cpus,omitempty" validate:"gte=0"`
	ProviderOptions                 engine.Options `yaml:"provider_options,omitempty"`
	ProviderRawConfigArgs           []string       `yaml:"provider_raw_config_args,omitempty"`
	ProviderOverrideArgs            []string       `yaml:"provider_override_args,omitempty"`
	ConfigOptions                   engine.Options `yaml:"config_options,omitempty"`

	// Global settings.
	DefaultBox   string `yaml:"default_box,omitempty"`
	ProviderName string `yaml:"provider_name,omitempty"`
	Cachier      string `yaml:"cachier,omitempty" validate:"omitempty,oneof=machine box disabled"`
	State        string `yaml:"state,omitempty" validate:"omitempty,oneof=up halt destroy"`
	ForceStop    bool   `yaml:"force_stop,omitempty"`
	Provision    bool   `yaml:"provision,omitempty"`
	Parallel     *bool  `yaml:"parallel,omitempty"`
}

// hasLegacyFields reports whether any field of the single-instance form is set.
func (p *Params) hasLegacyFields() bool {
	return p.InstanceName != "" ||
		p.InstanceInterfaces != nil ||
		p.InstanceRawConfigArgs != nil ||
		p.PlatformBox != "" ||
		p.PlatformBoxVersion != "" ||
		p.PlatformBoxURL != "" ||
		p.PlatformBoxDownloadChecksum != "" ||
		p.PlatformBoxDownloadChecksumType != "" ||
		p.ProviderMemory != 0 ||
		p.ProviderCPUs != 0 ||
		p.ProviderOptions != nil ||
		p.ProviderRawConfigArgs != nil ||
		p.ProviderOverrideArgs != nil ||
		p.ConfigOptions != nil
}

// RawInstance is one entry of the list form. Zero values mean "use the default".
type RawInstance struct {
	Name                    string         `yaml:"name" validate:"required"`
	Hostname                Hostname       `yaml:"hostname,omitempty"`
	Interfaces              []RawNetwork   `yaml:"interfaces,omitempty" validate:"omitempty,dive"`
	InstanceRawConfigArgs   []string       `yaml:"instance_raw_config_args,omitempty"`
	ConfigOptions           engine.Options `yaml:"config_options,omitempty"`
	Box                     string         `yaml:"box,omitempty"`
	BoxVersion              string         `yaml:"box_version,omitempty"`
	BoxURL                  string         `yaml:"box_url,omitempty"`
	BoxDownloadChecksum     string         `yaml:"box_download_checksum,omitempty"`
	BoxDownloadChecksumType string         `yaml:"box_download_checksum_type,omitempty"`
	Memory                  int            `yaml:"memory,omitempty" validate:"gte=0"`
	CPUs                    int            `yaml:"cpus,omitempty" validate:"gte=0"`
	ProviderOptions         engine.Options `yaml:"provider_options,omitempty"`
	ProviderRawConfigArgs   []string       `yaml:"provider_raw_config_args,omitempty"`
	ProviderOverrideArgs    []string       `yaml:"provider_override_args,omitempty"`
}

// Hostname is either a guest hostname or false to leave the hostname alone.
// The zero value means "use the instance name".
type Hostname struct {
	Name     string
	Disabled bool
}

// IsZero lets omitempty drop an unset hostname.
func (h Hostname) IsZero() bool {
	return h.Name == "" && !h.Disabled
}

// UnmarshalYAML accepts a string, false, or true (the instance name).
func (h *Hostname) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: hostname must be a string or a boolean", node.Line)
	}
	switch node.Tag {
	case "!!null":
		*h = Hostname{}
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*h = Hostname{Disabled: !b}
	default:
		*h = Hostname{Name: node.Value}
	}
	return nil
}

// MarshalYAML encodes a disabled hostname as false.
func (h Hostname) MarshalYAML() (interface{}, error) {
	if h.Disabled {
		return false, nil
	}
	return h.Name, nil
}

// RawNetwork is a network attachment in its flat input shape:
// network_name plus any number of option keys.
type RawNetwork struct {
	Name    string `validate:"required"`
	Options engine.Options
}

// UnmarshalYAML splits network_name from the remaining options.
func (n *RawNetwork) UnmarshalYAML(node *yaml.Node) error {
	var all engine.Options
	if err := node.Decode(&all); err != nil {
		return err
	}
	out := RawNetwork{Options: engine.Options{}}
	for _, opt := range all {
		if opt.Key == "network_name" {
			name, ok := opt.Value.(string)
			if !ok {
				return fmt.Errorf("line %d: network_name must be a string", node.Line)
			}
			out.Name = name
			continue
		}
		out.Options = append(out.Options, opt)
	}
	if out.Name == "" {
		return fmt.Errorf("line %d: interface is missing network_name", node.Line)
	}
	*n = out
	return nil
}

// MarshalYAML writes network_name first, then the options in order.
func (n RawNetwork) MarshalYAML() (interface{}, error) {
	all := make(engine.Options, 0, len(n.Options)+1)
	all = append(all, engine.Option{Key: "network_name", Value: n.Name})
	all = append(all, n.Options...)
	return all.MarshalYAML()
}

// Normalized is the canonical outcome of normalizing Params.
type Normalized struct {
	Workdir   string
	Instances []engine.InstanceSpec
	Settings  engine.RenderSettings
	Operation engine.Operation
	ForceStop bool
	Provision bool
	Parallel  bool

	// Legacy is set when the single-instance form was used.
	Legacy       bool
	Deprecations []string
}

// Request builds the manager request for this run.
func (n *Normalized) Request(runID string, probeSSH bool) engine.Request {
	return engine.Request{
		RunID:        runID,
		Operation:    n.Operation,
		Workdir:      n.Workdir,
		Instances:    n.Instances,
		Settings:     n.Settings,
		ForceStop:    n.ForceStop,
		Provision:    n.Provision,
		ProbeSSH:     probeSSH,
		Legacy:       n.Legacy,
		Deprecations: n.Deprecations,
	}
}
