package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// LegacyDeprecation is reported when the single-instance parameter form is used.
const LegacyDeprecation = "instance_name and the platform_*/provider_* parameters are deprecated, use instances instead"

// Normalizer turns Params into canonical instance specs.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// Normalize validates params and produces the canonical instance list.
// Nothing is touched on disk; every error is a configuration error.
func (n *Normalizer) Normalize(p *Params) (*Normalized, error) {
	if p == nil {
		return nil, engine.NewConfigurationError("no parameters supplied", nil).
			WithCode(engine.ErrCodeInvalidParams)
	}

	listForm := p.Instances != nil
	legacyForm := p.hasLegacyFields()
	switch {
	case listForm && legacyForm:
		return nil, engine.NewConfigurationError(
			"instances and the single-instance parameters (instance_name, platform_box, ...) are mutually exclusive", nil).
			WithCode(engine.ErrCodeInvalidParams)
	case !listForm && !legacyForm:
		return nil, engine.NewConfigurationError(
			"one of instances or instance_name is required", nil).
			WithCode(engine.ErrCodeInvalidParams)
	}

	if err := n.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	out := &Normalized{
		Workdir:   p.Workdir,
		ForceStop: p.ForceStop,
		Provision: p.Provision,
		Parallel:  p.Parallel == nil || *p.Parallel,
		Operation: engine.Operation(p.State),
		Settings: engine.RenderSettings{
			Provider: p.ProviderName,
			Caching:  engine.CachingScope(p.Cachier),
		},
	}
	if out.Operation == "" {
		out.Operation = engine.OperationUp
	}
	if out.Settings.Provider == "" {
		out.Settings.Provider = engine.DefaultProvider
	}
	if out.Settings.Caching == "" {
		out.Settings.Caching = engine.CachingMachine
	}

	var raws []RawInstance
	if listForm {
		raws = fromList(p)
	} else {
		raws = fromLegacy(p)
		out.Legacy = true
		out.Deprecations = []string{LegacyDeprecation}
	}

	specs := make([]engine.InstanceSpec, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		spec, err := n.canonical(raw, p.DefaultBox, out.Settings.Provider, p.Provision)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("instance name %q is declared more than once", spec.Name), nil).
				WithCode(engine.ErrCodeDuplicateName).
				WithInstance(spec.Name)
		}
		seen[spec.Name] = struct{}{}
		specs = append(specs, spec)
	}
	out.Instances = specs

	return out, nil
}

// fromList returns the list-form instances as given.
func fromList(p *Params) []RawInstance {
	return p.Instances
}

// fromLegacy maps the single-instance parameters onto one raw instance.
func fromLegacy(p *Params) []RawInstance {
	return []RawInstance{{
		Name:                    p.InstanceName,
		Interfaces:              p.InstanceInterfaces,
		InstanceRawConfigArgs:   p.InstanceRawConfigArgs,
		ConfigOptions:           p.ConfigOptions,
		Box:                     p.PlatformBox,
		BoxVersion:              p.PlatformBoxVersion,
		BoxURL:                  p.PlatformBoxURL,
		BoxDownloadChecksum:     p.PlatformBoxDownloadChecksum,
		BoxDownloadChecksumType: p.PlatformBoxDownloadChecksumType,
		Memory:                  p.ProviderMemory,
		CPUs:                    p.ProviderCPUs,
		ProviderOptions:         p.ProviderOptions,
		ProviderRawConfigArgs:   p.ProviderRawConfigArgs,
		ProviderOverrideArgs:    p.ProviderOverrideArgs,
	}}
}

// canonical fills defaults for one raw instance and validates the result.
func (n *Normalizer) canonical(raw RawInstance, defaultBox, provider string, provision bool) (engine.InstanceSpec, error) {
	if (raw.BoxDownloadChecksum == "") != (raw.BoxDownloadChecksumType == "") {
		return engine.InstanceSpec{}, engine.NewConfigurationError(
			"box_download_checksum and box_download_checksum_type must be set together", nil).
			WithCode(engine.ErrCodeChecksumPair).
			WithInstance(raw.Name)
	}

	spec := engine.InstanceSpec{
		Name:             raw.Name,
		Hostname:         raw.Hostname.Name,
		HostnameDisabled: raw.Hostname.Disabled,
		Box:              raw.Box,
		BoxVersion:       raw.BoxVersion,
		BoxURL:           raw.BoxURL,
		BoxChecksum:      raw.BoxDownloadChecksum,
		BoxChecksumType:  raw.BoxDownloadChecksumType,
		CPUs:             raw.CPUs,
		Memory:           raw.Memory,
		Provider:         provider,
		ConfigOptions:    engine.Merge(engine.DefaultConfigOptions(), raw.ConfigOptions),
		ProviderOptions:  engine.Merge(nil, raw.ProviderOptions),
		InstanceRaw:      cloneStrings(raw.InstanceRawConfigArgs),
		ProviderRaw:      cloneStrings(raw.ProviderRawConfigArgs),
		ProviderOverride: cloneStrings(raw.ProviderOverrideArgs),
		Provision:        provision,
	}
	if spec.Box == "" {
		spec.Box = defaultBox
	}
	if spec.CPUs == 0 {
		spec.CPUs = engine.DefaultCPUs
	}
	if spec.Memory == 0 {
		spec.Memory = engine.DefaultMemory
	}
	for _, iface := range raw.Interfaces {
		spec.Networks = append(spec.Networks, engine.Network{
			Kind:    iface.Name,
			Options: iface.Options.Clone(),
		})
	}

	for _, opts := range []struct {
		field string
		value engine.Options
	}{
		{"config_options", spec.ConfigOptions},
		{"provider_options", spec.ProviderOptions},
	} {
		if err := opts.value.Validate(); err != nil {
			return engine.InstanceSpec{}, engine.NewConfigurationError(
				fmt.Sprintf("invalid %s", opts.field), err).
				WithCode(engine.ErrCodeInvalidParams).
				WithInstance(spec.Name)
		}
	}
	for _, network := range spec.Networks {
		if err := network.Options.Validate(); err != nil {
			return engine.InstanceSpec{}, engine.NewConfigurationError(
				fmt.Sprintf("invalid options for network %q", network.Kind), err).
				WithCode(engine.ErrCodeInvalidParams).
				WithInstance(spec.Name)
		}
	}

	if err := n.validate.Struct(&spec); err != nil {
		return engine.InstanceSpec{}, validationError(err).WithInstance(spec.Name)
	}
	return spec, nil
}

// Denormalize converts canonical specs back into list-form Params.
// Normalizing the result yields the same specs.
func Denormalize(specs []engine.InstanceSpec, settings engine.RenderSettings) *Params {
	p := &Params{
		Instances:    make([]RawInstance, 0, len(specs)),
		ProviderName: settings.Provider,
		Cachier:      string(settings.Caching),
	}
	for _, s := range specs {
		raw := RawInstance{
			Name:                    s.Name,
			Hostname:                Hostname{Name: s.Hostname, Disabled: s.HostnameDisabled},
			InstanceRawConfigArgs:   cloneStrings(s.InstanceRaw),
			ConfigOptions:           s.ConfigOptions.Clone(),
			Box:                     s.Box,
			BoxVersion:              s.BoxVersion,
			BoxURL:                  s.BoxURL,
			BoxDownloadChecksum:     s.BoxChecksum,
			BoxDownloadChecksumType: s.BoxChecksumType,
			Memory:                  s.Memory,
			CPUs:                    s.CPUs,
			ProviderOptions:         s.ProviderOptions.Clone(),
			ProviderRawConfigArgs:   cloneStrings(s.ProviderRaw),
			ProviderOverrideArgs:    cloneStrings(s.ProviderOverride),
		}
		for _, network := range s.Networks {
			raw.Interfaces = append(raw.Interfaces, RawNetwork{Name: network.Kind, Options: network.Options.Clone()})
		}
		if s.Provision {
			p.Provision = true
		}
		p.Instances = append(p.Instances, raw)
	}
	return p
}

// validationError converts validator output into a configuration error.
func validationError(err error) *engine.EngineError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return engine.NewConfigurationError("invalid parameters", err).WithCode(engine.ErrCodeInvalidParams)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return engine.NewConfigurationError("invalid parameters: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodeInvalidParams)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
