package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Directive is one line of the generated Vagrantfile.
type Directive struct {
	// Depth is the block nesting level; each level indents two spaces.
	Depth int
	// Text is the Ruby source of the line. Empty means a blank line.
	Text string
}

// Provider names the renderer treats specially.
const (
	ProviderVirtualBox = "virtualbox"
	ProviderLibvirt    = "libvirt"

	// vmware_desktop, vmware_fusion and vmware_workstation
	vmwarePrefix = "vmware_"
)

// Provider option keys consulted by the conditional insertions.
const (
	optLinkedClone = "linked_clone"
	optDriver      = "driver"
	optCPUMode     = "cpu_mode"
)

// Render produces the Vagrantfile text for instances. Output depends only on
// the arguments.
func Render(instances []engine.InstanceSpec, settings engine.RenderSettings) (string, error) {
	directives, err := Plan(instances, settings)
	if err != nil {
		return "", err
	}
	return Emit(directives), nil
}

// Plan builds the ordered directive list for instances.
func Plan(instances []engine.InstanceSpec, settings engine.RenderSettings) ([]Directive, error) {
	if err := settings.Caching.Validate(); err != nil && settings.Caching != "" {
		return nil, err
	}

	p := &planner{}
	p.line(0, "# -*- mode: ruby -*-")
	p.line(0, "# vi: set ft=ruby :")
	p.line(0, "# Generated by boxctl; changes are overwritten on the next run.")
	p.blank()
	p.line(0, `Vagrant.configure("2") do |config|`)
	p.caching(settings.Caching)

	for i := range instances {
		spec := &instances[i]
		if spec.Provider == "" {
			spec = withProvider(spec, settings.Provider)
		}
		if err := p.instance(spec); err != nil {
			return nil, err
		}
	}

	p.line(0, "end")
	return p.out, nil
}

// Emit turns directives into text.
func Emit(directives []Directive) string {
	var b strings.Builder
	for _, d := range directives {
		if d.Text != "" {
			b.WriteString(strings.Repeat("  ", d.Depth))
			b.WriteString(d.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type planner struct {
	out []Directive
}

func (p *planner) line(depth int, format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	p.out = append(p.out, Directive{Depth: depth, Text: text})
}

func (p *planner) blank() {
	p.out = append(p.out, Directive{})
}

func (p *planner) caching(scope engine.CachingScope) {
	if scope == "" {
		return
	}
	p.blank()
	p.line(1, `if Vagrant.has_plugin?("vagrant-cachier")`)
	if scope == engine.CachingDisabled {
		p.line(2, "config.cache.disable!")
	} else {
		p.line(2, "config.cache.scope = :%s", scope)
	}
	p.line(1, "end")
}

func (p *planner) instance(spec *engine.InstanceSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("instance without a name")
	}

	p.blank()
	p.line(1, "config.vm.define %s do |c|", FormatValue(spec.Name))

	if hostname, ok := spec.EffectiveHostname(); ok {
		p.line(2, "c.vm.hostname = %s", FormatValue(hostname))
	}

	p.box(spec)
	p.configOptions(spec.ConfigOptions)

	for _, network := range spec.Networks {
		if len(network.Options) == 0 {
			p.line(2, "c.vm.network %s", FormatValue(network.Kind))
			continue
		}
		p.line(2, "c.vm.network %s, %s", FormatValue(network.Kind), FormatArgs(network.Options))
	}

	for _, arg := range spec.InstanceRaw {
		p.line(2, "c.%s", arg)
	}

	p.provider(spec)

	if spec.Provider == ProviderVirtualBox && rhelBox.MatchString(spec.Box) {
		// vagrant-vbguest tries to update packages before a RHEL guest is registered
		p.line(2, `if Vagrant.has_plugin?("vagrant-vbguest")`)
		p.line(3, "c.vbguest.auto_update = false")
		p.line(2, "end")
	}

	p.line(1, "end")
	return nil
}

var rhelBox = regexp.MustCompile(`(?i)rhel`)

func (p *planner) box(spec *engine.InstanceSpec) {
	p.line(2, "c.vm.box = %s", FormatValue(spec.Box))
	for _, field := range []struct {
		name  string
		value string
	}{
		{"box_version", spec.BoxVersion},
		{"box_url", spec.BoxURL},
		{"box_download_checksum", spec.BoxChecksum},
		{"box_download_checksum_type", spec.BoxChecksumType},
	} {
		if field.value != "" {
			p.line(2, "c.vm.%s = %s", field.name, FormatValue(field.value))
		}
	}
}

func (p *planner) configOptions(opts engine.Options) {
	for _, opt := range opts {
		if opt.Key == engine.OptionSyncedFolder {
			if enabled, ok := opt.Value.(bool); ok && !enabled {
				p.line(2, `c.vm.synced_folder ".", "/vagrant", disabled: true`)
			}
			continue
		}
		p.line(2, "c.%s = %s", opt.Key, FormatValue(opt.Value))
	}
}

func (p *planner) provider(spec *engine.InstanceSpec) {
	name := spec.Provider
	v := blockVar(name)

	p.line(2, "c.vm.provider %s do |%s, override|", FormatValue(name), v)

	if strings.HasPrefix(name, vmwarePrefix) {
		p.line(3, `%s.vmx["memsize"] = %d`, v, spec.Memory)
		p.line(3, `%s.vmx["numvcpus"] = %d`, v, spec.CPUs)
	} else {
		p.line(3, "%s.memory = %d", v, spec.Memory)
		p.line(3, "%s.cpus = %d", v, spec.CPUs)
	}

	if name == ProviderVirtualBox && !spec.ProviderOptions.Has(optLinkedClone) {
		p.line(3, "%s.linked_clone = true", v)
	}

	for _, opt := range spec.ProviderOptions {
		p.line(3, "%s.%s = %s", v, opt.Key, FormatValue(opt.Value))
	}

	if needsQEMUWorkaround(name, spec.ProviderOptions) {
		// qemu without kvm may pick an EPYC vCPU model that hangs ssh-keygen on some guests
		p.line(3, "%s.cpu_mode = %s", v, FormatValue("custom"))
		p.line(3, "%s.cpu_model = %s", v, FormatValue("qemu64"))
	}

	for _, arg := range spec.ProviderRaw {
		p.line(3, "%s.%s", v, arg)
	}
	for _, arg := range spec.ProviderOverride {
		p.line(3, "override.%s", arg)
	}

	p.line(2, "end")
}

func needsQEMUWorkaround(provider string, opts engine.Options) bool {
	if provider != ProviderLibvirt || opts.Has(optCPUMode) {
		return false
	}
	driver, ok := opts.Get(optDriver)
	if !ok {
		return false
	}
	s, ok := driver.(string)
	return ok && strings.Contains(s, "qemu")
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]`)

// blockVar derives the provider block parameter name from the provider name.
func blockVar(provider string) string {
	v := nonIdent.ReplaceAllString(strings.ToLower(provider), "_")
	if v == "" || v == "c" || v == "config" || v == "override" || (v[0] >= '0' && v[0] <= '9') {
		return "p"
	}
	return v
}

func withProvider(spec *engine.InstanceSpec, provider string) *engine.InstanceSpec {
	cp := *spec
	cp.Provider = provider
	if cp.Provider == "" {
		cp.Provider = engine.DefaultProvider
	}
	return &cp
}
