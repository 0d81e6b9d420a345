package render

import (
	"strings"
	"testing"

	"github.com/openfroyo/boxctl/pkg/engine"
)

func spec(name string) engine.InstanceSpec {
	return engine.InstanceSpec{
		Name:            name,
		Box:             "debian/bookworm64",
		CPUs:            engine.DefaultCPUs,
		Memory:          engine.DefaultMemory,
		Provider:        ProviderVirtualBox,
		ConfigOptions:   engine.DefaultConfigOptions(),
		ProviderOptions: engine.Options{},
	}
}

var machineCache = engine.RenderSettings{Provider: ProviderVirtualBox, Caching: engine.CachingMachine}

func TestRender_Golden(t *testing.T) {
	got, err := Render([]engine.InstanceSpec{spec("instance-1")}, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := `# -*- mode: ruby -*-
# vi: set ft=ruby :
# Generated by boxctl; changes are overwritten on the next run.

Vagrant.configure("2") do |config|

  if Vagrant.has_plugin?("vagrant-cachier")
    config.cache.scope = :machine
  end

  config.vm.define "instance-1" do |c|
    c.vm.hostname = "instance-1"
    c.vm.box = "debian/bookworm64"
    c.vm.synced_folder ".", "/vagrant", disabled: true
    c.ssh.insert_key = true
    c.vm.provider "virtualbox" do |virtualbox, override|
      virtualbox.memory = 512
      virtualbox.cpus = 2
      virtualbox.linked_clone = true
    end
  end
end
`
	if got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestRender_Deterministic(t *testing.T) {
	a := spec("instance-1")
	a.Networks = []engine.Network{
		{Kind: "private_network", Options: engine.Options{{Key: "ip", Value: "192.168.56.10"}, {Key: "auto_config", Value: true}}},
		{Kind: "forwarded_port", Options: engine.Options{{Key: "guest", Value: 80}, {Key: "host", Value: 8080}}},
	}
	a.ConfigOptions = engine.Merge(a.ConfigOptions, engine.Options{{Key: "vm.boot_timeout", Value: 600}, {Key: "ssh.username", Value: "vagrant"}})
	a.ProviderOptions = engine.Options{{Key: "gui", Value: false}, {Key: "name", Value: "box-a"}}
	instances := []engine.InstanceSpec{a, spec("instance-2")}

	first, err := Render(instances, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Render(instances, machineCache)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if again != first {
			t.Fatalf("Render() output differs on run %d", i)
		}
	}

	order := []string{
		`c.vm.network "private_network", ip: "192.168.56.10", auto_config: true`,
		`c.vm.network "forwarded_port", guest: 80, host: 8080`,
	}
	if strings.Index(first, order[0]) < 0 || strings.Index(first, order[0]) > strings.Index(first, order[1]) {
		t.Errorf("networks not rendered in order:\n%s", first)
	}
	if !strings.Contains(first, `c.vm.boot_timeout = 600`) || !strings.Contains(first, `c.ssh.username = "vagrant"`) {
		t.Errorf("config options missing:\n%s", first)
	}
	if !strings.Contains(first, `virtualbox.gui = false`) || !strings.Contains(first, `virtualbox.name = "box-a"`) {
		t.Errorf("provider options missing:\n%s", first)
	}
}

func TestRender_TwoInstances(t *testing.T) {
	out, err := Render([]engine.InstanceSpec{spec("instance-1"), spec("instance-2")}, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, name := range []string{"instance-1", "instance-2"} {
		block := `config.vm.define "` + name + `" do |c|`
		if strings.Count(out, block) != 1 {
			t.Errorf("expected exactly one block for %s:\n%s", name, out)
		}
	}
	if strings.Index(out, `"instance-1" do`) > strings.Index(out, `"instance-2" do`) {
		t.Error("instances rendered out of order")
	}
}

func TestRender_MemoryFields(t *testing.T) {
	tests := []struct {
		provider string
		want     []string
		notWant  []string
	}{
		{
			provider: "vmware_desktop",
			want:     []string{`vmware_desktop.vmx["memsize"] = 2048`, `vmware_desktop.vmx["numvcpus"] = 4`},
			notWant:  []string{".memory = ", ".cpus = "},
		},
		{
			provider: "vmware_fusion",
			want:     []string{`vmware_fusion.vmx["memsize"] = 2048`, `vmware_fusion.vmx["numvcpus"] = 4`},
			notWant:  []string{".memory = ", ".cpus = "},
		},
		{
			provider: "virtualbox",
			want:     []string{"virtualbox.memory = 2048", "virtualbox.cpus = 4"},
			notWant:  []string{"vmx["},
		},
		{
			provider: "libvirt",
			want:     []string{"libvirt.memory = 2048", "libvirt.cpus = 4"},
			notWant:  []string{"vmx["},
		},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			s := spec("instance-1")
			s.Provider = tt.provider
			s.Memory = 2048
			s.CPUs = 4

			out, err := Render([]engine.InstanceSpec{s}, engine.RenderSettings{Provider: tt.provider})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("output should not contain %q:\n%s", nw, out)
				}
			}
		})
	}
}

func TestRender_LinkedClone(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		options  engine.Options
		want     string
		absent   string
	}{
		{
			name:     "virtualbox default",
			provider: "virtualbox",
			want:     "virtualbox.linked_clone = true",
		},
		{
			name:     "virtualbox user override",
			provider: "virtualbox",
			options:  engine.Options{{Key: "linked_clone", Value: false}},
			want:     "virtualbox.linked_clone = false",
			absent:   "virtualbox.linked_clone = true",
		},
		{
			name:     "other provider",
			provider: "parallels",
			absent:   "linked_clone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spec("instance-1")
			s.Provider = tt.provider
			s.ProviderOptions = tt.options

			out, err := Render([]engine.InstanceSpec{s}, engine.RenderSettings{Provider: tt.provider})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
			if tt.absent != "" && strings.Contains(out, tt.absent) {
				t.Errorf("output should not contain %q:\n%s", tt.absent, out)
			}
		})
	}
}

func TestRender_QEMUWorkaround(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		options  engine.Options
		applied  bool
	}{
		{"libvirt qemu", "libvirt", engine.Options{{Key: "driver", Value: "qemu"}}, true},
		{"libvirt pre-quoted qemu", "libvirt", engine.Options{{Key: "driver", Value: "'qemu'"}}, true},
		{"libvirt kvm", "libvirt", engine.Options{{Key: "driver", Value: "kvm"}}, false},
		{"libvirt no driver", "libvirt", nil, false},
		{"libvirt cpu_mode set", "libvirt", engine.Options{{Key: "driver", Value: "qemu"}, {Key: "cpu_mode", Value: "host-passthrough"}}, false},
		{"other provider with qemu driver", "virtualbox", engine.Options{{Key: "driver", Value: "qemu"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spec("instance-1")
			s.Provider = tt.provider
			s.ProviderOptions = tt.options

			out, err := Render([]engine.InstanceSpec{s}, engine.RenderSettings{Provider: tt.provider})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			got := strings.Contains(out, `cpu_model = "qemu64"`)
			if got != tt.applied {
				t.Errorf("workaround applied = %t, want %t:\n%s", got, tt.applied, out)
			}
			if tt.applied && !strings.Contains(out, `libvirt.cpu_mode = "custom"`) {
				t.Errorf("cpu_mode not set to custom:\n%s", out)
			}
		})
	}
}

func TestRender_Caching(t *testing.T) {
	tests := []struct {
		scope   engine.CachingScope
		want    string
		wantErr bool
	}{
		{engine.CachingMachine, "config.cache.scope = :machine", false},
		{engine.CachingBox, "config.cache.scope = :box", false},
		{engine.CachingDisabled, "config.cache.disable!", false},
		{"", "", false},
		{"forever", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			out, err := Render([]engine.InstanceSpec{spec("a")}, engine.RenderSettings{Provider: "virtualbox", Caching: tt.scope})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unknown scope")
				}
				return
			}
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if tt.want == "" {
				if strings.Contains(out, "vagrant-cachier") {
					t.Errorf("unexpected caching block:\n%s", out)
				}
				return
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestRender_Passthrough(t *testing.T) {
	s := spec("instance-1")
	s.InstanceRaw = []string{"vm.post_up_message = 'ready'", `vm.provision "shell", inline: "true"`}
	s.ProviderRaw = []string{`customize ["modifyvm", :id, "--nictype1", "virtio"]`}
	s.ProviderOverride = []string{"vm.synced_folder '.', '/src', type: 'rsync'"}
	s.BoxVersion = "12.20240101.1"
	s.BoxURL = "https://example.com/box.json"
	s.BoxChecksum = "abc123"
	s.BoxChecksumType = "sha256"

	out, err := Render([]engine.InstanceSpec{s}, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, line := range []string{
		"    c.vm.post_up_message = 'ready'\n",
		"    c.vm.provision \"shell\", inline: \"true\"\n",
		"      virtualbox.customize [\"modifyvm\", :id, \"--nictype1\", \"virtio\"]\n",
		"      override.vm.synced_folder '.', '/src', type: 'rsync'\n",
		"    c.vm.box_version = \"12.20240101.1\"\n",
		"    c.vm.box_url = \"https://example.com/box.json\"\n",
		"    c.vm.box_download_checksum = \"abc123\"\n",
		"    c.vm.box_download_checksum_type = \"sha256\"\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q:\n%s", line, out)
		}
	}
}

func TestRender_HostnameAndSyncedFolder(t *testing.T) {
	s := spec("instance-1")
	s.HostnameDisabled = true
	s.ConfigOptions = engine.Merge(s.ConfigOptions, engine.Options{{Key: engine.OptionSyncedFolder, Value: true}})

	out, err := Render([]engine.InstanceSpec{s}, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(out, "c.vm.hostname") {
		t.Errorf("hostname should not be rendered when disabled:\n%s", out)
	}
	if strings.Contains(out, "synced_folder") {
		t.Errorf("synced folder should be left enabled:\n%s", out)
	}

	s = spec("instance-1")
	s.Hostname = "web.local"
	out, _ = Render([]engine.InstanceSpec{s}, machineCache)
	if !strings.Contains(out, `c.vm.hostname = "web.local"`) {
		t.Errorf("hostname override missing:\n%s", out)
	}
}

func TestRender_RHELGuestAdditions(t *testing.T) {
	s := spec("instance-1")
	s.Box = "generic/RHEL8"

	out, err := Render([]engine.InstanceSpec{s}, machineCache)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "c.vbguest.auto_update = false") {
		t.Errorf("vbguest workaround missing:\n%s", out)
	}

	out, _ = Render([]engine.InstanceSpec{spec("instance-1")}, machineCache)
	if strings.Contains(out, "vbguest") {
		t.Errorf("vbguest workaround applied to non-RHEL box:\n%s", out)
	}
}

func TestRender_DefaultProvider(t *testing.T) {
	s := spec("instance-1")
	s.Provider = ""

	out, err := Render([]engine.InstanceSpec{s}, engine.RenderSettings{Provider: "libvirt"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, `c.vm.provider "libvirt" do |libvirt, override|`) {
		t.Errorf("global provider not used:\n%s", out)
	}
}

func TestBlockVar(t *testing.T) {
	tests := map[string]string{
		"virtualbox":     "virtualbox",
		"vmware_desktop": "vmware_desktop",
		"hyper-v":        "hyper_v",
		"override":       "p",
		"9p":             "p",
	}
	for in, want := range tests {
		if got := blockVar(in); got != want {
			t.Errorf("blockVar(%q) = %q, want %q", in, got, want)
		}
	}
}
