package config

import (
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/boxctl/pkg/engine"
)

func boolPtr(b bool) *bool { return &b }

func TestNormalizer_ListForm(t *testing.T) {
	params := &Params{
		Instances: []RawInstance{
			{
				Name: "instance-1",
				Interfaces: []RawNetwork{
					{Name: "private_network", Options: engine.Options{{Key: "ip", Value: "192.168.56.10"}}},
				},
				ConfigOptions: engine.Options{
					{Key: "vm.boot_timeout", Value: 600},
					{Key: engine.OptionSyncedFolder, Value: true},
				},
			},
			{
				Name:     "instance-2",
				Box:      "generic/alpine318",
				Memory:   2048,
				CPUs:     4,
				Hostname: Hostname{Name: "db.local"},
			},
		},
		DefaultBox: "debian/bookworm64",
		Provision:  true,
		Parallel:   boolPtr(false),
	}

	got, err := NewNormalizer().Normalize(params)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if got.Legacy || len(got.Deprecations) != 0 {
		t.Errorf("list form flagged as legacy: %+v", got)
	}
	if got.Operation != engine.OperationUp {
		t.Errorf("Operation = %s, want up", got.Operation)
	}
	if got.Settings.Provider != engine.DefaultProvider || got.Settings.Caching != engine.CachingMachine {
		t.Errorf("Settings = %+v", got.Settings)
	}
	if got.Parallel {
		t.Error("Parallel should follow the parameter")
	}

	want := []engine.InstanceSpec{
		{
			Name:     "instance-1",
			Box:      "debian/bookworm64",
			CPUs:     engine.DefaultCPUs,
			Memory:   engine.DefaultMemory,
			Provider: engine.DefaultProvider,
			Networks: []engine.Network{
				{Kind: "private_network", Options: engine.Options{{Key: "ip", Value: "192.168.56.10"}}},
			},
			ConfigOptions: engine.Options{
				{Key: engine.OptionSyncedFolder, Value: true},
				{Key: engine.OptionInsertKey, Value: true},
				{Key: "vm.boot_timeout", Value: 600},
			},
			ProviderOptions: engine.Options{},
			Provision:       true,
		},
		{
			Name:            "instance-2",
			Hostname:        "db.local",
			Box:             "generic/alpine318",
			CPUs:            4,
			Memory:          2048,
			Provider:        engine.DefaultProvider,
			ConfigOptions:   engine.DefaultConfigOptions(),
			ProviderOptions: engine.Options{},
			Provision:       true,
		},
	}
	if !reflect.DeepEqual(got.Instances, want) {
		t.Errorf("Instances =\n%+v\nwant\n%+v", got.Instances, want)
	}
}

func TestNormalizer_LegacyForm(t *testing.T) {
	params := &Params{
		InstanceName:    "solo",
		PlatformBox:     "debian/bookworm64",
		ProviderMemory:  1024,
		ProviderOptions: engine.Options{{Key: "driver", Value: "qemu"}},
		ProviderName:    "libvirt",
		State:           "destroy",
		ForceStop:       true,
	}

	got, err := NewNormalizer().Normalize(params)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if !got.Legacy {
		t.Error("legacy form not flagged")
	}
	if len(got.Deprecations) != 1 || got.Deprecations[0] != LegacyDeprecation {
		t.Errorf("Deprecations = %v", got.Deprecations)
	}
	if got.Operation != engine.OperationDestroy || !got.ForceStop {
		t.Errorf("Operation = %s ForceStop = %t", got.Operation, got.ForceStop)
	}
	if len(got.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(got.Instances))
	}

	spec := got.Instances[0]
	if spec.Name != "solo" || spec.Memory != 1024 || spec.CPUs != engine.DefaultCPUs {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if spec.Provider != "libvirt" {
		t.Errorf("Provider = %s, want libvirt", spec.Provider)
	}
	if v, _ := spec.ProviderOptions.Get("driver"); v != "qemu" {
		t.Errorf("ProviderOptions = %v", spec.ProviderOptions)
	}

	req := got.Request("run-1", true)
	if !req.Legacy || req.RunID != "run-1" || !req.ProbeSSH || len(req.Instances) != 1 {
		t.Errorf("Request() = %+v", req)
	}
}

func TestNormalizer_Errors(t *testing.T) {
	tests := []struct {
		name     string
		params   *Params
		wantCode string
	}{
		{
			name:     "nil params",
			params:   nil,
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name:     "neither form",
			params:   &Params{DefaultBox: "debian/bookworm64"},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "both forms",
			params: &Params{
				Instances:    []RawInstance{{Name: "a", Box: "x"}},
				InstanceName: "b",
			},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "checksum without type",
			params: &Params{Instances: []RawInstance{
				{Name: "a", Box: "x", BoxDownloadChecksum: "abc123"},
			}},
			wantCode: engine.ErrCodeChecksumPair,
		},
		{
			name: "legacy checksum type without checksum",
			params: &Params{
				InstanceName:                    "a",
				PlatformBox:                     "x",
				PlatformBoxDownloadChecksumType: "sha256",
			},
			wantCode: engine.ErrCodeChecksumPair,
		},
		{
			name: "duplicate names",
			params: &Params{Instances: []RawInstance{
				{Name: "a", Box: "x"},
				{Name: "a", Box: "y"},
			}},
			wantCode: engine.ErrCodeDuplicateName,
		},
		{
			name:     "missing box",
			params:   &Params{Instances: []RawInstance{{Name: "a"}}},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name:     "missing name",
			params:   &Params{Instances: []RawInstance{{Box: "x"}}},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "bad state",
			params: &Params{
				Instances: []RawInstance{{Name: "a", Box: "x"}},
				State:     "reboot",
			},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "bad cachier",
			params: &Params{
				Instances: []RawInstance{{Name: "a", Box: "x"}},
				Cachier:   "always",
			},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "nested option value",
			params: &Params{Instances: []RawInstance{{
				Name:          "a",
				Box:           "x",
				ConfigOptions: engine.Options{{Key: "vm", Value: map[string]interface{}{"box": "y"}}},
			}}},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name: "negative memory",
			params: &Params{Instances: []RawInstance{
				{Name: "a", Box: "x", Memory: -1},
			}},
			wantCode: engine.ErrCodeInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNormalizer().Normalize(tt.params)
			if !engine.IsConfiguration(err) {
				t.Fatalf("Normalize() error = %v, want configuration error", err)
			}
			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Code != tt.wantCode {
				t.Errorf("Normalize() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestNormalizer_EmptyList(t *testing.T) {
	got, err := NewNormalizer().Normalize(&Params{Instances: []RawInstance{}})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(got.Instances) != 0 {
		t.Errorf("expected no instances, got %d", len(got.Instances))
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer()
	first, err := n.Normalize(&Params{
		Instances: []RawInstance{
			{
				Name:                    "instance-1",
				Box:                     "debian/bookworm64",
				BoxDownloadChecksum:     "abc123",
				BoxDownloadChecksumType: "sha256",
				Hostname:                Hostname{Disabled: true},
				Interfaces: []RawNetwork{
					{Name: "forwarded_port", Options: engine.Options{{Key: "guest", Value: 80}, {Key: "host", Value: 8080}}},
				},
				InstanceRawConfigArgs: []string{"vm.post_up_message = 'hi'"},
				ProviderOptions:       engine.Options{{Key: "linked_clone", Value: false}},
				ProviderOverrideArgs:  []string{"vm.synced_folder '.', '/src'"},
			},
			{Name: "instance-2", Box: "generic/alpine318", Memory: 256},
		},
		Provision: true,
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	second, err := n.Normalize(Denormalize(first.Instances, first.Settings))
	if err != nil {
		t.Fatalf("Normalize(Denormalize()) error = %v", err)
	}
	if !reflect.DeepEqual(first.Instances, second.Instances) {
		t.Errorf("normalization is not idempotent:\nfirst  %+v\nsecond %+v", first.Instances, second.Instances)
	}
	if first.Settings != second.Settings {
		t.Errorf("settings changed: %+v vs %+v", first.Settings, second.Settings)
	}
}
