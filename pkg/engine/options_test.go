package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestOptionsSetKeepsPosition(t *testing.T) {
	var o Options
	o.Set("a", 1)
	o.Set("b", true)
	o.Set("a", 2)

	if got := o.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v, want [a b]", got)
	}
	if v, _ := o.Get("a"); v != 2 {
		t.Errorf("Get(a) = %v, want 2", v)
	}
}

func TestMerge(t *testing.T) {
	defaults := DefaultConfigOptions()
	overrides := Options{
		{Key: "vm.boot_timeout", Value: 600},
		{Key: OptionSyncedFolder, Value: true},
	}

	got := Merge(defaults, overrides)
	want := Options{
		{Key: OptionSyncedFolder, Value: true},
		{Key: OptionInsertKey, Value: true},
		{Key: "vm.boot_timeout", Value: 600},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v, want %v", got, want)
	}

	// defaults must not be mutated
	if v, _ := defaults.Get(OptionSyncedFolder); v != false {
		t.Errorf("Merge() mutated defaults: %v", defaults)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"scalars", Options{{"a", 1}, {"b", "x"}, {"c", true}, {"d", 1.5}}, false},
		{"empty key", Options{{"", 1}}, true},
		{"nested map", Options{{"a", map[string]interface{}{"b": 1}}}, true},
		{"nil value", Options{{"a", nil}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptionsYAMLKeepsOrder(t *testing.T) {
	src := `
zeta: 1
alpha: "'quoted'"
mid: true
ratio: 0.5
whole: 2.0
`
	var o Options
	if err := yaml.Unmarshal([]byte(src), &o); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := Options{
		{Key: "zeta", Value: 1},
		{Key: "alpha", Value: "'quoted'"},
		{Key: "mid", Value: true},
		{Key: "ratio", Value: 0.5},
		{Key: "whole", Value: 2.0},
	}
	if !reflect.DeepEqual(o, want) {
		t.Fatalf("Unmarshal() = %#v, want %#v", o, want)
	}

	out, err := yaml.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var again Options
	if err := yaml.Unmarshal(out, &again); err != nil {
		t.Fatalf("Unmarshal() of marshaled output error = %v", err)
	}
	if !reflect.DeepEqual(again, want) {
		t.Errorf("YAML output did not preserve options: %s", out)
	}
}

func TestOptionsYAMLRejectsNested(t *testing.T) {
	tests := []string{
		"a:\n  b: 1\n",
		"a: [1, 2]\n",
		"a: ~\n",
		"- 1\n- 2\n",
	}
	for _, src := range tests {
		var o Options
		if err := yaml.Unmarshal([]byte(src), &o); err == nil {
			t.Errorf("Unmarshal(%q) should fail", src)
		}
	}
}

func TestOptionsJSONKeepsOrder(t *testing.T) {
	o := Options{{"b", 1}, {"a", "x"}}
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(data); got != `{"b":1,"a":"x"}` {
		t.Errorf("Marshal() = %s", got)
	}

	empty, _ := json.Marshal(Options{})
	if !strings.HasPrefix(string(empty), "{") {
		t.Errorf("empty options should marshal as object, got %s", empty)
	}
}
