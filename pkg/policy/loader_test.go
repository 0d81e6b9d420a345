package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/boxctl/pkg/engine"
)

const testRego = `# Boxes must come from the team namespace.
# Applies to every instance.
package team.boxes

import rego.v1

deny contains msg if {
	some inst in input.instances
	not startswith(inst.box, "team/")
	msg := sprintf("box %s is not a team box", [inst.box])
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "team-boxes.rego")
	writeFile(t, policyFile, testRego)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "team-boxes" {
		t.Errorf("Expected name 'team-boxes', got '%s'", policy.Name)
	}
	if policy.Rego != testRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Boxes must come from the team namespace. Applies to every instance." {
		t.Errorf("Description = %q", policy.Description)
	}
	if !policy.Enabled || policy.Severity != engine.SeverityWarning {
		t.Errorf("policy defaults = enabled %t severity %s", policy.Enabled, policy.Severity)
	}
	if policy.Source != policyFile {
		t.Errorf("Source = %s", policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := []struct {
		name     string
		doc      map[string]interface{}
		wantErr  bool
		wantName string
		wantSev  engine.Severity
	}{
		{
			name:     "full",
			doc:      map[string]interface{}{"name": "boxes", "rego": testRego, "severity": "error"},
			wantName: "boxes",
			wantSev:  engine.SeverityError,
		},
		{
			name:     "name from file",
			doc:      map[string]interface{}{"rego": testRego},
			wantName: "name from file",
			wantSev:  engine.SeverityWarning,
		},
		{
			name:    "missing rego",
			doc:     map[string]interface{}{"name": "empty"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.doc)
			if err != nil {
				t.Fatalf("Failed to marshal policy: %v", err)
			}
			path := filepath.Join(dir, tt.name+".json")
			writeFile(t, path, string(data))

			policy, err := loader.loadFromFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadFromFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if policy.Name != tt.wantName || policy.Severity != tt.wantSev || !policy.Enabled {
				t.Errorf("policy = %+v", policy)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "team.yaml")
	writeFile(t, path, "name: team-boxes\nseverity: error\nenabled: false\nrego: |\n"+indent(testRego))

	policy, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if policy.Name != "team-boxes" || policy.Severity != engine.SeverityError || policy.Enabled {
		t.Errorf("policy = %+v", policy)
	}
	if policy.Rego != testRego {
		t.Errorf("Rego = %q", policy.Rego)
	}
	if policy.Source != path {
		t.Errorf("Source = %s", policy.Source)
	}
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		if line != "" && line != "\n" {
			b.WriteString("  ")
		}
		b.WriteString(line)
	}
	return b.String()
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "b.rego"), testRego)
	writeFile(t, filepath.Join(dir, "nested", "a.rego"), testRego)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("LoadFromPaths() loaded %d policies, want 2", len(policies))
	}
	if policies[0].Name != "b" || policies[1].Name != "a" {
		t.Errorf("policies loaded out of lexical path order: %s, %s", policies[0].Name, policies[1].Name)
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope.rego")})
	if err == nil {
		t.Error("LoadFromPaths() should fail for a missing path")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "team-boxes.rego"), testRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	report, err := eng.Check(context.Background(), []engine.InstanceSpec{instance("instance-1", 512)})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("Check() violations = %+v", report.Violations)
	}
	v := report.Violations[0]
	if v.Policy != "team-boxes" || v.Message != "box generic/alpine310 is not a team box" || v.Severity != engine.SeverityWarning {
		t.Errorf("violation = %+v", v)
	}

	writeFile(t, filepath.Join(dir, "zz-broken.rego"), "package broken\n\nimport rego.v1\n\ndeny contains msg if {")
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Error("LoadPolicies() should fail on a policy that does not compile")
	}
}
