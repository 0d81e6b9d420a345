package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/vagrant"
)

const testScenario = `
instances:
  - name: instance-1
    box: ${BOX}
  - name: instance-2
    box: debian/bookworm64
    memory: 1024
provider_name: virtualbox
`

// fakeVagrant answers vagrant subcommands for a fixed set of machines.
type fakeVagrant struct {
	names []string

	// states is consumed one entry per status call; the last entry repeats.
	states []string

	validateRC     int
	validateStderr string

	calls []string
}

func (f *fakeVagrant) Run(ctx context.Context, c vagrant.Command) (*vagrant.Output, error) {
	f.calls = append(f.calls, strings.Join(c.Args, " "))

	switch c.Args[0] {
	case "validate":
		return &vagrant.Output{ExitCode: f.validateRC, Stderr: f.validateStderr}, nil

	case "status":
		state := "not_created"
		if len(f.states) > 0 {
			state = f.states[0]
			if len(f.states) > 1 {
				f.states = f.states[1:]
			}
		}
		var out strings.Builder
		for _, name := range f.names {
			fmt.Fprintf(&out, "1,%s,metadata,provider,virtualbox\n", name)
			fmt.Fprintf(&out, "1,%s,state,%s\n", name, state)
		}
		return &vagrant.Output{Stdout: out.String()}, nil

	case "ssh-config":
		name := c.Args[1]
		return &vagrant.Output{Stdout: fmt.Sprintf(
			"Host %s\n  HostName 127.0.0.1\n  User vagrant\n  Port 2222\n  IdentityFile /keys/%s\n", name, name)}, nil
	}
	return &vagrant.Output{}, nil
}

func (f *fakeVagrant) invoked(sub string) bool {
	for _, c := range f.calls {
		if c == sub || strings.HasPrefix(c, sub+" ") {
			return true
		}
	}
	return false
}

// cli runs boxctl against a fake vagrant with history in a temp database.
type cli struct {
	t       *testing.T
	vagrant *fakeVagrant
	workdir string
	history string
	env     map[string]string
}

func newCLI(t *testing.T, fake *fakeVagrant) *cli {
	t.Helper()
	dir := t.TempDir()
	return &cli{
		t:       t,
		vagrant: fake,
		workdir: filepath.Join(dir, "work"),
		history: filepath.Join(dir, "history.db"),
		env:     map[string]string{},
	}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()

	vagrantRunner = c.vagrant
	lookupEnv = func(key string) (string, bool) {
		v, ok := c.env[key]
		return v, ok
	}
	c.t.Cleanup(func() {
		vagrantRunner = nil
		lookupEnv = os.LookupEnv
	})

	root := newRootCommand("test", "none", "today")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-level", "error", "--history-db", c.history}, args...))

	err := execute(context.Background(), root)
	return stdout.String(), err
}

func (c *cli) scenario(content string) string {
	c.t.Helper()
	path := filepath.Join(c.t.TempDir(), "molecule.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		c.t.Fatalf("failed to write scenario: %v", err)
	}
	return path
}

func decode(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
}

func TestUpCommand(t *testing.T) {
	fake := &fakeVagrant{names: []string{"instance-1", "instance-2"}, states: []string{"not_created", "running"}}
	c := newCLI(t, fake)
	path := c.scenario(testScenario)

	out, err := c.run("", "up", "-f", path, "--workdir", c.workdir, "--var", "BOX=generic/alpine318")
	if err != nil {
		t.Fatalf("up error = %v\n%s", err, out)
	}

	var result engine.Result
	decode(t, out, &result)
	if !result.Changed || result.Operation != engine.OperationUp {
		t.Errorf("result = %+v", result)
	}
	if len(result.Instances) != 2 || result.Instances[0].Name != "instance-1" || result.Instances[0].Port != "2222" {
		t.Fatalf("instances = %+v", result.Instances)
	}
	if !fake.invoked("up") {
		t.Errorf("vagrant up not invoked: %v", fake.calls)
	}

	vagrantfile, err := os.ReadFile(filepath.Join(c.workdir, "Vagrantfile"))
	if err != nil {
		t.Fatalf("Vagrantfile not written: %v", err)
	}
	if !strings.Contains(string(vagrantfile), "generic/alpine318") {
		t.Errorf("scenario variable not expanded:\n%s", vagrantfile)
	}

	out, err = c.run("", "history", "list")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var runs []engine.RunRecord
	decode(t, out, &runs)
	if len(runs) != 1 || runs[0].ID != result.RunID || runs[0].Status != engine.RunStatusSucceeded || !runs[0].Changed {
		t.Fatalf("runs = %+v", runs)
	}

	out, err = c.run("", "history", "show", result.RunID[:8])
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	var run engine.RunRecord
	decode(t, out, &run)
	if run.ID != result.RunID || len(run.Instances) != 2 {
		t.Errorf("run = %+v", run)
	}
}

func TestUpCommandAlreadyRunning(t *testing.T) {
	fake := &fakeVagrant{names: []string{"instance-1", "instance-2"}, states: []string{"running"}}
	c := newCLI(t, fake)

	out, err := c.run("", "up", "-f", c.scenario(testScenario), "--workdir", c.workdir, "--no-history")
	if err != nil {
		t.Fatalf("up error = %v", err)
	}
	var result engine.Result
	decode(t, out, &result)
	if result.Changed {
		t.Error("changed should be false when every instance is running")
	}
	if fake.invoked("up") {
		t.Errorf("vagrant up invoked: %v", fake.calls)
	}
}

func TestHaltAndDestroyCommands(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		state       string
		wantChanged bool
		wantCalls   []string
	}{
		{
			name:        "halt running",
			args:        []string{"halt"},
			state:       "running",
			wantChanged: true,
			wantCalls:   []string{"halt"},
		},
		{
			name:        "force halt",
			args:        []string{"halt", "--force"},
			state:       "running",
			wantChanged: true,
			wantCalls:   []string{"halt --force"},
		},
		{
			name:  "halt nothing running",
			args:  []string{"halt"},
			state: "poweroff",
		},
		{
			name:        "destroy with force stop",
			args:        []string{"destroy", "--force-stop"},
			state:       "poweroff",
			wantChanged: true,
			wantCalls:   []string{"halt --force", "destroy --force"},
		},
		{
			name:  "destroy nothing created",
			args:  []string{"destroy"},
			state: "not_created",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeVagrant{names: []string{"instance-1", "instance-2"}, states: []string{tt.state}}
			c := newCLI(t, fake)
			args := append(tt.args, "-f", c.scenario(testScenario), "--workdir", c.workdir, "--var", "BOX=b")

			out, err := c.run("", args...)
			if err != nil {
				t.Fatalf("error = %v\n%s", err, out)
			}
			var result engine.Result
			decode(t, out, &result)
			if result.Changed != tt.wantChanged {
				t.Errorf("changed = %t, want %t", result.Changed, tt.wantChanged)
			}
			for _, call := range tt.wantCalls {
				if !fake.invoked(call) {
					t.Errorf("%q not invoked: %v", call, fake.calls)
				}
			}
			if len(tt.wantCalls) == 0 && (fake.invoked("halt") || fake.invoked("destroy")) {
				t.Errorf("unexpected lifecycle call: %v", fake.calls)
			}
		})
	}
}

func TestLifecycleFailureDocument(t *testing.T) {
	fake := &fakeVagrant{
		names:          []string{"instance-1"},
		validateRC:     1,
		validateStderr: "The box 'nope' could not be found.",
	}
	c := newCLI(t, fake)
	scenario := c.scenario("instances:\n  - name: instance-1\n    box: nope\n")

	out, err := c.run("", "up", "-f", scenario, "--workdir", c.workdir)
	if !engine.IsValidation(err) {
		t.Fatalf("error = %v, want validation error", err)
	}

	var doc failureDocument
	decode(t, out, &doc)
	if !doc.Failed || doc.Class != "validation" || doc.Code != engine.ErrCodeValidateFailed {
		t.Errorf("failure = %+v", doc)
	}
	if doc.Cmd != "vagrant validate" || doc.RC == nil || *doc.RC != 1 || !strings.Contains(doc.Stderr, "could not be found") {
		t.Errorf("failure command = %q rc=%v stderr=%q", doc.Cmd, doc.RC, doc.Stderr)
	}
	if fake.invoked("status") {
		t.Error("status must not run after a validation failure")
	}

	out, err = c.run("", "history", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var runs []engine.RunRecord
	decode(t, out, &runs)
	if len(runs) != 1 || runs[0].ErrorCode != engine.ErrCodeValidateFailed {
		t.Errorf("runs = %+v", runs)
	}
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		args     []string
		wantCode string
	}{
		{
			name:     "no workdir",
			scenario: "instances:\n  - name: a\n    box: b\n",
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name:     "checksum without type",
			scenario: "instances:\n  - name: a\n    box: b\n    box_download_checksum: abc\n",
			args:     []string{"--workdir", "WORKDIR"},
			wantCode: engine.ErrCodeChecksumPair,
		},
		{
			name:     "duplicate names",
			scenario: "instances:\n  - name: a\n    box: b\n  - name: a\n    box: b\n",
			args:     []string{"--workdir", "WORKDIR"},
			wantCode: engine.ErrCodeDuplicateName,
		},
		{
			name:     "both parameter forms",
			scenario: "instance_name: a\ninstances:\n  - name: a\n    box: b\n",
			args:     []string{"--workdir", "WORKDIR"},
			wantCode: engine.ErrCodeInvalidParams,
		},
		{
			name:     "bad var",
			scenario: "instances:\n  - name: a\n    box: b\n",
			args:     []string{"--workdir", "WORKDIR", "--var", "novalue"},
			wantCode: engine.ErrCodeInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeVagrant{}
			c := newCLI(t, fake)
			args := []string{"up", "-f", c.scenario(tt.scenario), "--no-history"}
			for _, a := range tt.args {
				args = append(args, strings.ReplaceAll(a, "WORKDIR", c.workdir))
			}

			out, err := c.run("", args...)
			if !engine.IsConfiguration(err) {
				t.Fatalf("error = %v, want configuration error", err)
			}
			var doc failureDocument
			decode(t, out, &doc)
			if doc.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", doc.Code, tt.wantCode)
			}
			if len(fake.calls) != 0 {
				t.Errorf("vagrant ran after a configuration error: %v", fake.calls)
			}
			if _, err := os.Stat(filepath.Join(c.workdir, "Vagrantfile")); !errors.Is(err, os.ErrNotExist) {
				t.Error("nothing may be written after a configuration error")
			}
		})
	}
}

func TestWorkdirFromEnvironment(t *testing.T) {
	fake := &fakeVagrant{names: []string{"instance-1"}, states: []string{"not_created"}}
	c := newCLI(t, fake)
	c.env["MOLECULE_EPHEMERAL_DIRECTORY"] = c.workdir

	_, err := c.run("", "destroy", "-f", c.scenario("instances:\n  - name: instance-1\n    box: b\n"), "--no-history")
	if err != nil {
		t.Fatalf("destroy error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.workdir, "Vagrantfile")); err != nil {
		t.Errorf("Vagrantfile not written to the environment workdir: %v", err)
	}
}

func TestLegacyScenarioFromStdin(t *testing.T) {
	fake := &fakeVagrant{names: []string{"legacy"}, states: []string{"not_created", "running"}}
	c := newCLI(t, fake)

	stdin := "instance_name: legacy\nplatform_box: debian/bookworm64\n"
	out, err := c.run(stdin, "up", "-f", "-", "--workdir", c.workdir, "--no-history")
	if err != nil {
		t.Fatalf("up error = %v\n%s", err, out)
	}

	var result engine.Result
	decode(t, out, &result)
	if result.Instance == nil || result.Instance.Name != "legacy" || len(result.Instances) != 0 {
		t.Errorf("legacy result = %+v", result)
	}
	if len(result.Deprecations) == 0 {
		t.Error("legacy form must report a deprecation")
	}
	if _, err := os.Stat(filepath.Join(c.workdir, "vagrant-legacy.err")); err != nil {
		t.Errorf("legacy log file missing: %v", err)
	}
}

func TestRenderCommand(t *testing.T) {
	fake := &fakeVagrant{}
	c := newCLI(t, fake)

	out, err := c.run("", "render", "-f", c.scenario(testScenario), "--workdir", c.workdir, "--var", "BOX=b")
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	var rendered engine.RenderedConfig
	decode(t, out, &rendered)
	if rendered.VagrantfilePath != filepath.Join(c.workdir, "Vagrantfile") {
		t.Errorf("vagrantfile = %s", rendered.VagrantfilePath)
	}
	for _, path := range []string{rendered.VagrantfilePath, rendered.InstancesPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not written: %v", path, err)
		}
	}
	if len(fake.calls) != 0 {
		t.Errorf("render must not run vagrant: %v", fake.calls)
	}

	if _, err := c.run("", "render", "-f", "-", "--watch", "--workdir", c.workdir); !engine.IsConfiguration(err) {
		t.Errorf("--watch on stdin error = %v, want configuration error", err)
	}
}

func TestValidateCommand(t *testing.T) {
	fake := &fakeVagrant{}
	c := newCLI(t, fake)
	scenario := c.scenario("instances:\n  - name: Web_1\n    box: b\n    memory: 128\n")

	out, err := c.run("", "validate", "-f", scenario, "--workdir", c.workdir)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var result validateOutput
	decode(t, out, &result)
	if !result.Valid || len(result.Instances) != 1 || result.Instances[0] != "Web_1" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %v, want hostname and memory warnings", result.Warnings)
	}
	if strings.Join(fake.calls, ",") != "validate" {
		t.Errorf("calls = %v", fake.calls)
	}
}

func TestValidateCommandPolicyDenied(t *testing.T) {
	fake := &fakeVagrant{}
	c := newCLI(t, fake)

	policyPath := filepath.Join(t.TempDir(), "boxes.json")
	policyDoc := `{
  "name": "allowed-boxes",
  "severity": "error",
  "rego": "package custom.boxes\n\nimport rego.v1\n\ndeny contains v if {\n\tsome inst in input.instances\n\tnot startswith(inst.box, \"debian/\")\n\tv := {\"message\": sprintf(\"box %s is not allowed\", [inst.box]), \"instance\": inst.name}\n}\n"
}`
	if err := os.WriteFile(policyPath, []byte(policyDoc), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	scenario := c.scenario("instances:\n  - name: instance-1\n    box: generic/alpine318\n")

	out, err := c.run("", "validate", "-f", scenario, "--workdir", c.workdir, "--policy", policyPath)
	if err == nil {
		t.Fatalf("validate should fail\n%s", out)
	}
	var doc failureDocument
	decode(t, out, &doc)
	if doc.Code != engine.ErrCodePolicyDenied || doc.Instance != "instance-1" {
		t.Errorf("failure = %+v", doc)
	}
	if len(fake.calls) != 0 {
		t.Errorf("vagrant ran after a policy denial: %v", fake.calls)
	}
}

func TestStatusCommand(t *testing.T) {
	fake := &fakeVagrant{names: []string{"instance-1", "instance-2"}, states: []string{"running"}}
	c := newCLI(t, fake)

	if _, err := c.run("", "status", "--workdir", c.workdir); !engine.IsConfiguration(err) {
		t.Fatalf("status before render error = %v, want configuration error", err)
	}

	if _, err := c.run("", "render", "-f", c.scenario(testScenario), "--workdir", c.workdir, "--var", "BOX=b"); err != nil {
		t.Fatalf("render error = %v", err)
	}

	out, err := c.run("", "status", "--workdir", c.workdir, "--for", "destroy")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var status statusOutput
	decode(t, out, &status)
	if len(status.Instances) != 2 || status.Instances[0].State != engine.StateRunning {
		t.Errorf("instances = %+v", status.Instances)
	}
	if status.Diff == nil || status.Diff.Summary.Total != 2 || !status.Diff.HasChanges() {
		t.Errorf("diff = %+v", status.Diff)
	}
	if fake.invoked("validate") {
		t.Error("status without --file must not re-render")
	}

	if _, err := c.run("", "status", "--workdir", c.workdir, "--for", "reboot"); !engine.IsConfiguration(err) {
		t.Errorf("--for reboot error = %v, want configuration error", err)
	}
}

func TestHistoryCommands(t *testing.T) {
	fake := &fakeVagrant{names: []string{"instance-1"}, states: []string{"running"}}
	c := newCLI(t, fake)
	scenario := c.scenario("instances:\n  - name: instance-1\n    box: b\n")

	for i := 0; i < 3; i++ {
		if _, err := c.run("", "halt", "-f", scenario, "--workdir", c.workdir); err != nil {
			t.Fatalf("halt error = %v", err)
		}
	}

	out, err := c.run("", "history", "list", "-n", "2", "--operation", "halt")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var runs []engine.RunRecord
	decode(t, out, &runs)
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}

	if _, err := c.run("", "history", "show", "does-not-exist"); err == nil {
		t.Error("show of an unknown run should fail")
	}

	if _, err := c.run("", "history", "delete", runs[0].ID); err != nil {
		t.Fatalf("history delete error = %v", err)
	}

	out, err = c.run("", "history", "prune", "--keep", "1")
	if err != nil {
		t.Fatalf("history prune error = %v", err)
	}
	var pruned map[string]int64
	decode(t, out, &pruned)
	if pruned["deleted"] != 1 {
		t.Errorf("pruned = %v, want 1", pruned)
	}

	if _, err := c.run("", "history", "list", "--status", "unknown"); !engine.IsConfiguration(err) {
		t.Errorf("--status unknown error = %v, want configuration error", err)
	}
}

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", want: map[string]string{}},
		{name: "pairs", pairs: []string{"BOX=debian", "EMPTY="}, want: map[string]string{"BOX": "debian", "EMPTY": ""}},
		{name: "value with equals", pairs: []string{"OPTS=a=b"}, want: map[string]string{"OPTS": "a=b"}},
		{name: "later wins", pairs: []string{"A=1", "A=2"}, want: map[string]string{"A": "2"}},
		{name: "missing equals", pairs: []string{"BOX"}, wantErr: true},
		{name: "missing name", pairs: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVars(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseVars() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestFailureDocument(t *testing.T) {
	plain := newFailureDocument(errors.New("boom"))
	if !plain.Failed || plain.Msg != "boom" || plain.RC != nil {
		t.Errorf("plain = %+v", plain)
	}

	ee := engine.NewOperationalError("Failed to start instances", nil).
		WithCode(engine.ErrCodeUpFailed).
		WithFailure(&engine.Failure{Command: "vagrant up --no-provision", ExitCode: 1, Stderr: "boom"})
	doc := newFailureDocument(fmt.Errorf("run: %w", ee))
	if doc.Msg != "Failed to start instances" || doc.Class != "operational" || doc.Cmd != "vagrant up --no-provision" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.RC == nil || *doc.RC != 1 || doc.Stderr != "boom" {
		t.Errorf("doc failure = %+v", doc)
	}
}
