package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Loader reads scenario files into Params. YAML, CUE and Starlark sources are
// supported; every document is checked against the scenario schema.
type Loader struct {
	schemas  *SchemaRegistry
	starlark *StarlarkEvaluator
}

// NewLoader creates a Loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		starlark: NewStarlarkEvaluator(10 * time.Second),
	}
}

// Load reads the scenario at path. vars feed ${NAME} references in YAML
// and the env dict in Starlark.
func (l *Loader) Load(ctx context.Context, path string, vars map[string]string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read scenario %s", path), err).
			WithCode(engine.ErrCodeInvalidParams)
	}
	return l.Parse(ctx, path, data, vars)
}

// Parse decodes scenario bytes. The format is taken from the filename extension.
func (l *Loader) Parse(ctx context.Context, filename string, data []byte, vars map[string]string) (*Params, error) {
	var (
		node *yaml.Node
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yml", ".yaml", "":
		node, err = l.parseYAML(data, vars)
	case ".cue":
		node, err = l.parseCUE(filename, data)
	case ".star", ".starlark":
		node, err = l.starlark.Evaluate(ctx, filepath.Base(filename), string(data), vars)
	default:
		err = fmt.Errorf("unsupported scenario format %q", ext)
	}
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse scenario %s", filename), err).
			WithCode(engine.ErrCodeInvalidParams)
	}

	if err := l.schemas.ValidateNode(ScenarioSchema, node); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("scenario %s does not match the schema", filename), err).
			WithCode(engine.ErrCodeInvalidParams)
	}

	var params Params
	if err := node.Decode(&params); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to decode scenario %s", filename), err).
			WithCode(engine.ErrCodeInvalidParams)
	}
	return &params, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandVars replaces ${NAME} with vars[NAME]. Unknown names are left as is.
func ExpandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := vars[m[2:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func (l *Loader) parseYAML(data []byte, vars map[string]string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(ExpandVars(string(data), vars)), &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, fmt.Errorf("scenario is empty")
	}
	return &doc, nil
}

// parseCUE evaluates a CUE scenario unified with #Scenario and re-reads the
// exported JSON as YAML to keep field order.
func (l *Loader) parseCUE(filename string, data []byte) (*yaml.Node, error) {
	val := l.schemas.Context().CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}

	schema, ok := l.schemas.GetSchema(ScenarioSchema)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", ScenarioSchema)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, err
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
