package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// ScenarioSchema is the name of the built-in scenario schema.
const ScenarioSchema = "scenario"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(ScenarioSchema, builtinScenarioSchema, "#Scenario"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers the definition at path under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition %s: %w", name, definition, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context returns the CUE context the schemas were compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema validates data against a named schema.
// Null values are dropped first; they mean "not set".
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(pruneNulls(data))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateNode validates a decoded YAML document against a named schema.
func (sr *SchemaRegistry) ValidateNode(schemaName string, node *yaml.Node) error {
	var data interface{}
	if err := node.Decode(&data); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return sr.ValidateAgainstSchema(schemaName, data)
}

// pruneNulls drops nil map entries and stringifies non-string keys.
func pruneNulls(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[k] = pruneNulls(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[fmt.Sprint(k)] = pruneNulls(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = pruneNulls(item)
		}
		return out
	default:
		return v
	}
}

const builtinScenarioSchema = `
// Option values are scalars; nesting is not allowed.
#Option: bool | string | number

#Options: {[string]: #Option}

// Network attachment: the vagrant network identifier plus keyword options.
#Network: {
	network_name: string & !=""
	[string]: #Option
}

#Args: [...string]

#Instance: {
	name:                        string & !=""
	hostname?:                   string | bool
	interfaces?:                 [...#Network]
	instance_raw_config_args?:   #Args
	config_options?:             #Options
	box?:                        string
	box_version?:                string
	box_url?:                    string
	box_download_checksum?:      string
	box_download_checksum_type?: string
	memory?:                     int & >0
	cpus?:                       int & >0
	provider_options?:           #Options
	provider_raw_config_args?:   #Args
	provider_override_args?:     #Args
}

#Scenario: {
	workdir?:   string
	instances?: [...#Instance]

	// single-instance form
	instance_name?:                       string & !=""
	instance_interfaces?:                 [...#Network]
	instance_raw_config_args?:            #Args
	platform_box?:                        string
	platform_box_version?:                string
	platform_box_url?:                    string
	platform_box_download_checksum?:      string
	platform_box_download_checksum_type?: string
	provider_memory?:                     int & >0
	provider_cpus?:                       int & >0
	provider_options?:                    #Options
	provider_raw_config_args?:            #Args
	provider_override_args?:              #Args
	config_options?:                      #Options

	default_box?:   string
	provider_name?: string & !=""
	cachier?:       "machine" | "box" | "disabled"
	state?:         "up" | "halt" | "destroy"
	force_stop?:    bool
	provision?:     bool
	parallel?:      bool
}
`
