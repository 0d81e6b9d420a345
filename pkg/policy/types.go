package policy

import (
	"github.com/openfroyo/boxctl/pkg/engine"
)

// Policy is a named Rego module. Every policy package exposes a `deny` set
// whose elements are either message strings or objects with message,
// instance, rule and severity fields.
type Policy struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Rego        string `json:"rego" yaml:"rego"`

	// Severity applies to violations that do not set their own.
	Severity engine.Severity `json:"severity" yaml:"severity"`
	Enabled  bool            `json:"enabled" yaml:"enabled"`

	// Source is the file the policy came from, empty for built-ins.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Input is the document policies see as `input`.
type Input struct {
	Instances []engine.InstanceSpec `json:"instances"`
}
