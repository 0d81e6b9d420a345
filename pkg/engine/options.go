package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Option is a single key/value pair of an Options list.
type Option struct {
	Key   string
	Value interface{}
}

// Options is an ordered key/value map. Keys keep first-seen order and a later
// write to an existing key replaces its value in place, so rendering the same
// Options always yields the same text.
//
// Values are scalars: bool, string, int, int64, uint64 or float64.
type Options []Option

// Get returns the value stored under key.
func (o Options) Get(key string) (interface{}, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Set stores value under key, replacing an existing entry in place.
func (o *Options) Set(key string, value interface{}) {
	for i := range *o {
		if (*o)[i].Key == key {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, Option{Key: key, Value: value})
}

// Keys returns the keys in stored order.
func (o Options) Keys() []string {
	keys := make([]string, len(o))
	for i, opt := range o {
		keys[i] = opt.Key
	}
	return keys
}

// Clone returns a copy that shares no backing array with o.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	copy(out, o)
	return out
}

// Merge returns defaults overlaid with overrides. Override values win; keys
// present in defaults keep their position, new keys are appended in override order.
func Merge(defaults, overrides Options) Options {
	out := make(Options, 0, len(defaults)+len(overrides))
	out = append(out, defaults...)
	for _, opt := range overrides {
		out.Set(opt.Key, opt.Value)
	}
	return out
}

// IsScalar reports whether v is a value Options can hold.
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case bool, string, int, int64, uint64, float64:
		return true
	default:
		return false
	}
}

// Validate checks that every value is a scalar and no key is empty.
func (o Options) Validate() error {
	for _, opt := range o {
		if opt.Key == "" {
			return fmt.Errorf("option key must not be empty")
		}
		if !IsScalar(opt.Value) {
			return fmt.Errorf("option %q: value must be a bool, string or number, got %T", opt.Key, opt.Value)
		}
	}
	return nil
}

// UnmarshalYAML decodes a mapping node while keeping key order.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*o = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping, got %s", node.Line, kindName(node.Kind))
	}

	out := make(Options, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		value, err := decodeScalar(valNode)
		if err != nil {
			return fmt.Errorf("option %q: %w", keyNode.Value, err)
		}
		out.Set(keyNode.Value, value)
	}
	*o = out
	return nil
}

// MarshalYAML encodes the options as a mapping node in stored order.
func (o Options) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, opt := range o {
		valNode, err := encodeScalar(opt.Value)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", opt.Key, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: opt.Key},
			valNode,
		)
	}
	return node, nil
}

// MarshalJSON encodes the options as a JSON object in stored order.
func (o Options) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, opt := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(opt.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(opt.Value)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", opt.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeScalar(v interface{}) (*yaml.Node, error) {
	// yaml.v3 writes a whole float64 as 2, which reads back as an int.
	if f, ok := v.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(f, 'f', 1, 64)}, nil
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return node, nil
}

func decodeScalar(node *yaml.Node) (interface{}, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: value must be a scalar, got %s", node.Line, kindName(node.Kind))
	}
	if node.Tag == "!!null" {
		return nil, fmt.Errorf("line %d: value must not be null", node.Line)
	}
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
