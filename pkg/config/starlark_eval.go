package config

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gopkg.in/yaml.v3"
)

// StarlarkEvaluator executes scenario scripts. The top-level globals of a
// script form the scenario document.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate runs script with vars predeclared as the env dict and returns the
// globals as a YAML mapping node. Globals starting with _ are private.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, vars map[string]string) (*yaml.Node, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "boxctl",
		Print: func(_ *starlark.Thread, msg string) {},
	}

	type outcome struct {
		node *yaml.Node
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		node, err := se.evaluateSync(thread, filename, script, vars)
		done <- outcome{node, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case out := <-done:
		return out.node, out.err
	}
}

// evaluateSync performs the actual Starlark evaluation synchronously.
func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, vars map[string]string) (*yaml.Node, error) {
	env := starlark.NewDict(len(vars))
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := env.SetKey(starlark.String(k), starlark.String(vars[k])); err != nil {
			return nil, err
		}
	}
	env.Freeze()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"env":    env,
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	names := make([]string, 0, len(globals))
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		// helper functions are not part of the document
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range names {
		node, err := toNode(globals[name])
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		doc.Content = append(doc.Content, scalarNode("!!str", name), node)
	}
	return doc, nil
}

// toNode converts a Starlark value to a YAML node, keeping dict insertion order.
func toNode(v starlark.Value) (*yaml.Node, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return scalarNode("!!null", "null"), nil
	case starlark.Bool:
		return scalarNode("!!bool", strconv.FormatBool(bool(val))), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return scalarNode("!!int", strconv.FormatInt(i, 10)), nil
	case starlark.Float:
		return scalarNode("!!float", strconv.FormatFloat(float64(val), 'g', -1, 64)), nil
	case starlark.String:
		return scalarNode("!!str", string(val)), nil
	case *starlark.List:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i := 0; i < val.Len(); i++ {
			item, err := toNode(val.Index(i))
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, item)
		}
		return seq, nil
	case starlark.Tuple:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range val {
			item, err := toNode(elem)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, item)
		}
		return seq, nil
	case *starlark.Dict:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := toNode(item[1])
			if err != nil {
				return nil, err
			}
			m.Content = append(m.Content, scalarNode("!!str", string(key)), value)
		}
		return m, nil
	case *starlarkstruct.Struct:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := toNode(attr)
			if err != nil {
				return nil, err
			}
			m.Content = append(m.Content, scalarNode("!!str", name), value)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
