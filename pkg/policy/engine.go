package policy

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// DefaultMinMemory is exposed to policies as data.boxctl.settings.min_memory.
const DefaultMinMemory = 256

// Engine checks normalized instances against compiled Rego policies before
// anything is written or run. It implements engine.PolicyChecker.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

var _ engine.PolicyChecker = (*Engine)(nil)

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine with the built-in policies registered.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]interface{}{
			"boxctl": map[string]interface{}{
				"settings": map[string]interface{}{"min_memory": DefaultMinMemory},
			},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range GetBuiltinPolicies() {
		if err := e.AddPolicy(context.Background(), p); err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Check runs every enabled policy in name order. A policy that fails to
// evaluate aborts the check; violations are never dropped.
func (e *Engine) Check(ctx context.Context, instances []engine.InstanceSpec) (*engine.PolicyReport, error) {
	input, err := toInput(instances)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	report := &engine.PolicyReport{Violations: []engine.PolicyViolation{}}
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		violations, err := cp.eval(ctx, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		report.Violations = append(report.Violations, violations...)
	}

	e.logger.Debug().
		Int("instances", len(instances)).
		Int("violations", len(report.Violations)).
		Dur("duration", time.Since(start)).
		Msg("Policy check completed")
	return report, nil
}

// LoadPolicies loads and compiles the policies under paths. A loaded policy
// replaces a registered one of the same name, built-ins included.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if err := e.AddPolicy(ctx, p); err != nil {
			return fmt.Errorf("policy %s (%s): %w", p.Name, p.Source, err)
		}
	}
	e.logger.Info().Int("count", len(policies)).Msg("Loaded policy files")
	return nil
}

// AddPolicy compiles p and registers it under its name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	if p.Severity == "" {
		p.Severity = engine.SeverityWarning
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy: %w", err)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: &p, query: query}
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Stringer("package", module.Package.Path).Msg("Policy compiled")
	return nil
}

// GetPolicy returns a registered policy.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns the registered policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

func (e *Engine) EnablePolicy(name string) error  { return e.setEnabled(name, true) }
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// eval runs the deny query and returns its elements ordered by instance and
// message, so reports do not depend on set iteration order.
func (cp *compiledPolicy) eval(ctx context.Context, input map[string]interface{}) ([]engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		for _, expr := range result.Expressions {
			deny, _ := expr.Value.([]interface{})
			for _, d := range deny {
				violations = append(violations, toViolation(cp.policy, d))
			}
		}
	}
	slices.SortStableFunc(violations, func(a, b engine.PolicyViolation) int {
		return cmp.Or(cmp.Compare(a.Instance, b.Instance), cmp.Compare(a.Message, b.Message))
	})
	return violations, nil
}

// toViolation decodes one deny element: a message string or an object with
// message, instance, rule and severity keys.
func toViolation(p *Policy, elem interface{}) engine.PolicyViolation {
	v := engine.PolicyViolation{Policy: p.Name, Severity: p.Severity}

	obj, ok := elem.(map[string]interface{})
	if !ok {
		if msg, isString := elem.(string); isString {
			v.Message = msg
		} else {
			v.Message = fmt.Sprint(elem)
		}
		return v
	}

	field := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}
	v.Message = field("message")
	v.Instance = field("instance")
	v.Rule = field("rule")
	switch sev := engine.Severity(field("severity")); sev {
	case engine.SeverityInfo, engine.SeverityWarning, engine.SeverityError, engine.SeverityCritical:
		v.Severity = sev
	}
	return v
}

// toInput round-trips instances through JSON so policies see the same field
// names as the history and status output.
func toInput(instances []engine.InstanceSpec) (map[string]interface{}, error) {
	data, err := json.Marshal(Input{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return input, nil
}
