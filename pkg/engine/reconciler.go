package engine

import (
	"context"
	"fmt"
)

// Reconciler compares live instance state against the declared instances.
// It holds no state between calls: every Status call re-queries vagrant.
type Reconciler struct {
	source StatusSource
}

// NewReconciler creates a reconciler reading live state from source.
func NewReconciler(source StatusSource) *Reconciler {
	return &Reconciler{source: source}
}

// Status returns one LiveInstanceStatus per spec, in spec order, from a single
// status query. A spec vagrant does not report is not_created.
func (r *Reconciler) Status(ctx context.Context, specs []InstanceSpec) ([]LiveInstanceStatus, error) {
	live, res, err := r.source.Status(ctx)
	if err != nil {
		return nil, NewQueryError("failed to query instance status", err).
			WithCode(ErrCodeStatusFailed).
			WithOperation("status")
	}
	if res.Failed() {
		return nil, NewQueryError("failed to query instance status", nil).
			WithCode(ErrCodeStatusFailed).
			WithOperation("status").
			WithFailure(res.Failure(res.Stderr))
	}

	byName := make(map[string]LiveInstanceStatus, len(live))
	for _, s := range live {
		byName[s.Name] = s
	}

	statuses := make([]LiveInstanceStatus, 0, len(specs))
	for _, spec := range specs {
		s, ok := byName[spec.Name]
		if !ok {
			s = LiveInstanceStatus{
				Name:     spec.Name,
				State:    StateNotCreated,
				Provider: spec.Provider,
			}
		}
		if s.Provider == "" {
			s.Provider = spec.Provider
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// RunningCount returns the number of running instances.
func RunningCount(statuses []LiveInstanceStatus) int {
	n := 0
	for _, s := range statuses {
		if s.State == StateRunning {
			n++
		}
	}
	return n
}

// CreatedCount returns the number of instances that exist in any state.
func CreatedCount(statuses []LiveInstanceStatus) int {
	n := 0
	for _, s := range statuses {
		if s.State.IsCreated() {
			n++
		}
	}
	return n
}

// Decide computes whether op changes anything given the live statuses of
// total declared instances. Up is gated on the running count only; the
// bring-up itself targets every declared instance.
func Decide(op Operation, statuses []LiveInstanceStatus, total int) (Decision, error) {
	var changed bool
	switch op {
	case OperationUp:
		changed = RunningCount(statuses) < total
	case OperationHalt:
		changed = RunningCount(statuses) > 0
	case OperationDestroy:
		changed = CreatedCount(statuses) > 0
	default:
		return Decision{}, NewInternalError(fmt.Sprintf("unknown operation %q", op), nil)
	}
	return Decision{Changed: changed, Invoke: changed}, nil
}

// Diff reports, per instance, the action vagrant is expected to take for op.
func Diff(op Operation, statuses []LiveInstanceStatus) (*DiffResult, error) {
	result := &DiffResult{
		Instances: make([]InstanceDiff, 0, len(statuses)),
		Summary: DiffSummary{
			Total: len(statuses),
		},
	}

	for _, s := range statuses {
		d, err := diffInstance(op, s)
		if err != nil {
			return nil, err
		}
		result.Instances = append(result.Instances, d)

		switch d.Action {
		case DiffActionCreate:
			result.Summary.ToCreate++
		case DiffActionStart:
			result.Summary.ToStart++
		case DiffActionStop:
			result.Summary.ToStop++
		case DiffActionRemove:
			result.Summary.ToRemove++
		case DiffActionNone:
			result.Summary.Unchanged++
		}
	}

	return result, nil
}

func diffInstance(op Operation, s LiveInstanceStatus) (InstanceDiff, error) {
	d := InstanceDiff{
		Name:   s.Name,
		Actual: s.State,
		Action: DiffActionNone,
	}

	switch op {
	case OperationUp:
		d.Desired = StateRunning
		switch s.State {
		case StateNotCreated:
			d.Action = DiffActionCreate
		case StateRunning:
		default:
			d.Action = DiffActionStart
		}
	case OperationHalt:
		d.Desired = StateStopped
		if s.State == StateRunning {
			d.Action = DiffActionStop
		}
	case OperationDestroy:
		d.Desired = StateNotCreated
		if s.State.IsCreated() {
			d.Action = DiffActionRemove
		}
	default:
		return d, NewInternalError(fmt.Sprintf("unknown operation %q", op), nil)
	}

	return d, nil
}
