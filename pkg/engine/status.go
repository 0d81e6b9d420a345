package engine

import (
	"fmt"
	"strings"
)

// LifecycleState represents the coarse state of a single instance as reported by vagrant.
type LifecycleState string

const (
	// StateNotCreated indicates the instance does not exist in the provider.
	StateNotCreated LifecycleState = "not_created"

	// StateRunning indicates the instance is up.
	StateRunning LifecycleState = "running"

	// StateStopped indicates the instance exists but is powered off, saved or suspended.
	StateStopped LifecycleState = "stopped"

	// StateOther covers every provider-specific state without a direct mapping.
	StateOther LifecycleState = "other"
)

// IsCreated returns true if the instance exists in the provider in any form.
func (s LifecycleState) IsCreated() bool {
	return s != StateNotCreated && s != ""
}

// Validate checks if the lifecycle state is valid.
func (s LifecycleState) Validate() error {
	switch s {
	case StateNotCreated, StateRunning, StateStopped, StateOther:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle state: %s", s)
	}
}

// ParseLifecycleState maps a raw vagrant state string onto a LifecycleState.
// Stopped covers the several names providers use for a halted machine.
func ParseLifecycleState(raw string) LifecycleState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "not_created", "not created", "":
		return StateNotCreated
	case "running", "active":
		return StateRunning
	case "poweroff", "stopped", "shutoff", "shutdown", "saved", "aborted",
		"paused", "suspended", "not_running", "halted":
		return StateStopped
	default:
		return StateOther
	}
}

// Operation represents the lifecycle operation requested by the caller.
type Operation string

const (
	// OperationUp creates or starts all declared instances.
	OperationUp Operation = "up"

	// OperationHalt stops all running instances.
	OperationHalt Operation = "halt"

	// OperationDestroy removes all created instances.
	OperationDestroy Operation = "destroy"
)

// Validate checks if the operation is valid.
func (o Operation) Validate() error {
	switch o {
	case OperationUp, OperationHalt, OperationDestroy:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// CachingScope controls how the vagrant-cachier plugin shares package caches.
type CachingScope string

const (
	// CachingMachine shares caches per machine.
	CachingMachine CachingScope = "machine"

	// CachingBox shares caches between all machines using the same box.
	CachingBox CachingScope = "box"

	// CachingDisabled turns the plugin off.
	CachingDisabled CachingScope = "disabled"
)

// Validate checks if the caching scope is valid.
func (c CachingScope) Validate() error {
	switch c {
	case CachingMachine, CachingBox, CachingDisabled:
		return nil
	default:
		return fmt.Errorf("invalid caching scope: %s", c)
	}
}

// RunStatus represents the outcome of one invocation, as recorded in history.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed with an error.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// DiffAction is the action the reconciler expects vagrant to take for one instance.
type DiffAction string

const (
	// DiffActionNone indicates the instance is already in the desired state.
	DiffActionNone DiffAction = "none"

	// DiffActionCreate indicates the instance must be created.
	DiffActionCreate DiffAction = "create"

	// DiffActionStart indicates a stopped instance must be started.
	DiffActionStart DiffAction = "start"

	// DiffActionStop indicates a running instance must be halted.
	DiffActionStop DiffAction = "stop"

	// DiffActionRemove indicates a created instance must be destroyed.
	DiffActionRemove DiffAction = "remove"
)
