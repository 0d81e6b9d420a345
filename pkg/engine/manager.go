package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/boxctl/pkg/telemetry"
)

// ErrToolMissing is wrapped by drivers when the vagrant executable cannot be found.
var ErrToolMissing = errors.New("vagrant executable not found")

// Manager runs one lifecycle operation end to end: render, validate, query
// live state, decide, and invoke vagrant only when something would change.
type Manager struct {
	writer     ConfigWriter
	driver     Driver
	reconciler *Reconciler

	policy   PolicyChecker
	recorder Recorder
	prober   Prober

	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// ManagerOption configures optional collaborators of a Manager.
type ManagerOption func(*Manager)

// WithPolicy checks instances against policies before anything is written.
func WithPolicy(p PolicyChecker) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithRecorder records every run in history.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithProber enables the SSH reachability probe after bring-up.
func WithProber(p Prober) ManagerOption {
	return func(m *Manager) { m.prober = p }
}

// WithTelemetry sets the logging, tracing and metrics bundle.
func WithTelemetry(t *telemetry.Telemetry) ManagerOption {
	return func(m *Manager) { m.tel = t }
}

// NewManager creates a manager writing config with writer and driving vagrant with driver.
func NewManager(writer ConfigWriter, driver Driver, opts ...ManagerOption) *Manager {
	m := &Manager{
		writer:     writer,
		driver:     driver,
		reconciler: NewReconciler(driver),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tel == nil {
		m.tel = telemetry.NewNopTelemetry()
	}
	m.logger = m.tel.Logger.NewComponentLogger("manager")
	return m
}

// Apply runs req to completion. Exactly one of the result or the error is non-nil;
// errors are always *EngineError.
func (m *Manager) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := req.Operation.Validate(); err != nil {
		return nil, NewConfigurationError("invalid operation", err).WithCode(ErrCodeInvalidParams)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	timer := telemetry.NewTimer()
	logger := m.logger.WithRunID(req.RunID).WithOperation(string(req.Operation))

	ctx = m.tel.WithContext(ctx)
	ctx, span := m.tel.Tracer.StartRunSpan(ctx, req.RunID, string(req.Operation))
	defer span.End()
	ctx = logger.WithContext(ctx)

	run := &RunRecord{
		ID:        req.RunID,
		Operation: req.Operation,
		Workdir:   req.Workdir,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if m.recorder != nil {
		if err := m.recorder.StartRun(ctx, run); err != nil {
			logger.WithError(err).Warn("failed to record run start")
		}
	}

	logger.WithField("instances", len(req.Instances)).Info("starting run")

	result, statuses, err := m.apply(ctx, req)
	duration := timer.Duration()

	status := RunStatusSucceeded
	if err != nil {
		status = RunStatusFailed
	}
	m.finish(ctx, run, status, result, statuses, err)

	span.SetAttributes(telemetry.AttrRunStatus.String(string(status)))
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			span.SetAttributes(
				telemetry.AttrErrorClass.String(string(ee.Class)),
				telemetry.AttrErrorCode.String(ee.Code),
			)
			m.tel.Metrics.RecordError(string(ee.Class), ee.Code)
		}
		telemetry.RecordError(span, err)
		m.tel.Metrics.RecordRunCompleted(string(req.Operation), string(status), false, duration)
		logger.WithError(err).WithField("duration", duration.String()).Error("run failed")
		return nil, err
	}

	result.Duration = duration
	span.SetAttributes(telemetry.AttrChanged.Bool(result.Changed))
	telemetry.RecordSuccess(span)
	m.tel.Metrics.RecordRunCompleted(string(req.Operation), string(status), result.Changed, duration)
	logger.WithFields(map[string]interface{}{
		"changed":  result.Changed,
		"duration": duration.String(),
	}).Info("run finished")
	return result, nil
}

func (m *Manager) apply(ctx context.Context, req Request) (*Result, []LiveInstanceStatus, error) {
	result := &Result{
		RunID:        req.RunID,
		Operation:    req.Operation,
		Deprecations: req.Deprecations,
	}
	for _, d := range req.Deprecations {
		telemetry.FromContext(ctx).Warn(d)
	}

	warnings, err := m.checkPolicy(ctx, req.Instances)
	if err != nil {
		return nil, nil, err
	}
	result.Warnings = warnings

	if err := m.Prepare(ctx, req.Workdir, req.Instances, req.Settings); err != nil {
		return nil, nil, err
	}

	statuses, err := m.status(ctx, req.Instances)
	if err != nil {
		return nil, nil, err
	}

	decision, err := Decide(req.Operation, statuses, len(req.Instances))
	if err != nil {
		return nil, statuses, err
	}
	m.logDiff(ctx, req.Operation, statuses)
	result.Changed = decision.Changed

	switch req.Operation {
	case OperationUp:
		if decision.Invoke {
			if err := m.up(ctx, req); err != nil {
				return nil, statuses, err
			}
		}
		statuses, err = m.status(ctx, req.Instances)
		if err != nil {
			return nil, statuses, err
		}
		infos, err := m.collectInfo(ctx, req, statuses)
		if err != nil {
			return nil, statuses, err
		}
		if req.Legacy && len(infos) == 1 {
			result.Instance = &infos[0]
		} else {
			result.Instances = infos
		}

	case OperationHalt:
		if decision.Invoke {
			if err := m.halt(ctx, req.ForceStop); err != nil {
				return nil, statuses, err
			}
		}

	case OperationDestroy:
		if decision.Invoke {
			if req.ForceStop {
				if err := m.halt(ctx, true); err != nil {
					return nil, statuses, err
				}
			}
			if err := m.destroy(ctx); err != nil {
				return nil, statuses, err
			}
		}
	}

	return result, statuses, nil
}

// Prepare checks, renders and writes the Vagrantfile, then has vagrant validate it.
// Nothing has been started when it fails.
func (m *Manager) Prepare(ctx context.Context, workdir string, instances []InstanceSpec, settings RenderSettings) error {
	op := telemetry.StartOperation(ctx, "render")
	rendered, err := m.writer.Write(workdir, instances, settings)
	if err != nil {
		err = NewInternalError("failed to write Vagrantfile", err).WithCode(ErrCodeRenderFailed)
		op.End(err)
		return err
	}
	op.Logger.WithField("path", rendered.VagrantfilePath).Debug("wrote Vagrantfile")
	op.End(nil)

	op = telemetry.StartOperation(ctx, "validate")
	res, err := m.driver.Validate(op.Ctx)
	if err != nil {
		err = m.driverError("validate", err)
		op.End(err)
		return err
	}
	if res.Failed() {
		diag := strings.TrimSpace(res.Stderr)
		if diag == "" {
			diag = strings.TrimSpace(res.Stdout)
		}
		err = NewValidationError("Failed to validate generated Vagrantfile: "+diag, nil).
			WithCode(ErrCodeValidateFailed).
			WithOperation("validate").
			WithFailure(res.Failure(res.Stderr))
		op.End(err)
		return err
	}
	op.End(nil)
	return nil
}

// Validate runs the policy checks and Prepare, returning non-blocking policy
// warnings.
func (m *Manager) Validate(ctx context.Context, workdir string, instances []InstanceSpec, settings RenderSettings) ([]string, error) {
	ctx = m.tel.WithContext(ctx)
	warnings, err := m.checkPolicy(ctx, instances)
	if err != nil {
		return nil, err
	}
	if err := m.Prepare(ctx, workdir, instances, settings); err != nil {
		return nil, err
	}
	return warnings, nil
}

// Inspect queries live state and computes the drift report for op without
// changing anything.
func (m *Manager) Inspect(ctx context.Context, op Operation, instances []InstanceSpec) ([]LiveInstanceStatus, *DiffResult, error) {
	ctx = m.tel.WithContext(ctx)
	statuses, err := m.status(ctx, instances)
	if err != nil {
		return nil, nil, err
	}
	diff, err := Diff(op, statuses)
	if err != nil {
		return nil, nil, err
	}
	return statuses, diff, nil
}

func (m *Manager) checkPolicy(ctx context.Context, instances []InstanceSpec) ([]string, error) {
	if m.policy == nil {
		return nil, nil
	}

	op := telemetry.StartOperation(ctx, "policy")
	report, err := m.policy.Check(op.Ctx, instances)
	if err != nil {
		err = NewInternalError("failed to evaluate policies", err)
		op.End(err)
		return nil, err
	}

	var warnings []string
	for _, v := range report.Violations {
		msg := formatViolation(v)
		if !v.Severity.IsBlocking() {
			op.Logger.WithField("policy", v.Policy).Warn(msg)
			warnings = append(warnings, msg)
		}
	}

	if blocking := report.Blocking(); len(blocking) > 0 {
		msgs := make([]string, len(blocking))
		for i, v := range blocking {
			msgs[i] = formatViolation(v)
		}
		err = NewConfigurationError("policy check failed: "+strings.Join(msgs, "; "), nil).
			WithCode(ErrCodePolicyDenied).
			WithDetail("violations", blocking)
		if len(blocking) == 1 && blocking[0].Instance != "" {
			err.(*EngineError).WithInstance(blocking[0].Instance)
		}
		op.End(err)
		return nil, err
	}

	op.End(nil)
	return warnings, nil
}

func formatViolation(v PolicyViolation) string {
	if v.Instance != "" {
		return fmt.Sprintf("%s: %s (instance=%s)", v.Policy, v.Message, v.Instance)
	}
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

func (m *Manager) status(ctx context.Context, instances []InstanceSpec) ([]LiveInstanceStatus, error) {
	op := telemetry.StartOperation(ctx, "status")
	statuses, err := m.reconciler.Status(op.Ctx, instances)
	if err != nil {
		err = m.withErrorLog(err, "Failed to get status")
		op.End(err)
		return nil, err
	}
	for _, s := range statuses {
		m.tel.Metrics.SetInstanceRunning(s.Name, s.Provider, s.State == StateRunning)
	}
	op.Logger.WithFields(map[string]interface{}{
		"running": RunningCount(statuses),
		"created": CreatedCount(statuses),
		"total":   len(instances),
	}).Debug("queried instance status")
	op.End(nil)
	return statuses, nil
}

func (m *Manager) logDiff(ctx context.Context, op Operation, statuses []LiveInstanceStatus) {
	diff, err := Diff(op, statuses)
	if err != nil {
		return
	}
	logger := telemetry.FromContext(ctx)
	for _, d := range diff.Instances {
		logger.WithInstance(d.Name).WithFields(map[string]interface{}{
			"actual": d.Actual,
			"action": d.Action,
		}).Debug("instance diff")
	}
	logger.WithFields(map[string]interface{}{
		"to_create": diff.Summary.ToCreate,
		"to_start":  diff.Summary.ToStart,
		"to_stop":   diff.Summary.ToStop,
		"to_remove": diff.Summary.ToRemove,
		"unchanged": diff.Summary.Unchanged,
	}).Info("computed diff")
}

func (m *Manager) up(ctx context.Context, req Request) error {
	op := telemetry.StartOperation(ctx, "up")
	res, err := m.driver.Up(op.Ctx, req.Provision, req.Settings.Provider)
	if err != nil {
		err = m.driverError("up", err)
		op.End(err)
		return err
	}
	if res.Failed() {
		err = m.commandFailure(NewOperationalError("", nil).WithCode(ErrCodeUpFailed).WithOperation("up"),
			"Failed to start the VM(s)", res)
		op.End(err)
		return err
	}
	op.End(nil)
	return nil
}

func (m *Manager) halt(ctx context.Context, force bool) error {
	op := telemetry.StartOperation(ctx, "halt")
	res, err := m.driver.Halt(op.Ctx, force)
	if err != nil {
		err = m.driverError("halt", err)
		op.End(err)
		return err
	}
	if res.Failed() {
		err = m.commandFailure(NewOperationalError("", nil).WithCode(ErrCodeHaltFailed).WithOperation("halt"),
			"Failed to halt the VM(s)", res)
		op.End(err)
		return err
	}
	op.End(nil)
	return nil
}

func (m *Manager) destroy(ctx context.Context) error {
	op := telemetry.StartOperation(ctx, "destroy")
	res, err := m.driver.Destroy(op.Ctx)
	if err != nil {
		err = m.driverError("destroy", err)
		op.End(err)
		return err
	}
	if res.Failed() {
		err = m.commandFailure(NewOperationalError("", nil).WithCode(ErrCodeDestroyFailed).WithOperation("destroy"),
			"Failed to destroy the VM(s)", res)
		op.End(err)
		return err
	}
	op.End(nil)
	return nil
}

func (m *Manager) collectInfo(ctx context.Context, req Request, statuses []LiveInstanceStatus) ([]InstanceInfo, error) {
	op := telemetry.StartOperation(ctx, "conf")
	infos := make([]InstanceInfo, 0, len(statuses))
	for _, s := range statuses {
		conf, res, err := m.driver.Conf(op.Ctx, s.Name)
		if err != nil {
			err = m.driverError("ssh-config", err)
			op.End(err)
			return nil, err
		}
		if res.Failed() {
			err = m.commandFailure(NewQueryError("", nil).WithCode(ErrCodeConfFailed).WithOperation("ssh-config").WithInstance(s.Name),
				fmt.Sprintf("Failed to get vagrant config for %s", s.Name), res)
			op.End(err)
			return nil, err
		}
		infos = append(infos, newInstanceInfo(s, conf))
	}
	op.End(nil)

	if req.ProbeSSH && m.prober != nil {
		m.probe(ctx, infos)
	}
	return infos, nil
}

func (m *Manager) probe(ctx context.Context, infos []InstanceInfo) {
	op := telemetry.StartOperation(ctx, "probe")
	for i := range infos {
		reachable := true
		if err := m.prober.Probe(op.Ctx, infos[i]); err != nil {
			reachable = false
			op.Logger.WithInstance(infos[i].Name).WithError(err).Warn("instance not reachable over ssh")
		}
		telemetry.AddInstanceEvent(op.Span, infos[i].Name, "ssh.probe", fmt.Sprintf("reachable=%t", reachable))
		infos[i].SSHReachable = &reachable
	}
	op.End(nil)
}

// newInstanceInfo merges a live status with the ssh-config key/value pairs.
func newInstanceInfo(s LiveInstanceStatus, conf map[string]string) InstanceInfo {
	info := InstanceInfo{
		Name:     s.Name,
		State:    s.State,
		Provider: s.Provider,
	}
	for k, v := range conf {
		switch k {
		case "Host":
			info.Host = v
		case "HostName":
			info.HostName = v
		case "User":
			info.User = v
		case "Port":
			info.Port = v
		case "IdentityFile":
			info.IdentityFile = v
		default:
			if info.Options == nil {
				info.Options = make(map[string]string)
			}
			info.Options[k] = v
		}
	}
	return info
}

// commandFailure fills e with the stderr log location and its full content.
func (m *Manager) commandFailure(e *EngineError, prefix string, res *CommandResult) error {
	path, content, err := m.driver.ErrorLog()
	if err != nil {
		return NewInternalError("failed to read stderr log", err)
	}
	e.Message = fmt.Sprintf("%s: See log file '%s'", prefix, path)
	e.Failure = res.Failure(content)
	return e
}

// withErrorLog replaces the stderr of a query failure with the full log content.
func (m *Manager) withErrorLog(err error, prefix string) error {
	var e *EngineError
	if !errors.As(err, &e) || e.Failure == nil {
		return err
	}
	path, content, logErr := m.driver.ErrorLog()
	if logErr != nil {
		return err
	}
	e.Message = fmt.Sprintf("%s: See log file '%s'", prefix, path)
	e.Failure.Stderr = content
	return e
}

func (m *Manager) driverError(subcommand string, err error) *EngineError {
	if errors.Is(err, ErrToolMissing) {
		return NewInternalError("vagrant executable not found", err).
			WithCode(ErrCodeToolMissing).
			WithOperation(subcommand)
	}
	return NewInternalError(fmt.Sprintf("failed to run vagrant %s", subcommand), err).
		WithOperation(subcommand)
}

func (m *Manager) finish(ctx context.Context, run *RunRecord, status RunStatus, result *Result, statuses []LiveInstanceStatus, err error) {
	if m.recorder == nil {
		return
	}
	finished := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	run.Instances = statuses
	if result != nil {
		run.Changed = result.Changed
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		run.ErrorClass = ee.Class
		run.ErrorCode = ee.Code
		run.ErrorMessage = ee.Message
	} else if err != nil {
		run.ErrorMessage = err.Error()
	}
	if recErr := m.recorder.FinishRun(ctx, run); recErr != nil {
		telemetry.FromContext(ctx).WithError(recErr).Warn("failed to record run result")
	}
}
