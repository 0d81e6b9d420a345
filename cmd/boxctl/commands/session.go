package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/boxctl/pkg/config"
	"github.com/openfroyo/boxctl/pkg/engine"
	"github.com/openfroyo/boxctl/pkg/policy"
	"github.com/openfroyo/boxctl/pkg/render"
	"github.com/openfroyo/boxctl/pkg/stores"
	"github.com/openfroyo/boxctl/pkg/telemetry"
	"github.com/openfroyo/boxctl/pkg/transports/ssh"
	"github.com/openfroyo/boxctl/pkg/vagrant"
)

// session holds the collaborators of one command invocation.
type session struct {
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
	store  *stores.SQLiteStore
}

// newSession configures telemetry from the global flags.
func newSession(version string) (*session, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	if metricsFile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.TextfilePath = metricsFile
	}
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid telemetry settings", err).
			WithCode(engine.ErrCodeInvalidParams)
	}
	log.Logger = tel.Logger.Zerolog()

	return &session{
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli"),
	}, nil
}

// context attaches telemetry to ctx.
func (s *session) context(ctx context.Context) context.Context {
	return s.tel.WithContext(ctx)
}

// historyPath returns the database path from the flags or the default location.
func historyPath() (string, error) {
	if historyDB != "" {
		return historyDB, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no history location: %w", err)
	}
	return filepath.Join(dir, "boxctl", "history.db"), nil
}

// openHistory opens the run history. For lifecycle commands history is
// best-effort, so failures are only logged.
func (s *session) openHistory(ctx context.Context) *stores.SQLiteStore {
	if noHistory {
		return nil
	}
	store, err := s.requireHistory(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("run history disabled")
		return nil
	}
	return store
}

// requireHistory opens the run history or fails.
func (s *session) requireHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if s.store != nil {
		return s.store, nil
	}
	path, err := historyPath()
	if err != nil {
		return nil, err
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("path", path).Debug("opened run history")
	s.store = store
	return store, nil
}

// policyEngine loads the built-in policies plus any --policy paths.
func (s *session) policyEngine(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(s.tel.Logger.Zerolog())
	if err != nil {
		return nil, engine.NewInternalError("failed to initialize policy engine", err)
	}
	if len(policyPaths) > 0 {
		if err := pe.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, engine.NewConfigurationError("failed to load policies", err).
				WithCode(engine.ErrCodeInvalidParams)
		}
	}
	return pe, nil
}

// driver creates the vagrant client for a normalized run.
func (s *session) driver(n *config.Normalized) *vagrant.Client {
	opts := vagrant.Options{
		Binary:   vagrantBinary,
		Workdir:  n.Workdir,
		Parallel: n.Parallel,
		Runner:   vagrantRunner,
	}
	if n.Legacy && len(n.Instances) == 1 {
		opts.LogInstance = n.Instances[0].Name
	}
	return vagrant.NewClient(opts)
}

// managerOptions controls which optional collaborators a manager gets.
type managerOptions struct {
	history  bool
	probeSSH bool
}

// manager wires a Manager for a normalized run.
func (s *session) manager(ctx context.Context, n *config.Normalized, mo managerOptions) (*engine.Manager, error) {
	pe, err := s.policyEngine(ctx)
	if err != nil {
		return nil, err
	}

	opts := []engine.ManagerOption{
		engine.WithTelemetry(s.tel),
		engine.WithPolicy(pe),
	}
	if mo.history {
		if store := s.openHistory(ctx); store != nil {
			opts = append(opts, engine.WithRecorder(store))
		}
	}
	if mo.probeSSH {
		opts = append(opts, engine.WithProber(ssh.NewProber(s.tel.Logger.Zerolog())))
	}

	return engine.NewManager(render.NewWriter(), s.driver(n), opts...), nil
}

// close releases the history store and flushes telemetry.
func (s *session) close(ctx context.Context) {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.tel.Shutdown(context.WithoutCancel(ctx)))
	if err := errors.Join(errs...); err != nil {
		s.logger.WithError(err).Warn("failed to shut down cleanly")
	}
}
