package ssh

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Probe defaults.
const (
	DefaultProbeTimeout = 10 * time.Second
	DefaultProbeCommand = "true"
)

// Prober opens a single SSH connection per instance and runs a command.
type Prober struct {
	timeout time.Duration
	command string
	logger  zerolog.Logger
}

var _ engine.Prober = (*Prober)(nil)

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithTimeout bounds connect, handshake and command together.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// WithCommand replaces the command run on the instance.
func WithCommand(cmd string) ProberOption {
	return func(p *Prober) { p.command = cmd }
}

// NewProber creates a Prober.
func NewProber(logger zerolog.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		timeout: DefaultProbeTimeout,
		command: DefaultProbeCommand,
		logger:  logger.With().Str("component", "ssh-probe").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe connects to the instance and runs the probe command. A nil error
// means the command exited with status 0.
func (p *Prober) Probe(ctx context.Context, info engine.InstanceInfo) error {
	cfg, err := ConfigFromInstance(info)
	if err != nil {
		return &TransportError{Op: "config", Err: err}
	}
	cfg.ConnectionTimeout = p.timeout

	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "config", Err: err, IsAuthError: true}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	address := cfg.Address()
	p.logger.Debug().Str("instance", info.Name).Str("address", address).Msg("probing SSH")

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return &TransportError{
			Op:          "handshake",
			Err:         err,
			IsTemporary: !isAuthError(err),
			IsAuthError: isAuthError(err),
		}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run(p.command); err != nil {
		return &TransportError{Op: "exec", Err: err}
	}

	p.logger.Debug().Str("instance", info.Name).Msg("SSH probe succeeded")
	return nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}
