// Package ssh checks that vagrant instances accept SSH connections.
//
// Prober implements engine.Prober: it connects with the key and address
// reported by `vagrant ssh-config`, runs one command and disconnects.
package ssh

// TransportError is a failed probe step. Op is one of config, connect,
// handshake, session or exec.
type TransportError struct {
	Op  string
	Err error

	// IsTemporary is set when a later probe may succeed, for example while
	// sshd is still starting.
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string { return "ssh " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the probe may help.
func (e *TransportError) Temporary() bool { return e.IsTemporary }
