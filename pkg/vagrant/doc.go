// Package vagrant runs vagrant subcommands for a working directory.
//
// Client implements engine.Driver. Every call appends its stdout and stderr
// to vagrant.out and vagrant.err (or vagrant-<name>.out/.err for the legacy
// single-instance form), each write preceded by a "### <timestamp> ###"
// marker so repeated runs stay readable.
//
// A non-zero exit is returned as an engine.CommandResult, never as an error.
// Errors are reserved for a missing executable (wrapping engine.ErrToolMissing)
// and unwritable log files.
//
// Subprocesses are not bound to a timeout or the caller's context.
package vagrant
