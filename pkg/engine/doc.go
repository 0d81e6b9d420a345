// Package engine provides the core types, errors and orchestration of boxctl.
//
// # Overview
//
// A run moves through a fixed sequence of stages:
//
//  1. Policy - check normalized instances against Rego policies (PolicyChecker)
//  2. Render - write the Vagrantfile and the side-channel instance file (ConfigWriter)
//  3. Validate - have vagrant validate the generated file (Driver)
//  4. Status - query live state once per pass (Reconciler)
//  5. Decide - compute whether the operation changes anything (Decide)
//  6. Apply - invoke up, halt or destroy only when needed (Driver)
//
// After bring-up the status is queried again and the ssh-config of every
// instance is collected into InstanceInfo records.
//
// # Idempotence
//
// Decisions only look at counts of live states:
//
//   - up changes iff fewer instances are running than declared
//   - halt changes iff at least one instance is running
//   - destroy changes iff at least one instance exists
//
// Bring-up always targets every declared instance; vagrant decides which
// machines need work.
//
// # Errors
//
// Every failure is an *EngineError classified by the stage that raised it:
// configuration, validation, operational, query or internal. Failed vagrant
// commands carry a Failure with the command line, the exit code and the full
// stderr log. Nothing is retried.
package engine
