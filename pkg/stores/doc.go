// Package stores keeps the run history in SQLite.
//
// Each manager run is one row in runs, written when it starts and completed
// when it finishes, with the final instance statuses in run_instances.
// The schema is managed by embedded golang-migrate migrations. History is
// write-only from the lifecycle's point of view and is read back by the
// history commands only.
package stores
