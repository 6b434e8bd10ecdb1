// Package configwatch reloads the configuration file while the service runs.
//
// The watcher polls the file's modification time. When it changes the whole
// file is loaded and validated; only a valid document replaces the active
// snapshot, after which change handlers run in registration order. A file
// that fails to load leaves the previous snapshot active and is retried on
// the next Check. The caller owns the cadence and logs failed checks.
//
// Readers call Current for a consistent *config.Config; snapshots are never
// mutated after they are published.
package configwatch
