// Package docstore is the file layer under every plan directory.
//
// It reads and writes JSON documents atomically (temp file, fsync, rename),
// copies a whole plan directory to a timestamped backup and restores it, and
// provides the flock(2) lock that serializes writers across processes.
//
// Audit-log generations and the lock file are never captured in a backup and
// never touched by a restore: the audit trail stays append-only across
// rollbacks.
package docstore
