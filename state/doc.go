// Package state owns the authoritative copy of each workflow's state and
// its append-only version history.
//
// Every accepted write produces an immutable, checksummed StateVersion and
// updates the active state as one durable unit. Stale writes are detected
// and queued as advisory conflicts without blocking the write itself;
// queued conflicts are later resolved via a selectable strategy. Snapshots
// live outside the version chain and restore through it, preserving the
// audit trail. An archive pass migrates old versions to cold storage while
// never touching the head version.
//
// Concurrency: writes to one workflow are serialized by a per-workflow
// mutex held only for the compose-and-persist section; operations on
// different workflows proceed in parallel. Change fan-out to subscribers
// is concurrent, and one failing recipient never delays the rest.
package state
