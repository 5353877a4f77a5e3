// Package types defines the core domain types shared across StateFlow:
// workflow state, immutable state versions, snapshots, conflicts,
// agent instances, inter-agent messages, and the unified error taxonomy.
//
// Types in this package carry JSON tags because they form the document
// format exchanged with other implementations; field names are part of
// that contract and must not change.
package types
