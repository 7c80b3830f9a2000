// Package types defines the core data structures shared across the agentctl
// daemon: accounts, messages, handoff payloads, tasks, workspaces, trust
// records, shared sessions, activity events, verification receipts, and the
// daemon configuration schema.
//
// All identifiers are opaque 128-bit values encoded as lowercase hex. All
// timestamps are ISO-8601 UTC strings with millisecond precision.
package types
