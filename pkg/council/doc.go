// Package council convenes configured reviewer commands over a task's
// handoff and work, collects their structured verdicts, and aggregates them
// under a quorum rule.
package council
