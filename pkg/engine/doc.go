// Package engine implements the task and handoff semantics: payload
// validation, delegation-depth enforcement, lifecycle transitions, trust
// updates, verification receipts, auto-acceptance runs, cognitive-friction
// checks, assignee routing, and per-account circuit breakers.
package engine
