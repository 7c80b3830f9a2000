// Package events provides the in-process typed publish/subscribe bus that
// glues the daemon's subsystems together. Dispatch is synchronous on the
// emitter, in subscriber registration order, with per-subscriber panic
// isolation so one handler cannot break another.
package events
