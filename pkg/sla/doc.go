// Package sla implements the adaptive coordinator: a periodic scan over
// in-flight tasks that produces graduated escalation recommendations. The
// coordinator observes and recommends; it never mutates tasks itself.
package sla
