// Package daemon is the hub process: it owns every store, the engine, the
// live-session manager, the SLA coordinator, and the UNIX-socket server that
// serves the account bridges.
package daemon
