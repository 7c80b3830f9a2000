// Package protocol implements the wire protocol spoken over the daemon's
// unix socket: newline-delimited JSON frames with a 4 MiB size cap, the
// request envelope, and the closed set of request types.
package protocol
