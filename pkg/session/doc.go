// Package session implements the in-memory shared-session manager: live
// pair sessions between two connected accounts exchanging opaque update
// payloads. Sessions do not survive a daemon restart.
package session
