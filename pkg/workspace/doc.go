// Package workspace prepares and tears down isolated git worktrees for
// accepted handoffs. Branch names and repository paths derived from client
// input are sanitised before any filesystem or git operation.
package workspace
