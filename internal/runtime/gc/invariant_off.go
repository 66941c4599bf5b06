//go:build !debug

package gc

// debugChecks enables traversal verification. Off in normal builds.
const debugChecks = false
