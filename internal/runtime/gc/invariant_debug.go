//go:build debug

package gc

// In debug builds the collector cross-checks every Traceable it breaks and
// asserts that freed objects have no owners left.
const debugChecks = true
