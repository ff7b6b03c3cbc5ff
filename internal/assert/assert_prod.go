//go:build !debug

// Package assert checks internal invariants in debug builds. Release builds
// compile the checks away.
package assert

// Invariant is a no-op outside debug builds.
func Invariant(bool, string) {}
