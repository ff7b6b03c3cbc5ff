//go:build debug

// Package assert checks internal invariants in debug builds. Release builds
// compile the checks away.
package assert

import "fmt"

// Invariant panics when ok is false. Use it for conditions the code itself
// establishes, never for input validation: input errors are returned as
// apierr values.
//
// Examples:
//
//	assert.Invariant(len(chain) > 0, "identity chain must hold the leaf")
//	assert.Invariant(key.Size() == suite.keySize(), "content key size must match the suite")
//
// Messages must not include key material or passwords.
func Invariant(ok bool, msg string) {
	if !ok {
		panic(fmt.Sprintf("INVARIANT VIOLATION: %s", msg))
	}
}
