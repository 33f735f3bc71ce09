// Package must asserts conditions the surrounding code has already made
// impossible. A failed assertion is a programming error, never a runtime
// condition worth handling.
package must

// Be panics unless expr holds.
func Be(expr bool, msg string) {
	if !expr {
		panic("assertion failed: " + msg)
	}
}

// NilErr panics on an error from an operation that cannot fail with the
// inputs the caller constructed, such as building a request from a
// known-good URL.
func NilErr(err error) {
	if nil != err {
		panic("expected nil error, got: " + err.Error())
	}
}
