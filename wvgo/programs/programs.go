// Package programs holds WAT sources shared by the demo binary and the tests.
package programs

import _ "embed"

// Fib computes the n-th Fibonacci number iteratively: (export "fib") (param i32) (result i32).
//
//go:embed fib.wat
var Fib string
