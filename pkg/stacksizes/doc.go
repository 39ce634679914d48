// Package stacksizes analyzes ELF executables built with compiler
// stack-usage instrumentation (rustc's -Z emit-stack-sizes, clang's
// -fstack-size-section) and reports the maximum stack frame recorded for
// each function.
//
// The analysis is a pure function of an in-memory byte buffer: it parses the
// symbol table into an address-indexed catalog of defined functions, merges
// untyped symbols sharing an address into that function's alias list, decodes
// the non-loaded .stack_sizes metadata section, and correlates the two. The
// package performs no I/O; reading the executable is the caller's job.
package stacksizes
