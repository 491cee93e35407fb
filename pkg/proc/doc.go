// Package proc is a low-level package that provides methods to manipulate
// the process we are debugging.
//
// proc implements:
// * launching a process under ptrace
// * installing and restoring single bytes of the process' code
// * resuming, single-stepping and killing the process
// * walking the frame pointer chain of the stopped process
//
// Every ptrace request is issued from a single goroutine locked to its OS
// thread, as the kernel only accepts requests from the tracing thread.
package proc
