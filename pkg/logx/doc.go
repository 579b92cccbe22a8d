// Package logx is the structured logger used across pierre. It wraps zerolog
// behind a value type whose fields are plain functions, so packages never
// import zerolog directly.
//
// A Service owns the sinks and can be reconfigured while loggers derived
// from it keep working; standalone loggers (Nop, NewConsole, NewJSON) exist
// for bootstrap and tests.
package logx
