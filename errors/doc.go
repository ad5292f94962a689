// Package errors provides structured error types for the hot-reload host.
//
// Errors are categorized by Phase (which reload stage failed) and Kind (error
// category). Loader stages map onto the taxonomy as follows:
//
//	probe  artifact_unavailable   transient, retried next iteration
//	copy   copy_failed            attempt aborted, old generation keeps running
//	open   load_failed            attempt aborted, old generation keeps running
//	bind   contract_violation     attempt aborted, unit closed immediately
//	arena  exhausted              returned to the allocating caller
//	arena  assertion              panic value for programming defects
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseOpen, errors.KindLoadFailed).
//		Path("game_3.wasm").
//		Detail("compile").
//		Cause(err).
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
// The Err* sentinels match any error with the same Phase and Kind.
package errors
