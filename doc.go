// Package hotreload defines the ABI between the hot-reload host and the
// application modules it swaps in at runtime.
//
// An application module is a WebAssembly core module produced by an external
// build tool as <stem>.wasm. The host copies it to <stem>_<generation>.wasm,
// instantiates the copy with wazero and binds the nine contract exports listed
// in Contract. When the build output changes the host loads the next
// generation next to the running one and either hands the preserved state over
// (soft reload) or discards it (hard restart).
//
// # Architecture Overview
//
//	hotreload/         Contract, host import names, Module interface
//	├── arena/         Fixed-capacity bump allocator for reload-surviving state
//	├── engine/        wazero runtime, shared arena memory, host imports
//	├── loader/        Versioned copies, dynamic unit lifecycle, contract binding
//	├── reload/        Run loop and soft-reload / hard-restart decisions
//	├── errors/        Structured error taxonomy
//	├── internal/      Environment config, wasm module generator
//	└── cmd/           hotreload host and mkdemo module generator
//
// # Module Contract
//
// Every module exports, with exactly these core signatures:
//
//	init_window       () -> ()
//	init_state        () -> ()
//	update            () -> i32     non-zero keeps the loop running
//	shutdown          () -> ()
//	shutdown_window   () -> ()
//	state_ptr         () -> i32
//	state_size        () -> i32
//	adopt_state       (i32) -> ()
//	restart_requested () -> i32
//
// and imports its linear memory as env.memory. State that must survive a
// reload is allocated through the hotreload.arena_* imports, which carve it out
// of a window of that memory the host keeps alive across generations.
//
// A module signals a layout change by reporting a different state_size; the
// host then performs a hard restart instead of handing over the old pointer.
//
// # Thread Safety
//
// Nothing here is safe for concurrent use. The host is strictly
// single-threaded: one update, one change check, one decision per iteration.
package hotreload
