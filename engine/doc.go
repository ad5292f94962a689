// Package engine hosts application generations on a single wazero runtime.
//
// # Architecture
//
// An Engine owns three long-lived modules and any number of generations:
//
//	env                 synthesised module exporting the fixed-size "memory"
//	hotreload           host functions: arena_alloc, arena_resize, arena_reset, log
//	wasi_snapshot_preview1
//	<stem>_<gen> ...    one instance per loaded generation, importing env.memory
//
// The env memory is created with equal minimum and maximum page counts, so it
// never grows and never moves. A window of it, starting at Config.ArenaBase,
// is handed to an arena.Arena. Because the memory belongs to env and not to
// any generation, closing a generation leaves the arena contents intact; this
// is what lets a soft reload hand a raw state pointer to the next generation.
//
// # Guest Memory Layout
//
// Everything a generation places in the shared memory on its own must lie
// below Config.ArenaBase: data segments, the shadow stack and any heap. A
// reactor linked by wasm-ld exports __heap_base, the first address past its
// data and (in the default layout) its stack; Open refuses a module whose
// __heap_base is above the arena base. wasi-libc's malloc claims everything
// from __heap_base to the end of memory on first use, which would include the
// arena, so guests allocate through arena_alloc instead of the libc heap.
//
// # Generation Flow
//
//  1. Engine.Open reads and compiles the versioned artifact
//  2. the compiled module is instantiated under a unique name, running
//     _initialize when the module exports it
//  3. the returned Unit resolves exports for contract binding
//  4. Unit.Close closes both the instance and its compiled code
//
// # Fatal Assertions
//
// Arena misuse through the host imports (bad alignment, resizing a foreign
// address) is a defect in the module, not a runtime condition. The host
// functions hand such assertions to Config.OnFatal, which by default logs at
// fatal level and exits the process.
//
// # Thread Safety
//
// Engine is NOT safe for concurrent use. The reload loop is single-threaded
// and guest calls into the host functions happen on that same goroutine.
package engine
