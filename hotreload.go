package hotreload

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// Ext is the extension appended to the artifact stem.
const Ext = ".wasm"

// Contract export names.
const (
	ExportInitWindow       = "init_window"
	ExportInitState        = "init_state"
	ExportUpdate           = "update"
	ExportShutdown         = "shutdown"
	ExportShutdownWindow   = "shutdown_window"
	ExportStatePtr         = "state_ptr"
	ExportStateSize        = "state_size"
	ExportAdoptState       = "adopt_state"
	ExportRestartRequested = "restart_requested"
)

// Host-provided imports.
const (
	MemoryModule = "env"
	MemoryName   = "memory"

	HostModule        = "hotreload"
	ImportArenaAlloc  = "arena_alloc"  // (size, align i32) -> ptr i32, 0 when exhausted
	ImportArenaResize = "arena_resize" // (old, old_size, new_size, align i32) -> ptr i32
	ImportArenaReset  = "arena_reset"  // () -> ()
	ImportLog         = "log"          // (ptr, len i32) -> ()
)

// Signature is a core wasm function type.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Operation is one named contract entry point.
type Operation struct {
	Name      string
	Signature Signature
}

var (
	i32     = api.ValueTypeI32
	noTypes = []api.ValueType{}
	oneI32  = []api.ValueType{i32}
)

// Contract lists the nine operations every module must export.
var Contract = []Operation{
	{ExportInitWindow, Signature{noTypes, noTypes}},
	{ExportInitState, Signature{noTypes, noTypes}},
	{ExportUpdate, Signature{noTypes, oneI32}},
	{ExportShutdown, Signature{noTypes, noTypes}},
	{ExportShutdownWindow, Signature{noTypes, noTypes}},
	{ExportStatePtr, Signature{noTypes, oneI32}},
	{ExportStateSize, Signature{noTypes, oneI32}},
	{ExportAdoptState, Signature{oneI32, noTypes}},
	{ExportRestartRequested, Signature{noTypes, oneI32}},
}

// State is the preserved state blob of one generation: an address in the
// shared arena memory and the size the module reports for it.
type State struct {
	Ptr  uint32
	Size uint32
}

// Unit is one opened dynamic unit: an instantiated generation whose exports
// can be resolved by name.
type Unit interface {
	// ExportedFunction returns nil when name is not an exported function.
	ExportedFunction(name string) api.Function
	Close(ctx context.Context) error
}

// Module is the bound contract of one loaded generation.
//
// AdoptState is the only legal receiver of a State relinquished by a previous
// generation. Implementations must keep StateSize stable for their lifetime.
type Module interface {
	InitWindow(ctx context.Context) error
	InitState(ctx context.Context) error
	// Update runs one iteration and reports whether the loop should continue.
	Update(ctx context.Context) (bool, error)
	Shutdown(ctx context.Context) error
	ShutdownWindow(ctx context.Context) error
	StatePtr(ctx context.Context) (uint32, error)
	StateSize(ctx context.Context) (uint32, error)
	AdoptState(ctx context.Context, ptr uint32) error
	RestartRequested(ctx context.Context) (bool, error)
}
