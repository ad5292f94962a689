package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/arena"
	"github.com/wippyai/hotreload/errors"
	"github.com/wippyai/hotreload/internal/wasmgen"
)

const pageSize = 65536

// Config holds configuration for engine creation
type Config struct {
	// OnFatal receives arena assertions raised through host imports.
	// nil logs at fatal level and exits the process.
	OnFatal func(err error)

	// Stdout and Stderr receive guest WASI output. nil means os.Stdout/os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// ArenaBase is the first arena address in the shared memory. Guest data
	// segments, the guest stack and anything the guest allocates outside the
	// arena must stay below it. Open rejects a module exporting a
	// __heap_base above it. Must be non-zero.
	ArenaBase uint32

	// ArenaCapacity is the arena size in bytes.
	ArenaCapacity uint32
}

// DefaultConfig returns a 1MiB arena starting at the second memory page.
func DefaultConfig() Config {
	return Config{
		ArenaBase:     pageSize,
		ArenaCapacity: 1 << 20,
	}
}

// Pages returns the fixed size of the shared memory in pages.
func (c Config) Pages() uint32 {
	end := uint64(c.ArenaBase) + uint64(c.ArenaCapacity)
	return uint32((end + pageSize - 1) / pageSize)
}

func (c Config) validate() error {
	if c.ArenaBase == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "arena base must be non-zero")
	}
	if c.ArenaCapacity == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "arena capacity must be non-zero")
	}
	if end := uint64(c.ArenaBase) + uint64(c.ArenaCapacity); end > 1<<32 {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("arena end %#x exceeds the 4GiB address space", end))
	}
	return nil
}

// Engine owns the wazero runtime, the shared arena memory and the host imports.
type Engine struct {
	runtime wazero.Runtime
	memory  api.Memory
	arena   *arena.Arena
	onFatal func(error)
	stdout  io.Writer
	stderr  io.Writer
}

// New creates the runtime and instantiates env, hotreload and WASI.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		runtime: wazero.NewRuntime(ctx),
		onFatal: cfg.OnFatal,
		stdout:  cfg.Stdout,
		stderr:  cfg.Stderr,
	}
	if e.onFatal == nil {
		e.onFatal = func(err error) {
			Logger().Fatal("arena assertion", zap.Error(err))
		}
	}
	if e.stdout == nil {
		e.stdout = os.Stdout
	}
	if e.stderr == nil {
		e.stderr = os.Stderr
	}

	if err := e.init(ctx, cfg); err != nil {
		e.runtime.Close(ctx)
		return nil, err
	}

	Logger().Debug("engine ready",
		zap.Uint32("pages", cfg.Pages()),
		zap.Uint32("arena_base", cfg.ArenaBase),
		zap.Uint32("arena_capacity", cfg.ArenaCapacity))
	return e, nil
}

func (e *Engine) init(ctx context.Context, cfg Config) error {
	env, err := e.runtime.InstantiateWithConfig(ctx,
		wasmgen.MemoryModule(hotreload.MemoryName, cfg.Pages()),
		wazero.NewModuleConfig().WithName(hotreload.MemoryModule))
	if err != nil {
		return fmt.Errorf("instantiate shared memory: %w", err)
	}

	e.memory = env.ExportedMemory(hotreload.MemoryName)
	window, ok := e.memory.Read(cfg.ArenaBase, cfg.ArenaCapacity)
	if !ok {
		return fmt.Errorf("arena window [%#x, +%d) outside shared memory", cfg.ArenaBase, cfg.ArenaCapacity)
	}
	e.arena = arena.New(window, cfg.ArenaBase)

	if err := e.instantiateHost(ctx); err != nil {
		return fmt.Errorf("instantiate host module: %w", err)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	return nil
}

// Arena returns the allocator over the shared memory window.
func (e *Engine) Arena() *arena.Arena {
	return e.arena
}

// Memory returns the shared linear memory every generation imports.
func (e *Engine) Memory() api.Memory {
	return e.memory
}

// Open reads, compiles and instantiates the artifact at path under name.
// All failures are reported as load_failed.
func (e *Engine) Open(ctx context.Context, path, name string) (hotreload.Unit, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.LoadFailed(path, "read", err)
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.LoadFailed(path, "compile", err)
	}

	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize").
		WithStdout(e.stdout).
		WithStderr(e.stderr)

	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.LoadFailed(path, "instantiate", err)
	}

	if err := e.checkLayout(mod); err != nil {
		stderrors.Join(mod.Close(ctx), compiled.Close(ctx))
		return nil, errors.LoadFailed(path, "layout", err)
	}

	Logger().Debug("unit opened", zap.String("name", name), zap.String("path", path))
	return &unit{mod: mod, compiled: compiled}, nil
}

// heapBaseExport is the global wasm-ld exports past the data segments and,
// in the default layout, the stack.
const heapBaseExport = "__heap_base"

// checkLayout rejects a module whose static data or stack reaches into the
// arena window. Modules that do not export __heap_base are trusted.
func (e *Engine) checkLayout(mod api.Module) error {
	g := mod.ExportedGlobal(heapBaseExport)
	if g == nil {
		return nil
	}
	if hb := uint32(g.Get()); hb > e.arena.Base() {
		return fmt.Errorf("%s %#x is above the arena base %#x", heapBaseExport, hb, e.arena.Base())
	}
	return nil
}

// Close tears down the runtime and every module still open in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// unit is one instantiated generation.
type unit struct {
	mod      api.Module
	compiled wazero.CompiledModule
}

func (u *unit) ExportedFunction(name string) api.Function {
	return u.mod.ExportedFunction(name)
}

func (u *unit) Close(ctx context.Context) error {
	return stderrors.Join(u.mod.Close(ctx), u.compiled.Close(ctx))
}
