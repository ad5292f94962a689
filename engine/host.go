package engine

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/errors"
)

func (e *Engine) instantiateHost(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder(hotreload.HostModule).
		NewFunctionBuilder().WithFunc(e.arenaAlloc).Export(hotreload.ImportArenaAlloc).
		NewFunctionBuilder().WithFunc(e.arenaResize).Export(hotreload.ImportArenaResize).
		NewFunctionBuilder().WithFunc(e.arenaReset).Export(hotreload.ImportArenaReset).
		NewFunctionBuilder().WithFunc(e.guestLog).Export(hotreload.ImportLog).
		Instantiate(ctx)
	return err
}

// arenaAlloc returns 0 when the arena is exhausted.
func (e *Engine) arenaAlloc(size, align uint32) (ptr uint32) {
	defer e.guard()

	addr, err := e.arena.AllocAligned(size, align)
	if err != nil {
		Logger().Warn("arena exhausted", zap.Error(err))
		return 0
	}
	return addr
}

func (e *Engine) arenaResize(old, oldSize, newSize, align uint32) (ptr uint32) {
	defer e.guard()

	addr, err := e.arena.ResizeAligned(old, oldSize, newSize, align)
	if err != nil {
		Logger().Warn("arena exhausted", zap.Error(err))
		return 0
	}
	return addr
}

func (e *Engine) arenaReset() {
	e.arena.Reset()
}

func (e *Engine) guestLog(ctx context.Context, m api.Module, ptr, n uint32) {
	mem := m.Memory()
	if mem == nil {
		Logger().Warn("log from module without memory", zap.String("module", m.Name()))
		return
	}
	text, ok := mem.Read(ptr, n)
	if !ok {
		Logger().Warn("log range out of bounds",
			zap.String("module", m.Name()), zap.Uint32("ptr", ptr), zap.Uint32("len", n))
		return
	}
	Logger().Info(string(text), zap.String("module", m.Name()))
}

// guard turns an arena assertion panic into a call to onFatal. Other panics
// keep unwinding.
func (e *Engine) guard() {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok || !stderrors.Is(err, errors.ErrAssertion) {
		panic(r)
	}
	e.onFatal(err)
}
