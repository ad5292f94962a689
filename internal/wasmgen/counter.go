package wasmgen

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hotreload"
)

// GreetingAddr is where the counter module places its greeting text. It must
// stay below the arena base.
const GreetingAddr = 1024

// CounterOptions shapes a generated counter module.
type CounterOptions struct {
	// StateSize is reported by state_size and allocated by init_state.
	// Values below 8 are raised to 8.
	StateSize uint32
	// Tag is written to state word 1 by init_state, identifying which build
	// created the state.
	Tag int32
	// StopAt makes update return 0 once the frame counter reaches it.
	// 0 never stops.
	StopAt uint32
	// RestartAt makes restart_requested return 1 while the frame counter
	// equals it. 0 never requests a restart.
	RestartAt uint32
	// Greeting is logged through hotreload.log on init_state when set.
	Greeting string
	// Omit drops the named contract exports.
	Omit []string
}

// Counter builds a module satisfying the contract. State word 0 counts update
// calls, word 1 holds Tag.
func Counter(opts CounterOptions) []byte {
	size := max(opts.StateSize, 8)

	b := NewBuilder()
	alloc := b.ImportFunc(hotreload.HostModule, hotreload.ImportArenaAlloc, sig(2, 1))
	reset := b.ImportFunc(hotreload.HostModule, hotreload.ImportArenaReset, sig(0, 0))
	logFn := b.ImportFunc(hotreload.HostModule, hotreload.ImportLog, sig(2, 0))
	b.ImportMemory(hotreload.MemoryModule, hotreload.MemoryName, Limits{Min: 1})

	state := b.Global(true, 0)

	initState := Code(
		Call(reset),
		I32Const(int32(size)), I32Const(8), Call(alloc), GlobalSet(state),
		GlobalGet(state), I32Const(opts.Tag), I32Store(4),
	)
	if opts.Greeting != "" {
		b.Data(GreetingAddr, []byte(opts.Greeting))
		initState = append(initState, Code(
			I32Const(GreetingAddr), I32Const(int32(len(opts.Greeting))), Call(logFn),
		)...)
	}

	update := Code(
		GlobalGet(state),
		GlobalGet(state), I32Load(0), I32Const(1), I32Add(),
		I32Store(0),
	)
	if opts.StopAt > 0 {
		update = append(update, Code(GlobalGet(state), I32Load(0), I32Const(int32(opts.StopAt)), I32LtU())...)
	} else {
		update = append(update, I32Const(1)...)
	}

	restart := I32Const(0)
	if opts.RestartAt > 0 {
		restart = Code(GlobalGet(state), I32Load(0), I32Const(int32(opts.RestartAt)), I32Eq())
	}

	bodies := map[string]struct {
		sig  hotreload.Signature
		body []byte
	}{
		hotreload.ExportInitWindow:       {sig(0, 0), nil},
		hotreload.ExportInitState:        {sig(0, 0), initState},
		hotreload.ExportUpdate:           {sig(0, 1), update},
		hotreload.ExportShutdown:         {sig(0, 0), nil},
		hotreload.ExportShutdownWindow:   {sig(0, 0), nil},
		hotreload.ExportStatePtr:         {sig(0, 1), GlobalGet(state)},
		hotreload.ExportStateSize:        {sig(0, 1), I32Const(int32(size))},
		hotreload.ExportAdoptState:       {sig(1, 0), Code(LocalGet(0), GlobalSet(state))},
		hotreload.ExportRestartRequested: {sig(0, 1), restart},
	}

	omitted := make(map[string]bool, len(opts.Omit))
	for _, name := range opts.Omit {
		omitted[name] = true
	}

	// Contract order keeps the output deterministic.
	for _, op := range hotreload.Contract {
		f := bodies[op.Name]
		idx := b.Func(f.sig, f.body)
		if !omitted[op.Name] {
			b.ExportFunc(op.Name, idx)
		}
	}

	return b.Bytes()
}

// sig returns an all-i32 signature with the given arity.
func sig(params, results int) hotreload.Signature {
	s := hotreload.Signature{
		Params:  make([]api.ValueType, params),
		Results: make([]api.ValueType, results),
	}
	for i := range s.Params {
		s.Params[i] = api.ValueTypeI32
	}
	for i := range s.Results {
		s.Results[i] = api.ValueTypeI32
	}
	return s
}
