package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/errors"
)

// Exports is the function table of a fully bound module. It implements
// hotreload.Module; a value only exists once all nine operations resolved.
type Exports struct {
	initWindow       api.Function
	initState        api.Function
	update           api.Function
	shutdown         api.Function
	shutdownWindow   api.Function
	statePtr         api.Function
	stateSize        api.Function
	adoptState       api.Function
	restartRequested api.Function
}

var _ hotreload.Module = (*Exports)(nil)

func (x *Exports) slots() map[string]*api.Function {
	return map[string]*api.Function{
		hotreload.ExportInitWindow:       &x.initWindow,
		hotreload.ExportInitState:        &x.initState,
		hotreload.ExportUpdate:           &x.update,
		hotreload.ExportShutdown:         &x.shutdown,
		hotreload.ExportShutdownWindow:   &x.shutdownWindow,
		hotreload.ExportStatePtr:         &x.statePtr,
		hotreload.ExportStateSize:        &x.stateSize,
		hotreload.ExportAdoptState:       &x.adoptState,
		hotreload.ExportRestartRequested: &x.restartRequested,
	}
}

// Bind resolves every contract operation on unit. Missing exports and
// signature mismatches are collected together; if there is any, no table is
// returned and the caller must not run the unit.
func Bind(unit hotreload.Unit, path string) (*Exports, error) {
	x := &Exports{}
	slots := x.slots()

	var problems []errors.ExportProblem
	for _, op := range hotreload.Contract {
		fn := unit.ExportedFunction(op.Name)
		if fn == nil {
			problems = append(problems, errors.ExportProblem{Name: op.Name, Reason: "missing"})
			continue
		}
		def := fn.Definition()
		got := hotreload.Signature{Params: def.ParamTypes(), Results: def.ResultTypes()}
		if !sameSignature(got, op.Signature) {
			problems = append(problems, errors.ExportProblem{
				Name:   op.Name,
				Reason: fmt.Sprintf("want %s, got %s", formatSignature(op.Signature), formatSignature(got)),
			})
			continue
		}
		*slots[op.Name] = fn
	}

	if len(problems) > 0 {
		return nil, errors.NewContractViolation(path, problems)
	}
	return x, nil
}

func (x *Exports) call(ctx context.Context, fn api.Function, name string, params ...uint64) ([]uint64, error) {
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	return res, nil
}

func (x *Exports) InitWindow(ctx context.Context) error {
	_, err := x.call(ctx, x.initWindow, hotreload.ExportInitWindow)
	return err
}

func (x *Exports) InitState(ctx context.Context) error {
	_, err := x.call(ctx, x.initState, hotreload.ExportInitState)
	return err
}

func (x *Exports) Update(ctx context.Context) (bool, error) {
	res, err := x.call(ctx, x.update, hotreload.ExportUpdate)
	if err != nil {
		return false, err
	}
	return api.DecodeU32(res[0]) != 0, nil
}

func (x *Exports) Shutdown(ctx context.Context) error {
	_, err := x.call(ctx, x.shutdown, hotreload.ExportShutdown)
	return err
}

func (x *Exports) ShutdownWindow(ctx context.Context) error {
	_, err := x.call(ctx, x.shutdownWindow, hotreload.ExportShutdownWindow)
	return err
}

func (x *Exports) StatePtr(ctx context.Context) (uint32, error) {
	res, err := x.call(ctx, x.statePtr, hotreload.ExportStatePtr)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

func (x *Exports) StateSize(ctx context.Context) (uint32, error) {
	res, err := x.call(ctx, x.stateSize, hotreload.ExportStateSize)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

func (x *Exports) AdoptState(ctx context.Context, ptr uint32) error {
	_, err := x.call(ctx, x.adoptState, hotreload.ExportAdoptState, api.EncodeU32(ptr))
	return err
}

func (x *Exports) RestartRequested(ctx context.Context) (bool, error) {
	res, err := x.call(ctx, x.restartRequested, hotreload.ExportRestartRequested)
	if err != nil {
		return false, err
	}
	return api.DecodeU32(res[0]) != 0, nil
}

func sameSignature(a, b hotreload.Signature) bool {
	return sameTypes(a.Params, b.Params) && sameTypes(a.Results, b.Results)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatSignature(s hotreload.Signature) string {
	return "(" + formatTypes(s.Params) + ") -> (" + formatTypes(s.Results) + ")"
}

func formatTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}
