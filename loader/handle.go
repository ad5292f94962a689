package loader

import (
	"context"
	"time"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/errors"
)

// Handle is one loaded generation: its bound contract, identity and the
// artifact modification time captured before the copy.
type Handle struct {
	hotreload.Module

	ModTime    time.Time
	Path       string
	Generation uint64

	unit         hotreload.Unit
	relinquished bool
	unloaded     bool
}

// Relinquish gives up this generation's claim on its preserved state and
// returns it for the next generation's AdoptState. It succeeds at most once;
// afterwards the handle must only be unloaded.
func (h *Handle) Relinquish(ctx context.Context) (hotreload.State, error) {
	if h.relinquished {
		return hotreload.State{}, errors.New(errors.PhaseReload, errors.KindInvalidInput).
			Path(h.Path).
			Value(h.Generation).
			Detail("state of generation %d already relinquished", h.Generation).
			Build()
	}

	ptr, err := h.StatePtr(ctx)
	if err != nil {
		return hotreload.State{}, err
	}
	size, err := h.StateSize(ctx)
	if err != nil {
		return hotreload.State{}, err
	}

	h.relinquished = true
	return hotreload.State{Ptr: ptr, Size: size}, nil
}

// Relinquished reports whether the state has been handed over.
func (h *Handle) Relinquished() bool {
	return h.relinquished
}
