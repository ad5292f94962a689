// Package reload drives the host loop: one update per iteration, one change
// check, one decision, and at most one load/unload sequence.
//
// The decision table:
//
//	unchanged, no restart request      continue
//	changed or restart, load fails     skip, keep the current generation
//	changed, sizes equal, no restart   soft reload (old relinquishes, new adopts)
//	otherwise                          hard restart (old shuts down, new inits)
//
// "Changed" means the canonical modification time was readable and differs
// from the one captured by the current handle. Every load attempt consumes a
// generation number, so a failed attempt never reuses a versioned name.
package reload

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/hotreload/errors"
	"github.com/wippyai/hotreload/loader"
)

// Loader is the subset of *loader.Loader the controller uses.
type Loader interface {
	Load(ctx context.Context, generation uint64) (*loader.Handle, error)
	Unload(ctx context.Context, h *loader.Handle) error
	ModTime() (time.Time, error)
}

// ArenaUsage reports bytes allocated from the state arena. *arena.Arena
// implements it.
type ArenaUsage interface {
	Offset() uint32
}

// Options configures a Controller. The zero value runs as fast as possible
// with no observer and no metrics.
type Options struct {
	Observer Observer
	Metrics  *Metrics
	Arena    ArenaUsage
	Tick     time.Duration // pause between iterations in Run
}

var errNotStarted = errors.New(errors.PhaseReload, errors.KindInvalidInput).
	Detail("controller not started").
	Build()

// Controller owns the current generation. It is not safe for concurrent use;
// all calls must come from one goroutine.
type Controller struct {
	loader     Loader
	current    *loader.Handle
	options    Options
	attempts   uint64 // last generation number handed to Load
	iterations uint64
}

// New creates a controller over l.
func New(l Loader, opts Options) *Controller {
	return &Controller{loader: l, options: opts}
}

// Current returns the running generation's handle, or nil before Start and
// after Stop.
func (c *Controller) Current() *loader.Handle {
	return c.current
}

// Iterations returns the number of update calls made so far.
func (c *Controller) Iterations() uint64 {
	return c.iterations
}

// Start loads generation 0 and runs init_window then init_state on it.
func (c *Controller) Start(ctx context.Context) error {
	if c.current != nil {
		return errors.InvalidInput(errors.PhaseReload, "controller already started")
	}

	h, err := c.loader.Load(ctx, 0)
	if err != nil {
		return err
	}
	if err := h.InitWindow(ctx); err != nil {
		c.unload(ctx, h)
		return err
	}
	if err := h.InitState(ctx); err != nil {
		c.unload(ctx, h)
		return err
	}

	c.current = h
	c.emit(Event{Action: ActionStart, Generation: h.Generation})
	return nil
}

// Step runs one iteration. It returns false once the module's update signals
// stop; the caller then calls Stop. A non-nil error means a contract call
// trapped and the run must end.
func (c *Controller) Step(ctx context.Context) (bool, error) {
	cur := c.current
	if cur == nil {
		return false, errNotStarted
	}

	c.iterations++
	c.options.Metrics.iteration()

	cont, err := cur.Update(ctx)
	if err != nil {
		return false, err
	}
	defer c.sampleArena()
	if !cont {
		c.emit(Event{Action: ActionStop, Iteration: c.iterations, Generation: cur.Generation})
		return false, nil
	}

	mtime, err := c.loader.ModTime()
	changed := err == nil && !mtime.Equal(cur.ModTime)
	restart, err := cur.RestartRequested(ctx)
	if err != nil {
		return false, err
	}

	ev := Event{Iteration: c.iterations, Generation: cur.Generation, Changed: changed, Restart: restart}
	if !changed && !restart {
		ev.Action = ActionContinue
		c.emit(ev)
		return true, nil
	}

	c.attempts++
	ev.Attempt = c.attempts
	next, err := c.loader.Load(ctx, c.attempts)
	if err != nil {
		ev.Transient = transient(err)
		level := zap.ErrorLevel
		if ev.Transient {
			level = zap.WarnLevel
		}
		Logger().Log(level, "load failed, keeping current generation",
			zap.Uint64("attempt", c.attempts),
			zap.Uint64("generation", cur.Generation),
			zap.Bool("transient", ev.Transient),
			zap.Error(err))
		ev.Action = ActionSkipped
		ev.Err = err
		c.emit(ev)
		return true, nil
	}

	soft := false
	if !restart {
		soft, err = sameStateSize(ctx, cur, next)
		if err != nil {
			c.unload(ctx, next)
			return false, err
		}
	}

	if soft {
		err = c.softReload(ctx, cur, next)
		ev.Action = ActionSoftReload
	} else {
		err = c.hardRestart(ctx, cur, next)
		ev.Action = ActionHardRestart
	}
	if err != nil {
		return false, err
	}

	ev.Generation = next.Generation
	c.emit(ev)
	return true, nil
}

func sameStateSize(ctx context.Context, cur, next *loader.Handle) (bool, error) {
	oldSize, err := cur.StateSize(ctx)
	if err != nil {
		return false, err
	}
	newSize, err := next.StateSize(ctx)
	if err != nil {
		return false, err
	}
	return oldSize == newSize, nil
}

// softReload hands the old generation's state to next. The old generation
// relinquishes its pointer and is unloaded before next adopts it, so at no
// point do two generations consider the state theirs.
func (c *Controller) softReload(ctx context.Context, old, next *loader.Handle) error {
	state, err := old.Relinquish(ctx)
	if err != nil {
		c.unload(ctx, next)
		return err
	}
	c.unload(ctx, old)
	c.current = next

	Logger().Info("soft reload",
		zap.Uint64("from", old.Generation),
		zap.Uint64("to", next.Generation),
		zap.Uint32("state_ptr", state.Ptr),
		zap.Uint32("state_size", state.Size))

	return next.AdoptState(ctx, state.Ptr)
}

func (c *Controller) hardRestart(ctx context.Context, old, next *loader.Handle) error {
	if err := old.Shutdown(ctx); err != nil {
		c.unload(ctx, next)
		return err
	}
	c.unload(ctx, old)
	c.current = next

	Logger().Info("hard restart",
		zap.Uint64("from", old.Generation),
		zap.Uint64("to", next.Generation))

	return next.InitState(ctx)
}

// Stop runs shutdown and shutdown_window on the current generation and
// unloads it. Unload happens even if a call fails; the first call error is
// returned.
func (c *Controller) Stop(ctx context.Context) error {
	h := c.current
	if h == nil {
		return nil
	}
	c.current = nil

	err := h.Shutdown(ctx)
	if werr := h.ShutdownWindow(ctx); err == nil {
		err = werr
	}
	c.unload(ctx, h)

	Logger().Info("stopped", zap.Uint64("generation", h.Generation), zap.Uint64("iterations", c.iterations))
	return err
}

// Run starts the controller, steps until update signals stop or ctx is
// cancelled, then stops. Cancellation is checked between iterations only and
// ends the run cleanly.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	var timer *time.Timer
	if c.options.Tick > 0 {
		timer = time.NewTimer(c.options.Tick)
		defer timer.Stop()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		cont, err := c.Step(ctx)
		if err != nil {
			c.abort(context.WithoutCancel(ctx))
			return err
		}
		if !cont {
			break
		}
		if timer != nil {
			timer.Reset(c.options.Tick)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}

	return c.Stop(context.WithoutCancel(ctx))
}

// abort unloads the current generation without calling into it; used once a
// contract call has trapped.
func (c *Controller) abort(ctx context.Context) {
	if h := c.current; h != nil {
		c.current = nil
		c.unload(ctx, h)
	}
}

// unload releases h. Deletion failures are harmless because generation
// names are never reused, so they are only logged.
func (c *Controller) unload(ctx context.Context, h *loader.Handle) {
	if err := c.loader.Unload(ctx, h); err != nil {
		level := zap.WarnLevel
		var he *errors.Error
		if stderrors.As(err, &he) && he.Kind == errors.KindDeleteFailed {
			level = zap.InfoLevel
		}
		Logger().Log(level, "unload", zap.Uint64("generation", h.Generation), zap.Error(err))
	}
}

func (c *Controller) emit(ev Event) {
	c.options.Metrics.observe(ev)
	if c.options.Observer != nil {
		c.options.Observer(ev)
	}
}

func (c *Controller) sampleArena() {
	if c.options.Arena != nil {
		c.options.Metrics.setArenaBytes(c.options.Arena.Offset())
	}
}

// transient reports whether a failed load is expected to clear up once the
// artifact is rebuilt. Anything else is still skipped but logged as an error.
func transient(err error) bool {
	var cv *errors.ContractViolationError
	if stderrors.As(err, &cv) {
		return true
	}
	var he *errors.Error
	if stderrors.As(err, &he) {
		return he.Transient()
	}
	return false
}
