package reload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/hotreload/engine"
	"github.com/wippyai/hotreload/internal/wasmgen"
	"github.com/wippyai/hotreload/loader"
)

type harness struct {
	t      *testing.T
	engine *engine.Engine
	loader *loader.Loader
	mtime  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := engine.DefaultConfig()
	cfg.Stdout = &bytes.Buffer{}
	cfg.Stderr = &bytes.Buffer{}
	e, err := engine.New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close(ctx) })

	return &harness{
		t:      t,
		engine: e,
		loader: loader.New(filepath.Join(t.TempDir(), "game"), e),
		mtime:  time.Now().Add(-time.Hour).Truncate(time.Second),
	}
}

// build writes a new artifact with a strictly later modification time.
func (h *harness) build(opts wasmgen.CounterOptions) {
	h.t.Helper()
	path := h.loader.Path()
	if err := os.WriteFile(path, wasmgen.Counter(opts), 0o644); err != nil {
		h.t.Fatal(err)
	}
	h.mtime = h.mtime.Add(time.Second)
	if err := os.Chtimes(path, h.mtime, h.mtime); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) word(addr uint32) uint32 {
	v, ok := h.engine.Memory().ReadUint32Le(addr)
	if !ok {
		h.t.Fatalf("read %#x out of range", addr)
	}
	return v
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestIntegration_HardRestartOnLargerState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.build(wasmgen.CounterOptions{StateSize: 16, Tag: 1})

	var events []Event
	c := New(h.loader, Options{Arena: h.engine.Arena(), Observer: func(ev Event) { events = append(events, ev) }})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if !step(t, c) {
			t.Fatal("unexpected stop")
		}
	}
	if len(events) != 6 {
		t.Fatalf("events = %d, want start + 5 continues", len(events))
	}

	h.build(wasmgen.CounterOptions{StateSize: 32, Tag: 2})
	step(t, c)

	last := events[len(events)-1]
	if last.Action != ActionHardRestart || last.Generation != 1 {
		t.Fatalf("last event = %+v, want hard restart to generation 1", last)
	}
	if fileExists(h.loader.VersionedPath(0)) {
		t.Error("generation 0 copy should be deleted")
	}
	if !fileExists(h.loader.VersionedPath(1)) {
		t.Error("generation 1 copy should exist")
	}

	ptr, err := c.Current().StatePtr(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.word(ptr + 4); got != 2 {
		t.Errorf("tag = %d, want state reinitialised by build 2", got)
	}
	if got := h.word(ptr); got != 0 {
		t.Errorf("frames = %d, want 0 after restart", got)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if fileExists(h.loader.VersionedPath(1)) {
		t.Error("final generation copy should be deleted on stop")
	}
}

func TestIntegration_SoftReloadPreservesState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.build(wasmgen.CounterOptions{StateSize: 24, Tag: 7})

	c := New(h.loader, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		step(t, c)
	}

	ptr, _ := c.Current().StatePtr(ctx)
	before, ok := h.engine.Memory().Read(ptr, 24)
	if !ok {
		t.Fatal("state out of range")
	}
	before = bytes.Clone(before)

	h.build(wasmgen.CounterOptions{StateSize: 24, Tag: 9})
	step(t, c)

	if c.Current().Generation != 1 {
		t.Fatalf("generation = %d, want 1", c.Current().Generation)
	}
	newPtr, _ := c.Current().StatePtr(ctx)
	if newPtr != ptr {
		t.Fatalf("adopted ptr = %#x, want %#x", newPtr, ptr)
	}
	// The reloading iteration ran one more update on the old code.
	after, _ := h.engine.Memory().Read(ptr, 24)
	if got := h.word(ptr); got != 4 {
		t.Errorf("frames = %d, want 4", got)
	}
	if !bytes.Equal(after[4:], before[4:]) {
		t.Errorf("state changed across soft reload:\nbefore %x\nafter  %x", before, after)
	}

	// The new code keeps counting from the preserved value.
	step(t, c)
	if got := h.word(ptr); got != 5 {
		t.Errorf("frames = %d, want 5", got)
	}
	if got := h.word(ptr + 4); got != 7 {
		t.Errorf("tag = %d, want 7 from the first build", got)
	}
	c.Stop(ctx)
}

func TestIntegration_BrokenBuildKeepsRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.build(wasmgen.CounterOptions{})

	c := New(h.loader, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(h.loader.Path(), []byte{0x00, 0x61}, 0o644); err != nil {
		t.Fatal(err)
	}
	h.mtime = h.mtime.Add(time.Second)
	os.Chtimes(h.loader.Path(), h.mtime, h.mtime)

	if !step(t, c) {
		t.Fatal("broken build must not stop the loop")
	}
	if c.Current().Generation != 0 {
		t.Errorf("generation = %d, want 0", c.Current().Generation)
	}
	if fileExists(h.loader.VersionedPath(1)) {
		t.Error("failed attempt left its copy behind")
	}

	h.build(wasmgen.CounterOptions{})
	step(t, c)
	if c.Current().Generation != 2 {
		t.Errorf("generation = %d, want 2", c.Current().Generation)
	}
	c.Stop(ctx)
}

func TestIntegration_RunUntilStop(t *testing.T) {
	h := newHarness(t)
	h.build(wasmgen.CounterOptions{StopAt: 10, RestartAt: 4})

	counts := map[Action]int{}
	c := New(h.loader, Options{Observer: func(ev Event) {
		counts[ev.Action]++
		if ev.Action == ActionHardRestart {
			// Ship a build that no longer asks for restarts.
			h.build(wasmgen.CounterOptions{StopAt: 10})
		}
	}})
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Frame 4 restarts into generation 1 (frames from zero), the rebuild
	// soft-reloads into generation 2 at its frame 1, which then counts to 10.
	if counts[ActionHardRestart] != 1 || counts[ActionSoftReload] != 1 {
		t.Errorf("actions = %v", counts)
	}
	if c.Iterations() != 14 {
		t.Errorf("iterations = %d, want 14", c.Iterations())
	}
	if fileExists(h.loader.VersionedPath(2)) {
		t.Error("final generation copy should be deleted")
	}
}
