package loader

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/engine"
	"github.com/wippyai/hotreload/errors"
	"github.com/wippyai/hotreload/internal/wasmgen"
)

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	ctx := context.Background()

	cfg := engine.DefaultConfig()
	cfg.Stdout = &bytes.Buffer{}
	cfg.Stderr = &bytes.Buffer{}
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })

	stem := filepath.Join(t.TempDir(), "game")
	return New(stem, eng), stem
}

func writeArtifact(t *testing.T, l *Loader, bin []byte) {
	t.Helper()
	if err := os.WriteFile(l.Path(), bin, 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPaths(t *testing.T) {
	l := New(filepath.Join("build", "game"), nil)

	if got, want := l.Path(), filepath.Join("build", "game.wasm"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	if got, want := l.VersionedPath(12), filepath.Join("build", "game_12.wasm"); got != want {
		t.Errorf("VersionedPath(12) = %q, want %q", got, want)
	}
	if got := l.unitName(3); got != "game_3" {
		t.Errorf("unitName(3) = %q", got)
	}
}

func TestLoad_ArtifactUnavailable(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Load(context.Background(), 0)
	if !stderrors.Is(err, errors.ErrArtifactUnavailable) {
		t.Fatalf("err = %v, want artifact_unavailable", err)
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		t.Error("missing artifact should unwrap to fs.ErrNotExist")
	}
	if exists(l.VersionedPath(0)) {
		t.Error("no copy should be made when the artifact is unavailable")
	}
}

func TestModTime_Directory(t *testing.T) {
	l, _ := newTestLoader(t)
	if err := os.Mkdir(l.Path(), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := l.ModTime()
	if !stderrors.Is(err, errors.ErrArtifactUnavailable) {
		t.Errorf("err = %v, want artifact_unavailable", err)
	}
	var he *errors.Error
	if !stderrors.As(err, &he) {
		t.Fatalf("err = %T, want *errors.Error", err)
	}
	if he.Path != l.Path() || !he.Transient() {
		t.Errorf("path = %q, transient = %v", he.Path, he.Transient())
	}
	if mode, ok := he.Value.(fs.FileMode); !ok || !mode.IsDir() {
		t.Errorf("value = %v, want the directory mode", he.Value)
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		t.Error("a directory must not look like a missing file")
	}
}

func TestLoad_Success(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{StateSize: 24}))

	mtime, err := l.ModTime()
	if err != nil {
		t.Fatal(err)
	}

	h, err := l.Load(ctx, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer l.Unload(ctx, h)

	if h.Generation != 0 || !h.ModTime.Equal(mtime) || h.Path != l.VersionedPath(0) {
		t.Errorf("handle = gen %d mtime %v path %s", h.Generation, h.ModTime, h.Path)
	}
	if !exists(h.Path) {
		t.Error("versioned copy missing")
	}

	if err := h.InitState(ctx); err != nil {
		t.Fatal(err)
	}
	size, err := h.StateSize(ctx)
	if err != nil || size != 24 {
		t.Errorf("StateSize = %d, %v", size, err)
	}
	cont, err := h.Update(ctx)
	if err != nil || !cont {
		t.Errorf("Update = %v, %v", cont, err)
	}
	restart, err := h.RestartRequested(ctx)
	if err != nil || restart {
		t.Errorf("RestartRequested = %v, %v", restart, err)
	}
}

func TestLoad_TwoGenerationsOpen(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{Tag: 1}))

	h1, err := l.Load(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := l.Load(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	if h1.Path == h2.Path {
		t.Fatal("generations share a versioned path")
	}
	if !exists(h1.Path) || !exists(h2.Path) {
		t.Fatal("both versioned copies should exist")
	}

	for _, h := range []*Handle{h1, h2} {
		if err := h.InitState(ctx); err != nil {
			t.Errorf("gen %d InitState: %v", h.Generation, err)
		}
		if _, err := h.Update(ctx); err != nil {
			t.Errorf("gen %d Update: %v", h.Generation, err)
		}
	}

	if err := l.Unload(ctx, h1); err != nil {
		t.Fatal(err)
	}
	if exists(h1.Path) {
		t.Error("gen 1 copy should be deleted")
	}
	if _, err := h2.Update(ctx); err != nil {
		t.Errorf("gen 2 should still run after gen 1 unload: %v", err)
	}
	if err := l.Unload(ctx, h2); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_ContractViolation(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{
		Omit: []string{hotreload.ExportAdoptState, hotreload.ExportRestartRequested},
	}))

	_, err := l.Load(ctx, 0)
	if !stderrors.Is(err, errors.ErrContractViolation) {
		t.Fatalf("err = %v, want contract_violation", err)
	}
	var cv *errors.ContractViolationError
	if !stderrors.As(err, &cv) || len(cv.Problems) != 2 {
		t.Fatalf("want both missing exports reported, got %v", err)
	}
	if exists(l.VersionedPath(0)) {
		t.Error("copy of an unbindable module should be removed")
	}

	// The unit must have been closed: the same instance name is free again.
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{}))
	h, err := l.Load(ctx, 0)
	if err != nil {
		t.Fatalf("reload after violation: %v", err)
	}
	l.Unload(ctx, h)
}

func TestLoad_LoadFailed(t *testing.T) {
	l, _ := newTestLoader(t)
	writeArtifact(t, l, []byte{0x00, 0x61, 0x73}) // truncated mid-write

	_, err := l.Load(context.Background(), 4)
	if !stderrors.Is(err, errors.ErrLoadFailed) {
		t.Fatalf("err = %v, want load_failed", err)
	}
	if exists(l.VersionedPath(4)) {
		t.Error("copy of an unloadable module should be removed")
	}
}

type failingOpener struct{ err error }

func (f failingOpener) Open(context.Context, string, string) (hotreload.Unit, error) {
	return nil, f.err
}

func TestLoad_OpenerErrorWrapped(t *testing.T) {
	stem := filepath.Join(t.TempDir(), "game")
	l := New(stem, failingOpener{err: stderrors.New("abi mismatch")})
	if err := os.WriteFile(l.Path(), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := l.Load(context.Background(), 0)
	if !stderrors.Is(err, errors.ErrLoadFailed) {
		t.Errorf("err = %v, want load_failed", err)
	}
}

func TestLoad_CopyFailed(t *testing.T) {
	l, _ := newTestLoader(t)
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{}))
	if err := os.Mkdir(l.VersionedPath(0), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := l.Load(context.Background(), 0)
	if !stderrors.Is(err, errors.ErrCopyFailed) {
		t.Errorf("err = %v, want copy_failed", err)
	}
}

func TestUnload_DeleteFailureReported(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{}))

	h, err := l.Load(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(h.Path); err != nil {
		t.Fatal(err)
	}

	err = l.Unload(ctx, h)
	var he *errors.Error
	if !stderrors.As(err, &he) || he.Kind != errors.KindDeleteFailed {
		t.Errorf("err = %v, want delete_failed", err)
	}
	if err := l.Unload(ctx, h); err != nil {
		t.Errorf("second Unload = %v, want nil", err)
	}
}

func TestLoad_CanonicalUntouched(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	bin := wasmgen.Counter(wasmgen.CounterOptions{})
	writeArtifact(t, l, bin)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(l.Path(), old, old); err != nil {
		t.Fatal(err)
	}

	h, err := l.Load(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	l.Unload(ctx, h)

	got, err := os.ReadFile(l.Path())
	if err != nil || !bytes.Equal(got, bin) {
		t.Error("canonical artifact changed")
	}
	mtime, _ := l.ModTime()
	if !mtime.Equal(old) {
		t.Errorf("canonical mtime = %v, want %v", mtime, old)
	}
}

func TestHandle_RelinquishOnce(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()
	writeArtifact(t, l, wasmgen.Counter(wasmgen.CounterOptions{StateSize: 32}))

	h, err := l.Load(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Unload(ctx, h)
	if err := h.InitState(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := h.Relinquish(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Ptr == 0 || st.Size != 32 {
		t.Errorf("state = %+v", st)
	}
	if !h.Relinquished() {
		t.Error("Relinquished() = false")
	}
	_, err = h.Relinquish(ctx)
	var he *errors.Error
	if !stderrors.As(err, &he) {
		t.Fatalf("second Relinquish: err = %v, want *errors.Error", err)
	}
	if he.Kind != errors.KindInvalidInput || he.Path != h.Path || he.Value != h.Generation {
		t.Errorf("second Relinquish: %+v", he)
	}
}
