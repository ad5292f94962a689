// Package loader turns the canonical build artifact into bound module
// generations.
//
// For generation g of stem "game" the loader copies game.wasm to
// game_g.wasm, opens the copy and binds the contract. The host never holds
// the canonical file open, so the external build tool can overwrite it at any
// time without coordination. Unload closes the unit and deletes its copy.
package loader

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/errors"
)

// Opener opens a versioned artifact as a dynamic unit. *engine.Engine
// implements it.
type Opener interface {
	Open(ctx context.Context, path, name string) (hotreload.Unit, error)
}

// Loader loads and unloads generations of one artifact.
type Loader struct {
	opener Opener
	stem   string
}

// New creates a loader for stem, a path without extension such as
// "build/game".
func New(stem string, opener Opener) *Loader {
	return &Loader{opener: opener, stem: stem}
}

// Path returns the canonical artifact path.
func (l *Loader) Path() string {
	return l.stem + hotreload.Ext
}

// VersionedPath returns the private copy path for generation.
func (l *Loader) VersionedPath(generation uint64) string {
	return l.stem + "_" + strconv.FormatUint(generation, 10) + hotreload.Ext
}

// unitName is the instance name of a generation, unique within the engine.
func (l *Loader) unitName(generation uint64) string {
	return filepath.Base(l.stem) + "_" + strconv.FormatUint(generation, 10)
}

// ModTime reads the canonical artifact's modification time.
//
// A missing file and a file that cannot currently be stat'ed both yield
// artifact_unavailable; the fs cause is kept so errors.Is(err,
// fs.ErrNotExist) tells them apart.
func (l *Loader) ModTime() (time.Time, error) {
	path := l.Path()
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, errors.ArtifactUnavailable(path, err)
	}
	if !fi.Mode().IsRegular() {
		return time.Time{}, errors.New(errors.PhaseProbe, errors.KindArtifactUnavailable).
			Path(path).
			Value(fi.Mode()).
			Cause(fs.ErrInvalid).
			Detail("not a regular file").
			Build()
	}
	return fi.ModTime(), nil
}

// Load copies, opens and binds generation. Any failure leaves no unit open
// and, past the copy stage, no versioned file behind.
func (l *Loader) Load(ctx context.Context, generation uint64) (*Handle, error) {
	modTime, err := l.ModTime()
	if err != nil {
		return nil, err
	}

	src, dst := l.Path(), l.VersionedPath(generation)
	if err := copyFile(src, dst); err != nil {
		return nil, errors.CopyFailed(src, dst, err)
	}

	unit, err := l.opener.Open(ctx, dst, l.unitName(generation))
	if err != nil {
		l.discard(dst)
		var he *errors.Error
		if stderrors.As(err, &he) && he.Kind == errors.KindLoadFailed {
			return nil, err
		}
		return nil, errors.LoadFailed(dst, "open", err)
	}

	exports, err := Bind(unit, dst)
	if err != nil {
		if cerr := unit.Close(ctx); cerr != nil {
			Logger().Warn("close unbound unit", zap.String("path", dst), zap.Error(cerr))
		}
		l.discard(dst)
		return nil, err
	}

	Logger().Info("generation loaded",
		zap.Uint64("generation", generation),
		zap.String("path", dst),
		zap.Time("mtime", modTime))

	return &Handle{
		Module:     exports,
		Generation: generation,
		ModTime:    modTime,
		Path:       dst,
		unit:       unit,
	}, nil
}

// Unload closes the handle's unit and deletes its versioned copy. A close
// failure is logged; a delete failure is returned as delete_failed, which
// callers may treat as harmless since generation names are never reused.
func (l *Loader) Unload(ctx context.Context, h *Handle) error {
	if h.unloaded {
		return nil
	}
	h.unloaded = true

	if h.unit != nil {
		if err := h.unit.Close(ctx); err != nil {
			Logger().Warn("close unit", zap.Uint64("generation", h.Generation), zap.Error(err))
		}
	}

	if h.Path == "" {
		return nil
	}
	if err := os.Remove(h.Path); err != nil {
		return errors.DeleteFailed(h.Path, err)
	}

	Logger().Debug("generation unloaded", zap.Uint64("generation", h.Generation), zap.String("path", h.Path))
	return nil
}

func (l *Loader) discard(path string) {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		Logger().Warn("remove failed copy", zap.String("path", path), zap.Error(err))
	}
}

// copyFile copies src to dst, truncating dst. A partial dst is removed.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
