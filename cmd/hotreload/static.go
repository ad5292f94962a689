package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/loader"
)

// runStatic runs the artifact at path once, in place. There is no private
// copy, no generation counter and no change polling; it is the release-build
// host for a module that will not be rebuilt while it runs.
func runStatic(ctx context.Context, log *zap.Logger, opener loader.Opener, path string, tick time.Duration) error {
	name := strings.TrimSuffix(filepath.Base(path), hotreload.Ext)
	unit, err := opener.Open(ctx, path, name)
	if err != nil {
		return err
	}
	defer unit.Close(context.WithoutCancel(ctx))

	mod, err := loader.Bind(unit, path)
	if err != nil {
		return err
	}

	if err := mod.InitWindow(ctx); err != nil {
		return err
	}
	if err := mod.InitState(ctx); err != nil {
		return err
	}

	var ticker *time.Ticker
	if tick > 0 {
		ticker = time.NewTicker(tick)
		defer ticker.Stop()
	}

	frames := 0
	for ctx.Err() == nil {
		cont, err := mod.Update(ctx)
		if err != nil {
			return err
		}
		frames++
		if !cont {
			break
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}
	log.Info("static run finished", zap.String("artifact", path), zap.Int("frames", frames))

	// Shutdown runs on cancellation too, like a clean stop.
	final := context.WithoutCancel(ctx)
	if err := mod.Shutdown(final); err != nil {
		return err
	}
	return mod.ShutdownWindow(final)
}
