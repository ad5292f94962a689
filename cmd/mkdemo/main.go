// Command mkdemo writes a counter module that satisfies the hot-reload
// contract. Rebuilding it with the same -size provokes a soft reload in a
// running host; a different -size provokes a hard restart.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/internal/wasmgen"
)

func main() {
	var (
		size      = flag.Uint("size", 64, "State block size in bytes")
		frames    = flag.Uint("frames", 0, "Stop after this many frames (0 runs forever)")
		restartAt = flag.Uint("restart-at", 0, "Request a restart at this frame (0 never)")
		tag       = flag.Int("tag", 1, "Build tag written into fresh state")
		greeting  = flag.String("greeting", "", "Text logged through the host on init_state")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: mkdemo [-size N] [-frames N] [-restart-at N] <stem>")
		os.Exit(1)
	}
	if *size > 1<<31 || *frames > 1<<31 || *restartAt > 1<<31 {
		fmt.Fprintln(os.Stderr, "Error: -size, -frames and -restart-at must fit in a signed 32-bit integer")
		os.Exit(1)
	}

	bin := wasmgen.Counter(wasmgen.CounterOptions{
		StateSize: uint32(*size),
		Tag:       int32(*tag),
		StopAt:    uint32(*frames),
		RestartAt: uint32(*restartAt),
		Greeting:  *greeting,
	})

	if err := write(flag.Arg(0)+hotreload.Ext, bin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// write replaces path through a rename so a polling host never copies a
// half-written module.
func write(path string, bin []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mkdemo-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(bin); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
