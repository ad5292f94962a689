package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wippyai/hotreload"
	"github.com/wippyai/hotreload/engine"
	"github.com/wippyai/hotreload/internal/config"
	"github.com/wippyai/hotreload/loader"
	"github.com/wippyai/hotreload/reload"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the process exit code: 1 on bad usage or a failed run,
// 0 once the module asked to stop or the host was interrupted.
func realMain(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("hotreload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	interactive := fs.Bool("i", false, "Interactive mode with TUI")
	static := fs.Bool("static", false, "Run <stem>.wasm in place once, without reloading")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: hotreload [-i | -static] <stem>")
		fmt.Fprintln(stderr, "       runs <stem>.wasm and reloads it whenever it is rebuilt")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	if *interactive && *static {
		fmt.Fprintln(stderr, "Error: -i and -static are mutually exclusive")
		return 1
	}

	mode := modeReload
	switch {
	case *interactive:
		mode = modeInteractive
	case *static:
		mode = modeStatic
	}

	if err := run(fs.Arg(0), mode, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type runMode int

const (
	modeReload runMode = iota
	modeInteractive
	modeStatic
)

func run(stem string, mode runMode, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	interactive := mode == modeInteractive
	sink := stderr
	var events *eventLog
	if interactive {
		events = newEventLog(10)
		sink = events
		if cfg.LogFormat == config.FormatAuto {
			cfg.LogFormat = config.FormatConsole
		}
	}
	log := cfg.NewLogger(sink)
	defer log.Sync()

	engine.SetLogger(log.Named("engine"))
	loader.SetLogger(log.Named("loader"))
	reload.SetLogger(log.Named("reload"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ecfg := engine.DefaultConfig()
	ecfg.ArenaBase = uint32(cfg.ArenaBase)
	ecfg.ArenaCapacity = uint32(cfg.ArenaCapacity)
	if interactive {
		ecfg.Stdout = events
		ecfg.Stderr = events
	}

	eng, err := engine.New(ctx, ecfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	if mode == modeStatic {
		path := stem + hotreload.Ext
		log.Info("starting static",
			zap.String("artifact", path),
			zap.Stringer("arena_base", cfg.ArenaBase),
			zap.Stringer("arena_capacity", cfg.ArenaCapacity))
		return runStatic(ctx, log, eng, path, cfg.Tick)
	}

	metrics := reload.NewMetrics()
	opts := reload.Options{
		Metrics: metrics,
		Arena:   eng.Arena(),
		Tick:    cfg.Tick,
	}
	ld := loader.New(stem, eng)

	log.Info("starting",
		zap.String("artifact", ld.Path()),
		zap.Stringer("arena_base", cfg.ArenaBase),
		zap.Stringer("arena_capacity", cfg.ArenaCapacity),
		zap.Duration("tick", cfg.Tick))

	if interactive {
		err = runInteractive(ctx, ld, opts, eng, events)
	} else {
		err = reload.New(ld, opts).Run(ctx)
	}

	if cfg.MetricsFile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
			log.Warn("write metrics", zap.String("path", cfg.MetricsFile), zap.Error(werr))
		}
	}
	return err
}
