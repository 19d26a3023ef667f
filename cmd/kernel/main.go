package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/boot"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/demo"
	"github.com/wippyai/wasm-kernel/engine"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/kernel"
	"github.com/wippyai/wasm-kernel/platform"
)

type options struct {
	imageDir        string
	logFile         string
	policy          string
	timeout         time.Duration
	quantumDeadline time.Duration
	quantumBudget   uint64
	extentBudget    int
	maxInstances    int
	inputDepth      int
	messageDepth    int
	messageSize     int
	memoryPages     uint
	memoryBudget    uint
	demo            bool
	headless        bool
	mouse           bool
	debug           bool
}

func main() {
	defaults := kernel.DefaultConfig()
	var o options
	flag.StringVar(&o.imageDir, "images", "", "Directory of .wasm images (with optional .manifest sidecars)")
	flag.BoolVar(&o.demo, "demo", false, "Load the built-in pulse and watcher images")
	flag.BoolVar(&o.headless, "headless", false, "Run without the terminal surface")
	flag.BoolVar(&o.mouse, "mouse", false, "Report mouse events to instances")
	flag.StringVar(&o.logFile, "log", "", "Log file (default: stderr when headless, discarded otherwise)")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&o.policy, "policy", "reject", "Write-claim conflict policy: reject or grant")
	flag.IntVar(&o.maxInstances, "max-instances", defaults.MaxInstances, "Maximum live instances")
	flag.UintVar(&o.memoryPages, "memory-pages", uint(defaults.MemoryCeilingPages), "Per-instance memory ceiling in 64KiB pages")
	flag.UintVar(&o.memoryBudget, "memory-budget", uint(defaults.MemoryBudgetPages), "Total memory budget in 64KiB pages")
	flag.IntVar(&o.extentBudget, "extent-budget", defaults.ExtentBudget, "Total bytes for memory extents")
	flag.Uint64Var(&o.quantumBudget, "quantum-budget", uint64(defaults.QuantumBudget), "Per-quantum tick budget (0 disables)")
	flag.DurationVar(&o.quantumDeadline, "quantum-deadline", 0, "Abort a quantum after this long (0 disables)")
	flag.IntVar(&o.inputDepth, "input-depth", defaults.InputQueueDepth, "Pending input events per instance")
	flag.IntVar(&o.messageDepth, "message-depth", defaults.MessageQueueDepth, "Pending messages per instance")
	flag.IntVar(&o.messageSize, "message-size", defaults.MaxMessageSize, "Largest message payload in bytes")
	flag.DurationVar(&o.timeout, "timeout", 0, "Stop after this long (0 runs until quit)")
	flag.Parse()

	if o.imageDir == "" && !o.demo && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kernel [flags] <image.wasm>...")
		fmt.Fprintln(os.Stderr, "       kernel -images <dir>")
		fmt.Fprintln(os.Stderr, "       kernel -demo")
		os.Exit(1)
	}

	if err := run(o, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, files []string) error {
	logger, err := newLogger(o)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	engine.SetLogger(logger.Named("engine"))

	cfg, err := kernelConfig(o, logger)
	if err != nil {
		return err
	}

	images, err := collectImages(o, files)
	if err != nil {
		return err
	}

	plat, err := platform.New(platform.Options{
		Logger:   logger,
		Headless: o.headless,
		Mouse:    o.mouse,
		Title:    "wasm-kernel",
	})
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	seq := boot.New(plat, cfg, boot.WithLogger(logger.Named("boot")))
	err = seq.Run(ctx, images...)
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func newLogger(o options) (*zap.Logger, error) {
	if o.logFile == "" && !o.headless {
		return zap.NewNop(), nil
	}
	var cfg zap.Config
	if o.debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if o.logFile != "" {
		cfg.OutputPaths = []string{o.logFile}
		cfg.ErrorOutputPaths = []string{o.logFile}
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}
	return cfg.Build()
}

func kernelConfig(o options, logger *zap.Logger) (kernel.Config, error) {
	cfg := kernel.DefaultConfig()
	cfg.Logger = logger.Named("kernel")
	cfg.MaxInstances = o.maxInstances
	cfg.MemoryCeilingPages = uint32(o.memoryPages)
	cfg.MemoryBudgetPages = uint32(o.memoryBudget)
	cfg.ExtentBudget = o.extentBudget
	cfg.QuantumDeadline = o.quantumDeadline
	cfg.InputQueueDepth = o.inputDepth
	cfg.MessageQueueDepth = o.messageDepth
	cfg.MaxMessageSize = o.messageSize
	cfg.QuantumBudget = bal.Tick(o.quantumBudget)

	switch strings.ToLower(o.policy) {
	case "reject", "":
		cfg.Policy = capability.RejectWholesale
	case "grant":
		cfg.Policy = capability.GrantNonConflicting
	default:
		return cfg, fmt.Errorf("unknown policy %q (want reject or grant)", o.policy)
	}
	return cfg, cfg.Validate()
}

// collectImages gathers the demo images, every .wasm under -images and the
// files named on the command line, in that order.
func collectImages(o options, files []string) ([]*image.Image, error) {
	var images []*image.Image
	if o.demo {
		images = append(images, demo.Images()...)
	}

	if o.imageDir != "" {
		fsys := os.DirFS(o.imageDir)
		names, err := fs.Glob(fsys, "*.wasm")
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			img, err := image.Open(fsys, name)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path.Join(o.imageDir, name), err)
			}
			images = append(images, img)
		}
	}

	for _, f := range files {
		img, err := image.Open(os.DirFS(filepath.Dir(f)), filepath.Base(f))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f, err)
		}
		images = append(images, img)
	}
	return images, nil
}
