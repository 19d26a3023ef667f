package boot

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/kernel"
)

// Stage is a point in the boot sequence.
type Stage uint8

const (
	StageReset Stage = iota
	StageStack
	StageZeroStatic
	StageVectors
	StageKernelInit
	StageRunning
)

func (s Stage) String() string {
	switch s {
	case StageReset:
		return "reset"
	case StageStack:
		return "stack"
	case StageZeroStatic:
		return "zero-static"
	case StageVectors:
		return "vectors"
	case StageKernelInit:
		return "kernel-init"
	case StageRunning:
		return "running"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Platform supplies the target-specific boot hooks.
type Platform interface {
	SetupStack() error
	ZeroStatic() error
	InstallVectors(vt *VectorTable) error
	// Backend is the BAL the kernel will drive.
	Backend() bal.Backend
	// Fatal is called with every boot fault. Bare metal does not return.
	Fatal(err error)
}

// Sequence drives a Platform from reset to a running kernel.
type Sequence struct {
	platform Platform
	logger   *zap.Logger
	vectors  *VectorTable
	kernel   *kernel.Kernel
	cfg      kernel.Config
	stage    Stage
}

// Option configures a Sequence.
type Option func(*Sequence)

// WithLogger sets the boot logger. The kernel logs through cfg.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sequence) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVectors installs vt instead of the default all-trapped table.
func WithVectors(vt *VectorTable) Option {
	return func(s *Sequence) {
		if vt != nil {
			s.vectors = vt
		}
	}
}

// New creates a sequence at StageReset.
func New(p Platform, cfg kernel.Config, opts ...Option) *Sequence {
	s := &Sequence{
		platform: p,
		cfg:      cfg,
		logger:   zap.NewNop(),
		vectors:  NewVectorTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage returns the last completed stage.
func (s *Sequence) Stage() Stage {
	return s.stage
}

// Kernel returns the kernel once StageKernelInit has completed.
func (s *Sequence) Kernel() *kernel.Kernel {
	return s.kernel
}

// Vectors returns the vector table the sequence installs.
func (s *Sequence) Vectors() *VectorTable {
	return s.vectors
}

// Boot runs every stage up to StageRunning. Errors and panics become boot
// faults reported to Platform.Fatal.
func (s *Sequence) Boot(ctx context.Context) (k *kernel.Kernel, err error) {
	if s.stage != StageReset {
		return nil, errors.BootFault(s.stage.String(), fmt.Errorf("already booted"))
	}

	next := StageStack
	defer func() {
		if r := recover(); r != nil {
			err = errors.BootFault(next.String(), fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			k = nil
			s.fault(ctx, err)
		}
	}()

	steps := []struct {
		run   func() error
		stage Stage
	}{
		{stage: StageStack, run: s.platform.SetupStack},
		{stage: StageZeroStatic, run: s.platform.ZeroStatic},
		{stage: StageVectors, run: func() error { return s.platform.InstallVectors(s.vectors) }},
		{stage: StageKernelInit, run: func() error { return s.initKernel(ctx) }},
	}
	for _, step := range steps {
		next = step.stage
		if err := step.run(); err != nil {
			return nil, errors.BootFault(step.stage.String(), err)
		}
		s.stage = step.stage
		s.logger.Debug("boot stage complete", zap.Stringer("stage", step.stage))
	}

	s.stage = StageRunning
	s.logger.Info("kernel running")
	return s.kernel, nil
}

func (s *Sequence) initKernel(ctx context.Context) error {
	backend := s.platform.Backend()
	if backend == nil {
		return fmt.Errorf("platform has no backend")
	}
	k, err := kernel.New(ctx, backend, s.cfg)
	if err != nil {
		return err
	}
	s.kernel = k
	return nil
}

// fault reports err and releases a half-built kernel.
func (s *Sequence) fault(ctx context.Context, err error) {
	s.logger.Error("boot fault", zap.Stringer("reached", s.stage), zap.Error(err))
	if s.kernel != nil {
		_ = s.kernel.Close(ctx)
		s.kernel = nil
	}
	s.platform.Fatal(err)
}

// Run boots, loads images, runs the kernel to completion and halts the
// backend. An image that fails to load is logged and skipped.
func (s *Sequence) Run(ctx context.Context, images ...*image.Image) error {
	k, err := s.Boot(ctx)
	if err != nil {
		return err
	}

	for _, img := range images {
		id, err := k.Load(ctx, img)
		if err != nil {
			s.logger.Warn("image rejected", zap.String("image", img.Name()), zap.Error(err))
			continue
		}
		s.logger.Info("image loaded", zap.String("image", img.Name()), zap.Uint32("instance", uint32(id)))
	}

	runErr := k.Run(ctx)
	for _, snap := range k.Snapshots() {
		s.logger.Debug("instance summary",
			zap.Uint32("instance", uint32(snap.ID)),
			zap.String("image", snap.Name),
			zap.Stringer("state", snap.State),
			zap.Uint64("quanta", snap.Quanta),
			zap.Uint64("overruns", snap.Overruns),
			zap.Int("pending_messages", snap.PendingMessages),
			zap.Bool("exited", snap.Exited),
			zap.Uint32("exit_code", snap.ExitCode),
			zap.NamedError("trap", snap.Err))
	}
	err = multierr.Combine(runErr, k.Close(ctx))
	s.platform.Backend().Halt()
	return err
}
