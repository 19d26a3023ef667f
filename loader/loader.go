package loader

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/engine"
	"github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/wasm"
)

// Config bounds what the loader admits.
type Config struct {
	// MaxInstances caps live instances.
	MaxInstances int
	// MemoryCeilingPages caps any single declared memory.
	MemoryCeilingPages uint32
	// MemoryBudgetPages caps the pages reserved across live instances.
	// Each instance reserves its declared maximum, or the ceiling if it
	// declares none.
	MemoryBudgetPages uint32
	// Policy decides what happens when a write grant is already held.
	Policy capability.ConflictPolicy
}

// Loader validates and instantiates images. Not safe for concurrent use.
type Loader struct {
	engine   *engine.WazeroEngine
	registry *capability.Registry
	logger   *zap.Logger
	cfg      Config
	live     int
	pages    uint32
}

// Loaded is a successfully instantiated image.
type Loaded struct {
	Instance *engine.WazeroInstance
	Table    *capability.Table
	Manifest *image.Manifest
	Name     string
	// Skipped lists manifest entries whose write was withheld under
	// GrantNonConflicting.
	Skipped  []image.Entry
	ID       wasmkernel.InstanceID
	Pages    uint32
	released bool
}

// New creates a loader. The engine must already have the syscall host module
// registered.
func New(eng *engine.WazeroEngine, reg *capability.Registry, cfg Config, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		engine:   eng,
		registry: reg,
		cfg:      cfg,
		logger:   logger,
	}
}

// Live returns the number of loaded, unreleased instances.
func (l *Loader) Live() int {
	return l.live
}

// PagesReserved returns the pages held by live instances.
func (l *Loader) PagesReserved() uint32 {
	return l.pages
}

// Load validates img and instantiates it as instance id.
func (l *Loader) Load(ctx context.Context, img *image.Image, id wasmkernel.InstanceID) (*Loaded, error) {
	data := img.Bytes()

	info, err := wasm.Scan(data)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformed).
			Instance(uint32(id)).Cause(err).Detail("image %s", img.Name()).Build()
	}

	manifest, err := l.manifest(img, info)
	if err != nil {
		return nil, err
	}

	if err := checkImports(info); err != nil {
		return nil, err
	}
	if err := checkEntryPoint(info); err != nil {
		return nil, err
	}

	pages, err := l.checkMemory(info, len(manifest.Entries))
	if err != nil {
		return nil, err
	}

	mod, err := l.engine.Compile(ctx, data)
	if err != nil {
		return nil, err
	}

	table := capability.NewTable()
	skipped, err := l.grant(id, table, manifest)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}

	inst, err := mod.Instantiate(ctx, fmt.Sprintf("%s#%d", img.Name(), id))
	if err != nil {
		l.revoke(id, table)
		_ = mod.Close(ctx)
		return nil, errors.Malformed("instantiate "+img.Name(), err)
	}

	l.live++
	l.pages += pages

	l.logger.Info("module loaded",
		zap.Uint32("instance", uint32(id)),
		zap.String("image", img.Name()),
		zap.Int("capabilities", table.Len()),
		zap.Int("skipped", len(skipped)),
		zap.Uint32("pages", pages))

	return &Loaded{
		ID:       id,
		Name:     img.Name(),
		Instance: inst,
		Table:    table,
		Manifest: manifest,
		Skipped:  skipped,
		Pages:    pages,
	}, nil
}

// Release closes the instance, returns its capabilities, its slot and its
// pages. Releasing twice is a no-op.
func (l *Loader) Release(ctx context.Context, ld *Loaded) error {
	if ld == nil || ld.released {
		return nil
	}
	ld.released = true

	l.revoke(ld.ID, ld.Table)
	err := ld.Instance.Close(ctx)

	l.live--
	l.pages -= ld.Pages

	l.logger.Info("module released",
		zap.Uint32("instance", uint32(ld.ID)),
		zap.String("image", ld.Name))
	return err
}

func (l *Loader) manifest(img *image.Image, info *wasm.Info) (*image.Manifest, error) {
	text, ok := info.CustomSection(abi.ManifestSection)
	if !ok {
		text, ok = img.Sidecar()
	}
	if !ok {
		return &image.Manifest{}, nil
	}
	return image.ParseManifest(text)
}

func checkImports(info *wasm.Info) error {
	var bad []errors.ImportMismatch
	for _, imp := range info.Imports {
		reason := importReason(info, imp)
		if reason != "" {
			bad = append(bad, errors.ImportMismatch{Namespace: imp.Module, Name: imp.Name, Reason: reason})
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return errors.SignatureMismatch("imports", &errors.ImportMismatchError{Imports: bad})
}

func importReason(info *wasm.Info, imp wasm.Import) string {
	if imp.Kind != wasm.KindFunc {
		return wasm.KindName(imp.Kind) + " imports are not provided"
	}
	if imp.Module != abi.Namespace {
		return "unknown namespace"
	}
	sig, ok := abi.Lookup(imp.Name)
	if !ok {
		return "unknown syscall"
	}
	if int(imp.TypeIndex) >= len(info.Types) {
		return "invalid type index"
	}
	ft := info.Types[imp.TypeIndex]
	if !sig.Matches(lowerTypes(ft.Params), lowerTypes(ft.Results)) {
		return fmt.Sprintf("signature %s, want %s", describe(lowerTypes(ft.Params), lowerTypes(ft.Results)), describe(sig.Params, sig.Results))
	}
	return ""
}

func checkEntryPoint(info *wasm.Info) error {
	exp, ok := info.Export(abi.EntryPoint)
	if !ok || exp.Kind != wasm.KindFunc {
		return errors.SignatureMismatch(fmt.Sprintf("missing %q export", abi.EntryPoint), nil)
	}
	ft, ok := info.FuncSignature(exp.Index)
	if !ok || len(ft.Params) != 0 || len(ft.Results) != 0 {
		return errors.SignatureMismatch(fmt.Sprintf("%q must be func()", abi.EntryPoint), nil)
	}
	return nil
}

func (l *Loader) checkMemory(info *wasm.Info, grants int) (uint32, error) {
	ceiling := uint64(l.cfg.MemoryCeilingPages)
	var pages uint64
	for _, m := range info.Memories {
		if m.Min > ceiling || (m.HasMax && m.Max > ceiling) {
			return 0, errors.ResourceExhausted(fmt.Sprintf("memory declares %d..%d pages, ceiling is %d", m.Min, m.Max, ceiling))
		}
		if m.HasMax {
			pages += m.Max
		} else {
			pages += ceiling
		}
	}

	if l.cfg.MaxInstances > 0 && l.live >= l.cfg.MaxInstances {
		return 0, errors.ResourceExhausted(fmt.Sprintf("instance limit %d reached", l.cfg.MaxInstances))
	}
	if l.cfg.MemoryBudgetPages > 0 && uint64(l.pages)+pages > uint64(l.cfg.MemoryBudgetPages) {
		return 0, errors.ResourceExhausted(fmt.Sprintf("page budget: %d of %d reserved, %d requested", l.pages, l.cfg.MemoryBudgetPages, pages))
	}
	if grants > capability.Slots {
		return 0, errors.ResourceExhausted(fmt.Sprintf("manifest requests %d capabilities, table holds %d", grants, capability.Slots))
	}
	return uint32(pages), nil
}

// grant mints the manifest's capabilities into table at their manifest
// index. Under GrantNonConflicting an entry whose write is held elsewhere
// keeps its remaining rights; an entry with nothing left leaves its slot
// empty. Both are reported as skipped.
func (l *Loader) grant(id wasmkernel.InstanceID, table *capability.Table, m *image.Manifest) ([]image.Entry, error) {
	var skipped []image.Entry
	for i, e := range m.Entries {
		c, err := l.registry.Grant(id, e.Kind, e.Name, e.Rights, e.Size)
		if err != nil && errors.Is(err, errors.ErrWriteHeld) && l.cfg.Policy == capability.GrantNonConflicting {
			rest := e.Rights &^ capability.RightWrite
			l.logger.Warn("capability conflict, write not granted",
				zap.Uint32("instance", uint32(id)),
				zap.Int("slot", i),
				zap.String("resource", e.Resource()),
				zap.Stringer("granted", rest),
				zap.Error(err))
			skipped = append(skipped, e)
			if rest == 0 {
				continue
			}
			c, err = l.registry.Grant(id, e.Kind, e.Name, rest, e.Size)
		}
		if err != nil {
			l.revoke(id, table)
			if errors.Is(err, errors.ErrResourceExhausted) {
				return nil, err
			}
			return nil, errors.New(errors.PhaseLoad, errors.KindResourceExhausted).
				Instance(uint32(id)).Cause(err).Detail("manifest line %d", e.Line).Build()
		}
		_ = table.Set(uint32(i), c)
	}
	return skipped, nil
}

func (l *Loader) revoke(id wasmkernel.InstanceID, table *capability.Table) {
	for _, c := range table.Clear() {
		l.registry.Release(id, c)
	}
}

// lowerTypes maps binary value types to wazero's; the encodings coincide.
func lowerTypes(in []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(in))
	for i, v := range in {
		out[i] = api.ValueType(v)
	}
	return out
}

func describe(params, results []api.ValueType) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(p)
	}
	s += ") -> ("
	for i, r := range results {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(r)
	}
	return s + ")"
}
