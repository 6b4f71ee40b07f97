// Package universal loads compiled WebAssembly modules into executable memory. An Engine
// compiles module binaries into relocatable executables, lays executables out in code memory,
// links and publishes them, and returns artifacts whose functions can be called natively.
// Executables can be serialized and loaded back without an intermediate copy.
package universal

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/internal/codememory"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// Engine compiles and loads modules. Clones share the compiler, the code memory pool and the
// registries, so handles issued by one clone are valid on every other.
type Engine struct {
	inner    *engineInner
	id       string
	target   compiler.Target
	host     compiler.Target
	features wasm.Features
	tunables vm.Tunables
	libCalls vm.LibCallResolver
	logger   *zap.Logger
	metrics  *engineMetrics
}

// engineInner is the state shared by clones. Compile and load hold mu for their whole duration.
type engineInner struct {
	mu sync.Mutex
	// compiler is nil for a headless engine.
	compiler   compiler.Compiler
	pool       *codememory.Pool
	signatures *vm.SignatureRegistry
	funcData   *vm.FuncDataRegistry
}

var lastEngineID atomic.Uint64

// NewEngine returns an engine configured by cfg. A nil cfg means NewEngineConfig.
func NewEngine(cfg *EngineConfig) *Engine {
	if cfg == nil {
		cfg = NewEngineConfig()
	}
	opts := []codememory.Option{
		codememory.WithLogger(cfg.logger.Named("codememory")),
		codememory.WithMetricsRegisterer(cfg.registerer),
	}
	if cfg.pageSize > 0 {
		opts = append(opts, codememory.WithPageSize(cfg.pageSize))
	}
	e := &Engine{
		inner: &engineInner{
			compiler:   cfg.compiler,
			pool:       codememory.NewPool(cfg.poolBudget, opts...),
			signatures: vm.NewSignatureRegistry(),
			funcData:   vm.NewFuncDataRegistry(),
		},
		id:       strconv.FormatUint(lastEngineID.Add(1), 10),
		target:   cfg.target,
		host:     compiler.HostTarget(),
		features: cfg.features,
		tunables: cfg.tunables,
		libCalls: cfg.libCalls,
		metrics:  newEngineMetrics(cfg.registerer),
	}
	compilerName := "none"
	if cfg.compiler != nil {
		compilerName = cfg.compiler.Name()
	}
	e.logger = cfg.logger.With(zap.String("engine", e.id))
	e.logger.Debug("engine created",
		zap.String("compiler", compilerName),
		zap.Stringer("target", e.target),
		zap.Int("pool_budget", cfg.poolBudget))
	return e
}

// NewHeadlessEngine returns an engine without a compiler. It loads executables produced
// elsewhere, and fails Compile and Validate.
func NewHeadlessEngine(cfg *EngineConfig) *Engine {
	if cfg == nil {
		cfg = NewEngineConfig()
	}
	return NewEngine(cfg.WithCompiler(nil))
}

// ID returns an identifier unique to the process, shared by clones.
func (e *Engine) ID() string {
	return e.id
}

// Target returns the target of generated code.
func (e *Engine) Target() compiler.Target {
	return e.target
}

// Features returns the WebAssembly features modules may use.
func (e *Engine) Features() wasm.Features {
	return e.features
}

// Tunables returns the default memory and table style choices of Compile.
func (e *Engine) Tunables() vm.Tunables {
	return e.tunables
}

// CompilerName returns the name of the compiler, or an empty string for a headless engine.
func (e *Engine) CompilerName() string {
	if e.inner.compiler == nil {
		return ""
	}
	return e.inner.compiler.Name()
}

// Headless returns true if the engine has no compiler.
func (e *Engine) Headless() bool {
	return e.inner.compiler == nil
}

// Clone returns a handle sharing this engine's state.
func (e *Engine) Clone() *Engine {
	ret := *e
	return &ret
}

// MemoryPool returns the code memory budget and what remains of it.
func (e *Engine) MemoryPool() (budget, available int) {
	return e.inner.pool.Budget(), e.inner.pool.Available()
}

// RegisterSignature interns ft. Equal signatures get the same index.
func (e *Engine) RegisterSignature(ft *wasm.FunctionType) vm.SharedSignatureIndex {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	return e.inner.signatures.Register(ft)
}

// LookupSignature returns the signature registered under idx.
func (e *Engine) LookupSignature(idx vm.SharedSignatureIndex) (*wasm.FunctionType, bool) {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	return e.inner.signatures.Lookup(idx)
}

// RegisterFunctionMetadata interns the metadata of a function reference. Equal metadata gets
// the same reference.
func (e *Engine) RegisterFunctionMetadata(data vm.CallerCheckedAnyfunc) vm.FuncRef {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	return e.inner.funcData.Register(data)
}

// LookupFunctionMetadata returns the metadata registered under ref.
func (e *Engine) LookupFunctionMetadata(ref vm.FuncRef) (vm.CallerCheckedAnyfunc, bool) {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	return e.inner.funcData.Lookup(ref)
}

// Validate checks that the compiler accepts the module binary.
func (e *Engine) Validate(bin []byte) error {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	if e.inner.compiler == nil {
		return newError(KindCapability, nil, "validation requires a compiler, the engine is headless")
	}
	if err := e.inner.compiler.ValidateModule(e.features, bin); err != nil {
		return newError(KindValidate, err, "invalid module")
	}
	return nil
}

// Compile translates and compiles the module binary. A nil tunables means the engine default.
func (e *Engine) Compile(bin []byte, tunables vm.Tunables) (*executable.Executable, error) {
	if tunables == nil {
		tunables = e.tunables
	}
	start := time.Now()

	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	if e.inner.compiler == nil {
		return nil, newError(KindCapability, nil, "compilation requires a compiler, the engine is headless")
	}

	exe, err := compileModule(e.inner.compiler, e.target, e.features, tunables, bin)
	if err != nil {
		return nil, err
	}
	d := time.Since(start)
	e.metrics.observeCompile(d)
	e.logger.Debug("module compiled",
		zap.Int("functions", len(exe.FunctionBodies)),
		zap.Int("size", exe.CodeSize()),
		zap.Duration("duration", d))
	return exe, nil
}

// Load lays out, links and publishes an executable.
func (e *Engine) Load(exe *executable.Executable) (*Artifact, error) {
	return e.load(ownedSource{exe})
}

// LoadSerialized loads a serialized executable in place. b must not be modified during the
// call. The returned artifact doesn't reference it.
func (e *Engine) LoadSerialized(b []byte) (*Artifact, error) {
	v, err := executable.NewView(b)
	if err != nil {
		return nil, newError(KindCorrupt, err, "invalid serialized executable")
	}
	return e.load(viewSource{v})
}

// checkCapabilities rejects code generated for another architecture, or assuming CPU features
// that either the engine target or the host lacks.
func (e *Engine) checkCapabilities(src executableSource) error {
	arch := src.architecture()
	if arch != e.target.Architecture {
		return newError(KindCapability, nil, "executable for %s can't be loaded by an engine targeting %s", arch, e.target.Architecture)
	}
	if arch != e.host.Architecture {
		return newError(KindCapability, nil, "executable for %s can't run on a %s host", arch, e.host.Architecture)
	}
	if missing := e.target.CpuFeatures.Missing(src.cpuFeatures()); missing != 0 {
		return newError(KindCapability, nil, "executable requires CPU features missing on %s: %s", e.target.Architecture, missing)
	}
	if missing := e.host.CpuFeatures.Missing(src.cpuFeatures()); missing != 0 {
		return newError(KindCapability, nil, "executable requires CPU features the host lacks: %s", missing)
	}
	return nil
}

func (e *Engine) load(src executableSource) (*Artifact, error) {
	if err := e.checkCapabilities(src); err != nil {
		return nil, err
	}
	start := time.Now()

	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	a, err := e.loadLocked(src)
	if err != nil {
		return nil, err
	}
	d := time.Since(start)
	e.metrics.observeLoad(d)
	e.logger.Debug("module loaded",
		zap.Int("functions", len(a.functions)),
		zap.Int("size", a.region.Size()),
		zap.Duration("duration", d))
	return a, nil
}

// engineMetrics are the engine collectors. A nil *engineMetrics records nothing.
type engineMetrics struct {
	compile prometheus.Histogram
	load    prometheus.Histogram
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		return nil
	}
	m := &engineMetrics{
		compile: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "universal",
			Subsystem: "engine",
			Name:      "compile_duration_seconds",
			Help:      "Time to translate and compile a module.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		load: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "universal",
			Subsystem: "engine",
			Name:      "load_duration_seconds",
			Help:      "Time to lay out, link and publish an executable.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	m.compile = registerHistogram(reg, m.compile)
	m.load = registerHistogram(reg, m.load)
	return m
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) prometheus.Histogram {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
	}
	return h
}

func (m *engineMetrics) observeCompile(d time.Duration) {
	if m != nil {
		m.compile.Observe(d.Seconds())
	}
}

func (m *engineMetrics) observeLoad(d time.Duration) {
	if m != nil {
		m.load.Observe(d.Seconds())
	}
}
