package universal

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/compiler/singlepass"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// DefaultMemoryPoolBudget is the code memory budget of NewEngineConfig.
const DefaultMemoryPoolBudget = 1 << 30

// EngineConfig controls engine behavior, with the default implementation as NewEngineConfig.
// Every With method returns a copy.
type EngineConfig struct {
	compiler   compiler.Compiler
	target     compiler.Target
	features   wasm.Features
	poolBudget int
	pageSize   int
	logger     *zap.Logger
	registerer prometheus.Registerer
	libCalls   vm.LibCallResolver
	tunables   vm.Tunables
}

// NewEngineConfig returns a config compiling with singlepass for the host, with the
// WebAssembly 1.0 features and a 1GiB code memory budget.
func NewEngineConfig() *EngineConfig {
	target := compiler.HostTarget()
	return &EngineConfig{
		compiler:   singlepass.New(),
		target:     target,
		features:   wasm.Features20191205,
		poolBudget: DefaultMemoryPoolBudget,
		logger:     zap.NewNop(),
		libCalls:   vm.LibCallTable{},
		tunables:   vm.NewBaseTunables(target.PointerWidth()),
	}
}

func (c *EngineConfig) clone() *EngineConfig {
	ret := *c
	return &ret
}

// WithCompiler sets the code generator. A nil compiler makes a headless engine.
func (c *EngineConfig) WithCompiler(comp compiler.Compiler) *EngineConfig {
	ret := c.clone()
	ret.compiler = comp
	return ret
}

// WithTarget sets the target code is generated for, and which CPU features loaded code may
// assume. Loaded code must also match the host.
func (c *EngineConfig) WithTarget(target compiler.Target) *EngineConfig {
	ret := c.clone()
	ret.target = target
	return ret
}

// WithFeatures sets the WebAssembly features modules may use.
func (c *EngineConfig) WithFeatures(features wasm.Features) *EngineConfig {
	ret := c.clone()
	ret.features = features
	return ret
}

// WithMemoryPoolBudget sets the total size of the code regions of live artifacts.
func (c *EngineConfig) WithMemoryPoolBudget(budget int) *EngineConfig {
	ret := c.clone()
	ret.poolBudget = budget
	return ret
}

// WithPageSize overrides the page size used for layout. It must be a multiple of the host page
// size. Zero means the host page size.
func (c *EngineConfig) WithPageSize(size int) *EngineConfig {
	ret := c.clone()
	ret.pageSize = size
	return ret
}

// WithLogger sets the logger. Engine events are logged at debug level.
func (c *EngineConfig) WithLogger(l *zap.Logger) *EngineConfig {
	if l == nil {
		l = zap.NewNop()
	}
	ret := c.clone()
	ret.logger = l
	return ret
}

// WithMetricsRegisterer registers the engine and code memory collectors with reg.
func (c *EngineConfig) WithMetricsRegisterer(reg prometheus.Registerer) *EngineConfig {
	ret := c.clone()
	ret.registerer = reg
	return ret
}

// WithLibCallResolver sets how relocations against runtime routines are resolved.
func (c *EngineConfig) WithLibCallResolver(r vm.LibCallResolver) *EngineConfig {
	if r == nil {
		r = vm.LibCallTable{}
	}
	ret := c.clone()
	ret.libCalls = r
	return ret
}

// WithTunables sets the default memory and table styles of Engine.Compile.
func (c *EngineConfig) WithTunables(t vm.Tunables) *EngineConfig {
	ret := c.clone()
	ret.tunables = t
	return ret
}
