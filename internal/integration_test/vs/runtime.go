// Package vs runs the same modules on this engine and on other WebAssembly runtimes, so their
// results can be compared.
package vs

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal"
)

// Runtime compiles and instantiates modules. Imports named "env.log" are satisfied with a
// function ignoring its i32 parameter.
type Runtime interface {
	Name() string
	Instantiate(wasm []byte) (Module, error)
	Close() error
}

// Module calls exported functions with parameters and results as raw bits.
type Module interface {
	Call(name string, params ...uint64) ([]uint64, error)
	Close() error
}

var runtimes = map[string]func() Runtime{}

// Runtimes returns the names of the other runtimes built into this binary.
func Runtimes() []string {
	names := make([]string, 0, len(runtimes))
	for name := range runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRuntime returns the runtime registered under name.
func NewRuntime(name string) (Runtime, error) {
	newRuntime, ok := runtimes[name]
	if !ok {
		return nil, errors.Errorf("runtime %q is not built in", name)
	}
	return newRuntime(), nil
}

// NewUniversalRuntime returns a runtime compiling with engine.
func NewUniversalRuntime(engine *universal.Engine) Runtime {
	return &universalRuntime{engine: engine}
}

type universalRuntime struct {
	engine *universal.Engine
}

func (r *universalRuntime) Name() string {
	return "universal"
}

func (r *universalRuntime) Instantiate(wasm []byte) (Module, error) {
	exe, err := r.engine.Compile(wasm, nil)
	if err != nil {
		return nil, err
	}
	a, err := r.engine.Load(exe)
	if err != nil {
		return nil, err
	}
	return universalModule{a}, nil
}

func (r *universalRuntime) Close() error {
	return nil
}

type universalModule struct {
	*universal.Artifact
}

func (m universalModule) Call(name string, params ...uint64) ([]uint64, error) {
	return m.Invoke(name, params...)
}
