//go:build amd64 && cgo

package vs

import (
	"github.com/bytecodealliance/wasmtime-go"
	"github.com/pkg/errors"
)

func init() {
	runtimes["wasmtime-go"] = newWasmtimeRuntime
}

func newWasmtimeRuntime() Runtime {
	return &wasmtimeRuntime{engine: wasmtime.NewEngine()}
}

type wasmtimeRuntime struct {
	engine *wasmtime.Engine
}

type wasmtimeModule struct {
	store *wasmtime.Store
	// instance is kept as wasmtime releases it only on garbage collection.
	instance *wasmtime.Instance
}

func (r *wasmtimeRuntime) Name() string {
	return "wasmtime-go"
}

func (r *wasmtimeRuntime) Instantiate(wasm []byte) (Module, error) {
	wm := &wasmtimeModule{store: wasmtime.NewStore(r.engine)}
	m, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, err
	}
	linker := wasmtime.NewLinker(r.engine)
	if err = linker.FuncWrap("env", "log", func(int32) {}); err != nil {
		return nil, err
	}
	if wm.instance, err = linker.Instantiate(wm.store, m); err != nil {
		return nil, err
	}
	return wm, nil
}

func (r *wasmtimeRuntime) Close() error {
	r.engine = nil
	return nil // wasmtime only closes via finalizer
}

func (m *wasmtimeModule) Call(name string, params ...uint64) ([]uint64, error) {
	fn := m.instance.GetFunc(m.store, name)
	if fn == nil {
		return nil, errors.Errorf("%s is not an exported function", name)
	}
	paramTypes := fn.Type(m.store).Params()
	if len(params) != len(paramTypes) {
		return nil, errors.Errorf("%s takes %d params, got %d", name, len(paramTypes), len(params))
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmtime.KindI32:
			args[i] = int32(uint32(p))
		case wasmtime.KindI64:
			args[i] = int64(p)
		default:
			return nil, errors.Errorf("%s param %d has unsupported type %s", name, i, paramTypes[i].Kind())
		}
	}
	result, err := fn.Call(m.store, args...)
	if err != nil {
		return nil, err
	}
	if vals, ok := result.([]wasmtime.Val); ok {
		results := make([]interface{}, len(vals))
		for i := range vals {
			results[i] = vals[i].Get()
		}
		result = results
	}
	return rawResults(result)
}

func (m *wasmtimeModule) Close() error {
	m.instance = nil
	m.store = nil
	return nil
}
