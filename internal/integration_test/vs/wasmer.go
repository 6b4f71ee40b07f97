//go:build amd64 && cgo && !windows

package vs

import (
	"github.com/pkg/errors"
	"github.com/wasmerio/wasmer-go/wasmer"
)

func init() {
	runtimes["wasmer-go"] = newWasmerRuntime
}

func newWasmerRuntime() Runtime {
	return &wasmerRuntime{engine: wasmer.NewEngine()}
}

type wasmerRuntime struct {
	engine *wasmer.Engine
}

type wasmerModule struct {
	store    *wasmer.Store
	module   *wasmer.Module
	instance *wasmer.Instance
}

func (r *wasmerRuntime) Name() string {
	return "wasmer-go"
}

func (r *wasmerRuntime) Instantiate(wasm []byte) (mod Module, err error) {
	// A store per module, as re-instantiating in one store eventually fails with:
	// >> resource limit exceeded: instance count too high at 10001
	wm := &wasmerModule{store: wasmer.NewStore(r.engine)}
	defer func() {
		if err != nil {
			_ = wm.Close()
		}
	}()
	if wm.module, err = wasmer.NewModule(wm.store, wasm); err != nil {
		return
	}

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"log": wasmer.NewFunction(
			wm.store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
			func([]wasmer.Value) ([]wasmer.Value, error) { return []wasmer.Value{}, nil },
		),
	})
	if wm.instance, err = wasmer.NewInstance(wm.module, importObject); err != nil {
		return
	}
	return wm, nil
}

func (r *wasmerRuntime) Close() error {
	r.engine = nil
	return nil
}

func (m *wasmerModule) Call(name string, params ...uint64) ([]uint64, error) {
	fn, err := m.instance.Exports.GetRawFunction(name)
	if err != nil {
		return nil, err
	}
	ft := fn.Type()
	paramTypes := ft.Params()
	if len(params) != len(paramTypes) {
		return nil, errors.Errorf("%s takes %d params, got %d", name, len(paramTypes), len(params))
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmer.I32:
			args[i] = int32(uint32(p))
		case wasmer.I64:
			args[i] = int64(p)
		default:
			return nil, errors.Errorf("%s param %d has unsupported type %s", name, i, paramTypes[i].Kind())
		}
	}
	result, err := fn.Call(args...)
	if err != nil {
		return nil, err
	}
	return rawResults(result)
}

func (m *wasmerModule) Close() error {
	if instance := m.instance; instance != nil {
		instance.Close()
	}
	m.instance = nil
	if mod := m.module; mod != nil {
		mod.Close()
	}
	m.module = nil
	if store := m.store; store != nil {
		store.Close()
	}
	m.store = nil
	return nil
}
