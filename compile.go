package universal

import (
	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// compileModule translates bin, picks the memory and table styles from tunables and compiles
// every local function.
func compileModule(comp compiler.Compiler, target compiler.Target, features wasm.Features, tunables vm.Tunables, bin []byte) (*executable.Executable, error) {
	translation, err := compiler.NewModuleEnvironment(features).Translate(bin)
	if err != nil {
		return nil, newError(KindWasm, err, "translate module")
	}
	m := translation.Module

	info := compiler.CompileModuleInfo{
		Features:     features,
		Module:       m,
		MemoryStyles: make([]vm.MemoryStyle, len(m.Memories)),
		TableStyles:  make([]vm.TableStyle, len(m.Tables)),
	}
	for i := range m.Memories {
		info.MemoryStyles[i] = tunables.MemoryStyle(&m.Memories[i])
	}
	for i := range m.Tables {
		info.TableStyles[i] = tunables.TableStyle(&m.Tables[i])
	}

	c, err := comp.CompileModule(target, &info, translation.TranslationState, translation.FunctionBodyInputs)
	if err != nil {
		if errors.Is(err, compiler.ErrUnsupportedTarget) {
			return nil, newError(KindUnsupportedTarget, err, "%s can't generate code for %s", comp.Name(), target.Architecture)
		}
		return nil, newError(KindCodegen, err, "compile module")
	}
	return executable.New(info, c, translation.DataInitializers, target), nil
}
