package compiler

import (
	"github.com/pkg/errors"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/binary"
)

// SignatureArity is the number of parameters and results of a signature.
type SignatureArity struct {
	Params  int
	Results int
}

// ModuleTranslationState is what a backend needs to know about the module besides its
// description.
type ModuleTranslationState struct {
	// WasmTypes is indexed by signature index.
	WasmTypes []SignatureArity
}

// ModuleTranslation is a decoded and validated module, split into the parts compiled by a
// backend and the parts carried to the executable unchanged.
type ModuleTranslation struct {
	Module *wasm.ModuleInfo
	// FunctionBodyInputs is indexed by local function index.
	FunctionBodyInputs []FunctionBodyData
	DataInitializers   []wasm.DataInitializer
	TranslationState   *ModuleTranslationState
}

// ModuleEnvironment translates module binaries.
type ModuleEnvironment struct {
	Features wasm.Features
}

// NewModuleEnvironment returns a ModuleEnvironment decoding with features enabled.
func NewModuleEnvironment(features wasm.Features) *ModuleEnvironment {
	return &ModuleEnvironment{Features: features}
}

// Translate decodes and validates bin.
func (e *ModuleEnvironment) Translate(bin []byte) (*ModuleTranslation, error) {
	m, err := binary.DecodeModule(bin, e.Features)
	if err != nil {
		return nil, errors.Wrap(err, "decode module")
	}
	if err = binary.ValidateModule(m, e.Features); err != nil {
		return nil, errors.Wrap(err, "validate module")
	}
	info, data, err := wasm.NewModuleInfo(m)
	if err != nil {
		return nil, errors.Wrap(err, "resolve module")
	}

	state := &ModuleTranslationState{WasmTypes: make([]SignatureArity, len(m.TypeSection))}
	for i := range m.TypeSection {
		ft := &m.TypeSection[i]
		state.WasmTypes[i] = SignatureArity{Params: len(ft.Params), Results: len(ft.Results)}
	}

	bodies := make([]FunctionBodyData, len(m.CodeSection))
	for i := range m.CodeSection {
		c := &m.CodeSection[i]
		bodies[i] = FunctionBodyData{LocalTypes: c.LocalTypes, Body: c.Body, ModuleOffset: c.BodyOffset}
	}

	return &ModuleTranslation{
		Module:             info,
		FunctionBodyInputs: bodies,
		DataInitializers:   data,
		TranslationState:   state,
	}, nil
}
