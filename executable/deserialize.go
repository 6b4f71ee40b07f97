package executable

import (
	"bytes"

	"github.com/wasmforge/universal/compiler"
)

// Deserialize reads an owned Executable from b. Nothing in the result aliases b.
func Deserialize(b []byte) (*Executable, error) {
	v, err := NewView(b)
	if err != nil {
		return nil, err
	}
	return v.Executable()
}

// Executable materializes an owned copy of the view.
func (v *View) Executable() (*Executable, error) {
	passiveData, err := v.PassiveData()
	if err != nil {
		return nil, err
	}
	passiveElements, err := v.PassiveElements()
	if err != nil {
		return nil, err
	}
	m := *v.compileInfo.Module
	m.PassiveData = passiveData
	m.PassiveElements = passiveElements
	info := *v.compileInfo
	info.Module = &m

	n := v.FunctionCount()
	e := &Executable{
		CompileInfo:                info,
		FunctionBodies:             make([]compiler.FunctionBody, n),
		FunctionRelocations:        make([][]compiler.Relocation, n),
		FunctionJumpTables:         make([]compiler.JumpTableOffsets, n),
		FunctionFrameInfo:          make([]compiler.CompiledFunctionFrameInfo, n),
		FunctionCallTrampolines:    make([]compiler.FunctionBody, v.CallTrampolineCount()),
		DynamicFunctionTrampolines: make([]compiler.FunctionBody, v.DynamicTrampolineCount()),
		CustomSections:             make([]compiler.CustomSection, v.CustomSectionCount()),
		Architecture:               v.arch,
		CpuFeatures:                v.cpuFeatures,
	}
	for i := 0; i < n; i++ {
		e.FunctionBodies[i] = cloneFunctionBody(v.FunctionBody(i))
		e.FunctionRelocations[i] = v.FunctionRelocations(i).Slice()
		e.FunctionJumpTables[i] = v.FunctionJumpTables(i).Slice()
		e.FunctionFrameInfo[i] = v.FunctionFrameInfo(i)
	}
	for i := range e.FunctionCallTrampolines {
		e.FunctionCallTrampolines[i] = cloneFunctionBody(v.CallTrampoline(i))
	}
	for i := range e.DynamicFunctionTrampolines {
		e.DynamicFunctionTrampolines[i] = cloneFunctionBody(v.DynamicTrampoline(i))
	}
	for i := range e.CustomSections {
		e.CustomSections[i] = compiler.CustomSection{
			Protection:  v.CustomSectionProtection(i),
			Bytes:       bytes.Clone(v.CustomSectionBytes(i)),
			Relocations: v.CustomSectionRelocations(i).Slice(),
		}
	}
	if v.debug != nil {
		d := *v.debug
		e.Debug = &d
	}
	if v.trampolines != nil {
		t := *v.trampolines
		e.Trampolines = &t
	}
	e.DataInitializers = v.DataInitializers()
	for i := range e.DataInitializers {
		e.DataInitializers[i].Data = bytes.Clone(e.DataInitializers[i].Data)
	}
	return e, nil
}

func cloneFunctionBody(b compiler.FunctionBody) compiler.FunctionBody {
	ret := compiler.FunctionBody{Body: bytes.Clone(b.Body)}
	if b.UnwindInfo != nil {
		ret.UnwindInfo = &compiler.UnwindInfo{Kind: b.UnwindInfo.Kind, Data: bytes.Clone(b.UnwindInfo.Data)}
	}
	return ret
}

// Slice decodes the relocations.
func (r Relocations) Slice() []compiler.Relocation {
	if r.Len() == 0 {
		return nil
	}
	ret := make([]compiler.Relocation, r.Len())
	for i := range ret {
		ret[i] = r.At(i)
	}
	return ret
}

// Slice decodes the offsets.
func (j JumpTables) Slice() compiler.JumpTableOffsets {
	if j.Len() == 0 {
		return nil
	}
	ret := make(compiler.JumpTableOffsets, j.Len())
	for i := range ret {
		ret[i] = j.At(i)
	}
	return ret
}
