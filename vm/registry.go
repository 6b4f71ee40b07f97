package vm

import (
	"github.com/wasmforge/universal/wasm"
)

// SharedSignatureIndex is an engine-wide handle of a function type.
type SharedSignatureIndex uint32

// InvalidSharedSignatureIndex is never returned by SignatureRegistry.Register.
const InvalidSharedSignatureIndex = ^SharedSignatureIndex(0)

// SignatureRegistry interns function types. Structurally equal types share one index for the
// life of the registry.
//
// A SignatureRegistry is not safe for concurrent use. The engine serializes access.
type SignatureRegistry struct {
	indices map[string]SharedSignatureIndex
	types   []wasm.FunctionType
}

// NewSignatureRegistry returns an empty registry.
func NewSignatureRegistry() *SignatureRegistry {
	return &SignatureRegistry{indices: map[string]SharedSignatureIndex{}}
}

// Register returns the index of ft, interning it when not yet known.
func (r *SignatureRegistry) Register(ft *wasm.FunctionType) SharedSignatureIndex {
	key := ft.Key()
	if idx, ok := r.indices[key]; ok {
		return idx
	}
	idx := SharedSignatureIndex(len(r.types))
	r.types = append(r.types, wasm.FunctionType{
		Params:  append([]wasm.ValueType(nil), ft.Params...),
		Results: append([]wasm.ValueType(nil), ft.Results...),
	})
	r.indices[key] = idx
	return idx
}

// Lookup returns the type registered under idx.
func (r *SignatureRegistry) Lookup(idx SharedSignatureIndex) (*wasm.FunctionType, bool) {
	if int(idx) >= len(r.types) {
		return nil, false
	}
	return &r.types[idx], true
}

// Len returns the number of interned types.
func (r *SignatureRegistry) Len() int {
	return len(r.types)
}

// FuncRef is an engine-wide handle of a CallerCheckedAnyfunc, the value of a funcref.
// FuncRefNull is the null reference.
type FuncRef uint32

// FuncRefNull is the null funcref.
const FuncRefNull FuncRef = 0

// CallerCheckedAnyfunc is what a funcref points at: the callee, its signature checked by
// callers, and the context it runs with.
type CallerCheckedAnyfunc struct {
	FuncPtr   FunctionBodyPtr
	TypeIndex SharedSignatureIndex
	VMContext uintptr
}

// FuncDataRegistry interns CallerCheckedAnyfunc values so equal metadata yields equal FuncRef.
//
// A FuncDataRegistry is not safe for concurrent use. The engine serializes access.
type FuncDataRegistry struct {
	refs  map[CallerCheckedAnyfunc]FuncRef
	items []CallerCheckedAnyfunc
}

// NewFuncDataRegistry returns an empty registry.
func NewFuncDataRegistry() *FuncDataRegistry {
	return &FuncDataRegistry{refs: map[CallerCheckedAnyfunc]FuncRef{}}
}

// Register returns the FuncRef of data, interning it when not yet known.
func (r *FuncDataRegistry) Register(data CallerCheckedAnyfunc) FuncRef {
	if ref, ok := r.refs[data]; ok {
		return ref
	}
	r.items = append(r.items, data)
	ref := FuncRef(len(r.items))
	r.refs[data] = ref
	return ref
}

// Lookup returns the metadata behind ref.
func (r *FuncDataRegistry) Lookup(ref FuncRef) (CallerCheckedAnyfunc, bool) {
	if ref == FuncRefNull || int(ref) > len(r.items) {
		return CallerCheckedAnyfunc{}, false
	}
	return r.items[ref-1], true
}

// Len returns the number of interned values.
func (r *FuncDataRegistry) Len() int {
	return len(r.items)
}
