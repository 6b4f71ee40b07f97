package singlepass

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/wasm"
)

// genCallTrampoline generates the trampoline vm.Trampoline.Call enters: RDI holds the vmctx,
// RSI the callee and RDX the values array. Parameters are loaded from the array into
// registers, and the result is stored into its first slot.
//
// Signatures the code generator can't call get a trampoline that traps.
func genCallTrampoline(ft *wasm.FunctionType) (compiler.FunctionBody, error) {
	a, err := newAssembler()
	if err != nil {
		return compiler.FunctionBody{}, err
	}
	if checkSignature(ft) != nil {
		a.none(obj.AUNDEF)
		return compiler.FunctionBody{Body: a.assemble()}, nil
	}

	a.prologue(0)
	a.push(x86.REG_DX)
	a.regToReg(x86.AMOVQ, x86.REG_SI, x86.REG_R11)
	a.regToReg(x86.AMOVQ, x86.REG_DX, x86.REG_R10)
	for i := range ft.Params {
		a.memToReg(x86.AMOVQ, x86.REG_R10, int64(8*i), paramRegs[i])
	}
	a.callReg(x86.REG_R11)
	a.pop(x86.REG_DX)
	if len(ft.Results) == 1 {
		a.regToMem(x86.AMOVQ, x86.REG_AX, x86.REG_DX, 0)
	}
	a.epilogue()
	return compiler.FunctionBody{Body: a.assemble()}, nil
}

// genDynamicTrampoline generates the entry of an imported function whose implementation is
// only known at instantiation. Its vmctx is a dynamic function context whose first word is a
// callback taking (context, values). The trampoline spills its parameters into a values
// array on the stack, calls the callback and returns the first slot.
func genDynamicTrampoline(ft *wasm.FunctionType) (compiler.FunctionBody, error) {
	a, err := newAssembler()
	if err != nil {
		return compiler.FunctionBody{}, err
	}
	if checkSignature(ft) != nil {
		a.none(obj.AUNDEF)
		return compiler.FunctionBody{Body: a.assemble()}, nil
	}

	slots := len(ft.Params)
	if slots == 0 {
		slots = 1
	}
	values := -int64(8 * slots)
	a.prologue((int64(8*slots) + 15) &^ 15)
	for i := range ft.Params {
		a.regToMem(x86.AMOVQ, paramRegs[i], x86.REG_BP, values+int64(8*i))
	}
	a.memToReg(x86.AMOVQ, x86.REG_DI, 0, x86.REG_AX)
	a.addressToReg(x86.REG_BP, values, x86.REG_SI)
	a.callReg(x86.REG_AX)
	if len(ft.Results) == 1 {
		a.memToReg(x86.AMOVQ, x86.REG_BP, values, x86.REG_AX)
	}
	a.epilogue()
	return compiler.FunctionBody{Body: a.assemble()}, nil
}
