package singlepass

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

// paramRegs hold the wasm parameters of a call. RDI holds the vmctx.
var paramRegs = []int16{x86.REG_SI, x86.REG_DX, x86.REG_CX, x86.REG_R8, x86.REG_R9}

// callTargetPlaceholder is loaded by calls before linking. It doesn't fit in 32 bits, so the
// assembler picks the MOVABS encoding whose immediate the relocation patches.
const callTargetPlaceholder = int64(1) << 33

// movabsImmOffset is the offset of the immediate in REX.W B8 imm64.
const movabsImmOffset = 2

const vmctxSlot = -8

type pendingCall struct {
	mov    *obj.Prog
	target wasm.Index
}

type instrMark struct {
	srcLoc uint32
	mark   int
}

// funcCompiler generates code for one local function. Every wasm value occupies one 8-byte
// slot on the native stack, locals live below the saved frame pointer and operands are pushed
// and popped as the wasm operand stack is.
type funcCompiler struct {
	module *wasm.ModuleInfo
	sig    *wasm.FunctionType
	input  *compiler.FunctionBodyData

	locals []wasm.ValueType
	stack  []wasm.ValueType

	asm   *assembler
	calls []pendingCall
	marks []instrMark
}

func newFuncCompiler(m *wasm.ModuleInfo, local wasm.Index, input *compiler.FunctionBodyData) (*funcCompiler, error) {
	a, err := newAssembler()
	if err != nil {
		return nil, err
	}
	sig := m.FunctionType(m.FunctionIndex(local))
	locals := make([]wasm.ValueType, 0, len(sig.Params)+len(input.LocalTypes))
	locals = append(locals, sig.Params...)
	locals = append(locals, input.LocalTypes...)
	return &funcCompiler{module: m, sig: sig, input: input, locals: locals, asm: a}, nil
}

func localSlot(i wasm.Index) int64 {
	return vmctxSlot - 8*(int64(i)+1)
}

func checkSignature(ft *wasm.FunctionType) error {
	if len(ft.Params) > len(paramRegs) {
		return errors.Errorf("%d parameters exceed the supported %d", len(ft.Params), len(paramRegs))
	}
	if len(ft.Results) > 1 {
		return errors.Errorf("%d results exceed the supported 1", len(ft.Results))
	}
	for _, vt := range ft.Params {
		if err := checkValueType(vt); err != nil {
			return err
		}
	}
	for _, vt := range ft.Results {
		if err := checkValueType(vt); err != nil {
			return err
		}
	}
	return nil
}

func checkValueType(vt wasm.ValueType) error {
	if vt != wasm.ValueTypeI32 && vt != wasm.ValueTypeI64 {
		return errors.Errorf("value type %s is not supported", wasm.ValueTypeName(vt))
	}
	return nil
}

// generate walks the body, type checking it and emitting code.
func (c *funcCompiler) generate() error {
	if err := checkSignature(c.sig); err != nil {
		return err
	}
	for _, vt := range c.input.LocalTypes {
		if err := checkValueType(vt); err != nil {
			return errors.Wrap(err, "local")
		}
	}

	frame := int64(8 * (1 + len(c.locals)))
	frame = (frame + 15) &^ 15
	c.asm.prologue(frame)
	c.asm.regToMem(x86.AMOVQ, x86.REG_DI, x86.REG_BP, vmctxSlot)
	for i := range c.sig.Params {
		c.asm.regToMem(x86.AMOVQ, paramRegs[i], x86.REG_BP, localSlot(wasm.Index(i)))
	}
	for i := len(c.sig.Params); i < len(c.locals); i++ {
		c.asm.constToMem(x86.AMOVQ, 0, x86.REG_BP, localSlot(wasm.Index(i)))
	}

	body := c.input.Body
	r := bytes.NewReader(body)
	for {
		pos := len(body) - r.Len()
		srcLoc := uint32(c.input.ModuleOffset) + uint32(pos)
		op, err := r.ReadByte()
		if err == io.EOF {
			return errors.New("missing end")
		}

		mark := c.asm.mark()
		done, err := c.instruction(op, r)
		if err != nil {
			return errors.Wrapf(err, "%s at offset %#x", wasm.InstructionName(op), srcLoc)
		}
		if c.asm.mark() > mark {
			c.marks = append(c.marks, instrMark{srcLoc: srcLoc, mark: mark})
		}
		if done {
			if r.Len() > 0 {
				return errors.Errorf("%d bytes after the final end", r.Len())
			}
			return nil
		}
	}
}

func (c *funcCompiler) instruction(op wasm.Opcode, r *bytes.Reader) (done bool, err error) {
	switch op {
	case wasm.OpcodeNop:
	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return false, errors.Wrap(err, "read local index")
		}
		if int(idx) >= len(c.locals) {
			return false, errors.Errorf("local index %d out of range", idx)
		}
		vt := c.locals[idx]
		switch op {
		case wasm.OpcodeLocalGet:
			c.asm.memToReg(x86.AMOVQ, x86.REG_BP, localSlot(idx), x86.REG_AX)
			c.asm.push(x86.REG_AX)
			c.stack = append(c.stack, vt)
		case wasm.OpcodeLocalSet:
			if err = c.popType(vt); err != nil {
				return false, err
			}
			c.asm.pop(x86.REG_AX)
			c.asm.regToMem(x86.AMOVQ, x86.REG_AX, x86.REG_BP, localSlot(idx))
		case wasm.OpcodeLocalTee:
			if err = c.popType(vt); err != nil {
				return false, err
			}
			c.asm.pop(x86.REG_AX)
			c.asm.push(x86.REG_AX)
			c.asm.regToMem(x86.AMOVQ, x86.REG_AX, x86.REG_BP, localSlot(idx))
			c.stack = append(c.stack, vt)
		}
	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return false, errors.Wrap(err, "read immediate")
		}
		c.asm.constToReg(x86.AMOVL, int64(v), x86.REG_AX)
		c.asm.push(x86.REG_AX)
		c.stack = append(c.stack, wasm.ValueTypeI32)
	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return false, errors.Wrap(err, "read immediate")
		}
		c.asm.constToReg(x86.AMOVQ, v, x86.REG_AX)
		c.asm.push(x86.REG_AX)
		c.stack = append(c.stack, wasm.ValueTypeI64)
	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor:
		return false, c.binary(wasm.ValueTypeI32, i32Binary[op])
	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor:
		return false, c.binary(wasm.ValueTypeI64, i64Binary[op])
	case wasm.OpcodeDrop:
		if err = c.popType(anyValueType); err != nil {
			return false, err
		}
		c.asm.pop(x86.REG_AX)
	case wasm.OpcodeCall:
		return false, c.call(r)
	case wasm.OpcodeReturn:
		if err = c.ret(); err != nil {
			return false, err
		}
		if next, err := r.ReadByte(); err != nil || next != wasm.OpcodeEnd {
			return false, errors.New("instructions after return are not supported")
		}
		return true, nil
	case wasm.OpcodeEnd:
		return true, c.ret()
	default:
		return false, errors.New("unsupported instruction")
	}
	return false, nil
}

var i32Binary = map[wasm.Opcode]obj.As{
	wasm.OpcodeI32Add: x86.AADDL,
	wasm.OpcodeI32Sub: x86.ASUBL,
	wasm.OpcodeI32Mul: x86.AIMULL,
	wasm.OpcodeI32And: x86.AANDL,
	wasm.OpcodeI32Or:  x86.AORL,
	wasm.OpcodeI32Xor: x86.AXORL,
}

var i64Binary = map[wasm.Opcode]obj.As{
	wasm.OpcodeI64Add: x86.AADDQ,
	wasm.OpcodeI64Sub: x86.ASUBQ,
	wasm.OpcodeI64Mul: x86.AIMULQ,
	wasm.OpcodeI64And: x86.AANDQ,
	wasm.OpcodeI64Or:  x86.AORQ,
	wasm.OpcodeI64Xor: x86.AXORQ,
}

func (c *funcCompiler) binary(vt wasm.ValueType, as obj.As) error {
	if err := c.popType(vt); err != nil {
		return err
	}
	if err := c.popType(vt); err != nil {
		return err
	}
	c.asm.pop(x86.REG_CX)
	c.asm.pop(x86.REG_AX)
	c.asm.regToReg(as, x86.REG_CX, x86.REG_AX)
	c.asm.push(x86.REG_AX)
	c.stack = append(c.stack, vt)
	return nil
}

func (c *funcCompiler) call(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return errors.Wrap(err, "read function index")
	}
	if int(idx) >= len(c.module.Functions) {
		return errors.Errorf("function index %d out of range", idx)
	}
	local, ok := c.module.LocalFunctionIndex(idx)
	if !ok {
		return errors.Errorf("calling imported function %d is not supported", idx)
	}
	ft := c.module.FunctionType(idx)
	if err = checkSignature(ft); err != nil {
		return errors.Wrapf(err, "callee %d", idx)
	}
	for i := len(ft.Params) - 1; i >= 0; i-- {
		if err = c.popType(ft.Params[i]); err != nil {
			return err
		}
		c.asm.pop(paramRegs[i])
	}
	c.asm.memToReg(x86.AMOVQ, x86.REG_BP, vmctxSlot, x86.REG_DI)
	mov := c.asm.constToReg(x86.AMOVQ, callTargetPlaceholder, x86.REG_AX)
	c.asm.callReg(x86.REG_AX)
	c.calls = append(c.calls, pendingCall{mov: mov, target: local})
	if len(ft.Results) == 1 {
		c.asm.push(x86.REG_AX)
		c.stack = append(c.stack, ft.Results[0])
	}
	return nil
}

func (c *funcCompiler) ret() error {
	if len(c.stack) != len(c.sig.Results) {
		return errors.Errorf("expected %d values on the stack at return, got %d", len(c.sig.Results), len(c.stack))
	}
	for i := len(c.sig.Results) - 1; i >= 0; i-- {
		if err := c.popType(c.sig.Results[i]); err != nil {
			return err
		}
	}
	if len(c.sig.Results) == 1 {
		c.asm.pop(x86.REG_AX)
	}
	c.asm.epilogue()
	return nil
}

const anyValueType = wasm.ValueType(0)

func (c *funcCompiler) popType(want wasm.ValueType) error {
	if len(c.stack) == 0 {
		return errors.New("operand stack underflow")
	}
	got := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	if want != anyValueType && got != want {
		return errors.Errorf("type mismatch: expected %s, got %s", wasm.ValueTypeName(want), wasm.ValueTypeName(got))
	}
	return nil
}

// finish assembles the function and resolves the positions of its relocations and
// instructions.
func (c *funcCompiler) finish() (*compiler.CompiledFunction, error) {
	code := c.asm.assemble()

	relocs := make([]compiler.Relocation, 0, len(c.calls))
	for _, call := range c.calls {
		pc := int(call.mov.Pc)
		if pc+movabsImmOffset+8 > len(code) || code[pc] != 0x48 || code[pc+1] != 0xb8 {
			return nil, errors.Errorf("unexpected encoding of call target load at %#x", pc)
		}
		relocs = append(relocs, compiler.Relocation{
			Kind:   compiler.RelocationAbs8,
			Target: compiler.RelocationTarget{Kind: compiler.RelocationTargetLocalFunc, Index: call.target},
			Offset: uint32(pc + movabsImmOffset),
		})
	}

	start := uint32(c.input.ModuleOffset)
	addressMap := compiler.FunctionAddressMap{
		Instructions: make([]compiler.InstructionAddressMap, len(c.marks)),
		StartSrcLoc:  start,
		EndSrcLoc:    start + uint32(len(c.input.Body)),
		BodyLen:      uint32(len(code)),
	}
	for i, m := range c.marks {
		offset := c.asm.pcAt(m.mark, len(code))
		end := len(code)
		if i+1 < len(c.marks) {
			end = c.asm.pcAt(c.marks[i+1].mark, len(code))
		}
		addressMap.Instructions[i] = compiler.InstructionAddressMap{
			SrcLoc:     m.srcLoc,
			CodeOffset: uint32(offset),
			CodeLen:    uint32(end - offset),
		}
	}

	return &compiler.CompiledFunction{
		Body:        compiler.FunctionBody{Body: code},
		Relocations: relocs,
		FrameInfo:   compiler.CompiledFunctionFrameInfo{AddressMap: addressMap},
	}, nil
}
