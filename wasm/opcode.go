package wasm

import "fmt"

// Opcode is the binary Opcode of an instruction. See also InstructionName
type Opcode = byte

const (
	// OpcodeUnreachable causes an unconditional trap.
	OpcodeUnreachable Opcode = 0x00
	// OpcodeNop does nothing
	OpcodeNop Opcode = 0x01
	// OpcodeBlock brackets a sequence of instructions. A branch instruction on an if label breaks out to after its
	// OpcodeEnd.
	OpcodeBlock Opcode = 0x02
	// OpcodeLoop brackets a sequence of instructions. A branch instruction on a loop label will jump back to the
	// beginning of its block.
	OpcodeLoop Opcode = 0x03
	// OpcodeIf brackets a sequence of instructions. When the top of the stack evaluates to 1, the block is executed.
	// Zero jumps to the optional OpcodeElse. A branch instruction on an if label breaks out to after its OpcodeEnd.
	OpcodeIf Opcode = 0x04
	// OpcodeElse brackets a sequence of instructions enclosed by an OpcodeIf. A branch instruction on a then label
	// breaks out to after the OpcodeEnd on the enclosing OpcodeIf.
	OpcodeElse Opcode = 0x05
	// OpcodeEnd terminates a control instruction OpcodeBlock, OpcodeLoop or OpcodeIf.
	OpcodeEnd Opcode = 0x0b

	// OpcodeBr is a stack-polymorphic opcode that performs an unconditional branch. How the stack is modified depends
	// on whether the "br" is enclosed by a loop, and if FeatureMultiValue is enabled.
	OpcodeBr Opcode = 0x0c
	// OpcodeBrIf is a stack-polymorphic opcode that performs a conditional branch.
	OpcodeBrIf Opcode = 0x0d
	// OpcodeBrTable is a stack-polymorphic opcode that performs a branch through a jump table.
	OpcodeBrTable Opcode = 0x0e

	OpcodeReturn       Opcode = 0x0f
	OpcodeCall         Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	// parametric instructions

	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b
	OpcodeTypedSelect Opcode = 0x1c

	// variable instructions

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	// numeric instructions

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	OpcodeI32Add Opcode = 0x6a
	OpcodeI32Sub Opcode = 0x6b
	OpcodeI32Mul Opcode = 0x6c
	OpcodeI32And Opcode = 0x71
	OpcodeI32Or  Opcode = 0x72
	OpcodeI32Xor Opcode = 0x73

	OpcodeI64Add Opcode = 0x7c
	OpcodeI64Sub Opcode = 0x7d
	OpcodeI64Mul Opcode = 0x7e
	OpcodeI64And Opcode = 0x83
	OpcodeI64Or  Opcode = 0x84
	OpcodeI64Xor Opcode = 0x85

	// reference instructions

	OpcodeRefNull Opcode = 0xd0
	OpcodeRefFunc Opcode = 0xd2

	// OpcodeVecPrefix is the prefix of all vector instructions.
	OpcodeVecPrefix Opcode = 0xfd
	// OpcodeVecV128Const pushes a 128-bit constant, after OpcodeVecPrefix.
	OpcodeVecV128Const = 0x0c
)

var instructionNames = map[Opcode]string{
	OpcodeUnreachable:  "unreachable",
	OpcodeNop:          "nop",
	OpcodeBlock:        "block",
	OpcodeLoop:         "loop",
	OpcodeIf:           "if",
	OpcodeElse:         "else",
	OpcodeEnd:          "end",
	OpcodeBr:           "br",
	OpcodeBrIf:         "br_if",
	OpcodeBrTable:      "br_table",
	OpcodeReturn:       "return",
	OpcodeCall:         "call",
	OpcodeCallIndirect: "call_indirect",
	OpcodeDrop:         "drop",
	OpcodeSelect:       "select",
	OpcodeTypedSelect:  "typed_select",
	OpcodeLocalGet:     "local.get",
	OpcodeLocalSet:     "local.set",
	OpcodeLocalTee:     "local.tee",
	OpcodeGlobalGet:    "global.get",
	OpcodeGlobalSet:    "global.set",
	OpcodeI32Const:     "i32.const",
	OpcodeI64Const:     "i64.const",
	OpcodeF32Const:     "f32.const",
	OpcodeF64Const:     "f64.const",
	OpcodeI32Add:       "i32.add",
	OpcodeI32Sub:       "i32.sub",
	OpcodeI32Mul:       "i32.mul",
	OpcodeI32And:       "i32.and",
	OpcodeI32Or:        "i32.or",
	OpcodeI32Xor:       "i32.xor",
	OpcodeI64Add:       "i64.add",
	OpcodeI64Sub:       "i64.sub",
	OpcodeI64Mul:       "i64.mul",
	OpcodeI64And:       "i64.and",
	OpcodeI64Or:        "i64.or",
	OpcodeI64Xor:       "i64.xor",
	OpcodeRefNull:      "ref.null",
	OpcodeRefFunc:      "ref.func",
	OpcodeVecPrefix:    "v128.prefix",
}

// InstructionName returns the instruction corresponding to this binary Opcode.
func InstructionName(oc Opcode) string {
	if name, ok := instructionNames[oc]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%#x)", oc)
}
