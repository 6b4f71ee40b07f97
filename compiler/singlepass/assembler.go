package singlepass

import (
	"sync"

	"github.com/pkg/errors"
	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// assembler wraps a golang-asm builder with the handful of operand shapes the code generator
// needs. Registers are golang-asm register numbers such as x86.REG_AX.
type assembler struct {
	b     *goasm.Builder
	progs []*obj.Prog
}

// golang-asm fills its instruction tables on the first Assemble without synchronization.
var initTables sync.Once

func newAssembler() (*assembler, error) {
	initTables.Do(func() {
		if b, err := goasm.NewBuilder("amd64", 1); err == nil {
			p := b.NewProg()
			p.As = obj.ARET
			b.AddInstruction(p)
			b.Assemble()
		}
	})
	b, err := goasm.NewBuilder("amd64", 128)
	if err != nil {
		return nil, errors.Wrap(err, "create amd64 assembler")
	}
	return &assembler{b: b}, nil
}

func (a *assembler) add(p *obj.Prog) *obj.Prog {
	a.b.AddInstruction(p)
	a.progs = append(a.progs, p)
	return p
}

// mark returns the position of the next instruction, for pcAt.
func (a *assembler) mark() int {
	return len(a.progs)
}

// pcAt returns the offset of the instruction at mark once assembled, or end when no
// instruction was added after mark.
func (a *assembler) pcAt(mark, end int) int {
	if mark >= len(a.progs) {
		return end
	}
	return int(a.progs[mark].Pc)
}

// none adds an instruction without operands such as RET.
func (a *assembler) none(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	return a.add(p)
}

// push adds PUSHQ reg.
func (a *assembler) push(reg int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = x86.APUSHQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	return a.add(p)
}

// pop adds POPQ reg.
func (a *assembler) pop(reg int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = x86.APOPQ
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	return a.add(p)
}

func (a *assembler) regToReg(as obj.As, from, to int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	return a.add(p)
}

func (a *assembler) constToReg(as obj.As, c int64, to int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = c
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	return a.add(p)
}

func (a *assembler) memToReg(as obj.As, base int16, offset int64, to int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	return a.add(p)
}

func (a *assembler) regToMem(as obj.As, from, base int16, offset int64) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	return a.add(p)
}

func (a *assembler) constToMem(as obj.As, c int64, base int16, offset int64) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = c
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	return a.add(p)
}

// addressToReg adds LEAQ offset(base), to.
func (a *assembler) addressToReg(base int16, offset int64, to int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = x86.ALEAQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	return a.add(p)
}

// callReg adds CALL reg.
func (a *assembler) callReg(reg int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	return a.add(p)
}

// prologue sets up a frame pointer and reserves frameSize bytes below it.
func (a *assembler) prologue(frameSize int64) *obj.Prog {
	first := a.push(x86.REG_BP)
	a.regToReg(x86.AMOVQ, x86.REG_SP, x86.REG_BP)
	if frameSize > 0 {
		a.constToReg(x86.ASUBQ, frameSize, x86.REG_SP)
	}
	return first
}

// epilogue tears down the frame of prologue and returns.
func (a *assembler) epilogue() *obj.Prog {
	first := a.regToReg(x86.AMOVQ, x86.REG_BP, x86.REG_SP)
	a.pop(x86.REG_BP)
	a.none(obj.ARET)
	return first
}

// assemble returns the machine code without the INT3 padding golang-asm appends up to its
// function alignment.
func (a *assembler) assemble() []byte {
	code := a.b.Assemble()
	if n := len(a.progs); n > 0 {
		last := a.progs[n-1]
		if end := int(last.Pc) + int(last.Isize); end > 0 && end <= len(code) {
			code = code[:end]
		}
	}
	return code
}
