package executable

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/wasm"
)

// ErrCorrupt is wrapped by every error reading a serialized executable.
var ErrCorrupt = errors.New("corrupt serialized executable")

// CorruptError describes why a buffer isn't a valid serialized executable. It matches
// ErrCorrupt with errors.Is.
type CorruptError struct {
	Detail string
}

func (e *CorruptError) Error() string {
	return ErrCorrupt.Error() + ": " + e.Detail
}

// Is implements the errors.Is hook.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

func corrupt(cause error, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	if cause != nil {
		detail += ": " + cause.Error()
	}
	return &CorruptError{Detail: detail}
}

// View reads a serialized executable in place. NewView checks the whole buffer once, so
// accessors slice into it without further checks. The buffer must not be modified while the
// View or anything returned by it is in use.
type View struct {
	buf         []byte
	compileInfo *compiler.CompileModuleInfo

	functionBodies           list
	functionRelocations      list
	functionJumpTables       list
	functionFrameInfo        list
	callTrampolines          list
	dynamicTrampolines       list
	customSections           list
	customSectionRelocations list
	dataInitializers         list
	passiveData              list
	passiveElements          list

	debug       *compiler.Dwarf
	trampolines *compiler.TrampolinesSection
	arch        compiler.Architecture
	cpuFeatures platform.CpuFeature
}

// NewView validates b as a serialized executable.
func NewView(b []byte) (*View, error) {
	if len(b) < headerSize+tocSize {
		return nil, corrupt(nil, "%d bytes is shorter than the header", len(b))
	}
	if got := string(b[:len(Magic)]); got != Magic {
		return nil, corrupt(nil, "invalid magic %q", got)
	}
	if v := le.Uint32(b[8:]); v != Version {
		return nil, corrupt(nil, "format version %d, want %d", v, Version)
	}
	if want, got := le.Uint32(b[12:]), crc32.Checksum(b[headerSize:], crc); want != got {
		return nil, corrupt(nil, "checksum %#x, want %#x", got, want)
	}

	var sections [sectionCount][]byte
	for i := range sections {
		offset := le.Uint64(b[headerSize+16*i:])
		length := le.Uint64(b[headerSize+16*i+8:])
		if offset < uint64(headerSize+tocSize) || offset > uint64(len(b)) || length > uint64(len(b))-offset {
			return nil, corrupt(nil, "section %d: range [%#x, +%#x) out of bounds", i, offset, length)
		}
		sections[i] = b[offset : offset+length : offset+length]
	}

	v := &View{buf: b}
	var err error
	if v.compileInfo, err = decodeCompileInfo(sections[sectionCompileInfo]); err != nil {
		return nil, corrupt(err, "compile info")
	}

	lists := []struct {
		l     *list
		id    sectionID
		name  string
		check func([]byte) error
	}{
		{&v.functionBodies, sectionFunctionBodies, "function body", checkFunctionBody},
		{&v.functionRelocations, sectionFunctionRelocations, "function relocations", checkRelocations},
		{&v.functionJumpTables, sectionFunctionJumpTables, "function jump tables", checkU32s},
		{&v.functionFrameInfo, sectionFunctionFrameInfo, "function frame info", checkFrameInfo},
		{&v.callTrampolines, sectionCallTrampolines, "call trampoline", checkFunctionBody},
		{&v.dynamicTrampolines, sectionDynamicTrampolines, "dynamic trampoline", checkFunctionBody},
		{&v.customSections, sectionCustomSections, "custom section", checkCustomSection},
		{&v.customSectionRelocations, sectionCustomSectionRelocations, "custom section relocations", checkRelocations},
		{&v.dataInitializers, sectionDataInitializers, "data initializer", checkDataInitializer},
		{&v.passiveData, sectionPassiveData, "passive data", checkPassiveData},
		{&v.passiveElements, sectionPassiveElements, "passive elements", checkPassiveElements},
	}
	for _, l := range lists {
		if *l.l, err = parseList(sections[l.id]); err != nil {
			return nil, corrupt(err, "%s list", l.name)
		}
		for i := 0; i < l.l.len(); i++ {
			if err = l.check(l.l.item(i)); err != nil {
				return nil, corrupt(err, "%s[%d]", l.name, i)
			}
		}
	}

	switch s := sections[sectionDebug]; len(s) {
	case 0:
	case 4:
		v.debug = &compiler.Dwarf{EhFrame: le.Uint32(s)}
	default:
		return nil, corrupt(nil, "debug section is %d bytes", len(s))
	}
	switch s := sections[sectionTrampolines]; len(s) {
	case 0:
	case 12:
		v.trampolines = &compiler.TrampolinesSection{SectionIndex: le.Uint32(s), Slots: le.Uint32(s[4:]), Size: le.Uint32(s[8:])}
	default:
		return nil, corrupt(nil, "trampolines section is %d bytes", len(s))
	}
	cpu := sections[sectionCpuFeatures]
	if len(cpu) != 12 {
		return nil, corrupt(nil, "cpu features section is %d bytes", len(cpu))
	}
	v.cpuFeatures = platform.CpuFeature(le.Uint64(cpu))
	v.arch = compiler.Architecture(le.Uint32(cpu[8:]))

	c := v.counts()
	if err = c.check(v.compileInfo.Module); err != nil {
		return nil, corrupt(err, "inconsistent executable")
	}
	return v, nil
}

func (v *View) counts() counts {
	return counts{
		functionBodies:           v.functionBodies.len(),
		functionRelocations:      v.functionRelocations.len(),
		functionJumpTables:       v.functionJumpTables.len(),
		functionFrameInfo:        v.functionFrameInfo.len(),
		callTrampolines:          v.callTrampolines.len(),
		dynamicTrampolines:       v.dynamicTrampolines.len(),
		customSections:           v.customSections.len(),
		customSectionRelocations: v.customSectionRelocations.len(),
		debug:                    v.debug,
		trampolines:              v.trampolines,
	}
}

func checkFunctionBody(b []byte) error {
	if len(b) < 5 {
		return errors.Errorf("%d bytes is shorter than the body header", len(b))
	}
	n := uint64(le.Uint32(b))
	switch kind := compiler.UnwindKind(b[4]); kind {
	case 0:
		if n != uint64(len(b)-5) {
			return errors.Errorf("body length %d, have %d bytes", n, len(b)-5)
		}
	case compiler.UnwindWindowsX64, compiler.UnwindSystemV:
		if n > uint64(len(b)-5) {
			return errors.Errorf("body length %d exceeds %d bytes", n, len(b)-5)
		}
	default:
		return errors.Errorf("unknown unwind kind %d", kind)
	}
	return nil
}

func checkRelocations(b []byte) error {
	if len(b)%relocationSize != 0 {
		return errors.Errorf("%d bytes is not a multiple of %d", len(b), relocationSize)
	}
	for i := 0; i < len(b); i += relocationSize {
		if k := compiler.RelocationKind(b[i]); !k.Valid() {
			return errors.Errorf("relocation %d: unknown kind %d", i/relocationSize, b[i])
		}
		if t := compiler.RelocationTargetKind(b[i+1]); t > compiler.RelocationTargetJumpTable {
			return errors.Errorf("relocation %d: unknown target kind %d", i/relocationSize, b[i+1])
		}
	}
	return nil
}

func checkU32s(b []byte) error {
	if len(b)%4 != 0 {
		return errors.Errorf("%d bytes is not a multiple of 4", len(b))
	}
	return nil
}

func checkFrameInfo(b []byte) error {
	_, err := decodeFrameInfo(b)
	return err
}

func checkCustomSection(b []byte) error {
	if len(b) < 1 {
		return errors.New("missing protection")
	}
	if p := compiler.CustomSectionProtection(b[0]); p > compiler.ProtectionReadExecute {
		return errors.Errorf("unknown protection %d", p)
	}
	return nil
}

func checkDataInitializer(b []byte) error {
	_, err := decodeDataInitializer(b)
	return err
}

func checkPassiveData(b []byte) error {
	if len(b) < 4 {
		return errors.Errorf("%d bytes is shorter than the index", len(b))
	}
	return nil
}

func checkPassiveElements(b []byte) error {
	if len(b) < 4 || len(b)%4 != 0 {
		return errors.Errorf("%d bytes is not an index followed by function indices", len(b))
	}
	return nil
}

func decodeFunctionBody(b []byte) compiler.FunctionBody {
	n := le.Uint32(b)
	body := b[5 : 5+n : 5+n]
	if kind := compiler.UnwindKind(b[4]); kind != 0 {
		return compiler.FunctionBody{Body: body, UnwindInfo: &compiler.UnwindInfo{Kind: kind, Data: b[5+n:]}}
	}
	return compiler.FunctionBody{Body: body}
}

func decodeFrameInfo(b []byte) (compiler.CompiledFunctionFrameInfo, error) {
	d := &decoder{b: b}
	var fi compiler.CompiledFunctionFrameInfo
	if n := d.count("trap", 5); n > 0 {
		fi.Traps = make([]compiler.TrapInformation, n)
		for i := range fi.Traps {
			fi.Traps[i] = compiler.TrapInformation{CodeOffset: d.u32("trap offset"), TrapCode: compiler.TrapCode(d.u8("trap code"))}
		}
	}
	am := &fi.AddressMap
	am.StartSrcLoc = d.u32("start source location")
	am.EndSrcLoc = d.u32("end source location")
	am.BodyOffset = d.u32("body offset")
	am.BodyLen = d.u32("body length")
	if n := d.count("instruction", 12); n > 0 {
		am.Instructions = make([]compiler.InstructionAddressMap, n)
		for i := range am.Instructions {
			am.Instructions[i] = compiler.InstructionAddressMap{
				SrcLoc:     d.u32("instruction source location"),
				CodeOffset: d.u32("instruction offset"),
				CodeLen:    d.u32("instruction length"),
			}
		}
	}
	return fi, d.finish("frame info")
}

func decodeDataInitializer(b []byte) (wasm.DataInitializer, error) {
	d := &decoder{b: b}
	di := wasm.DataInitializer{MemoryIndex: d.u32("memory index"), Base: d.optU32("base"), Offset: d.u32("offset")}
	di.Data = d.b
	return di, d.err
}

// Bytes returns the underlying buffer.
func (v *View) Bytes() []byte {
	return v.buf
}

// CompileInfo returns the compile info, decoded into an owned value by NewView without the
// passive data and elements.
func (v *View) CompileInfo() *compiler.CompileModuleInfo {
	return v.compileInfo
}

// Module returns the description of the compiled module.
func (v *View) Module() *wasm.ModuleInfo {
	return v.compileInfo.Module
}

// FunctionCount returns the number of local functions.
func (v *View) FunctionCount() int {
	return v.functionBodies.len()
}

// FunctionBody returns the body of the local function i, sliced from the buffer.
func (v *View) FunctionBody(i int) compiler.FunctionBody {
	return decodeFunctionBody(v.functionBodies.item(i))
}

// FunctionRelocations returns the relocations of the local function i.
func (v *View) FunctionRelocations(i int) Relocations {
	return Relocations(v.functionRelocations.item(i))
}

// FunctionJumpTables returns the jump table offsets of the local function i.
func (v *View) FunctionJumpTables(i int) JumpTables {
	return JumpTables(v.functionJumpTables.item(i))
}

// FunctionFrameInfo decodes the frame info of the local function i.
func (v *View) FunctionFrameInfo(i int) compiler.CompiledFunctionFrameInfo {
	fi, _ := decodeFrameInfo(v.functionFrameInfo.item(i)) // checked by NewView
	return fi
}

// CallTrampolineCount returns the number of call trampolines, one per signature.
func (v *View) CallTrampolineCount() int {
	return v.callTrampolines.len()
}

// CallTrampoline returns the call trampoline of signature i.
func (v *View) CallTrampoline(i int) compiler.FunctionBody {
	return decodeFunctionBody(v.callTrampolines.item(i))
}

// DynamicTrampolineCount returns the number of dynamic trampolines, one per imported function.
func (v *View) DynamicTrampolineCount() int {
	return v.dynamicTrampolines.len()
}

// DynamicTrampoline returns the dynamic trampoline of imported function i.
func (v *View) DynamicTrampoline(i int) compiler.FunctionBody {
	return decodeFunctionBody(v.dynamicTrampolines.item(i))
}

// CustomSectionCount returns the number of custom sections.
func (v *View) CustomSectionCount() int {
	return v.customSections.len()
}

// CustomSectionProtection returns the protection of custom section i.
func (v *View) CustomSectionProtection(i int) compiler.CustomSectionProtection {
	return compiler.CustomSectionProtection(v.customSections.item(i)[0])
}

// CustomSectionBytes returns the contents of custom section i.
func (v *View) CustomSectionBytes(i int) []byte {
	return v.customSections.item(i)[1:]
}

// CustomSectionRelocations returns the relocations of custom section i.
func (v *View) CustomSectionRelocations(i int) Relocations {
	return Relocations(v.customSectionRelocations.item(i))
}

// Debug returns the location of the DWARF data, or nil.
func (v *View) Debug() *compiler.Dwarf {
	return v.debug
}

// Trampolines returns the arm64 call trampolines section, or nil.
func (v *View) Trampolines() *compiler.TrampolinesSection {
	return v.trampolines
}

// Architecture returns the instruction set of the generated code.
func (v *View) Architecture() compiler.Architecture {
	return v.arch
}

// CpuFeatures returns the capabilities the generated code assumes.
func (v *View) CpuFeatures() platform.CpuFeature {
	return v.cpuFeatures
}

// DataInitializers returns the active data segments. Their data is sliced from the buffer.
func (v *View) DataInitializers() []wasm.DataInitializer {
	if v.dataInitializers.len() == 0 {
		return nil
	}
	ret := make([]wasm.DataInitializer, v.dataInitializers.len())
	for i := range ret {
		ret[i], _ = decodeDataInitializer(v.dataInitializers.item(i)) // checked by NewView
	}
	return ret
}

// PassiveData copies the passive data segments out of the buffer.
func (v *View) PassiveData() (map[wasm.Index][]byte, error) {
	ret := make(map[wasm.Index][]byte, v.passiveData.len())
	for i := 0; i < v.passiveData.len(); i++ {
		item := v.passiveData.item(i)
		idx := le.Uint32(item)
		if _, ok := ret[idx]; ok {
			return nil, corrupt(nil, "passive data %d is duplicated", idx)
		}
		ret[idx] = bytes.Clone(item[4:])
	}
	return ret, nil
}

// PassiveElements copies the passive element segments out of the buffer.
func (v *View) PassiveElements() (map[wasm.Index][]wasm.Index, error) {
	ret := make(map[wasm.Index][]wasm.Index, v.passiveElements.len())
	for i := 0; i < v.passiveElements.len(); i++ {
		item := v.passiveElements.item(i)
		idx := le.Uint32(item)
		if _, ok := ret[idx]; ok {
			return nil, corrupt(nil, "passive elements %d are duplicated", idx)
		}
		elems := make([]wasm.Index, (len(item)-4)/4)
		for j := range elems {
			elems[j] = le.Uint32(item[4+4*j:])
		}
		ret[idx] = elems
	}
	return ret, nil
}

// Relocations is a serialized relocation list.
type Relocations []byte

// Len returns the number of relocations.
func (r Relocations) Len() int {
	return len(r) / relocationSize
}

// At decodes relocation i.
func (r Relocations) At(i int) compiler.Relocation {
	b := r[i*relocationSize:]
	return compiler.Relocation{
		Kind: compiler.RelocationKind(b[0]),
		Target: compiler.RelocationTarget{
			Kind:      compiler.RelocationTargetKind(b[1]),
			Index:     le.Uint32(b[8:]),
			JumpTable: le.Uint32(b[12:]),
		},
		Offset: le.Uint32(b[4:]),
		Addend: int64(le.Uint64(b[16:])),
	}
}

// JumpTables is a serialized list of jump table offsets.
type JumpTables []byte

// Len returns the number of jump tables.
func (j JumpTables) Len() int {
	return len(j) / 4
}

// At returns the offset of jump table i.
func (j JumpTables) At(i int) uint32 {
	return le.Uint32(j[4*i:])
}
