package platform

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// CpuFeature is a bit in the instruction-set capability set assumed by generated code.
type CpuFeature uint64

const (
	CpuFeatureAmd64SSE3 CpuFeature = 1 << iota
	CpuFeatureAmd64SSSE3
	CpuFeatureAmd64SSE41
	CpuFeatureAmd64SSE42
	CpuFeatureAmd64POPCNT
	CpuFeatureAmd64AVX
	CpuFeatureAmd64BMI1
	CpuFeatureAmd64BMI2
	CpuFeatureAmd64AVX2
	CpuFeatureArm64Atomics
	CpuFeatureArm64CRC32
)

var cpuFeatureNames = []struct {
	f    CpuFeature
	name string
}{
	{CpuFeatureAmd64SSE3, "sse3"},
	{CpuFeatureAmd64SSSE3, "ssse3"},
	{CpuFeatureAmd64SSE41, "sse4.1"},
	{CpuFeatureAmd64SSE42, "sse4.2"},
	{CpuFeatureAmd64POPCNT, "popcnt"},
	{CpuFeatureAmd64AVX, "avx"},
	{CpuFeatureAmd64BMI1, "bmi1"},
	{CpuFeatureAmd64BMI2, "bmi2"},
	{CpuFeatureAmd64AVX2, "avx2"},
	{CpuFeatureArm64Atomics, "atomics"},
	{CpuFeatureArm64CRC32, "crc32"},
}

// Has returns true if every bit of other is set.
func (f CpuFeature) Has(other CpuFeature) bool {
	return f&other == other
}

// Missing returns the bits of required that f lacks.
func (f CpuFeature) Missing(required CpuFeature) CpuFeature {
	return required &^ f
}

// String returns the feature names joined by '|'.
func (f CpuFeature) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, n := range cpuFeatureNames {
		if f.Has(n.f) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseCpuFeature returns the feature with the given name.
func ParseCpuFeature(name string) (CpuFeature, bool) {
	for _, n := range cpuFeatureNames {
		if n.name == name {
			return n.f, true
		}
	}
	return 0, false
}

// CpuFeatures exposes the capabilities for this CPU.
var CpuFeatures = loadCpuFeatures()

func loadCpuFeatures() (f CpuFeature) {
	switch runtime.GOARCH {
	case "amd64":
		set(&f, cpu.X86.HasSSE3, CpuFeatureAmd64SSE3)
		set(&f, cpu.X86.HasSSSE3, CpuFeatureAmd64SSSE3)
		set(&f, cpu.X86.HasSSE41, CpuFeatureAmd64SSE41)
		set(&f, cpu.X86.HasSSE42, CpuFeatureAmd64SSE42)
		set(&f, cpu.X86.HasPOPCNT, CpuFeatureAmd64POPCNT)
		set(&f, cpu.X86.HasAVX, CpuFeatureAmd64AVX)
		set(&f, cpu.X86.HasBMI1, CpuFeatureAmd64BMI1)
		set(&f, cpu.X86.HasBMI2, CpuFeatureAmd64BMI2)
		set(&f, cpu.X86.HasAVX2, CpuFeatureAmd64AVX2)
	case "arm64":
		set(&f, cpu.ARM64.HasATOMICS, CpuFeatureArm64Atomics)
		set(&f, cpu.ARM64.HasCRC32, CpuFeatureArm64CRC32)
	}
	return
}

func set(f *CpuFeature, ok bool, bit CpuFeature) {
	if ok {
		*f |= bit
	}
}
