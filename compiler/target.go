package compiler

import (
	"fmt"
	"runtime"

	"github.com/wasmforge/universal/internal/platform"
)

// Architecture is the instruction set a Target generates code for.
type Architecture uint8

const (
	ArchitectureUnknown Architecture = iota
	ArchitectureAmd64
	ArchitectureArm64
)

func (a Architecture) String() string {
	switch a {
	case ArchitectureAmd64:
		return "amd64"
	case ArchitectureArm64:
		return "arm64"
	}
	return fmt.Sprintf("unknown(%d)", uint8(a))
}

// ParseArchitecture converts a GOARCH name.
func ParseArchitecture(goarch string) (Architecture, error) {
	switch goarch {
	case "amd64", "x86_64":
		return ArchitectureAmd64, nil
	case "arm64", "aarch64":
		return ArchitectureArm64, nil
	}
	return ArchitectureUnknown, fmt.Errorf("unsupported architecture %q", goarch)
}

// CpuFeature is a set of instruction set extensions generated code may rely on.
type CpuFeature = platform.CpuFeature

// Target describes the machine code a compiler produces.
type Target struct {
	Architecture Architecture
	CpuFeatures  CpuFeature
}

// HostTarget returns the Target of the running process.
func HostTarget() Target {
	arch, _ := ParseArchitecture(runtime.GOARCH)
	return Target{Architecture: arch, CpuFeatures: platform.CpuFeatures}
}

// PointerWidth returns the size of a native pointer in bytes.
func (t Target) PointerWidth() int {
	return 8
}

func (t Target) String() string {
	return t.Architecture.String() + "+" + t.CpuFeatures.String()
}
