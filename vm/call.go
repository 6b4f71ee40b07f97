package vm

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	// ErrNativeCallUnsupported is returned by Trampoline.Call on hosts that can't call native code.
	ErrNativeCallUnsupported = errors.New("native calls are not supported on " + runtime.GOOS + "/" + runtime.GOARCH)
	// ErrNilHandle is returned when calling through a nil trampoline or function pointer.
	ErrNilHandle = errors.New("nil trampoline or function body")
)

// Call invokes callee through the trampoline. values holds the arguments on entry, one
// per slot, and the result in slot 0 on return. It must have room for at least one value.
func (t Trampoline) Call(vmctx uintptr, callee FunctionBodyPtr, values []uint64) error {
	if !nativeCallSupported {
		return ErrNativeCallUnsupported
	}
	if t.IsNil() || callee.IsNil() {
		return ErrNilHandle
	}
	if len(values) == 0 {
		return errors.New("values must have at least one slot")
	}
	nativecall(t.Uintptr(), vmctx, callee.Uintptr(), uintptr(unsafe.Pointer(&values[0])))
	runtime.KeepAlive(values)
	return nil
}
