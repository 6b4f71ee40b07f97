//go:build !amd64

package vm

const nativeCallSupported = false

func nativecall(trampoline, vmctx, callee, values uintptr) {
	panic(ErrNativeCallUnsupported)
}
