package vm

const nativeCallSupported = true

// nativecall calls trampoline with vmctx, callee and values as its System V arguments, on a
// stack reserved in its own frame. It is implemented in call_amd64.s.
//
//go:noescape
func nativecall(trampoline, vmctx, callee, values uintptr)
