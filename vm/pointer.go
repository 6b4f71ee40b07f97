package vm

import "unsafe"

const hostPointerSize = uint8(unsafe.Sizeof(uintptr(0)))
