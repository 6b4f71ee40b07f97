package universal

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a CompileError.
type Kind int

const (
	// KindWasm is a module that failed to decode or translate.
	KindWasm Kind = iota + 1
	// KindValidate is a module the compiler can't accept.
	KindValidate
	// KindCodegen is a failure of the code generator, including resource limits it hits.
	KindCodegen
	// KindResource is an exhausted code memory budget.
	KindResource
	// KindCapability is a missing compiler or missing CPU features.
	KindCapability
	// KindUnsupportedTarget is a target the compiler has no code generator for.
	KindUnsupportedTarget
	// KindCorrupt is a serialized executable that fails its consistency checks.
	KindCorrupt
	// KindLink is a layout or relocation that can't be applied.
	KindLink
)

var kindNames = map[Kind]string{
	KindWasm:              "wasm",
	KindValidate:          "validate",
	KindCodegen:           "codegen",
	KindResource:          "resource",
	KindCapability:        "capability",
	KindUnsupportedTarget: "unsupported target",
	KindCorrupt:           "corrupt",
	KindLink:              "link",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CompileError is returned by every Engine operation.
type CompileError struct {
	Kind Kind
	Msg  string
	// Err is the underlying error, or nil.
	Err error
}

func (e *CompileError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error: " + e.Msg
	}
	return e.Kind.String() + " error: " + e.Msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors causer.
func (e *CompileError) Cause() error {
	return e.Err
}

// IsKind returns true if err is or wraps a CompileError of kind.
func IsKind(err error, kind Kind) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Kind == kind
}

func newError(kind Kind, cause error, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}
