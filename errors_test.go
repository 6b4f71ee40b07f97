package universal

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCompileError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  *CompileError
		exp  string
	}{
		{name: "without cause", err: newError(KindCapability, nil, "no %s", "compiler"), exp: "capability error: no compiler"},
		{name: "with cause", err: newError(KindLink, cause, "function %d", 3), exp: "link error: function 3: boom"},
		{name: "unknown kind", err: &CompileError{Kind: 42, Msg: "x"}, exp: "Kind(42) error: x"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.EqualError(t, tc.err, tc.exp)
		})
	}
}

func TestIsKind(t *testing.T) {
	cause := errors.New("boom")
	err := errors.Wrap(newError(KindResource, cause, "allocate"), "load")

	require.True(t, IsKind(err, KindResource))
	require.False(t, IsKind(err, KindLink))
	require.False(t, IsKind(cause, KindResource))
	require.False(t, IsKind(nil, KindResource))

	require.ErrorIs(t, err, cause)
	require.Equal(t, cause, errors.Cause(err))
}
