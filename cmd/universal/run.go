package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wasmforge/universal"
	"github.com/wasmforge/universal/cache"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/wasm"
)

func newRunCommand(c *cli) *cobra.Command {
	var invoke string
	cmd := &cobra.Command{
		Use:   "run <file> --invoke <export> [args...]",
		Short: "Load a module or serialized executable and call an export",
		Long: "Load a module or serialized executable and call an export. Arguments are parsed\n" +
			"according to the export parameter types, and results are printed one per line.\n" +
			"Pass negative arguments after \"--\".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if invoke == "" {
				return errors.New("missing --invoke")
			}
			a, err := c.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()

			ft, err := exportedFunctionType(a.Module(), invoke)
			if err != nil {
				return err
			}
			params, err := parseParams(ft.Params, args[1:])
			if err != nil {
				return err
			}
			results, err := a.Invoke(invoke, params...)
			if err != nil {
				return err
			}
			for i, r := range results {
				cmd.Println(formatResult(ft.Results[i], r))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&invoke, "invoke", "", "Name of the exported function to call")
	return cmd
}

// load returns the artifact of a serialized executable, or of a module compiled through the
// cache when one is configured.
func (c *cli) load(ctx context.Context, path string) (*universal.Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(b, []byte(executable.Magic)):
		return c.engine.LoadSerialized(b)
	case c.cache != nil:
		return cache.NewLoader(c.engine, c.cache, nil, c.logger).Load(ctx, b)
	default:
		exe, err := c.engine.Compile(b, nil)
		if err != nil {
			return nil, err
		}
		return c.engine.Load(exe)
	}
}

func exportedFunctionType(m *wasm.ModuleInfo, name string) (*wasm.FunctionType, error) {
	e, ok := m.Exports[name]
	if !ok {
		return nil, errors.Errorf("export %q not found", name)
	}
	if e.Type != wasm.ExternTypeFunc {
		return nil, errors.Errorf("export %q is a %s, not a function", name, wasm.ExternTypeName(e.Type))
	}
	return m.FunctionType(e.Index), nil
}

func parseParams(types []wasm.ValueType, args []string) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, errors.Errorf("expected %d arguments, got %d", len(types), len(args))
	}
	ret := make([]uint64, len(args))
	for i, arg := range args {
		var err error
		if ret[i], err = parseParam(types[i], arg); err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
	}
	return ret, nil
}

func parseParam(t wasm.ValueType, arg string) (uint64, error) {
	switch t {
	case wasm.ValueTypeI32:
		v, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			// Unsigned values above MaxInt32 are accepted too.
			u, uerr := strconv.ParseUint(arg, 0, 32)
			if uerr != nil {
				return 0, err
			}
			return u, nil
		}
		return uint64(uint32(v)), nil
	case wasm.ValueTypeI64:
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(arg, 0, 64)
			if uerr != nil {
				return 0, err
			}
			return u, nil
		}
		return uint64(v), nil
	case wasm.ValueTypeF32:
		v, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return 0, err
		}
		return uint64(math.Float32bits(float32(v))), nil
	case wasm.ValueTypeF64:
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, err
		}
		return math.Float64bits(v), nil
	default:
		return 0, errors.Errorf("%s parameters are not supported", wasm.ValueTypeName(t))
	}
}

func formatResult(t wasm.ValueType, v uint64) string {
	switch t {
	case wasm.ValueTypeI32:
		return strconv.FormatInt(int64(int32(v)), 10)
	case wasm.ValueTypeI64:
		return strconv.FormatInt(int64(v), 10)
	case wasm.ValueTypeF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case wasm.ValueTypeF64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	default:
		return "0x" + strconv.FormatUint(v, 16)
	}
}

func newVersionCommand(*cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the serialized executable format version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("%s v%d\n", executable.Magic, executable.Version)
			return nil
		},
	}
}
