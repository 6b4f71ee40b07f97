package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serializedExt is the extension of serialized executables.
const serializedExt = ".wasmu"

func newCompileCommand(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile [-o output] <file.wasm>...",
		Short: "Compile modules to serialized executables",
		Long: "Compile modules to serialized executables. Without -o, each output is written next to its input.\n" +
			"With one input, -o names the output file. With several, -o names a directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputs, err := compileOutputs(args, output)
			if err != nil {
				return err
			}
			var g errgroup.Group
			g.SetLimit(runtime.GOMAXPROCS(0))
			for i := range args {
				in, out := args[i], outputs[i]
				g.Go(func() error {
					return c.compile(in, out)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or directory with several inputs")
	return cmd
}

// compileOutputs returns the output path of each input.
func compileOutputs(inputs []string, output string) ([]string, error) {
	ret := make([]string, len(inputs))
	switch {
	case output == "":
		for i, in := range inputs {
			ret[i] = strings.TrimSuffix(in, filepath.Ext(in)) + serializedExt
		}
	case len(inputs) == 1:
		ret[0] = output
	default:
		if err := os.MkdirAll(output, 0o755); err != nil {
			return nil, err
		}
		seen := make(map[string]string, len(inputs))
		for i, in := range inputs {
			base := filepath.Base(in)
			out := filepath.Join(output, strings.TrimSuffix(base, filepath.Ext(base))+serializedExt)
			if prev, ok := seen[out]; ok {
				return nil, errors.Errorf("%s and %s would both be written to %s", prev, in, out)
			}
			seen[out] = in
			ret[i] = out
		}
	}
	return ret, nil
}

func (c *cli) compile(in, out string) error {
	bin, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	exe, err := c.engine.Compile(bin, nil)
	if err != nil {
		return errors.Wrap(err, in)
	}
	if err = os.WriteFile(out, exe.Bytes(), 0o644); err != nil {
		return err
	}
	c.logger.Info("compiled", zap.String("input", in), zap.String("output", out), zap.Int("code_size", exe.CodeSize()))
	return nil
}

func newValidateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.wasm>",
		Short: "Check that a module can be compiled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err = c.engine.Validate(bin); err != nil {
				return errors.Wrap(err, args[0])
			}
			cmd.Printf("%s: ok\n", args[0])
			return nil
		},
	}
}
