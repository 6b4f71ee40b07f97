package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/wasm"
)

func newInspectCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file" + serializedExt + ">",
		Short: "Describe a serialized executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			v, err := executable.NewView(b)
			if err != nil {
				return errors.Wrap(err, args[0])
			}
			return inspect(cmd.OutOrStdout(), v)
		},
	}
}

func inspect(out io.Writer, v *executable.View) error {
	m := v.Module()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Format:\t%s v%d\n", executable.Magic, executable.Version)
	fmt.Fprintf(tw, "Size:\t%s\n", units.BytesSize(float64(len(v.Bytes()))))
	fmt.Fprintf(tw, "Architecture:\t%s\n", v.Architecture())
	fmt.Fprintf(tw, "CPU features:\t%s\n", v.CpuFeatures())
	if m.Name != "" {
		fmt.Fprintf(tw, "Module:\t%s\n", m.Name)
	}
	if m.StartFunction != nil {
		fmt.Fprintf(tw, "Start:\t%d\n", *m.StartFunction)
	}

	fmt.Fprintf(tw, "\nFunctions (%d):\n", v.FunctionCount())
	for i := 0; i < v.FunctionCount(); i++ {
		idx := m.FunctionIndex(wasm.Index(i))
		body := v.FunctionBody(i)
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d bytes\t%d relocations\n", idx, m.FunctionNames[idx],
			m.FunctionType(idx), len(body.Body), v.FunctionRelocations(i).Len())
	}

	if len(m.Imports) > 0 {
		fmt.Fprintf(tw, "\nImports (%d):\n", len(m.Imports))
		for _, imp := range m.Imports {
			fmt.Fprintf(tw, "  %s.%s\t%s %d\n", imp.Module, imp.Field, wasm.ExternTypeName(imp.Entity.Type), imp.Entity.Index)
		}
	}

	if len(m.Exports) > 0 {
		fmt.Fprintf(tw, "\nExports (%d):\n", len(m.Exports))
		for _, name := range m.SortedExportNames() {
			e := m.Exports[name]
			fmt.Fprintf(tw, "  %s\t%s %d\n", name, wasm.ExternTypeName(e.Type), e.Index)
		}
	}

	fmt.Fprintln(tw, "\nSections:")
	fmt.Fprintf(tw, "  call trampolines\t%d\t%s\n", v.CallTrampolineCount(), bodiesSize(v.CallTrampolineCount(), v.CallTrampoline))
	fmt.Fprintf(tw, "  dynamic trampolines\t%d\t%s\n", v.DynamicTrampolineCount(), bodiesSize(v.DynamicTrampolineCount(), v.DynamicTrampoline))
	for i := 0; i < v.CustomSectionCount(); i++ {
		fmt.Fprintf(tw, "  custom section %d\t%s\t%s\n", i, v.CustomSectionProtection(i),
			units.BytesSize(float64(len(v.CustomSectionBytes(i)))))
	}
	fmt.Fprintf(tw, "  data initializers\t%d\n", len(v.DataInitializers()))
	return tw.Flush()
}

func bodiesSize(n int, body func(int) compiler.FunctionBody) string {
	var size int
	for i := 0; i < n; i++ {
		size += len(body(i).Body)
	}
	return units.BytesSize(float64(size))
}
