// Command universal compiles WebAssembly modules to serialized executables, inspects them and
// runs their exports.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmforge/universal"
	"github.com/wasmforge/universal/cache"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// cli is the state shared by the subcommands, set up before any of them runs.
type cli struct {
	stdout, stderr io.Writer

	flags  flagOptions
	config fileConfig

	logger *zap.Logger
	engine *universal.Engine
	cache  cache.Cache
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "universal <command>",
		Short:         "Compile, inspect and run WebAssembly modules ahead of time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Flags())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.teardown()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	c.flags.install(cmd.PersistentFlags())

	cmd.AddCommand(
		newCompileCommand(c),
		newValidateCommand(c),
		newInspectCommand(c),
		newRunCommand(c),
		newVersionCommand(c),
	)
	return cmd
}

func (c *cli) teardown() error {
	if closer, ok := c.cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return nil
}
