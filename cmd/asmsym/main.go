package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand returns the asmsym command and its subcommands.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "asmsym",
		Short: "asmsym is a symbolic execution engine for x86-64 assembly",
		Long: `
asmsym builds, for each path through an assembly program, formulas describing
every register, flag and memory byte in terms of the initial state.
`[1:],
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetOutput(stderr)
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging and state dumps")

	cmd.AddCommand(
		NewRunCommand(&verbose),
		NewLeavesCommand(),
		NewFlowCommand(),
		NewDisasmCommand(),
	)
	return cmd
}
