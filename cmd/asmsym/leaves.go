package main

import (
	"context"
	"fmt"
	"runtime"
	"text/tabwriter"

	"github.com/benbjohnson/asmsym"
	"github.com/benbjohnson/asmsym/z3"
	"github.com/spf13/cobra"
)

// NewLeavesCommand returns the command that checks every path of a program
// with one solver per worker.
func NewLeavesCommand() *cobra.Command {
	var flags graphFlags
	var start, jobs int

	cmd := &cobra.Command{
		Use:   "leaves [flags] FILE",
		Short: "check the consistency of every path end in parallel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readProgram(args[0])
			if err != nil {
				return err
			}

			// Leaves are checked below with a solver per worker.
			flags.noSolver = true
			opts, closeSolver, err := flags.options()
			if err != nil {
				return err
			}
			defer closeSolver()
			if opts.Config == (asmsym.StateConfig{}) {
				opts.Config = asmsym.ConfigFromLines(lines)
			}

			ctx := cmd.Context()
			if flags.timeout > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, flags.timeout)
				defer cancel()
			}

			g, err := asmsym.BuildForward(ctx, asmsym.NewStaticFlow(lines), start, opts)
			if err != nil {
				return err
			}

			results, err := g.CheckLeaves(ctx, func() (asmsym.Solver, error) {
				return z3.NewSolver(), nil
			}, jobs)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tLINE\tSTEP\tEND\tRESULT")
			for i, id := range g.Leaves() {
				n := g.Node(id)
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", n.ID, n.Line, n.Step, n.Terminal, results[i])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, msg := range g.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", msg)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&start, "start", 0, "entry line")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "number of solver workers")
	return cmd
}
