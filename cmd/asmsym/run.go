package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/asmsym"
	"github.com/benbjohnson/asmsym/asm"
	"github.com/benbjohnson/asmsym/z3"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// SolverCacheSize is the number of solver results cached per run.
const SolverCacheSize = 4096

// graphFlags are the flags shared by commands that build an execution graph.
type graphFlags struct {
	config     string
	maxSteps   int
	maxLeaves  int
	checkEvery int
	noSolver   bool
	timeout    time.Duration
}

func (f *graphFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "", "YAML file declaring the tracked registers and flags")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", asmsym.DefaultMaxSteps, "maximum path length")
	cmd.Flags().IntVar(&f.maxLeaves, "max-leaves", asmsym.DefaultMaxLeaves, "maximum number of paths")
	cmd.Flags().IntVar(&f.checkEvery, "check-every", 0, "prune inconsistent paths every N steps (0 disables)")
	cmd.Flags().BoolVar(&f.noSolver, "no-solver", false, "do not use the Z3 solver")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "overall time limit")
}

// options returns the graph options and a function that releases the solver.
func (f *graphFlags) options() (asmsym.GraphOptions, func(), error) {
	opts := asmsym.GraphOptions{
		MaxSteps:   f.maxSteps,
		MaxLeaves:  f.maxLeaves,
		CheckEvery: f.checkEvery,
		Logger:     logrus.StandardLogger(),
	}
	if f.config != "" {
		cfg, err := asmsym.ReadStateConfigFile(f.config)
		if err != nil {
			return opts, nil, err
		}
		opts.Config = cfg
	}

	closer := func() {}
	if !f.noSolver {
		s := z3.NewSolver()
		opts.Solver = asmsym.NewCachedSolver(s, SolverCacheSize)
		closer = func() { s.Close() }
	}
	return opts, closer, nil
}

// NewRunCommand returns the command that analyzes a program.
func NewRunCommand(verbose *bool) *cobra.Command {
	var flags graphFlags
	var line, start int
	var backward bool

	cmd := &cobra.Command{
		Use:   "run [flags] FILE",
		Short: "analyze a program and print the states at a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readProgram(args[0])
			if err != nil {
				return err
			}

			opts, closeSolver, err := flags.options()
			if err != nil {
				return err
			}
			defer closeSolver()

			ctx := cmd.Context()
			if flags.timeout > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, flags.timeout)
				defer cancel()
			}

			a, err := asmsym.Analyze(ctx, lines, asmsym.AnalysisOptions{
				Line:     line,
				Start:    start,
				Backward: backward,
				Graph:    opts,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if *verbose {
				cfg := spew.ConfigState{Indent: "  ", MaxDepth: 3, DisablePointerAddresses: true}
				cfg.Fdump(cmd.ErrOrStderr(), a.Graph.Nodes)
				fmt.Fprint(cmd.ErrOrStderr(), a.Graph.String())
			}

			for i, state := range a.States {
				fmt.Fprintf(w, "# path %d\n%s\n", i, state.Dump())
			}
			if a.Collapsed != nil && len(a.States) > 1 {
				fmt.Fprintf(w, "# collapsed\n%s\n", a.Collapsed.Dump())
			}
			for _, msg := range a.Warnings {
				fmt.Fprintf(w, "warning: %s\n", msg)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&line, "line", -1, "line whose states are printed (-1 prints the leaves)")
	cmd.Flags().IntVar(&start, "start", 0, "entry line of a forward run")
	cmd.Flags().BoolVar(&backward, "backward", false, "unroll backward from --line to the program entry")
	return cmd
}

// readProgram parses an assembly file.
func readProgram(path string) ([]asmsym.Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := asm.Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return lines, nil
}
