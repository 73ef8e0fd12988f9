package asmsym

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AnalysisOptions configures an analysis run.
type AnalysisOptions struct {
	// Line whose states are requested. Each path contributes its first
	// visit of the line; later loop iterations are not reported. In a
	// forward run -1 requests the leaves. A backward run unrolls from Line
	// to the program entry and reports the entry states.
	Line int

	// Start is the entry line of a forward run.
	Start int

	Backward bool

	// Graph bounds, keys, solver and logger. A zero Config tracks what the
	// program mentions.
	Graph GraphOptions
}

// Analysis is the result of an analysis run.
type Analysis struct {
	Flow  *StaticFlow
	Graph *ExecutionGraph

	// States holds one state per consistent path that reaches the line.
	// States of halted leaves carry the halt message as their warning.
	States []*State

	// Collapsed is the merge of States. Nil when no state is reachable.
	Collapsed *State

	Warnings []string
}

// Analyze builds the control flow of lines, unrolls it and collapses the
// states at the requested line. Contract violations inside the engine are
// returned as errors.
func Analyze(ctx context.Context, lines []Line, opts AnalysisOptions) (a *Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, errors.Errorf("analysis aborted: %v", r)
		}
	}()

	if opts.Graph.Config == (StateConfig{}) {
		opts.Graph.Config = ConfigFromLines(lines)
	}
	if opts.Graph.Logger == nil {
		opts.Graph.Logger = logrus.StandardLogger()
	}
	if opts.Graph.Keys == nil {
		opts.Graph.Keys = NewKeyGenerator(0)
	}
	logger := opts.Graph.Logger

	a = &Analysis{Flow: NewStaticFlow(lines)}
	for _, msg := range a.Flow.Warnings {
		logger.Warn(msg)
		a.addWarning(msg)
	}

	target := opts.Line
	if opts.Backward {
		a.Graph, err = BuildBackward(ctx, a.Flow, opts.Line, opts.Graph)
		target = -1
	} else {
		a.Graph, err = BuildForward(ctx, a.Flow, opts.Start, opts.Graph)
	}
	if err != nil {
		return nil, errors.Wrap(err, "build graph")
	}
	for _, msg := range a.Graph.Warnings {
		a.addWarning(msg)
	}

	logger.WithFields(logrus.Fields{
		"direction": a.Graph.Direction.String(),
		"nodes":     len(a.Graph.Nodes),
		"leaves":    len(a.Graph.Leaves()),
	}).Debug("graph built")

	ids := a.Graph.Leaves()
	if target != -1 {
		ids = a.Graph.FirstNodesAt(target)
	}
	for _, id := range ids {
		if a.Graph.Nodes[id].Inconsistent {
			continue
		}
		state := a.Graph.StateOf(id)
		if opts.Graph.Solver != nil {
			result, err := state.Consistent(ctx, opts.Graph.Solver)
			if err != nil {
				return nil, errors.Wrapf(err, "check node %d", id)
			} else if result.IsUnsat() {
				continue
			}
		}
		a.States = append(a.States, state)
	}

	a.Collapsed, err = a.Graph.Collapse(ctx, target)
	if errors.Is(err, ErrUnreachable) {
		a.addWarning(fmt.Sprintf("line %d: %s", opts.Line, err))
	} else if err != nil {
		return nil, errors.Wrap(err, "collapse")
	} else {
		for _, msg := range strings.Split(a.Collapsed.Warning, "; ") {
			a.addWarning(msg)
		}
	}
	return a, nil
}

// addWarning appends msg unless it is empty or already reported.
func (a *Analysis) addWarning(msg string) {
	if msg == "" {
		return
	}
	for _, other := range a.Warnings {
		if other == msg {
			return
		}
	}
	a.Warnings = append(a.Warnings, msg)
}
