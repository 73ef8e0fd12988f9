package asmsym

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Collapse merges every consistent state that reaches line into one state.
// A line of -1 collapses the leaves instead.
//
// Sibling subtrees are merged at their lowest common ancestor, innermost
// divergence first, so each merge resolves the branch that separated the
// two paths. Paths stop at the first node on line. When the graph has a
// solver, states proven inconsistent are dropped before merging.
//
// Returns ErrUnreachable if no consistent state remains.
func (g *ExecutionGraph) Collapse(ctx context.Context, line int) (*State, error) {
	if line != -1 && !g.Flow.IsValidLine(line) {
		return nil, fmt.Errorf("line %d: %w", line, ErrLineOutOfRange)
	}

	c := &collapser{g: g, ctx: ctx, line: line, tail: g.opts.Keys.Next()}
	state, err := c.collapse(0, NewState(g.RootKey, g.Config))
	if err != nil {
		return nil, err
	} else if state == nil {
		return nil, ErrUnreachable
	}
	return state, nil
}

type collapser struct {
	g    *ExecutionGraph
	ctx  context.Context
	line int
	tail Key // shared tail key of backward states
}

// collapse returns the merge of every target state below node id, or nil.
func (c *collapser) collapse(id int, state *State) (*State, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}

	g := c.g
	n := g.Nodes[id]
	if n.Inconsistent {
		return nil, nil
	}

	isTarget := n.Line == c.line
	if c.line == -1 {
		isTarget = n.IsLeaf(g.Direction)
	}
	if isTarget {
		return c.target(n, state)
	}

	var merged *State
	for _, child := range g.children(n) {
		var next *State
		if g.Direction == Forward {
			next = state.ApplyForward(g.Nodes[child].Update)
		} else {
			next = state.ApplyBackward(g.Nodes[child].Update)
		}

		s, err := c.collapse(child, next)
		if err != nil {
			return nil, err
		} else if s == nil {
			continue
		}

		if merged == nil {
			merged = s
		} else {
			merged = MergeStates(merged, s, g.opts.Keys.Next(), g.logger)
		}
	}
	return merged, nil
}

// target prepares the state of target node n for merging.
func (c *collapser) target(n *ExecutionNode, state *State) (*State, error) {
	state = n.annotate(state)
	if c.g.opts.Solver != nil {
		result, err := state.Consistent(c.ctx, c.g.opts.Solver)
		if err != nil {
			return nil, err
		} else if result.IsUnsat() {
			return nil, nil
		}
	} else if state.IsTriviallyInconsistent() {
		return nil, nil
	}

	if c.g.Direction == Backward {
		state = state.RenameTail(c.tail)
	}
	return state, nil
}

// CheckLeaves checks the consistency of every leaf in parallel. Leaves are
// split between at most concurrency workers, each owning a solver created by
// newSolver. A solver implementing io.Closer is closed when its worker is
// done. Results are in the order of Leaves. Leaves proven inconsistent are
// marked on the graph.
func (g *ExecutionGraph) CheckLeaves(ctx context.Context, newSolver func() (Solver, error), concurrency int) ([]Result, error) {
	leaves := g.Leaves()
	if concurrency <= 0 {
		concurrency = 1
	} else if concurrency > len(leaves) {
		concurrency = len(leaves)
	}
	results := make([]Result, len(leaves))

	// Replay states up front; workers only read the graph.
	states := make([]*State, len(leaves))
	for i, id := range leaves {
		if !g.Nodes[id].Inconsistent {
			states[i] = g.StateOf(id)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for w := 0; w < concurrency; w++ {
		w := w
		eg.Go(func() error {
			solver, err := newSolver()
			if err != nil {
				return errors.Wrap(err, "new solver")
			}
			if closer, ok := solver.(io.Closer); ok {
				defer closer.Close()
			}

			for i := w; i < len(leaves); i += concurrency {
				if states[i] == nil {
					results[i] = Result{Status: StatusUnsat}
					continue
				}
				result, err := states[i].Consistent(ctx, solver)
				if err != nil {
					return errors.Wrapf(err, "leaf %d", leaves[i])
				}
				results[i] = result
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i, id := range leaves {
		if results[i].IsUnsat() {
			g.Nodes[id].Inconsistent = true
		}
	}
	return results, nil
}
