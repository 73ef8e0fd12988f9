package asmsym

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Default graph bounds.
const (
	DefaultMaxSteps  = 1000
	DefaultMaxLeaves = 1000
)

// Successor kinds, indexing ExecutionNode.Forward.
const (
	EdgeContinue = 0
	EdgeBranch   = 1
)

// Direction is the traversal order of an execution graph.
type Direction int

// Traversal directions.
const (
	Forward Direction = iota
	Backward
)

// String returns the name of the direction.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Terminal reasons.
const (
	TerminalEnd          = "end"
	TerminalEntry        = "entry"
	TerminalReturn       = "return"
	TerminalInconsistent = "inconsistent"
	TerminalMaxSteps     = "max steps"
	TerminalMaxLeaves    = "max leaves"
)

// ExecutionNode is one step of an execution graph.
//
// In a forward graph a node is the state before its line executes, Update is
// the delta of its parent's instruction, Forward holds its children and
// Backward its single parent.
//
// In a backward graph a node is the state before its line executes on the way
// to the root, Update is the delta of its own instruction, Backward holds its
// children (one per predecessor line) and Forward the parent they lead to.
type ExecutionNode struct {
	ID       int
	Step     int
	Line     int
	Key      Key // head key in a forward graph, tail key in a backward graph
	Update   *StateUpdate
	Forward  [2]int
	Backward []int

	Inconsistent bool
	Halted       bool // Terminal holds the halt message
	Terminal     string
}

// IsLeaf returns true if the node has no children in the graph's direction.
func (n *ExecutionNode) IsLeaf(dir Direction) bool {
	if dir == Backward {
		return len(n.Backward) == 0
	}
	return n.Forward[EdgeContinue] == -1 && n.Forward[EdgeBranch] == -1
}

// setForward sets a forward edge. Edges are set once.
func (n *ExecutionNode) setForward(kind, id int) {
	assert(n.Forward[kind] == -1, "node %d: forward edge %d already set to %d", n.ID, kind, n.Forward[kind])
	n.Forward[kind] = id
}

// GraphOptions configures graph construction.
type GraphOptions struct {
	// Bounds on the depth of any path and on the number of leaves.
	// Zero uses the defaults.
	MaxSteps  int
	MaxLeaves int

	// If positive, path consistency is checked with Solver every CheckEvery
	// steps and inconsistent paths are not expanded.
	CheckEvery int

	// Tracked entities. The zero value tracks everything.
	Config StateConfig

	Keys   *KeyGenerator
	Solver Solver
	Logger logrus.FieldLogger
}

func (opts *GraphOptions) normalize() {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxLeaves <= 0 {
		opts.MaxLeaves = DefaultMaxLeaves
	}
	if opts.Config == (StateConfig{}) {
		opts.Config = NewStateConfig()
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyGenerator(0)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
}

// ExecutionGraph is the unrolling of a program's control flow into a tree of
// state deltas. Nodes are stored in an arena and refer to each other by index.
type ExecutionGraph struct {
	Flow      *StaticFlow
	Direction Direction
	Config    StateConfig
	RootKey   Key
	Nodes     []*ExecutionNode

	Truncated bool
	Warnings  []string

	opts   GraphOptions
	logger logrus.FieldLogger
	leaves int
}

// Root returns the root node.
func (g *ExecutionGraph) Root() *ExecutionNode {
	return g.Nodes[0]
}

// Node returns the node with the given id.
func (g *ExecutionGraph) Node(id int) *ExecutionNode {
	assert(id >= 0 && id < len(g.Nodes), "node %d out of range", id)
	return g.Nodes[id]
}

func newExecutionGraph(flow *StaticFlow, dir Direction, line int, opts GraphOptions) (*ExecutionGraph, error) {
	opts.normalize()
	if !flow.IsValidLine(line) {
		return nil, fmt.Errorf("line %d: %w", line, ErrLineOutOfRange)
	}

	g := &ExecutionGraph{
		Flow:      flow,
		Direction: dir,
		Config:    opts.Config,
		RootKey:   opts.Keys.Next(),
		opts:      opts,
		logger:    opts.Logger.WithField("direction", dir.String()),
	}
	g.addNode(0, line, g.RootKey, nil)
	return g, nil
}

func (g *ExecutionGraph) addNode(step, line int, key Key, u *StateUpdate) *ExecutionNode {
	n := &ExecutionNode{
		ID:      len(g.Nodes),
		Step:    step,
		Line:    line,
		Key:     key,
		Update:  u,
		Forward: [2]int{-1, -1},
	}
	g.Nodes = append(g.Nodes, n)
	return n
}

func (g *ExecutionGraph) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	g.Warnings = append(g.Warnings, msg)
	g.logger.Warn(msg)
}

// terminate marks n as a leaf for the given reason.
func (g *ExecutionGraph) terminate(n *ExecutionNode, reason string) {
	n.Terminal = reason
	g.leaves++
}

// forwardEdge is a successor of a node in a forward graph.
type forwardEdge struct {
	kind   int
	line   int
	update *StateUpdate
}

// frame is a pending node and the state it describes.
type frame struct {
	id    int
	state *State
}

// BuildForward unrolls the program forward from line.
func BuildForward(ctx context.Context, flow *StaticFlow, line int, opts GraphOptions) (*ExecutionGraph, error) {
	g, err := newExecutionGraph(flow, Forward, line, opts)
	if err != nil {
		return nil, err
	}

	stack := []frame{{id: 0, state: NewState(g.RootKey, g.Config)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := g.Nodes[f.id]

		if !g.expandable(n, len(stack)) {
			continue
		}

		next, branch := flow.Successors(n.Line)
		regular, taken := Execute(flow.Lines[n.Line], n.Line, Keys{
			Prev:    n.Key,
			Regular: g.opts.Keys.Next(),
			Branch:  g.opts.Keys.Next(),
		}, g.Config, flow)

		if regular != nil && regular.Halted {
			n.Halted = true
			g.terminate(n, regular.Message)
			g.warnf("%s", regular.Message)
			continue
		} else if regular == nil && taken == nil {
			g.terminate(n, TerminalReturn)
			continue
		}
		if regular != nil && regular.Reset {
			g.warnf("%s", regular.Message)
		}

		// Push the branch first so the fallthrough path is explored first.
		var edges []forwardEdge
		for _, e := range []forwardEdge{{EdgeBranch, branch, taken}, {EdgeContinue, next, regular}} {
			if e.update != nil && e.line >= 0 {
				edges = append(edges, e)
			}
		}
		if !g.fits(n, len(stack), len(edges)) {
			continue
		}

		for _, e := range edges {
			child := g.addNode(n.Step+1, e.line, e.update.NextKey, e.update)
			n.setForward(e.kind, child.ID)
			child.Backward = []int{n.ID}

			state := f.state.ApplyForward(e.update)
			if err := g.checkChild(ctx, child, state); err != nil {
				return nil, err
			}
			if child.Terminal == "" {
				stack = append(stack, frame{id: child.ID, state: state})
			}
		}
	}
	return g, nil
}

// BuildBackward unrolls the program backward from line to the program entry.
func BuildBackward(ctx context.Context, flow *StaticFlow, line int, opts GraphOptions) (*ExecutionGraph, error) {
	g, err := newExecutionGraph(flow, Backward, line, opts)
	if err != nil {
		return nil, err
	}

	stack := []frame{{id: 0, state: NewState(g.RootKey, g.Config)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := g.Nodes[f.id]

		if n.ID != 0 && n.Line == 0 {
			g.terminate(n, TerminalEntry)
			continue
		} else if !g.expandable(n, len(stack)) {
			continue
		}

		preds := flow.Predecessors(n.Line)
		if !g.fits(n, len(stack), len(preds)) {
			continue
		}
		for i := len(preds) - 1; i >= 0; i-- {
			p := preds[i]
			key := g.opts.Keys.Next()
			regular, taken := Execute(flow.Lines[p.Line], p.Line, Keys{Prev: key, Regular: n.Key, Branch: n.Key}, g.Config, flow)

			u, kind := regular, EdgeContinue
			if p.IsBranch {
				u, kind = taken, EdgeBranch
			}
			if u == nil || u.Halted {
				continue
			}
			if u.Reset {
				g.warnf("%s", u.Message)
			}
			if u.Branch != nil {
				u.Branch.Key = BranchKeyForLine(p.Line)
			}

			child := g.addNode(n.Step+1, p.Line, key, u)
			child.setForward(kind, n.ID)
			n.Backward = append(n.Backward, child.ID)

			state := f.state.ApplyBackward(u)
			if err := g.checkChild(ctx, child, state); err != nil {
				return nil, err
			}
			if child.Terminal == "" {
				stack = append(stack, frame{id: child.ID, state: state})
			}
		}

		if len(n.Backward) == 0 && n.Terminal == "" {
			g.terminate(n, TerminalEntry)
		}
	}
	return g, nil
}

// expandable returns false and marks n as a leaf if n ends its path before
// executing. pending is the number of frames still on the stack.
func (g *ExecutionGraph) expandable(n *ExecutionNode, pending int) bool {
	switch {
	case g.Direction == Forward && n.Line == g.Flow.N():
		g.terminate(n, TerminalEnd)
		return false
	case n.Step >= g.opts.MaxSteps:
		g.logger.WithField("line", n.Line).Debug("step bound reached")
		g.truncate(n, TerminalMaxSteps)
		return false
	case g.leaves+pending+1 > g.opts.MaxLeaves:
		g.truncate(n, TerminalMaxLeaves)
		return false
	}
	return true
}

// fits returns false and marks n as a leaf if giving n fanout children could
// leave more leaves than allowed.
func (g *ExecutionGraph) fits(n *ExecutionNode, pending, fanout int) bool {
	if fanout > 1 && g.leaves+pending+fanout > g.opts.MaxLeaves {
		g.truncate(n, TerminalMaxLeaves)
		return false
	}
	return true
}

func (g *ExecutionGraph) truncate(n *ExecutionNode, reason string) {
	if !g.Truncated {
		g.warnf("graph truncated at line %d: %s", n.Line, reason)
	}
	g.Truncated = true
	g.terminate(n, reason)
}

// checkChild marks a new node inconsistent when its path condition folds to
// false, or when the solver proves it unsatisfiable at a checkpoint.
func (g *ExecutionGraph) checkChild(ctx context.Context, n *ExecutionNode, state *State) error {
	if state.IsTriviallyInconsistent() {
		n.Inconsistent = true
		g.terminate(n, TerminalInconsistent)
		return nil
	}
	if g.opts.Solver == nil || g.opts.CheckEvery <= 0 || n.Step%g.opts.CheckEvery != 0 {
		return nil
	}

	result, err := state.Consistent(ctx, g.opts.Solver)
	if err != nil {
		return err
	} else if result.IsUnsat() {
		n.Inconsistent = true
		g.terminate(n, TerminalInconsistent)
	}
	return nil
}

// Leaves returns the ids of every node without children.
func (g *ExecutionGraph) Leaves() []int {
	var a []int
	for _, n := range g.Nodes {
		if n.IsLeaf(g.Direction) {
			a = append(a, n.ID)
		}
	}
	return a
}

// FirstNodesAt returns the ids of the nodes at line that are the first visit
// of line along their path, in id order. Later loop iterations are skipped.
func (g *ExecutionGraph) FirstNodesAt(line int) []int {
	var a []int
	stack := []int{0}
	for len(stack) > 0 {
		n := g.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if n.Line == line {
			a = append(a, n.ID)
			continue
		}
		stack = append(stack, g.children(n)...)
	}
	sort.Ints(a)
	return a
}

// NodesAt returns the ids of every node at line.
func (g *ExecutionGraph) NodesAt(line int) []int {
	var a []int
	for _, n := range g.Nodes {
		if n.Line == line {
			a = append(a, n.ID)
		}
	}
	return a
}

// parent returns the node id leading toward the root, or -1 for the root.
func (g *ExecutionGraph) parent(n *ExecutionNode) int {
	if n.ID == 0 {
		return -1
	} else if g.Direction == Forward {
		return n.Backward[0]
	} else if n.Forward[EdgeContinue] != -1 {
		return n.Forward[EdgeContinue]
	}
	return n.Forward[EdgeBranch]
}

// Path returns the node ids from the root to id.
func (g *ExecutionGraph) Path(id int) []int {
	var path []int
	for n := g.Node(id); ; n = g.Nodes[g.parent(n)] {
		path = append(path, n.ID)
		if n.ID == 0 {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// StateOf reconstructs the state of a node by replaying the updates on the
// path from the root. The state of a halted node carries the halt message.
func (g *ExecutionGraph) StateOf(id int) *State {
	state := NewState(g.RootKey, g.Config)
	for _, i := range g.Path(id)[1:] {
		if u := g.Nodes[i].Update; g.Direction == Forward {
			state = state.ApplyForward(u)
		} else {
			state = state.ApplyBackward(u)
		}
	}
	return g.Nodes[id].annotate(state)
}

// annotate returns state with the node's halt message added to its warning.
func (n *ExecutionNode) annotate(state *State) *State {
	if !n.Halted {
		return state
	}
	other := state.clone()
	other.Warning = joinWarnings(state.Warning, n.Terminal)
	return other
}

// StatesAt returns the state of every consistent node at line.
func (g *ExecutionGraph) StatesAt(line int) []*State {
	var a []*State
	for _, id := range g.NodesAt(line) {
		if !g.Nodes[id].Inconsistent {
			a = append(a, g.StateOf(id))
		}
	}
	return a
}

// String returns the graph as an indented tree.
func (g *ExecutionGraph) String() string {
	var buf bytes.Buffer
	var walk func(id, depth int)
	walk = func(id, depth int) {
		n := g.Nodes[id]
		fmt.Fprintf(&buf, "%s#%d line=%d key=%s", strings.Repeat("  ", depth), n.ID, n.Line, n.Key)
		if n.Terminal != "" {
			fmt.Fprintf(&buf, " [%s]", n.Terminal)
		}
		buf.WriteString("\n")
		for _, child := range g.children(n) {
			walk(child, depth+1)
		}
	}
	walk(0, 0)
	return buf.String()
}

// children returns the child ids of n in the graph's direction.
func (g *ExecutionGraph) children(n *ExecutionNode) []int {
	if g.Direction == Backward {
		return n.Backward
	}
	var a []int
	for _, id := range n.Forward {
		if id != -1 {
			a = append(a, id)
		}
	}
	return a
}
