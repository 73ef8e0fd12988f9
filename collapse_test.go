package asmsym_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/asmsym"
)

func TestExecutionGraph_Collapse(t *testing.T) {
	t.Run("Forward", func(t *testing.T) {
		for _, line := range []int{6, -1} {
			g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
			s, err := g.Collapse(context.Background(), line)
			if err != nil {
				t.Fatal(err)
			} else if s.TailKey != g.RootKey {
				t.Fatalf("unexpected tail key: %s", s.TailKey)
			} else if n := s.Branches.Len(); n != 0 {
				t.Fatalf("line %d: unexpected branches: %s", line, s.Branches)
			}

			rax := asmsym.RegSymbol(asmsym.RAX, g.RootKey)
			for _, tt := range []struct{ rax, rbx uint64 }{{0, 1}, {5, 2}} {
				if v := MustEvaluate(t, asmsym.NewModel().Bind(rax, tt.rax), s.Reg(asmsym.RBX)); v != tt.rbx {
					t.Fatalf("line %d: RAX=%d: RBX=%d, expected %d", line, tt.rax, v, tt.rbx)
				}
			}
		}
	})

	t.Run("Backward", func(t *testing.T) {
		g := MustBuildBackward(t, BranchProgram, 7, asmsym.GraphOptions{})
		s, err := g.Collapse(context.Background(), -1)
		if err != nil {
			t.Fatal(err)
		} else if s.HeadKey != g.RootKey {
			t.Fatalf("unexpected head key: %s", s.HeadKey)
		}

		rax := asmsym.RegSymbol(asmsym.RAX, s.TailKey)
		for _, tt := range []struct{ rax, rbx uint64 }{{0, 1}, {5, 2}} {
			if v := MustEvaluate(t, asmsym.NewModel().Bind(rax, tt.rax), s.Reg(asmsym.RBX)); v != tt.rbx {
				t.Fatalf("RAX=%d: RBX=%d, expected %d", tt.rax, v, tt.rbx)
			}
		}
	})

	// The returning path assumes nothing, so it must survive wherever the
	// called path's jump is taken.
	t.Run("Call", func(t *testing.T) {
		g := MustBuildForward(t, CallProgram, asmsym.GraphOptions{})
		s, err := g.Collapse(context.Background(), 6)
		if err != nil {
			t.Fatal(err)
		} else if keys := s.Branches.Keys(); len(keys) != 1 || !strings.HasPrefix(keys[0], "M") {
			t.Fatalf("unexpected branches: %s", s.Branches)
		}

		rax, rsp := asmsym.RegSymbol(asmsym.RAX, g.RootKey), asmsym.RegSymbol(asmsym.RSP, g.RootKey)
		choice := MustChoiceSymbol(t, s.Reg(asmsym.RSP))
		cond := s.Branches.Condition()
		for _, tt := range []struct {
			rax      uint64
			choice   bool
			feasible bool
			rsp      uint64
		}{
			{rax: 7, choice: true, feasible: true, rsp: 100},
			{rax: 7, choice: false, feasible: true, rsp: 92},
			{rax: 5, choice: true, feasible: true, rsp: 100},
			{rax: 5, choice: false, feasible: false, rsp: 92},
		} {
			model := asmsym.NewModel().Bind(rax, tt.rax).Bind(rsp, 100).BindBool(choice, tt.choice)
			if v := MustEvaluate(t, model, cond); (v == 1) != tt.feasible {
				t.Fatalf("RAX=%d choice=%v: unexpected feasibility: %d", tt.rax, tt.choice, v)
			} else if v := MustEvaluate(t, model, s.Reg(asmsym.RSP)); v != tt.rsp {
				t.Fatalf("RAX=%d choice=%v: RSP=%d, expected %d", tt.rax, tt.choice, v, tt.rsp)
			}
		}
	})

	t.Run("Inconsistent", func(t *testing.T) {
		g := MustBuildForward(t, InfeasibleProgram, asmsym.GraphOptions{})
		s, err := g.Collapse(context.Background(), 4)
		if err != nil {
			t.Fatal(err)
		}
		AssertReg(t, s, asmsym.RBX, 1)
	})

	t.Run("Solver", func(t *testing.T) {
		// Accept only the path that took the jump.
		solver := &FuncSolver{CheckFunc: func(constraints []asmsym.Expr) asmsym.Status {
			for _, c := range constraints {
				if _, ok := c.(*asmsym.NotExpr); ok {
					return asmsym.StatusSat
				}
			}
			return asmsym.StatusUnsat
		}}
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{Solver: solver})

		s, err := g.Collapse(context.Background(), -1)
		if err != nil {
			t.Fatal(err)
		}
		AssertReg(t, s, asmsym.RBX, 2)
		if n := solver.Calls(); n != 2 {
			t.Fatalf("unexpected solver calls: %d", n)
		}
	})

	t.Run("ErrUnreachable", func(t *testing.T) {
		g := MustBuildForward(t, "hlt\nnop\n", asmsym.GraphOptions{})
		if _, err := g.Collapse(context.Background(), 1); err != asmsym.ErrUnreachable {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrLineOutOfRange", func(t *testing.T) {
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
		if _, err := g.Collapse(context.Background(), 100); !errors.Is(err, asmsym.ErrLineOutOfRange) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := g.Collapse(ctx, -1); err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExecutionGraph_CheckLeaves(t *testing.T) {
	t.Run("Sat", func(t *testing.T) {
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
		var pool SolverPool
		results, err := g.CheckLeaves(context.Background(), pool.New(asmsym.StatusSat), 2)
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 2 {
			t.Fatalf("unexpected result count: %d", len(results))
		}
		for i, result := range results {
			if !result.IsSat() {
				t.Fatalf("%d: unexpected result: %s", i, result)
			}
		}
		for _, id := range g.Leaves() {
			if g.Node(id).Inconsistent {
				t.Fatalf("unexpected inconsistent leaf: %d", id)
			}
		}
		if n := len(pool.solvers); n != 2 {
			t.Fatalf("unexpected solver count: %d", n)
		} else if !pool.Closed() {
			t.Fatal("expected solvers to be closed")
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
		var pool SolverPool
		if _, err := g.CheckLeaves(context.Background(), pool.New(asmsym.StatusUnsat), 4); err != nil {
			t.Fatal(err)
		}
		for _, id := range g.Leaves() {
			if !g.Node(id).Inconsistent {
				t.Fatalf("expected inconsistent leaf: %d", id)
			}
		}

		// Marked leaves no longer contribute to a collapse.
		if _, err := g.Collapse(context.Background(), -1); err != asmsym.ErrUnreachable {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrNewSolver", func(t *testing.T) {
		g := MustBuildForward(t, BranchProgram, asmsym.GraphOptions{})
		newSolver := func() (asmsym.Solver, error) { return nil, errors.New("marker") }
		if _, err := g.CheckLeaves(context.Background(), newSolver, 1); err == nil || err.Error() != "new solver: marker" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// CallProgram calls a function that jumps back to t unless RAX is 5.
const CallProgram = `
	call f
	jmp t
f:
	cmp rax, 5
	jne t
	hlt
t:
	nop
`

// MustChoiceSymbol returns the merge choice symbol referenced by exprs.
func MustChoiceSymbol(tb testing.TB, exprs ...asmsym.Expr) *asmsym.SymbolExpr {
	tb.Helper()
	for name, sym := range asmsym.FindSymbols(exprs...) {
		if strings.HasPrefix(name, asmsym.ChoiceName+"?") {
			return sym
		}
	}
	tb.Fatal("no choice symbol")
	return nil
}

// SolverPool records the solvers it creates.
type SolverPool struct {
	mu      sync.Mutex
	solvers []*FuncSolver
}

// New returns a constructor for solvers that answer with status.
func (p *SolverPool) New(status asmsym.Status) func() (asmsym.Solver, error) {
	return func() (asmsym.Solver, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		s := NewStatusSolver(status)
		p.solvers = append(p.solvers, s)
		return s, nil
	}
}

// Closed returns true if every solver has been closed.
func (p *SolverPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.solvers {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// MustEvaluate evaluates expr under m and returns its value.
func MustEvaluate(tb testing.TB, m *asmsym.Model, expr asmsym.Expr) uint64 {
	tb.Helper()
	v, err := asmsym.NewExprEvaluator(m).Evaluate(expr)
	if err != nil {
		tb.Fatal(err)
	}
	return v.Uint64()
}
