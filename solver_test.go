package asmsym_test

import (
	"context"
	"sync"
	"testing"

	"github.com/benbjohnson/asmsym"
)

func TestStatus_String(t *testing.T) {
	for status, want := range map[asmsym.Status]string{
		asmsym.StatusSat:     "sat",
		asmsym.StatusUnsat:   "unsat",
		asmsym.StatusUnknown: "unknown",
	} {
		if got := status.String(); got != want {
			t.Fatalf("String()=%q, expected %q", got, want)
		}
	}
}

func TestResult_String(t *testing.T) {
	if s := (asmsym.Result{Status: asmsym.StatusSat}).String(); s != "sat" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := (asmsym.Result{Reason: asmsym.ErrSolverTimeout}).String(); s != "unknown (Solver timeout)" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestCachedSolver(t *testing.T) {
	x := asmsym.NewSymbolExpr("x", 64)
	constraints := []asmsym.Expr{asmsym.NewBinaryExpr(asmsym.EQ, x, asmsym.NewConstantExpr64(1))}

	t.Run("Definite", func(t *testing.T) {
		solver := NewStatusSolver(asmsym.StatusSat)
		s := asmsym.NewCachedSolver(solver, 16)
		for i := 0; i < 3; i++ {
			if result, err := s.Check(context.Background(), constraints); err != nil {
				t.Fatal(err)
			} else if !result.IsSat() {
				t.Fatalf("unexpected result: %s", result)
			}
		}
		if n := solver.Calls(); n != 1 {
			t.Fatalf("unexpected solver calls: %d", n)
		} else if n := s.Len(); n != 1 {
			t.Fatalf("unexpected cache size: %d", n)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		solver := NewStatusSolver(asmsym.StatusUnknown)
		s := asmsym.NewCachedSolver(solver, 16)
		for i := 0; i < 2; i++ {
			if _, err := s.Check(context.Background(), constraints); err != nil {
				t.Fatal(err)
			}
		}
		if n := solver.Calls(); n != 2 {
			t.Fatalf("unexpected solver calls: %d", n)
		} else if n := s.Len(); n != 0 {
			t.Fatalf("unexpected cache size: %d", n)
		}
	})

	t.Run("EvalUnsat", func(t *testing.T) {
		solver := NewStatusSolver(asmsym.StatusUnsat)
		s := asmsym.NewCachedSolver(solver, 16)
		if _, err := s.Check(context.Background(), constraints); err != nil {
			t.Fatal(err)
		}
		if result, values, err := s.Eval(context.Background(), constraints, []asmsym.Expr{x}); err != nil {
			t.Fatal(err)
		} else if !result.IsUnsat() || values != nil {
			t.Fatalf("unexpected result: %s %v", result, values)
		} else if n := solver.Calls(); n != 1 {
			t.Fatalf("unexpected solver calls: %d", n)
		}
	})
}

func TestIsSatisfiable(t *testing.T) {
	for status, want := range map[asmsym.Status]bool{
		asmsym.StatusSat:     true,
		asmsym.StatusUnsat:   false,
		asmsym.StatusUnknown: true,
	} {
		if ok, err := asmsym.IsSatisfiable(context.Background(), NewStatusSolver(status), nil); err != nil {
			t.Fatal(err)
		} else if ok != want {
			t.Fatalf("%s: IsSatisfiable()=%v, expected %v", status, ok, want)
		}
	}
}

func TestIsEquivalent(t *testing.T) {
	x := asmsym.NewSymbolExpr("x", 64)
	var got []asmsym.Expr
	solver := &FuncSolver{CheckFunc: func(constraints []asmsym.Expr) asmsym.Status {
		got = constraints
		return asmsym.StatusUnsat
	}}

	if ok, err := asmsym.IsEquivalent(context.Background(), solver, nil, x, x); err != nil {
		t.Fatal(err)
	} else if !ok {
		t.Fatal("expected equivalence")
	} else if len(got) != 1 || !asmsym.IsConstantFalse(got[0]) {
		t.Fatalf("unexpected constraints: %v", got)
	}
}

// FuncSolver answers checks with CheckFunc and counts calls. It is safe for
// concurrent use.
type FuncSolver struct {
	CheckFunc func(constraints []asmsym.Expr) asmsym.Status

	mu     sync.Mutex
	calls  int
	closed bool
}

// NewStatusSolver returns a solver that gives the same answer to every check.
func NewStatusSolver(status asmsym.Status) *FuncSolver {
	return &FuncSolver{CheckFunc: func([]asmsym.Expr) asmsym.Status { return status }}
}

func (s *FuncSolver) Check(ctx context.Context, constraints []asmsym.Expr) (asmsym.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return asmsym.Result{Status: s.CheckFunc(constraints)}, nil
}

func (s *FuncSolver) Eval(ctx context.Context, constraints []asmsym.Expr, exprs []asmsym.Expr) (asmsym.Result, []*asmsym.ConstantExpr, error) {
	result, err := s.Check(ctx, constraints)
	return result, nil, err
}

// Calls returns the number of checks answered.
func (s *FuncSolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Close marks the solver closed.
func (s *FuncSolver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed returns true once Close has been called.
func (s *FuncSolver) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
