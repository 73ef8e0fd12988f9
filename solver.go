package asmsym

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Status is the outcome of a satisfiability check.
type Status int

// Satisfiability outcomes.
const (
	StatusUnknown Status = iota
	StatusSat
	StatusUnsat
)

// String returns the SMT-LIB name of the status.
func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Result is the answer of a solver. Reason is set when Status is unknown.
type Result struct {
	Status Status
	Reason error
}

// IsSat returns true if the constraints are satisfiable.
func (r Result) IsSat() bool { return r.Status == StatusSat }

// IsUnsat returns true if the constraints are proven unsatisfiable.
func (r Result) IsUnsat() bool { return r.Status == StatusUnsat }

// String returns the status and reason.
func (r Result) String() string {
	if r.Reason != nil {
		return fmt.Sprintf("%s (%s)", r.Status, r.Reason)
	}
	return r.Status.String()
}

// Solver represents a logical constraint solver. An unknown answer, including
// one caused by a timeout or a canceled context, is a result and not an error.
type Solver interface {
	// Returns the satisfiability of the conjunction of constraints.
	Check(ctx context.Context, constraints []Expr) (Result, error)

	// Returns the satisfiability of constraints and, if satisfiable, the value
	// of each expression in one model.
	Eval(ctx context.Context, constraints []Expr, exprs []Expr) (Result, []*ConstantExpr, error)
}

// Ensure type implements interface.
var _ Solver = (*CachedSolver)(nil)

// CachedSolver memoizes the definite answers of an underlying solver.
type CachedSolver struct {
	solver Solver
	cache  *lru.Cache[uint64, Status]
}

// NewCachedSolver returns a solver that caches up to size Check results.
func NewCachedSolver(solver Solver, size int) *CachedSolver {
	cache, err := lru.New[uint64, Status](size)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &CachedSolver{solver: solver, cache: cache}
}

// Check returns a cached answer or asks the underlying solver.
func (s *CachedSolver) Check(ctx context.Context, constraints []Expr) (Result, error) {
	key := HashExpr(constraints...)
	if status, ok := s.cache.Get(key); ok {
		return Result{Status: status}, nil
	}

	result, err := s.solver.Check(ctx, constraints)
	if err != nil {
		return result, err
	} else if result.Status != StatusUnknown {
		s.cache.Add(key, result.Status)
	}
	return result, nil
}

// Eval passes through to the underlying solver. A cached unsat answer is
// returned without a solver call.
func (s *CachedSolver) Eval(ctx context.Context, constraints []Expr, exprs []Expr) (Result, []*ConstantExpr, error) {
	if status, ok := s.cache.Get(HashExpr(constraints...)); ok && status == StatusUnsat {
		return Result{Status: status}, nil, nil
	}
	return s.solver.Eval(ctx, constraints, exprs)
}

// Len returns the number of cached answers.
func (s *CachedSolver) Len() int {
	return s.cache.Len()
}

// IsSatisfiable returns true if constraints can be satisfied. Unknown
// answers are reported as satisfiable since they cannot prune a path.
func IsSatisfiable(ctx context.Context, solver Solver, constraints []Expr) (bool, error) {
	result, err := solver.Check(ctx, constraints)
	if err != nil {
		return false, err
	}
	return result.Status != StatusUnsat, nil
}

// IsEquivalent returns true if a and b are equal under every assignment that
// satisfies constraints. The result is false when the solver cannot decide.
func IsEquivalent(ctx context.Context, solver Solver, constraints []Expr, a, b Expr) (bool, error) {
	assert(ExprWidth(a) == ExprWidth(b), "equivalence: width mismatch: %d != %d", ExprWidth(a), ExprWidth(b))
	result, err := solver.Check(ctx, append(append([]Expr(nil), constraints...), NewNotExpr(NewBinaryExpr(EQ, a, b))))
	if err != nil {
		return false, err
	}
	return result.IsUnsat(), nil
}
