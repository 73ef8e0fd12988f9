package z3

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/benbjohnson/asmsym"
	"github.com/holiman/uint256"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ asmsym.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
// A Solver owns its Z3 context and is not safe for concurrent use.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Check decides whether the conjunction of constraints is satisfiable.
func (s *Solver) Check(ctx context.Context, constraints []asmsym.Expr) (asmsym.Result, error) {
	result, _, err := s.solve(ctx, constraints, nil)
	return result, err
}

// Eval checks constraints and, if satisfiable, returns the value of each of
// exprs in one model. Values are nil unless the result is satisfiable.
func (s *Solver) Eval(ctx context.Context, constraints, exprs []asmsym.Expr) (asmsym.Result, []*asmsym.ConstantExpr, error) {
	return s.solve(ctx, constraints, exprs)
}

func (s *Solver) solve(ctx context.Context, constraints, exprs []asmsym.Expr) (result asmsym.Result, values []*asmsym.ConstantExpr, err error) {
	t := time.Now()
	defer func() {
		s.stats.CheckN++
		s.stats.CheckTime += time.Since(t)
	}()

	if err := ctx.Err(); err != nil {
		return asmsym.Result{Status: asmsym.StatusUnknown, Reason: asmsym.ErrSolverCanceled}, nil, nil
	}

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return result, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.ctx.setTimeout(solver, time.Until(deadline)); err != nil {
			return result, nil, err
		}
	}

	// Assert constraints.
	b := s.ctx.newBuilder()
	for _, constraint := range constraints {
		if asmsym.ExprWidth(constraint) != asmsym.WidthBool {
			return result, nil, fmt.Errorf("z3: constraint is not boolean: %s", constraint)
		}
		ast, err := b.toAST(constraint)
		if err != nil {
			return result, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return result, nil, err
		}
	}

	// Interrupt the check if the context is canceled while it runs.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			C.Z3_interrupt(s.ctx.raw)
		case <-done:
		}
	}()
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	close(done)
	wg.Wait()

	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return result, nil, err
	}

	switch ret {
	case C.Z3_L_FALSE:
		return asmsym.Result{Status: asmsym.StatusUnsat}, nil, nil
	case C.Z3_L_UNDEF:
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch ctx.Err() {
		case context.Canceled:
			return asmsym.Result{Status: asmsym.StatusUnknown, Reason: asmsym.ErrSolverCanceled}, nil, nil
		case context.DeadlineExceeded:
			return asmsym.Result{Status: asmsym.StatusUnknown, Reason: asmsym.ErrSolverTimeout}, nil, nil
		}
		return asmsym.Result{Status: asmsym.StatusUnknown, Reason: unknownReason(reason)}, nil, nil
	}

	result = asmsym.Result{Status: asmsym.StatusSat}
	if len(exprs) == 0 {
		return result, nil, nil // no expressions, ignore model
	}

	// Calculate a model for the given formula.
	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return result, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	values = make([]*asmsym.ConstantExpr, 0, len(exprs))
	for _, expr := range exprs {
		value, err := b.eval(model, expr)
		if err != nil {
			return result, nil, err
		}
		values = append(values, value)
	}
	return result, values, nil
}

// unknownReason maps Z3's reason for an unknown result to an error.
func unknownReason(reason string) error {
	switch {
	case strings.Contains(reason, "timeout"):
		return asmsym.ErrSolverTimeout
	case strings.Contains(reason, "canceled"), strings.Contains(reason, "interrupted"):
		return asmsym.ErrSolverCanceled
	case strings.Contains(reason, "(resource limits reached)"):
		return asmsym.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"):
		return asmsym.ErrSolverUnknown
	default:
		return fmt.Errorf("z3: %s", reason)
	}
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// setTimeout sets the solver's timeout parameter, in milliseconds.
func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	params := C.Z3_mk_params(ctx.raw)
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	name := C.CString("timeout")
	defer C.free(unsafe.Pointer(name))
	C.Z3_params_set_uint(ctx.raw, params, C.Z3_mk_string_symbol(ctx.raw, name), C.uint(ms))
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

func (ctx *Context) newBuilder() *builder {
	return &builder{ctx: ctx, memo: make(map[asmsym.Expr]C.Z3_ast)}
}

// builder translates expressions into Z3 ASTs. Expressions are shared
// heavily between formulas so translations are memoized by identity.
//
// Booleans (width 1) are Z3 bools; everything else is a bit-vector.
type builder struct {
	ctx  *Context
	memo map[asmsym.Expr]C.Z3_ast
}

// toAST returns a Z3 AST for an expression.
func (b *builder) toAST(expr asmsym.Expr) (C.Z3_ast, error) {
	if ast, ok := b.memo[expr]; ok {
		return ast, nil
	}

	var ast C.Z3_ast
	var err error
	switch expr := expr.(type) {
	case *asmsym.ConstantExpr:
		ast, err = b.toConstantAST(expr)
	case *asmsym.SymbolExpr:
		ast, err = b.toSymbolAST(expr)
	case *asmsym.SelectExpr:
		ast, err = b.toSelectAST(expr)
	case *asmsym.ConcatExpr:
		ast, err = b.toConcatAST(expr)
	case *asmsym.ExtractExpr:
		ast, err = b.toExtractAST(expr)
	case *asmsym.CastExpr:
		ast, err = b.toCastAST(expr)
	case *asmsym.NotExpr:
		ast, err = b.toNotAST(expr)
	case *asmsym.IteExpr:
		ast, err = b.toIteAST(expr)
	case *asmsym.BinaryExpr:
		ast, err = b.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3: invalid expression type: %T", expr)
	}
	if err != nil {
		return nil, err
	}
	b.memo[expr] = ast
	return ast, nil
}

// toBV returns expr as a bit-vector, converting booleans to a 1-bit vector.
func (b *builder) toBV(expr asmsym.Expr) (C.Z3_ast, error) {
	ast, err := b.toAST(expr)
	if err != nil {
		return nil, err
	} else if asmsym.ExprWidth(expr) != asmsym.WidthBool {
		return ast, nil
	}
	return b.boolToBV(ast, 1, 1)
}

// boolToBV returns an if-then-else choosing between two width-bit values.
func (b *builder) boolToBV(cond C.Z3_ast, width uint, whenTrue uint64) (C.Z3_ast, error) {
	t, err := b.makeUint64(width, whenTrue)
	if err != nil {
		return nil, err
	}
	f, err := b.makeUint64(width, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(b.ctx.raw, cond, t, f), b.ctx.err("Z3_mk_ite")
}

// bvToBool returns a boolean that is true if a 1-bit vector is set.
func (b *builder) bvToBool(ast C.Z3_ast) (C.Z3_ast, error) {
	one, err := b.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(b.ctx.raw, ast, one), b.ctx.err("Z3_mk_eq")
}

func (b *builder) toConstantAST(expr *asmsym.ConstantExpr) (C.Z3_ast, error) {
	switch {
	case expr.Width == asmsym.WidthBool:
		if expr.IsTrue() {
			return C.Z3_mk_true(b.ctx.raw), b.ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(b.ctx.raw), b.ctx.err("Z3_mk_false")
	case expr.Width <= 64:
		return b.makeUint64(expr.Width, expr.Uint64())
	default:
		return b.makeNumeral(expr.Width, &expr.Value)
	}
}

func (b *builder) toSymbolAST(expr *asmsym.SymbolExpr) (C.Z3_ast, error) {
	t, err := b.sort(expr.Width)
	if err != nil {
		return nil, err
	}
	name := C.CString(expr.Name)
	defer C.free(unsafe.Pointer(name))
	return C.Z3_mk_const(b.ctx.raw, C.Z3_mk_string_symbol(b.ctx.raw, name), t), b.ctx.err("Z3_mk_const")
}

func (b *builder) toSelectAST(expr *asmsym.SelectExpr) (C.Z3_ast, error) {
	array, err := b.makeArrayWithUpdate(expr.Array, expr.Array.Updates)
	if err != nil {
		return nil, err
	}
	index, err := b.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(b.ctx.raw, array, index), b.ctx.err("Z3_mk_select")
}

func (b *builder) toConcatAST(expr *asmsym.ConcatExpr) (C.Z3_ast, error) {
	msb, err := b.toBV(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := b.toBV(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(b.ctx.raw, msb, lsb), b.ctx.err("Z3_mk_concat")
}

func (b *builder) toExtractAST(expr *asmsym.ExtractExpr) (C.Z3_ast, error) {
	src, err := b.toBV(expr.Expr)
	if err != nil {
		return nil, err
	}

	ast := C.Z3_mk_extract(b.ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src)
	if err := b.ctx.err("Z3_mk_extract"); err != nil {
		return nil, err
	}

	// A single bit is a boolean.
	if expr.Width == asmsym.WidthBool {
		return b.bvToBool(ast)
	}
	return ast, nil
}

func (b *builder) toCastAST(expr *asmsym.CastExpr) (C.Z3_ast, error) {
	sw := asmsym.ExprWidth(expr.Src)
	src, err := b.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	// Booleans extend to all ones or one.
	if sw == asmsym.WidthBool {
		if expr.Signed {
			allOnes := new(uint256.Int).SetAllOne()
			t, err := b.makeNumeral(expr.Width, allOnes)
			if err != nil {
				return nil, err
			}
			f, err := b.makeUint64(expr.Width, 0)
			if err != nil {
				return nil, err
			}
			return C.Z3_mk_ite(b.ctx.raw, src, t, f), b.ctx.err("Z3_mk_ite")
		}
		return b.boolToBV(src, expr.Width, 1)
	}

	if expr.Signed {
		return C.Z3_mk_sign_ext(b.ctx.raw, C.uint(expr.Width-sw), src), b.ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(b.ctx.raw, C.uint(expr.Width-sw), src), b.ctx.err("Z3_mk_zero_ext")
}

func (b *builder) toNotAST(expr *asmsym.NotExpr) (C.Z3_ast, error) {
	src, err := b.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	if asmsym.ExprWidth(expr.Expr) == asmsym.WidthBool {
		return C.Z3_mk_not(b.ctx.raw, src), b.ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(b.ctx.raw, src), b.ctx.err("Z3_mk_bvnot")
}

func (b *builder) toIteAST(expr *asmsym.IteExpr) (C.Z3_ast, error) {
	cond, err := b.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := b.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := b.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(b.ctx.raw, cond, then, els), b.ctx.err("Z3_mk_ite")
}

func (b *builder) toBinaryAST(expr *asmsym.BinaryExpr) (C.Z3_ast, error) {
	isBool := asmsym.ExprWidth(expr.LHS) == asmsym.WidthBool

	// Boolean connectives stay in the bool sort.
	if isBool {
		switch expr.Op {
		case asmsym.AND, asmsym.OR, asmsym.XOR, asmsym.EQ, asmsym.NE:
			return b.toBoolBinaryAST(expr)
		}
	}

	lhs, err := b.toBV(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := b.toBV(expr.RHS)
	if err != nil {
		return nil, err
	}

	raw := b.ctx.raw
	var ast C.Z3_ast
	switch expr.Op {
	case asmsym.ADD:
		ast = C.Z3_mk_bvadd(raw, lhs, rhs)
	case asmsym.SUB:
		ast = C.Z3_mk_bvsub(raw, lhs, rhs)
	case asmsym.MUL:
		ast = C.Z3_mk_bvmul(raw, lhs, rhs)
	case asmsym.UDIV:
		ast = C.Z3_mk_bvudiv(raw, lhs, rhs)
	case asmsym.SDIV:
		ast = C.Z3_mk_bvsdiv(raw, lhs, rhs)
	case asmsym.UREM:
		ast = C.Z3_mk_bvurem(raw, lhs, rhs)
	case asmsym.SREM:
		ast = C.Z3_mk_bvsrem(raw, lhs, rhs)
	case asmsym.AND:
		ast = C.Z3_mk_bvand(raw, lhs, rhs)
	case asmsym.OR:
		ast = C.Z3_mk_bvor(raw, lhs, rhs)
	case asmsym.XOR:
		ast = C.Z3_mk_bvxor(raw, lhs, rhs)
	case asmsym.SHL:
		ast = C.Z3_mk_bvshl(raw, lhs, rhs)
	case asmsym.LSHR:
		ast = C.Z3_mk_bvlshr(raw, lhs, rhs)
	case asmsym.ASHR:
		ast = C.Z3_mk_bvashr(raw, lhs, rhs)
	case asmsym.EQ:
		ast = C.Z3_mk_eq(raw, lhs, rhs)
	case asmsym.NE:
		ast = C.Z3_mk_not(raw, C.Z3_mk_eq(raw, lhs, rhs))
	case asmsym.ULT:
		ast = C.Z3_mk_bvult(raw, lhs, rhs)
	case asmsym.ULE:
		ast = C.Z3_mk_bvule(raw, lhs, rhs)
	case asmsym.UGT:
		ast = C.Z3_mk_bvugt(raw, lhs, rhs)
	case asmsym.UGE:
		ast = C.Z3_mk_bvuge(raw, lhs, rhs)
	case asmsym.SLT:
		ast = C.Z3_mk_bvslt(raw, lhs, rhs)
	case asmsym.SLE:
		ast = C.Z3_mk_bvsle(raw, lhs, rhs)
	case asmsym.SGT:
		ast = C.Z3_mk_bvsgt(raw, lhs, rhs)
	case asmsym.SGE:
		ast = C.Z3_mk_bvsge(raw, lhs, rhs)
	default:
		return nil, fmt.Errorf("z3: unexpected operation: %s", expr.Op)
	}
	if err := b.ctx.err("Z3_mk_" + expr.Op.String()); err != nil {
		return nil, err
	}

	// Arithmetic on booleans is done on 1-bit vectors.
	if isBool && expr.Op.IsArithmetic() {
		return b.bvToBool(ast)
	}
	return ast, nil
}

func (b *builder) toBoolBinaryAST(expr *asmsym.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := b.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := b.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	raw := b.ctx.raw
	args := [2]C.Z3_ast{lhs, rhs}
	switch expr.Op {
	case asmsym.AND:
		return C.Z3_mk_and(raw, 2, &args[0]), b.ctx.err("Z3_mk_and")
	case asmsym.OR:
		return C.Z3_mk_or(raw, 2, &args[0]), b.ctx.err("Z3_mk_or")
	case asmsym.XOR, asmsym.NE:
		return C.Z3_mk_xor(raw, lhs, rhs), b.ctx.err("Z3_mk_xor")
	default:
		return C.Z3_mk_iff(raw, lhs, rhs), b.ctx.err("Z3_mk_iff")
	}
}

// sort returns the bool sort for width 1 and a bit-vector sort otherwise.
func (b *builder) sort(width uint) (C.Z3_sort, error) {
	if width == asmsym.WidthBool {
		return C.Z3_mk_bool_sort(b.ctx.raw), b.ctx.err("Z3_mk_bool_sort")
	}
	return C.Z3_mk_bv_sort(b.ctx.raw, C.uint(width)), b.ctx.err("Z3_mk_bv_sort")
}

func (b *builder) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t := C.Z3_mk_bv_sort(b.ctx.raw, C.uint(width))
	if err := b.ctx.err("Z3_mk_bv_sort"); err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(b.ctx.raw, C.uint64_t(value), t), b.ctx.err("Z3_mk_unsigned_int64")
}

// makeNumeral returns a bit-vector constant of any width from its decimal form.
func (b *builder) makeNumeral(width uint, value *uint256.Int) (C.Z3_ast, error) {
	t := C.Z3_mk_bv_sort(b.ctx.raw, C.uint(width))
	if err := b.ctx.err("Z3_mk_bv_sort"); err != nil {
		return nil, err
	}

	s := C.CString(value.Dec())
	defer C.free(unsafe.Pointer(s))
	return C.Z3_mk_numeral(b.ctx.raw, s, t), b.ctx.err("Z3_mk_numeral")
}

// makeArrayConst returns the root constant array with no updates.
func (b *builder) makeArrayConst(array *asmsym.Array) (C.Z3_ast, error) {
	domainSort := C.Z3_mk_bv_sort(b.ctx.raw, C.uint(asmsym.Width64))
	if err := b.ctx.err("Z3_mk_bv_sort[domain]"); err != nil {
		return nil, err
	}
	rangeSort := C.Z3_mk_bv_sort(b.ctx.raw, C.uint(asmsym.Width8))
	if err := b.ctx.err("Z3_mk_bv_sort[range]"); err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(b.ctx.raw, domainSort, rangeSort)
	if err := b.ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	name := C.CString(array.Name)
	defer C.free(unsafe.Pointer(name))
	return C.Z3_mk_const(b.ctx.raw, C.Z3_mk_string_symbol(b.ctx.raw, name), arraySort), b.ctx.err("Z3_mk_const")
}

// makeArrayWithUpdate returns an array with updates recursively applied.
func (b *builder) makeArrayWithUpdate(root *asmsym.Array, upd *asmsym.ArrayUpdate) (C.Z3_ast, error) {
	if upd == nil {
		return b.makeArrayConst(root)
	}

	array, err := b.makeArrayWithUpdate(root, upd.Next)
	if err != nil {
		return nil, err
	}
	index, err := b.toAST(upd.Index)
	if err != nil {
		return nil, err
	}
	value, err := b.toAST(upd.Value)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_store(b.ctx.raw, array, index, value), b.ctx.err("Z3_mk_store")
}

// eval evaluates an expression in a model. Unconstrained symbols are
// completed with arbitrary values.
func (b *builder) eval(model C.Z3_model, expr asmsym.Expr) (*asmsym.ConstantExpr, error) {
	ast, err := b.toAST(expr)
	if err != nil {
		return nil, err
	}

	var value C.Z3_ast
	if !C.Z3_model_eval(b.ctx.raw, model, ast, C.bool(true), &value) {
		return nil, fmt.Errorf("z3: cannot evaluate %s", expr)
	} else if err := b.ctx.err("Z3_model_eval"); err != nil {
		return nil, err
	}

	width := asmsym.ExprWidth(expr)
	if width == asmsym.WidthBool {
		return asmsym.NewBoolConstantExpr(C.Z3_get_bool_value(b.ctx.raw, value) == C.Z3_L_TRUE), b.ctx.err("Z3_get_bool_value")
	}

	s := C.GoString(C.Z3_get_numeral_string(b.ctx.raw, value))
	if err := b.ctx.err("Z3_get_numeral_string"); err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("z3: invalid numeral %q: %w", s, err)
	}
	return asmsym.NewConstantExprInt(v, width), nil
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds counters for a solver.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}
