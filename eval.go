package asmsym

import (
	"fmt"
)

// Model represents a concrete assignment of symbols and array bytes.
type Model struct {
	Symbols map[string]*ConstantExpr
	Arrays  map[string]map[uint64]byte
}

// NewModel returns a new, empty model.
func NewModel() *Model {
	return &Model{
		Symbols: make(map[string]*ConstantExpr),
		Arrays:  make(map[string]map[uint64]byte),
	}
}

// Bind assigns a value to a symbol.
func (m *Model) Bind(sym *SymbolExpr, value uint64) *Model {
	m.Symbols[sym.Name] = NewConstantExpr(value, sym.Width)
	return m
}

// BindBool assigns a boolean value to a symbol.
func (m *Model) BindBool(sym *SymbolExpr, value bool) *Model {
	m.Symbols[sym.Name] = NewBoolConstantExpr(value)
	return m
}

// BindArray assigns bytes starting at addr in the named array.
func (m *Model) BindArray(name string, addr uint64, data []byte) *Model {
	a := m.Arrays[name]
	if a == nil {
		a = make(map[uint64]byte)
		m.Arrays[name] = a
	}
	for i, b := range data {
		a[addr+uint64(i)] = b
	}
	return m
}

// ExprEvaluator evaluates expressions under a concrete model.
type ExprEvaluator struct {
	m    *Model
	memo map[Expr]*ConstantExpr
}

// NewExprEvaluator returns a new instance of ExprEvaluator with the given model.
func NewExprEvaluator(m *Model) *ExprEvaluator {
	return &ExprEvaluator{m: m, memo: make(map[Expr]*ConstantExpr)}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if an unbound symbol or array is encountered.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	if c, ok := ee.memo[expr]; ok {
		return c, nil
	}
	c, err := ee.evaluate(expr)
	if err != nil {
		return nil, err
	}
	ee.memo[expr] = c
	return c, nil
}

func (ee *ExprEvaluator) evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return NewBinaryExpr(expr.Op, lhs, rhs).(*ConstantExpr), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		}
		return NewCastExpr(src, expr.Width, expr.Signed).(*ConstantExpr), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return NewConcatExpr(msb, lsb).(*ConstantExpr), nil
	case *ConstantExpr:
		return expr, nil
	case *SymbolExpr:
		value, ok := ee.m.Symbols[expr.Name]
		if !ok {
			return nil, fmt.Errorf("symbol not bound: %s", expr.Name)
		} else if value.Width != expr.Width {
			return nil, fmt.Errorf("symbol width mismatch: %s: %d != %d", expr.Name, value.Width, expr.Width)
		}
		return value, nil
	case *ExtractExpr:
		exp, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return NewExtractExpr(exp, expr.Offset, expr.Width).(*ConstantExpr), nil
	case *NotExpr:
		exp, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return NewNotExpr(exp).(*ConstantExpr), nil
	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)
	case *SelectExpr:
		i, err := ee.Evaluate(expr.Index)
		if err != nil {
			return nil, err
		}

		// Return most recent update to given index, if available.
		for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
			index, err := ee.Evaluate(upd.Index)
			if err != nil {
				return nil, err
			} else if !index.Value.Eq(&i.Value) {
				continue
			}
			return ee.Evaluate(upd.Value)
		}

		// Otherwise return original value. Unset bytes read as zero.
		initial, ok := ee.m.Arrays[expr.Array.Name]
		if !ok {
			return nil, fmt.Errorf("array not bound: %s", expr.Array.Name)
		}
		return NewConstantExpr(uint64(initial[i.Uint64()]), Width8), nil

	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}
