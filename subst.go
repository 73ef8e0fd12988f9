package asmsym

// Substitution maps symbol names to replacement expressions and root array
// names to replacement arrays.
type Substitution struct {
	Symbols map[string]Expr
	Arrays  map[string]*Array
}

// IsEmpty returns true if the substitution replaces nothing.
func (s Substitution) IsEmpty() bool {
	return len(s.Symbols) == 0 && len(s.Arrays) == 0
}

// Substitute returns expr with the substitution applied. expr is not modified.
func Substitute(expr Expr, s Substitution) Expr {
	return NewSubstituter(s).Expr(expr)
}

// Substituter applies one substitution to many expressions, sharing the
// rewrite of common subexpressions between calls.
type Substituter struct {
	s      Substitution
	exprs  map[Expr]Expr
	arrays map[*Array]*Array
}

// NewSubstituter returns a new instance of Substituter.
func NewSubstituter(s Substitution) *Substituter {
	return &Substituter{
		s:      s,
		exprs:  make(map[Expr]Expr),
		arrays: make(map[*Array]*Array),
	}
}

// Expr returns the rewritten expression. Constructors are reapplied so the
// result is folded where the replacements allow it.
func (s *Substituter) Expr(expr Expr) Expr {
	if expr == nil || s.s.IsEmpty() {
		return expr
	} else if other, ok := s.exprs[expr]; ok {
		return other
	}

	other := s.expr(expr)
	s.exprs[expr] = other
	return other
}

func (s *Substituter) expr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr

	case *SymbolExpr:
		if other, ok := s.s.Symbols[expr.Name]; ok {
			assert(ExprWidth(other) == expr.Width, "substitute: width mismatch for %s: %d != %d", expr.Name, ExprWidth(other), expr.Width)
			return other
		}
		return expr

	case *BinaryExpr:
		lhs, rhs := s.Expr(expr.LHS), s.Expr(expr.RHS)
		if lhs == expr.LHS && rhs == expr.RHS {
			return expr
		}
		return NewBinaryExpr(expr.Op, lhs, rhs)

	case *CastExpr:
		src := s.Expr(expr.Src)
		if src == expr.Src {
			return expr
		}
		return NewCastExpr(src, expr.Width, expr.Signed)

	case *ConcatExpr:
		msb, lsb := s.Expr(expr.MSB), s.Expr(expr.LSB)
		if msb == expr.MSB && lsb == expr.LSB {
			return expr
		}
		return NewConcatExpr(msb, lsb)

	case *ExtractExpr:
		src := s.Expr(expr.Expr)
		if src == expr.Expr {
			return expr
		}
		return NewExtractExpr(src, expr.Offset, expr.Width)

	case *NotExpr:
		src := s.Expr(expr.Expr)
		if src == expr.Expr {
			return expr
		}
		return NewNotExpr(src)

	case *IteExpr:
		cond, then, els := s.Expr(expr.Cond), s.Expr(expr.Then), s.Expr(expr.Else)
		if cond == expr.Cond && then == expr.Then && els == expr.Else {
			return expr
		}
		return NewIteExpr(cond, then, els)

	case *SelectExpr:
		array, index := s.Array(expr.Array), s.Expr(expr.Index)
		if array == expr.Array && index == expr.Index {
			return expr
		}
		return array.selectByte(index)

	default:
		panic("unreachable")
	}
}

// Array returns the rewritten array. When the root array is replaced, the
// updates of a are replayed on top of the replacement.
func (s *Substituter) Array(a *Array) *Array {
	if a == nil {
		return nil
	} else if other, ok := s.arrays[a]; ok {
		return other
	}

	base, replaced := s.s.Arrays[a.Name]
	if !replaced {
		base = &Array{Name: a.Name}
	}

	changed := replaced
	other := base.Clone()
	for _, upd := range a.UpdateList() {
		index, value := s.Expr(upd.Index), s.Expr(upd.Value)
		if index != upd.Index || value != upd.Value {
			changed = true
		}
		other.storeByte(index, value)
	}

	if !changed {
		other = a
	}
	s.arrays[a] = other
	return other
}
