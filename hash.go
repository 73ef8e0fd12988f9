package asmsym

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashExpr returns a structural hash of the expressions. Structurally equal
// expressions hash equally regardless of node identity.
func HashExpr(exprs ...Expr) uint64 {
	h := newExprHasher()
	d := xxhash.New()
	for _, expr := range exprs {
		writeUint64(d, h.hash(expr))
	}
	return d.Sum64()
}

type exprHasher struct {
	memo   map[Expr]uint64
	arrays map[*Array]uint64
}

func newExprHasher() *exprHasher {
	return &exprHasher{
		memo:   make(map[Expr]uint64),
		arrays: make(map[*Array]uint64),
	}
}

func (h *exprHasher) hash(expr Expr) uint64 {
	if v, ok := h.memo[expr]; ok {
		return v
	}

	d := xxhash.New()
	d.Write([]byte{byte(exprKind(expr))})
	switch expr := expr.(type) {
	case *ConstantExpr:
		writeUint64(d, uint64(expr.Width))
		b := expr.Value.Bytes32()
		d.Write(b[:])
	case *SymbolExpr:
		writeUint64(d, uint64(expr.Width))
		d.WriteString(expr.Name)
	case *BinaryExpr:
		writeUint64(d, uint64(expr.Op))
		writeUint64(d, h.hash(expr.LHS))
		writeUint64(d, h.hash(expr.RHS))
	case *CastExpr:
		writeUint64(d, uint64(expr.Width))
		if expr.Signed {
			d.Write([]byte{1})
		}
		writeUint64(d, h.hash(expr.Src))
	case *ConcatExpr:
		writeUint64(d, h.hash(expr.MSB))
		writeUint64(d, h.hash(expr.LSB))
	case *ExtractExpr:
		writeUint64(d, uint64(expr.Offset))
		writeUint64(d, uint64(expr.Width))
		writeUint64(d, h.hash(expr.Expr))
	case *NotExpr:
		writeUint64(d, h.hash(expr.Expr))
	case *IteExpr:
		writeUint64(d, h.hash(expr.Cond))
		writeUint64(d, h.hash(expr.Then))
		writeUint64(d, h.hash(expr.Else))
	case *SelectExpr:
		writeUint64(d, h.hashArray(expr.Array))
		writeUint64(d, h.hash(expr.Index))
	}

	v := d.Sum64()
	h.memo[expr] = v
	return v
}

func (h *exprHasher) hashArray(a *Array) uint64 {
	if v, ok := h.arrays[a]; ok {
		return v
	}
	d := xxhash.New()
	d.WriteString(a.Name)
	for upd := a.Updates; upd != nil; upd = upd.Next {
		writeUint64(d, h.hash(upd.Index))
		writeUint64(d, h.hash(upd.Value))
	}
	v := d.Sum64()
	h.arrays[a] = v
	return v
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	d.Write(buf[:])
}
