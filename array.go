package asmsym

import (
	"fmt"
)

// Array represents unbounded little-endian memory: symbolic bytes indexed by
// 64-bit addresses.
type Array struct {
	Name    string       // root symbol name
	Updates *ArrayUpdate // linked list of symbolic updates, newest first
}

// NewArray returns a new Array with no writes.
func NewArray(name string) *Array {
	return &Array{Name: name}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	n := 0
	for upd := a.Updates; upd != nil; upd = upd.Next {
		n++
	}
	if n == 0 {
		return a.Name
	}
	return fmt.Sprintf("(array %s +%d)", a.Name, n)
}

// Clone returns a copy of the array.
func (a *Array) Clone() *Array {
	return &Array{
		Name:    a.Name,
		Updates: a.Updates,
	}
}

// Select reads a width-bit value at offset, least significant byte first.
func (a *Array) Select(offset Expr, width uint) Expr {
	assert(width > 0 && width%8 == 0, "select: invalid width: %d", width)

	offset = newZExtExpr(offset, Width64)

	var result Expr
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		value := a.selectByte(NewBinaryExpr(ADD, offset, NewConstantExpr64(i)))
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// selectByte reads a single byte from the array.
//
// Attempts to find a concrete value by traversing the array update history.
// Falls back to a select expression if either the selected index or an update's
// index is symbolic.
func (a *Array) selectByte(index Expr) Expr {
	assert(ExprWidth(index) == 64, "selectByte: invalid array index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break // found symbolic index, exit
		} else if cond.IsTrue() {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store writes value at offset, least significant byte first. Returns a new
// copy of the array.
func (a *Array) Store(offset, value Expr) *Array {
	other := a.Clone()

	offset = newZExtExpr(offset, Width64)

	width := ExprWidth(value)
	assert(width > 0 && width%8 == 0, "store: invalid width: %d", width)
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		other.storeByte(NewBinaryExpr(ADD, offset, NewConstantExpr64(i)), NewExtractExpr(value, uint(i*8), Width8))
	}
	return other
}

// storeByte writes a single byte to the array. Existing update nodes are
// shared with other arrays so they are never modified in place.
func (a *Array) storeByte(index, value Expr) {
	assert(ExprWidth(index) == 64, "storeByte: invalid array index width: %d", ExprWidth(index))

	// Drop previous writes to the same concrete index and push the update.
	a.Updates = NewArrayUpdate(index, value, dropUpdate(a.Updates, index))
}

// dropUpdate returns the chain without concrete writes to index. Only the
// leading run of concrete updates is examined; nodes are copied as needed.
func dropUpdate(upd *ArrayUpdate, index Expr) *ArrayUpdate {
	c, ok := index.(*ConstantExpr)
	if !ok || upd == nil {
		return upd
	}
	ui, ok := upd.Index.(*ConstantExpr)
	if !ok {
		return upd // symbolic index
	}

	next := dropUpdate(upd.Next, index)
	if ui.Value.Eq(&c.Value) {
		return next
	} else if next == upd.Next {
		return upd
	}
	return &ArrayUpdate{Index: upd.Index, Value: upd.Value, Next: next}
}

// UpdateList returns the updates in the order they were written, oldest first.
func (a *Array) UpdateList() []*ArrayUpdate {
	var a0 []*ArrayUpdate
	for upd := a.Updates; upd != nil; upd = upd.Next {
		a0 = append(a0, upd)
	}
	for i, j := 0, len(a0)-1; i < j; i, j = i+1, j-1 {
		a0[i], a0[j] = a0[j], a0[i]
	}
	return a0
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == b {
		return 0
	}

	if a.Name < b.Name {
		return -1
	} else if a.Name > b.Name {
		return 1
	}

	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate represents a symbolic update to an array.
type ArrayUpdate struct {
	Index Expr // byte index of update
	Value Expr // byte value to update

	Next *ArrayUpdate // linked list of next update
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: newZExtExpr(index, Width64),
		Value: newZExtExpr(value, Width8),
		Next:  next,
	}
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == b {
		return 0
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Next, b.Next)
}
