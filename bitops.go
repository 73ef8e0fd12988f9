package asmsym

import (
	"fmt"
)

// ArithResult is the outcome of an addition or subtraction.
type ArithResult struct {
	Result Expr
	CF     Expr
	OF     Expr
	AF     Expr
}

// Addition returns a+b and its carry, overflow and adjust flags.
func Addition(a, b Expr) ArithResult {
	result := NewBinaryExpr(ADD, a, b)
	return ArithResult{
		Result: result,
		CF:     CreateCFAdd(a, b),
		OF:     CreateOFAdd(a, b, result),
		AF:     CreateAFAdd(a, b),
	}
}

// AdditionWithCarry returns a+b+carry. The operands are zero-extended by one
// bit so the carry out is the top bit of the extended sum.
func AdditionWithCarry(a, b, carry Expr) ArithResult {
	if IsConstantFalse(carry) {
		return Addition(a, b)
	}

	w := ExprWidth(a)
	sum := NewBinaryExpr(ADD,
		NewBinaryExpr(ADD, NewCastExpr(a, w+1, false), NewCastExpr(b, w+1, false)),
		NewCastExpr(carry, w+1, false),
	)
	result := NewExtractExpr(sum, 0, w)

	nibble := NewBinaryExpr(ADD,
		NewBinaryExpr(ADD, NewCastExpr(NewExtractExpr(a, 0, 4), 5, false), NewCastExpr(NewExtractExpr(b, 0, 4), 5, false)),
		NewCastExpr(carry, 5, false),
	)

	return ArithResult{
		Result: result,
		CF:     NewBitExpr(sum, w),
		OF:     CreateOFAdd(a, b, result),
		AF:     NewBitExpr(nibble, 4),
	}
}

// Subtraction returns a-b and its borrow, overflow and adjust flags.
func Subtraction(a, b Expr) ArithResult {
	result := NewBinaryExpr(SUB, a, b)
	return ArithResult{
		Result: result,
		CF:     CreateCFSub(a, b),
		OF:     CreateOFSub(a, b, result),
		AF:     CreateAFSub(a, b),
	}
}

// SubtractionWithBorrow returns a-b-borrow. A constant false borrow is a
// plain subtraction.
func SubtractionWithBorrow(a, b, borrow Expr) ArithResult {
	if IsConstantFalse(borrow) {
		return Subtraction(a, b)
	}

	w := ExprWidth(a)
	diff := NewBinaryExpr(SUB,
		NewBinaryExpr(SUB, NewCastExpr(a, w+1, false), NewCastExpr(b, w+1, false)),
		NewCastExpr(borrow, w+1, false),
	)
	result := NewExtractExpr(diff, 0, w)

	nibble := NewBinaryExpr(SUB,
		NewBinaryExpr(SUB, NewCastExpr(NewExtractExpr(a, 0, 4), 5, false), NewCastExpr(NewExtractExpr(b, 0, 4), 5, false)),
		NewCastExpr(borrow, 5, false),
	)

	return ArithResult{
		Result: result,
		CF:     NewBitExpr(diff, w),
		OF:     CreateOFSub(a, b, result),
		AF:     NewBitExpr(nibble, 4),
	}
}

// ShiftOp represents a shift or rotate operation.
type ShiftOp int

// Shift and rotate operations.
const (
	ShiftSHL ShiftOp = iota
	ShiftSHR
	ShiftSAR
	ShiftROL
	ShiftROR
	ShiftRCL
	ShiftRCR
)

var shiftOps = [...]string{
	ShiftSHL: "SHL",
	ShiftSHR: "SHR",
	ShiftSAR: "SAR",
	ShiftROL: "ROL",
	ShiftROR: "ROR",
	ShiftRCL: "RCL",
	ShiftRCR: "RCR",
}

// String returns the mnemonic of the operation.
func (op ShiftOp) String() string {
	if op >= 0 && int(op) < len(shiftOps) {
		return shiftOps[op]
	}
	return fmt.Sprintf("ShiftOp<%d>", int(op))
}

// ShiftResult is the outcome of a shift or rotate.
type ShiftResult struct {
	Result Expr
	CF     Expr
	OF     Expr

	// Count is the masked shift count, zero-extended to the operand width.
	Count Expr
}

// maskShiftCount masks an 8-bit count to 5 bits, or 6 bits for 64-bit operands.
func maskShiftCount(count Expr, width uint) Expr {
	assert(ExprWidth(count) == Width8, "shift count must be 8 bits: %d", ExprWidth(count))
	mask := uint64(0x1f)
	if width == Width64 {
		mask = 0x3f
	}
	return NewBinaryExpr(AND, count, NewConstantExpr8(mask))
}

// Shift returns the result of shifting or rotating value by count. count is
// an 8-bit formula. CF is an unconstrained fresh boolean named at key when the
// masked count is zero, and OF is fresh unless the count is one.
func Shift(op ShiftOp, value, count Expr, key Key) ShiftResult {
	if op == ShiftRCL || op == ShiftRCR {
		panic(fmt.Sprintf("Shift: use RotateThroughCarry for %s", op))
	}

	w := ExprWidth(value)
	masked := maskShiftCount(count, w)
	n := NewCastExpr(masked, w, false)
	one := NewConstantExpr(1, w)

	var result, cf, of Expr
	switch op {
	case ShiftSHL:
		result = NewBinaryExpr(SHL, value, n)
		cf = signBit(NewBinaryExpr(SHL, value, NewBinaryExpr(SUB, n, one)))
		of = NewBinaryExpr(XOR, signBit(result), cf)
	case ShiftSHR:
		result = NewBinaryExpr(LSHR, value, n)
		cf = NewBitExpr(NewBinaryExpr(LSHR, value, NewBinaryExpr(SUB, n, one)), 0)
		of = signBit(value)
	case ShiftSAR:
		result = NewBinaryExpr(ASHR, value, n)
		cf = NewBitExpr(NewBinaryExpr(ASHR, value, NewBinaryExpr(SUB, n, one)), 0)
		of = NewBoolConstantExpr(false)
	case ShiftROL:
		r := NewBinaryExpr(UREM, n, NewConstantExpr(uint64(w), w))
		result = rotateLeft(value, r)
		cf = NewBitExpr(result, 0)
		of = NewBinaryExpr(XOR, signBit(result), cf)
	case ShiftROR:
		r := NewBinaryExpr(UREM, n, NewConstantExpr(uint64(w), w))
		result = rotateRight(value, r)
		cf = signBit(result)
		of = NewBinaryExpr(XOR, signBit(result), NewBitExpr(result, w-2))
	default:
		panic("unreachable")
	}

	isZero := NewIsZeroExpr(masked)
	isOne := NewBinaryExpr(EQ, masked, NewConstantExpr8(1))
	return ShiftResult{
		Result: NewIteExpr(isZero, value, result),
		CF:     NewIteExpr(isZero, NewSymbolExpr(FreshName("CF", key), WidthBool), cf),
		OF:     NewIteExpr(isOne, of, NewSymbolExpr(FreshName("OF", key), WidthBool)),
		Count:  n,
	}
}

// RotateThroughCarry rotates the width+1 bit value formed by the carry and
// value. The result is the low width bits and CF is the remaining bit.
func RotateThroughCarry(op ShiftOp, value, count, carry Expr, key Key) ShiftResult {
	assert(op == ShiftRCL || op == ShiftRCR, "RotateThroughCarry: invalid op: %s", op)

	w := ExprWidth(value)
	masked := maskShiftCount(count, w)
	ext := NewConcatExpr(carry, value)
	r := NewBinaryExpr(UREM, NewCastExpr(masked, w+1, false), NewConstantExpr(uint64(w+1), w+1))

	var rotated, of Expr
	if op == ShiftRCL {
		rotated = rotateLeft(ext, r)
	} else {
		rotated = rotateRight(ext, r)
	}
	result := NewExtractExpr(rotated, 0, w)
	cf := NewBitExpr(rotated, w)

	if op == ShiftRCL {
		of = NewBinaryExpr(XOR, signBit(result), cf)
	} else {
		of = NewBinaryExpr(XOR, signBit(value), carry)
	}

	isZero := NewIsZeroExpr(masked)
	isOne := NewBinaryExpr(EQ, masked, NewConstantExpr8(1))
	return ShiftResult{
		Result: NewIteExpr(isZero, value, result),
		CF:     NewIteExpr(isZero, NewSymbolExpr(FreshName("CF", key), WidthBool), cf),
		OF:     NewIteExpr(isOne, of, NewSymbolExpr(FreshName("OF", key), WidthBool)),
		Count:  NewCastExpr(masked, w, false),
	}
}

// rotateLeft rotates value left by r, where r is less than the width.
func rotateLeft(value, r Expr) Expr {
	w := ExprWidth(value)
	back := NewBinaryExpr(SUB, NewConstantExpr(uint64(w), w), r)
	return NewBinaryExpr(OR, NewBinaryExpr(SHL, value, r), NewBinaryExpr(LSHR, value, back))
}

// rotateRight rotates value right by r, where r is less than the width.
func rotateRight(value, r Expr) Expr {
	w := ExprWidth(value)
	back := NewBinaryExpr(SUB, NewConstantExpr(uint64(w), w), r)
	return NewBinaryExpr(OR, NewBinaryExpr(LSHR, value, r), NewBinaryExpr(SHL, value, back))
}
