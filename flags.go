package asmsym

// signBit returns the most significant bit of expr.
func signBit(expr Expr) Expr {
	return NewBitExpr(expr, ExprWidth(expr)-1)
}

// CreateCFAdd returns the carry out of a+b: bit w of the sum of both
// operands zero-extended by one bit.
func CreateCFAdd(a, b Expr) Expr {
	w := ExprWidth(a)
	sum := NewBinaryExpr(ADD, NewCastExpr(a, w+1, false), NewCastExpr(b, w+1, false))
	return NewBitExpr(sum, w)
}

// CreateOFAdd returns the signed overflow of a+b given its result.
func CreateOFAdd(a, b, result Expr) Expr {
	sa, sb, sr := signBit(a), signBit(b), signBit(result)
	return NewBinaryExpr(AND, NewBinaryExpr(EQ, sa, sb), NewBinaryExpr(XOR, sa, sr))
}

// CreateAFAdd returns the carry out of bit 3 of a+b.
func CreateAFAdd(a, b Expr) Expr {
	return CreateCFAdd(NewExtractExpr(a, 0, 4), NewExtractExpr(b, 0, 4))
}

// CreateCFSub returns the borrow out of a-b.
func CreateCFSub(a, b Expr) Expr {
	w := ExprWidth(a)
	diff := NewBinaryExpr(SUB, NewCastExpr(a, w+1, false), NewCastExpr(b, w+1, false))
	return NewBitExpr(diff, w)
}

// CreateOFSub returns the signed overflow of a-b given its result.
func CreateOFSub(a, b, result Expr) Expr {
	sa, sb, sr := signBit(a), signBit(b), signBit(result)
	return NewBinaryExpr(AND, NewNotExpr(NewBinaryExpr(EQ, sa, sb)), NewBinaryExpr(XOR, sa, sr))
}

// CreateAFSub returns the borrow out of bit 3 of a-b.
func CreateAFSub(a, b Expr) Expr {
	return CreateCFSub(NewExtractExpr(a, 0, 4), NewExtractExpr(b, 0, 4))
}

// CreatePF returns true if the low byte of result has an even number of set bits.
func CreatePF(result Expr) Expr {
	var parity Expr = NewBitExpr(result, 0)
	for i := uint(1); i < 8 && i < ExprWidth(result); i++ {
		parity = NewBinaryExpr(XOR, parity, NewBitExpr(result, i))
	}
	return NewNotExpr(parity)
}

// CreateZF returns true if result is zero.
func CreateZF(result Expr) Expr {
	return NewIsZeroExpr(result)
}

// CreateSF returns the sign bit of result.
func CreateSF(result Expr) Expr {
	return signBit(result)
}
