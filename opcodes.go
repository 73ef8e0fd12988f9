package asmsym

import (
	"fmt"
)

// Caller-saved registers are unknown after a call returns.
var callerSavedRegs = []Reg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}

// binaryOperands returns the operand size and values of a two operand instruction.
func binaryOperands(in *Instr) (w uint, a, b Expr, err error) {
	dst, src := in.Arg(0), in.Arg(1)
	if w, err = in.Width(dst, src); err != nil {
		return 0, nil, nil, err
	}
	if a, err = in.Read(dst, w); err != nil {
		return 0, nil, nil, err
	}
	if b, err = in.Read(src, w); err != nil {
		return 0, nil, nil, err
	}
	return w, a, b, nil
}

func opMOV(in *Instr) error {
	dst, src := in.Arg(0), in.Arg(1)
	w, err := in.Width(dst, src)
	if err != nil {
		return err
	}
	value, err := in.Read(src, w)
	if err != nil {
		return err
	}
	return in.Write(dst, value)
}

// opMOVX handles MOVZX, MOVSX and MOVSXD.
func opMOVX(in *Instr) error {
	dst, src := in.Arg(0), in.Arg(1)
	if dst.Kind != OperandReg {
		return fmt.Errorf("destination must be a register: %s", dst.Text)
	}

	ws := src.Width()
	if ws == 0 && in.Mnemonic == MnemonicMOVSXD {
		ws = Width32
	} else if ws == 0 {
		return fmt.Errorf("source size not specified: %s", src.Text)
	}
	if ws >= dst.Width() {
		return fmt.Errorf("source %s must be narrower than destination %s", src.Text, dst.Text)
	}

	value, err := in.Read(src, ws)
	if err != nil {
		return err
	}
	return in.Write(dst, NewCastExpr(value, dst.Width(), in.Mnemonic != MnemonicMOVZX))
}

func opLEA(in *Instr) error {
	dst, src := in.Arg(0), in.Arg(1)
	if dst.Kind != OperandReg || src.Kind != OperandMem {
		return fmt.Errorf("expected register and memory operands")
	}
	addr := in.Addr(src.Mem)
	if w := dst.Width(); w < Width64 {
		addr = NewExtractExpr(addr, 0, w)
	}
	return in.Write(dst, addr)
}

func opXCHG(in *Instr) error {
	_, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	}
	if err := in.Write(in.Arg(0), b); err != nil {
		return err
	}
	return in.Write(in.Arg(1), a)
}

func stackPointer() RegView {
	v, _ := LookupRegister("RSP")
	return v
}

func opPUSH(in *Instr) error {
	src := in.Arg(0)
	w := src.Width()
	if w == 0 {
		w = Width64
	} else if w != Width16 && w != Width64 {
		return fmt.Errorf("invalid operand size: %d", w)
	}
	value, err := in.Read(src, w)
	if err != nil {
		return err
	}

	sp := stackPointer()
	rsp := NewBinaryExpr(SUB, in.Reg(sp), NewConstantExpr64(uint64(w/8)))
	in.Store(rsp, value)
	in.SetReg(sp, rsp)
	return nil
}

func opPOP(in *Instr) error {
	dst := in.Arg(0)
	w := dst.Width()
	if w == 0 {
		w = Width64
	} else if w != Width16 && w != Width64 {
		return fmt.Errorf("invalid operand size: %d", w)
	}

	sp := stackPointer()
	rsp := in.Reg(sp)
	value := in.Load(rsp, w)
	in.SetReg(sp, NewBinaryExpr(ADD, rsp, NewConstantExpr64(uint64(w/8))))
	return in.Write(dst, value)
}

func opCMOVcc(in *Instr) error {
	_, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	} else if in.Arg(0).Kind != OperandReg {
		return fmt.Errorf("destination must be a register: %s", in.Arg(0).Text)
	}
	return in.Write(in.Arg(0), NewIteExpr(in.CondExpr(), b, a))
}

func opSETcc(in *Instr) error {
	dst := in.Arg(0)
	if w := dst.Width(); w != 0 && w != Width8 {
		return fmt.Errorf("destination must be 8 bits: %s", dst.Text)
	}
	return in.Write(dst, NewCastExpr(in.CondExpr(), Width8, false))
}

// opADD handles ADD and ADC.
func opADD(in *Instr) error {
	_, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	}

	var r ArithResult
	if in.Mnemonic == MnemonicADC {
		r = AdditionWithCarry(a, b, in.Flag(CF))
	} else {
		r = Addition(a, b)
	}
	if err := in.Write(in.Arg(0), r.Result); err != nil {
		return err
	}
	in.setArithFlags(r)
	return nil
}

// opSUB handles SUB, SBB and CMP.
func opSUB(in *Instr) error {
	_, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	}

	var r ArithResult
	if in.Mnemonic == MnemonicSBB {
		r = SubtractionWithBorrow(a, b, in.Flag(CF))
	} else {
		r = Subtraction(a, b)
	}
	if in.Mnemonic != MnemonicCMP {
		if err := in.Write(in.Arg(0), r.Result); err != nil {
			return err
		}
	}
	in.setArithFlags(r)
	return nil
}

func (in *Instr) setArithFlags(r ArithResult) {
	in.SetFlag(CF, r.CF)
	in.SetFlag(OF, r.OF)
	in.SetFlag(AF, r.AF)
	in.SetFlagsResult(r.Result)
}

// opINCDEC handles INC and DEC. CF is unchanged.
func opINCDEC(in *Instr) error {
	dst := in.Arg(0)
	w, err := in.Width(dst)
	if err != nil {
		return err
	}
	a, err := in.Read(dst, w)
	if err != nil {
		return err
	}

	var r ArithResult
	if in.Mnemonic == MnemonicINC {
		r = Addition(a, NewConstantExpr(1, w))
	} else {
		r = Subtraction(a, NewConstantExpr(1, w))
	}
	if err := in.Write(dst, r.Result); err != nil {
		return err
	}
	in.SetFlag(OF, r.OF)
	in.SetFlag(AF, r.AF)
	in.SetFlagsResult(r.Result)
	return nil
}

func opNEG(in *Instr) error {
	dst := in.Arg(0)
	w, err := in.Width(dst)
	if err != nil {
		return err
	}
	a, err := in.Read(dst, w)
	if err != nil {
		return err
	}

	r := Subtraction(NewConstantExpr(0, w), a)
	if err := in.Write(dst, r.Result); err != nil {
		return err
	}
	r.CF = NewNotExpr(NewIsZeroExpr(a))
	in.setArithFlags(r)
	return nil
}

// accumulator returns the low and high halves of the implicit operand of a
// widening multiply or divide of width w.
func accumulator(w uint) (lo, hi RegView) {
	switch w {
	case Width8:
		lo, _ = LookupRegister("AL")
		hi, _ = LookupRegister("AH")
	case Width16:
		lo, _ = LookupRegister("AX")
		hi, _ = LookupRegister("DX")
	case Width32:
		lo, _ = LookupRegister("EAX")
		hi, _ = LookupRegister("EDX")
	default:
		lo, _ = LookupRegister("RAX")
		hi, _ = LookupRegister("RDX")
	}
	return lo, hi
}

// opMUL handles the one operand unsigned multiply.
func opMUL(in *Instr) error {
	src := in.Arg(0)
	w, err := in.Width(src)
	if err != nil {
		return err
	}
	b, err := in.Read(src, w)
	if err != nil {
		return err
	}
	lo, hi := accumulator(w)
	in.wideMul(lo, hi, in.Reg(lo), b, false)
	return nil
}

// wideMul writes the double width product of a and b to hi:lo.
func (in *Instr) wideMul(lo, hi RegView, a, b Expr, signed bool) {
	w := ExprWidth(a)
	full := NewBinaryExpr(MUL, NewCastExpr(a, 2*w, signed), NewCastExpr(b, 2*w, signed))
	low, high := NewExtractExpr(full, 0, w), NewExtractExpr(full, w, w)

	if w == Width8 {
		ax, _ := LookupRegister("AX")
		in.SetReg(ax, full)
	} else {
		in.SetReg(lo, low)
		in.SetReg(hi, high)
	}

	var overflow Expr
	if signed {
		overflow = NewNotExpr(NewBinaryExpr(EQ, full, NewCastExpr(low, 2*w, true)))
	} else {
		overflow = NewNotExpr(NewIsZeroExpr(high))
	}
	in.setMulFlags(overflow)
}

// setMulFlags sets CF and OF on overflow; the remaining flags are undefined.
func (in *Instr) setMulFlags(overflow Expr) {
	in.SetFlag(CF, overflow)
	in.SetFlag(OF, overflow)
	in.UndefFlag(SF)
	in.UndefFlag(ZF)
	in.UndefFlag(AF)
	in.UndefFlag(PF)
}

// opIMUL handles the one, two and three operand signed multiply.
func opIMUL(in *Instr) error {
	if len(in.Args) == 1 {
		src := in.Arg(0)
		w, err := in.Width(src)
		if err != nil {
			return err
		}
		b, err := in.Read(src, w)
		if err != nil {
			return err
		}
		lo, hi := accumulator(w)
		in.wideMul(lo, hi, in.Reg(lo), b, true)
		return nil
	}

	dst := in.Arg(0)
	if dst.Kind != OperandReg {
		return fmt.Errorf("destination must be a register: %s", dst.Text)
	}
	w := dst.Width()

	var a, b Expr
	var err error
	if len(in.Args) == 2 {
		if a, err = in.Read(dst, w); err != nil {
			return err
		} else if b, err = in.Read(in.Arg(1), w); err != nil {
			return err
		}
	} else {
		if a, err = in.Read(in.Arg(1), w); err != nil {
			return err
		} else if b, err = in.Read(in.Arg(2), w); err != nil {
			return err
		}
	}

	full := NewBinaryExpr(MUL, NewCastExpr(a, 2*w, true), NewCastExpr(b, 2*w, true))
	low := NewExtractExpr(full, 0, w)
	if err := in.Write(dst, low); err != nil {
		return err
	}
	in.setMulFlags(NewNotExpr(NewBinaryExpr(EQ, full, NewCastExpr(low, 2*w, true))))
	return nil
}

// opDIV handles DIV and IDIV. A zero divisor follows the bit-vector rules:
// the quotient is all ones and the remainder is the dividend.
func opDIV(in *Instr) error {
	src := in.Arg(0)
	w, err := in.Width(src)
	if err != nil {
		return err
	}
	divisor, err := in.Read(src, w)
	if err != nil {
		return err
	}
	signed := in.Mnemonic == MnemonicIDIV
	lo, hi := accumulator(w)
	var dividend Expr
	if w == Width8 {
		ax, _ := LookupRegister("AX")
		dividend = in.Reg(ax)
	} else {
		dividend = NewConcatExpr(in.Reg(hi), in.Reg(lo))
	}

	d := NewCastExpr(divisor, 2*w, signed)
	divOp, remOp := UDIV, UREM
	if signed {
		divOp, remOp = SDIV, SREM
	}
	q := NewExtractExpr(NewBinaryExpr(divOp, dividend, d), 0, w)
	r := NewExtractExpr(NewBinaryExpr(remOp, dividend, d), 0, w)

	in.SetReg(lo, q)
	in.SetReg(hi, r)
	for _, f := range []Flag{CF, OF, SF, ZF, AF, PF} {
		in.UndefFlag(f)
	}
	return nil
}

// opLogic handles AND, OR, XOR and TEST.
func opLogic(in *Instr) error {
	_, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	}

	var result Expr
	switch in.Mnemonic {
	case MnemonicAND, MnemonicTEST:
		result = NewBinaryExpr(AND, a, b)
	case MnemonicOR:
		result = NewBinaryExpr(OR, a, b)
	case MnemonicXOR:
		result = NewBinaryExpr(XOR, a, b)
	}
	if in.Mnemonic != MnemonicTEST {
		if err := in.Write(in.Arg(0), result); err != nil {
			return err
		}
	}

	in.SetFlag(CF, NewBoolConstantExpr(false))
	in.SetFlag(OF, NewBoolConstantExpr(false))
	in.UndefFlag(AF)
	in.SetFlagsResult(result)
	return nil
}

func opNOT(in *Instr) error {
	dst := in.Arg(0)
	w, err := in.Width(dst)
	if err != nil {
		return err
	}
	a, err := in.Read(dst, w)
	if err != nil {
		return err
	}
	return in.Write(dst, NewBinaryExpr(XOR, a, NewConstantExprInt(bitmask(w), w)))
}

// opBT copies the selected bit to CF. The bit offset is taken modulo the
// operand size.
func opBT(in *Instr) error {
	base := in.Arg(0)
	w, err := in.Width(base)
	if err != nil {
		return err
	}
	a, err := in.Read(base, w)
	if err != nil {
		return err
	}

	off := in.Arg(1)
	ow := off.Width()
	if off.Kind == OperandImm {
		ow = Width8
	} else if off.Kind != OperandReg || ow != w {
		return fmt.Errorf("invalid bit offset: %s", off.Text)
	}
	n, err := in.Read(off, ow)
	if err != nil {
		return err
	}
	n = NewBinaryExpr(UREM, NewCastExpr(n, w, false), NewConstantExpr(uint64(w), w))

	in.SetFlag(CF, NewBitExpr(NewBinaryExpr(LSHR, a, n), 0))
	for _, f := range []Flag{OF, SF, AF, PF} {
		in.UndefFlag(f)
	}
	return nil
}

// opPLogic handles the 128-bit PAND, POR and PXOR.
func opPLogic(in *Instr) error {
	w, a, b, err := binaryOperands(in)
	if err != nil {
		return err
	} else if w != Width128 || in.Arg(0).Kind != OperandReg {
		return fmt.Errorf("destination must be an XMM register: %s", in.Arg(0).Text)
	}

	op := AND
	switch in.Mnemonic {
	case MnemonicPOR:
		op = OR
	case MnemonicPXOR:
		op = XOR
	}
	return in.Write(in.Arg(0), NewBinaryExpr(op, a, b))
}

var shiftOpsByMnemonic = map[Mnemonic]ShiftOp{
	MnemonicSHL: ShiftSHL,
	MnemonicSAL: ShiftSHL,
	MnemonicSHR: ShiftSHR,
	MnemonicSAR: ShiftSAR,
	MnemonicROL: ShiftROL,
	MnemonicROR: ShiftROR,
	MnemonicRCL: ShiftRCL,
	MnemonicRCR: ShiftRCR,
}

// opShift handles shifts and rotates. The count is 1, an immediate or CL.
func opShift(in *Instr) error {
	dst := in.Arg(0)
	w, err := in.Width(dst)
	if err != nil {
		return err
	}
	value, err := in.Read(dst, w)
	if err != nil {
		return err
	}

	var count Expr = NewConstantExpr8(1)
	if len(in.Args) == 2 {
		arg := in.Arg(1)
		if arg.Kind == OperandReg && arg.Reg.Name != "CL" {
			return fmt.Errorf("shift count must be an immediate or CL: %s", arg.Text)
		}
		if count, err = in.Read(arg, Width8); err != nil {
			return err
		}
	}

	op := shiftOpsByMnemonic[in.Mnemonic]
	var r ShiftResult
	if op == ShiftRCL || op == ShiftRCR {
		r = RotateThroughCarry(op, value, count, in.Flag(CF), in.FreshKey())
	} else {
		r = Shift(op, value, count, in.FreshKey())
	}
	if err := in.Write(dst, r.Result); err != nil {
		return err
	}
	in.SetFlag(CF, r.CF)
	in.SetFlag(OF, r.OF)

	// Rotates leave the remaining flags alone. Shifts by zero do too.
	switch op {
	case ShiftSHL, ShiftSHR, ShiftSAR:
		isZero := NewIsZeroExpr(r.Count)
		in.SetFlag(SF, NewIteExpr(isZero, in.Flag(SF), CreateSF(r.Result)))
		in.SetFlag(ZF, NewIteExpr(isZero, in.Flag(ZF), CreateZF(r.Result)))
		in.SetFlag(PF, NewIteExpr(isZero, in.Flag(PF), CreatePF(r.Result)))
		in.SetFlag(AF, NewIteExpr(isZero, in.Flag(AF), NewSymbolExpr(FreshName(AF.String(), in.FreshKey()), WidthBool)))
	}
	return nil
}

// opFlag handles CLC, STC, CMC, CLD and STD.
func opFlag(in *Instr) error {
	switch in.Mnemonic {
	case MnemonicCLC:
		in.SetFlag(CF, NewBoolConstantExpr(false))
	case MnemonicSTC:
		in.SetFlag(CF, NewBoolConstantExpr(true))
	case MnemonicCMC:
		in.SetFlag(CF, NewNotExpr(in.Flag(CF)))
	case MnemonicCLD:
		in.SetFlag(DF, NewBoolConstantExpr(false))
	case MnemonicSTD:
		in.SetFlag(DF, NewBoolConstantExpr(true))
	}
	return nil
}

func opJMP(in *Instr) error {
	return nil
}

func opJcc(in *Instr) error {
	in.Jump(in.CondExpr())
	return nil
}

// opLOOP decrements RCX and branches while it is not zero. LOOPE and
// LOOPNE also require ZF to be set or clear.
func opLOOP(in *Instr) error {
	rcx, _ := LookupRegister("RCX")
	count := NewBinaryExpr(SUB, in.Reg(rcx), NewConstantExpr64(1))
	in.SetReg(rcx, count)

	cond := NewNotExpr(NewIsZeroExpr(count))
	switch in.Mnemonic {
	case MnemonicLOOPE:
		cond = NewBinaryExpr(AND, cond, in.Flag(ZF))
	case MnemonicLOOPNE:
		cond = NewBinaryExpr(AND, cond, NewNotExpr(in.Flag(ZF)))
	}
	in.Jump(cond)
	return nil
}

// opCALL pushes the return line on the branch edge. On the regular edge the
// call has returned and caller-saved registers and flags are unknown.
func opCALL(in *Instr) error {
	in.onEdges(edgeBranch, func() {
		sp := stackPointer()
		rsp := NewBinaryExpr(SUB, in.Reg(sp), NewConstantExpr64(8))
		in.Store(rsp, NewConstantExpr64(uint64(in.LineNo+1)))
		in.SetReg(sp, rsp)
	})
	in.onEdges(edgeRegular, func() {
		for _, r := range callerSavedRegs {
			in.SetReg(RegView{Name: r.String(), Reg: r, Width: r.Width()}, NewSymbolExpr(FreshName(r.String(), in.Keys.Regular), r.Width()))
		}
		for _, f := range ArithmeticFlags.Flags() {
			in.SetFlag(f, NewSymbolExpr(FreshName(f.String(), in.Keys.Regular), WidthBool))
		}
	})
	return nil
}

func opHLT(in *Instr) error {
	if in.Mnemonic == MnemonicUD2 {
		return fmt.Errorf("undefined instruction")
	}
	return fmt.Errorf("halted")
}

func opNOP(in *Instr) error {
	return nil
}
