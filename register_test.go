package asmsym_test

import (
	"testing"

	"github.com/benbjohnson/asmsym"
	"github.com/google/go-cmp/cmp"
)

func TestLookupRegister(t *testing.T) {
	for _, tt := range []struct {
		name   string
		reg    asmsym.Reg
		offset uint
		width  uint
	}{
		{"rax", asmsym.RAX, 0, 64},
		{"EAX", asmsym.RAX, 0, 32},
		{"ax", asmsym.RAX, 0, 16},
		{"al", asmsym.RAX, 0, 8},
		{"ah", asmsym.RAX, 8, 8},
		{"sil", asmsym.RSI, 0, 8},
		{"spl", asmsym.RSP, 0, 8},
		{"r8d", asmsym.R8, 0, 32},
		{"r15w", asmsym.R15, 0, 16},
		{"r9b", asmsym.R9, 0, 8},
		{"r10l", asmsym.R10, 0, 8},
		{"xmm7", asmsym.XMM7, 0, 128},
	} {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := asmsym.LookupRegister(tt.name)
			if !ok {
				t.Fatal("expected register")
			} else if v.Reg != tt.reg || v.Offset != tt.offset || v.Width != tt.width {
				t.Fatalf("unexpected view: %+v", v)
			}
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		if _, ok := asmsym.LookupRegister("sih"); ok {
			t.Fatal("expected no register")
		}
	})
}

func TestParseReg(t *testing.T) {
	if r, ok := asmsym.ParseReg("r12"); !ok || r != asmsym.R12 {
		t.Fatalf("unexpected register: %v", r)
	} else if _, ok := asmsym.ParseReg("eax"); ok {
		t.Fatal("expected partial register to be rejected")
	}
}

func TestRegSet(t *testing.T) {
	var s asmsym.RegSet
	s = s.With(asmsym.RBX).With(asmsym.XMM15).With(asmsym.RAX).Without(asmsym.RAX)
	if diff := cmp.Diff(s.Regs(), []asmsym.Reg{asmsym.RBX, asmsym.XMM15}); diff != "" {
		t.Fatal(diff)
	}
	if n := len(asmsym.Regs()); n != 32 {
		t.Fatalf("unexpected register count: %d", n)
	}
}

func TestFlagSet(t *testing.T) {
	s := asmsym.NewFlagSet(asmsym.ZF, asmsym.CF)
	if s.String() != "CF|ZF" {
		t.Fatalf("unexpected string: %s", s)
	} else if !s.Has(asmsym.ZF) || s.Has(asmsym.OF) {
		t.Fatal("unexpected membership")
	} else if asmsym.AllFlags.Has(asmsym.DF) != true || asmsym.ArithmeticFlags.Has(asmsym.DF) {
		t.Fatal("unexpected DF membership")
	}
	if f, ok := asmsym.ParseFlag("of"); !ok || f != asmsym.OF {
		t.Fatalf("unexpected flag: %v", f)
	} else if _, ok := asmsym.ParseFlag("IF"); ok {
		t.Fatal("expected unknown flag")
	}
}

func TestParseOperand(t *testing.T) {
	t.Run("Register", func(t *testing.T) {
		op, err := asmsym.ParseOperand(" ecx ")
		if err != nil {
			t.Fatal(err)
		} else if op.Kind != asmsym.OperandReg || op.Reg.Reg != asmsym.RCX || op.Width() != 32 {
			t.Fatalf("unexpected operand: %+v", op)
		}
	})

	t.Run("Immediate", func(t *testing.T) {
		for _, tt := range []struct {
			s    string
			want uint64
		}{
			{"42", 42},
			{"0x10", 16},
			{"0FFh", 255},
			{"0b101", 5},
			{"-1", 0xFFFFFFFFFFFFFFFF},
		} {
			op, err := asmsym.ParseOperand(tt.s)
			if err != nil {
				t.Fatal(err)
			} else if op.Kind != asmsym.OperandImm || op.Imm != tt.want {
				t.Fatalf("%s: unexpected operand: %+v", tt.s, op)
			} else if op.Width() != 0 {
				t.Fatalf("%s: unexpected width: %d", tt.s, op.Width())
			}
		}
	})

	t.Run("Memory", func(t *testing.T) {
		op, err := asmsym.ParseOperand("qword ptr [rbx + rcx*8 - 0x10]")
		if err != nil {
			t.Fatal(err)
		} else if op.Kind != asmsym.OperandMem {
			t.Fatalf("unexpected kind: %v", op.Kind)
		}
		rbx, _ := asmsym.LookupRegister("rbx")
		rcx, _ := asmsym.LookupRegister("rcx")
		if diff := cmp.Diff(op.Mem, asmsym.MemRef{
			Base: rbx, HasBase: true,
			Index: rcx, HasIndex: true, Scale: 8,
			Disp:  -16,
			Width: 64,
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("MemoryImpliedWidth", func(t *testing.T) {
		op, err := asmsym.ParseOperand("[rsp+rdi]")
		if err != nil {
			t.Fatal(err)
		} else if op.Width() != 0 || !op.Mem.HasIndex || op.Mem.Scale != 1 {
			t.Fatalf("unexpected operand: %+v", op.Mem)
		}
	})

	t.Run("Label", func(t *testing.T) {
		op, err := asmsym.ParseOperand(".L_loop")
		if err != nil {
			t.Fatal(err)
		} else if op.Kind != asmsym.OperandLabel || op.Label != ".L_loop" {
			t.Fatalf("unexpected operand: %+v", op)
		}
	})

	t.Run("ErrInvalid", func(t *testing.T) {
		for _, s := range []string{
			"",
			"1abc",
			"[]",
			"[eax]",
			"[rax*3]",
			"[rax+rbx+rcx]",
			"fword ptr [rax]",
		} {
			if _, err := asmsym.ParseOperand(s); err == nil {
				t.Fatalf("%q: expected error", s)
			}
		}
	})
}

func TestParseMnemonic(t *testing.T) {
	for _, tt := range []struct {
		name string
		m    asmsym.Mnemonic
		c    asmsym.Condition
	}{
		{"mov", asmsym.MnemonicMOV, asmsym.CondNone},
		{"JZ", asmsym.MnemonicJcc, asmsym.CondE},
		{"jnae", asmsym.MnemonicJcc, asmsym.CondB},
		{"cmovg", asmsym.MnemonicCMOVcc, asmsym.CondG},
		{"setpe", asmsym.MnemonicSETcc, asmsym.CondP},
		{"jrcxz", asmsym.MnemonicJcc, asmsym.CondRCXZ},
		{"jmp", asmsym.MnemonicJMP, asmsym.CondNone},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m, c, ok := asmsym.ParseMnemonic(tt.name)
			if !ok {
				t.Fatal("expected mnemonic")
			} else if m != tt.m || c != tt.c {
				t.Fatalf("unexpected mnemonic: %s/%s", m, c)
			}
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		if _, _, ok := asmsym.ParseMnemonic("cpuid"); ok {
			t.Fatal("expected unknown mnemonic")
		} else if _, _, ok := asmsym.ParseMnemonic("jxx"); ok {
			t.Fatal("expected unknown condition")
		}
	})

	t.Run("Flow", func(t *testing.T) {
		for name, want := range map[string]asmsym.FlowKind{
			"add":  asmsym.FlowNext,
			"jmp":  asmsym.FlowJump,
			"jne":  asmsym.FlowCondJump,
			"loop": asmsym.FlowCondJump,
			"call": asmsym.FlowCall,
			"ret":  asmsym.FlowStop,
			"ud2":  asmsym.FlowStop,
		} {
			m, _, _ := asmsym.ParseMnemonic(name)
			if got := m.Flow(); got != want {
				t.Fatalf("%s: unexpected flow: %s", name, got)
			}
		}
	})
}

func TestFlagsReadWritten(t *testing.T) {
	if got := asmsym.FlagsRead("jbe"); got != asmsym.NewFlagSet(asmsym.CF, asmsym.ZF) {
		t.Fatalf("unexpected flags read: %s", got)
	} else if got := asmsym.FlagsRead("adc"); got != asmsym.NewFlagSet(asmsym.CF) {
		t.Fatalf("unexpected flags read: %s", got)
	} else if got := asmsym.FlagsWritten("inc"); got.Has(asmsym.CF) {
		t.Fatalf("unexpected flags written: %s", got)
	} else if got := asmsym.FlagsWritten("rol"); got != asmsym.NewFlagSet(asmsym.CF, asmsym.OF) {
		t.Fatalf("unexpected flags written: %s", got)
	} else if got := asmsym.FlagsWritten("bogus"); got != 0 {
		t.Fatalf("unexpected flags written: %s", got)
	}
}

func TestCondition_Expr(t *testing.T) {
	flag := func(f asmsym.Flag) asmsym.Expr { return asmsym.FlagSymbol(f, "k") }
	reg := func(v asmsym.RegView) asmsym.Expr {
		return asmsym.NewExtractExpr(asmsym.RegSymbol(v.Reg, "k"), v.Offset, v.Width)
	}

	// Evaluate every condition under a model with ZF set and the other flags clear.
	m := asmsym.NewModel().Bind(asmsym.RegSymbol(asmsym.RCX, "k"), 0x100000000)
	for _, f := range asmsym.Flags() {
		m.BindBool(asmsym.FlagSymbol(f, "k"), f == asmsym.ZF)
	}

	for _, tt := range []struct {
		suffix string
		want   bool
	}{
		{"E", true}, {"NE", false},
		{"B", false}, {"BE", true}, {"A", false},
		{"L", false}, {"GE", true}, {"LE", true}, {"G", false},
		{"S", false}, {"NP", true},
	} {
		c, ok := asmsym.ParseCondition(tt.suffix)
		if !ok {
			t.Fatalf("%s: unknown condition", tt.suffix)
		}
		v, err := asmsym.NewExprEvaluator(m).Evaluate(c.Expr(flag, reg))
		if err != nil {
			t.Fatal(err)
		} else if v.IsTrue() != tt.want {
			t.Fatalf("%s: unexpected value: %s", tt.suffix, v)
		}
	}

	// ECX is zero but RCX is not.
	for c, want := range map[asmsym.Condition]bool{
		asmsym.CondCXZ:  true,
		asmsym.CondECXZ: true,
		asmsym.CondRCXZ: false,
	} {
		v, err := asmsym.NewExprEvaluator(m).Evaluate(c.Expr(flag, reg))
		if err != nil {
			t.Fatal(err)
		} else if v.IsTrue() != want {
			t.Fatalf("%s: unexpected value: %s", c, v)
		}
	}
}
