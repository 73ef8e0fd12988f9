package asmsym_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/benbjohnson/asmsym"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func TestExecute(t *testing.T) {
	keys := asmsym.Keys{Prev: "p", Regular: "r", Branch: "b"}
	cfg := asmsym.NewStateConfig()

	t.Run("Empty", func(t *testing.T) {
		regular, branch := asmsym.Execute(asmsym.Line{Label: "top"}, 0, keys, cfg, nil)
		if regular == nil || !regular.IsEmpty() {
			t.Fatalf("expected empty update: %v", regular)
		} else if branch != nil {
			t.Fatal("unexpected branch update")
		} else if regular.PrevKey != "p" || regular.NextKey != "r" {
			t.Fatalf("unexpected keys: %s -> %s", regular.PrevKey, regular.NextKey)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		regular, branch := asmsym.Execute(asmsym.Line{Mnemonic: "cpuid"}, 3, keys, cfg, nil)
		if !regular.Reset {
			t.Fatal("expected reset")
		} else if branch != nil {
			t.Fatal("unexpected branch update")
		} else if got, want := regular.Message, `line 3: unsupported mnemonic "cpuid"`; got != want {
			t.Fatalf("unexpected message: %s", got)
		} else if len(regular.Regs) != len(cfg.TrackedRegs()) {
			t.Fatalf("unexpected register count: %d", len(regular.Regs))
		}

		// Every entity becomes a fresh value at the next key.
		sym, ok := regular.Regs[asmsym.RAX].(*asmsym.SymbolExpr)
		if !ok {
			t.Fatalf("unexpected RAX: %s", regular.Regs[asmsym.RAX])
		}
		if entity, key, fresh, ok := asmsym.ParseSymbolName(sym.Name); !ok || entity != "RAX" || key != "r" || !fresh {
			t.Fatalf("unexpected symbol: %s", sym.Name)
		}
	})

	t.Run("ErrArgCount", func(t *testing.T) {
		regular, branch := asmsym.Execute(asmsym.Line{Mnemonic: "mov", Args: []string{"rax"}}, 2, keys, cfg, nil)
		if !regular.Halted {
			t.Fatal("expected halt")
		} else if branch != nil {
			t.Fatal("unexpected branch update")
		} else if got, want := regular.Message, "line 2: MOV: expected 2 to 2 operands, got 1"; got != want {
			t.Fatalf("unexpected message: %s", got)
		}
	})

	t.Run("ErrOperand", func(t *testing.T) {
		regular, _ := asmsym.Execute(asmsym.Line{Mnemonic: "add", Args: []string{"rax", "[]"}}, 0, keys, cfg, nil)
		if !regular.Halted {
			t.Fatal("expected halt")
		} else if !strings.HasPrefix(regular.Message, "line 0: ADD: ") {
			t.Fatalf("unexpected message: %s", regular.Message)
		}
	})

	t.Run("ErrWidthMismatch", func(t *testing.T) {
		regular, _ := asmsym.Execute(asmsym.Line{Mnemonic: "mov", Args: []string{"rax", "ebx"}}, 0, keys, cfg, nil)
		if !regular.Halted {
			t.Fatal("expected halt")
		}
	})

	t.Run("Untracked", func(t *testing.T) {
		var cfg asmsym.StateConfig
		cfg.SetReg(asmsym.RBX, true)
		regular, _ := asmsym.Execute(asmsym.Line{Mnemonic: "add", Args: []string{"rax", "rbx"}}, 0, keys, cfg, nil)
		if len(regular.Regs) != 0 || len(regular.Flags) != 0 {
			t.Fatalf("unexpected writes:\n%s", regular)
		}
	})

	t.Run("Jcc", func(t *testing.T) {
		lines := MustParseProgram(t, "jne done\nnop\ndone:\nret\n")
		flow := asmsym.NewStaticFlow(lines)
		regular, branch := asmsym.Execute(lines[0], 0, keys, cfg, flow)
		if regular == nil || branch == nil {
			t.Fatal("expected both updates")
		}

		zf := asmsym.FlagSymbol(asmsym.ZF, "p")
		if diff := cmp.Diff(branch.Branch, &asmsym.BranchInfo{Key: "p", Condition: asmsym.NewNotExpr(zf), Line: 0, Taken: true}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(regular.Branch, &asmsym.BranchInfo{Key: "p", Condition: asmsym.NewNotExpr(zf), Line: 0}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("UnresolvedJump", func(t *testing.T) {
		lines := MustParseProgram(t, "je nowhere\nret\n")
		flow := asmsym.NewStaticFlow(lines)
		if regular, branch := asmsym.Execute(lines[0], 0, keys, cfg, flow); regular == nil {
			t.Fatal("expected regular update")
		} else if branch != nil {
			t.Fatal("unexpected branch update")
		}
	})

	t.Run("Call", func(t *testing.T) {
		lines := MustParseProgram(t, "call fn\nhlt\nfn:\nret\n")
		flow := asmsym.NewStaticFlow(lines)
		regular, branch := asmsym.Execute(lines[0], 0, keys, cfg, flow)

		// The called function sees the return address on the stack.
		if branch.Mem == nil {
			t.Fatal("expected stack write")
		} else if _, ok := branch.Regs[asmsym.RSP]; !ok {
			t.Fatal("expected stack pointer update")
		} else if _, ok := branch.Regs[asmsym.RAX]; ok {
			t.Fatal("unexpected RAX update on call edge")
		}

		// The caller sees clobbered registers once the call returns.
		if regular.Mem != nil {
			t.Fatal("unexpected stack write on return edge")
		} else if _, ok := regular.Regs[asmsym.RAX].(*asmsym.SymbolExpr); !ok {
			t.Fatalf("expected fresh RAX: %v", regular.Regs[asmsym.RAX])
		} else if _, ok := regular.Regs[asmsym.RBX]; ok {
			t.Fatal("unexpected RBX update")
		}
	})

	t.Run("Ret", func(t *testing.T) {
		if regular, branch := asmsym.Execute(asmsym.Line{Mnemonic: "ret"}, 0, keys, cfg, nil); regular != nil || branch != nil {
			t.Fatal("expected no successors")
		}
	})
}

func TestOpcodes(t *testing.T) {
	t.Run("MOV", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rax, 0x1122334455667788
	mov al, 0xff
	mov rbx, rax
	mov ah, 0
	mov rdx, rax
	mov ecx, -1
	mov eax, 1
`)
		AssertReg(t, s, asmsym.RBX, 0x11223344556677ff)
		AssertReg(t, s, asmsym.RDX, 0x11223344556600ff)
		AssertReg(t, s, asmsym.RCX, 0xffffffff)
		AssertReg(t, s, asmsym.RAX, 1)
	})

	t.Run("MOVX", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rax, 0x80
	movzx ebx, al
	movsx rcx, al
	movsx edx, al
	mov rsi, -2
	movsxd rdi, esi
`)
		AssertReg(t, s, asmsym.RBX, 0x80)
		AssertReg(t, s, asmsym.RCX, 0xffffffffffffff80)
		AssertReg(t, s, asmsym.RDX, 0xffffff80)
		AssertReg(t, s, asmsym.RDI, 0xfffffffffffffffe)
	})

	t.Run("LEA", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rbx, 0x100
	mov rcx, 2
	lea rax, [rbx + rcx*8 + 0x10]
	lea edx, [rbx - 1]
`)
		AssertReg(t, s, asmsym.RAX, 0x120)
		AssertReg(t, s, asmsym.RDX, 0xff)
	})

	t.Run("XCHG", func(t *testing.T) {
		_, s := MustRunForward(t, "mov rax, 1\nmov rbx, 2\nxchg rax, rbx\n")
		AssertReg(t, s, asmsym.RAX, 2)
		AssertReg(t, s, asmsym.RBX, 1)
	})

	t.Run("ADD", func(t *testing.T) {
		t.Run("Carry", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, -1\nadd rax, 1\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{
				asmsym.CF: true, asmsym.ZF: true, asmsym.SF: false,
				asmsym.OF: false, asmsym.AF: true, asmsym.PF: true,
			})
		})

		t.Run("Overflow", func(t *testing.T) {
			_, s := MustRunForward(t, "mov eax, 0x7fffffff\nadd eax, 1\n")
			AssertReg(t, s, asmsym.RAX, 0x80000000)
			AssertFlags(t, s, map[asmsym.Flag]bool{
				asmsym.CF: false, asmsym.ZF: false, asmsym.SF: true, asmsym.OF: true,
			})
		})

		t.Run("ADC", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, 1\nadc rax, 2\n")
			AssertReg(t, s, asmsym.RAX, 4)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false})
		})

		t.Run("ADCCarryOut", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov al, -1\nadc al, 0\n")
			AssertRegView(t, s, "AL", 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.ZF: true})
		})
	})

	t.Run("SUB", func(t *testing.T) {
		t.Run("Zero", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 5\nsub rax, 5\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.ZF: true})
		})

		t.Run("CMP", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 1\ncmp rax, 2\n")
			AssertReg(t, s, asmsym.RAX, 1)
			AssertFlags(t, s, map[asmsym.Flag]bool{
				asmsym.CF: true, asmsym.ZF: false, asmsym.SF: true, asmsym.OF: false,
			})
		})

		t.Run("SBB", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, 5\nsbb rax, 2\n")
			AssertReg(t, s, asmsym.RAX, 2)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false})
		})

		t.Run("SBBBorrowOut", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, 0\nsbb rax, 0\n")
			AssertReg(t, s, asmsym.RAX, 0xffffffffffffffff)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.SF: true})
		})
	})

	t.Run("INCDEC", func(t *testing.T) {
		t.Run("INC", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, -1\ninc rax\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.ZF: true})
		})

		t.Run("DEC", func(t *testing.T) {
			_, s := MustRunForward(t, "clc\nmov rax, 0\ndec rax\n")
			AssertReg(t, s, asmsym.RAX, 0xffffffffffffffff)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.SF: true, asmsym.ZF: false})
		})
	})

	t.Run("NEG", func(t *testing.T) {
		_, s := MustRunForward(t, "mov rax, 5\nneg rax\n")
		AssertReg(t, s, asmsym.RAX, 0xfffffffffffffffb)
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.SF: true})

		_, s = MustRunForward(t, "mov rax, 0\nneg rax\n")
		AssertReg(t, s, asmsym.RAX, 0)
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.ZF: true})
	})

	t.Run("MUL", func(t *testing.T) {
		t.Run("64", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x100000000\nmov rbx, 0x100000000\nmul rbx\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertReg(t, s, asmsym.RDX, 1)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.OF: true})
		})

		t.Run("32", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rdx, -1\nmov eax, 3\nmov ecx, 5\nmul ecx\n")
			AssertReg(t, s, asmsym.RAX, 15)
			AssertReg(t, s, asmsym.RDX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.OF: false})
		})

		t.Run("8", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x10\nmov rbx, 0x10\nmul bl\n")
			AssertReg(t, s, asmsym.RAX, 0x100)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})
		})

		t.Run("UndefinedFlags", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 1\nmov rbx, 1\nmul rbx\n")
			if IsConstant(s.Flag(asmsym.ZF)) {
				t.Fatalf("expected undefined ZF: %s", s.Flag(asmsym.ZF))
			}
		})
	})

	t.Run("IMUL", func(t *testing.T) {
		t.Run("OneOperand", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, -2\nmov rbx, 3\nimul rbx\n")
			AssertReg(t, s, asmsym.RAX, 0xfffffffffffffffa)
			AssertReg(t, s, asmsym.RDX, 0xffffffffffffffff)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.OF: false})
		})

		t.Run("TwoOperand", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x4000000000000000\nimul rax, 4\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.OF: true})
		})

		t.Run("ThreeOperand", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rbx, 7\nimul rax, rbx, 6\n")
			AssertReg(t, s, asmsym.RAX, 42)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false})
		})
	})

	t.Run("DIV", func(t *testing.T) {
		t.Run("Unsigned", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rdx, 0\nmov rax, 17\nmov rbx, 5\ndiv rbx\n")
			AssertReg(t, s, asmsym.RAX, 3)
			AssertReg(t, s, asmsym.RDX, 2)
		})

		t.Run("Signed", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rdx, -1\nmov rax, -17\nmov rbx, 5\nidiv rbx\n")
			AssertReg(t, s, asmsym.RAX, 0xfffffffffffffffd)
			AssertReg(t, s, asmsym.RDX, 0xfffffffffffffffe)
		})

		t.Run("ByZero", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rbx, 0\nmov rdx, 0\nmov rax, 17\ndiv rbx\n")
			AssertReg(t, s, asmsym.RAX, 0xffffffffffffffff)
			AssertReg(t, s, asmsym.RDX, 17)
		})
	})

	t.Run("HLT", func(t *testing.T) {
		g := MustBuildForward(t, "mov rax, 1\nhlt\nnop\n", asmsym.GraphOptions{})
		leaves := g.Leaves()
		if len(leaves) != 1 {
			t.Fatalf("unexpected leaf count: %d", len(leaves))
		} else if n := g.Node(leaves[0]); n.Line != 1 {
			t.Fatalf("unexpected leaf line: %d", n.Line)
		} else if got, want := n.Terminal, "line 1: HLT: halted"; got != want {
			t.Fatalf("unexpected terminal: %s", got)
		}
	})

	t.Run("Logic", func(t *testing.T) {
		t.Run("AND", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, 0xf0\nand rax, 0x3c\n")
			AssertReg(t, s, asmsym.RAX, 0x30)
			AssertFlags(t, s, map[asmsym.Flag]bool{
				asmsym.CF: false, asmsym.OF: false, asmsym.ZF: false, asmsym.PF: true, asmsym.SF: false,
			})
		})

		t.Run("OR", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x0f\nor rax, 0x10\n")
			AssertReg(t, s, asmsym.RAX, 0x1f)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.PF: false})
		})

		t.Run("XOR", func(t *testing.T) {
			_, s := MustRunForward(t, "xor eax, eax\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.ZF: true, asmsym.CF: false})
		})

		t.Run("TEST", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x80\ntest al, al\n")
			AssertReg(t, s, asmsym.RAX, 0x80)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.ZF: false, asmsym.SF: true})
		})

		t.Run("NOT", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0\nnot rax\nmov rbx, 0x0f\nnot bl\n")
			AssertReg(t, s, asmsym.RAX, 0xffffffffffffffff)
			AssertReg(t, s, asmsym.RBX, 0xf0)
		})

		t.Run("PXOR", func(t *testing.T) {
			_, s := MustRunForward(t, "pxor xmm1, xmm1\n")
			if diff := cmp.Diff(s.Reg(asmsym.XMM1), asmsym.Expr(asmsym.NewConstantExpr(0, asmsym.Width128))); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("BT", func(t *testing.T) {
		_, s := MustRunForward(t, "mov rax, 4\nbt rax, 2\n")
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})

		// Offsets wrap around the operand size.
		_, s = MustRunForward(t, "mov rax, 4\nbt rax, 66\n")
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})

		_, s = MustRunForward(t, "mov rax, 4\nmov rcx, 3\nbt rax, rcx\n")
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false})
	})

	t.Run("Shift", func(t *testing.T) {
		t.Run("SHL", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x81\nshl al, 1\n")
			AssertReg(t, s, asmsym.RAX, 0x02)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.OF: true, asmsym.ZF: false})
		})

		t.Run("SHR", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 0x81\nshr rax, 1\n")
			AssertReg(t, s, asmsym.RAX, 0x40)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.OF: false})
		})

		t.Run("SAR", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, -16\nmov rcx, 2\nsar rax, cl\n")
			AssertReg(t, s, asmsym.RAX, 0xfffffffffffffffc)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.SF: true})
		})

		t.Run("ZeroCount", func(t *testing.T) {
			g, s := MustRunForward(t, "mov rax, 5\nmov rcx, 0\nshl rax, cl\n")
			AssertReg(t, s, asmsym.RAX, 5)

			// CF is unconstrained; the result flags are untouched.
			if sym, ok := s.Flag(asmsym.CF).(*asmsym.SymbolExpr); !ok {
				t.Fatalf("expected fresh CF: %s", s.Flag(asmsym.CF))
			} else if _, _, fresh, _ := asmsym.ParseSymbolName(sym.Name); !fresh {
				t.Fatalf("expected fresh CF: %s", sym.Name)
			}
			if diff := cmp.Diff(s.Flag(asmsym.ZF), asmsym.Expr(asmsym.FlagSymbol(asmsym.ZF, g.RootKey))); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("CountMasked", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 1\nshl rax, 65\n")
			AssertReg(t, s, asmsym.RAX, 2)
		})
	})

	t.Run("Rotate", func(t *testing.T) {
		t.Run("ROL", func(t *testing.T) {
			g, s := MustRunForward(t, "mov rax, 0x8000000000000001\nrol rax, 1\n")
			AssertReg(t, s, asmsym.RAX, 3)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true, asmsym.OF: true})

			// Rotates only write CF and OF.
			if diff := cmp.Diff(s.Flag(asmsym.ZF), asmsym.Expr(asmsym.FlagSymbol(asmsym.ZF, g.RootKey))); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("ROR", func(t *testing.T) {
			_, s := MustRunForward(t, "mov rax, 1\nror rax, 1\n")
			AssertReg(t, s, asmsym.RAX, 0x8000000000000000)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})
		})

		t.Run("RCL", func(t *testing.T) {
			_, s := MustRunForward(t, "stc\nmov rax, 0x80\nrcl al, 1\n")
			AssertReg(t, s, asmsym.RAX, 1)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})
		})

		t.Run("RCR", func(t *testing.T) {
			_, s := MustRunForward(t, "clc\nmov rax, 1\nrcr al, 1\n")
			AssertReg(t, s, asmsym.RAX, 0)
			AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: true})
		})
	})

	t.Run("CMOVcc", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rax, 1
	cmp rax, 1
	mov rbx, 7
	mov rcx, 9
	mov rdx, 11
	cmove rbx, rcx
	cmovne rcx, rdx
`)
		AssertReg(t, s, asmsym.RBX, 9)
		AssertReg(t, s, asmsym.RCX, 9)
	})

	t.Run("SETcc", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rax, 1
	cmp rax, 2
	mov rsi, 0xff00
	mov rdi, 0xff00
	setb sil
	setg dil
`)
		AssertReg(t, s, asmsym.RSI, 0xff01)
		AssertReg(t, s, asmsym.RDI, 0xff00)
	})

	t.Run("Flags", func(t *testing.T) {
		_, s := MustRunForward(t, "stc\ncmc\nstd\n")
		AssertFlags(t, s, map[asmsym.Flag]bool{asmsym.CF: false, asmsym.DF: true})
	})

	t.Run("Stack", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rsp, 0x1000
	mov rax, 7
	push rax
	push 9
	pop rbx
	pop rcx
`)
		AssertReg(t, s, asmsym.RBX, 9)
		AssertReg(t, s, asmsym.RCX, 7)
		AssertReg(t, s, asmsym.RSP, 0x1000)
		if diff := cmp.Diff(s.ReadMem(asmsym.NewConstantExpr64(0xff8), 64), asmsym.Expr(asmsym.NewConstantExpr64(7))); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Memory", func(t *testing.T) {
		_, s := MustRunForward(t, `
	mov rbx, 0x2000
	mov dword ptr [rbx + 4], 0x11223344
	mov al, byte ptr [rbx + 5]
	movzx ecx, word ptr [rbx + 6]
`)
		AssertRegView(t, s, "AL", 0x33)
		AssertReg(t, s, asmsym.RCX, 0x1122)
	})

	t.Run("LOOP", func(t *testing.T) {
		g := MustBuildForward(t, `
	mov rcx, 3
	xor eax, eax
top:
	inc rax
	loop top
`, asmsym.GraphOptions{})

		// Only the path that exits after three iterations is consistent.
		states := g.StatesAt(g.Flow.N())
		var n int
		for _, s := range states {
			if !s.IsTriviallyInconsistent() {
				AssertReg(t, s, asmsym.RAX, 3)
				AssertReg(t, s, asmsym.RCX, 0)
				n++
			}
		}
		if n != 1 {
			t.Fatalf("unexpected exit count: %d", n)
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		g, s := MustRunForward(t, "add rax, rbx\nsetc dl\n")
		m := asmsym.NewModel().
			Bind(asmsym.RegSymbol(asmsym.RAX, g.RootKey), 0xfffffffffffffffe).
			Bind(asmsym.RegSymbol(asmsym.RBX, g.RootKey), 3).
			Bind(asmsym.RegSymbol(asmsym.RDX, g.RootKey), 0)

		if v, err := asmsym.NewExprEvaluator(m).Evaluate(s.Reg(asmsym.RAX)); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("unexpected RAX: %s", v)
		}
		if v, err := asmsym.NewExprEvaluator(m).Evaluate(s.Reg(asmsym.RDX)); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("unexpected RDX: %s", v)
		}
	})
}

func TestArithmeticFlags(t *testing.T) {
	t.Run("CreateCFAdd", func(t *testing.T) {
		for _, w := range []uint{8, 16, 32, 64} {
			a, b := asmsym.NewSymbolExpr("a", w), asmsym.NewSymbolExpr("b", w)
			cf, max := asmsym.CreateCFAdd(a, b), MaxUint(w)
			for _, tt := range []struct {
				a, b uint64
				want bool
			}{
				{a: max, b: 1, want: true},
				{a: max, b: max, want: true},
				{a: max, b: 0, want: false},
				{a: max - 1, b: 1, want: false},
				{a: 1, b: 1, want: false},
			} {
				if v := MustEvaluate(t, asmsym.NewModel().Bind(a, tt.a).Bind(b, tt.b), cf); (v == 1) != tt.want {
					t.Fatalf("width=%d a=%#x b=%#x: unexpected CF: %d", w, tt.a, tt.b, v)
				}
			}
		}
	})

	t.Run("CreateOFAdd", func(t *testing.T) {
		for _, w := range []uint{8, 16, 32, 64} {
			a, b := asmsym.NewSymbolExpr("a", w), asmsym.NewSymbolExpr("b", w)
			of := asmsym.CreateOFAdd(a, b, asmsym.NewBinaryExpr(asmsym.ADD, a, b))
			max := MaxUint(w)
			maxInt, minInt := max>>1, max>>1+1
			for _, tt := range []struct {
				a, b uint64
				want bool
			}{
				{a: maxInt, b: 1, want: true},
				{a: minInt, b: max, want: true},
				{a: 1, b: 1, want: false},
				{a: max, b: 1, want: false},
				{a: maxInt, b: 0, want: false},
			} {
				if v := MustEvaluate(t, asmsym.NewModel().Bind(a, tt.a).Bind(b, tt.b), of); (v == 1) != tt.want {
					t.Fatalf("width=%d a=%#x b=%#x: unexpected OF: %d", w, tt.a, tt.b, v)
				}
			}
		}
	})

	// RBX is unknown, so the flags are formulas over its initial value.
	t.Run("AddSymbolic", func(t *testing.T) {
		g, s := MustRunForward(t, "mov rax, rbx\nadd rax, 1\n")
		rbx := asmsym.RegSymbol(asmsym.RBX, g.RootKey)
		for _, tt := range []struct {
			rbx, rax uint64
			cf, of   bool
		}{
			{rbx: MaxUint(64), rax: 0, cf: true},
			{rbx: 1<<63 - 1, rax: 1 << 63, of: true},
			{rbx: 0, rax: 1},
			{rbx: 1 << 63, rax: 1<<63 + 1},
			{rbx: MaxUint(64) - 1, rax: MaxUint(64)},
		} {
			m := asmsym.NewModel().Bind(rbx, tt.rbx)
			if v := MustEvaluate(t, m, s.Reg(asmsym.RAX)); v != tt.rax {
				t.Fatalf("RBX=%#x: unexpected RAX: %#x", tt.rbx, v)
			} else if v := MustEvaluate(t, m, s.Flag(asmsym.CF)); (v == 1) != tt.cf {
				t.Fatalf("RBX=%#x: unexpected CF: %d", tt.rbx, v)
			} else if v := MustEvaluate(t, m, s.Flag(asmsym.OF)); (v == 1) != tt.of {
				t.Fatalf("RBX=%#x: unexpected OF: %d", tt.rbx, v)
			}
		}
	})

	t.Run("ShiftZeroCount", func(t *testing.T) {
		for _, op := range []asmsym.ShiftOp{asmsym.ShiftSHL, asmsym.ShiftSHR, asmsym.ShiftSAR, asmsym.ShiftROL, asmsym.ShiftROR} {
			for _, w := range []uint{32, 64} {
				value, count := asmsym.NewSymbolExpr("v", w), asmsym.NewSymbolExpr("c", asmsym.Width8)
				fresh := asmsym.NewSymbolExpr(asmsym.FreshName("CF", "k"), asmsym.WidthBool)
				r := asmsym.Shift(op, value, count, "k")

				// A count equal to the width masks to zero.
				for _, c := range []uint64{0, uint64(w)} {
					for _, v := range []uint64{0, 1, 0x80000001, MaxUint(w)} {
						for _, cf := range []bool{true, false} {
							m := asmsym.NewModel().Bind(value, v).Bind(count, c).BindBool(fresh, cf)
							if got := MustEvaluate(t, m, r.Result); got != v {
								t.Fatalf("%s/%d count=%d v=%#x: unexpected result: %#x", op, w, c, v, got)
							} else if got := MustEvaluate(t, m, r.CF); (got == 1) != cf {
								t.Fatalf("%s/%d count=%d v=%#x: CF does not follow the fresh symbol", op, w, c, v)
							}
						}
					}
				}
			}
		}
	})

	t.Run("IncDecRoundTrip", func(t *testing.T) {
		for _, program := range []string{
			"inc rax\ndec rax\n",
			"dec rax\ninc rax\n",
			"inc al\ndec al\n",
			"dec eax\ninc eax\n",
		} {
			g, s := MustRunForward(t, program)
			rax := asmsym.RegSymbol(asmsym.RAX, g.RootKey)
			for _, v := range []uint64{0, 1, 0xff, 1<<63 - 1, MaxUint(64)} {
				want := v
				if strings.Contains(program, "eax") {
					want = v & MaxUint(32)
				}
				if got := MustEvaluate(t, asmsym.NewModel().Bind(rax, v), s.Reg(asmsym.RAX)); got != want {
					t.Fatalf("%q: RAX=%#x: got %#x", program, v, got)
				}
			}

			// CF is not touched by either instruction.
			if diff := cmp.Diff(s.Flag(asmsym.CF), asmsym.Expr(asmsym.FlagSymbol(asmsym.CF, g.RootKey))); diff != "" {
				t.Fatalf("%q: %s", program, diff)
			}
		}
	})
}

// MaxUint returns the largest unsigned value of width w, up to 64 bits.
func MaxUint(w uint) uint64 {
	return ^uint64(0) >> (64 - w)
}

// NewTestLogger returns a logger that discards its output.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MustBuildForward parses a program and unrolls it forward from its first line.
func MustBuildForward(tb testing.TB, s string, opts asmsym.GraphOptions) *asmsym.ExecutionGraph {
	tb.Helper()
	if opts.Logger == nil {
		opts.Logger = NewTestLogger()
	}
	g, err := asmsym.BuildForward(context.Background(), asmsym.NewStaticFlow(MustParseProgram(tb, s)), 0, opts)
	if err != nil {
		tb.Fatal(err)
	}
	return g
}

// MustRunForward executes a program with a single path, tracking every
// entity, and returns the graph and the state at the end of the program.
func MustRunForward(tb testing.TB, s string) (*asmsym.ExecutionGraph, *asmsym.State) {
	tb.Helper()
	g := MustBuildForward(tb, s, asmsym.GraphOptions{})
	leaves := g.Leaves()
	if len(leaves) != 1 {
		tb.Fatalf("unexpected leaf count: %d\n%s", len(leaves), g)
	} else if n := g.Node(leaves[0]); n.Terminal != asmsym.TerminalEnd {
		tb.Fatalf("unexpected terminal at line %d: %s", n.Line, n.Terminal)
	}
	return g, g.StateOf(leaves[0])
}

// IsConstant returns true if expr folded to a constant.
func IsConstant(expr asmsym.Expr) bool {
	_, ok := expr.(*asmsym.ConstantExpr)
	return ok
}

// AssertReg fails if a register is not the given constant.
func AssertReg(tb testing.TB, s *asmsym.State, r asmsym.Reg, want uint64) {
	tb.Helper()
	if c, ok := s.Reg(r).(*asmsym.ConstantExpr); !ok {
		tb.Fatalf("%s: expected constant: %s", r, s.Reg(r))
	} else if c.Uint64() != want {
		tb.Fatalf("%s=%#x, expected %#x", r, c.Uint64(), want)
	}
}

// AssertRegView fails if a named sub-register is not the given constant.
func AssertRegView(tb testing.TB, s *asmsym.State, name string, want uint64) {
	tb.Helper()
	v, ok := asmsym.LookupRegister(name)
	if !ok {
		tb.Fatalf("unknown register: %s", name)
	}
	if c, ok := s.RegView(v).(*asmsym.ConstantExpr); !ok {
		tb.Fatalf("%s: expected constant: %s", name, s.RegView(v))
	} else if c.Uint64() != want {
		tb.Fatalf("%s=%#x, expected %#x", name, c.Uint64(), want)
	}
}

// AssertFlags fails if any of the given flags is not the expected constant.
func AssertFlags(tb testing.TB, s *asmsym.State, want map[asmsym.Flag]bool) {
	tb.Helper()
	for f, v := range want {
		if c, ok := s.Flag(f).(*asmsym.ConstantExpr); !ok {
			tb.Fatalf("%s: expected constant: %s", f, s.Flag(f))
		} else if c.IsTrue() != v {
			tb.Fatalf("%s=%v, expected %v", f, c.IsTrue(), v)
		}
	}
}
