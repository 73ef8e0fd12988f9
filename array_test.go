package asmsym_test

import (
	"testing"

	"github.com/benbjohnson/asmsym"
	"github.com/google/go-cmp/cmp"
)

func TestArray(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		t.Run("LittleEndian", func(t *testing.T) {
			a := asmsym.NewArray("a")
			a = a.Store(asmsym.NewConstantExpr(0, 32), asmsym.NewConstantExpr32(0xAABBCCDD))
			if expr, ok := a.Select(asmsym.NewConstantExpr(0, 32), 32).(*asmsym.ConstantExpr); !ok {
				t.Fatal("expected constant expr")
			} else if expr.Uint64() != 0xAABBCCDD {
				t.Fatalf("unexpected value: %#x", expr.Uint64())
			}
			if expr, ok := a.Select(asmsym.NewConstantExpr64(0), 8).(*asmsym.ConstantExpr); !ok {
				t.Fatal("expected constant expr")
			} else if expr.Uint64() != 0xDD {
				t.Fatalf("unexpected first byte: %#x", expr.Uint64())
			}
			if expr, ok := a.Select(asmsym.NewConstantExpr64(3), 8).(*asmsym.ConstantExpr); !ok {
				t.Fatal("expected constant expr")
			} else if expr.Uint64() != 0xAA {
				t.Fatalf("unexpected last byte: %#x", expr.Uint64())
			}
		})

		t.Run("Overwrite", func(t *testing.T) {
			a := asmsym.NewArray("a")
			a = a.Store(asmsym.NewConstantExpr64(1), asmsym.NewConstantExpr8(1))
			a = a.Store(asmsym.NewConstantExpr64(2), asmsym.NewConstantExpr8(2))
			a = a.Store(asmsym.NewConstantExpr64(1), asmsym.NewConstantExpr8(3))

			// Earlier write to the same index is dropped.
			if n := len(a.UpdateList()); n != 2 {
				t.Fatalf("unexpected update count: %d", n)
			} else if expr := a.Select(asmsym.NewConstantExpr64(1), 8); !cmp.Equal(expr, asmsym.Expr(asmsym.NewConstantExpr8(3))) {
				t.Fatalf("unexpected value: %s", expr)
			}
		})
	})

	t.Run("Symbolic", func(t *testing.T) {
		t.Run("Empty", func(t *testing.T) {
			t.Run("SingleByte", func(t *testing.T) {
				a := asmsym.NewArray("a")
				if diff := cmp.Diff(
					a.Select(asmsym.NewConstantExpr64(0), 8),
					asmsym.Expr(&asmsym.SelectExpr{
						Array: a,
						Index: asmsym.NewConstantExpr64(0),
					}),
				); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("Word", func(t *testing.T) {
				a := asmsym.NewArray("a")
				if diff := cmp.Diff(
					a.Select(asmsym.NewConstantExpr64(2), 16),
					asmsym.Expr(&asmsym.ConcatExpr{
						MSB: &asmsym.SelectExpr{Array: a, Index: asmsym.NewConstantExpr64(3)},
						LSB: &asmsym.SelectExpr{Array: a, Index: asmsym.NewConstantExpr64(2)},
					}),
				); diff != "" {
					t.Fatal(diff)
				}
			})
		})

		t.Run("SymbolicIndex", func(t *testing.T) {
			x := asmsym.NewSymbolExpr("x", 64)
			a := asmsym.NewArray("mem")
			a = a.Store(asmsym.NewConstantExpr64(8), asmsym.NewConstantExpr8(0xFF))

			// Reading through a concrete write at an unknown address cannot
			// be resolved.
			if diff := cmp.Diff(a.Select(x, 8), asmsym.Expr(&asmsym.SelectExpr{Array: a, Index: x})); diff != "" {
				t.Fatal(diff)
			}

			// Reading back the symbolic address resolves to the stored value.
			a = a.Store(x, asmsym.NewConstantExpr8(0x11))
			if diff := cmp.Diff(a.Select(x, 8), asmsym.Expr(asmsym.NewConstantExpr8(0x11))); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Copy", func(t *testing.T) {
			a := asmsym.NewArray("a")
			b := a.Store(asmsym.NewConstantExpr64(0), asmsym.NewConstantExpr8(1))
			if a.Updates != nil {
				t.Fatal("expected original array to be unchanged")
			} else if b.Updates == nil {
				t.Fatal("expected update on copy")
			}
		})
	})
}

func TestArray_String(t *testing.T) {
	a := asmsym.NewArray("mem")
	if s := a.String(); s != "mem" {
		t.Fatalf("unexpected string: %s", s)
	}
	a = a.Store(asmsym.NewConstantExpr64(0), asmsym.NewConstantExpr16(0))
	if s := a.String(); s != "(array mem +2)" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestCompareArray(t *testing.T) {
	a := asmsym.NewArray("a").Store(asmsym.NewConstantExpr64(0), asmsym.NewConstantExpr8(1))
	b := asmsym.NewArray("a").Store(asmsym.NewConstantExpr64(0), asmsym.NewConstantExpr8(1))
	if v := asmsym.CompareArray(a, b); v != 0 {
		t.Fatalf("unexpected comparison: %d", v)
	} else if v := asmsym.CompareArray(a, asmsym.NewArray("b")); v != -1 {
		t.Fatalf("unexpected comparison: %d", v)
	} else if v := asmsym.CompareArray(nil, a); v != -1 {
		t.Fatalf("unexpected comparison: %d", v)
	}
}
