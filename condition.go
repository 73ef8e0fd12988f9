package asmsym

import (
	"fmt"
	"strings"
)

// Condition is the condition code of a conditional instruction (Jcc, CMOVcc, SETcc).
type Condition int

// Condition codes. Aliases such as Z for E share a code.
const (
	CondNone Condition = iota
	CondO
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
	CondCXZ
	CondECXZ
	CondRCXZ
)

var conditionNames = [...]string{
	CondNone: "",
	CondO:    "O",
	CondNO:   "NO",
	CondB:    "B",
	CondAE:   "AE",
	CondE:    "E",
	CondNE:   "NE",
	CondBE:   "BE",
	CondA:    "A",
	CondS:    "S",
	CondNS:   "NS",
	CondP:    "P",
	CondNP:   "NP",
	CondL:    "L",
	CondGE:   "GE",
	CondLE:   "LE",
	CondG:    "G",
	CondCXZ:  "CXZ",
	CondECXZ: "ECXZ",
	CondRCXZ: "RCXZ",
}

// conditionSuffixes maps every accepted suffix, including aliases, to its code.
var conditionSuffixes = map[string]Condition{
	"O": CondO, "NO": CondNO,
	"B": CondB, "C": CondB, "NAE": CondB,
	"AE": CondAE, "NB": CondAE, "NC": CondAE,
	"E": CondE, "Z": CondE,
	"NE": CondNE, "NZ": CondNE,
	"BE": CondBE, "NA": CondBE,
	"A": CondA, "NBE": CondA,
	"S": CondS, "NS": CondNS,
	"P": CondP, "PE": CondP,
	"NP": CondNP, "PO": CondNP,
	"L": CondL, "NGE": CondL,
	"GE": CondGE, "NL": CondGE,
	"LE": CondLE, "NG": CondLE,
	"G": CondG, "NLE": CondG,
}

// String returns the canonical suffix of the condition.
func (c Condition) String() string {
	if c >= 0 && int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return fmt.Sprintf("Condition<%d>", int(c))
}

// ParseCondition returns the condition for a mnemonic suffix.
func ParseCondition(suffix string) (Condition, bool) {
	c, ok := conditionSuffixes[strings.ToUpper(suffix)]
	return c, ok
}

// FlagsRead returns the flags the condition depends on.
func (c Condition) FlagsRead() FlagSet {
	switch c {
	case CondO, CondNO:
		return NewFlagSet(OF)
	case CondB, CondAE:
		return NewFlagSet(CF)
	case CondE, CondNE:
		return NewFlagSet(ZF)
	case CondBE, CondA:
		return NewFlagSet(CF, ZF)
	case CondS, CondNS:
		return NewFlagSet(SF)
	case CondP, CondNP:
		return NewFlagSet(PF)
	case CondL, CondGE:
		return NewFlagSet(SF, OF)
	case CondLE, CondG:
		return NewFlagSet(ZF, SF, OF)
	default:
		return 0
	}
}

// Counter returns the register view a counter condition tests.
func (c Condition) Counter() (RegView, bool) {
	switch c {
	case CondCXZ:
		return LookupRegister("CX")
	case CondECXZ:
		return LookupRegister("ECX")
	case CondRCXZ:
		return LookupRegister("RCX")
	default:
		return RegView{}, false
	}
}

// Expr returns the condition as a boolean formula over the flag and register
// values supplied by flag and reg.
func (c Condition) Expr(flag func(Flag) Expr, reg func(RegView) Expr) Expr {
	not := NewNotExpr
	switch c {
	case CondO:
		return flag(OF)
	case CondNO:
		return not(flag(OF))
	case CondB:
		return flag(CF)
	case CondAE:
		return not(flag(CF))
	case CondE:
		return flag(ZF)
	case CondNE:
		return not(flag(ZF))
	case CondBE:
		return NewBinaryExpr(OR, flag(CF), flag(ZF))
	case CondA:
		return NewBinaryExpr(AND, not(flag(CF)), not(flag(ZF)))
	case CondS:
		return flag(SF)
	case CondNS:
		return not(flag(SF))
	case CondP:
		return flag(PF)
	case CondNP:
		return not(flag(PF))
	case CondL:
		return not(NewBinaryExpr(EQ, flag(SF), flag(OF)))
	case CondGE:
		return NewBinaryExpr(EQ, flag(SF), flag(OF))
	case CondLE:
		return NewBinaryExpr(OR, flag(ZF), not(NewBinaryExpr(EQ, flag(SF), flag(OF))))
	case CondG:
		return NewBinaryExpr(AND, not(flag(ZF)), NewBinaryExpr(EQ, flag(SF), flag(OF)))
	case CondCXZ, CondECXZ, CondRCXZ:
		v, _ := c.Counter()
		return NewIsZeroExpr(reg(v))
	default:
		panic(fmt.Sprintf("Condition.Expr: invalid condition: %d", int(c)))
	}
}
