package asmsym

import (
	"fmt"
	"strconv"
	"strings"
)

// OperandKind identifies the form of an instruction operand.
type OperandKind int

// Operand kinds.
const (
	OperandReg OperandKind = iota + 1
	OperandImm
	OperandMem
	OperandLabel
)

// Operand is a parsed instruction operand.
type Operand struct {
	Kind  OperandKind
	Reg   RegView
	Imm   uint64 // two's complement
	Mem   MemRef
	Label string
	Text  string
}

// MemRef is a memory reference: [base + index*scale + disp].
type MemRef struct {
	Base     RegView
	HasBase  bool
	Index    RegView
	HasIndex bool
	Scale    uint64
	Disp     int64
	Width    uint // zero if the size is implied by the other operand
}

// Width returns the operand width in bits, or zero if the operand does not
// determine its own width.
func (op Operand) Width() uint {
	switch op.Kind {
	case OperandReg:
		return op.Reg.Width
	case OperandMem:
		return op.Mem.Width
	default:
		return 0
	}
}

// String returns the operand text.
func (op Operand) String() string {
	return op.Text
}

var ptrWidths = map[string]uint{
	"BYTE":    Width8,
	"WORD":    Width16,
	"DWORD":   Width32,
	"QWORD":   Width64,
	"XMMWORD": Width128,
	"OWORD":   Width128,
}

// ParseOperand parses an Intel syntax operand.
func ParseOperand(s string) (Operand, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Operand{}, fmt.Errorf("empty operand")
	}
	op := Operand{Text: text}

	if v, ok := LookupRegister(text); ok {
		op.Kind, op.Reg = OperandReg, v
		return op, nil
	}

	if imm, ok := parseImmediate(text); ok {
		op.Kind, op.Imm = OperandImm, imm
		return op, nil
	}

	if strings.Contains(text, "[") {
		mem, err := parseMemRef(text)
		if err != nil {
			return Operand{}, err
		}
		op.Kind, op.Mem = OperandMem, mem
		return op, nil
	}

	if !isLabel(text) {
		return Operand{}, fmt.Errorf("invalid operand: %q", text)
	}
	op.Kind, op.Label = OperandLabel, text
	return op, nil
}

// parseImmediate parses decimal, 0x-prefixed or h-suffixed hexadecimal and
// negative numbers.
func parseImmediate(s string) (uint64, bool) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg, s = true, strings.TrimSpace(s[1:])
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return 0, false
	}

	var v uint64
	var err error
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err = strconv.ParseUint(lower[2:], 16, 64)
	case strings.HasSuffix(lower, "h") && lower[0] >= '0' && lower[0] <= '9':
		v, err = strconv.ParseUint(lower[:len(lower)-1], 16, 64)
	case strings.HasPrefix(lower, "0b"):
		v, err = strconv.ParseUint(lower[2:], 2, 64)
	default:
		v, err = strconv.ParseUint(lower, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func parseMemRef(s string) (MemRef, error) {
	var mem MemRef

	lb, rb := strings.Index(s, "["), strings.LastIndex(s, "]")
	if lb < 0 || rb < lb {
		return mem, fmt.Errorf("invalid memory operand: %q", s)
	}

	// Size prefix such as "qword ptr".
	prefix := strings.Fields(strings.ToUpper(s[:lb]))
	if len(prefix) > 0 {
		w, ok := ptrWidths[prefix[0]]
		if !ok || (len(prefix) > 1 && prefix[1] != "PTR") || len(prefix) > 2 {
			return mem, fmt.Errorf("invalid memory operand size: %q", s)
		}
		mem.Width = w
	}

	// Split "base + index*scale - disp" into signed terms.
	body := strings.ReplaceAll(s[lb+1:rb], " ", "")
	if body == "" {
		return mem, fmt.Errorf("empty memory operand: %q", s)
	}
	body = strings.ReplaceAll(body, "-", "+-")
	for _, term := range strings.Split(body, "+") {
		if term == "" {
			continue
		}
		if err := mem.addTerm(term); err != nil {
			return mem, fmt.Errorf("invalid memory operand %q: %s", s, err)
		}
	}
	return mem, nil
}

func (mem *MemRef) addTerm(term string) error {
	if v, ok := parseImmediate(term); ok {
		mem.Disp += int64(v)
		return nil
	}

	if i := strings.Index(term, "*"); i >= 0 {
		name, scaleText := term[:i], term[i+1:]
		if _, ok := LookupRegister(name); !ok {
			name, scaleText = scaleText, name
		}
		v, ok := LookupRegister(name)
		if !ok || v.Width != Width64 || v.Reg.IsSIMD() {
			return fmt.Errorf("invalid index register: %q", term)
		}
		scale, ok := parseImmediate(scaleText)
		if !ok || (scale != 1 && scale != 2 && scale != 4 && scale != 8) {
			return fmt.Errorf("invalid scale: %q", term)
		} else if mem.HasIndex {
			return fmt.Errorf("duplicate index register: %q", term)
		}
		mem.Index, mem.HasIndex, mem.Scale = v, true, scale
		return nil
	}

	v, ok := LookupRegister(term)
	if !ok || v.Width != Width64 || v.Reg.IsSIMD() {
		return fmt.Errorf("invalid register: %q", term)
	}
	switch {
	case !mem.HasBase:
		mem.Base, mem.HasBase = v, true
	case !mem.HasIndex:
		mem.Index, mem.HasIndex, mem.Scale = v, true, 1
	default:
		return fmt.Errorf("too many registers: %q", term)
	}
	return nil
}

// isLabel returns true if s is a valid label identifier.
func isLabel(s string) bool {
	for i, ch := range s {
		switch {
		case ch == '_' || ch == '.' || ch == '$' || ch == '@':
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		case ch == '!' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
