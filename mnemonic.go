package asmsym

import (
	"fmt"
	"strings"
)

// Mnemonic identifies an instruction family. Conditional families (Jcc,
// CMOVcc, SETcc) are a single mnemonic paired with a Condition.
type Mnemonic int

// Supported mnemonics.
const (
	MnemonicNone Mnemonic = iota

	// Data movement.
	MnemonicMOV
	MnemonicMOVZX
	MnemonicMOVSX
	MnemonicMOVSXD
	MnemonicLEA
	MnemonicXCHG
	MnemonicPUSH
	MnemonicPOP
	MnemonicCMOVcc
	MnemonicSETcc
	MnemonicMOVDQA
	MnemonicMOVDQU
	MnemonicMOVAPS
	MnemonicMOVUPS

	// Arithmetic.
	MnemonicADD
	MnemonicADC
	MnemonicSUB
	MnemonicSBB
	MnemonicINC
	MnemonicDEC
	MnemonicNEG
	MnemonicCMP
	MnemonicMUL
	MnemonicIMUL
	MnemonicDIV
	MnemonicIDIV

	// Logic.
	MnemonicAND
	MnemonicOR
	MnemonicXOR
	MnemonicNOT
	MnemonicTEST
	MnemonicBT
	MnemonicPAND
	MnemonicPOR
	MnemonicPXOR

	// Shifts and rotates.
	MnemonicSHL
	MnemonicSAL
	MnemonicSHR
	MnemonicSAR
	MnemonicROL
	MnemonicROR
	MnemonicRCL
	MnemonicRCR

	// Flags.
	MnemonicCLC
	MnemonicSTC
	MnemonicCMC
	MnemonicCLD
	MnemonicSTD

	// Control flow.
	MnemonicJMP
	MnemonicJcc
	MnemonicLOOP
	MnemonicLOOPE
	MnemonicLOOPNE
	MnemonicCALL
	MnemonicRET
	MnemonicHLT
	MnemonicUD2
	MnemonicNOP

	mnemonicN
)

// FlowKind describes the successors an instruction has.
type FlowKind int

// Flow kinds.
const (
	FlowNext     FlowKind = iota // fallthrough only
	FlowJump                     // branch target only
	FlowCondJump                 // fallthrough and branch target
	FlowCall                     // fallthrough and call target
	FlowStop                     // no successor
)

// String returns the name of the flow kind.
func (k FlowKind) String() string {
	switch k {
	case FlowNext:
		return "next"
	case FlowJump:
		return "jump"
	case FlowCondJump:
		return "condjump"
	case FlowCall:
		return "call"
	case FlowStop:
		return "stop"
	default:
		return fmt.Sprintf("FlowKind<%d>", int(k))
	}
}

// HasRegular returns true if the kind has a fallthrough successor.
func (k FlowKind) HasRegular() bool {
	return k == FlowNext || k == FlowCondJump || k == FlowCall
}

// HasBranch returns true if the kind has a branch successor.
func (k FlowKind) HasBranch() bool {
	return k == FlowJump || k == FlowCondJump || k == FlowCall
}

// mnemonicDef is the static description of a mnemonic.
type mnemonicDef struct {
	Name         string
	Flow         FlowKind
	MinArgs      int
	MaxArgs      int
	Reads        FlagSet // excluding the flags read by a condition code
	Writes       FlagSet
	ImplicitRegs []Reg
	Stack        bool
	Handler      OpcodeFunc
}

// mnemonicDefs is indexed by Mnemonic.
var mnemonicDefs [mnemonicN]mnemonicDef

// mnemonicNames maps an upper-case name to its mnemonic.
var mnemonicNames = make(map[string]Mnemonic)

// Prefixes of conditional families, matched after exact names.
var conditionalPrefixes = []struct {
	prefix   string
	mnemonic Mnemonic
}{
	{"CMOV", MnemonicCMOVcc},
	{"SET", MnemonicSETcc},
	{"J", MnemonicJcc},
}

func init() {
	arith := ArithmeticFlags
	noCF := ArithmeticFlags.Without(CF)
	shift := ArithmeticFlags
	keep := NewFlagSet(SF, ZF, PF, AF)
	rot := NewFlagSet(CF, OF)
	counter := []Reg{RCX}

	mnemonicDefs = [mnemonicN]mnemonicDef{
		MnemonicMOV:    {Name: "MOV", MinArgs: 2, MaxArgs: 2, Handler: opMOV},
		MnemonicMOVZX:  {Name: "MOVZX", MinArgs: 2, MaxArgs: 2, Handler: opMOVX},
		MnemonicMOVSX:  {Name: "MOVSX", MinArgs: 2, MaxArgs: 2, Handler: opMOVX},
		MnemonicMOVSXD: {Name: "MOVSXD", MinArgs: 2, MaxArgs: 2, Handler: opMOVX},
		MnemonicLEA:    {Name: "LEA", MinArgs: 2, MaxArgs: 2, Handler: opLEA},
		MnemonicXCHG:   {Name: "XCHG", MinArgs: 2, MaxArgs: 2, Handler: opXCHG},
		MnemonicPUSH:   {Name: "PUSH", MinArgs: 1, MaxArgs: 1, Stack: true, Handler: opPUSH},
		MnemonicPOP:    {Name: "POP", MinArgs: 1, MaxArgs: 1, Stack: true, Handler: opPOP},
		MnemonicCMOVcc: {Name: "CMOVcc", MinArgs: 2, MaxArgs: 2, Handler: opCMOVcc},
		MnemonicSETcc:  {Name: "SETcc", MinArgs: 1, MaxArgs: 1, Handler: opSETcc},
		MnemonicMOVDQA: {Name: "MOVDQA", MinArgs: 2, MaxArgs: 2, Handler: opMOV},
		MnemonicMOVDQU: {Name: "MOVDQU", MinArgs: 2, MaxArgs: 2, Handler: opMOV},
		MnemonicMOVAPS: {Name: "MOVAPS", MinArgs: 2, MaxArgs: 2, Handler: opMOV},
		MnemonicMOVUPS: {Name: "MOVUPS", MinArgs: 2, MaxArgs: 2, Handler: opMOV},

		MnemonicADD:  {Name: "ADD", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opADD},
		MnemonicADC:  {Name: "ADC", MinArgs: 2, MaxArgs: 2, Reads: NewFlagSet(CF), Writes: arith, Handler: opADD},
		MnemonicSUB:  {Name: "SUB", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opSUB},
		MnemonicSBB:  {Name: "SBB", MinArgs: 2, MaxArgs: 2, Reads: NewFlagSet(CF), Writes: arith, Handler: opSUB},
		MnemonicINC:  {Name: "INC", MinArgs: 1, MaxArgs: 1, Writes: noCF, Handler: opINCDEC},
		MnemonicDEC:  {Name: "DEC", MinArgs: 1, MaxArgs: 1, Writes: noCF, Handler: opINCDEC},
		MnemonicNEG:  {Name: "NEG", MinArgs: 1, MaxArgs: 1, Writes: arith, Handler: opNEG},
		MnemonicCMP:  {Name: "CMP", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opSUB},
		MnemonicMUL:  {Name: "MUL", MinArgs: 1, MaxArgs: 1, Writes: arith, ImplicitRegs: []Reg{RAX, RDX}, Handler: opMUL},
		MnemonicIMUL: {Name: "IMUL", MinArgs: 1, MaxArgs: 3, Writes: arith, ImplicitRegs: []Reg{RAX, RDX}, Handler: opIMUL},
		MnemonicDIV:  {Name: "DIV", MinArgs: 1, MaxArgs: 1, Writes: arith, ImplicitRegs: []Reg{RAX, RDX}, Handler: opDIV},
		MnemonicIDIV: {Name: "IDIV", MinArgs: 1, MaxArgs: 1, Writes: arith, ImplicitRegs: []Reg{RAX, RDX}, Handler: opDIV},

		MnemonicAND:  {Name: "AND", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opLogic},
		MnemonicOR:   {Name: "OR", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opLogic},
		MnemonicXOR:  {Name: "XOR", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opLogic},
		MnemonicNOT:  {Name: "NOT", MinArgs: 1, MaxArgs: 1, Handler: opNOT},
		MnemonicTEST: {Name: "TEST", MinArgs: 2, MaxArgs: 2, Writes: arith, Handler: opLogic},
		MnemonicBT:   {Name: "BT", MinArgs: 2, MaxArgs: 2, Writes: NewFlagSet(CF), Handler: opBT},
		MnemonicPAND: {Name: "PAND", MinArgs: 2, MaxArgs: 2, Handler: opPLogic},
		MnemonicPOR:  {Name: "POR", MinArgs: 2, MaxArgs: 2, Handler: opPLogic},
		MnemonicPXOR: {Name: "PXOR", MinArgs: 2, MaxArgs: 2, Handler: opPLogic},

		MnemonicSHL: {Name: "SHL", MinArgs: 1, MaxArgs: 2, Reads: keep, Writes: shift, Handler: opShift},
		MnemonicSAL: {Name: "SAL", MinArgs: 1, MaxArgs: 2, Reads: keep, Writes: shift, Handler: opShift},
		MnemonicSHR: {Name: "SHR", MinArgs: 1, MaxArgs: 2, Reads: keep, Writes: shift, Handler: opShift},
		MnemonicSAR: {Name: "SAR", MinArgs: 1, MaxArgs: 2, Reads: keep, Writes: shift, Handler: opShift},
		MnemonicROL: {Name: "ROL", MinArgs: 1, MaxArgs: 2, Writes: rot, Handler: opShift},
		MnemonicROR: {Name: "ROR", MinArgs: 1, MaxArgs: 2, Writes: rot, Handler: opShift},
		MnemonicRCL: {Name: "RCL", MinArgs: 1, MaxArgs: 2, Reads: NewFlagSet(CF), Writes: rot, Handler: opShift},
		MnemonicRCR: {Name: "RCR", MinArgs: 1, MaxArgs: 2, Reads: NewFlagSet(CF), Writes: rot, Handler: opShift},

		MnemonicCLC: {Name: "CLC", Writes: NewFlagSet(CF), Handler: opFlag},
		MnemonicSTC: {Name: "STC", Writes: NewFlagSet(CF), Handler: opFlag},
		MnemonicCMC: {Name: "CMC", Reads: NewFlagSet(CF), Writes: NewFlagSet(CF), Handler: opFlag},
		MnemonicCLD: {Name: "CLD", Writes: NewFlagSet(DF), Handler: opFlag},
		MnemonicSTD: {Name: "STD", Writes: NewFlagSet(DF), Handler: opFlag},

		MnemonicJMP:    {Name: "JMP", Flow: FlowJump, MinArgs: 1, MaxArgs: 1, Handler: opJMP},
		MnemonicJcc:    {Name: "Jcc", Flow: FlowCondJump, MinArgs: 1, MaxArgs: 1, Handler: opJcc},
		MnemonicLOOP:   {Name: "LOOP", Flow: FlowCondJump, MinArgs: 1, MaxArgs: 1, ImplicitRegs: counter, Handler: opLOOP},
		MnemonicLOOPE:  {Name: "LOOPE", Flow: FlowCondJump, MinArgs: 1, MaxArgs: 1, Reads: NewFlagSet(ZF), ImplicitRegs: counter, Handler: opLOOP},
		MnemonicLOOPNE: {Name: "LOOPNE", Flow: FlowCondJump, MinArgs: 1, MaxArgs: 1, Reads: NewFlagSet(ZF), ImplicitRegs: counter, Handler: opLOOP},
		MnemonicCALL:   {Name: "CALL", Flow: FlowCall, MinArgs: 1, MaxArgs: 1, Writes: AllFlags, Stack: true, Handler: opCALL},
		MnemonicRET:    {Name: "RET", Flow: FlowStop, MinArgs: 0, MaxArgs: 1, Stack: true, Handler: opNOP},
		MnemonicHLT:    {Name: "HLT", Flow: FlowStop, Handler: opHLT},
		MnemonicUD2:    {Name: "UD2", Flow: FlowStop, Handler: opHLT},
		MnemonicNOP:    {Name: "NOP", MaxArgs: 1, Handler: opNOP},
	}

	for m := MnemonicNone + 1; m < mnemonicN; m++ {
		def := &mnemonicDefs[m]
		assert(def.Name != "", "mnemonic %d: missing definition", int(m))
		assert(def.Handler != nil, "mnemonic %s: missing handler", def.Name)
		assert(def.MinArgs <= def.MaxArgs, "mnemonic %s: invalid operand count", def.Name)
		if !strings.HasSuffix(def.Name, "cc") {
			mnemonicNames[def.Name] = m
		}
	}

	// Counter conditions only exist for jumps.
	mnemonicNames["JCXZ"] = MnemonicJcc
	mnemonicNames["JECXZ"] = MnemonicJcc
	mnemonicNames["JRCXZ"] = MnemonicJcc
}

// String returns the name of the mnemonic.
func (m Mnemonic) String() string {
	if m > MnemonicNone && m < mnemonicN {
		return mnemonicDefs[m].Name
	}
	return fmt.Sprintf("Mnemonic<%d>", int(m))
}

// Flow returns the flow kind of the mnemonic.
func (m Mnemonic) Flow() FlowKind {
	if m > MnemonicNone && m < mnemonicN {
		return mnemonicDefs[m].Flow
	}
	return FlowNext
}

// ParseMnemonic returns the mnemonic and condition code for an instruction
// name. Returns false if the name is not supported.
func ParseMnemonic(name string) (Mnemonic, Condition, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if m, ok := mnemonicNames[name]; ok {
		switch name {
		case "JCXZ":
			return m, CondCXZ, true
		case "JECXZ":
			return m, CondECXZ, true
		case "JRCXZ":
			return m, CondRCXZ, true
		}
		return m, CondNone, true
	}

	for _, p := range conditionalPrefixes {
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		if c, ok := ParseCondition(name[len(p.prefix):]); ok {
			return p.mnemonic, c, true
		}
	}
	return MnemonicNone, CondNone, false
}

// FlagsRead returns the flags read by the instruction named by name.
func FlagsRead(name string) FlagSet {
	m, c, ok := ParseMnemonic(name)
	if !ok {
		return 0
	}
	return mnemonicDefs[m].Reads | c.FlagsRead()
}

// FlagsWritten returns the flags written by the instruction named by name.
func FlagsWritten(name string) FlagSet {
	m, _, ok := ParseMnemonic(name)
	if !ok {
		return 0
	}
	return mnemonicDefs[m].Writes
}
