package asmsym

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StateConfig declares which registers, flags and memory are tracked.
// Untracked entities are never symbolized or propagated.
type StateConfig struct {
	Flags FlagSet
	Regs  RegSet
	Mem   bool
	SIMD  bool
}

// NewStateConfig returns a config with everything tracked.
func NewStateConfig() StateConfig {
	var c StateConfig
	c.SetAllOn()
	return c
}

// SetAllOn tracks all flags, registers, memory and the SIMD register file.
func (c *StateConfig) SetAllOn() {
	c.SetFlagsOn()
	c.SetRegsOn()
	c.Mem = true
	c.SIMD = true
	for r := XMM0; r <= XMM15; r++ {
		c.Regs = c.Regs.With(r)
	}
}

// SetAllOff tracks nothing.
func (c *StateConfig) SetAllOff() {
	*c = StateConfig{}
}

// SetFlagsOn tracks all flags.
func (c *StateConfig) SetFlagsOn() {
	c.Flags = AllFlags
}

// SetRegsOn tracks all general purpose registers.
func (c *StateConfig) SetRegsOn() {
	for r := RAX; r <= R15; r++ {
		c.Regs = c.Regs.With(r)
	}
}

// SetFlag turns tracking of a single flag on or off.
func (c *StateConfig) SetFlag(f Flag, on bool) {
	if on {
		c.Flags = c.Flags.With(f)
	} else {
		c.Flags = c.Flags.Without(f)
	}
}

// SetReg turns tracking of a single register on or off. Tracking an XMM
// register also turns on the SIMD register file.
func (c *StateConfig) SetReg(r Reg, on bool) {
	if on {
		c.Regs = c.Regs.With(r)
		if r.IsSIMD() {
			c.SIMD = true
		}
	} else {
		c.Regs = c.Regs.Without(r)
	}
}

// IsFlagOn returns true if f is tracked.
func (c StateConfig) IsFlagOn(f Flag) bool {
	return c.Flags.Has(f)
}

// IsRegOn returns true if r is tracked.
func (c StateConfig) IsRegOn(r Reg) bool {
	if r.IsSIMD() && !c.SIMD {
		return false
	}
	return c.Regs.Has(r)
}

// TrackedRegs returns the tracked registers in order.
func (c StateConfig) TrackedRegs() []Reg {
	var a []Reg
	for _, r := range c.Regs.Regs() {
		if c.IsRegOn(r) {
			a = append(a, r)
		}
	}
	return a
}

// TrackedFlags returns the tracked flags in order.
func (c StateConfig) TrackedFlags() []Flag {
	return c.Flags.Flags()
}

// String returns a compact description of the config.
func (c StateConfig) String() string {
	return fmt.Sprintf("flags=%s regs=%v mem=%v simd=%v", c.Flags, c.TrackedRegs(), c.Mem, c.SIMD)
}

// stateConfigYAML is the on-disk form of StateConfig.
type stateConfigYAML struct {
	Flags []string `yaml:"flags"`
	Regs  []string `yaml:"regs"`
	Mem   bool     `yaml:"mem"`
	SIMD  bool     `yaml:"simd"`
}

// MarshalYAML implements yaml.Marshaler.
func (c StateConfig) MarshalYAML() (interface{}, error) {
	var y stateConfigYAML
	for _, f := range c.Flags.Flags() {
		y.Flags = append(y.Flags, f.String())
	}
	for _, r := range c.Regs.Regs() {
		y.Regs = append(y.Regs, r.String())
	}
	y.Mem, y.SIMD = c.Mem, c.SIMD
	return y, nil
}

// UnmarshalYAML implements yaml.Unmarshaler. The value "all" in either list
// tracks every member.
func (c *StateConfig) UnmarshalYAML(value *yaml.Node) error {
	var y stateConfigYAML
	if err := value.Decode(&y); err != nil {
		return err
	}

	var other StateConfig
	for _, name := range y.Flags {
		if name == "all" {
			other.SetFlagsOn()
			continue
		}
		f, ok := ParseFlag(name)
		if !ok {
			return fmt.Errorf("unknown flag: %q", name)
		}
		other.SetFlag(f, true)
	}
	for _, name := range y.Regs {
		if name == "all" {
			other.SetRegsOn()
			continue
		}
		r, ok := ParseReg(name)
		if !ok {
			return fmt.Errorf("unknown register: %q", name)
		}
		other.SetReg(r, true)
	}
	other.Mem = other.Mem || y.Mem
	other.SIMD = other.SIMD || y.SIMD

	*c = other
	return nil
}

// ReadStateConfig decodes a YAML config.
func ReadStateConfig(r io.Reader) (StateConfig, error) {
	var c StateConfig
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return StateConfig{}, errors.Wrap(err, "decode state config")
	}
	return c, nil
}

// ReadStateConfigFile decodes a YAML config from a file.
func ReadStateConfigFile(path string) (StateConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return StateConfig{}, err
	}
	defer f.Close()

	c, err := ReadStateConfig(f)
	if err != nil {
		return StateConfig{}, errors.Wrapf(err, "%s", path)
	}
	return c, nil
}

// ConfigFromLines returns the smallest config covering a program: every
// register its operands name, every flag its mnemonics read or write, and
// memory when any operand addresses it.
func ConfigFromLines(lines []Line) StateConfig {
	var c StateConfig
	for _, line := range lines {
		m, cond, ok := ParseMnemonic(line.Mnemonic)
		if !ok {
			continue
		}

		def := mnemonicDefs[m]
		for _, f := range (def.Reads | def.Writes | cond.FlagsRead()).Flags() {
			c.SetFlag(f, true)
		}
		for _, r := range def.ImplicitRegs {
			c.SetReg(r, true)
		}
		if v, ok := cond.Counter(); ok {
			c.SetReg(v.Reg, true)
		}
		if def.Stack {
			c.SetReg(RSP, true)
			c.Mem = true
		}

		for _, arg := range line.Args {
			op, err := ParseOperand(arg)
			if err != nil {
				continue
			}
			switch op.Kind {
			case OperandReg:
				c.SetReg(op.Reg.Reg, true)
			case OperandMem:
				c.Mem = true
				if op.Mem.HasBase {
					c.SetReg(op.Mem.Base.Reg, true)
				}
				if op.Mem.HasIndex {
					c.SetReg(op.Mem.Index.Reg, true)
				}
			}
		}
	}
	return c
}
