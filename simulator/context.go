package simulator

import (
	"fmt"
	"strconv"
	"strings"

	"nv2atrace"
	"nv2atrace/emu"
)

// RegisterFileState is the JSON wire format for a register file snapshot:
// banks as lists of [name, x, y, z, w] tuples, the address register as a
// bare [x, y, z, w] tuple. It doubles as the import schema for seeding
// initial state.
type RegisterFileState struct {
	Input    []nv2atrace.Register `json:"input,omitempty"`
	Constant []nv2atrace.Register `json:"constant,omitempty"`
	Temp     []nv2atrace.Register `json:"temp,omitempty"`
	Output   []nv2atrace.Register `json:"output,omitempty"`
	Address  *nv2atrace.Vector    `json:"address,omitempty"`
}

// Context is a point-in-time snapshot of all register banks. Advancing the
// simulation always duplicates a Context before applying an instruction;
// a Context handed out to a Step is never mutated again.
type Context struct {
	state *emu.State

	inputs    []nv2atrace.Register
	constants []nv2atrace.Register
	temps     []nv2atrace.Register
	outputs   []nv2atrace.Register
	address   nv2atrace.Register
}

func NewContext() *Context {
	ctx := &Context{state: emu.New()}
	ctx.update()
	return ctx
}

// FromState merges the given banks into this context. Banks absent from the
// state are left untouched.
func (c *Context) FromState(state RegisterFileState) error {
	for _, banks := range [][]nv2atrace.Register{state.Input, state.Constant, state.Temp, state.Output} {
		for _, reg := range banks {
			name, err := canonicalizeRegisterName(reg.Name)
			if err != nil {
				return err
			}
			if err := c.state.SetRegisterValue(name, reg.Vector()); err != nil {
				return err
			}
		}
	}
	if state.Address != nil {
		c.state.Address = *state.Address
	}
	c.update()
	return nil
}

// ToState returns the wire representation of this context. With inputsOnly
// set, only the input and constant banks are emitted (the template shape
// for seeding initial state).
func (c *Context) ToState(inputsOnly bool) RegisterFileState {
	state := RegisterFileState{
		Input:    append([]nv2atrace.Register(nil), c.inputs...),
		Constant: append([]nv2atrace.Register(nil), c.constants...),
	}
	if inputsOnly {
		return state
	}
	state.Temp = append([]nv2atrace.Register(nil), c.temps...)
	state.Output = append([]nv2atrace.Register(nil), c.outputs...)
	addr := c.address.Vector()
	state.Address = &addr
	return state
}

// Duplicate returns an independent copy of this context.
func (c *Context) Duplicate() *Context {
	dup := &Context{state: c.state.Clone()}
	dup.update()
	return dup
}

// Apply advances this context by one instruction via the vector ALU and
// refreshes the cached per-bank register lists.
func (c *Context) Apply(ins *nv2atrace.Instruction) error {
	if err := c.state.Apply(ins); err != nil {
		return err
	}
	c.update()
	return nil
}

// Get parses a register reference and reads its extended mask from the
// addressed register, negating if requested. Address-relative constant
// accesses are resolved against the current address register.
func (c *Context) Get(source string) (nv2atrace.Vector, error) {
	ref, err := ParseRegisterReference(source)
	if err != nil {
		return nv2atrace.Vector{}, err
	}

	value, err := c.resolve(ref)
	if err != nil {
		return nv2atrace.Vector{}, err
	}

	reg := nv2atrace.MakeRegister(ref.RawName, value)
	components, err := reg.Get(ref.ExtendedMask)
	if err != nil {
		return nv2atrace.Vector{}, err
	}

	var out nv2atrace.Vector
	copy(out[:], components)
	if ref.Negate {
		for i := range out {
			out[i] = -out[i]
		}
	}
	return out, nil
}

// Set parses a register reference and writes only the referenced mask
// positions from value (value is in xyzw positional order).
func (c *Context) Set(target string, value nv2atrace.Vector) error {
	ref, err := ParseRegisterReference(target)
	if err != nil {
		return err
	}

	name, err := c.resolveName(ref)
	if err != nil {
		return err
	}
	current, err := c.state.RegisterValue(name)
	if err != nil {
		return err
	}

	reg := nv2atrace.MakeRegister(name, current)
	if err := reg.Set(ref.Mask, value); err != nil {
		return err
	}
	if err := c.state.SetRegisterValue(name, reg.Vector()); err != nil {
		return err
	}
	c.update()
	return nil
}

// resolve returns the raw value of the register a reference addresses.
func (c *Context) resolve(ref RegisterReference) (nv2atrace.Vector, error) {
	name, err := c.resolveName(ref)
	if err != nil {
		return nv2atrace.Vector{}, err
	}
	return c.state.RegisterValue(name)
}

// resolveName reduces a canonical name to a direct register name, folding
// address-relative constant accesses (cA0+n / cA0-n) into a plain constant
// index using the integer value of the address register's first component.
func (c *Context) resolveName(ref RegisterReference) (string, error) {
	name := ref.CanonicalName
	if !strings.HasPrefix(name, "cA0") {
		return name, nil
	}

	if len(name) < 5 {
		return "", fmt.Errorf("malformed relative constant %q", ref.RawName)
	}
	offset, err := strconv.Atoi(name[4:])
	if err != nil {
		return "", fmt.Errorf("malformed relative constant %q", ref.RawName)
	}
	if name[3] == '-' {
		offset = -offset
	}

	index := int(c.state.Address[0]) + offset
	if index < 0 || index >= nv2atrace.NumConstantRegisters {
		return "", fmt.Errorf("relative constant %q resolves out of range (%d)", ref.RawName, index)
	}
	return fmt.Sprintf("c%d", index), nil
}

// update refreshes the cached per-bank Register lists used for read access.
func (c *Context) update() {
	convert := func(prefix string, bank []nv2atrace.Vector) []nv2atrace.Register {
		out := make([]nv2atrace.Register, len(bank))
		for i, vec := range bank {
			out[i] = nv2atrace.MakeRegister(fmt.Sprintf("%s%d", prefix, i), vec)
		}
		return out
	}

	c.inputs = convert("v", c.state.Input[:])
	c.constants = convert("c", c.state.Constant[:])
	c.temps = convert("R", c.state.Temp[:])
	c.outputs = convert("o", c.state.Output[:])
	c.address = nv2atrace.MakeRegister("A0", c.state.Address)
}

func (c *Context) Inputs() []nv2atrace.Register    { return c.inputs }
func (c *Context) Constants() []nv2atrace.Register { return c.constants }
func (c *Context) Temps() []nv2atrace.Register     { return c.temps }
func (c *Context) Outputs() []nv2atrace.Register   { return c.outputs }
func (c *Context) AddressRegister() nv2atrace.Register {
	return c.address
}
