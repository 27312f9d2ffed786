// Package emu implements the vertex unit's register file and vector ALU.
package emu

import (
	"fmt"
	"math"
	"strconv"

	"nv2atrace"
)

// State is the full execution state of the vertex unit.
type State struct {
	Input    [nv2atrace.NumInputRegisters]nv2atrace.Vector
	Constant [nv2atrace.NumConstantRegisters]nv2atrace.Vector
	Temp     [nv2atrace.NumTempRegisters]nv2atrace.Vector
	Output   [nv2atrace.NumOutputRegisters]nv2atrace.Vector
	Address  nv2atrace.Vector
}

func New() *State {
	return &State{}
}

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	dup := *s
	return &dup
}

// RegisterValue returns the value of a register addressed by canonical name
// (e.g. "v3", "c98", "R2", "o0", "A0"). The temp spelling R12 reads the
// hardware alias for o0.
func (s *State) RegisterValue(name string) (nv2atrace.Vector, error) {
	slot, err := s.registerSlot(name)
	if err != nil {
		return nv2atrace.Vector{}, err
	}
	return *slot, nil
}

// SetRegisterValue overwrites a register addressed by canonical name.
func (s *State) SetRegisterValue(name string, value nv2atrace.Vector) error {
	slot, err := s.registerSlot(name)
	if err != nil {
		return err
	}
	*slot = value
	return nil
}

func (s *State) registerSlot(name string) (*nv2atrace.Vector, error) {
	if name == "A0" {
		return &s.Address, nil
	}
	if len(name) < 2 {
		return nil, fmt.Errorf("unknown register %q", name)
	}
	index, err := strconv.Atoi(name[1:])
	if err != nil || index < 0 {
		return nil, fmt.Errorf("unknown register %q", name)
	}
	if name[0] == 'R' && index == nv2atrace.NumTempRegisters {
		return &s.Output[0], nil
	}
	switch name[0] {
	case 'v':
		if index < len(s.Input) {
			return &s.Input[index], nil
		}
	case 'c':
		if index < len(s.Constant) {
			return &s.Constant[index], nil
		}
	case 'R':
		if index < len(s.Temp) {
			return &s.Temp[index], nil
		}
	case 'o':
		if index < len(s.Output) {
			return &s.Output[index], nil
		}
	}
	return nil, fmt.Errorf("unknown register %q", name)
}

// Apply executes one decoded instruction. Both units read the
// pre-instruction state; results are committed afterwards, so a slot that
// reads a register its other stage writes sees the old value.
func (s *State) Apply(ins *nv2atrace.Instruction) error {
	before := *s

	type write struct {
		out   nv2atrace.OutputParam
		value nv2atrace.Vector
	}
	var writes []write

	run := func(sub *nv2atrace.SubOp) error {
		if sub == nil {
			return nil
		}
		inputs := make([]nv2atrace.Vector, len(sub.Inputs))
		for i, in := range sub.Inputs {
			inputs[i] = before.fetch(in)
		}
		result, err := compute(sub.Opcode, inputs)
		if err != nil {
			return err
		}
		for _, out := range sub.Outputs {
			writes = append(writes, write{out, result})
		}
		return nil
	}

	if err := run(ins.Mac); err != nil {
		return err
	}
	if err := run(ins.Ilu); err != nil {
		return err
	}

	for _, w := range writes {
		slot, err := s.outputSlot(w.out)
		if err != nil {
			return err
		}
		mask := w.out.WriteMask
		for comp := 0; comp < 4; comp++ {
			if mask&(1<<(3-comp)) != 0 {
				slot[comp] = w.value[comp]
			}
		}
	}
	return nil
}

func (s *State) outputSlot(out nv2atrace.OutputParam) (*nv2atrace.Vector, error) {
	switch out.Bank {
	case nv2atrace.BankTemp:
		if out.Index == nv2atrace.NumTempRegisters {
			return &s.Output[0], nil
		}
		if out.Index < len(s.Temp) {
			return &s.Temp[out.Index], nil
		}
	case nv2atrace.BankOutput:
		if out.Index < len(s.Output) {
			return &s.Output[out.Index], nil
		}
	case nv2atrace.BankConstant:
		if out.Index < len(s.Constant) {
			return &s.Constant[out.Index], nil
		}
	case nv2atrace.BankAddress:
		return &s.Address, nil
	}
	return nil, fmt.Errorf("invalid output register %s", out.Source())
}

// fetch reads an input operand: bank lookup, relative constant addressing,
// swizzle, then negation. Out-of-range relative accesses clamp to the
// constant bank like the hardware does.
func (s *State) fetch(in nv2atrace.InputParam) nv2atrace.Vector {
	var base nv2atrace.Vector
	switch in.Bank {
	case nv2atrace.BankInput:
		base = s.Input[in.Index&0xf]
	case nv2atrace.BankTemp:
		if in.Index == nv2atrace.NumTempRegisters {
			base = s.Output[0]
		} else {
			base = s.Temp[in.Index%nv2atrace.NumTempRegisters]
		}
	case nv2atrace.BankConstant:
		index := in.Index
		if in.Relative {
			index += int(s.Address[0])
		}
		if index < 0 {
			index = 0
		} else if index >= nv2atrace.NumConstantRegisters {
			index = nv2atrace.NumConstantRegisters - 1
		}
		base = s.Constant[index]
	case nv2atrace.BankAddress:
		base = s.Address
	}

	var out nv2atrace.Vector
	for i, sel := range in.Swizzle {
		out[i] = base[sel&3]
	}
	if in.Negate {
		for i := range out {
			out[i] = -out[i]
		}
	}
	return out
}

func compute(op nv2atrace.Opcode, in []nv2atrace.Vector) (nv2atrace.Vector, error) {
	arg := func(i int) nv2atrace.Vector {
		if i < len(in) {
			return in[i]
		}
		return nv2atrace.Vector{}
	}
	a, b, c := arg(0), arg(1), arg(2)

	switch op {
	case nv2atrace.OpMOV:
		return a, nil
	case nv2atrace.OpMUL:
		return perComponent(a, b, func(x, y float32) float32 { return x * y }), nil
	case nv2atrace.OpADD:
		return perComponent(a, b, func(x, y float32) float32 { return x + y }), nil
	case nv2atrace.OpMAD:
		var out nv2atrace.Vector
		for i := range out {
			out[i] = a[i]*b[i] + c[i]
		}
		return out, nil
	case nv2atrace.OpDP3:
		return broadcast(dot3(a, b)), nil
	case nv2atrace.OpDPH:
		return broadcast(dot3(a, b) + b[3]), nil
	case nv2atrace.OpDP4:
		return broadcast(dot3(a, b) + a[3]*b[3]), nil
	case nv2atrace.OpDST:
		return nv2atrace.Vector{1, a[1] * b[1], a[2], b[3]}, nil
	case nv2atrace.OpMIN:
		return perComponent(a, b, func(x, y float32) float32 {
			if x < y {
				return x
			}
			return y
		}), nil
	case nv2atrace.OpMAX:
		return perComponent(a, b, func(x, y float32) float32 {
			if x > y {
				return x
			}
			return y
		}), nil
	case nv2atrace.OpSLT:
		return perComponent(a, b, func(x, y float32) float32 {
			if x < y {
				return 1
			}
			return 0
		}), nil
	case nv2atrace.OpSGE:
		return perComponent(a, b, func(x, y float32) float32 {
			if x >= y {
				return 1
			}
			return 0
		}), nil
	case nv2atrace.OpARL:
		return broadcast(float32(math.Floor(float64(a[0])))), nil
	case nv2atrace.OpRCP:
		return broadcast(rcp(a[0])), nil
	case nv2atrace.OpRCC:
		return broadcast(rcc(a[0])), nil
	case nv2atrace.OpRSQ:
		return broadcast(rsq(a[0])), nil
	case nv2atrace.OpEXP:
		return expVector(a[0]), nil
	case nv2atrace.OpLOG:
		return logVector(a[0]), nil
	case nv2atrace.OpLIT:
		return lit(a), nil
	}
	return nv2atrace.Vector{}, fmt.Errorf("opcode %s has no ALU implementation", op)
}

func perComponent(a, b nv2atrace.Vector, f func(x, y float32) float32) nv2atrace.Vector {
	var out nv2atrace.Vector
	for i := range out {
		out[i] = f(a[i], b[i])
	}
	return out
}

func broadcast(val float32) nv2atrace.Vector {
	return nv2atrace.Vector{val, val, val, val}
}

func dot3(a, b nv2atrace.Vector) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// rcp computes 1/x with the hardware's exact-one guarantee.
func rcp(x float32) float32 {
	if x == 1 {
		return 1
	}
	if x == 0 {
		return float32(math.Inf(1))
	}
	return 1 / x
}

// Clamp range used by RCC.
const (
	rccMin = 5.42101e-20
	rccMax = 1.884467e19
)

func rcc(x float32) float32 {
	r := rcp(x)
	if r > 0 {
		return float32(math.Min(math.Max(float64(r), rccMin), rccMax))
	}
	return float32(math.Min(math.Max(float64(r), -rccMax), -rccMin))
}

func rsq(x float32) float32 {
	if x == 1 {
		return 1
	}
	if x == 0 {
		return float32(math.Inf(1))
	}
	return float32(1 / math.Sqrt(math.Abs(float64(x))))
}

// expVector implements EXP: a base-2 exponential split into integer and
// fractional parts: (2^floor(x), frac(x), 2^x, 1).
func expVector(x float32) nv2atrace.Vector {
	fx := float64(x)
	floor := math.Floor(fx)
	return nv2atrace.Vector{
		float32(math.Exp2(floor)),
		float32(fx - floor),
		float32(math.Exp2(fx)),
		1,
	}
}

// logVector implements LOG: a base-2 logarithm split into exponent and
// mantissa: (exponent, mantissa, log2(|x|), 1).
func logVector(x float32) nv2atrace.Vector {
	ax := math.Abs(float64(x))
	if ax == 0 {
		ninf := float32(math.Inf(-1))
		return nv2atrace.Vector{ninf, 1, ninf, 1}
	}
	exponent := math.Floor(math.Log2(ax))
	return nv2atrace.Vector{
		float32(exponent),
		float32(ax / math.Exp2(exponent)),
		float32(math.Log2(ax)),
		1,
	}
}

// Maximum specular power accepted by LIT.
const litMaxPower = 127.9961

// lit computes the lighting coefficient vector from (diffuse dot, specular
// dot, -, specular power).
func lit(src nv2atrace.Vector) nv2atrace.Vector {
	out := nv2atrace.Vector{1, 0, 0, 1}
	if src[0] > 0 {
		out[1] = src[0]
		power := math.Min(math.Max(float64(src[3]), -litMaxPower), litMaxPower)
		specular := math.Max(float64(src[1]), 0)
		if specular > 0 || power > 0 {
			out[2] = float32(math.Pow(specular, power))
		}
	}
	return out
}
