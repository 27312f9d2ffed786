package nv2atrace

import (
	"encoding/json"
	"fmt"
)

// MachineCode is a single assembled vertex shader instruction slot: four
// 32-bit words. Word 0 is unused by the hardware and always zero.
type MachineCode [4]uint32

// Vector is the value of one register: four float32 components.
type Vector [4]float32

// RegisterBank identifies one of the register files addressable by an
// instruction operand. The numeric values match the hardware operand mux.
type RegisterBank uint8

const (
	BankNone RegisterBank = iota
	BankTemp              // R0..R11 (R12 is a read alias for o0)
	BankInput             // v0..v15
	BankOutput            // o0..o12, usually spelled symbolically (oPos, oD0, ...)
	BankConstant          // c0..c191, aka the "context" bank
	BankAddress           // A0
)

// Bank sizes.
const (
	NumInputRegisters    = 16
	NumConstantRegisters = 192
	NumTempRegisters     = 12
	NumOutputRegisters   = 13
)

var bankLetters = []string{"", "R", "v", "o", "c", "A"}

func (b RegisterBank) Letter() string {
	if int(b) >= len(bankLetters) {
		return "?"
	}
	return bankLetters[b]
}

// OutputNames maps output register indices to their symbolic names.
// Indices 1 and 2 have no writable register on this hardware.
var OutputNames = map[int]string{
	0:  "oPos",
	3:  "oD0",
	4:  "oD1",
	5:  "oFog",
	6:  "oPts",
	7:  "oB0",
	8:  "oB1",
	9:  "oT0",
	10: "oT1",
	11: "oT2",
	12: "oT3",
}

// OutputIndexByName is the inverse of OutputNames.
var OutputIndexByName = func() map[string]int {
	m := make(map[string]int, len(OutputNames))
	for idx, name := range OutputNames {
		m[name] = idx
	}
	return m
}()

// writeMasks maps the 4-bit hardware writemask field to its source suffix.
// Bit 3 selects x, bit 0 selects w. A full mask is spelled without a suffix.
var writeMasks = [16]string{
	"", ".w", ".z", ".zw",
	".y", ".yw", ".yz", ".yzw",
	".x", ".xw", ".xz", ".xzw",
	".xy", ".xyw", ".xyz", "",
}

// WriteMaskString returns the source representation of a writemask field.
func WriteMaskString(field uint32) string {
	return writeMasks[field&0xf]
}

// WriteMaskField converts a mask such as "xz" into the hardware field value.
func WriteMaskField(mask string) (uint32, error) {
	if mask == "" || mask == "xyzw" {
		return 0xf, nil
	}
	var field uint32
	for _, c := range mask {
		switch c {
		case 'x':
			field |= 8
		case 'y':
			field |= 4
		case 'z':
			field |= 2
		case 'w':
			field |= 1
		default:
			return 0, fmt.Errorf("invalid mask component %q", c)
		}
	}
	return field, nil
}

const swizzleNames = "xyzw"

// Register is a point-in-time value snapshot of a single register.
type Register struct {
	Name string
	X    float32
	Y    float32
	Z    float32
	W    float32
}

func MakeRegister(name string, v Vector) Register {
	return Register{Name: name, X: v[0], Y: v[1], Z: v[2], W: v[3]}
}

func (r Register) Vector() Vector {
	return Vector{r.X, r.Y, r.Z, r.W}
}

// Get returns the components selected by mask, in mask order.
func (r Register) Get(mask string) ([]float32, error) {
	out := make([]float32, 0, len(mask))
	for _, c := range mask {
		switch c {
		case 'x':
			out = append(out, r.X)
		case 'y':
			out = append(out, r.Y)
		case 'z':
			out = append(out, r.Z)
		case 'w':
			out = append(out, r.W)
		default:
			return nil, fmt.Errorf("invalid mask component %q", c)
		}
	}
	return out, nil
}

// Set assigns the masked components from value, where value is always in
// xyzw positional order (value[0] feeds x, etc).
func (r *Register) Set(mask string, value Vector) error {
	for _, c := range mask {
		switch c {
		case 'x':
			r.X = value[0]
		case 'y':
			r.Y = value[1]
		case 'z':
			r.Z = value[2]
		case 'w':
			r.W = value[3]
		default:
			return fmt.Errorf("invalid mask component %q", c)
		}
	}
	return nil
}

func (r Register) String() string {
	return fmt.Sprintf("%s[%f,%f,%f,%f]", r.Name, r.X, r.Y, r.Z, r.W)
}

// MarshalJSON encodes the register as the wire tuple [name, x, y, z, w].
func (r Register) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Name, r.X, r.Y, r.Z, r.W})
}

// UnmarshalJSON decodes the wire tuple [name, x, y, z, w].
func (r *Register) UnmarshalJSON(data []byte) error {
	var tuple []any
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 5 {
		return fmt.Errorf("register tuple must have 5 elements, got %d", len(tuple))
	}
	name, ok := tuple[0].(string)
	if !ok {
		return fmt.Errorf("register tuple name must be a string, got %T", tuple[0])
	}
	r.Name = name
	dst := []*float32{&r.X, &r.Y, &r.Z, &r.W}
	for i, raw := range tuple[1:] {
		val, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("register %s component %d must be a number, got %T", name, i, raw)
		}
		*dst[i] = float32(val)
	}
	return nil
}
