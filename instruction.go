package nv2atrace

import (
	"fmt"
	"strings"
)

// Opcode is the unified operation enumeration covering both execution units.
type Opcode uint8

const (
	OpNOP Opcode = iota
	OpMOV
	OpMUL
	OpADD
	OpMAD
	OpDP3
	OpDPH
	OpDP4
	OpDST
	OpMIN
	OpMAX
	OpSLT
	OpSGE
	OpARL
	OpRCP
	OpRCC
	OpRSQ
	OpEXP
	OpLOG
	OpLIT
)

var opcodeNames = [...]string{
	"NOP", "MOV", "MUL", "ADD", "MAD", "DP3", "DPH", "DP4", "DST",
	"MIN", "MAX", "SLT", "SGE", "ARL", "RCP", "RCC", "RSQ", "EXP",
	"LOG", "LIT",
}

func (op Opcode) String() string {
	if int(op) >= len(opcodeNames) {
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// ParseOpcode maps a mnemonic to its Opcode.
func ParseOpcode(mnemonic string) (Opcode, bool) {
	for i, name := range opcodeNames {
		if name == mnemonic {
			return Opcode(i), true
		}
	}
	return OpNOP, false
}

// MAC instruction field values (word 1, FLD_MAC).
var macFieldByOpcode = map[Opcode]uint32{
	OpMOV: 1, OpMUL: 2, OpADD: 3, OpMAD: 4, OpDP3: 5, OpDPH: 6,
	OpDP4: 7, OpDST: 8, OpMIN: 9, OpMAX: 10, OpSLT: 11, OpSGE: 12,
	OpARL: 13,
}

// ILU instruction field values (word 1, FLD_ILU).
var iluFieldByOpcode = map[Opcode]uint32{
	OpMOV: 1, OpRCP: 2, OpRCC: 3, OpRSQ: 4, OpEXP: 5, OpLOG: 6,
	OpLIT: 7,
}

var opcodeByMacField = invertFieldMap(macFieldByOpcode)
var opcodeByIluField = invertFieldMap(iluFieldByOpcode)

func invertFieldMap(m map[Opcode]uint32) map[uint32]Opcode {
	out := make(map[uint32]Opcode, len(m))
	for op, field := range m {
		out[field] = op
	}
	return out
}

// IsMAC reports whether op executes on the multiply-accumulate unit.
func (op Opcode) IsMAC() bool {
	_, ok := macFieldByOpcode[op]
	return ok
}

// IsILU reports whether op executes on the inverse/lighting unit.
func (op Opcode) IsILU() bool {
	_, ok := iluFieldByOpcode[op]
	return ok
}

// Operand slot usage. The hardware feeds three input slots (A, B, C) with
// fixed roles per opcode: ADD reads A and C, MUL reads A and B, MAD reads
// all three, and the ILU always reads C.
const (
	SlotA = 1 << iota
	SlotB
	SlotC
)

var macSlotsByOpcode = map[Opcode]int{
	OpMOV: SlotA,
	OpMUL: SlotA | SlotB,
	OpADD: SlotA | SlotC,
	OpMAD: SlotA | SlotB | SlotC,
	OpDP3: SlotA | SlotB,
	OpDPH: SlotA | SlotB,
	OpDP4: SlotA | SlotB,
	OpDST: SlotA | SlotB,
	OpMIN: SlotA | SlotB,
	OpMAX: SlotA | SlotB,
	OpSLT: SlotA | SlotB,
	OpSGE: SlotA | SlotB,
	OpARL: SlotA,
}

// MacInputSlots returns the slot bitmask op consumes on the MAC unit.
func MacInputSlots(op Opcode) int {
	return macSlotsByOpcode[op]
}

// IluInputSlots returns the slot bitmask op consumes on the ILU unit. The
// ILU is fed exclusively from slot C.
func IluInputSlots(op Opcode) int {
	if op.IsILU() {
		return SlotC
	}
	return 0
}

// InputParam describes one input operand of a decoded sub-operation.
type InputParam struct {
	Bank     RegisterBank
	Index    int
	Swizzle  [4]uint8 // per-component source selector, 0=x .. 3=w
	Negate   bool
	Relative bool // constant index is offset by the address register
}

// Source renders the operand in source syntax, e.g. "-c[A0+96].xyz".
func (p InputParam) Source() string {
	var reg string
	switch p.Bank {
	case BankConstant:
		if p.Relative {
			if p.Index < 0 {
				reg = fmt.Sprintf("c[A0-%d]", -p.Index)
			} else {
				reg = fmt.Sprintf("c[A0+%d]", p.Index)
			}
		} else {
			reg = fmt.Sprintf("c[%d]", p.Index)
		}
	case BankOutput:
		reg = OutputNames[p.Index]
	case BankAddress:
		reg = "A0"
	default:
		reg = fmt.Sprintf("%s%d", p.Bank.Letter(), p.Index)
	}

	neg := ""
	if p.Negate {
		neg = "-"
	}
	return neg + reg + swizzleSuffix(p.Swizzle)
}

// swizzleSuffix collapses a swizzle into its shortest source suffix: the
// identity swizzle is omitted entirely and repeated trailing components are
// folded (x,y,z,z => ".xyz").
func swizzleSuffix(swz [4]uint8) string {
	if swz == [4]uint8{0, 1, 2, 3} {
		return ""
	}
	end := 4
	for end > 1 && swz[end-1] == swz[end-2] {
		end--
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, sel := range swz[:end] {
		b.WriteByte(swizzleNames[sel&3])
	}
	return b.String()
}

// ParseSwizzle expands a source suffix such as "yzx" into a full selector,
// repeating the final component ("y" => y,y,y,y).
func ParseSwizzle(suffix string) ([4]uint8, error) {
	if suffix == "" {
		return [4]uint8{0, 1, 2, 3}, nil
	}
	if len(suffix) > 4 {
		return [4]uint8{}, fmt.Errorf("swizzle %q has more than 4 components", suffix)
	}
	var swz [4]uint8
	var last uint8
	for i := 0; i < 4; i++ {
		if i < len(suffix) {
			idx := strings.IndexByte(swizzleNames, suffix[i])
			if idx < 0 {
				return [4]uint8{}, fmt.Errorf("invalid swizzle component %q", suffix[i])
			}
			last = uint8(idx)
		}
		swz[i] = last
	}
	return swz, nil
}

// OutputParam describes one output operand of a decoded sub-operation.
type OutputParam struct {
	Bank      RegisterBank
	Index     int
	WriteMask uint32 // 4-bit hardware mask field, bit 3 = x
}

// Source renders the operand in source syntax, e.g. "oD0.xyz".
func (p OutputParam) Source() string {
	mask := WriteMaskString(p.WriteMask)
	switch p.Bank {
	case BankConstant:
		return fmt.Sprintf("c[%d]%s", p.Index, mask)
	case BankOutput:
		return OutputNames[p.Index] + mask
	case BankAddress:
		return "A0" + mask
	default:
		return fmt.Sprintf("%s%d%s", p.Bank.Letter(), p.Index, mask)
	}
}

// SubOp is the decoded form of the work one execution unit performs in a
// single instruction slot.
type SubOp struct {
	Opcode  Opcode
	Outputs []OutputParam // at most 2: a temp write plus an output/constant write
	Inputs  []InputParam  // at most 3, in slot order
}

// InputSources returns the source-syntax spelling of each input operand.
func (s *SubOp) InputSources() []string {
	out := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		out[i] = in.Source()
	}
	return out
}

// OutputSources returns the source-syntax spelling of each output operand.
func (s *SubOp) OutputSources() []string {
	out := make([]string, len(s.Outputs))
	for i, o := range s.Outputs {
		out[i] = o.Source()
	}
	return out
}

// Source reconstructs the sub-operation's source text. An operation with two
// outputs renders as two joined statements, matching the assembler grammar.
func (s *SubOp) Source() string {
	inputs := strings.Join(s.InputSources(), ", ")
	parts := make([]string, 0, len(s.Outputs))
	for _, out := range s.Outputs {
		parts = append(parts, fmt.Sprintf("%s %s, %s", s.Opcode, out.Source(), inputs))
	}
	return strings.Join(parts, " + ")
}

// Instruction is one decoded instruction slot. Either unit may be idle.
type Instruction struct {
	Code  MachineCode
	Mac   *SubOp
	Ilu   *SubOp
	Final bool // last instruction of the program
}

// SubOpForStage returns the mac or ilu sub-operation, nil when idle.
func (ins *Instruction) SubOpForStage(stage string) *SubOp {
	switch stage {
	case "mac":
		return ins.Mac
	case "ilu":
		return ins.Ilu
	}
	return nil
}

// Source reconstructs the full slot source text, joining paired mac and ilu
// operations with " + ".
func (ins *Instruction) Source() string {
	var parts []string
	if ins.Mac != nil {
		parts = append(parts, ins.Mac.Source())
	}
	if ins.Ilu != nil {
		parts = append(parts, ins.Ilu.Source())
	}
	return strings.Join(parts, " + ")
}
