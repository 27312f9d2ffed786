package nv2atrace

import (
	"fmt"
)

// Bit-field layout of the 128-bit instruction token. Fields are addressed as
// (word, start bit from LSB, length); word 0 carries no fields.
type tokenField struct {
	word  int
	start uint
	size  uint
}

var (
	fldILU        = tokenField{1, 25, 3}
	fldMAC        = tokenField{1, 21, 4}
	fldConst      = tokenField{1, 13, 8}
	fldV          = tokenField{1, 9, 4}
	fldANegate    = tokenField{1, 8, 1}
	fldASwizzleX  = tokenField{1, 6, 2}
	fldASwizzleY  = tokenField{1, 4, 2}
	fldASwizzleZ  = tokenField{1, 2, 2}
	fldASwizzleW  = tokenField{1, 0, 2}
	fldAR         = tokenField{2, 28, 4}
	fldAMux       = tokenField{2, 26, 2}
	fldBNegate    = tokenField{2, 25, 1}
	fldBSwizzleX  = tokenField{2, 23, 2}
	fldBSwizzleY  = tokenField{2, 21, 2}
	fldBSwizzleZ  = tokenField{2, 19, 2}
	fldBSwizzleW  = tokenField{2, 17, 2}
	fldBR         = tokenField{2, 13, 4}
	fldBMux       = tokenField{2, 11, 2}
	fldCNegate    = tokenField{2, 10, 1}
	fldCSwizzleX  = tokenField{2, 8, 2}
	fldCSwizzleY  = tokenField{2, 6, 2}
	fldCSwizzleZ  = tokenField{2, 4, 2}
	fldCSwizzleW  = tokenField{2, 2, 2}
	fldCRHigh     = tokenField{2, 0, 2}
	fldCRLow      = tokenField{3, 30, 2}
	fldCMux       = tokenField{3, 28, 2}
	fldOutMacMask = tokenField{3, 24, 4}
	fldOutR       = tokenField{3, 20, 4}
	fldOutIluMask = tokenField{3, 16, 4}
	fldOutOMask   = tokenField{3, 12, 4}
	fldOutORB     = tokenField{3, 11, 1}
	fldOutAddress = tokenField{3, 3, 8}
	fldOutMux     = tokenField{3, 2, 1}
	fldA0X        = tokenField{3, 1, 1}
	fldFinal      = tokenField{3, 0, 1}
)

// Operand mux values selecting the bank feeding an input slot.
const (
	muxTemp     = 1
	muxInput    = 2
	muxConstant = 3
)

// Output routing field values.
const (
	outMuxMAC = 0 // MAC result drives the output/constant write
	outMuxILU = 1 // ILU result drives it
	orbOutput = 0 // OUT_ADDRESS names an output register
	orbConst  = 1 // OUT_ADDRESS names a constant register
)

func (c MachineCode) field(f tokenField) uint32 {
	return (c[f.word] >> f.start) & ((1 << f.size) - 1)
}

func (c *MachineCode) setField(f tokenField, val uint32) {
	mask := uint32((1<<f.size)-1) << f.start
	c[f.word] = (c[f.word] &^ mask) | ((val << f.start) & mask)
}

type inputSlotFields struct {
	mux     tokenField
	reg     tokenField
	negate  tokenField
	swizzle [4]tokenField
}

var slotFields = [3]inputSlotFields{
	{fldAMux, fldAR, fldANegate, [4]tokenField{fldASwizzleX, fldASwizzleY, fldASwizzleZ, fldASwizzleW}},
	{fldBMux, fldBR, fldBNegate, [4]tokenField{fldBSwizzleX, fldBSwizzleY, fldBSwizzleZ, fldBSwizzleW}},
	// Slot C's temp register index straddles the word 2/3 boundary and is
	// handled specially in decodeInput/encodeInput.
	{fldCMux, tokenField{}, fldCNegate, [4]tokenField{fldCSwizzleX, fldCSwizzleY, fldCSwizzleZ, fldCSwizzleW}},
}

func (c MachineCode) tempIndexForSlot(slot int) int {
	if slot == 2 {
		return int(c.field(fldCRHigh)<<2 | c.field(fldCRLow))
	}
	return int(c.field(slotFields[slot].reg))
}

func (c *MachineCode) setTempIndexForSlot(slot, index int) {
	if slot == 2 {
		c.setField(fldCRHigh, uint32(index)>>2)
		c.setField(fldCRLow, uint32(index)&3)
		return
	}
	c.setField(slotFields[slot].reg, uint32(index))
}

func (c MachineCode) decodeInput(slot int) (InputParam, error) {
	f := slotFields[slot]
	var p InputParam
	switch c.field(f.mux) {
	case muxTemp:
		p.Bank = BankTemp
		p.Index = c.tempIndexForSlot(slot)
	case muxInput:
		p.Bank = BankInput
		p.Index = int(c.field(fldV))
	case muxConstant:
		p.Bank = BankConstant
		p.Index = int(c.field(fldConst))
		p.Relative = c.field(fldA0X) != 0
	default:
		return p, fmt.Errorf("input slot %c has no source bank", 'A'+slot)
	}
	p.Negate = c.field(f.negate) != 0
	for i, fld := range f.swizzle {
		p.Swizzle[i] = uint8(c.field(fld))
	}
	return p, nil
}

func (c *MachineCode) encodeInput(slot int, p InputParam) error {
	f := slotFields[slot]
	switch p.Bank {
	case BankTemp:
		c.setField(f.mux, muxTemp)
		c.setTempIndexForSlot(slot, p.Index)
	case BankInput:
		c.setField(f.mux, muxInput)
		c.setField(fldV, uint32(p.Index))
	case BankConstant:
		c.setField(f.mux, muxConstant)
		c.setField(fldConst, uint32(p.Index))
		if p.Relative {
			c.setField(fldA0X, 1)
		}
	default:
		return fmt.Errorf("bank %q cannot feed input slot %c", p.Bank.Letter(), 'A'+slot)
	}
	if p.Negate {
		c.setField(f.negate, 1)
	}
	for i, fld := range f.swizzle {
		c.setField(fld, uint32(p.Swizzle[i]))
	}
	return nil
}

// decodeCombinedOutput returns the output/constant write descriptor shared by
// the two units, or nil when the o-mask is empty.
func (c MachineCode) decodeCombinedOutput() *OutputParam {
	mask := c.field(fldOutOMask)
	if mask == 0 {
		return nil
	}
	out := OutputParam{WriteMask: mask, Index: int(c.field(fldOutAddress))}
	if c.field(fldOutORB) == orbConst {
		out.Bank = BankConstant
	} else {
		out.Bank = BankOutput
	}
	return &out
}

// Decode expands a machine-code token into an instruction descriptor.
// A token with neither unit active is rejected.
func Decode(code MachineCode) (*Instruction, error) {
	ins := &Instruction{Code: code, Final: code.field(fldFinal) != 0}

	combined := code.decodeCombinedOutput()

	if macField := code.field(fldMAC); macField != 0 {
		op, ok := opcodeByMacField[macField]
		if !ok {
			return nil, fmt.Errorf("unknown mac opcode field %d", macField)
		}
		sub := &SubOp{Opcode: op}
		if err := collectInputs(code, sub, MacInputSlots(op)); err != nil {
			return nil, err
		}
		if mask := code.field(fldOutMacMask); mask != 0 {
			if op == OpARL {
				sub.Outputs = append(sub.Outputs, OutputParam{Bank: BankAddress, WriteMask: mask})
			} else {
				sub.Outputs = append(sub.Outputs, OutputParam{
					Bank: BankTemp, Index: int(code.field(fldOutR)), WriteMask: mask,
				})
			}
		}
		if combined != nil && code.field(fldOutMux) == outMuxMAC {
			sub.Outputs = append(sub.Outputs, *combined)
		}
		if len(sub.Outputs) == 0 {
			return nil, fmt.Errorf("mac %s writes no destination", op)
		}
		ins.Mac = sub
	}

	if iluField := code.field(fldILU); iluField != 0 {
		op, ok := opcodeByIluField[iluField]
		if !ok {
			return nil, fmt.Errorf("unknown ilu opcode field %d", iluField)
		}
		sub := &SubOp{Opcode: op}
		if err := collectInputs(code, sub, IluInputSlots(op)); err != nil {
			return nil, err
		}
		if mask := code.field(fldOutIluMask); mask != 0 {
			// The ILU can only write temp register R1.
			sub.Outputs = append(sub.Outputs, OutputParam{Bank: BankTemp, Index: 1, WriteMask: mask})
		}
		if combined != nil && code.field(fldOutMux) == outMuxILU {
			sub.Outputs = append(sub.Outputs, *combined)
		}
		if len(sub.Outputs) == 0 {
			return nil, fmt.Errorf("ilu %s writes no destination", op)
		}
		ins.Ilu = sub
	}

	if ins.Mac == nil && ins.Ilu == nil {
		return nil, fmt.Errorf("token %08x %08x %08x %08x encodes no operation",
			code[0], code[1], code[2], code[3])
	}
	return ins, nil
}

func collectInputs(code MachineCode, sub *SubOp, slots int) error {
	for slot, bit := 0, SlotA; slot < 3; slot, bit = slot+1, bit<<1 {
		if slots&bit == 0 {
			continue
		}
		in, err := code.decodeInput(slot)
		if err != nil {
			return fmt.Errorf("%s: %w", sub.Opcode, err)
		}
		sub.Inputs = append(sub.Inputs, in)
	}
	return nil
}
