package nv2atrace

import (
	"errors"
	"fmt"
)

// sharedOperands tracks the operand fields both execution units read from the
// same token: the three input slots, one input register, one constant
// register, and the relative addressing flag. Conflicting claims cannot be
// encoded.
type sharedOperands struct {
	slots    [3]*InputParam
	vIndex   int
	cIndex   int
	relative bool
}

// Encode packs a pair of sub-operations into a machine-code token. Either
// unit may be nil, but not both. The FINAL bit is left clear; callers mark
// the last token of a program themselves.
func Encode(mac, ilu *SubOp) (MachineCode, error) {
	var code MachineCode
	if mac == nil && ilu == nil {
		return code, errors.New("token encodes no operation")
	}

	shared := sharedOperands{vIndex: -1, cIndex: -1}
	combinedClaimed := false

	if mac != nil {
		field, ok := macFieldByOpcode[mac.Opcode]
		if !ok {
			return code, fmt.Errorf("%s is not a mac operation", mac.Opcode)
		}
		code.setField(fldMAC, field)
		if err := code.encodeSlots(mac, MacInputSlots(mac.Opcode), &shared); err != nil {
			return code, err
		}
		tempClaimed := false
		for _, out := range mac.Outputs {
			switch out.Bank {
			case BankAddress:
				if mac.Opcode != OpARL {
					return code, fmt.Errorf("%s cannot write the address register", mac.Opcode)
				}
				if tempClaimed {
					return code, fmt.Errorf("mac %s claims two temp-side destinations", mac.Opcode)
				}
				tempClaimed = true
				code.setField(fldOutMacMask, out.WriteMask)
			case BankTemp:
				if tempClaimed {
					return code, fmt.Errorf("mac %s claims two temp-side destinations", mac.Opcode)
				}
				tempClaimed = true
				code.setField(fldOutMacMask, out.WriteMask)
				code.setField(fldOutR, uint32(out.Index))
			case BankOutput, BankConstant:
				if combinedClaimed {
					return code, errors.New("the shared output write is already claimed")
				}
				combinedClaimed = true
				code.encodeCombinedOutput(out, outMuxMAC)
			default:
				return code, fmt.Errorf("mac %s cannot write %s", mac.Opcode, out.Source())
			}
		}
	}

	if ilu != nil {
		field, ok := iluFieldByOpcode[ilu.Opcode]
		if !ok {
			return code, fmt.Errorf("%s is not an ilu operation", ilu.Opcode)
		}
		code.setField(fldILU, field)
		if err := code.encodeSlots(ilu, IluInputSlots(ilu.Opcode), &shared); err != nil {
			return code, err
		}
		tempClaimed := false
		for _, out := range ilu.Outputs {
			switch out.Bank {
			case BankTemp:
				// The ILU result bus only reaches R1.
				if out.Index != 1 {
					return code, fmt.Errorf("ilu %s can only write temp register R1", ilu.Opcode)
				}
				if tempClaimed {
					return code, fmt.Errorf("ilu %s claims two temp-side destinations", ilu.Opcode)
				}
				tempClaimed = true
				code.setField(fldOutIluMask, out.WriteMask)
			case BankOutput, BankConstant:
				if combinedClaimed {
					return code, errors.New("the shared output write is already claimed")
				}
				combinedClaimed = true
				code.encodeCombinedOutput(out, outMuxILU)
			default:
				return code, fmt.Errorf("ilu %s cannot write %s", ilu.Opcode, out.Source())
			}
		}
	}

	return code, nil
}

// encodeSlots distributes a sub-operation's ordered inputs across the slots
// its opcode consumes, checking the shared-operand constraints.
func (c *MachineCode) encodeSlots(sub *SubOp, slots int, shared *sharedOperands) error {
	count := 0
	for bit := SlotA; bit <= SlotC; bit <<= 1 {
		if slots&bit != 0 {
			count++
		}
	}
	if len(sub.Inputs) != count {
		return fmt.Errorf("%s takes %d inputs, got %d", sub.Opcode, count, len(sub.Inputs))
	}

	next := 0
	for slot, bit := 0, SlotA; slot < 3; slot, bit = slot+1, bit<<1 {
		if slots&bit == 0 {
			continue
		}
		in := sub.Inputs[next]
		next++

		if prev := shared.slots[slot]; prev != nil {
			if *prev != in {
				return fmt.Errorf("both units claim input slot %c with different operands", 'A'+slot)
			}
			continue
		}

		switch in.Bank {
		case BankInput:
			if shared.vIndex >= 0 && shared.vIndex != in.Index {
				return fmt.Errorf("one slot can read only one input register (v%d and v%d)",
					shared.vIndex, in.Index)
			}
			shared.vIndex = in.Index
		case BankConstant:
			if shared.cIndex >= 0 && (shared.cIndex != in.Index || shared.relative != in.Relative) {
				return errors.New("one slot can read only one constant register")
			}
			shared.cIndex = in.Index
			shared.relative = in.Relative
		}

		if err := c.encodeInput(slot, in); err != nil {
			return fmt.Errorf("%s: %w", sub.Opcode, err)
		}
		claimed := in
		shared.slots[slot] = &claimed
	}
	return nil
}

func (c *MachineCode) encodeCombinedOutput(out OutputParam, mux uint32) {
	c.setField(fldOutOMask, out.WriteMask)
	c.setField(fldOutAddress, uint32(out.Index))
	c.setField(fldOutMux, mux)
	if out.Bank == BankConstant {
		c.setField(fldOutORB, orbConst)
	} else {
		c.setField(fldOutORB, orbOutput)
	}
}
