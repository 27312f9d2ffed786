// Package assembler translates vertex shader source text into machine-code
// tokens.
package assembler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"nv2atrace"
)

// Error is a single assembly failure with its source position.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// ErrorList aggregates per-line failures. Assembly never stops at the first
// bad line; the full list is reported at once.
type ErrorList []Error

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// inLine is one source line split into its "+"-combined operation texts.
type inLine struct {
	raw    string
	number int
	ops    []string
}

func (l inLine) errorf(format string, args ...any) Error {
	return Error{Line: l.number, Column: 1, Message: fmt.Sprintf(format, args...)}
}

// Assemble translates source text into machine-code tokens. On failure the
// token slice is nil and every detected problem is in the error list.
func Assemble(source string) ([]nv2atrace.MachineCode, ErrorList) {
	var tokens []nv2atrace.MachineCode
	var errs ErrorList

	for lineNo, rawLine := range strings.Split(source, "\n") {
		line, ok := parseAsmLine(rawLine, lineNo+1)
		if !ok {
			continue
		}

		code, err := assembleLine(line)
		if err != nil {
			if asmErr, isAsm := err.(Error); isAsm {
				errs = append(errs, asmErr)
			} else {
				errs = append(errs, line.errorf("%s", err.Error()))
			}
			continue
		}
		tokens = append(tokens, code)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	if len(tokens) > 0 {
		// Mark the last instruction as final.
		tokens[len(tokens)-1][3] |= 1
	}
	return tokens, nil
}

// parseAsmLine strips comments and splits an instruction slot into its
// combined operations. Returns ok=false for blank lines.
func parseAsmLine(rawLine string, number int) (inLine, bool) {
	code := rawLine
	for _, marker := range []string{";", "//", "#"} {
		if idx := strings.Index(code, marker); idx >= 0 {
			code = code[:idx]
		}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return inLine{}, false
	}

	// Rejoin split pieces that belong to a relative constant like c[A0+12].
	var ops []string
	for _, part := range strings.Split(code, "+") {
		if len(ops) > 0 {
			prev := ops[len(ops)-1]
			if strings.Count(prev, "[") > strings.Count(prev, "]") {
				ops[len(ops)-1] = prev + "+" + part
				continue
			}
		}
		ops = append(ops, strings.TrimSpace(part))
	}

	return inLine{raw: rawLine, number: number, ops: ops}, true
}

// parsedOp is one mnemonic with its operands, not yet bound to a unit.
type parsedOp struct {
	opcode  nv2atrace.Opcode
	outputs []operand
	inputs  []operand
}

// merge absorbs a repeated operation naming another destination for the same
// computation: identical opcode and inputs, so the bound unit writes both.
// This is how a dual-write instruction (temp plus output register) spells in
// source form.
func (p *parsedOp) merge(op *parsedOp) bool {
	if op.opcode != p.opcode || len(op.inputs) != len(p.inputs) {
		return false
	}
	for i, in := range op.inputs {
		if in != p.inputs[i] {
			return false
		}
	}
	p.outputs = append(p.outputs, op.outputs...)
	return true
}

func assembleLine(line inLine) (nv2atrace.MachineCode, error) {
	var mac, ilu *parsedOp

	for _, text := range line.ops {
		op, err := parseOperation(text, line)
		if err != nil {
			return nv2atrace.MachineCode{}, err
		}

		// Operations that run on either unit (MOV) take the first free one;
		// with both units busy, a repeated op with the same inputs folds into
		// the unit already running it as a second destination.
		switch {
		case op.opcode.IsMAC() && mac == nil:
			mac = op
		case op.opcode.IsILU() && ilu == nil:
			ilu = op
		case mac != nil && mac.merge(op):
		case ilu != nil && ilu.merge(op):
		default:
			return nv2atrace.MachineCode{}, line.errorf("no free execution unit for %s", op.opcode)
		}
	}

	macSub, err := buildSubOp(mac, line)
	if err != nil {
		return nv2atrace.MachineCode{}, err
	}
	iluSub, err := buildSubOp(ilu, line)
	if err != nil {
		return nv2atrace.MachineCode{}, err
	}

	code, err := nv2atrace.Encode(macSub, iluSub)
	if err != nil {
		return nv2atrace.MachineCode{}, line.errorf("%s", err.Error())
	}
	return code, nil
}

// parseOperation splits "MNEMONIC dst, src[, src[, src]]" into a parsedOp.
func parseOperation(text string, line inLine) (*parsedOp, error) {
	mnemonic, rest, found := strings.Cut(text, " ")
	if !found {
		return nil, line.errorf("missing operands in %q", text)
	}
	opcode, ok := nv2atrace.ParseOpcode(strings.ToUpper(mnemonic))
	if !ok || opcode == nv2atrace.OpNOP {
		return nil, line.errorf("unknown mnemonic %q", mnemonic)
	}

	var operands []operand
	for _, field := range strings.Split(rest, ",") {
		op, err := parseOperand(strings.TrimSpace(field))
		if err != nil {
			column := strings.Index(line.raw, strings.TrimSpace(field)) + 1
			if column <= 0 {
				column = 1
			}
			return nil, Error{Line: line.number, Column: column, Message: err.Error()}
		}
		operands = append(operands, op)
	}

	slots := nv2atrace.MacInputSlots(opcode)
	if slots == 0 {
		slots = nv2atrace.IluInputSlots(opcode)
	}
	numInputs := numSlots(slots)
	if len(operands) != numInputs+1 {
		return nil, line.errorf("%s takes %d inputs, got %d operands", opcode, numInputs, len(operands))
	}

	return &parsedOp{opcode: opcode, outputs: []operand{operands[0]}, inputs: operands[1:]}, nil
}

func numSlots(slots int) int {
	count := 0
	for bit := nv2atrace.SlotA; bit <= nv2atrace.SlotC; bit <<= 1 {
		if slots&bit != 0 {
			count++
		}
	}
	return count
}

// buildSubOp converts a parsed operation into the decoded-form descriptor
// the token encoder consumes.
func buildSubOp(op *parsedOp, line inLine) (*nv2atrace.SubOp, error) {
	if op == nil {
		return nil, nil
	}
	sub := &nv2atrace.SubOp{Opcode: op.opcode}

	for _, out := range op.outputs {
		param, err := out.outputParam()
		if err != nil {
			return nil, line.errorf("%s destination: %s", op.opcode, err.Error())
		}
		sub.Outputs = append(sub.Outputs, param)
	}

	for _, in := range op.inputs {
		param, err := in.inputParam()
		if err != nil {
			return nil, line.errorf("%s source: %s", op.opcode, err.Error())
		}
		sub.Inputs = append(sub.Inputs, param)
	}
	return sub, nil
}

// operand is a parsed register operand before encoding.
type operand struct {
	text     string
	negate   bool
	bank     nv2atrace.RegisterBank
	index    int
	suffix   string // swizzle or writemask text, "" when absent
	relative bool
}

func (o operand) inputParam() (nv2atrace.InputParam, error) {
	swizzle, err := nv2atrace.ParseSwizzle(o.suffix)
	if err != nil {
		return nv2atrace.InputParam{}, fmt.Errorf("%s in %q", err.Error(), o.text)
	}
	return nv2atrace.InputParam{
		Bank:     o.bank,
		Index:    o.index,
		Swizzle:  swizzle,
		Negate:   o.negate,
		Relative: o.relative,
	}, nil
}

func (o operand) outputParam() (nv2atrace.OutputParam, error) {
	if o.negate {
		return nv2atrace.OutputParam{}, fmt.Errorf("destination %q cannot be negated", o.text)
	}
	mask, err := nv2atrace.WriteMaskField(o.suffix)
	if err != nil {
		return nv2atrace.OutputParam{}, fmt.Errorf("%s in %q", err.Error(), o.text)
	}
	return nv2atrace.OutputParam{Bank: o.bank, Index: o.index, WriteMask: mask}, nil
}

var (
	tempRe     = regexp.MustCompile(`^[Rr](\d+)$`)
	inputRe    = regexp.MustCompile(`^v(\d+)$`)
	outputRe   = regexp.MustCompile(`^o(\d+)$`)
	constRe    = regexp.MustCompile(`^c(\d+)$`)
	brackRe    = regexp.MustCompile(`^[cC]\[(\d+)\]$`)
	relativeRe = regexp.MustCompile(`^[cC]\[\s*[Aa]0\s*([+-])\s*(\d+)\s*\]$`)
)

// parseOperand parses a single register operand: optional negation, base
// name (plain, bracketed, relative, or symbolic), optional component suffix.
func parseOperand(text string) (operand, error) {
	if text == "" {
		return operand{}, fmt.Errorf("empty operand")
	}

	op := operand{text: text}
	name := text
	if name[0] == '-' {
		op.negate = true
		name = name[1:]
	}

	base, suffix, hasSuffix := strings.Cut(name, ".")
	if hasSuffix {
		if suffix == "" || len(suffix) > 4 || strings.Trim(suffix, "xyzw") != "" {
			return operand{}, fmt.Errorf("invalid component suffix in %q", text)
		}
		op.suffix = suffix
	}

	if idx, ok := nv2atrace.OutputIndexByName[base]; ok {
		op.bank = nv2atrace.BankOutput
		op.index = idx
		return op, nil
	}

	switch {
	case base == "A0" || base == "a0":
		op.bank = nv2atrace.BankAddress
	case tempRe.MatchString(base):
		op.index = atoi(tempRe.FindStringSubmatch(base)[1])
		// R12 is the hardware alias for o0 and stays in the temp bank here.
		if op.index > nv2atrace.NumTempRegisters {
			return operand{}, fmt.Errorf("temp register index out of range in %q", text)
		}
		op.bank = nv2atrace.BankTemp
	case inputRe.MatchString(base):
		op.index = atoi(inputRe.FindStringSubmatch(base)[1])
		if op.index >= nv2atrace.NumInputRegisters {
			return operand{}, fmt.Errorf("input register index out of range in %q", text)
		}
		op.bank = nv2atrace.BankInput
	case outputRe.MatchString(base):
		op.index = atoi(outputRe.FindStringSubmatch(base)[1])
		if _, ok := nv2atrace.OutputNames[op.index]; !ok {
			return operand{}, fmt.Errorf("output register index out of range in %q", text)
		}
		op.bank = nv2atrace.BankOutput
	case constRe.MatchString(base):
		op.index = atoi(constRe.FindStringSubmatch(base)[1])
		op.bank = nv2atrace.BankConstant
	case brackRe.MatchString(base):
		op.index = atoi(brackRe.FindStringSubmatch(base)[1])
		op.bank = nv2atrace.BankConstant
	case relativeRe.MatchString(base):
		m := relativeRe.FindStringSubmatch(base)
		op.index = atoi(m[2])
		if m[1] == "-" {
			op.index = -op.index
		}
		op.bank = nv2atrace.BankConstant
		op.relative = true
	default:
		return operand{}, fmt.Errorf("unknown register %q", base)
	}

	if op.bank == nv2atrace.BankConstant && !op.relative &&
		(op.index < 0 || op.index >= nv2atrace.NumConstantRegisters) {
		return operand{}, fmt.Errorf("constant register index out of range in %q", text)
	}
	return op, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
