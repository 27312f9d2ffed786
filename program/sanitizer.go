package program

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"nv2atrace"
)

//  /* Slot 0: 0x00000000 0x0046AC00 0x69FEB800 0x28A00000 */
var xemuSlotRe = regexp.MustCompile(
	`\s*/\*\s+Slot\s+(\d+):\s+(0x[0-9a-fA-F]+)\s+(0x[0-9a-fA-F]+)\s+(0x[0-9a-fA-F]+)\s+(0x[0-9a-fA-F]+)`)

// nv2a_pgraph_method 0: 0x97 -> 0x0680 NV097_SET_COMPOSITE_MATRIX[0] 0x43d0841d
var pgraphMethodRe = regexp.MustCompile(
	`nv2a_pgraph_method\s+(\d+):\s+(0x[0-9a-fA-F]+)\s+->\s+(0x[0-9a-fA-F]+)\s+(?:\S+\s+)?(0x[0-9a-fA-F]+)`)

const (
	nv2aClass3D = 0x97

	// NV097_SET_TRANSFORM_PROGRAM method range.
	transformProgramRangeBase = 0x0B00
	transformProgramRangeEnd  = 0x0B7C
)

// SanitizeSource converts recognized wrapped formats into plain vsh source:
// xemu GLSL with embedded machine code comments, and nv2a pgraph method logs
// carrying a transform program upload. Anything else passes through.
func SanitizeSource(content string) (string, error) {
	if strings.Contains(content, "/* Slot ") {
		result, err := sanitizeXemuGLSL(content)
		if err != nil {
			return "", err
		}
		if result != "" {
			return result, nil
		}
	}

	result, err := sanitizePgraphProgram(content)
	if err != nil {
		return "", err
	}
	if result != "" {
		return result, nil
	}
	return content, nil
}

// sanitizeXemuGLSL extracts machine code from the slot comments xemu writes
// into its translated vertex shader GLSL, then disassembles it. Returns ""
// when the content holds no slot comments.
func sanitizeXemuGLSL(content string) (string, error) {
	var tokens []nv2atrace.MachineCode

	lastSlot := 0
	for _, match := range xemuSlotRe.FindAllStringSubmatch(content, -1) {
		slot, _ := strconv.Atoi(match[1])
		if slot != 0 && slot != lastSlot+1 {
			return "", fmt.Errorf(
				"missing instruction in xemu GLSL shader (expected slot %d but found %d)",
				lastSlot+1, slot)
		}

		var token nv2atrace.MachineCode
		for i := 0; i < 4; i++ {
			word, err := strconv.ParseUint(match[2+i][2:], 16, 32)
			if err != nil {
				return "", fmt.Errorf("slot %d: bad word %q", slot, match[2+i])
			}
			token[i] = uint32(word)
		}
		tokens = append(tokens, token)
		lastSlot = slot
	}

	if len(tokens) == 0 {
		return "", nil
	}
	return disassemble(tokens)
}

// sanitizePgraphProgram extracts the first contiguous transform program
// upload from an nv2a pgraph method log. Returns "" when the content holds
// no upload.
func sanitizePgraphProgram(content string) (string, error) {
	var words []uint32

	for _, line := range strings.Split(content, "\n") {
		match := pgraphMethodRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		class, _ := strconv.ParseUint(match[2][2:], 16, 32)
		if class != nv2aClass3D {
			continue
		}
		op, _ := strconv.ParseUint(match[3][2:], 16, 32)
		param, _ := strconv.ParseUint(match[4][2:], 16, 32)

		if op >= transformProgramRangeBase && op <= transformProgramRangeEnd {
			words = append(words, uint32(param))
		} else if len(words) > 0 {
			break
		}
	}

	if len(words) == 0 {
		return "", nil
	}
	if len(words)%4 != 0 {
		return "", fmt.Errorf("invalid transform program upload: %d words is not divisible by 4", len(words))
	}

	tokens := make([]nv2atrace.MachineCode, len(words)/4)
	for i := range tokens {
		copy(tokens[i][:], words[i*4:i*4+4])
	}
	return disassemble(tokens)
}

func disassemble(tokens []nv2atrace.MachineCode) (string, error) {
	lines := make([]string, len(tokens))
	for i, token := range tokens {
		ins, err := nv2atrace.Decode(token)
		if err != nil {
			return "", fmt.Errorf("instruction %d: %w", i, err)
		}
		lines[i] = ins.Source()
	}
	return strings.Join(lines, "\n"), nil
}
