package assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nv2atrace"
)

// Assembling canonical source, decoding it, and reconstructing the source
// must reproduce the input exactly.
func TestRoundTrip(t *testing.T) {
	sources := []string{
		"MOV oPos, v0",
		"DP4 oPos.x, v0, c[96]",
		"DP3 R0.w, v1, v1",
		"MUL R2.xyz, v2, c[121]",
		"ADD R0, v0, c[A0+96]",
		"MAD R11, R1, c[121], -R5.w",
		"MUL R2.xyz, v2, c[121] + RSQ R1.w, R3.w",
		"MOV oD0, v3 + MOV R1.xyz, R7",
		"ARL A0.x, v0.x",
		"MOV oT0.xy, v9.yxw",
		"SGE R4.xw, -v1.zzxy, R2",
		"RCC R1.w, R3.w",
		"LIT oD1, R8",
		"MAD R2, v0, c[0], R1 + MAD oPos, v0, c[0], R1",
		"RCP R1.x, R3.w + RCP oFog.x, R3.w",
	}

	for _, source := range sources {
		t.Run(source, func(t *testing.T) {
			tokens, errs := Assemble(source)
			require.Empty(t, errs)
			require.Len(t, tokens, 1)

			ins, err := nv2atrace.Decode(tokens[0])
			require.NoError(t, err)
			assert.Equal(t, source, ins.Source())
		})
	}
}

func TestAssembleNormalizesSugar(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"mov oPos, v0", "MOV oPos, v0"},
		{"MOV o3, v0", "MOV oD0, v0"},
		{"DP4 oPos.x, v0, c96", "DP4 oPos.x, v0, c[96]"},
		{"MOV R0, v0.xyzz", "MOV R0, v0.xyz"},
		{"MOV R0.xyzw, v0.xyzw", "MOV R0, v0"},
	}

	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			tokens, errs := Assemble(tc.source)
			require.Empty(t, errs)
			require.Len(t, tokens, 1)
			ins, err := nv2atrace.Decode(tokens[0])
			require.NoError(t, err)
			assert.Equal(t, tc.want, ins.Source())
		})
	}
}

func TestAssembleCommentsAndBlanks(t *testing.T) {
	tokens, errs := Assemble(`
; full line comment
MOV oPos, v0  // trailing comment

MOV oD0, v3   # hash comment
`)
	require.Empty(t, errs)
	assert.Len(t, tokens, 2)
}

func TestAssembleFinalBit(t *testing.T) {
	tokens, errs := Assemble("MOV R0, v0\nMOV oPos, R0")
	require.Empty(t, errs)
	require.Len(t, tokens, 2)
	assert.Zero(t, tokens[0][3]&1)
	assert.Equal(t, uint32(1), tokens[1][3]&1)
}

func TestAssembleErrorsAreAggregated(t *testing.T) {
	tokens, errs := Assemble(`
BOGUS R0, v0
MOV oPos, v0
FROB R1, v1, v2
MOV R0, v0, v1
`)
	assert.Nil(t, tokens)
	require.Len(t, errs, 3)
	assert.Equal(t, 2, errs[0].Line)
	assert.Contains(t, errs[0].Message, "BOGUS")
	assert.Equal(t, 4, errs[1].Line)
	assert.Equal(t, 5, errs[2].Line)
	assert.Contains(t, errs[2].Message, "inputs")

	assert.Contains(t, errs.Error(), "2:1:")
}

func TestAssembleOperandErrors(t *testing.T) {
	for _, source := range []string{
		"MOV oPos, v16",
		"MOV oPos, q3",
		"MOV R13, v0",
		"MOV o1, v0",
		"MOV oPos.q, v0",
		"MOV -R0, v0",
		"MOV oPos, c[200]",
		"RCP R2.x, v0.x",
		"MUL R0, v0, v1 + MUL R1, v2, v3",
	} {
		t.Run(source, func(t *testing.T) {
			tokens, errs := Assemble(source)
			assert.Nil(t, tokens)
			assert.NotEmpty(t, errs)
		})
	}
}

// A repeated opcode with identical inputs is a dual write: one unit writing
// both a temp and an output register, not a second execution unit.
func TestAssembleDualWrite(t *testing.T) {
	tokens, errs := Assemble("MAD R2, v0, c[0], R1 + MAD oPos, v0, c[0], R1")
	require.Empty(t, errs)
	require.Len(t, tokens, 1)

	ins, err := nv2atrace.Decode(tokens[0])
	require.NoError(t, err)
	require.NotNil(t, ins.Mac)
	assert.Nil(t, ins.Ilu)

	require.Len(t, ins.Mac.Outputs, 2)
	assert.Equal(t, nv2atrace.BankTemp, ins.Mac.Outputs[0].Bank)
	assert.Equal(t, 2, ins.Mac.Outputs[0].Index)
	assert.Equal(t, nv2atrace.BankOutput, ins.Mac.Outputs[1].Bank)
	assert.Equal(t, 0, ins.Mac.Outputs[1].Index)

	// A unit has one temp-side write and one output/constant write; a third
	// destination of either kind cannot be encoded.
	for _, source := range []string{
		"MAD R2, v0, c[0], R1 + MAD R3, v0, c[0], R1",
		"MAD oPos, v0, c[0], R1 + MAD oD0, v0, c[0], R1",
	} {
		tokens, errs := Assemble(source)
		assert.Nil(t, tokens, "expected conflict for %q", source)
		assert.NotEmpty(t, errs)
	}
}

func TestAssembleSharedOperandConflicts(t *testing.T) {
	// One slot can address only one input and one constant register.
	for _, source := range []string{
		"MUL R0, v0, v1",
		"ADD R0, c[1], c[2]",
		"MOV R2, v0 + RCP R1.x, v1.x",
	} {
		t.Run(source, func(t *testing.T) {
			tokens, errs := Assemble(source)
			assert.Nil(t, tokens, "expected conflict for %q", source)
			assert.NotEmpty(t, errs)
		})
	}

	// The same register may feed several slots.
	tokens, errs := Assemble("MUL R0, v0, v0.w + RCP R1.x, v0.x")
	assert.Empty(t, errs)
	assert.Len(t, tokens, 1)
}
