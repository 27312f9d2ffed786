package emu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nv2atrace"
	"nv2atrace/assembler"
)

func assembleOne(t *testing.T, source string) *nv2atrace.Instruction {
	t.Helper()
	tokens, errs := assembler.Assemble(source)
	require.Empty(t, errs)
	require.Len(t, tokens, 1)
	ins, err := nv2atrace.Decode(tokens[0])
	require.NoError(t, err)
	return ins
}

func apply(t *testing.T, state *State, source string) {
	t.Helper()
	require.NoError(t, state.Apply(assembleOne(t, source)))
}

func TestApplyMacOps(t *testing.T) {
	tests := []struct {
		source string
		want   nv2atrace.Vector
	}{
		{"MOV R2, v0", nv2atrace.Vector{1, 2, 3, 4}},
		{"MUL R2, v0, c[0]", nv2atrace.Vector{2, 6, 12, 20}},
		{"ADD R2, v0, c[0]", nv2atrace.Vector{3, 5, 7, 9}},
		{"MAD R2, v0, c[0], v0", nv2atrace.Vector{3, 8, 15, 24}},
		{"DP3 R2, v0, c[0]", nv2atrace.Vector{20, 20, 20, 20}},
		{"DPH R2, v0, c[0]", nv2atrace.Vector{25, 25, 25, 25}},
		{"DP4 R2, v0, c[0]", nv2atrace.Vector{40, 40, 40, 40}},
		{"DST R2, v0, c[0]", nv2atrace.Vector{1, 6, 3, 5}},
		{"MIN R2, v0, c[0]", nv2atrace.Vector{1, 2, 3, 4}},
		{"MAX R2, v0, c[0]", nv2atrace.Vector{2, 3, 4, 5}},
		{"SLT R2, v0, c[0]", nv2atrace.Vector{1, 1, 1, 1}},
		{"SGE R2, v0, c[0]", nv2atrace.Vector{0, 0, 0, 0}},
		{"MOV R2, -v0", nv2atrace.Vector{-1, -2, -3, -4}},
		{"MOV R2, v0.wzyx", nv2atrace.Vector{4, 3, 2, 1}},
		{"MOV R2, v0.y", nv2atrace.Vector{2, 2, 2, 2}},
	}

	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			state := New()
			state.Input[0] = nv2atrace.Vector{1, 2, 3, 4}
			state.Constant[0] = nv2atrace.Vector{2, 3, 4, 5}
			apply(t, state, tc.source)
			assert.Equal(t, tc.want, state.Temp[2])
		})
	}
}

func TestApplyIluOps(t *testing.T) {
	const eps = 1e-5

	t.Run("RCP", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{4, 0, 0, 0}
		apply(t, state, "RCP R1, v0.x")
		assert.InDelta(t, 0.25, state.Temp[1][0], eps)
	})

	t.Run("RCP of exactly one is exactly one", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{1, 0, 0, 0}
		apply(t, state, "RCP R1, v0.x")
		assert.Equal(t, float32(1), state.Temp[1][0])
	})

	t.Run("RCP of zero is +Inf", func(t *testing.T) {
		state := New()
		apply(t, state, "RCP R1, v0.x")
		assert.True(t, math.IsInf(float64(state.Temp[1][0]), 1))
	})

	t.Run("RCC clamps", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{1e-30, 0, 0, 0}
		apply(t, state, "RCC R1, v0.x")
		assert.InDelta(t, rccMax, float64(state.Temp[1][0]), 5e12)

		state = New()
		state.Input[0] = nv2atrace.Vector{-1e-30, 0, 0, 0}
		apply(t, state, "RCC R1, v0.x")
		assert.InDelta(t, -rccMax, float64(state.Temp[1][0]), 5e12)
	})

	t.Run("RSQ uses the absolute value", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{-16, 0, 0, 0}
		apply(t, state, "RSQ R1, v0.x")
		assert.InDelta(t, 0.25, state.Temp[1][0], eps)
	})

	t.Run("EXP splits integer and fraction", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{2.5, 0, 0, 0}
		apply(t, state, "EXP R1, v0.x")
		assert.InDelta(t, 4, state.Temp[1][0], eps)
		assert.InDelta(t, 0.5, state.Temp[1][1], eps)
		assert.InDelta(t, math.Exp2(2.5), float64(state.Temp[1][2]), 1e-3)
		assert.Equal(t, float32(1), state.Temp[1][3])
	})

	t.Run("LOG splits exponent and mantissa", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{12, 0, 0, 0}
		apply(t, state, "LOG R1, v0.x")
		assert.InDelta(t, 3, state.Temp[1][0], eps)
		assert.InDelta(t, 1.5, state.Temp[1][1], eps)
		assert.InDelta(t, math.Log2(12), float64(state.Temp[1][2]), 1e-3)
	})

	t.Run("LIT with positive diffuse", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{0.5, 0.25, 0, 2}
		apply(t, state, "LIT R1, v0")
		assert.Equal(t, float32(1), state.Temp[1][0])
		assert.InDelta(t, 0.5, state.Temp[1][1], eps)
		assert.InDelta(t, 0.0625, state.Temp[1][2], eps)
		assert.Equal(t, float32(1), state.Temp[1][3])
	})

	t.Run("LIT with non-positive diffuse", func(t *testing.T) {
		state := New()
		state.Input[0] = nv2atrace.Vector{-0.5, 0.25, 0, 2}
		apply(t, state, "LIT R1, v0")
		assert.Equal(t, nv2atrace.Vector{1, 0, 0, 1}, state.Temp[1])
	})
}

func TestApplyARL(t *testing.T) {
	state := New()
	state.Input[0] = nv2atrace.Vector{-1.5, 0, 0, 0}
	apply(t, state, "ARL A0.x, v0.x")
	assert.Equal(t, float32(-2), state.Address[0])
}

func TestApplyWriteMask(t *testing.T) {
	state := New()
	state.Input[0] = nv2atrace.Vector{1, 2, 3, 4}
	state.Temp[3] = nv2atrace.Vector{9, 9, 9, 9}
	apply(t, state, "MOV R3.yw, v0")
	assert.Equal(t, nv2atrace.Vector{9, 2, 9, 4}, state.Temp[3])
}

func TestApplyParallelStagesReadOldState(t *testing.T) {
	state := New()
	state.Input[0] = nv2atrace.Vector{2, 0, 0, 0}
	state.Temp[2] = nv2atrace.Vector{4, 0, 0, 0}

	// The ILU reads R2 before the MAC's write to it lands.
	apply(t, state, "MOV R2.x, v0 + RCP R1.x, R2.x")
	assert.Equal(t, float32(2), state.Temp[2][0])
	assert.Equal(t, float32(0.25), state.Temp[1][0])
}

func TestApplyRelativeConstant(t *testing.T) {
	state := New()
	state.Address = nv2atrace.Vector{3, 0, 0, 0}
	state.Constant[99] = nv2atrace.Vector{7, 8, 9, 10}
	apply(t, state, "MOV R0, c[A0+96]")
	assert.Equal(t, nv2atrace.Vector{7, 8, 9, 10}, state.Temp[0])
}

func TestApplyOutputWrite(t *testing.T) {
	state := New()
	state.Input[0] = nv2atrace.Vector{1, 2, 3, 4}
	apply(t, state, "MOV oD0, v0")
	assert.Equal(t, nv2atrace.Vector{1, 2, 3, 4}, state.Output[3])
}

func TestRegisterValueRoundTrip(t *testing.T) {
	state := New()
	require.NoError(t, state.SetRegisterValue("c98", nv2atrace.Vector{1, 2, 3, 4}))
	val, err := state.RegisterValue("c98")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{1, 2, 3, 4}, val)

	// R12 aliases o0.
	require.NoError(t, state.SetRegisterValue("R12", nv2atrace.Vector{5, 0, 0, 0}))
	val, err = state.RegisterValue("o0")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{5, 0, 0, 0}, val)

	_, err = state.RegisterValue("v99")
	assert.Error(t, err)
	_, err = state.RegisterValue("bogus")
	assert.Error(t, err)
}
