package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegisterReference(t *testing.T) {
	tests := []struct {
		source string
		want   RegisterReference
	}{
		{
			source: "-v1.wyx",
			want: RegisterReference{
				Negate:        true,
				RawName:       "v1",
				CanonicalName: "v1",
				Mask:          "wyx",
				SortedMask:    "xyw",
				ExtendedMask:  "wyxx",
			},
		},
		{
			source: "R2",
			want: RegisterReference{
				RawName:       "R2",
				CanonicalName: "R2",
				Mask:          "xyzw",
				SortedMask:    "xyzw",
				ExtendedMask:  "xyzw",
			},
		},
		{
			source: "R12.xy",
			want: RegisterReference{
				RawName:       "R12",
				CanonicalName: "o0",
				Mask:          "xy",
				SortedMask:    "xy",
				ExtendedMask:  "xyyy",
			},
		},
		{
			source: "oD0.z",
			want: RegisterReference{
				RawName:       "oD0",
				CanonicalName: "o3",
				Mask:          "z",
				SortedMask:    "z",
				ExtendedMask:  "zzzz",
			},
		},
		{
			source: "c[96]",
			want: RegisterReference{
				RawName:       "c[96]",
				CanonicalName: "c96",
				Mask:          "xyzw",
				SortedMask:    "xyzw",
				ExtendedMask:  "xyzw",
			},
		},
		{
			source: "-c[A0+96].xyz",
			want: RegisterReference{
				Negate:        true,
				RawName:       "c[A0+96]",
				CanonicalName: "cA0+96",
				Mask:          "xyz",
				SortedMask:    "xyz",
				ExtendedMask:  "xyzz",
			},
		},
		{
			source: "A0.x",
			want: RegisterReference{
				RawName:       "A0",
				CanonicalName: "A0",
				Mask:          "x",
				SortedMask:    "x",
				ExtendedMask:  "xxxx",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			got, err := ParseRegisterReference(tc.source)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRegisterReferenceErrors(t *testing.T) {
	for _, source := range []string{
		"",
		"q3",
		"v1.",
		"v1.abc",
		"v1.xyzwx",
		"oBogus",
		"c[A0*3]",
		"-.xy",
	} {
		t.Run(source, func(t *testing.T) {
			_, err := ParseRegisterReference(source)
			assert.Error(t, err)
		})
	}
}

func TestMaskBits(t *testing.T) {
	assert.Equal(t, MaskBits(0b0011), MaskBitsOf("yx"))
	assert.Equal(t, MaskBits(0b1011), MaskBitsOf("wyx"))
	assert.Equal(t, maskFull, MaskBitsOf("xyzw"))
	assert.Equal(t, maskFull, MaskBitsOf("xxyyzzww"))

	assert.Equal(t, "xyw", MaskBits(0b1011).String())
	assert.Equal(t, "", MaskBits(0).String())
	assert.True(t, MaskBits(0).Empty())
	assert.False(t, MaskBitsOf("z").Empty())
}

func TestLossyMerge(t *testing.T) {
	parse := func(source string) RegisterReference {
		ref, err := ParseRegisterReference(source)
		require.NoError(t, err)
		return ref
	}

	t.Run("disjoint masks union", func(t *testing.T) {
		merged := parse("v0.xy").LossyMerge(parse("v0.zw"))
		assert.Equal(t, "xyzw", merged.Mask)
		assert.Equal(t, "xyzw", merged.SortedMask)
		assert.Empty(t, merged.ExtendedMask)
		assert.False(t, merged.Negate)
	})

	t.Run("negation cleared", func(t *testing.T) {
		merged := parse("-v0.x").LossyMerge(parse("v0.y"))
		assert.False(t, merged.Negate)
		assert.Equal(t, "xy", merged.Mask)
	})

	t.Run("identical reference unchanged", func(t *testing.T) {
		ref := parse("-v0.xy")
		assert.Equal(t, ref, ref.LossyMerge(parse("-v0.xy")))
	})

	t.Run("different register unchanged", func(t *testing.T) {
		ref := parse("v0.xy")
		assert.Equal(t, ref, ref.LossyMerge(parse("v1.zw")))
	})
}

func TestPendingInputSatisfy(t *testing.T) {
	ref, err := ParseRegisterReference("R0.xyz")
	require.NoError(t, err)
	pending := newPendingInput(ref)

	out, err := ParseRegisterReference("R0.x")
	require.NoError(t, err)
	assert.Equal(t, MaskBitsOf("x"), pending.satisfy(out))

	// Already consumed components no longer overlap.
	assert.Equal(t, MaskBits(0), pending.satisfy(out))

	other, err := ParseRegisterReference("R1.yz")
	require.NoError(t, err)
	assert.Equal(t, MaskBits(0), pending.satisfy(other))

	left := pending.unsatisfiedReference()
	assert.Equal(t, "yz", left.Mask)
	assert.Equal(t, "yz", left.SortedMask)
	assert.Equal(t, "R0", left.RawName)
	assert.False(t, left.Negate)
	assert.Empty(t, left.ExtendedMask)
}
