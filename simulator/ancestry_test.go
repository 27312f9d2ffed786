package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTrace(t *testing.T, source string) *Trace {
	t.Helper()
	shader := NewShader()
	errs, err := shader.SetSource(source)
	require.NoError(t, err)
	require.Empty(t, errs)
	trace, err := shader.Explain(true)
	require.NoError(t, err)
	return trace
}

func referenceStrings(refs []RegisterReference) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}

func TestAncestryNoPriorSteps(t *testing.T) {
	trace := buildTrace(t, "MUL oPos, v0, c[0]")
	step := trace.Steps()[0]

	ancestry, err := step.AncestorsForStage(StageMAC)
	require.NoError(t, err)
	assert.Empty(t, ancestry.Ancestors)
	assert.Equal(t, []string{"v0", "c[0]"}, referenceStrings(ancestry.Unsatisfied))
}

func TestAncestryPartialCoverage(t *testing.T) {
	trace := buildTrace(t, `
MOV R0.xy, v0
MOV R1.zw, v1
ADD R2, R0, R1
`)
	steps := trace.Steps()
	ancestry, err := steps[2].AncestorsForStage(StageMAC)
	require.NoError(t, err)

	require.Len(t, ancestry.Ancestors, 2)
	// Reverse scan order: the R1 write is found first.
	assert.Equal(t, 1, ancestry.Ancestors[0].Step.Index())
	assert.Equal(t, StageMAC, ancestry.Ancestors[0].Stage)
	assert.Equal(t, []AncestorComponent{{Register: "R1", Mask: "zw"}}, ancestry.Ancestors[0].Components)
	assert.Equal(t, 0, ancestry.Ancestors[1].Step.Index())
	assert.Equal(t, []AncestorComponent{{Register: "R0", Mask: "xy"}}, ancestry.Ancestors[1].Components)

	assert.Equal(t, []string{"R0.zw", "R1.xy"}, referenceStrings(ancestry.Unsatisfied))
}

func TestAncestryShadowing(t *testing.T) {
	trace := buildTrace(t, `
MOV R0, v0
MOV R0.x, v1
ADD oPos, R0, v2
`)
	steps := trace.Steps()
	ancestry, err := steps[2].AncestorsForStage(StageMAC)
	require.NoError(t, err)

	require.Len(t, ancestry.Ancestors, 2)
	// The closer write shadows the x component of the earlier full write.
	assert.Equal(t, 1, ancestry.Ancestors[0].Step.Index())
	assert.Equal(t, []AncestorComponent{{Register: "R0", Mask: "x"}}, ancestry.Ancestors[0].Components)
	assert.Equal(t, 0, ancestry.Ancestors[1].Step.Index())
	assert.Equal(t, []AncestorComponent{{Register: "R0", Mask: "yzw"}}, ancestry.Ancestors[1].Components)

	assert.Equal(t, []string{"v2"}, referenceStrings(ancestry.Unsatisfied))
}

func TestAncestryFullCoverageStopsEarly(t *testing.T) {
	trace := buildTrace(t, `
MOV R0, v0
MOV R0, v1
MOV oPos, R0
`)
	ancestry, err := trace.Steps()[2].AncestorsForStage(StageMAC)
	require.NoError(t, err)

	// The second write fully satisfies the read; the first never appears.
	require.Len(t, ancestry.Ancestors, 1)
	assert.Equal(t, 1, ancestry.Ancestors[0].Step.Index())
	assert.Empty(t, ancestry.Unsatisfied)
}

func TestAncestryPairedStages(t *testing.T) {
	trace := buildTrace(t, `
MOV R2.x, v0 + RCP R1.x, v0.x
ADD oPos.x, R2.x, R1.x
`)
	ancestry, err := trace.Steps()[1].AncestorsForStage(StageMAC)
	require.NoError(t, err)

	require.Len(t, ancestry.Ancestors, 2)
	stages := map[Stage][]AncestorComponent{}
	for _, anc := range ancestry.Ancestors {
		assert.Equal(t, 0, anc.Step.Index())
		stages[anc.Stage] = anc.Components
	}
	assert.Equal(t, []AncestorComponent{{Register: "R2", Mask: "x"}}, stages[StageMAC])
	assert.Equal(t, []AncestorComponent{{Register: "R1", Mask: "x"}}, stages[StageILU])
	assert.Empty(t, ancestry.Unsatisfied)
}

func TestAncestryRelativeConstantReadsAddress(t *testing.T) {
	trace := buildTrace(t, `
ARL A0.x, v0.x
MOV oPos, c[A0+96]
`)
	ancestry, err := trace.Steps()[1].AncestorsForStage(StageMAC)
	require.NoError(t, err)

	require.Len(t, ancestry.Ancestors, 1)
	assert.Equal(t, 0, ancestry.Ancestors[0].Step.Index())
	assert.Equal(t, []AncestorComponent{{Register: "A0", Mask: "x"}}, ancestry.Ancestors[0].Components)
	// The constant itself is a program input.
	assert.Equal(t, []string{"c[A0+96]", "A0.yzw"}, referenceStrings(ancestry.Unsatisfied))
}

func TestCollectContributorsDiamond(t *testing.T) {
	trace := buildTrace(t, `
MOV R0, v0
MOV R1.x, R0.x
MOV R2.x, R0.y
ADD R3.x, R1.x, R2.x
`)
	steps := trace.Steps()
	links, inputs, err := CollectContributors(steps[3])
	require.NoError(t, err)

	// Root pseudo-link, the two intermediate writes, and two distinct links
	// to step 0 (one per consumed component set).
	assert.Len(t, links, 5)
	stepCounts := map[int]int{}
	for _, link := range links {
		stepCounts[link.Step.Index()]++
	}
	assert.Equal(t, map[int]int{0: 2, 1: 1, 2: 1, 3: 1}, stepCounts)

	// The shared origin's input appears exactly once.
	assert.Equal(t, []string{"v0"}, referenceStrings(inputs))
}

func TestCollectContributorsExcludesUnrelated(t *testing.T) {
	trace := buildTrace(t, `
MOV R0.x, v0
MOV R3, v3
ADD oPos, R0, v1
`)
	steps := trace.Steps()
	links, inputs, err := CollectContributors(steps[2])
	require.NoError(t, err)

	for _, link := range links {
		assert.NotEqual(t, 1, link.Step.Index(), "unrelated step must not contribute")
	}
	assert.ElementsMatch(t, []string{"R0.yzw", "v0", "v1"}, referenceStrings(inputs))
}

func TestCollectContributorsWithoutAncestryFails(t *testing.T) {
	shader := NewShader()
	errs, err := shader.SetSource("MOV oPos, v0")
	require.NoError(t, err)
	require.Empty(t, errs)
	trace, err := shader.Explain(false)
	require.NoError(t, err)

	_, _, err = CollectContributors(trace.Steps()[0])
	assert.Error(t, err)
}
