package program

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nv2atrace"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const meshCSV = `VTX, IDX, v0.x, v0.y, v0.z, v0.w, v3.x
0, 2, 5.0, 6.0, 7.0, 1.0, 0.25
1, 0, 1.0, 2.0, 3.0, 1.0, 0.5
2, 2, 5.5, 6.5, 7.5, 1.0, 0.75
`

const constantsCSV = `Name, Value
c[96], "1.0, 2.0, 3.0, 4.0"
other, "ignored"
c[191], "-1.0, 0.0, 0.5, 1.0"
`

func TestProgramLoad(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "shader.vsh", "MOV oPos, v0\nMOV oD0, c[96]\n")
	inputs := writeFile(t, dir, "inputs.json", `{"input": [["v7", 9, 9, 9, 9]]}`)
	mesh := writeFile(t, dir, "mesh.csv", meshCSV)
	constants := writeFile(t, dir, "constants.csv", constantsCSV)

	prog, err := Load(source, inputs, mesh, constants)
	require.NoError(t, err)

	ctx := prog.Trace().InputContext()

	// First mesh row feeds the input bank.
	v0, err := ctx.Get("v0")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{5, 6, 7, 1}, v0)
	v3, err := ctx.Get("v3")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{0.25, 0, 0, 0}, v3)

	// JSON state and constants CSV are merged in.
	v7, err := ctx.Get("v7")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{9, 9, 9, 9}, v7)
	c96, err := ctx.Get("c[96]")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{1, 2, 3, 4}, c96)
	c191, err := ctx.Get("c[191]")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{-1, 0, 0.5, 1}, c191)

	// The trace ran both instructions.
	require.Len(t, prog.Trace().Steps(), 2)
	oPos, err := prog.Trace().OutputContext().Get("oPos")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{5, 6, 7, 1}, oPos)
}

func TestProgramVertexSelection(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "shader.vsh", "MOV oPos, v0\n")
	mesh := writeFile(t, dir, "mesh.csv", meshCSV)

	prog, err := Load(source, "", mesh, "")
	require.NoError(t, err)

	deduped := prog.DedupedOrderedVertices()
	require.Len(t, deduped, 2)
	assert.Equal(t, 0, deduped[0].Index)
	assert.Equal(t, 2, deduped[1].Index)
	// Later duplicate rows win.
	assert.Equal(t, "5.5", deduped[1].Fields["v0.x"])

	rebuilt, err := prog.SetActiveVertex(1)
	require.NoError(t, err)
	assert.True(t, rebuilt)

	v0, err := prog.Trace().InputContext().Get("v0")
	require.NoError(t, err)
	assert.Equal(t, nv2atrace.Vector{1, 2, 3, 1}, v0)

	rebuilt, err = prog.SetActiveVertex(1)
	require.NoError(t, err)
	assert.False(t, rebuilt)

	_, err = prog.SetActiveVertex(99)
	assert.Error(t, err)
}

func TestProgramSimulateAllVertices(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "shader.vsh", "MOV oPos, v0\n")
	mesh := writeFile(t, dir, "mesh.csv", meshCSV)

	prog, err := Load(source, "", mesh, "")
	require.NoError(t, err)

	results, err := prog.SimulateAllVertices()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 2, results[1].Index)

	wantPos := map[int]nv2atrace.Vector{
		0: {1, 2, 3, 1},
		2: {5.5, 6.5, 7.5, 1},
	}
	for _, result := range results {
		found := false
		for _, reg := range result.Output.Output {
			if reg.Name == "o0" {
				assert.Equal(t, wantPos[result.Index], reg.Vector())
				found = true
			}
		}
		assert.True(t, found, "vertex %d has no oPos", result.Index)
	}
}

func TestProgramAssemblyFailure(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "shader.vsh", "FROB R0, v0\n")
	_, err := Load(source, "", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FROB")
}
