// Package program loads a shader program bundle: vsh source plus optional
// initial-state files, and builds traces from them.
package program

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"nv2atrace"
	"nv2atrace/simulator"
)

// constantNameRe matches RenderDoc's constant register naming, e.g. "c[97]".
var constantNameRe = regexp.MustCompile(`^c\[(\d+)\]`)

// Vertex is one row of a RenderDoc mesh export.
type Vertex struct {
	Index  int // the IDX column
	Fields map[string]string
}

// Program bundles a shader with the files seeding its initial register
// state: an optional JSON state file, an optional RenderDoc mesh CSV whose
// active row feeds the input bank, and an optional RenderDoc constants CSV
// feeding the constant bank.
type Program struct {
	SourcePath    string
	InputsPath    string
	MeshPath      string
	ConstantsPath string

	sourceCode string
	inputs     simulator.RegisterFileState
	vertices   []Vertex
	active     int // index into vertices, -1 without a mesh
	constants  []nv2atrace.Register

	shader *simulator.Shader
	trace  *simulator.Trace
}

// Load reads the bundle files and builds the first trace. All paths except
// the source are optional.
func Load(sourcePath, inputsPath, meshPath, constantsPath string) (*Program, error) {
	p := &Program{
		SourcePath:    sourcePath,
		InputsPath:    inputsPath,
		MeshPath:      meshPath,
		ConstantsPath: constantsPath,
		active:        -1,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rereads every bundle file and rebuilds the trace.
func (p *Program) Reload() error {
	data, err := os.ReadFile(p.SourcePath)
	if err != nil {
		return fmt.Errorf("reading shader source: %w", err)
	}
	p.sourceCode = string(data)

	p.inputs = simulator.RegisterFileState{}
	if p.InputsPath != "" {
		data, err := os.ReadFile(p.InputsPath)
		if err != nil {
			return fmt.Errorf("reading initial state: %w", err)
		}
		if err := json.Unmarshal(data, &p.inputs); err != nil {
			return fmt.Errorf("parsing initial state %s: %w", p.InputsPath, err)
		}
	}

	p.vertices = nil
	p.active = -1
	if p.MeshPath != "" {
		if p.vertices, err = loadMeshCSV(p.MeshPath); err != nil {
			return err
		}
		if len(p.vertices) > 0 {
			p.active = 0
		}
	}

	p.constants = nil
	if p.ConstantsPath != "" {
		if p.constants, err = loadConstantsCSV(p.ConstantsPath); err != nil {
			return err
		}
	}

	return p.Rebuild()
}

// Rebuild constructs a fresh shader from the loaded content: seed the
// initial state, merge the active vertex and constants over it, assemble,
// and trace with ancestry.
func (p *Program) Rebuild() error {
	shader := simulator.NewShader()
	if err := shader.SetInitialState(p.inputs); err != nil {
		return fmt.Errorf("seeding initial state: %w", err)
	}

	if p.active >= 0 {
		state := vertexInputState(p.vertices[p.active])
		if err := shader.MergeInitialState(state); err != nil {
			return fmt.Errorf("merging vertex %d: %w", p.vertices[p.active].Index, err)
		}
	}
	if len(p.constants) > 0 {
		if err := shader.MergeInitialState(simulator.RegisterFileState{Constant: p.constants}); err != nil {
			return fmt.Errorf("merging constants: %w", err)
		}
	}

	source, err := SanitizeSource(p.sourceCode)
	if err != nil {
		return err
	}
	asmErrs, err := shader.SetSource(source)
	if err != nil {
		return err
	}
	if len(asmErrs) > 0 {
		return fmt.Errorf("assembly of %s failed:\n%w", p.SourcePath, asmErrs)
	}

	trace, err := shader.Explain(true)
	if err != nil {
		return err
	}

	p.shader = shader
	p.trace = trace
	slog.Debug("program rebuilt",
		"source", p.SourcePath, "instructions", shader.NumInstructions())
	return nil
}

func (p *Program) Shader() *simulator.Shader { return p.shader }
func (p *Program) Trace() *simulator.Trace   { return p.trace }
func (p *Program) SourceCode() string        { return p.sourceCode }

// Vertices returns the mesh rows in file order.
func (p *Program) Vertices() []Vertex { return p.vertices }

// ActiveVertex returns the row currently feeding the input bank, or -1.
func (p *Program) ActiveVertex() int { return p.active }

// SetActiveVertex selects the mesh row feeding the input bank. Returns true
// when the selection changed and the shader was rebuilt.
func (p *Program) SetActiveVertex(index int) (bool, error) {
	if index < 0 || index >= len(p.vertices) {
		return false, fmt.Errorf("vertex index %d out of range (%d rows)", index, len(p.vertices))
	}
	if index == p.active {
		return false, nil
	}
	p.active = index
	if err := p.Rebuild(); err != nil {
		return false, err
	}
	return true, nil
}

// DedupedOrderedVertices collapses repeated IDX values (later rows win) and
// orders the result by IDX.
func (p *Program) DedupedOrderedVertices() []Vertex {
	byIndex := make(map[int]Vertex)
	for _, v := range p.vertices {
		byIndex[v.Index] = v
	}
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]Vertex, len(indices))
	for i, idx := range indices {
		out[i] = byIndex[idx]
	}
	return out
}

// VertexResult is the outcome of running the program for one mesh vertex.
type VertexResult struct {
	Index  int                         `json:"index"`
	Input  simulator.RegisterFileState `json:"input"`
	Output simulator.RegisterFileState `json:"output"`
}

// SimulateAllVertices runs the program once per deduplicated mesh vertex
// and reports each run's initial and final register file.
func (p *Program) SimulateAllVertices() ([]VertexResult, error) {
	vertices := p.DedupedOrderedVertices()
	results := make([]VertexResult, 0, len(vertices))

	for _, vertex := range vertices {
		shader := simulator.NewShader()
		if err := shader.SetInitialState(p.inputs); err != nil {
			return nil, err
		}
		if err := shader.MergeInitialState(vertexInputState(vertex)); err != nil {
			return nil, err
		}
		if len(p.constants) > 0 {
			if err := shader.MergeInitialState(simulator.RegisterFileState{Constant: p.constants}); err != nil {
				return nil, err
			}
		}
		if err := shader.SetTokens(p.shader.Tokens()); err != nil {
			return nil, err
		}

		trace, err := shader.Explain(false)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", vertex.Index, err)
		}
		results = append(results, VertexResult{
			Index:  vertex.Index,
			Input:  trace.InputContext().ToState(true),
			Output: trace.OutputContext().ToState(false),
		})
	}
	return results, nil
}

// vertexInputState extracts the vN.x..vN.w columns of a mesh row into an
// input-bank state. Registers with no column present are skipped; missing
// components of a present register default to zero.
func vertexInputState(vertex Vertex) simulator.RegisterFileState {
	var inputs []nv2atrace.Register
	for index := 0; index < nv2atrace.NumInputRegisters; index++ {
		name := fmt.Sprintf("v%d", index)
		var vec nv2atrace.Vector
		present := false
		for comp := 0; comp < 4; comp++ {
			raw, ok := vertex.Fields[fmt.Sprintf("%s.%c", name, "xyzw"[comp])]
			if !ok || raw == "" {
				continue
			}
			if val, err := strconv.ParseFloat(raw, 32); err == nil {
				vec[comp] = float32(val)
				present = true
			}
		}
		if present {
			inputs = append(inputs, nv2atrace.MakeRegister(name, vec))
		}
	}
	return simulator.RegisterFileState{Input: inputs}
}

// loadMeshCSV reads a RenderDoc mesh export: header-keyed rows with
// whitespace-padded cells and an IDX column.
func loadMeshCSV(path string) ([]Vertex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing mesh %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		header[i] = strings.TrimSpace(cell)
	}

	var vertices []Vertex
	for rowNo, row := range rows[1:] {
		fields := make(map[string]string, len(header))
		for i, cell := range row {
			if i < len(header) {
				fields[header[i]] = strings.TrimSpace(cell)
			}
		}
		index, err := strconv.Atoi(fields["IDX"])
		if err != nil {
			return nil, fmt.Errorf("mesh %s row %d: bad IDX %q", path, rowNo+2, fields["IDX"])
		}
		vertices = append(vertices, Vertex{Index: index, Fields: fields})
	}
	return vertices, nil
}

// loadConstantsCSV reads a RenderDoc constants export: rows whose Name
// column matches c[N] carry a Value of the form "x, y, z, w".
func loadConstantsCSV(path string) ([]nv2atrace.Register, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading constants: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing constants %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	nameCol, valueCol := -1, -1
	for i, cell := range rows[0] {
		switch strings.TrimSpace(cell) {
		case "Name":
			nameCol = i
		case "Value":
			valueCol = i
		}
	}
	if nameCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("constants %s: missing Name/Value columns", path)
	}

	var registers []nv2atrace.Register
	for rowNo, row := range rows[1:] {
		if nameCol >= len(row) || valueCol >= len(row) {
			continue
		}
		match := constantNameRe.FindStringSubmatch(strings.TrimSpace(row[nameCol]))
		if match == nil {
			continue
		}
		values := strings.Split(row[valueCol], ",")
		if len(values) != 4 {
			return nil, fmt.Errorf("constants %s row %d: bad value %q", path, rowNo+2, row[valueCol])
		}
		var vec nv2atrace.Vector
		for i, raw := range values {
			val, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
			if err != nil {
				return nil, fmt.Errorf("constants %s row %d: bad component %q", path, rowNo+2, raw)
			}
			vec[i] = float32(val)
		}
		registers = append(registers, nv2atrace.MakeRegister("c"+match[1], vec))
	}
	return registers, nil
}
