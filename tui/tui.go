// Package tui is the interactive trace browser: a tabbed terminal UI over a
// loaded shader program and its simulation trace.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nv2atrace"
	"nv2atrace/program"
	"nv2atrace/simulator"
)

type tab int

const (
	tabCode tab = iota
	tabInputs
	tabOutputs
	tabVertices
	numTabs
)

var tabNames = [numTabs]string{"Code", "Inputs", "Outputs", "Vertices"}

var (
	styleTab       = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("245"))
	styleActiveTab = lipgloss.NewStyle().Padding(0, 2).Bold(true).
			Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	styleCursor       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	styleContributor  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleProgramInput = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleMuted        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleError        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleStatus       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Model is the bubbletea model for the trace browser.
type Model struct {
	prog *program.Program
	view *simulator.TraceView

	activeTab    tab
	cursor       int // display index into visible code steps
	vertexCursor int

	showAncestors bool
	locked        bool
	filter        bool

	width  int
	height int
	ready  bool
	body   viewport.Model

	err error
}

func New(prog *program.Program) Model {
	return Model{
		prog: prog,
		view: simulator.NewTraceView(prog.Trace()),
	}
}

// Run launches the browser in the alternate screen.
func Run(prog *program.Program) error {
	_, err := tea.NewProgram(New(prog), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := msg.Height - 4 // tab bar, status line, padding
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !m.ready {
			m.body = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.body.Width = msg.Width
			m.body.Height = bodyHeight
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right":
			m.activeTab = (m.activeTab + 1) % numTabs
		case "shift+tab", "left":
			m.activeTab = (m.activeTab + numTabs - 1) % numTabs
		default:
			m = m.updateTab(msg)
		}
	}

	m.body.SetContent(m.bodyContent())
	m.scrollToCursor()
	return m, nil
}

func (m Model) updateTab(msg tea.KeyMsg) Model {
	switch m.activeTab {
	case tabCode:
		return m.updateCode(msg)
	case tabVertices:
		return m.updateVertices(msg)
	}
	return m
}

func (m Model) updateCode(msg tea.KeyMsg) Model {
	steps := m.visibleSteps()
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(steps)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(steps) - 1
	case "a":
		m.showAncestors = !m.showAncestors
		if !m.showAncestors {
			m.locked = false
			m.filter = false
		}
		m = m.refreshRoot()
	case "l", "enter":
		if m.showAncestors {
			m.locked = !m.locked
			m = m.refreshRoot()
		}
	case "f":
		if m.showAncestors {
			m.filter = !m.filter
			m = m.remapCursor()
		}
	}
	if !m.locked && m.showAncestors {
		m = m.refreshRoot()
	}
	return m
}

// refreshRoot points the ancestor filter at the cursor step (or keeps the
// locked root), remapping the cursor into the new visible list.
func (m Model) refreshRoot() Model {
	if !m.showAncestors {
		m.err = m.view.SetAncestorRoot(nil)
		return m.remapCursor()
	}
	if m.locked && m.view.Root() != nil {
		return m
	}
	step, err := m.cursorStep()
	if err != nil {
		m.err = err
		return m
	}
	m.err = m.view.SetAncestorRoot(step)
	return m.remapCursor()
}

// remapCursor keeps the cursor on the same program instruction across
// filter changes when possible.
func (m Model) remapCursor() Model {
	steps := m.visibleSteps()
	if len(steps) == 0 {
		m.cursor = 0
		return m
	}
	if root := m.view.Root(); root != nil {
		for i, step := range steps {
			if step == root {
				m.cursor = i
				return m
			}
		}
	}
	if m.cursor >= len(steps) {
		m.cursor = len(steps) - 1
	}
	return m
}

func (m Model) updateVertices(msg tea.KeyMsg) Model {
	vertices := m.prog.DedupedOrderedVertices()
	switch msg.String() {
	case "up", "k":
		if m.vertexCursor > 0 {
			m.vertexCursor--
		}
	case "down", "j":
		if m.vertexCursor < len(vertices)-1 {
			m.vertexCursor++
		}
	case "enter":
		if m.vertexCursor < len(vertices) {
			m = m.selectVertex(vertices[m.vertexCursor])
		}
	}
	return m
}

func (m Model) selectVertex(vertex program.Vertex) Model {
	// The deduped list keeps the LAST row per IDX, so scan the file rows in
	// reverse to activate the row the panel actually displays.
	rows := m.prog.Vertices()
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Index != vertex.Index {
			continue
		}
		rebuilt, err := m.prog.SetActiveVertex(i)
		if err != nil {
			m.err = err
			return m
		}
		if rebuilt {
			m.view = simulator.NewTraceView(m.prog.Trace())
			m.showAncestors = false
			m.locked = false
			m.filter = false
			m = m.remapCursor()
		}
		return m
	}
	return m
}

// visibleSteps is the code listing: filtered to contributors when the
// filter is on, the whole program otherwise.
func (m Model) visibleSteps() []*simulator.Step {
	if m.filter && m.view.IsFiltered() {
		return m.view.Steps()
	}
	return m.view.Trace().Steps()
}

func (m Model) cursorStep() (*simulator.Step, error) {
	steps := m.visibleSteps()
	if m.cursor < 0 || m.cursor >= len(steps) {
		return nil, fmt.Errorf("no instruction under cursor")
	}
	return steps[m.cursor], nil
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(m.tabBar())
	b.WriteByte('\n')
	b.WriteString(m.body.View())
	b.WriteByte('\n')
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) tabBar() string {
	parts := make([]string, numTabs)
	for i := tab(0); i < numTabs; i++ {
		if i == m.activeTab {
			parts[i] = styleActiveTab.Render(tabNames[i])
		} else {
			parts[i] = styleTab.Render(tabNames[i])
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) statusLine() string {
	if m.err != nil {
		return styleError.Render(m.err.Error())
	}
	help := "q quit · tab switch"
	if m.activeTab == tabCode {
		help = "a ancestors · l lock · f filter · " + help
	}
	if m.activeTab == tabVertices {
		help = "enter select vertex · " + help
	}
	return styleStatus.Render(help)
}

func (m Model) bodyContent() string {
	switch m.activeTab {
	case tabCode:
		return m.codeContent()
	case tabInputs:
		return m.inputsContent()
	case tabOutputs:
		return m.outputsContent()
	case tabVertices:
		return m.verticesContent()
	}
	return ""
}

func (m Model) codeContent() string {
	steps := m.visibleSteps()
	var b strings.Builder

	for display, step := range steps {
		marker := "   "
		source := step.Source()

		if m.showAncestors {
			switch {
			case step == m.view.Root() && m.locked:
				marker = styleCursor.Render("<=>")
				source = rootSource(step)
			case step == m.view.Root():
				marker = styleCursor.Render(" = ")
				source = rootSource(step)
			case m.view.ContributesTo(step):
				marker = styleContributor.Render(" + ")
				source = contributorSource(step, m.view.Ancestors())
			default:
				source = styleMuted.Render(source)
			}
		}

		cursor := "  "
		if display == m.cursor {
			cursor = styleCursor.Render("> ")
		}
		fmt.Fprintf(&b, "%s%s %3d  %s\n", cursor, marker, step.Index(), source)
	}

	if m.showAncestors {
		b.WriteByte('\n')
		b.WriteString(styleMuted.Render("inputs: " + joinReferences(m.view.Inputs())))
		b.WriteByte('\n')
	}
	return b.String()
}

// rootSource renders the root step's source with per-component provenance on
// its inputs: components an earlier step supplies in the contributor color,
// components that are program inputs in the input color. The component order
// as written is preserved.
func rootSource(step *simulator.Step) string {
	var parts []string
	for _, stage := range simulator.Stages {
		sub := step.Instruction().SubOpForStage(string(stage))
		if sub == nil {
			continue
		}
		ancestry, err := step.AncestorsForStage(stage)
		if err != nil {
			return step.Source()
		}

		unsat := make(map[string]simulator.MaskBits)
		for _, ref := range ancestry.Unsatisfied {
			unsat[ref.CanonicalName] |= ref.MaskBits()
		}

		inputs := make([]string, len(sub.Inputs))
		for i, in := range sub.Inputs {
			source := in.Source()
			ref, err := simulator.ParseRegisterReference(source)
			if err != nil {
				inputs[i] = source
				continue
			}
			inputs[i] = styledOperand(source, ref, styleProgramInput, func(comp byte) bool {
				return unsat[ref.CanonicalName]&simulator.MaskBitsOf(string(comp)) == 0
			})
		}
		joined := strings.Join(inputs, ", ")
		for _, out := range sub.Outputs {
			parts = append(parts, fmt.Sprintf("%s %s, %s", sub.Opcode, out.Source(), joined))
		}
	}
	return strings.Join(parts, " + ")
}

// contributorSource renders a contributing step's source with the output
// components it supplies to the current root in the contributor color.
func contributorSource(step *simulator.Step, links []simulator.Ancestor) string {
	supplied := make(map[simulator.Stage]map[string]simulator.MaskBits)
	for _, link := range links {
		if link.Step != step {
			continue
		}
		regs := supplied[link.Stage]
		if regs == nil {
			regs = make(map[string]simulator.MaskBits)
			supplied[link.Stage] = regs
		}
		for _, comp := range link.Components {
			regs[comp.Register] |= simulator.MaskBitsOf(comp.Mask)
		}
	}

	var parts []string
	for _, stage := range simulator.Stages {
		sub := step.Instruction().SubOpForStage(string(stage))
		if sub == nil {
			continue
		}
		regs := supplied[stage]
		inputs := strings.Join(sub.InputSources(), ", ")
		for _, out := range sub.Outputs {
			source := out.Source()
			ref, err := simulator.ParseRegisterReference(source)
			if err == nil {
				source = styledOperand(source, ref, styleMuted, func(comp byte) bool {
					return regs[ref.CanonicalName]&simulator.MaskBitsOf(string(comp)) != 0
				})
			}
			parts = append(parts, fmt.Sprintf("%s %s, %s", sub.Opcode, source, inputs))
		}
	}
	return strings.Join(parts, " + ")
}

// styledOperand colors one operand per component: highlighted components in
// the contributor color, the rest in low. An operand written without an
// explicit component suffix is colored as a whole when its components agree,
// and left plain when they are mixed.
func styledOperand(source string, ref simulator.RegisterReference, low lipgloss.Style, highlighted func(byte) bool) string {
	name, mask, explicit := strings.Cut(source, ".")
	if !explicit {
		all, none := true, true
		for i := 0; i < len(ref.Mask); i++ {
			if highlighted(ref.Mask[i]) {
				none = false
			} else {
				all = false
			}
		}
		switch {
		case all:
			return styleContributor.Render(source)
		case none:
			return low.Render(source)
		}
		return source
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('.')
	for i := 0; i < len(mask); i++ {
		comp := string(mask[i])
		if highlighted(mask[i]) {
			b.WriteString(styleContributor.Render(comp))
		} else {
			b.WriteString(low.Render(comp))
		}
	}
	return b.String()
}

func joinReferences(refs []simulator.RegisterReference) string {
	if len(refs) == 0 {
		return "(none)"
	}
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = ref.String()
	}
	return strings.Join(parts, ", ")
}

func (m Model) inputsContent() string {
	ctx := m.view.Trace().InputContext()
	var b strings.Builder
	for _, reg := range ctx.Inputs() {
		b.WriteString(formatRegister(reg))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	for _, reg := range ctx.Constants() {
		if reg.Vector() != (nv2atrace.Vector{}) {
			b.WriteString(formatRegister(reg))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (m Model) outputsContent() string {
	ctx := m.view.Trace().OutputContext()
	var b strings.Builder
	for i, reg := range ctx.Outputs() {
		name, ok := nv2atrace.OutputNames[i]
		if !ok {
			continue
		}
		reg.Name = name
		b.WriteString(formatRegister(reg))
		b.WriteByte('\n')
	}
	b.WriteString("\n")
	b.WriteString(styleMuted.Render("address " + formatRegister(ctx.AddressRegister())))
	b.WriteByte('\n')
	return b.String()
}

func (m Model) verticesContent() string {
	vertices := m.prog.DedupedOrderedVertices()
	if len(vertices) == 0 {
		return styleMuted.Render("no mesh loaded")
	}

	active := -1
	if idx := m.prog.ActiveVertex(); idx >= 0 {
		active = m.prog.Vertices()[idx].Index
	}

	var b strings.Builder
	for i, vertex := range vertices {
		marker := "  "
		if vertex.Index == active {
			marker = "* "
		}
		line := fmt.Sprintf("%sIDX %4d  %s", marker, vertex.Index, vertexSummary(vertex))
		if i == m.vertexCursor {
			line = styleCursor.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// vertexSummary shows the v0 position columns, the part of a mesh row users
// recognize a vertex by.
func vertexSummary(vertex program.Vertex) string {
	parts := make([]string, 0, 4)
	for _, comp := range []string{"x", "y", "z", "w"} {
		if val, ok := vertex.Fields["v0."+comp]; ok {
			parts = append(parts, val)
		}
	}
	return strings.Join(parts, ", ")
}

func formatRegister(reg nv2atrace.Register) string {
	return fmt.Sprintf("%-6s % 12.6f % 12.6f % 12.6f % 12.6f", reg.Name, reg.X, reg.Y, reg.Z, reg.W)
}

// scrollToCursor keeps the cursor line inside the viewport.
func (m *Model) scrollToCursor() {
	if !m.ready {
		return
	}
	line := m.cursor
	if m.activeTab == tabVertices {
		line = m.vertexCursor
	}
	if line < m.body.YOffset {
		m.body.SetYOffset(line)
	} else if line >= m.body.YOffset+m.body.Height {
		m.body.SetYOffset(line - m.body.Height + 1)
	}
}
