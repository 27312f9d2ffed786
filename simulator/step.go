package simulator

import (
	"fmt"
	"sort"
	"strings"

	"nv2atrace"
)

// Stage names one of the two execution units of an instruction slot.
type Stage string

const (
	StageMAC Stage = "mac"
	StageILU Stage = "ilu"
)

// Stages in canonical order.
var Stages = [2]Stage{StageMAC, StageILU}

// StageRefs holds an ordered register reference list per stage.
type StageRefs struct {
	Mac []RegisterReference
	Ilu []RegisterReference
}

func (s StageRefs) ForStage(stage Stage) []RegisterReference {
	if stage == StageILU {
		return s.Ilu
	}
	return s.Mac
}

func (s *StageRefs) set(stage Stage, refs []RegisterReference) {
	if stage == StageILU {
		s.Ilu = refs
		return
	}
	s.Mac = refs
}

// Joined returns the combined references of both stages.
func (s *StageRefs) Joined() []RegisterReference {
	out := make([]RegisterReference, 0, len(s.Mac)+len(s.Ilu))
	out = append(out, s.Mac...)
	return append(out, s.Ilu...)
}

// SimulatedStep is one simulated instruction tuple: the reconstructed source
// text, the register file before and after, and the decoded instruction.
type SimulatedStep struct {
	Source        string
	InputContext  *Context
	ResultContext *Context
	Instruction   *nv2atrace.Instruction
}

// AncestorComponent records that an ancestor supplied the given components
// of one register.
type AncestorComponent struct {
	Register string // canonical register name
	Mask     string // satisfied components, canonical order
}

// Ancestor is an immutable link stating that one stage of an earlier Step
// supplied exactly the listed register components to a later Step's input.
type Ancestor struct {
	Step       *Step
	Stage      Stage
	Components []AncestorComponent // sorted by register name
}

func makeAncestor(step *Step, stage Stage, components []AncestorComponent) Ancestor {
	sorted := append([]AncestorComponent(nil), components...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Register != sorted[j].Register {
			return sorted[i].Register < sorted[j].Register
		}
		return sorted[i].Mask < sorted[j].Mask
	})
	return Ancestor{Step: step, Stage: stage, Components: sorted}
}

// Key returns a value identity for deduplication: two Ancestors with the
// same step index, stage, and component set are the same link.
func (a Ancestor) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%s", a.Step.Index(), a.Stage)
	for _, comp := range a.Components {
		fmt.Fprintf(&b, " %s.%s", comp.Register, comp.Mask)
	}
	return b.String()
}

// References reports whether the ancestor supplies any component of the
// given canonical register.
func (a Ancestor) References(register string) bool {
	for _, comp := range a.Components {
		if comp.Register == register {
			return true
		}
	}
	return false
}

// StageAncestry is the ancestry result for one stage of a Step: the links to
// contributing earlier stages plus the input components no earlier step
// wrote. Unsatisfied references are normal: they name program inputs,
// constants, or registers never written in this program.
type StageAncestry struct {
	Ancestors   []Ancestor
	Unsatisfied []RegisterReference
}

// Step is a single simulated instruction wrapped into a queryable unit.
type Step struct {
	index       int
	source      string
	inputState  *Context
	state       *Context
	instruction *nv2atrace.Instruction

	inputs  StageRefs
	outputs StageRefs

	// Populated once by the ancestry engine; nil until then.
	ancestors map[Stage]StageAncestry
}

// NewStep wraps one simulated tuple, extracting the per-stage input and
// output register references from the decoded instruction.
func NewStep(index int, sim SimulatedStep) (*Step, error) {
	step := &Step{
		index:       index,
		source:      sim.Source,
		inputState:  sim.InputContext,
		state:       sim.ResultContext,
		instruction: sim.Instruction,
	}

	var err error
	step.inputs, err = extractReferences(sim.Instruction, true)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", index, err)
	}
	step.outputs, err = extractReferences(sim.Instruction, false)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", index, err)
	}
	return step, nil
}

// extractReferences parses the source spelling of each operand into
// register references. Relative constant reads implicitly consume the
// address register, so an A0 reference is appended for them.
func extractReferences(ins *nv2atrace.Instruction, inputs bool) (StageRefs, error) {
	var refs StageRefs
	for _, stage := range Stages {
		sub := ins.SubOpForStage(string(stage))
		if sub == nil {
			continue
		}
		sources := sub.OutputSources()
		if inputs {
			sources = sub.InputSources()
		}

		var list []RegisterReference
		for _, source := range sources {
			ref, err := ParseRegisterReference(source)
			if err != nil {
				return StageRefs{}, err
			}
			list = append(list, ref)
			if inputs && strings.HasPrefix(ref.CanonicalName, "cA0") {
				addr, err := ParseRegisterReference("A0")
				if err != nil {
					return StageRefs{}, err
				}
				list = append(list, addr)
			}
		}
		refs.set(stage, list)
	}
	return refs, nil
}

// Index is the position of this Step in the containing Trace.
func (s *Step) Index() int { return s.index }

func (s *Step) Source() string { return s.source }

// State is the register file after this step executed.
func (s *Step) State() *Context { return s.state }

// InputState is the register file before this step executed.
func (s *Step) InputState() *Context { return s.inputState }

func (s *Step) Instruction() *nv2atrace.Instruction { return s.instruction }

// HasStage reports whether the instruction populates the given stage.
func (s *Step) HasStage(stage Stage) bool {
	return s.instruction.SubOpForStage(string(stage)) != nil
}

func (s *Step) Inputs() StageRefs  { return s.inputs }
func (s *Step) Outputs() StageRefs { return s.outputs }

// Ancestors returns the per-stage ancestry, or nil if it was not computed.
func (s *Step) Ancestors() map[Stage]StageAncestry { return s.ancestors }

// AncestorsForStage returns the ancestry for one stage. The zero value is
// returned for stages without inputs.
func (s *Step) AncestorsForStage(stage Stage) (StageAncestry, error) {
	if s.ancestors == nil {
		return StageAncestry{}, fmt.Errorf("step %d has no computed ancestry", s.index)
	}
	return s.ancestors[stage], nil
}

func (s *Step) setAncestors(val map[Stage]StageAncestry) {
	s.ancestors = val
}

// SubOpDoc is the JSON shape of one decoded sub-operation.
type SubOpDoc struct {
	Mnemonic string   `json:"mnemonic"`
	Outputs  []string `json:"outputs"`
	Inputs   []string `json:"inputs"`
}

// InstructionDoc is the JSON shape of one decoded instruction slot.
type InstructionDoc struct {
	Mac *SubOpDoc `json:"mac"`
	Ilu *SubOpDoc `json:"ilu"`
}

// StepDoc is the JSON shape of one Step in an exported Trace.
type StepDoc struct {
	Source      string            `json:"source"`
	State       RegisterFileState `json:"state"`
	Instruction InstructionDoc    `json:"instruction"`
}

func subOpDoc(sub *nv2atrace.SubOp) *SubOpDoc {
	if sub == nil {
		return nil
	}
	return &SubOpDoc{
		Mnemonic: sub.Opcode.String(),
		Outputs:  sub.OutputSources(),
		Inputs:   sub.InputSources(),
	}
}

// Doc returns the exportable representation of this Step.
func (s *Step) Doc() StepDoc {
	return StepDoc{
		Source: s.source,
		State:  s.state.ToState(false),
		Instruction: InstructionDoc{
			Mac: subOpDoc(s.instruction.Mac),
			Ilu: subOpDoc(s.instruction.Ilu),
		},
	}
}

// Trace is the complete, ordered, immutable record of one program's
// simulated execution plus its derived ancestry.
type Trace struct {
	inputContext  *Context
	steps         []*Step
	outputContext *Context
}

func NewTrace(input *Context, steps []*Step, output *Context) *Trace {
	return &Trace{inputContext: input, steps: steps, outputContext: output}
}

func (t *Trace) InputContext() *Context  { return t.inputContext }
func (t *Trace) OutputContext() *Context { return t.outputContext }
func (t *Trace) Steps() []*Step          { return t.steps }

// TraceDoc is the JSON shape of an exported Trace.
type TraceDoc struct {
	Input  RegisterFileState `json:"input"`
	Steps  []StepDoc         `json:"steps"`
	Output RegisterFileState `json:"output"`
}

// Doc returns the exportable representation of this Trace.
func (t *Trace) Doc() TraceDoc {
	doc := TraceDoc{
		Input:  t.inputContext.ToState(false),
		Output: t.outputContext.ToState(false),
		Steps:  make([]StepDoc, len(t.steps)),
	}
	for i, step := range t.steps {
		doc.Steps[i] = step.Doc()
	}
	return doc
}
