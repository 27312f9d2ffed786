package simulator

import (
	"fmt"
	"log/slog"

	"nv2atrace"
	"nv2atrace/assembler"
)

// Shader owns one vertex shader program plus the register file it starts
// from, and produces Traces of its execution.
type Shader struct {
	source       []string // reformatted per-instruction source text
	instructions []*nv2atrace.Instruction
	inputContext *Context
}

func NewShader() *Shader {
	return &Shader{inputContext: NewContext()}
}

// SetSource assembles and decodes program text, replacing the current
// program. On assembly failure the previous program is left untouched and
// the full per-line error list is returned.
func (s *Shader) SetSource(source string) (assembler.ErrorList, error) {
	tokens, errs := assembler.Assemble(source)
	if len(errs) > 0 {
		return errs, nil
	}

	instructions := make([]*nv2atrace.Instruction, len(tokens))
	reformatted := make([]string, len(tokens))
	for i, token := range tokens {
		ins, err := nv2atrace.Decode(token)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions[i] = ins
		reformatted[i] = ins.Source()
	}

	s.instructions = instructions
	s.source = reformatted
	slog.Debug("program loaded", "instructions", len(instructions))
	return nil, nil
}

// SetTokens loads a program directly from machine-code tokens.
func (s *Shader) SetTokens(tokens []nv2atrace.MachineCode) error {
	instructions := make([]*nv2atrace.Instruction, len(tokens))
	reformatted := make([]string, len(tokens))
	for i, token := range tokens {
		ins, err := nv2atrace.Decode(token)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions[i] = ins
		reformatted[i] = ins.Source()
	}
	s.instructions = instructions
	s.source = reformatted
	return nil
}

// Tokens returns the machine code of the loaded program.
func (s *Shader) Tokens() []nv2atrace.MachineCode {
	tokens := make([]nv2atrace.MachineCode, len(s.instructions))
	for i, ins := range s.instructions {
		tokens[i] = ins.Code
	}
	return tokens
}

// Source returns the reformatted per-instruction source lines.
func (s *Shader) Source() []string {
	return append([]string(nil), s.source...)
}

func (s *Shader) NumInstructions() int {
	return len(s.instructions)
}

// SetInitialState resets the register file and seeds it from the given
// banks; registers absent from the state are zero.
func (s *Shader) SetInitialState(state RegisterFileState) error {
	ctx := NewContext()
	if err := ctx.FromState(state); err != nil {
		return err
	}
	s.inputContext = ctx
	return nil
}

// MergeInitialState merges the given banks over the current initial state,
// leaving registers absent from the state untouched.
func (s *Shader) MergeInitialState(state RegisterFileState) error {
	return s.inputContext.FromState(state)
}

// InitialState is the register file the next Explain starts from.
func (s *Shader) InitialState() *Context {
	return s.inputContext
}

// simulate folds the instruction list over duplicated contexts: step i reads
// the context produced by step i-1 and never mutates it.
func (s *Shader) simulate() ([]SimulatedStep, *Context, error) {
	active := s.inputContext
	steps := make([]SimulatedStep, 0, len(s.instructions))

	for i, ins := range s.instructions {
		next := active.Duplicate()
		if err := next.Apply(ins); err != nil {
			return nil, nil, fmt.Errorf("instruction %d (%s): %w", i, s.source[i], err)
		}
		steps = append(steps, SimulatedStep{
			Source:        s.source[i],
			InputContext:  active,
			ResultContext: next,
			Instruction:   ins,
		})
		active = next
	}
	return steps, active, nil
}

// Explain simulates the program and returns the complete Trace. With
// computeAncestors set, per-stage ancestry is derived for every step;
// without it the trace carries states only and ancestry queries fail.
func (s *Shader) Explain(computeAncestors bool) (*Trace, error) {
	simulated, output, err := s.simulate()
	if err != nil {
		return nil, err
	}

	steps := make([]*Step, len(simulated))
	for i, sim := range simulated {
		step, err := NewStep(i, sim)
		if err != nil {
			return nil, err
		}
		steps[i] = step
	}

	if computeAncestors {
		for i, step := range steps {
			step.setAncestors(findAncestors(step, steps[:i]))
		}
	}

	return NewTrace(s.inputContext, steps, output), nil
}
