package simulator

import "fmt"

// TraceView is a filterable projection of a Trace for interactive browsing.
// With an ancestor root set, only the steps contributing to that root remain
// visible; display indices address the filtered list.
type TraceView struct {
	trace *Trace

	root      *Step
	ancestors []Ancestor
	inputs    []RegisterReference
	filtered  []*Step
}

func NewTraceView(trace *Trace) *TraceView {
	v := &TraceView{trace: trace}
	v.filtered = trace.Steps()
	return v
}

func (v *TraceView) Trace() *Trace { return v.trace }

// SetAncestorRoot filters the view down to the transitive contributors of
// root. A nil root clears the filter.
func (v *TraceView) SetAncestorRoot(root *Step) error {
	if root == nil {
		v.root = nil
		v.ancestors = nil
		v.inputs = nil
		v.filtered = v.trace.Steps()
		return nil
	}

	ancestors, inputs, err := CollectContributors(root)
	if err != nil {
		return err
	}

	included := make(map[*Step]bool, len(ancestors))
	for _, link := range ancestors {
		included[link.Step] = true
	}

	var filtered []*Step
	for _, step := range v.trace.Steps() {
		if included[step] {
			filtered = append(filtered, step)
		}
	}

	v.root = root
	v.ancestors = ancestors
	v.inputs = inputs
	v.filtered = filtered
	return nil
}

// Root returns the current ancestor filter root, nil when unfiltered.
func (v *TraceView) Root() *Step { return v.root }

func (v *TraceView) IsFiltered() bool { return v.root != nil }

// Ancestors returns the flat contributor links of the current root.
func (v *TraceView) Ancestors() []Ancestor { return v.ancestors }

// Inputs returns the deduplicated program inputs the current root's
// ancestry bottoms out in.
func (v *TraceView) Inputs() []RegisterReference { return v.inputs }

// Steps returns the currently visible steps in program order.
func (v *TraceView) Steps() []*Step { return v.filtered }

func (v *TraceView) NumSteps() int { return len(v.filtered) }

// StepAtDisplayIndex returns the visible step at a display position.
func (v *TraceView) StepAtDisplayIndex(index int) (*Step, error) {
	if index < 0 || index >= len(v.filtered) {
		return nil, fmt.Errorf("display index %d out of range (%d visible)", index, len(v.filtered))
	}
	return v.filtered[index], nil
}

// StepByProgramIndex finds the visible step with the given program index and
// returns its display position.
func (v *TraceView) StepByProgramIndex(index int) (int, *Step, error) {
	for display, step := range v.filtered {
		if step.Index() == index {
			return display, step, nil
		}
	}
	return 0, nil, fmt.Errorf("instruction %d is not visible", index)
}

// ContributesTo reports whether step is part of the current root's
// contributor set. Always false when unfiltered.
func (v *TraceView) ContributesTo(step *Step) bool {
	for _, link := range v.ancestors {
		if link.Step == step {
			return true
		}
	}
	return false
}
