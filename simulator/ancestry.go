package simulator

// findAncestors walks backwards from one step over all earlier steps and
// resolves, per stage, which earlier stage outputs supplied each input
// component. Satisfaction is destructive: once a later (closer) step supplies
// a component, earlier writers of the same component are shadowed. Input
// components no earlier step wrote are returned as unsatisfied references.
func findAncestors(target *Step, previous []*Step) map[Stage]StageAncestry {
	pending := make(map[Stage][]*pendingInput)
	for _, stage := range Stages {
		refs := target.Inputs().ForStage(stage)
		if len(refs) == 0 {
			continue
		}
		list := make([]*pendingInput, len(refs))
		for i, ref := range refs {
			list[i] = newPendingInput(ref)
		}
		pending[stage] = list
	}

	ancestors := make(map[Stage][]Ancestor)
	seen := make(map[Stage]map[string]bool)

	for i := len(previous) - 1; i >= 0 && len(pending) > 0; i-- {
		prev := previous[i]
		for _, stage := range Stages {
			list := pending[stage]
			if len(list) == 0 {
				continue
			}

			for _, in := range list {
				for _, outStage := range Stages {
					comps := dependentComponents(in, prev.Outputs().ForStage(outStage))
					if len(comps) == 0 {
						continue
					}
					anc := makeAncestor(prev, outStage, comps)
					key := anc.Key()
					if seen[stage] == nil {
						seen[stage] = make(map[string]bool)
					}
					if !seen[stage][key] {
						seen[stage][key] = true
						ancestors[stage] = append(ancestors[stage], anc)
					}
				}
			}

			var remaining []*pendingInput
			for _, in := range list {
				if !in.remaining.Empty() {
					remaining = append(remaining, in)
				}
			}
			if len(remaining) == 0 {
				delete(pending, stage)
			} else {
				pending[stage] = remaining
			}
		}
	}

	result := make(map[Stage]StageAncestry)
	for _, stage := range Stages {
		refs := target.Inputs().ForStage(stage)
		if len(refs) == 0 {
			continue
		}
		var unsatisfied []RegisterReference
		for _, in := range pending[stage] {
			ref := in.unsatisfiedReference()
			if !containsReference(unsatisfied, ref) {
				unsatisfied = append(unsatisfied, ref)
			}
		}
		result[stage] = StageAncestry{
			Ancestors:   ancestors[stage],
			Unsatisfied: unsatisfied,
		}
	}
	return result
}

// dependentComponents matches one pending input against a stage's output
// references, consuming every overlapping component and reporting what was
// taken from which register.
func dependentComponents(in *pendingInput, outputs []RegisterReference) []AncestorComponent {
	var comps []AncestorComponent
	for _, out := range outputs {
		overlap := in.satisfy(out)
		if overlap.Empty() {
			continue
		}
		comps = append(comps, AncestorComponent{
			Register: out.CanonicalName,
			Mask:     overlap.String(),
		})
		if in.remaining.Empty() {
			break
		}
	}
	return comps
}

func containsReference(refs []RegisterReference, ref RegisterReference) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// CollectContributors computes the transitive ancestry closure of one step:
// every (step, stage) link that directly or indirectly feeds it, plus the
// deduplicated program inputs the chain bottoms out in. The root itself is
// included in the returned links. Requires ancestry to have been computed
// for the containing trace.
func CollectContributors(root *Step) ([]Ancestor, []RegisterReference, error) {
	var links []Ancestor
	var inputs []RegisterReference
	seen := make(map[string]bool)
	inputSeen := make(map[RegisterReference]bool)

	// Seed the worklist with pseudo-links naming the root's own outputs so
	// the root shows up in the closure like any other contributor.
	var stack []Ancestor
	for _, stage := range Stages {
		if !root.HasStage(stage) {
			continue
		}
		var comps []AncestorComponent
		for _, ref := range root.Outputs().ForStage(stage) {
			comps = append(comps, AncestorComponent{Register: ref.RawName, Mask: ref.Mask})
		}
		stack = append(stack, makeAncestor(root, stage, comps))
	}

	for len(stack) > 0 {
		link := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := link.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, link)

		ancestry, err := link.Step.AncestorsForStage(link.Stage)
		if err != nil {
			return nil, nil, err
		}
		stack = append(stack, ancestry.Ancestors...)
		for _, ref := range ancestry.Unsatisfied {
			if !inputSeen[ref] {
				inputSeen[ref] = true
				inputs = append(inputs, ref)
			}
		}
	}
	return links, inputs, nil
}
