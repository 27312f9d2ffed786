// Package simulator replays decoded vertex shader programs and derives
// per-component dataflow ancestry for every instruction.
package simulator

import (
	"fmt"
	"regexp"
	"strings"

	"nv2atrace"
)

// MaskBits is a component mask as a bit set: bit 0 = x .. bit 3 = w.
// Intersection and union during the ancestry scan are plain bit ops.
type MaskBits uint8

const maskFull MaskBits = 0xf

// MaskBitsOf converts a mask string into its bit set, dropping duplicates.
func MaskBitsOf(mask string) MaskBits {
	var m MaskBits
	for _, c := range mask {
		switch c {
		case 'x':
			m |= 1
		case 'y':
			m |= 2
		case 'z':
			m |= 4
		case 'w':
			m |= 8
		}
	}
	return m
}

// String renders the mask in canonical x, y, z, w order.
func (m MaskBits) String() string {
	var b strings.Builder
	for i, c := range []byte("xyzw") {
		if m&(1<<i) != 0 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (m MaskBits) Empty() bool {
	return m == 0
}

// registerNameRe matches the register operand grammar: temp (R0..R12),
// input (v0..v15), numeric or symbolic output, plain/bracketed/relative
// constant, or the address register.
var registerNameRe = regexp.MustCompile(
	`^(R\d+|v\d+|o[A-Za-z]\w*|o\d+|c\d+|c\[(?:A0[+-])?\d+\]|A0)$`)

// canonicalizeRegisterName converts sugared register names to canonical
// ones: R12 => o0, c[123] => c123, c[A0+96] => cA0+96, oPos => o0.
func canonicalizeRegisterName(name string) (string, error) {
	if name == "R12" {
		return "o0", nil
	}

	ret := strings.NewReplacer("[", "", "]", "").Replace(name)

	if strings.HasPrefix(ret, "o") && !isNumericSuffix(ret) {
		index, ok := nv2atrace.OutputIndexByName[ret]
		if !ok {
			return "", fmt.Errorf("unknown output register %q", name)
		}
		return fmt.Sprintf("o%d", index), nil
	}
	return ret, nil
}

func isNumericSuffix(name string) bool {
	for i := 1; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return len(name) > 1
}

// RegisterReference models a source reference to a single register with its
// optional sign and component mask. Values are immutable once parsed; the
// ancestry scan tracks consumption in a separate pendingInput accumulator.
type RegisterReference struct {
	Negate        bool
	RawName       string
	CanonicalName string
	Mask          string // non-empty subsequence of "xyzw" as written
	SortedMask    string // deduplicated, canonical x,y,z,w order
	ExtendedMask  string // mask right-padded to 4 by repeating its last component
}

// ParseRegisterReference parses source text such as "-c[A0+96].xyz".
func ParseRegisterReference(source string) (RegisterReference, error) {
	if source == "" {
		return RegisterReference{}, fmt.Errorf("empty register reference")
	}

	negate := false
	text := source
	if text[0] == '-' {
		negate = true
		text = text[1:]
	}

	name, mask, hasMask := strings.Cut(text, ".")
	if !registerNameRe.MatchString(name) {
		return RegisterReference{}, fmt.Errorf("malformed register reference %q", source)
	}
	canonical, err := canonicalizeRegisterName(name)
	if err != nil {
		return RegisterReference{}, fmt.Errorf("malformed register reference %q: %w", source, err)
	}

	if !hasMask {
		mask = "xyzw"
	}
	if mask == "" || len(mask) > 4 || strings.Trim(mask, "xyzw") != "" {
		return RegisterReference{}, fmt.Errorf("invalid component mask in %q", source)
	}

	extended := mask
	for len(extended) < 4 {
		extended += extended[len(extended)-1:]
	}

	return RegisterReference{
		Negate:        negate,
		RawName:       name,
		CanonicalName: canonical,
		Mask:          mask,
		SortedMask:    MaskBitsOf(mask).String(),
		ExtendedMask:  extended,
	}, nil
}

// MaskBits returns the reference's mask as a bit set.
func (r RegisterReference) MaskBits() MaskBits {
	return MaskBitsOf(r.Mask)
}

// LossyMerge returns a new reference combining this reference's mask with
// another's. Negate and ExtendedMask no longer have meaning on the merged
// value and are cleared. References to different registers, or a merge with
// an identical reference, return an unchanged copy. Only used for display
// deduplication, never inside the ancestry scan.
func (r RegisterReference) LossyMerge(other RegisterReference) RegisterReference {
	if other.CanonicalName != r.CanonicalName || other == r {
		return r
	}

	merged := (r.MaskBits() | other.MaskBits()).String()
	out := r
	out.Negate = false
	out.ExtendedMask = ""
	out.Mask = merged
	out.SortedMask = merged
	return out
}

func (r RegisterReference) String() string {
	neg := ""
	if r.Negate {
		neg = "-"
	}
	if r.Mask == "xyzw" {
		return neg + r.RawName
	}
	return fmt.Sprintf("%s%s.%s", neg, r.RawName, r.Mask)
}

// pendingInput is the mutable remaining-mask accumulator used during the
// backward ancestry scan. The parsed reference it wraps is never modified.
type pendingInput struct {
	ref       RegisterReference
	remaining MaskBits
}

func newPendingInput(ref RegisterReference) *pendingInput {
	return &pendingInput{ref: ref, remaining: ref.MaskBits()}
}

// satisfy intersects the remaining components with an output reference,
// removes the overlap, and returns it. References to different registers
// never overlap.
func (p *pendingInput) satisfy(out RegisterReference) MaskBits {
	if out.CanonicalName != p.ref.CanonicalName {
		return 0
	}
	overlap := p.remaining & out.MaskBits()
	p.remaining &^= overlap
	return overlap
}

// unsatisfiedReference converts the leftover components back into a
// reference. Negate and ExtendedMask are meaningless after partial
// satisfaction and are cleared.
func (p *pendingInput) unsatisfiedReference() RegisterReference {
	mask := p.remaining.String()
	return RegisterReference{
		RawName:       p.ref.RawName,
		CanonicalName: p.ref.CanonicalName,
		Mask:          mask,
		SortedMask:    mask,
	}
}
