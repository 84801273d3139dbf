// Package filter implements the ordered transform pipeline every relayed
// message passes through before it reaches the network link or a sink.
package filter

import (
	"fmt"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
)

// Shape selects which stages of a pipeline apply to a message.
type Shape int

const (
	// ShapeAnticollision matches anticollision records.
	ShapeAnticollision Shape = iota
	// ShapeEmulatorData matches reader commands (emulator-origin PDUs).
	ShapeEmulatorData
	// ShapeCardData matches card replies (card-origin PDUs).
	ShapeCardData
)

func (s Shape) String() string {
	switch s {
	case ShapeAnticollision:
		return "anticol"
	case ShapeEmulatorData:
		return "emulator"
	case ShapeCardData:
		return "card"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Stage is a single transform.  Apply must be a pure function of its
// input: the same message always yields the same output.  A stage may
// rewrite, redact or substitute fields but must not change Kind.
type Stage interface {
	Name() string
	Shape() Shape
	Apply(m nfc.Message) (nfc.Message, error)
}

// Pipeline is an ordered list of stages.  A nil *Pipeline is the
// identity transform.
type Pipeline struct {
	stages []Stage
}

// New returns a pipeline that runs stages in the given order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Len returns the number of stages across all shapes.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.stages)
}

// Stages returns the names of the stages declared for shape, in order.
func (p *Pipeline) Stages(shape Shape) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, s := range p.stages {
		if s.Shape() == shape {
			out = append(out, s.Name())
		}
	}
	return out
}

// Apply runs every stage declared for shape over a copy of m, each
// stage receiving the previous stage's output.  The input message is
// never modified.
func (p *Pipeline) Apply(shape Shape, m nfc.Message) (nfc.Message, error) {
	out := m.Clone()
	if p == nil {
		return out, nil
	}
	for _, s := range p.stages {
		if s.Shape() != shape {
			continue
		}
		next, err := s.Apply(out.Clone())
		if err != nil {
			return m, &rerr.FilterError{Stage: s.Name(), Err: err}
		}
		if next.Kind != out.Kind {
			return m, &rerr.FilterError{Stage: s.Name(), Err: rerr.ErrKindChanged}
		}
		out = next.Normalize()
	}
	return out, nil
}

// FilterAnticollision runs the anticollision stages.
func (p *Pipeline) FilterAnticollision(m nfc.Message) (nfc.Message, error) {
	return p.Apply(ShapeAnticollision, m)
}

// FilterEmulatorData runs the stages for reader commands.
func (p *Pipeline) FilterEmulatorData(m nfc.Message) (nfc.Message, error) {
	return p.Apply(ShapeEmulatorData, m)
}

// FilterCardData runs the stages for card replies.
func (p *Pipeline) FilterCardData(m nfc.Message) (nfc.Message, error) {
	return p.Apply(ShapeCardData, m)
}
