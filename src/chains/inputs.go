package chains

import (
	"fmt"
	"sort"

	ierrors "github.com/lspecian/intellirouter-go/src/errors"
)

// StepInput is accepted wherever a step is supplied: either a ChainStep or a
// RawStep. Both normalize to a validated ChainStep and serialize identically.
type StepInput interface {
	chainStep() (ChainStep, error)
}

// DependencyInput is either a ChainDependency or a RawDependency.
type DependencyInput interface {
	chainDependency() (ChainDependency, error)
}

// RawStep is a step given as a decoded JSON object.
type RawStep map[string]any

// RawDependency is a dependency given as a decoded JSON object.
type RawDependency map[string]any

func (s ChainStep) chainStep() (ChainStep, error) { return s, s.Validate() }

func (r RawStep) chainStep() (ChainStep, error) { return parseStep(r) }

func (d ChainDependency) chainDependency() (ChainDependency, error) {
	return d.normalized(), d.Validate()
}

func (r RawDependency) chainDependency() (ChainDependency, error) { return parseDependency(r) }

// encodeSteps validates every step and returns the wire form. Steps are
// visited in key order so the reported failure is deterministic.
func encodeSteps(steps map[string]StepInput) (map[string]any, error) {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]any, len(steps))
	for _, id := range ids {
		in := steps[id]
		if isNilInput(in) {
			return nil, ierrors.Validationf(fmt.Errorf("step is nil"), "invalid chain step %q", id)
		}
		s, err := in.chainStep()
		if err != nil {
			return nil, ierrors.Validationf(err, "invalid chain step %q", id)
		}
		out[id] = s.ToMap()
	}
	return out, nil
}

func encodeDependencies(deps []DependencyInput) ([]any, error) {
	out := make([]any, 0, len(deps))
	for i, in := range deps {
		if isNilInput(in) {
			return nil, ierrors.Validationf(fmt.Errorf("dependency is nil"), "invalid chain dependency at index %d", i)
		}
		d, err := in.chainDependency()
		if err != nil {
			return nil, ierrors.Validationf(err, "invalid chain dependency at index %d", i)
		}
		out = append(out, d.ToMap())
	}
	return out, nil
}

func isNilInput(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *ChainStep:
		return x == nil
	case *ChainDependency:
		return x == nil
	case RawStep:
		return x == nil
	case RawDependency:
		return x == nil
	}
	return false
}
