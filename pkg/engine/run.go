package engine

import (
	"errors"
	"fmt"
)

// Run is an ordered pipeline of pre-conditions, steps and tests.
type Run struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	PreConditions []*PreCondition `json:"-"`
	Steps         []*Step         `json:"-"`
	Tests         []*Test         `json:"-"`
}

// Validate checks that every operation has an ID and a name, that IDs are
// unique across the run including parallel children, and that declared
// platforms are known.
func (r *Run) Validate() error {
	if r.ID == "" {
		return NewValidationError("run id is required", nil)
	}

	var errs []error
	seen := make(map[string]Kind)
	check := func(op Operation) {
		if op.ID() == "" {
			errs = append(errs, fmt.Errorf("%s %q has no id", op.Kind(), op.Name()))
		} else if prev, dup := seen[op.ID()]; dup {
			errs = append(errs, fmt.Errorf("duplicate id %q (%s and %s)", op.ID(), prev, op.Kind()))
		} else {
			seen[op.ID()] = op.Kind()
		}
		if op.Name() == "" {
			errs = append(errs, fmt.Errorf("%s %q has no name", op.Kind(), op.ID()))
		}
		if p := op.Platform(); p != "" {
			if err := p.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", op.Kind(), op.ID(), err))
			}
		}
	}

	for _, pc := range r.PreConditions {
		check(pc)
	}
	var walk func(steps []*Step)
	walk = func(steps []*Step) {
		for _, s := range steps {
			check(s)
			if s.Mode() == ModeParallelComposite {
				if len(s.children) == 0 {
					errs = append(errs, fmt.Errorf("parallel step %q has no children", s.ID()))
				}
				walk(s.children)
			}
		}
	}
	walk(r.Steps)
	for _, t := range r.Tests {
		check(t)
	}

	if len(errs) > 0 {
		return NewValidationError(fmt.Sprintf("run %s is invalid", r.ID), errors.Join(errs...))
	}
	return nil
}
