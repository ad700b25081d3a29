package workflow

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/loomwork/loomwork/internal/errs"
)

var validate = validator.New()

// ParseDefinition decodes and validates a workflow definition document,
// enforcing required fields and step-id uniqueness. A malformed or
// incomplete definition produces an errs.Validation error rather than a
// panic deep in the executor.
func ParseDefinition(doc []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(doc, &def); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "parse workflow definition", err)
	}
	if err := validate.Struct(&def); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "validate workflow definition", err)
	}
	if err := validateStepIDs(def.Steps); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateStepIDs(steps []StepDef) error {
	seen := make(map[string]bool, len(steps))
	for _, st := range steps {
		if seen[st.ID] {
			return errs.New(errs.KindValidation, fmt.Sprintf("duplicate step id %q", st.ID))
		}
		seen[st.ID] = true
		if st.Type == StepTypeParallelFor && st.Substep != nil && st.Substep.ID == "" {
			return errs.New(errs.KindValidation, fmt.Sprintf("parallel-for step %q: substep requires an id", st.ID))
		}
	}
	return nil
}
