package workflow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
)

// ValidateDefinition checks a workflow definition: struct tags, step wiring
// and, for time-based triggers, the recurrence rule. Step configs are
// checked against their registered schemas.
func ValidateDefinition(validate *validator.Validate, reg *registry.Registry, wf *models.Workflow) error {
	if err := validate.Struct(wf); err != nil {
		return err
	}

	conditions := map[string]bool{}

	for _, step := range wf.Steps {
		if step.ID == "" {
			return errors.New("every step needs an id")
		}

		if step.IsCondition() {
			conditions[step.ID] = true
		}
	}

	for _, step := range wf.Steps {
		if step.ParentConditionID != "" && !conditions[step.ParentConditionID] {
			return fmt.Errorf("step %s references unknown condition %s", step.ID, step.ParentConditionID)
		}

		if (step.ParentConditionID == "") != (step.Branch == "") {
			return fmt.Errorf("step %s must set branch and parent_condition_id together", step.ID)
		}

		if err := reg.ValidateConfig(step.Type, step.Config); err != nil {
			return err
		}
	}

	if wf.TriggerType.IsTimeBased() {
		if err := wf.Recurrence().Validate(); err != nil {
			return fmt.Errorf("trigger configuration: %w", err)
		}
	}

	return nil
}
