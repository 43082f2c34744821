package scheduler

import (
	"fmt"

	"github.com/crestline/advisor/pkg/contracts"
)

// validate runs pre-execution validation. Any failure is fatal and
// carries the reserved code for its cause.
func validate(plan *contracts.Plan, ec *contracts.ExecutionContext) *contracts.ExecutionError {
	if err := validatePlan(plan); err != nil {
		return err
	}
	return validateContext(plan, ec)
}

func validatePlan(plan *contracts.Plan) *contracts.ExecutionError {
	invalid := func(msg string) *contracts.ExecutionError {
		return contracts.NewExecutionError(contracts.CodeInvalidPayload, contracts.SeverityFatal, msg)
	}

	if plan == nil {
		return invalid("plan is nil")
	}
	if plan.ID == "" {
		return invalid("plan id is empty")
	}
	if plan.Version < 1 {
		return invalid(fmt.Sprintf("plan version %d < 1", plan.Version))
	}
	if len(plan.Name) > contracts.MaxPlanNameLen {
		return invalid(fmt.Sprintf("plan name exceeds %d chars", contracts.MaxPlanNameLen))
	}
	if len(plan.Steps) == 0 {
		return invalid("plan has no steps")
	}
	if len(plan.Steps) > contracts.MaxPlanSteps {
		return invalid(fmt.Sprintf("plan has %d steps, max %d", len(plan.Steps), contracts.MaxPlanSteps))
	}
	if len(plan.ContextRequirements) == 0 {
		return invalid("context_requirements is empty")
	}

	seen := make(map[string]int, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID == "" {
			return invalid(fmt.Sprintf("step %d has empty id", i))
		}
		if _, dup := seen[step.ID]; dup {
			return invalid("duplicate step id " + step.ID).WithStep(step.ID)
		}
		if !contracts.KnownFailurePolicy(step.OnFailure) {
			return invalid(fmt.Sprintf("unknown on_failure %q", step.OnFailure)).WithStep(step.ID)
		}
		for _, dep := range step.DependsOn {
			idx, ok := seen[dep]
			if !ok || idx >= i {
				// Unknown ids and forward references are both rejected:
				// depends_on may only name strictly earlier steps.
				return invalid(fmt.Sprintf("depends_on %q is not an earlier step", dep)).WithStep(step.ID)
			}
		}
		seen[step.ID] = i
	}
	return nil
}

func validateContext(plan *contracts.Plan, ec *contracts.ExecutionContext) *contracts.ExecutionError {
	invalid := func(msg string) *contracts.ExecutionError {
		return contracts.NewExecutionError(contracts.CodeInvalidPayload, contracts.SeverityFatal, msg)
	}

	if ec == nil {
		return invalid("execution context is nil")
	}
	if ec.ExecutionID == "" {
		return invalid("execution id is empty")
	}
	if ec.StartedAtMs <= 0 || ec.DeadlineMs <= 0 {
		return invalid("execution timestamps must be positive")
	}
	if ec.DeadlineMs <= ec.StartedAtMs {
		return invalid("deadline precedes start")
	}
	if window := ec.DeadlineMs - ec.StartedAtMs; window < plan.EffectiveTimeoutMs() {
		return contracts.NewExecutionError(contracts.CodePlanTimeout, contracts.SeverityFatal,
			fmt.Sprintf("execution window %dms is shorter than plan timeout %dms", window, plan.EffectiveTimeoutMs()))
	}
	for _, key := range plan.ContextRequirements {
		if _, ok := ec.Environment[key]; !ok {
			return contracts.NewExecutionError(contracts.CodeContextMissing, contracts.SeverityFatal,
				"required context key missing: "+key)
		}
	}
	return nil
}
