package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/advisor/pkg/contracts"
)

func testPlan(steps ...contracts.PlanStep) *contracts.Plan {
	return &contracts.Plan{
		ID:                  "plan-1",
		Version:             1,
		CreatedAtMs:         1_700_000_000_000,
		Name:                "rebalance",
		Steps:               steps,
		ContextRequirements: []string{"account"},
		TimeoutMs:           60_000,
	}
}

func testContext(plan *contracts.Plan) *contracts.ExecutionContext {
	now := time.Now().UnixMilli()
	return &contracts.ExecutionContext{
		Plan:        plan,
		ExecutionID: "exec-1",
		StartedAtMs: now,
		DeadlineMs:  now + plan.EffectiveTimeoutMs(),
		Environment: map[string]any{"account": "acct-42"},
	}
}

func step(id string, onFailure contracts.FailurePolicy, deps ...string) contracts.PlanStep {
	return contracts.PlanStep{ID: id, Action: "noop", DependsOn: deps, OnFailure: onFailure}
}

// scriptedDispatcher fails the named steps with the given error.
func scriptedDispatcher(failures map[string]*contracts.ExecutionError) Dispatcher {
	return DispatchFunc(func(_ context.Context, s *contracts.PlanStep, _ *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
		if err, ok := failures[s.ID]; ok {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})
}

func TestExecuteSuccess(t *testing.T) {
	plan := testPlan(
		step("s1", contracts.FailureHalt),
		step("s2", contracts.FailureHalt, "s1"),
		step("s3", contracts.FailureHalt, "s1", "s2"),
	)
	s := New(scriptedDispatcher(nil), nil)

	res := s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanSuccess, res.Status)
	assert.Equal(t, 3, res.StepsExecuted)
	assert.Equal(t, 3, res.StepsTotal)
	assert.Nil(t, res.Error)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))

	steps := res.ResultPayload["steps"].(map[string]any)
	assert.Len(t, steps, 3)
}

func TestExecutePartialOnSkippedFailure(t *testing.T) {
	// Three steps; step 2 fails with a non-fatal error and on_failure=skip.
	plan := testPlan(
		step("s1", contracts.FailureHalt),
		step("s2", contracts.FailureSkip),
		step("s3", contracts.FailureHalt, "s2"),
	)
	s := New(scriptedDispatcher(map[string]*contracts.ExecutionError{
		"s2": contracts.NewExecutionError(contracts.CodeUnknown, contracts.SeverityError, "flaky dependency"),
	}), nil)

	res := s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanPartial, res.Status)
	assert.Equal(t, 3, res.StepsExecuted, "skipped steps count as executed")
	require.NotNil(t, res.Error)
	assert.Equal(t, contracts.SeverityError, res.Error.Severity)
	assert.True(t, res.Error.Recoverable)
	assert.Equal(t, "s2", res.Error.StepID)

	steps := res.ResultPayload["steps"].(map[string]any)
	assert.Equal(t, "skipped", steps["s2"].(map[string]any)["status"])
	assert.Equal(t, "success", steps["s3"].(map[string]any)["status"])
}

func TestExecuteHaltStopsImmediately(t *testing.T) {
	plan := testPlan(
		step("s1", contracts.FailureHalt),
		step("s2", contracts.FailureHalt),
		step("s3", contracts.FailureHalt),
	)
	var dispatched atomic.Int32
	d := DispatchFunc(func(_ context.Context, s *contracts.PlanStep, _ *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
		dispatched.Add(1)
		if s.ID == "s2" {
			return nil, contracts.NewExecutionError(contracts.CodeUnknown, contracts.SeverityError, "boom")
		}
		return nil, nil
	})

	res := New(d, nil).Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanPartial, res.Status, "one step executed, non-fatal error")
	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, int32(2), dispatched.Load(), "s3 never dispatched")
}

func TestExecuteHaltOnFirstStepIsFailure(t *testing.T) {
	plan := testPlan(step("s1", contracts.FailureHalt))
	s := New(scriptedDispatcher(map[string]*contracts.ExecutionError{
		"s1": contracts.NewExecutionError(contracts.CodeUnknown, contracts.SeverityError, "boom"),
	}), nil)

	res := s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanFailure, res.Status, "no step executed")
	assert.Equal(t, 0, res.StepsExecuted)
}

func TestExecuteRetryPolicyIsFatal(t *testing.T) {
	plan := testPlan(
		step("s1", contracts.FailureRetry),
		step("s2", contracts.FailureHalt),
	)
	s := New(scriptedDispatcher(map[string]*contracts.ExecutionError{
		"s1": contracts.NewExecutionError(contracts.CodeUnknown, contracts.SeverityError, "flaky"),
	}), nil)

	res := s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, contracts.SeverityFatal, res.Error.Severity)
	assert.False(t, res.Error.Recoverable)
}

func TestExecuteDispatcherPanicIsFailure(t *testing.T) {
	plan := testPlan(step("s1", contracts.FailureHalt))
	d := DispatchFunc(func(context.Context, *contracts.PlanStep, *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
		panic("dispatcher bug")
	})

	res := New(d, nil).Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, contracts.CodeUnknown, res.Error.Code)
}

func TestExecuteDeadlineExceeded(t *testing.T) {
	plan := testPlan(
		step("s1", contracts.FailureHalt),
		step("s2", contracts.FailureHalt),
	)
	ec := testContext(plan)

	now := time.UnixMilli(ec.StartedAtMs)
	s := New(DispatchFunc(func(context.Context, *contracts.PlanStep, *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
		// The first step consumes the whole window.
		now = now.Add(time.Duration(plan.TimeoutMs+1) * time.Millisecond)
		return nil, nil
	}), nil).WithClock(func() time.Time { return now })

	res := s.Execute(context.Background(), plan, ec)
	assert.Equal(t, contracts.PlanFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, contracts.CodeDeadlineExceeded, res.Error.Code)
	assert.Equal(t, "s2", res.Error.StepID)
	assert.Equal(t, 1, res.StepsExecuted)
}

func TestValidationFailures(t *testing.T) {
	s := New(scriptedDispatcher(nil), nil)

	cases := []struct {
		name     string
		mutate   func(p *contracts.Plan, ec *contracts.ExecutionContext)
		wantCode contracts.ErrorCode
	}{
		{
			"empty id",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.ID = "" },
			contracts.CodeInvalidPayload,
		},
		{
			"version zero",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.Version = 0 },
			contracts.CodeInvalidPayload,
		},
		{
			"no steps",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.Steps = nil },
			contracts.CodeInvalidPayload,
		},
		{
			"name too long",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.Name = strings.Repeat("x", 256) },
			contracts.CodeInvalidPayload,
		},
		{
			"duplicate step id",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) {
				p.Steps = append(p.Steps, step("s1", contracts.FailureHalt))
			},
			contracts.CodeInvalidPayload,
		},
		{
			"forward reference",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) {
				p.Steps = []contracts.PlanStep{
					step("s1", contracts.FailureHalt, "s2"),
					step("s2", contracts.FailureHalt),
				}
			},
			contracts.CodeInvalidPayload,
		},
		{
			"unknown on_failure",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.Steps[0].OnFailure = "explode" },
			contracts.CodeInvalidPayload,
		},
		{
			"empty context_requirements",
			func(p *contracts.Plan, _ *contracts.ExecutionContext) { p.ContextRequirements = nil },
			contracts.CodeInvalidPayload,
		},
		{
			"missing environment key",
			func(_ *contracts.Plan, ec *contracts.ExecutionContext) { delete(ec.Environment, "account") },
			contracts.CodeContextMissing,
		},
		{
			"window shorter than plan timeout",
			func(p *contracts.Plan, ec *contracts.ExecutionContext) { ec.DeadlineMs = ec.StartedAtMs + p.TimeoutMs - 1 },
			contracts.CodePlanTimeout,
		},
		{
			"deadline before start",
			func(_ *contracts.Plan, ec *contracts.ExecutionContext) { ec.DeadlineMs = ec.StartedAtMs - 1 },
			contracts.CodeInvalidPayload,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := testPlan(step("s1", contracts.FailureHalt))
			ec := testContext(plan)
			tc.mutate(plan, ec)

			res := s.Execute(context.Background(), plan, ec)
			assert.Equal(t, contracts.PlanFailure, res.Status)
			assert.Equal(t, 0, res.StepsExecuted)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.wantCode, res.Error.Code)
			assert.Equal(t, contracts.SeverityFatal, res.Error.Severity)
			assert.False(t, res.Error.Recoverable)
		})
	}
}

func TestObserverReceivesTerminalEvent(t *testing.T) {
	plan := testPlan(step("s1", contracts.FailureHalt))

	var gotEvent string
	s := New(scriptedDispatcher(nil), func(event string, result *contracts.PlanResult) {
		gotEvent = event
		assert.Equal(t, "plan-1", result.PlanID)
	})

	s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, "plan_execution_success", gotEvent)
}

func TestObserverPanicDoesNotAlterResult(t *testing.T) {
	plan := testPlan(step("s1", contracts.FailureHalt))
	s := New(scriptedDispatcher(nil), func(string, *contracts.PlanResult) {
		panic("observer bug")
	})

	res := s.Execute(context.Background(), plan, testContext(plan))
	assert.Equal(t, contracts.PlanSuccess, res.Status)
	assert.Equal(t, 1, res.StepsExecuted)
}
