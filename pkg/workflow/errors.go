package workflow

import (
	"errors"
	"fmt"

	"agentflow/pkg/proto"
)

var (
	// ErrMissingRole means a step names a role with no registered agent. Fatal.
	ErrMissingRole = errors.New("no agent registered for role")
	// ErrCanceled means the run was canceled by the caller.
	ErrCanceled = errors.New("workflow canceled")
	// ErrStepBudget means the maximum number of executed steps was reached.
	ErrStepBudget = errors.New("step budget exhausted")
	// ErrTimeout means the wall-clock budget ran out.
	ErrTimeout = errors.New("workflow timed out")
	// ErrPlanConstruction means the coordinator produced no usable plan.
	ErrPlanConstruction = errors.New("failed to create plan")
)

// StepError reports the step that ended a run.
type StepError struct {
	Err         error
	RecoveryErr error
	StepID      string
	Role        proto.Role
	Index       int
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.Role, e.Err)
	if e.RecoveryErr != nil {
		msg += fmt.Sprintf("; recovery failed: %v", e.RecoveryErr)
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }
