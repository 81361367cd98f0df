package runner

import (
	"errors"
	"fmt"
)

// Failure kinds of the build pipeline. Every fatal error carries exactly one
// of them, reachable with errors.Is.
var (
	ErrFetch              = errors.New("fetch failed")
	ErrPatchApply         = errors.New("patch apply failed")
	ErrConfigure          = errors.New("configure failed")
	ErrCompile            = errors.New("compile failed")
	ErrInstall            = errors.New("install failed")
	ErrProtocolGeneration = errors.New("protocol generation failed")
	ErrPackageQuery       = errors.New("package query failed")
)

// StepError attaches a failure kind and the failing step to a cause.
type StepError struct {
	Kind error
	Step string
	Err  error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Fail wraps err as a StepError of the given kind. A nil err stays nil.
func Fail(kind error, step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Kind: kind, Step: step, Err: err}
}
