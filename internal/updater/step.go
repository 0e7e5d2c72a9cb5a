package updater

import (
	"context"

	"github.com/breeze-rmm/updater/internal/progress"
)

// Action tells the engine what to do after a step returns.
type Action int

const (
	// Continue advances to the next step.
	Continue Action = iota
	// Complete ends the procedure successfully, skipping remaining steps.
	Complete
	// Cancel ends the procedure as cancelled, skipping remaining steps.
	Cancel
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Step is one named unit of work over the procedure's data.
type Step[T any] interface {
	// Label is shown to the observer while the step runs. It is computed
	// right before Exec, so it may reflect results of earlier steps.
	Label(data *T) string
	Exec(ctx context.Context, data *T, p *progress.Progress) (Action, error)
}

// Verifier is implemented by steps with a post-condition checked after a
// Continue result.
type Verifier[T any] interface {
	Verify(data *T) error
}

// ExecFunc is the body of a step built with NewStep.
type ExecFunc[T any] func(ctx context.Context, data *T, p *progress.Progress) (Action, error)

// FuncStep adapts plain functions to Step.
type FuncStep[T any] struct {
	LabelFunc  func(data *T) string
	ExecFunc   ExecFunc[T]
	VerifyFunc func(data *T) error
}

// NewStep returns a step with a fixed label.
//
// Example:
//
//	proc.AddStep(updater.NewStep("Cleaning up...", func(ctx context.Context, d *Data, p *progress.Progress) (updater.Action, error) {
//	    return updater.Continue, os.RemoveAll(d.Scratch)
//	}))
func NewStep[T any](label string, exec ExecFunc[T]) *FuncStep[T] {
	return &FuncStep[T]{
		LabelFunc: func(*T) string { return label },
		ExecFunc:  exec,
	}
}

// WithVerify attaches a post-condition to the step.
func (s *FuncStep[T]) WithVerify(verify func(data *T) error) *FuncStep[T] {
	s.VerifyFunc = verify
	return s
}

func (s *FuncStep[T]) Label(data *T) string {
	if s.LabelFunc == nil {
		return ""
	}
	return s.LabelFunc(data)
}

func (s *FuncStep[T]) Exec(ctx context.Context, data *T, p *progress.Progress) (Action, error) {
	return s.ExecFunc(ctx, data, p)
}

func (s *FuncStep[T]) Verify(data *T) error {
	if s.VerifyFunc == nil {
		return nil
	}
	return s.VerifyFunc(data)
}
