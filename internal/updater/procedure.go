// Package updater runs update procedures: ordered steps over shared data and
// a shared Progress, reported to an optional Observer. It also implements the
// crash-safe executable swap used when installing a new binary.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
)

var log = logging.L("updater")

// State is the terminal state of Execute.
type State int

const (
	Succeeded State = iota
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type options struct {
	observer Observer
	progress *progress.Progress
	logger   *slog.Logger
}

// Option configures a Procedure.
type Option func(*options)

// WithObserver attaches an observer that receives the title, step labels
// and a final Close.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithProgress shares an existing Progress instead of allocating one.
func WithProgress(p *progress.Progress) Option {
	return func(opts *options) {
		if p != nil {
			opts.progress = p
		}
	}
}

// WithLogger overrides the procedure logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) {
		if l != nil {
			opts.logger = l
		}
	}
}

// Procedure runs its steps strictly in insertion order against data.
type Procedure[T any] struct {
	title    string
	data     *T
	steps    []Step[T]
	progress *progress.Progress
	observer Observer
	log      *slog.Logger

	finish []func(*T)

	mu    sync.RWMutex
	label string
}

// New returns an empty procedure over data.
func New[T any](title string, data *T, opts ...Option) *Procedure[T] {
	o := options{observer: noopObserver{}, logger: log}
	for _, opt := range opts {
		opt(&o)
	}
	if o.progress == nil {
		o.progress = progress.New()
	}
	return &Procedure[T]{
		title:    title,
		data:     data,
		progress: o.progress,
		observer: o.observer,
		log:      logging.WithProcedure(o.logger, title),
	}
}

// AddStep appends s. Steps cannot be removed or reordered.
func (p *Procedure[T]) AddStep(s Step[T]) {
	p.steps = append(p.steps, s)
}

// OnFinish registers fn to run on data once Execute has a terminal state,
// whether the procedure succeeded, was cancelled or failed.
func (p *Procedure[T]) OnFinish(fn func(*T)) {
	p.finish = append(p.finish, fn)
}

func (p *Procedure[T]) Title() string                { return p.title }
func (p *Procedure[T]) Data() *T                     { return p.data }
func (p *Procedure[T]) Progress() *progress.Progress { return p.progress }

// Label returns the label of the step currently (or last) running. Safe to
// call from other goroutines.
func (p *Procedure[T]) Label() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.label
}

func (p *Procedure[T]) setLabel(label string) {
	p.mu.Lock()
	p.label = label
	p.mu.Unlock()
	p.observer.SetLabel(label)
}

func (p *Procedure[T]) cancelled(ctx context.Context) bool {
	return p.progress.Cancelled() || ctx.Err() != nil
}

// Execute runs the steps until one completes, cancels or fails. Cancellation
// is reported as the Cancelled state, never as an error. Whatever the outcome,
// the OnFinish hooks run, the progress is marked complete and the observer is
// closed before returning.
func (p *Procedure[T]) Execute(ctx context.Context) (State, error) {
	start := time.Now()
	p.observer.SetTitle(p.title)
	p.log.Info("procedure started", "steps", len(p.steps))

	state, err := p.run(ctx)
	for _, fn := range p.finish {
		fn(p.data)
	}

	p.progress.SetComplete(true)
	switch state {
	case Failed:
		p.log.Error("procedure failed", logging.KeyError, err, logging.KeyDurationMs, time.Since(start).Milliseconds())
	default:
		p.log.Info("procedure finished", "state", state.String(), logging.KeyDurationMs, time.Since(start).Milliseconds())
	}
	p.observer.Close()
	return state, err
}

func (p *Procedure[T]) run(ctx context.Context) (State, error) {
	for _, step := range p.steps {
		// Reset clears the cancelled flag, so check it first.
		if p.cancelled(ctx) {
			return Cancelled, nil
		}
		p.progress.Reset()

		label := step.Label(p.data)
		p.setLabel(label)
		p.log.Debug("step started", logging.KeyStep, label)

		action, err := step.Exec(ctx, p.data, p.progress)
		if err != nil {
			return Failed, fmt.Errorf("%s: %w", label, err)
		}
		if p.cancelled(ctx) {
			return Cancelled, nil
		}

		switch action {
		case Complete:
			p.log.Debug("step completed procedure", logging.KeyStep, label)
			return Succeeded, nil
		case Cancel:
			return Cancelled, nil
		}

		if v, ok := step.(Verifier[T]); ok {
			if err := v.Verify(p.data); err != nil {
				return Failed, fmt.Errorf("%s: %w: %w", label, errdefs.ErrVerification, err)
			}
		}
	}
	return Succeeded, nil
}
