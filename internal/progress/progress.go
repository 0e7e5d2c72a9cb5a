package progress

import (
	"math"
	"sync/atomic"
)

// Progress describes the state of one unit of work. Every field is atomic so
// a worker can publish byte counts while an observer reads them and sets the
// cancellation flag, without any further locking.
type Progress struct {
	indeterminate atomic.Bool
	complete      atomic.Bool
	cancelled     atomic.Bool
	current       atomic.Uint64
	maximum       atomic.Uint64
}

// New returns a Progress in its initial (indeterminate) state.
func New() *Progress {
	p := &Progress{}
	p.Reset()
	return p
}

func (p *Progress) Indeterminate() bool { return p.indeterminate.Load() }
func (p *Progress) Complete() bool      { return p.complete.Load() }
func (p *Progress) Cancelled() bool     { return p.cancelled.Load() }
func (p *Progress) Current() uint64     { return p.current.Load() }
func (p *Progress) Maximum() uint64     { return p.maximum.Load() }

func (p *Progress) SetIndeterminate(v bool) { p.indeterminate.Store(v) }
func (p *Progress) SetComplete(v bool)      { p.complete.Store(v) }
func (p *Progress) SetCancelled(v bool)     { p.cancelled.Store(v) }
func (p *Progress) SetCurrent(v uint64)     { p.current.Store(v) }
func (p *Progress) SetMaximum(v uint64)     { p.maximum.Store(v) }

// AddCurrent adds n to the current counter, saturating at math.MaxUint64.
func (p *Progress) AddCurrent(n uint64) { saturatingAdd(&p.current, n) }

// AddMaximum adds n to the maximum counter, saturating at math.MaxUint64.
func (p *Progress) AddMaximum(n uint64) { saturatingAdd(&p.maximum, n) }

// Percent returns the completed fraction in [0, 1]. A complete Progress is
// always 1 and an indeterminate one is 0.
func (p *Progress) Percent() float64 {
	if p.Complete() {
		return 1.0
	}
	if p.Indeterminate() {
		return 0.0
	}
	current, maximum := p.Current(), p.Maximum()
	if current == 0 || maximum == 0 {
		return 0.0
	}
	if current >= maximum {
		return 1.0
	}
	return float64(current) / float64(maximum)
}

// Reset restores the initial state, including clearing the cancelled flag.
func (p *Progress) Reset() {
	p.indeterminate.Store(true)
	p.complete.Store(false)
	p.cancelled.Store(false)
	p.current.Store(0)
	p.maximum.Store(0)
}

func saturatingAdd(v *atomic.Uint64, n uint64) {
	if n == 0 {
		return
	}
	for {
		old := v.Load()
		next := old + n
		if next < old {
			next = math.MaxUint64
		}
		if v.CompareAndSwap(old, next) {
			return
		}
	}
}
