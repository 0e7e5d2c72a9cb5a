// Package observer presents running update procedures to the user.
package observer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/breeze-rmm/updater/internal/progress"
)

// DefaultInterval is how often the console redraws progress.
const DefaultInterval = 500 * time.Millisecond

type commandKind int

const (
	cmdTitle commandKind = iota
	cmdLabel
)

type command struct {
	kind commandKind
	text string
}

// Console renders a procedure as plain text lines. SetTitle, SetLabel and
// Close only post commands; all output is written by Run on its own
// goroutine.
type Console struct {
	w        io.Writer
	p        *progress.Progress
	interval time.Duration

	cmds      chan command
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConsole returns a console observer for p writing to w. A non-positive
// interval uses DefaultInterval.
func NewConsole(w io.Writer, p *progress.Progress, interval time.Duration) *Console {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Console{
		w:        w,
		p:        p,
		interval: interval,
		cmds:     make(chan command, 16),
		closed:   make(chan struct{}),
	}
}

func (c *Console) SetTitle(title string) { c.post(command{kind: cmdTitle, text: title}) }
func (c *Console) SetLabel(label string) { c.post(command{kind: cmdLabel, text: label}) }

// Close stops Run after it has drained pending commands. Safe to call more
// than once.
func (c *Console) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Console) post(cmd command) {
	select {
	case <-c.closed:
	case c.cmds <- cmd:
	}
}

// Run processes commands and redraws progress until Close is called or ctx
// is done.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var r renderer
	r.w = c.w
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			r.apply(cmd, c.p)
		case <-ticker.C:
			r.progress(c.p)
		case <-c.closed:
			for {
				select {
				case cmd := <-c.cmds:
					r.apply(cmd, c.p)
				default:
					r.progress(c.p)
					return nil
				}
			}
		}
	}
}

type renderer struct {
	w       io.Writer
	label   string
	percent float64
	drawn   bool
}

func (r *renderer) apply(cmd command, p *progress.Progress) {
	switch cmd.kind {
	case cmdTitle:
		fmt.Fprintf(r.w, "== %s ==\n", cmd.text)
	case cmdLabel:
		r.label = cmd.text
		r.drawn = false
		r.progress(p)
	}
}

func (r *renderer) progress(p *progress.Progress) {
	if r.label == "" {
		return
	}
	if p.Indeterminate() && !p.Complete() {
		if !r.drawn {
			fmt.Fprintln(r.w, r.label)
			r.drawn = true
			r.percent = -1
		}
		return
	}
	pct := p.Percent() * 100
	if r.drawn && pct == r.percent {
		return
	}
	fmt.Fprintf(r.w, "%s  %.1f%%\n", r.label, pct)
	r.percent = pct
	r.drawn = true
}
