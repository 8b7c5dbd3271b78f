package rlog

import (
	"sync"

	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Progress tracks completion of the fixed set of per-AG scan tasks.
// One bar is shown for the whole run; each completed AG increments it
// by one, since there is exactly one producer (the dispatcher)
// incrementing by whole AGs rather than many readers incrementing by
// bytes.
type Progress struct {
	mu        sync.Mutex
	container *mpb.Progress
	bar       *mpb.Bar
	disabled  bool
}

// NewProgress creates a progress bar for a scan of nAGs allocation
// groups. Pass disabled=true for non-TTY output.
func NewProgress(nAGs int, disabled bool) *Progress {
	if disabled || nAGs == 0 {
		return &Progress{disabled: true}
	}

	container := mpb.New(mpb.WithWidth(80))
	bar := container.AddBar(int64(nAGs),
		mpb.PrependDecorators(
			decor.Name("scanning AGs", decor.WC{W: 13, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	return &Progress{container: container, bar: bar}
}

// AGDone increments the bar by one completed AG.
func (p *Progress) AGDone() {
	if p.disabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Increment()
}

// Wait blocks until the bar has finished rendering; call once all AG
// tasks have completed.
func (p *Progress) Wait() {
	if p.disabled {
		return
	}
	p.container.Wait()
}
