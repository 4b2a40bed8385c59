package elog

import (
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Progress reports incremental progress for a long-running, boundable
// operation: reading geometry blocks in batches, or stepping the LB loop.
type Progress struct {
	bar *mpb.Bar
}

// ProgressContainer owns the bars of the CLI's progress output; the CLI
// uses one container, and one bar in it, for all of its ranks.
type ProgressContainer struct {
	container *mpb.Progress
}

// NewProgressContainer creates a container. Pass disableTTY=true in
// non-interactive contexts (CI, piped output) to suppress bars entirely.
func NewProgressContainer(disableTTY bool) *ProgressContainer {
	if disableTTY {
		return &ProgressContainer{}
	}
	return &ProgressContainer{container: mpb.New(mpb.WithWidth(80))}
}

// NewBar starts a bounded progress bar labelled label with total steps.
func (c *ProgressContainer) NewBar(label string, total int64) *Progress {
	if c.container == nil {
		return &Progress{}
	}
	bar := c.container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &Progress{bar: bar}
}

// Increment advances the bar by n, a no-op when TTY output is disabled.
func (p *Progress) Increment(n int64) {
	if p.bar == nil {
		return
	}
	p.bar.IncrInt64(n)
}

// Wait blocks until every bar in the container has finished.
func (c *ProgressContainer) Wait() {
	if c.container != nil {
		c.container.Wait()
	}
}
