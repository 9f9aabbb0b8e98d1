package ui

import (
	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/render"
)

// Display is the cross-goroutine face of the UI: every method marshals its
// work onto the loop.
type Display struct {
	loop     *Loop
	renderer *render.Renderer
	view     *View
}

func NewDisplay(loop *Loop, renderer *render.Renderer, view *View) *Display {
	return &Display{loop: loop, renderer: renderer, view: view}
}

// Deliver applies r and returns once it is on screen.
func (d *Display) Deliver(r pipeline.Result) {
	d.loop.Do(func() {
		d.renderer.UpdateLabels(r.Original, r.Translated, r.IsFinal)
		d.redraw()
	})
}

// Reset clears the panes and the overlay.
func (d *Display) Reset() {
	d.loop.Do(func() {
		d.renderer.Reset()
		d.redraw()
	})
}

func (d *Display) SetStatus(status Status, detail string) {
	d.loop.Post(func() {
		if d.view != nil {
			d.view.SetStatus(status, detail)
		}
		d.redraw()
	})
}

// Snapshot copies the rendered state on the loop goroutine.
func (d *Display) Snapshot() (Snapshot, bool) {
	var snap Snapshot
	ok := d.loop.Do(func() {
		snap = Snapshot{
			Original:   d.renderer.Original().Segments(),
			Translated: d.renderer.Translated().Segments(),
			Overlay:    d.renderer.Overlay(),
		}
		if d.view != nil {
			snap.Status, snap.Detail = d.view.Status()
		}
	})
	return snap, ok
}

func (d *Display) redraw() {
	if d.view != nil {
		d.view.Draw()
	}
}

type Snapshot struct {
	Original   []string
	Translated []string
	Overlay    string
	Status     Status
	Detail     string
}
