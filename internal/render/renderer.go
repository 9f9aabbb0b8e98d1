package render

import "github.com/loqalabs/loqa-live/internal/config"

// Renderer drives the original pane, the translated pane and the floating
// overlay from one stream of results.
type Renderer struct {
	original   *Surface
	translated *Surface
	overlay    string
}

func New(cfg config.RenderConfig) *Renderer {
	return &Renderer{
		original:   NewSurface(cfg.MaxSegments, cfg.TrimBatch),
		translated: NewSurface(cfg.MaxSegments, cfg.TrimBatch),
	}
}

// UpdateLabels applies one result to every surface. The overlay always
// shows the latest translation verbatim.
func (r *Renderer) UpdateLabels(original, translated string, isFinal bool) {
	r.original.Update(original, isFinal)
	r.translated.Update(translated, isFinal)
	r.overlay = translated
}

func (r *Renderer) Original() *Surface   { return r.original }
func (r *Renderer) Translated() *Surface { return r.translated }
func (r *Renderer) Overlay() string      { return r.overlay }

// Reset clears every surface before a new session.
func (r *Renderer) Reset() {
	r.original.Reset()
	r.translated.Reset()
	r.overlay = ""
}
