// Package render holds the display state of the transcript panes. None of
// its types are safe for concurrent use; they are owned by the UI goroutine.
package render

import "strings"

const (
	DefaultMaxSegments = 500
	DefaultTrimBatch   = 50
)

// Surface is one scrolling pane. Interim text replaces the open segment in
// place; a final closes it so the next event starts a new segment.
type Surface struct {
	max   int
	batch int

	segments     []string
	lastWasFinal bool
}

func NewSurface(maxSegments, trimBatch int) *Surface {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	if trimBatch <= 0 || trimBatch >= maxSegments {
		trimBatch = min(DefaultTrimBatch, maxSegments-1)
	}
	return &Surface{max: maxSegments, batch: trimBatch, lastWasFinal: true}
}

// Update applies one transcript event to the pane.
func (s *Surface) Update(text string, isFinal bool) {
	switch {
	case !s.lastWasFinal && len(s.segments) > 0:
		s.segments[len(s.segments)-1] = text
	case len(s.segments) > 0 && text == "":
		// Nothing to show yet. The previous line stays closed so a later
		// interim cannot overwrite it.
		return
	default:
		s.segments = append(s.segments, text)
	}
	s.lastWasFinal = isFinal
	s.trim()
}

func (s *Surface) trim() {
	if len(s.segments) <= s.max {
		return
	}
	keep := s.max - s.batch
	drop := len(s.segments) - keep
	s.segments = append(s.segments[:0], s.segments[drop:]...)
}

func (s *Surface) Len() int { return len(s.segments) }

// LastWasFinal reports whether the last segment is closed.
func (s *Surface) LastWasFinal() bool { return s.lastWasFinal }

func (s *Surface) Segments() []string {
	out := make([]string, len(s.segments))
	copy(out, s.segments)
	return out
}

// Text renders the pane with one segment per line.
func (s *Surface) Text() string {
	return strings.Join(s.segments, "\n")
}

// Tail returns at most n of the newest segments.
func (s *Surface) Tail(n int) []string {
	if n <= 0 || n >= len(s.segments) {
		return s.Segments()
	}
	out := make([]string, n)
	copy(out, s.segments[len(s.segments)-n:])
	return out
}

func (s *Surface) Reset() {
	s.segments = nil
	s.lastWasFinal = true
}
