package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/render"
	"github.com/muesli/termenv"
)

type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const (
	defaultWidth = 100
	paneLines    = 12
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#94A3B8")
	colorSubtle  = lipgloss.Color("#64748B")
)

type styles struct {
	header  lipgloss.Style
	idle    lipgloss.Style
	running lipgloss.Style
	failed  lipgloss.Style
	title   lipgloss.Style
	pane    lipgloss.Style
	overlay lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(colorPrimary),
		idle:    r.NewStyle().Foreground(colorMuted),
		running: r.NewStyle().Foreground(colorSuccess).Bold(true),
		failed:  r.NewStyle().Foreground(colorError).Bold(true),
		title:   r.NewStyle().Foreground(colorMuted).Bold(true),
		pane: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1),
		overlay: r.NewStyle().
			Bold(true).
			Border(lipgloss.ThickBorder(), true, false).
			BorderForeground(colorPrimary).
			Padding(0, 1),
	}
}

// View draws the panes, the overlay line and the status indicator to a
// terminal. It is only touched from the loop goroutine.
type View struct {
	out      *termenv.Output
	renderer *render.Renderer
	styles   styles
	overlay  bool
	width    int

	status Status
	detail string
}

func NewView(w io.Writer, renderer *render.Renderer, cfg config.RenderConfig) *View {
	lr := lipgloss.NewRenderer(w)
	if !cfg.Color {
		lr.SetColorProfile(termenv.Ascii)
	}
	return &View{
		out:      termenv.NewOutput(w),
		renderer: renderer,
		styles:   newStyles(lr),
		overlay:  cfg.Overlay,
		width:    defaultWidth,
	}
}

func (v *View) SetStatus(status Status, detail string) {
	v.status = status
	v.detail = detail
}

func (v *View) Status() (Status, string) { return v.status, v.detail }

// Draw repaints the whole frame.
func (v *View) Draw() {
	v.out.ClearScreen()
	v.out.MoveCursor(1, 1)
	fmt.Fprintln(v.out, v.Frame())
}

// Frame renders the current state without touching the terminal.
func (v *View) Frame() string {
	var b strings.Builder
	b.WriteString(v.header())
	b.WriteString("\n")

	paneWidth := (v.width - 2) / 2
	original := v.pane("Original", v.renderer.Original(), paneWidth)
	translated := v.pane("Translated", v.renderer.Translated(), paneWidth)
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, original, translated))

	if v.overlay {
		b.WriteString("\n")
		b.WriteString(v.styles.overlay.Width(v.width).Render(v.renderer.Overlay()))
	}
	return b.String()
}

func (v *View) header() string {
	var indicator string
	switch v.status {
	case StatusRunning:
		indicator = v.styles.running.Render("● " + v.status.String())
	case StatusError:
		indicator = v.styles.failed.Render("✖ " + v.status.String())
	default:
		indicator = v.styles.idle.Render("○ " + v.status.String())
	}
	line := v.styles.header.Render("loqa-live") + "  " + indicator
	if v.detail != "" {
		line += "  " + v.styles.idle.Render(v.detail)
	}
	return line
}

func (v *View) pane(title string, s *render.Surface, width int) string {
	body := strings.Join(s.Tail(paneLines), "\n")
	return v.styles.pane.Width(width).Render(v.styles.title.Render(title) + "\n" + body)
}
