// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/time/rate"
)

// Themes.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Style selects how reply text is formatted.
type Style string

const (
	// StyleMarkdown renders replies through glamour.
	StyleMarkdown Style = "markdown"
	// StyleCode keeps the raw text but highlights fenced code blocks.
	StyleCode Style = "code"
	// StylePlain writes deltas straight through.
	StylePlain Style = "plain"
)

// ParseStyle returns the style named by s, or an error.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case StyleMarkdown, StyleCode, StylePlain:
		return st, nil
	case "":
		return StyleMarkdown, nil
	default:
		return "", fmt.Errorf("unknown render style %q (want markdown, code or plain)", s)
	}
}

// DefaultRefreshInterval bounds how often a live turn is redrawn.
const DefaultRefreshInterval = 80 * time.Millisecond

// Options configure a Terminal.
type Options struct {
	Out io.Writer
	// TTY enables in-place redraws. When false every style streams raw
	// text, which keeps pipes and log files readable.
	TTY    bool
	Width  int
	Height int
	Theme  string
	Style  Style
	// Label is printed at the start of every turn when non-empty.
	Label           string
	RefreshInterval time.Duration
}

// Terminal is a Renderer for a character terminal.
//
// In plain style, or when the output is not a terminal, deltas are written
// as they arrive. Otherwise the reply so far is re-rendered at most once
// per RefreshInterval and the previous frame is erased, showing only as
// many trailing lines as fit on screen. EndTurn replaces the live frame
// with the full final render.
type Terminal struct {
	opts    Options
	out     *termenv.Output
	lg      *lipgloss.Renderer
	md      *glamour.TermRenderer
	limiter *rate.Limiter

	mu    sync.Mutex
	text  strings.Builder
	drawn int
	atBOL bool

	labelStyle  lipgloss.Style
	thinkHeader lipgloss.Style
	thinkBody   lipgloss.Style
	noticeStyle map[Kind]lipgloss.Style
}

// NewTerminal creates a terminal renderer.
func NewTerminal(opts Options) (*Terminal, error) {
	if opts.Out == nil {
		return nil, fmt.Errorf("render: nil output")
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Height <= 0 {
		opts.Height = 24
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Style == "" {
		opts.Style = StyleMarkdown
	}

	out := termenv.NewOutput(opts.Out)
	opts.Theme = resolveTheme(opts.Theme, opts.TTY, out)

	lg := lipgloss.NewRenderer(opts.Out)
	lg.SetHasDarkBackground(opts.Theme == ThemeDark)

	t := &Terminal{
		opts:    opts,
		out:     out,
		lg:      lg,
		limiter: rate.NewLimiter(rate.Every(opts.RefreshInterval), 1),
		atBOL:   true,
	}
	t.initStyles()

	if opts.Style == StyleMarkdown && opts.TTY {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(opts.Theme),
			glamour.WithWordWrap(opts.Width),
		)
		if err != nil {
			return nil, fmt.Errorf("render: markdown renderer: %w", err)
		}
		t.md = md
	}

	return t, nil
}

func resolveTheme(theme string, tty bool, out *termenv.Output) string {
	switch strings.ToLower(theme) {
	case ThemeLight:
		return ThemeLight
	case ThemeDark:
		return ThemeDark
	}
	if tty && !out.HasDarkBackground() {
		return ThemeLight
	}
	return ThemeDark
}

func (t *Terminal) initStyles() {
	purple := lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	muted := lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
	amber := lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	rose := lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	cyan := lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	t.labelStyle = t.lg.NewStyle().Foreground(purple).Bold(true)
	t.thinkHeader = t.lg.NewStyle().Foreground(amber).Italic(true)
	t.thinkBody = t.lg.NewStyle().Foreground(muted).Italic(true).PaddingLeft(2)
	t.noticeStyle = map[Kind]lipgloss.Style{
		KindInfo:  t.lg.NewStyle().Foreground(cyan),
		KindWarn:  t.lg.NewStyle().Foreground(amber),
		KindError: t.lg.NewStyle().Foreground(rose).Bold(true),
	}
}

// Theme returns the resolved theme, dark or light.
func (t *Terminal) Theme() string { return t.opts.Theme }

// Style returns the render style.
func (t *Terminal) Style() Style { return t.opts.Style }

func (t *Terminal) live() bool {
	return t.opts.TTY && t.opts.Style != StylePlain
}

// BeginTurn starts a new reply.
func (t *Terminal) BeginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.text.Reset()
	t.drawn = 0
	t.ensureBOL()
	if t.opts.Label != "" {
		t.write(t.labelStyle.Render(t.opts.Label) + "\n")
	}
}

// Delta adds a fragment to the reply being shown.
func (t *Terminal) Delta(text string) {
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.text.WriteString(text)
	if !t.live() {
		t.write(text)
		return
	}
	if t.limiter.Allow() {
		t.redraw(t.text.String(), true)
	}
}

// EndTurn draws the final reply and closes the turn.
func (t *Terminal) EndTurn(final string, partial bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live() {
		t.redraw(final, false)
	} else {
		// Raw mode already wrote every delta; only top up anything the
		// caller has that we were never sent.
		if shown := t.text.String(); strings.HasPrefix(final, shown) {
			t.write(final[len(shown):])
		}
	}
	t.ensureBOL()
	t.text.Reset()
	t.drawn = 0
}

// Notice prints a status line, styled by kind.
func (t *Terminal) Notice(kind Kind, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensureBOL()
	style, ok := t.noticeStyle[kind]
	if !ok {
		style = t.noticeStyle[KindInfo]
	}
	t.write(style.Render(text) + "\n")
}

// Render formats a complete reply the way EndTurn would show it.
func (t *Terminal) Render(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format(text)
}

// Println writes a line outside of any turn.
func (t *Terminal) Println(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureBOL()
	t.write(text + "\n")
}

// redraw replaces the frame on screen with a render of text. A live frame
// is cut to the last lines that fit; the final frame is printed whole.
func (t *Terminal) redraw(text string, tail bool) {
	rendered := strings.TrimRight(t.format(text), "\n")

	lines := strings.Split(rendered, "\n")
	if rendered == "" {
		lines = nil
	}
	if limit := t.opts.Height - 2; tail && limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	if t.drawn > 0 {
		t.out.ClearLines(t.drawn)
	}

	rows := 0
	for _, line := range lines {
		t.write(line + "\n")
		rows += t.rows(line)
	}
	t.drawn = rows
}

// rows is how many terminal rows a rendered line takes.
func (t *Terminal) rows(line string) int {
	w := lipgloss.Width(line)
	if w <= t.opts.Width {
		return 1
	}
	return (w + t.opts.Width - 1) / t.opts.Width
}

// format renders text for display according to the style.
func (t *Terminal) format(text string) string {
	if t.opts.Style == StylePlain {
		return text
	}

	var b strings.Builder
	for _, seg := range Segments(text) {
		if seg.Think {
			b.WriteString(t.thinkBlock(seg))
			b.WriteString("\n")
			continue
		}
		b.WriteString(t.body(seg.Text))
	}
	return b.String()
}

func (t *Terminal) body(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if t.opts.Style == StyleCode || t.md == nil {
		return HighlightFences(text, t.opts.Theme)
	}
	out, err := t.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (t *Terminal) thinkBlock(seg Segment) string {
	header := "💡 Thinking"
	if seg.Open {
		header += "..."
	}
	body := strings.TrimSpace(seg.Text)
	if body == "" {
		return t.thinkHeader.Render(header)
	}
	return t.thinkHeader.Render(header) + "\n" + t.thinkBody.Render(body)
}

func (t *Terminal) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(t.opts.Out, s)
	t.atBOL = strings.HasSuffix(s, "\n")
}

func (t *Terminal) ensureBOL() {
	if !t.atBOL {
		t.write("\n")
	}
}
