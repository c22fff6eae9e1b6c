// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for ollachat commands.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// init configures lipgloss color profile based on terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// Palette shared with the reply renderer.
var (
	colorPurple    = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	colorCyan      = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	colorEmerald   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	colorRose      = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	colorAmber     = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	colorSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	// LabelStyle is used for field labels (left-aligned prompts)
	LabelStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Width(16)

	// SuccessStyle is used for success messages and OK statuses
	SuccessStyle = lipgloss.NewStyle().
			Foreground(colorEmerald).
			Bold(true)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorRose).
			Bold(true)

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)
)

// =============================================================================
// CHAT STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorEmerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	summaryHeaderStyle = lipgloss.NewStyle().
				Foreground(colorCyan).
				Bold(true)

	userRoleStyle      = lipgloss.NewStyle().Foreground(colorCyan)
	assistantRoleStyle = lipgloss.NewStyle().Foreground(colorPurple)
	systemRoleStyle    = lipgloss.NewStyle().Foreground(colorAmber)
)

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 30
	}
	return infoStyle.Render(strings.Repeat("─", width))
}

// RenderLabel renders a label padded to the label width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}
