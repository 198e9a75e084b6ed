package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title       *color.Color
	Label       *color.Color
	EventName   *color.Color
	EventKey    *color.Color
	Count       *color.Color
	Description *color.Color
	Success     *color.Color
	Warning     *color.Color
	Error       *color.Color
	Highlight   *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:       color.New(color.FgCyan, color.Bold),
		Label:       color.New(color.FgYellow),
		EventName:   color.New(color.FgMagenta),
		EventKey:    color.New(color.FgBlue),
		Count:       color.New(color.FgGreen),
		Description: color.New(color.FgWhite),
		Success:     color.New(color.FgGreen),
		Warning:     color.New(color.FgYellow, color.Bold),
		Error:       color.New(color.FgRed),
		Highlight:   color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with color forced on, for
// when the caller has already decided the destination supports it.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title,
		s.Label,
		s.EventName,
		s.EventKey,
		s.Count,
		s.Description,
		s.Success,
		s.Warning,
		s.Error,
		s.Highlight,
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
