// Package tui renders the operator console. Simple, streaming output -
// clean prompts, styled status lines and a transmission progress bar.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/trackflow/trackflow/pkg/session"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintHeader prints the console banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("TRACKFLOW") + mutedStyle.Render("  remote tracker console "+version))
	fmt.Println(mutedStyle.Render(strings.Repeat("─", 46)))
}

// PrintPrompt prints the command prompt.
func PrintPrompt() {
	fmt.Print(accentStyle.Render("▸ "))
}

// PrintFrame prints one outbound frame from the dispatcher.
func PrintFrame(text string) {
	fmt.Println("  " + text)
}

// PrintState prints a one-line session state banner.
func PrintState(state session.State) {
	label := mutedStyle.Render(state.String())
	if state == session.Active {
		label = successStyle.Render(state.String())
	}
	fmt.Println(mutedStyle.Render("state: ") + label)
}

// PrintError prints an error line.
func PrintError(err error) {
	fmt.Println(accentStyle.Render("✗ ") + err.Error())
}

// PrintOK prints a success line.
func PrintOK(msg string) {
	fmt.Println(successStyle.Render("✓ ") + msg)
}

// TransmitBar returns a progress bar for one transmission, fed by the
// pipeline's progress callback.
func TransmitBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// FormatBytes renders a byte count for status lines.
func FormatBytes(b int64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%d B", b)
	case b < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	}
}
