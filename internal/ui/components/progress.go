package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/sensei/internal/ui/theme"
)

// EngagementBar shows the engagement ratio against the handoff threshold.
// The bar turns green once the threshold is reached.
type EngagementBar struct {
	Ratio     float64
	Threshold float64
	Width     int
}

// View renders the bar followed by the percentage.
func (b EngagementBar) View() string {
	label := lipgloss.NewStyle().Foreground(theme.Text).Render("Engagement") + "  "
	pct := lipgloss.NewStyle().Foreground(theme.TextDim).Render(fmt.Sprintf("  %3d%%", int(b.Ratio*100+0.5)))

	width := b.Width - lipgloss.Width(label) - lipgloss.Width(pct)
	if width < 4 {
		width = 4
	}
	filled := min(max(int(float64(width)*b.Ratio), 0), width)

	fill := theme.BarPending
	if b.Ratio >= b.Threshold {
		fill = theme.BarFilled
	}
	return label +
		fill.Render(strings.Repeat(" ", filled)) +
		theme.BarEmpty.Render(strings.Repeat(" ", width-filled)) +
		pct
}
