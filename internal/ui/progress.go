package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

const meterWidth = 30

// meterScale is the score shown as a full bar: twice the threshold, so the
// threshold always sits at the midpoint.
func meterScale(score, threshold int) int {
	scale := 2 * threshold
	if score > scale {
		scale = score
	}
	if scale <= 0 {
		scale = 1
	}
	return scale
}

// RiskMeter renders a score against its threshold as a horizontal bar.
func (u *UI) RiskMeter(score, threshold int) string {
	scale := meterScale(score, threshold)
	pct := float64(score) / float64(scale)
	if pct > 1 {
		pct = 1
	}
	counts := fmt.Sprintf("%d / %d", score, threshold)

	if !u.shouldStyle() {
		filled := int(pct*meterWidth + 0.5)
		marker := threshold * meterWidth / scale
		var sb strings.Builder
		sb.WriteByte('[')
		for i := 0; i < meterWidth; i++ {
			switch {
			case i == marker:
				sb.WriteByte('|')
			case i < filled:
				sb.WriteByte('#')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteString("] ")
		sb.WriteString(counts)
		return sb.String()
	}

	fill := meterLow
	switch {
	case score >= threshold:
		fill = meterHigh
	case score*4 >= threshold*3:
		fill = meterMid
	}
	bar := progress.New(
		progress.WithSolidFill(fill),
		progress.WithWidth(meterWidth),
		progress.WithoutPercentage(),
	)
	countStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	return bar.ViewAs(pct) + " " + countStyle.Render(counts)
}
