package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jguan/pipeline-console/pkg/infra/notify"
	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

var (
	colorInfo      = lipgloss.Color("39")
	colorSecondary = lipgloss.Color("141")
	colorSuccess   = lipgloss.Color("42")
	colorError     = lipgloss.Color("196")
	colorWarn      = lipgloss.Color("214")
	colorMuted     = lipgloss.Color("241")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	warnStyle     = lipgloss.NewStyle().Foreground(colorWarn)

	chipStyles = map[pipeline.Tone]lipgloss.Style{
		pipeline.ToneNeutral:   lipgloss.NewStyle().Foreground(colorMuted),
		pipeline.ToneInfo:      lipgloss.NewStyle().Foreground(colorInfo),
		pipeline.ToneSecondary: lipgloss.NewStyle().Foreground(colorSecondary),
		pipeline.ToneSuccess:   lipgloss.NewStyle().Foreground(colorSuccess),
		pipeline.ToneError:     lipgloss.NewStyle().Foreground(colorError).Bold(true),
	}
)

// RenderChip colors a status chip by its tone.
func RenderChip(c pipeline.Chip) string {
	style, ok := chipStyles[c.Tone]
	if !ok {
		style = chipStyles[pipeline.ToneNeutral]
	}
	return style.Render(c.Label)
}

// RenderActions lists the controls of a row with their watch-view keys.
func RenderActions(actions []pipeline.UIAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		switch a {
		case pipeline.UISpinner:
			parts = append(parts, mutedStyle.Render("…"))
		case pipeline.UIEdit:
			continue
		default:
			parts = append(parts, "["+actionKey(a)+"]"+string(a))
		}
	}
	return strings.Join(parts, " ")
}

func RenderNotification(n notify.Notification) string {
	switch n.Severity {
	case notify.SeverityError:
		return errorStyle.Render("✗ " + n.Message)
	case notify.SeverityWarning:
		return warnStyle.Render("! " + n.Message)
	default:
		return mutedStyle.Render("● " + n.Message)
	}
}

func actionKey(a pipeline.UIAction) string {
	switch a {
	case pipeline.UIStart:
		return "s"
	case pipeline.UIPause:
		return "p"
	case pipeline.UIShutdown:
		return "x"
	case pipeline.UIDelete:
		return "d"
	default:
		return ""
	}
}

// actionForKey maps a watch-view key back to its control.
func actionForKey(key string) (pipeline.UIAction, bool) {
	for _, a := range []pipeline.UIAction{pipeline.UIStart, pipeline.UIPause, pipeline.UIShutdown, pipeline.UIDelete} {
		if actionKey(a) == key {
			return a, true
		}
	}
	return "", false
}
