package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/units"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

const statusBarHeight = 2

// layout splits the screen into the left column and the log pane.
func (a App) layout() (leftW, rightW, bodyH int) {
	leftW = max(a.width/3-2, 20)
	rightW = max(a.width-leftW-6, 10)
	bodyH = max(a.height-statusBarHeight-2, 5)
	return leftW, rightW, bodyH
}

// logPaneSize is the viewport size inside the log pane border and title.
func (a App) logPaneSize() (int, int) {
	_, rightW, bodyH := a.layout()
	return rightW, max(bodyH-1, 1)
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	if a.mode == ModeEditor && a.editor != nil {
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(a.editor.View(a.width - 4))
	}

	leftW, rightW, bodyH := a.layout()

	// Left column: targets over core status over templates.
	coreH := 4
	targetsH := max((bodyH-coreH)/2-2, 3)
	templatesH := max(bodyH-coreH-targetsH-4, 3)

	left := lipgloss.JoinVertical(lipgloss.Left,
		a.paneBox(PaneTargets, " Targets ", a.renderTargets(leftW, targetsH), leftW, targetsH),
		paneStyle.Width(leftW).Height(coreH).Render(titleStyle.Render(" Core ")+"\n"+a.renderCore()),
		a.paneBox(PaneTemplates, " Templates ", a.renderTemplates(leftW, templatesH), leftW, templatesH),
	)

	logPane := a.paneBox(PaneLogs, a.logTitle(), a.renderLogs(), rightW, bodyH)

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, logPane)
	return lipgloss.JoinVertical(lipgloss.Left, body, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

// window returns the first visible index of a list of n rows scrolled so
// that selected stays on screen.
func window(selected, visible int) int {
	if visible <= 0 || selected < visible {
		return 0
	}
	return selected - visible + 1
}

func (a App) renderTargets(w, h int) string {
	var b strings.Builder
	start := window(a.targetIdx, h)
	for i := start; i < len(a.targets) && i-start < h; i++ {
		e := a.targets[i]
		marker := " "
		if e.target == a.current {
			marker = "▸"
		}
		line := fmt.Sprintf("%s %s %s", marker, statusIndicator(e.status, e.target.IsMain()), truncate(e.label, w-6))
		if i == a.targetIdx && a.activePane == PaneTargets {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderCore() string {
	if !a.statsLoaded {
		return dimStyle.Render("loading...")
	}
	state := statusStopped.Render("stopped")
	if a.stats.Started {
		state = statusRunning.Render("started")
	}
	return fmt.Sprintf("Version: %s\nState:   %s", a.stats.Version, state)
}

func (a App) renderTemplates(w, h int) string {
	if len(a.templates) == 0 {
		return dimStyle.Render("no templates")
	}
	var b strings.Builder
	start := window(a.templateIdx, h)
	for i := start; i < len(a.templates) && i-start < h; i++ {
		t := a.templates[i]
		size := units.FormatBytes(uint64(len(t.Config)), 1)
		name := truncate(t.Name, max(w-len(size)-4, 4))
		line := fmt.Sprintf(" %-*s %s", max(w-len(size)-3, 0), name, dimStyle.Render(size))
		if i == a.templateIdx && a.activePane == PaneTemplates {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderLogs() string {
	if a.logs.Lines() == 0 {
		return dimStyle.Render("no log output")
	}
	return a.logs.View()
}

func (a App) logTitle() string {
	title := " Logs: " + a.current.String() + " "
	if a.logs.Lines() > 0 {
		title += dimStyle.Render(units.WithCommas(int64(a.logs.Lines()))+" lines") + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := connLabel(a.connState)
	if a.terminal {
		left += " " + errorStyle.Render("gave up, r to retry")
	}
	switch {
	case a.mode == ModeConfirm && a.confirm != nil:
		left += "  " + a.confirm.prompt
	case a.notice.text != "":
		style := okStyle
		if a.notice.isErr {
			style = errorStyle
		}
		left += "  " + style.Render(a.notice.text)
	}

	right := "j/k:nav tab:pane enter:view space:pause G:bottom R:restart n:new e:rename d:delete q:quit"
	gap := max(a.width-lipgloss.Width(left)-len(right), 1)
	return left + strings.Repeat(" ", gap) + helpStyle.Render(right)
}

func connLabel(s core.ConnState) string {
	switch s {
	case core.ConnConnected:
		return statusRunning.Render("● " + string(s))
	case core.ConnConnecting:
		return statusRestart.Render("↻ " + string(s))
	default:
		return statusFailed.Render("✖ " + string(s))
	}
}

func statusIndicator(status string, main bool) string {
	if main {
		return statusRunning.Render("●")
	}
	switch status {
	case "connected":
		return statusRunning.Render("●")
	case "disabled":
		return statusStopped.Render("○")
	case "error":
		return statusFailed.Render("✖")
	case "connecting":
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
