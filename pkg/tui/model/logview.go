package model

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
)

// LogView is the auto-scrolling log pane. It follows the tail while the
// reader is within tolerance rows of the bottom and otherwise keeps the
// reader's position when new content arrives.
type LogView struct {
	vp        viewport.Model
	tolerance int
	lines     int
}

// NewLogView creates a log view that treats tolerance rows from the bottom
// as still pinned.
func NewLogView(tolerance int) LogView {
	if tolerance < 0 {
		tolerance = 0
	}
	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{}
	return LogView{vp: vp, tolerance: tolerance}
}

// Pinned reports whether the view is at the bottom within tolerance.
func (l LogView) Pinned() bool {
	below := l.vp.TotalLineCount() - (l.vp.YOffset + l.vp.Height)
	return below <= l.tolerance
}

// SetLines replaces the content, re-pinning to the bottom if the view was
// pinned before and restoring the previous offset otherwise.
func (l *LogView) SetLines(lines []string) {
	pinned := l.Pinned()
	offset := l.vp.YOffset
	l.lines = len(lines)
	l.vp.SetContent(strings.Join(lines, "\n"))
	if pinned {
		l.vp.GotoBottom()
	} else {
		l.vp.SetYOffset(offset)
	}
}

// Clear empties the view.
func (l *LogView) Clear() {
	l.lines = 0
	l.vp.SetContent("")
	l.vp.GotoTop()
}

// SetSize resizes the view, keeping it pinned if it was.
func (l *LogView) SetSize(w, h int) {
	pinned := l.Pinned()
	l.vp.Width = max(w, 0)
	l.vp.Height = max(h, 0)
	if pinned {
		l.vp.GotoBottom()
	}
}

// ScrollBy moves the view n rows, negative is up.
func (l *LogView) ScrollBy(n int) {
	l.vp.SetYOffset(l.vp.YOffset + n)
}

// Bottom jumps to the newest line.
func (l *LogView) Bottom() { l.vp.GotoBottom() }

// Lines returns how many lines are loaded.
func (l LogView) Lines() int { return l.lines }

// Offset returns the first visible row.
func (l LogView) Offset() int { return l.vp.YOffset }

// View renders the visible rows.
func (l LogView) View() string { return l.vp.View() }
