package model

import (
	"context"
	"encoding/json"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
	"github.com/modoterra/panelctl/pkg/logstream"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneTargets Pane = iota
	PaneLogs
	PaneTemplates
	paneCount
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeEditor
	ModeConfirm
)

// Timing of background refreshes and notifications.
const (
	NodeRefreshInterval = 10 * time.Second
	NoticeTTL           = 3 * time.Second
)

// Backend is the part of the panel API the console uses. *api.Client
// implements it.
type Backend interface {
	CoreStats(ctx context.Context) (core.CoreStats, error)
	CoreConfig(ctx context.Context) (json.RawMessage, error)
	RestartCore(ctx context.Context) error
	Templates(ctx context.Context) ([]core.Template, error)
	CreateTemplate(ctx context.Context, in core.TemplateInput) (core.Template, error)
	UpdateTemplate(ctx context.Context, id int, patch core.TemplatePatch) (core.Template, error)
	DeleteTemplate(ctx context.Context, id int) error
	Nodes(ctx context.Context) ([]core.Node, error)
}

// Options configures the console.
type Options struct {
	Backend Backend
	Session *logstream.Session
	// PinTolerance is how many rows above the bottom still count as
	// following the tail. Zero follows only from the last row.
	PinTolerance int
	Logger       *zap.Logger
}

// targetEntry is one row of the targets pane.
type targetEntry struct {
	target core.Target
	label  string
	status string
}

type notice struct {
	text  string
	isErr bool
	id    int
}

type confirmation struct {
	prompt string
	onYes  tea.Cmd
}

// App is the root Bubble Tea model.
type App struct {
	backend Backend
	session *logstream.Session
	logger  *zap.Logger

	// Targets
	targets   []targetEntry
	targetIdx int
	current   core.Target

	// Log stream
	logs       LogView
	logPaused  bool
	pending    []string
	hasPending bool
	connState  core.ConnState
	terminal   bool

	// Core and templates
	stats       core.CoreStats
	statsLoaded bool
	templates   []core.Template
	templateIdx int

	// UI
	activePane Pane
	mode       Mode
	width      int
	height     int

	editor  *EditorModel
	confirm *confirmation

	notice   notice
	noticeID int
}

// New creates the console model.
func New(opts Options) App {
	return App{
		backend:    opts.Backend,
		session:    opts.Session,
		logger:     logging.OrNop(opts.Logger).Named("tui"),
		targets:    []targetEntry{{target: core.MainTarget, label: "Main core"}},
		current:    core.MainTarget,
		logs:       NewLogView(opts.PinTolerance),
		connState:  core.ConnClosed,
		activePane: PaneTargets,
		mode:       ModeNormal,
	}
}

// Init connects the log stream to the main core and loads panel data.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.SetWindowTitle("panelctl"),
		nodesTickCmd(),
	}
	if a.session != nil {
		a.session.Connect(a.current)
		cmds = append(cmds, waitFrameCmd(a.session), waitStateCmd(a.session))
	}
	if a.backend != nil {
		cmds = append(cmds, fetchNodesCmd(a.backend), fetchStatsCmd(a.backend), fetchTemplatesCmd(a.backend))
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		w, h := a.logPaneSize()
		a.logs.SetSize(w, h)
		return a, nil

	case frameMsg:
		next := waitFrameCmd(a.session)
		if !a.currentEpoch(msg.Epoch, msg.Target) {
			return a, next
		}
		if a.logPaused {
			a.pending = msg.Lines
			a.hasPending = true
			return a, next
		}
		a.logs.SetLines(msg.Lines)
		return a, next

	case stateMsg:
		next := waitStateCmd(a.session)
		if !a.currentEpoch(msg.Epoch, msg.Target) {
			return a, next
		}
		a.connState = msg.State
		a.terminal = msg.Terminal
		return a, next

	case nodesTickMsg:
		if a.backend == nil {
			return a, nodesTickCmd()
		}
		return a, tea.Batch(nodesTickCmd(), fetchNodesCmd(a.backend), fetchStatsCmd(a.backend))

	case nodesMsg:
		a.setNodes(msg.nodes)
		return a, nil

	case statsMsg:
		a.stats = msg.stats
		a.statsLoaded = true
		return a, nil

	case templatesMsg:
		a.templates = msg.templates
		if a.templateIdx >= len(a.templates) {
			a.templateIdx = max(0, len(a.templates)-1)
		}
		return a, nil

	case resultMsg:
		cmd := a.notify(msg.text, false)
		if msg.refreshTemplates && a.backend != nil {
			cmd = tea.Batch(cmd, fetchTemplatesCmd(a.backend))
		}
		if msg.refreshStats && a.backend != nil {
			cmd = tea.Batch(cmd, fetchStatsCmd(a.backend))
		}
		return a, cmd

	case errorMsg:
		a.logger.Warn("request failed", zap.String("op", msg.fallback), zap.Error(msg.err))
		return a, a.notify(describe(msg.err, msg.fallback), true)

	case noticeExpiredMsg:
		if msg.id == a.notice.id {
			a.notice = notice{}
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

// currentEpoch reports whether a session message belongs to the live
// stream. Messages from a torn down epoch are dropped.
func (a App) currentEpoch(epoch uint64, target core.Target) bool {
	if a.session == nil {
		return target == a.current
	}
	return epoch == a.session.Epoch() && target == a.current
}

func (a *App) notify(text string, isErr bool) tea.Cmd {
	a.noticeID++
	a.notice = notice{text: text, isErr: isErr, id: a.noticeID}
	return noticeExpireCmd(a.noticeID)
}

// setNodes rebuilds the targets pane, keeping the cursor on the same target.
func (a *App) setNodes(nodes []core.Node) {
	selected := a.selectedTarget()
	entries := []targetEntry{{target: core.MainTarget, label: "Main core"}}
	for _, n := range nodes {
		label := n.Name
		if n.Address != "" {
			label += " (" + n.Address + ")"
		}
		entries = append(entries, targetEntry{target: n.Target(), label: label, status: n.Status})
	}
	a.targets = entries
	a.targetIdx = 0
	for i, e := range entries {
		if e.target == selected {
			a.targetIdx = i
			break
		}
	}
}

func (a App) selectedTarget() core.Target {
	if a.targetIdx < len(a.targets) {
		return a.targets[a.targetIdx].target
	}
	return core.MainTarget
}

func (a App) selectedTemplate() *core.Template {
	if a.templateIdx < len(a.templates) {
		return &a.templates[a.templateIdx]
	}
	return nil
}

// switchTarget points the log stream at target. Selecting the current
// target is a no-op.
func (a App) switchTarget(target core.Target) App {
	if target == a.current {
		return a
	}
	a.current = target
	a.logs.Clear()
	a.pending = nil
	a.hasPending = false
	a.terminal = false
	a.connState = core.ConnConnecting
	if a.session != nil {
		a.session.Connect(target)
	}
	a.logger.Info("log target switched", zap.Stringer("target", target))
	return a
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeEditor && a.editor != nil {
		return a.editor.HandleKey(a, msg)
	}

	if a.mode == ModeConfirm && a.confirm != nil {
		c := a.confirm
		a.mode = ModeNormal
		a.confirm = nil
		switch msg.String() {
		case "y", "Y":
			return a, c.onYes
		default:
			return a, a.notify("cancelled", false)
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if a.session != nil {
			a.session.Close()
		}
		return a, tea.Quit

	case "j", "down":
		switch a.activePane {
		case PaneTargets:
			a.targetIdx = min(a.targetIdx+1, len(a.targets)-1)
		case PaneTemplates:
			a.templateIdx = min(a.templateIdx+1, max(len(a.templates)-1, 0))
		case PaneLogs:
			a.logs.ScrollBy(1)
		}
	case "k", "up":
		switch a.activePane {
		case PaneTargets:
			a.targetIdx = max(a.targetIdx-1, 0)
		case PaneTemplates:
			a.templateIdx = max(a.templateIdx-1, 0)
		case PaneLogs:
			a.logs.ScrollBy(-1)
		}

	case "enter":
		if a.activePane == PaneTargets {
			a = a.switchTarget(a.selectedTarget())
		}

	case "tab":
		a.activePane = (a.activePane + 1) % paneCount

	case " ":
		a.logPaused = !a.logPaused
		if !a.logPaused && a.hasPending {
			a.logs.SetLines(a.pending)
			a.pending = nil
			a.hasPending = false
		}

	case "G":
		a.logs.Bottom()

	case "r":
		if a.terminal && a.session != nil {
			a.terminal = false
			a.connState = core.ConnConnecting
			a.session.Reconnect()
		}

	case "R":
		if a.backend == nil {
			return a, nil
		}
		a.confirm = &confirmation{prompt: "Restart core? (y/n)", onYes: restartCmd(a.backend)}
		a.mode = ModeConfirm

	case "n":
		a.editor = NewTemplateEditor()
		a.mode = ModeEditor

	case "e":
		if t := a.selectedTemplate(); t != nil {
			a.editor = EditTemplateEditor(*t)
			a.mode = ModeEditor
		}

	case "d":
		if t := a.selectedTemplate(); t != nil && a.backend != nil {
			a.confirm = &confirmation{
				prompt: "Delete template " + t.Name + "? (y/n)",
				onYes:  deleteTemplateCmd(a.backend, *t),
			}
			a.mode = ModeConfirm
		}
	}

	return a, nil
}
