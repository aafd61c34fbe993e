package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/panelctl/pkg/api"
	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logstream"
	"github.com/modoterra/panelctl/pkg/transport/ws"
)

type fakeBackend struct {
	restarts int
	deleted  []int
	renamed  map[int]string
	created  []core.TemplateInput
	config   json.RawMessage
	err      error
}

func (f *fakeBackend) CoreStats(context.Context) (core.CoreStats, error) {
	return core.CoreStats{Version: "1.8.4", Started: true}, f.err
}

func (f *fakeBackend) CoreConfig(context.Context) (json.RawMessage, error) {
	return f.config, f.err
}

func (f *fakeBackend) RestartCore(context.Context) error {
	f.restarts++
	return f.err
}

func (f *fakeBackend) Templates(context.Context) ([]core.Template, error) {
	return []core.Template{{ID: 1, Name: "default"}}, f.err
}

func (f *fakeBackend) CreateTemplate(_ context.Context, in core.TemplateInput) (core.Template, error) {
	f.created = append(f.created, in)
	return core.Template{ID: 9, Name: in.Name, Config: in.Config}, f.err
}

func (f *fakeBackend) UpdateTemplate(_ context.Context, id int, p core.TemplatePatch) (core.Template, error) {
	if f.renamed == nil {
		f.renamed = map[int]string{}
	}
	f.renamed[id] = *p.Name
	return core.Template{ID: id, Name: *p.Name}, f.err
}

func (f *fakeBackend) DeleteTemplate(_ context.Context, id int) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeBackend) Nodes(context.Context) ([]core.Node, error) {
	return []core.Node{{ID: 1, Name: "edge-1"}}, f.err
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, a App, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	m, cmd := a.Update(msg)
	next, ok := m.(App)
	require.True(t, ok, "Update returned %T", m)
	return next, cmd
}

func sized(a App) App {
	m, _ := a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m.(App)
}

// idleSession never dials: a relative base without an origin cannot be
// turned into a stream URL.
func idleSession(t *testing.T) *logstream.Session {
	t.Helper()
	s := logstream.NewSession(logstream.Options{Endpoint: ws.Endpoint{BaseAPI: "/api"}})
	t.Cleanup(s.Close)
	return s
}

func TestFramesFromOldEpochAreDropped(t *testing.T) {
	s := idleSession(t)
	s.Connect(core.MainTarget)
	a := sized(New(Options{Session: s}))

	stale := frameMsg{Epoch: s.Epoch() - 1, Target: core.MainTarget, Lines: []string{"old"}}
	a, _ = update(t, a, stale)
	assert.Zero(t, a.logs.Lines())

	live := frameMsg{Epoch: s.Epoch(), Target: core.MainTarget, Lines: []string{"a", "b"}}
	a, _ = update(t, a, live)
	assert.Equal(t, 2, a.logs.Lines())
}

func TestFramesForOtherTargetAreDropped(t *testing.T) {
	a := sized(New(Options{}))
	a, _ = update(t, a, frameMsg{Target: core.NodeTarget("3"), Lines: []string{"x"}})
	assert.Zero(t, a.logs.Lines())
}

func TestPauseHoldsLatestFrame(t *testing.T) {
	a := sized(New(Options{}))
	a, _ = update(t, a, key(" "))
	require.True(t, a.logPaused)

	a, _ = update(t, a, frameMsg{Lines: []string{"1"}})
	a, _ = update(t, a, frameMsg{Lines: []string{"1", "2", "3"}})
	assert.Zero(t, a.logs.Lines())

	a, _ = update(t, a, key(" "))
	assert.False(t, a.logPaused)
	assert.Equal(t, 3, a.logs.Lines())
	assert.False(t, a.hasPending)
}

func TestStateMessagesUpdateStatus(t *testing.T) {
	a := sized(New(Options{}))
	a, _ = update(t, a, stateMsg{State: core.ConnConnected})
	assert.Equal(t, core.ConnConnected, a.connState)

	a, _ = update(t, a, stateMsg{State: core.ConnClosed, Terminal: true})
	assert.True(t, a.terminal)
	assert.Contains(t, a.View(), "gave up, r to retry")
}

func TestRetryKeyReconnectsAfterGivingUp(t *testing.T) {
	s := idleSession(t)
	s.Connect(core.MainTarget)
	before := s.Epoch()
	a := sized(New(Options{Session: s}))

	a, _ = update(t, a, key("r"))
	assert.Equal(t, before, s.Epoch(), "r is ignored while the session is live")

	a, _ = update(t, a, stateMsg{Epoch: before, Target: core.MainTarget, State: core.ConnClosed, Terminal: true})
	a, _ = update(t, a, key("r"))
	assert.False(t, a.terminal)
	assert.Greater(t, s.Epoch(), before)
}

func TestEnterOnCurrentTargetKeepsLogs(t *testing.T) {
	a := sized(New(Options{}))
	a, _ = update(t, a, frameMsg{Lines: []string{"keep"}})

	a, _ = update(t, a, key("enter"))
	assert.Equal(t, core.MainTarget, a.current)
	assert.Equal(t, 1, a.logs.Lines())
}

func TestEnterSwitchesTargetAndClears(t *testing.T) {
	s := idleSession(t)
	a := sized(New(Options{Session: s}))
	a, _ = update(t, a, nodesMsg{nodes: []core.Node{{ID: 4, Name: "edge-4"}}})
	a, _ = update(t, a, frameMsg{Epoch: s.Epoch(), Lines: []string{"main"}})
	require.Equal(t, 1, a.logs.Lines())

	a, _ = update(t, a, key("j"))
	a, _ = update(t, a, key("enter"))
	assert.Equal(t, core.NodeTarget("4"), a.current)
	assert.Equal(t, core.NodeTarget("4"), s.Target())
	assert.Zero(t, a.logs.Lines())
}

func TestSetNodesKeepsCursor(t *testing.T) {
	a := New(Options{})
	a.setNodes([]core.Node{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}})
	a.targetIdx = 2

	a.setNodes([]core.Node{{ID: 2, Name: "b"}, {ID: 3, Name: "c"}})
	assert.Equal(t, core.NodeTarget("2"), a.selectedTarget())

	a.setNodes(nil)
	assert.Equal(t, 0, a.targetIdx)
	assert.Len(t, a.targets, 1)
}

func TestRestartNeedsConfirmation(t *testing.T) {
	b := &fakeBackend{}
	a := sized(New(Options{Backend: b}))

	a, cmd := update(t, a, key("R"))
	assert.Equal(t, ModeConfirm, a.mode)
	assert.Nil(t, cmd)

	a, cmd = update(t, a, key("n"))
	assert.Equal(t, ModeNormal, a.mode)
	assert.Equal(t, "cancelled", a.notice.text)
	assert.Zero(t, b.restarts)

	a, _ = update(t, a, key("R"))
	_, cmd = update(t, a, key("y"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, resultMsg{text: "Core restarted", refreshStats: true}, msg)
	assert.Equal(t, 1, b.restarts)
}

func TestDeleteTemplateFlow(t *testing.T) {
	b := &fakeBackend{}
	a := sized(New(Options{Backend: b}))
	a, _ = update(t, a, templatesMsg{templates: []core.Template{{ID: 5, Name: "edge"}}})

	a, _ = update(t, a, key("d"))
	require.Equal(t, ModeConfirm, a.mode)
	assert.Contains(t, a.View(), "Delete template edge?")

	_, cmd := update(t, a, key("y"))
	require.NotNil(t, cmd)
	res, ok := cmd().(resultMsg)
	require.True(t, ok)
	assert.True(t, res.refreshTemplates)
	assert.Equal(t, []int{5}, b.deleted)
}

func TestNoticeExpiresOnlyForLatest(t *testing.T) {
	a := sized(New(Options{}))
	a, _ = update(t, a, resultMsg{text: "first"})
	firstID := a.notice.id
	a, _ = update(t, a, resultMsg{text: "second"})

	a, _ = update(t, a, noticeExpiredMsg{id: firstID})
	assert.Equal(t, "second", a.notice.text)

	a, _ = update(t, a, noticeExpiredMsg{id: a.notice.id})
	assert.Empty(t, a.notice.text)
}

func TestErrorNoticeUsesDetail(t *testing.T) {
	a := sized(New(Options{}))
	err := &api.Error{Status: 409, Detail: json.RawMessage(`"Template name already exists"`)}
	a, _ = update(t, a, errorMsg{err: err, fallback: "Failed to save template"})
	assert.True(t, a.notice.isErr)
	assert.Equal(t, "Template name already exists", a.notice.text)

	a, _ = update(t, a, errorMsg{err: errors.New("dial tcp: refused"), fallback: "Failed to load nodes"})
	assert.Equal(t, "Failed to load nodes: dial tcp: refused", a.notice.text)
}

func TestEditorCreatesTemplateFromCoreConfig(t *testing.T) {
	b := &fakeBackend{config: json.RawMessage(`{"inbounds":[]}`)}
	a := sized(New(Options{Backend: b}))

	a, _ = update(t, a, key("n"))
	require.Equal(t, ModeEditor, a.mode)

	// Empty name is rejected in place.
	a, cmd := update(t, a, key("enter"))
	assert.Equal(t, ModeEditor, a.mode)
	assert.Nil(t, cmd)

	for _, r := range "edge" {
		a, _ = update(t, a, key(string(r)))
	}
	a, cmd = update(t, a, key("enter"))
	assert.Equal(t, ModeNormal, a.mode)
	require.NotNil(t, cmd)

	res, ok := cmd().(resultMsg)
	require.True(t, ok)
	assert.Equal(t, `Template "edge" saved`, res.text)
	require.Len(t, b.created, 1)
	assert.JSONEq(t, `{"inbounds":[]}`, string(b.created[0].Config))
}

func TestEditorRenamesSelectedTemplate(t *testing.T) {
	b := &fakeBackend{}
	a := sized(New(Options{Backend: b}))
	a, _ = update(t, a, templatesMsg{templates: []core.Template{{ID: 2, Name: "old"}}})

	a, _ = update(t, a, key("e"))
	require.Equal(t, ModeEditor, a.mode)
	a, _ = update(t, a, key("!"))
	_, cmd := update(t, a, key("enter"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "old!", b.renamed[2])
}

func TestEditorEscCancels(t *testing.T) {
	a := sized(New(Options{Backend: &fakeBackend{}}))
	a, _ = update(t, a, key("n"))
	a, _ = update(t, a, key("esc"))
	assert.Equal(t, ModeNormal, a.mode)
	assert.Nil(t, a.editor)
}

func TestQuitClosesSession(t *testing.T) {
	s := idleSession(t)
	s.Connect(core.MainTarget)
	before := s.Epoch()
	a := New(Options{Session: s})

	_, cmd := update(t, a, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Greater(t, s.Epoch(), before)
}
