package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/panelctl/pkg/api"
	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logstream"
)

const requestTimeout = 10 * time.Second

// frameMsg carries a debounced log snapshot from the session.
type frameMsg logstream.Frame

// stateMsg carries a connection state change from the session.
type stateMsg logstream.StateChange

// nodesTickMsg triggers the periodic node refresh.
type nodesTickMsg time.Time

type nodesMsg struct{ nodes []core.Node }

type statsMsg struct{ stats core.CoreStats }

type templatesMsg struct{ templates []core.Template }

// resultMsg reports a successful action.
type resultMsg struct {
	text             string
	refreshTemplates bool
	refreshStats     bool
}

// errorMsg reports a failed action. fallback is shown when the error
// carries no usable detail.
type errorMsg struct {
	err      error
	fallback string
}

type noticeExpiredMsg struct{ id int }

// describe turns an error into a notification line.
func describe(err error, fallback string) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return api.Message(err, fallback)
	}
	if err != nil {
		return fallback + ": " + err.Error()
	}
	return fallback
}

func waitFrameCmd(s *logstream.Session) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		return frameMsg(<-s.Frames())
	}
}

func waitStateCmd(s *logstream.Session) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		return stateMsg(<-s.States())
	}
}

func nodesTickCmd() tea.Cmd {
	return tea.Tick(NodeRefreshInterval, func(t time.Time) tea.Msg {
		return nodesTickMsg(t)
	})
}

func noticeExpireCmd(id int) tea.Cmd {
	return tea.Tick(NoticeTTL, func(time.Time) tea.Msg {
		return noticeExpiredMsg{id: id}
	})
}

func fetchNodesCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		nodes, err := b.Nodes(ctx)
		if err != nil {
			return errorMsg{err, "Failed to load nodes"}
		}
		return nodesMsg{nodes}
	}
}

func fetchStatsCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		stats, err := b.CoreStats(ctx)
		if err != nil {
			return errorMsg{err, "Failed to load core status"}
		}
		return statsMsg{stats}
	}
}

func fetchTemplatesCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := b.Templates(ctx)
		if err != nil {
			return errorMsg{err, "Failed to load templates"}
		}
		return templatesMsg{list}
	}
}

func restartCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := b.RestartCore(ctx); err != nil {
			return errorMsg{err, "Failed to restart core"}
		}
		return resultMsg{text: "Core restarted", refreshStats: true}
	}
}

// createTemplateCmd saves a new template. The config comes from
// configPath when set, otherwise from the running core.
func createTemplateCmd(b Backend, name, configPath string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		var cfg json.RawMessage
		if configPath != "" {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return errorMsg{err, "Failed to read config file"}
			}
			cfg = data
		} else {
			current, err := b.CoreConfig(ctx)
			if err != nil {
				return errorMsg{err, "Failed to load core config"}
			}
			cfg = current
		}

		t, err := b.CreateTemplate(ctx, core.TemplateInput{Name: name, Config: cfg})
		if err != nil {
			return errorMsg{err, "Failed to save template"}
		}
		return resultMsg{text: fmt.Sprintf("Template %q saved", t.Name), refreshTemplates: true}
	}
}

func renameTemplateCmd(b Backend, id int, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		t, err := b.UpdateTemplate(ctx, id, core.TemplatePatch{Name: &name})
		if err != nil {
			return errorMsg{err, "Failed to save template"}
		}
		return resultMsg{text: fmt.Sprintf("Template %q saved", t.Name), refreshTemplates: true}
	}
}

func deleteTemplateCmd(b Backend, t core.Template) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := b.DeleteTemplate(ctx, t.ID); err != nil {
			return errorMsg{err, "Failed to delete template"}
		}
		return resultMsg{text: fmt.Sprintf("Template %q deleted", t.Name), refreshTemplates: true}
	}
}
