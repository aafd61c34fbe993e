package model

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/panelctl/pkg/core"
)

// EditorField is a named text input in the editor form.
type EditorField struct {
	Label string
	Input textinput.Model
}

// EditorModel is the template form. A new template takes a name and an
// optional config file; editing only renames.
type EditorModel struct {
	fields     []EditorField
	activeIdx  int
	templateID int // 0 for a new template
	err        string
}

// NewTemplateEditor creates a blank form for saving the current core
// config (or a file) as a template.
func NewTemplateEditor() *EditorModel {
	fields := []EditorField{
		newField("name", ""),
		newField("config file", ""),
	}
	fields[1].Input.Placeholder = "empty = current core config"
	fields[0].Input.Focus()
	return &EditorModel{fields: fields}
}

// EditTemplateEditor creates a form pre-filled with t's name.
func EditTemplateEditor(t core.Template) *EditorModel {
	fields := []EditorField{newField("name", t.Name)}
	fields[0].Input.Focus()
	return &EditorModel{fields: fields, templateID: t.ID}
}

func newField(label, value string) EditorField {
	ti := textinput.New()
	ti.Placeholder = label
	ti.SetValue(value)
	ti.CharLimit = 512
	return EditorField{Label: label, Input: ti}
}

// IsNew reports whether the form creates a template.
func (e *EditorModel) IsNew() bool { return e.templateID == 0 }

func (e *EditorModel) value(label string) string {
	for _, f := range e.fields {
		if f.Label == label {
			return strings.TrimSpace(f.Input.Value())
		}
	}
	return ""
}

// HandleKey processes key events in editor mode.
func (e *EditorModel) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.editor = nil
		return a, nil

	case "enter":
		name := e.value("name")
		if err := core.ValidateTemplateName(name); err != nil {
			e.err = err.Error()
			return a, nil
		}
		if a.backend == nil {
			e.err = "not connected"
			return a, nil
		}
		a.mode = ModeNormal
		a.editor = nil
		if e.IsNew() {
			return a, createTemplateCmd(a.backend, name, e.value("config file"))
		}
		return a, renameTemplateCmd(a.backend, e.templateID, name)

	case "tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx + 1) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	case "shift+tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx - 1 + len(e.fields)) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	default:
		e.err = ""
		var cmd tea.Cmd
		e.fields[e.activeIdx].Input, cmd = e.fields[e.activeIdx].Input.Update(msg)
		return a, cmd
	}
}

// View renders the editor form.
func (e *EditorModel) View(width int) string {
	title := "Rename Template"
	if e.IsNew() {
		title = "New Template"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" "+title+" ") + "\n\n")
	for i, f := range e.fields {
		prefix := "  "
		if i == e.activeIdx {
			prefix = "▸ "
		}
		f.Input.Width = max(width-len(f.Label)-8, 10)
		b.WriteString(prefix + dimStyle.Render(f.Label+": ") + f.Input.View() + "\n")
	}
	if e.err != "" {
		b.WriteString("\n" + errorStyle.Render("  "+e.err) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("  tab:next  shift+tab:prev  enter:save  esc:cancel"))
	return b.String()
}
