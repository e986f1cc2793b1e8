package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ernie/gamehost/internal/commands"
)

// formSpec describes an inline form for a parameterized action
type formSpec struct {
	title  string
	fields []string
	build  func(values []string) (commands.Action, error)
}

var formSpecs = map[string]formSpec{
	"a": {
		title:  "Announcement",
		fields: []string{"Message"},
		build:  func(v []string) (commands.Action, error) { return commands.Announce(v[0]) },
	},
	"m": {
		title:  "Message player",
		fields: []string{"Player", "Message"},
		build:  func(v []string) (commands.Action, error) { return commands.Message(v[0], v[1]) },
	},
	"k": {
		title:  "Kick player",
		fields: []string{"Player", "Reason (optional)"},
		build:  func(v []string) (commands.Action, error) { return commands.Kick(v[0], v[1]) },
	},
	"b": {
		title:  "Ban player",
		fields: []string{"Player", "Reason"},
		build:  func(v []string) (commands.Action, error) { return commands.Ban(v[0], v[1]) },
	},
	"c": {
		title:  "Custom command",
		fields: []string{"Command"},
		build:  func(v []string) (commands.Action, error) { return commands.Custom(v[0]) },
	},
}

type form struct {
	spec   formSpec
	inputs []textinput.Model
	focus  int
}

func newForm(spec formSpec) *form {
	f := &form{spec: spec}
	for _, name := range spec.fields {
		ti := textinput.New()
		ti.Placeholder = name
		ti.CharLimit = 200
		ti.Width = 40
		f.inputs = append(f.inputs, ti)
	}
	f.inputs[0].Focus()
	return f
}

func (f *form) values() []string {
	out := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		out[i] = in.Value()
	}
	return out
}

func (f *form) next() tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + 1) % len(f.inputs)
	return f.inputs[f.focus].Focus()
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(f.spec.title))
	b.WriteString("\n\n")
	for i, in := range f.inputs {
		b.WriteString(descStyle.Render(f.spec.fields[i]))
		b.WriteString("\n")
		b.WriteString(in.View())
		b.WriteString("\n\n")
	}
	b.WriteString(helpItem("tab", "next field") + "  " + helpItem("enter", "send") + "  " + helpItem("esc", "cancel"))
	return modalStyle.Render(b.String())
}
