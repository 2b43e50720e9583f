package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"genui/internal/pipeline"
)

type progressMsg pipeline.ProgressEvent

type doneMsg struct{ resp *pipeline.Response }

// progressModel shows the current phase under a spinner and the last few notices.
type progressModel struct {
	spinner spinner.Model
	phase   string
	notes   []string
	resp    *pipeline.Response
	cancel  context.CancelFunc
}

const maxNotes = 5

func newProgressModel(cancel context.CancelFunc) progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = phaseStyle
	return progressModel{spinner: sp, phase: "starting", cancel: cancel}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
		return m, nil
	case progressMsg:
		switch msg.Kind {
		case pipeline.EventPhase:
			m.phase = msg.Name
		case pipeline.EventRetrying:
			m.note(fmt.Sprintf("retry %d: %s", msg.Attempt+1, msg.Detail))
		case pipeline.EventDetail:
			if msg.Detail != "writing" {
				m.note(msg.Detail)
			}
		}
		return m, nil
	case doneMsg:
		m.resp = msg.resp
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) note(s string) {
	m.notes = append(m.notes, s)
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
}

func (m progressModel) View() string {
	if m.resp != nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), phaseStyle.Render(m.phase))
	for _, n := range m.notes {
		b.WriteString(detailStyle.Render("  · "+n) + "\n")
	}
	return b.String()
}

// runWithSpinner runs the request while a bubbletea program shows progress.
func runWithSpinner(ctx context.Context, p *pipeline.Pipeline, prompt string) (*pipeline.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(newProgressModel(cancel))
	go func() {
		resp := p.Run(ctx, prompt, func(ev pipeline.ProgressEvent) { prog.Send(progressMsg(ev)) })
		prog.Send(doneMsg{resp: resp})
	}()

	final, err := prog.Run()
	if err != nil {
		return nil, fmt.Errorf("progress display failed: %w", err)
	}
	m, ok := final.(progressModel)
	if !ok || m.resp == nil {
		return nil, fmt.Errorf("request interrupted")
	}
	return m.resp, nil
}
