// Package tui holds the interactive pieces of the tickflow CLI: a picker for
// choosing which unfinished pipeline run to resume, and the end-of-run summary.
//
// The picker is a small bubbletea program (Model, Update, View) around a
// bubbles list.
package tui

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kingrea/tickflow/internal/ledger"
	"github.com/kingrea/tickflow/internal/pipeline"
)

// ErrNoSelection is returned when the picker is dismissed without a choice.
var ErrNoSelection = errors.New("tui: no run selected")

// runItem implements list.Item for one resumable run.
type runItem struct {
	run    ledger.Ledger
	stages int
	now    time.Time
}

func (i runItem) Title() string { return i.run.PipelineRunID }

func (i runItem) Description() string {
	done := len(i.run.Completed())
	desc := fmt.Sprintf("%d/%d stages done", done, i.stages)
	if done > 0 {
		desc += " · last " + i.run.Completed()[done-1]
	}
	if !i.run.UpdatedAt.IsZero() {
		desc += " · updated " + humanize.RelTime(i.run.UpdatedAt, i.now, "ago", "from now")
	}
	return desc
}

func (i runItem) FilterValue() string { return i.run.PipelineRunID }

// picker is the bubbletea model behind the run selector.
type picker struct {
	pipeline  string
	list      list.Model
	choice    string
	cancelled bool
	width     int
	height    int
}

func newPicker(pipelineName string, candidates []ledger.Ledger, stages int, now time.Time) *picker {
	items := make([]list.Item, len(candidates))
	for i, c := range candidates {
		items[i] = runItem{run: c, stages: stages, now: now}
	}
	menu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	menu.Title = "Resume " + pipelineName
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	return &picker{pipeline: pipelineName, list: menu}
}

func (p *picker) Init() tea.Cmd {
	return nil
}

func (p *picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.list.SetSize(max(0, msg.Width-4), max(0, msg.Height-6))
		return p, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			p.cancelled = true
			return p, tea.Quit
		case "enter":
			if item, ok := p.list.SelectedItem().(runItem); ok {
				p.choice = item.run.PipelineRunID
				return p, tea.Quit
			}
			return p, nil
		}
	}
	var cmd tea.Cmd
	p.list, cmd = p.list.Update(msg)
	return p, cmd
}

func (p *picker) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("♪ TICKFLOW")
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render("enter resume · esc cancel · start over with --fresh")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(p.list.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, box, hint)
}

// NewSelector returns a pipeline.Selector that asks the user which run to
// resume. Program options let callers redirect input and output.
func NewSelector(pipelineName string, stages int, opts ...tea.ProgramOption) pipeline.Selector {
	return func(candidates []ledger.Ledger) (string, error) {
		if len(candidates) == 0 {
			return "", ErrNoSelection
		}
		final, err := tea.NewProgram(newPicker(pipelineName, candidates, stages, time.Now()), opts...).Run()
		if err != nil {
			return "", fmt.Errorf("tui: run picker: %w", err)
		}
		p, ok := final.(*picker)
		if !ok || p.cancelled || p.choice == "" {
			return "", ErrNoSelection
		}
		return p.choice, nil
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
