package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"github.com/kingrea/tickflow/internal/ledger"
	"github.com/kingrea/tickflow/internal/logbook"
	"github.com/kingrea/tickflow/internal/pipeline"
)

// maxListedFailures caps the per-stage failure lines in a summary.
const maxListedFailures = 5

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	stageMarker = map[pipeline.Status]string{
		pipeline.StatusExecuted: "●",
		pipeline.StatusSkipped:  "○",
		pipeline.StatusStopped:  "■",
	}
)

// Summary renders the outcome of a pipeline run.
func Summary(res pipeline.Result) string {
	lines := []string{titleStyle.Render(fmt.Sprintf("%s · %s", strings.ToUpper(res.Pipeline), res.PipelineRunID))}
	for i, outcome := range res.Stages {
		lines = append(lines, stageLine(i+1, outcome))
		failed := outcome.Report.Failed
		for j, f := range failed {
			if j == maxListedFailures {
				lines = append(lines, errorStyle.Render(fmt.Sprintf("      … %d more in %s", len(failed)-j, outcome.LogPath)))
				break
			}
			lines = append(lines, errorStyle.Render(fmt.Sprintf("      ✗ %s: %s", f.File, f.Reason)))
		}
	}
	if res.TurnIn != "" {
		lines = append(lines, "", bodyStyle.Render("turned in to "+res.TurnIn))
	}
	if n := len(res.Orphans); n > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("removed %d stale stage %s", n, plural(n, "directory", "directories"))))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func stageLine(pos int, outcome pipeline.StageOutcome) string {
	marker := stageMarker[outcome.Status]
	if outcome.Status == pipeline.StatusSkipped {
		return mutedStyle.Render(fmt.Sprintf("%s %d. %-26s reused %s", marker, pos, outcome.Stage, outcome.RunID))
	}
	report := outcome.Report
	if outcome.Status == pipeline.StatusStopped {
		return errorStyle.Render(fmt.Sprintf("%s %d. %-26s stopped after %d files", marker, pos, outcome.Stage, len(report.Succeeded)+len(report.Failed)))
	}
	detail := fmt.Sprintf("%d ok", len(report.Succeeded))
	if n := len(report.Failed); n > 0 {
		detail += fmt.Sprintf(", %d failed", n)
	}
	detail += " · " + humanize.Bytes(uint64(report.Bytes)) + " · " + Elapsed(outcome.Elapsed)
	return bodyStyle.Render(fmt.Sprintf("%s %d. %-26s %s", marker, pos, outcome.Stage, detail))
}

// LogPanel renders the last entries of a stage log in a bordered box, or
// nothing when the log is empty.
func LogPanel(path string, maxLines int) string {
	book, err := logbook.New(path)
	if err != nil {
		return ""
	}
	lines, total := book.Tail(maxLines)
	if len(lines) == 0 {
		return ""
	}
	head := titleStyle.Render(fmt.Sprintf("LOG · %s", filepath.Base(path)))
	if total > len(lines) {
		head += mutedStyle.Render(fmt.Sprintf(" (last %d of %d)", len(lines), total))
	}
	return boxStyle.Render(head + "\n" + bodyStyle.Render(strings.Join(lines, "\n")))
}

// Elapsed formats a stage duration with its two most significant units.
func Elapsed(d time.Duration) string {
	if d < time.Millisecond {
		return "<1ms"
	}
	return durafmt.Parse(d.Round(time.Millisecond)).LimitFirstN(2).Format(shortUnits)
}

// Runs renders the resumable runs of a pipeline, newest first.
func Runs(pipelineName string, runs []ledger.Ledger, stages int, now time.Time) string {
	if len(runs) == 0 {
		return mutedStyle.Render(fmt.Sprintf("no %s runs", pipelineName))
	}
	lines := []string{titleStyle.Render(pipelineName)}
	for _, run := range runs {
		item := runItem{run: run, stages: stages, now: now}
		lines = append(lines, bodyStyle.Render("  "+item.Title()), mutedStyle.Render("    "+item.Description()))
	}
	return strings.Join(lines, "\n")
}

// Stages renders the stages of a pipeline with the positions accepted as
// resume points.
func Stages(def pipeline.Definition) string {
	lines := []string{titleStyle.Render(def.Name)}
	for i, st := range def.Stages {
		info := st.Info()
		lines = append(lines, bodyStyle.Render(fmt.Sprintf("  %d. %-26s", i+1, info.Name))+mutedStyle.Render(info.Description))
	}
	return strings.Join(lines, "\n")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
