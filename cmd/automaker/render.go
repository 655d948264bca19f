package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hanoibanhcuon/automaker/internal/recovery"
	"github.com/hanoibanhcuon/automaker/internal/reportstore"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

func renderReport(report *recovery.Report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Recovery Report"))
	b.WriteString("\n\n")

	s := report.Summary
	line := fmt.Sprintf("%d records checked, %d with issues", s.TotalItems, s.Total)
	if s.Total == 0 {
		b.WriteString(okStyle.Render(line))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(warningStyle.Render(line))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"incomplete plans: %d | missing files: %d | missing outputs: %d | missing deps: %d",
		s.IncompletePlans, s.MissingFiles, s.MissingOutputs, s.MissingDependencies)))
	b.WriteString("\n\n")

	for _, item := range report.Items {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s [%s]", item.RecordID, item.Title, item.Status)))
		b.WriteString("\n")

		if item.TasksTotal > 0 {
			b.WriteString(fmt.Sprintf("  tasks: %d/%d", item.TasksCompleted, item.TasksTotal))
			if item.CurrentTaskID != "" {
				b.WriteString("  next: " + item.CurrentTaskID)
			}
			b.WriteString("\n")
		}
		for _, issue := range item.Issues {
			style := warningStyle
			if issue == recovery.IssueExecutionError {
				style = errorStyle
			}
			b.WriteString("  " + style.Render(strings.ReplaceAll(issue, "_", " ")) + "\n")
		}
		for _, f := range item.MissingFiles {
			b.WriteString(dimStyle.Render("    missing: "+f) + "\n")
		}
		for _, d := range item.MissingDependencies {
			b.WriteString(dimStyle.Render("    lost dependency: "+d) + "\n")
		}

		var actions []string
		if item.CanResume {
			actions = append(actions, "resume")
		}
		if item.CanRebuild {
			actions = append(actions, "rebuild-output")
		}
		if len(actions) > 0 {
			b.WriteString(dimStyle.Render("    actions: "+strings.Join(actions, ", ")) + "\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func renderHistory(runs []reportstore.Run) string {
	if len(runs) == 0 {
		return "No archived sweeps\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Sweep History"))
	b.WriteString("\n\n")
	for _, run := range runs {
		line := fmt.Sprintf("%s  %d/%d records with issues",
			run.RanAt.Format("2006-01-02 15:04"), run.Summary.Total, run.Summary.TotalItems)
		if run.Summary.Total == 0 {
			b.WriteString(okStyle.Render(line))
		} else {
			b.WriteString(warningStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderRestoreReport(report *recovery.RestoreReport) string {
	var b strings.Builder

	mode := "restored"
	affected := report.TotalRestored
	if report.DryRun {
		mode = "would restore"
		for _, result := range report.Results {
			affected += len(result.Missing)
		}
	}
	b.WriteString(fmt.Sprintf("%d candidate dependencies, %s %d\n",
		report.TotalCandidates, mode, affected))

	for _, result := range report.Results {
		if len(result.Missing) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s: %s\n", result.RecordID, strings.Join(result.Missing, ", ")))
	}
	return b.String()
}
