package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hanoibanhcuon/automaker/internal/domain"
)

// RebuiltMarker is appended to every rebuilt artifact so later passes can
// tell reconstruction from genuine agent output and strip it before
// re-extracting tasks.
const RebuiltMarker = "<!-- rebuilt-output -->"

// StripRebuiltMarker removes a trailing rebuilt-output sentinel.
func StripRebuiltMarker(text string) string {
	return strings.TrimRight(strings.TrimSuffix(strings.TrimRight(text, "\n"), RebuiltMarker), "\n")
}

// RebuildOutput synthesizes a human-readable status report for a record
// whose execution artifact is missing, incomplete, or stale. Every section
// degrades to an explicit placeholder, so the rebuild never fails for
// records lacking task or file data. The rendered task lines round-trip
// through the extractor.
func (r *Reconciler) RebuildOutput(rec *domain.Record, tasks []domain.Task, missingFiles []string) string {
	var b strings.Builder

	title := rec.Title
	if title == "" {
		title = rec.ID
	}
	fmt.Fprintf(&b, "# Execution Output: %s\n\n", title)
	fmt.Fprintf(&b, "Rebuilt from filesystem evidence at %s.\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Plan\n\n")
	planStatus := "unknown"
	completed, total := 0, len(tasks)
	if rec.PlanSpec != nil && rec.PlanSpec.Status != "" {
		planStatus = string(rec.PlanSpec.Status)
	}
	for _, task := range tasks {
		if task.Status == domain.TaskCompleted {
			completed++
		}
	}
	fmt.Fprintf(&b, "Status: %s\n", planStatus)
	fmt.Fprintf(&b, "Progress: %d/%d tasks completed\n\n", completed, total)

	b.WriteString("## Tasks\n\n")
	if len(tasks) == 0 {
		b.WriteString("No task data found.\n\n")
	} else {
		for _, task := range tasks {
			line := fmt.Sprintf("- [%s] %s: %s", statusMarker(task.Status), task.ID, task.Description)
			if task.FilePath != "" {
				line += " | File: " + task.FilePath
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Files Found\n\n")
	found := 0
	for _, task := range tasks {
		if task.FilePath == "" {
			continue
		}
		info, ok := r.probe(rec, task.FilePath)
		if !ok {
			continue
		}
		found++
		fmt.Fprintf(&b, "- %s (%s, modified %s)\n",
			task.FilePath,
			humanize.IBytes(uint64(info.Size())),
			info.ModTime().UTC().Format(time.RFC3339))
	}
	if found == 0 {
		b.WriteString("No files found.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Missing Files\n\n")
	if len(missingFiles) == 0 {
		b.WriteString("None\n")
	} else {
		for _, path := range missingFiles {
			fmt.Fprintf(&b, "- %s\n", path)
		}
	}
	b.WriteString("\n" + RebuiltMarker + "\n")

	return b.String()
}

func statusMarker(status domain.TaskStatus) string {
	switch status {
	case domain.TaskCompleted:
		return "x"
	case domain.TaskInProgress:
		return "~"
	case domain.TaskFailed:
		return "!"
	default:
		return " "
	}
}
