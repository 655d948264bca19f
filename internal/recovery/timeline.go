package recovery

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/hanoibanhcuon/automaker/internal/recordstore"
)

// Tool-invocation lines in captured agent output, e.g.
//   ● Write(internal/config/config.go)
//   Edit(web/api/server.go)
var toolCallRegex = regexp.MustCompile(`(?m)^[^\w]*\b(Write|Edit|MultiEdit)\s*\(([^)]+)\)`)

// TimelineEntry is one chronological step of a record's history.
type TimelineEntry struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	Label    string    `json:"label"`
	TaskID   string    `json:"taskId,omitempty"`
	FilePath string    `json:"filePath,omitempty"`
}

// Timeline assembles a chronologically sorted activity history for a
// record from its persisted timestamps. With includeFileActivity set,
// file-change entries are inferred from write/edit tool invocations found
// in the execution artifact.
func (s *Service) Timeline(projectBase, recordID string, includeFileActivity bool) ([]TimelineEntry, error) {
	store := recordstore.New(projectBase)
	rec, err := store.Get(recordID)
	if err != nil {
		return nil, err
	}

	var entries []TimelineEntry
	add := func(t *time.Time, typ, label, taskID, filePath string) {
		if t == nil {
			return
		}
		entries = append(entries, TimelineEntry{
			Time: *t, Type: typ, Label: label, TaskID: taskID, FilePath: filePath,
		})
	}

	add(rec.StartedAt, "record_started", "Record started", "", "")
	if rec.PlanSpec != nil {
		add(rec.PlanSpec.GeneratedAt, "plan_generated", "Plan generated", "", "")
		add(rec.PlanSpec.ApprovedAt, "plan_approved", "Plan approved", "", "")
		for _, task := range rec.PlanSpec.Tasks {
			add(task.StartedAt, "task_started",
				fmt.Sprintf("Task %s started: %s", task.ID, task.Description), task.ID, task.FilePath)
			add(task.CompletedAt, "task_completed",
				fmt.Sprintf("Task %s completed: %s", task.ID, task.Description), task.ID, task.FilePath)
		}
	}

	if includeFileActivity {
		entries = append(entries, fileActivity(store, recordID)...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

// fileActivity infers file-change entries from tool invocations in the
// execution artifact. The artifact carries no per-call timestamps, so
// entries share the artifact's modification time and keep scan order.
func fileActivity(store *recordstore.Store, recordID string) []TimelineEntry {
	output := store.ReadOutput(recordID)
	if output == "" {
		return nil
	}

	at := time.Time{}
	if info, err := os.Stat(store.OutputPath(recordID)); err == nil {
		at = info.ModTime()
	}

	var entries []TimelineEntry
	for _, m := range toolCallRegex.FindAllStringSubmatch(output, -1) {
		entries = append(entries, TimelineEntry{
			Time:     at,
			Type:     "file_changed",
			Label:    fmt.Sprintf("%s %s", m[1], m[2]),
			FilePath: m[2],
		})
	}
	return entries
}
