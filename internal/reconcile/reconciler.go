// Package reconcile recomputes plan and task status from filesystem
// evidence. Agent execution is best-effort, so the persisted plan record
// routinely drifts from ground truth; the reconciler makes the record
// agree with what is actually on disk.
package reconcile

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/extract"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
)

// Result is the outcome of reconciling one record's task list against the
// filesystem. It is derived, never persisted directly; callers merge it
// back into the record's plan only when it materially changed.
type Result struct {
	Tasks          []domain.Task `json:"tasks"`
	TasksCompleted int           `json:"tasksCompleted"`
	TasksTotal     int           `json:"tasksTotal"`
	CurrentTaskID  string        `json:"currentTaskId,omitempty"`
	MissingFiles   []string      `json:"missingFiles"`
}

// Reconciler checks task file evidence for records of one project.
type Reconciler struct {
	store *recordstore.Store
}

// New creates a Reconciler backed by the given record store.
func New(store *recordstore.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile derives corrected per-task and aggregate status for a record.
// Returns nil when no task list is available from the attached plan, the
// plan text, or the execution artifact.
//
// Reconcile is a pure function of the input record plus project filesystem
// state: it never mutates the record, and running it twice with no
// intervening filesystem change yields an identical result.
func (r *Reconciler) Reconcile(rec *domain.Record) *Result {
	tasks := r.taskList(rec)
	if len(tasks) == 0 {
		return nil
	}

	res := &Result{
		Tasks:        cloneTasks(tasks),
		TasksTotal:   len(tasks),
		MissingFiles: []string{},
	}

	for i := range res.Tasks {
		task := &res.Tasks[i]

		if task.FilePath != "" {
			if info, ok := r.probe(rec, task.FilePath); ok {
				// Failed is sticky: only the execution pipeline clears it.
				// A crashed agent may have written the file before failing.
				if task.Status != domain.TaskFailed {
					task.Status = domain.TaskCompleted
					if task.CompletedAt == nil {
						mt := info.ModTime()
						task.CompletedAt = &mt
					}
				}
			} else {
				res.MissingFiles = append(res.MissingFiles, relativePath(r.store.Base(), task.FilePath))
				// Failed is sticky: only the execution pipeline sets it.
				if task.Status != domain.TaskFailed {
					task.Status = domain.TaskPending
					task.CompletedAt = nil
				}
			}
		}

		// Best available approximation for tasks the agent started but
		// whose start time was never captured.
		if task.Status == domain.TaskInProgress && task.StartedAt == nil {
			task.StartedAt = rec.StartedAt
		}

		if task.Status == domain.TaskCompleted {
			res.TasksCompleted++
		}
	}

	for _, task := range res.Tasks {
		if task.Status != domain.TaskCompleted {
			res.CurrentTaskID = task.ID
			break
		}
	}

	return res
}

// taskList finds the best available task list: the attached structured
// list, then extraction from plan text, then extraction from a previously
// captured execution artifact.
func (r *Reconciler) taskList(rec *domain.Record) []domain.Task {
	if rec.PlanSpec != nil {
		if len(rec.PlanSpec.Tasks) > 0 {
			return rec.PlanSpec.Tasks
		}
		if rec.PlanSpec.Content != "" {
			if tasks := extract.Tasks(rec.PlanSpec.Content); len(tasks) > 0 {
				return tasks
			}
		}
	}

	output := r.store.ReadOutput(rec.ID)
	if output == "" {
		return nil
	}
	return extract.Tasks(StripRebuiltMarker(output))
}

// probe checks each candidate absolute path for a task file and returns
// the stat of the first that exists.
func (r *Reconciler) probe(rec *domain.Record, filePath string) (os.FileInfo, bool) {
	for _, candidate := range r.candidatePaths(rec, filePath) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return info, true
		}
	}
	return nil, false
}

// candidatePaths builds the absolute paths a task file may live at. Work
// may have happened inside an isolated workspace copy rather than the main
// tree, so relative paths are also probed under the record's worktree.
func (r *Reconciler) candidatePaths(rec *domain.Record, filePath string) []string {
	if filepath.IsAbs(filePath) {
		return []string{filePath}
	}
	return []string{
		filepath.Join(r.store.Base(), filePath),
		filepath.Join(WorktreeDir(r.store.Base(), rec), filePath),
	}
}

var worktreeSanitizeRegex = regexp.MustCompile(`[^a-z0-9-]+`)

// WorktreeDir returns the deterministic workspace-copy directory for a
// record, derived from its branch name and id.
func WorktreeDir(projectBase string, rec *domain.Record) string {
	name := rec.BranchName
	if name == "" {
		name = "feature-" + rec.ID
	}
	sanitized := worktreeSanitizeRegex.ReplaceAllString(strings.ToLower(name), "-")
	sanitized = strings.Trim(sanitized, "-")
	return filepath.Join(projectBase, ".automaker", "worktrees", sanitized)
}

func relativePath(base, filePath string) string {
	if !filepath.IsAbs(filePath) {
		return filePath
	}
	if rel, err := filepath.Rel(base, filePath); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filePath
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out
}

// HasChanges reports whether a reconciliation result carries information
// the plan does not already hold. Callers use it to avoid rewriting
// records on every poll.
func HasChanges(plan *domain.PlanSpec, res *Result) bool {
	if plan == nil {
		return true
	}
	if plan.TasksCompleted != res.TasksCompleted ||
		plan.TasksTotal != res.TasksTotal ||
		plan.CurrentTaskID != res.CurrentTaskID {
		return true
	}
	if len(plan.Tasks) != len(res.Tasks) {
		return true
	}
	for i := range res.Tasks {
		if !tasksEqual(plan.Tasks[i], res.Tasks[i]) {
			return true
		}
	}
	return false
}

func tasksEqual(a, b domain.Task) bool {
	return a.ID == b.ID &&
		a.Description == b.Description &&
		a.FilePath == b.FilePath &&
		a.Phase == b.Phase &&
		a.Status == b.Status &&
		timesEqual(a.StartedAt, b.StartedAt) &&
		timesEqual(a.CompletedAt, b.CompletedAt)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// NeedsStatusRepair reports whether the record's own status should be
// downgraded to backlog: a record cannot be approved-and-done while its
// reconciled tasks show unfinished work. The caller owns the mutation;
// the reconciler only signals.
func NeedsStatusRepair(rec *domain.Record, res *Result) bool {
	if rec.PlanSpec == nil || rec.PlanSpec.Status != domain.PlanApproved {
		return false
	}
	return res.TasksCompleted < res.TasksTotal && rec.Status.ImpliesDone()
}

// ApplyResult merges a reconciliation result into the record's plan,
// creating the plan spec if the record has none.
func ApplyResult(rec *domain.Record, res *Result) {
	if rec.PlanSpec == nil {
		rec.PlanSpec = &domain.PlanSpec{}
	}
	rec.PlanSpec.Tasks = res.Tasks
	rec.PlanSpec.TasksCompleted = res.TasksCompleted
	rec.PlanSpec.TasksTotal = res.TasksTotal
	rec.PlanSpec.CurrentTaskID = res.CurrentTaskID
}
