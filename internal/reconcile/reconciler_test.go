package reconcile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
)

func testReconciler(t *testing.T) (*Reconciler, *recordstore.Store, string) {
	t.Helper()
	base := t.TempDir()
	store := recordstore.New(base)
	return New(store), store, base
}

func writeProjectFile(t *testing.T, base, rel string) {
	t.Helper()
	path := filepath.Join(base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func recordWithTasks(tasks ...domain.Task) *domain.Record {
	return &domain.Record{
		ID:     "feat-1",
		Title:  "Feature one",
		Status: domain.StatusRunning,
		PlanSpec: &domain.PlanSpec{
			Tasks:      tasks,
			TasksTotal: len(tasks),
		},
	}
}

func TestReconcile_EvidenceOverridesPending(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "pkg/a.go")

	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "write a", FilePath: "pkg/a.go", Status: domain.TaskPending,
	})

	res := r.Reconcile(rec)
	if res == nil {
		t.Fatal("result is nil")
	}
	if res.Tasks[0].Status != domain.TaskCompleted {
		t.Errorf("status = %s, want completed", res.Tasks[0].Status)
	}
	if res.Tasks[0].CompletedAt == nil {
		t.Error("CompletedAt not backfilled from file mtime")
	}
	if res.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", res.TasksCompleted)
	}
	if len(res.MissingFiles) != 0 {
		t.Errorf("MissingFiles = %v, want empty", res.MissingFiles)
	}
}

func TestReconcile_AbsenceOverridesCompleted(t *testing.T) {
	r, _, _ := testReconciler(t)

	now := time.Now()
	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "write b", FilePath: "pkg/b.go",
		Status: domain.TaskCompleted, CompletedAt: &now,
	})

	res := r.Reconcile(rec)
	if res.Tasks[0].Status != domain.TaskPending {
		t.Errorf("status = %s, want pending", res.Tasks[0].Status)
	}
	if res.Tasks[0].CompletedAt != nil {
		t.Error("CompletedAt should be cleared for missing file")
	}
	if !reflect.DeepEqual(res.MissingFiles, []string{"pkg/b.go"}) {
		t.Errorf("MissingFiles = %v, want [pkg/b.go]", res.MissingFiles)
	}
}

func TestReconcile_FailedIsSticky(t *testing.T) {
	r, _, _ := testReconciler(t)

	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "broken", FilePath: "pkg/c.go", Status: domain.TaskFailed,
	})

	res := r.Reconcile(rec)
	if res.Tasks[0].Status != domain.TaskFailed {
		t.Errorf("status = %s, want failed (sticky)", res.Tasks[0].Status)
	}
	if len(res.MissingFiles) != 1 {
		t.Errorf("MissingFiles = %v, want one entry", res.MissingFiles)
	}
}

func TestReconcile_FailedIsStickyWhenFileExists(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "pkg/c.go")

	// A crashed agent may write the file and still fail the task. The
	// file's presence must not promote the task to completed.
	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "broken", FilePath: "pkg/c.go", Status: domain.TaskFailed,
	})

	res := r.Reconcile(rec)
	if res.Tasks[0].Status != domain.TaskFailed {
		t.Errorf("status = %s, want failed (sticky even when file exists)", res.Tasks[0].Status)
	}
	if res.Tasks[0].CompletedAt != nil {
		t.Error("CompletedAt backfilled for a failed task")
	}
	if res.TasksCompleted != 0 {
		t.Errorf("TasksCompleted = %d, want 0", res.TasksCompleted)
	}
	if res.CurrentTaskID != "T001" {
		t.Errorf("CurrentTaskID = %q, want T001", res.CurrentTaskID)
	}
	if len(res.MissingFiles) != 0 {
		t.Errorf("MissingFiles = %v, want empty", res.MissingFiles)
	}
}

func TestReconcile_WorktreeCandidate(t *testing.T) {
	r, _, base := testReconciler(t)

	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "in worktree", FilePath: "pkg/w.go", Status: domain.TaskPending,
	})
	rec.BranchName = "Feature/Wire Store"

	wt := WorktreeDir(base, rec)
	if strings.ContainsAny(filepath.Base(wt), " /A") {
		t.Errorf("worktree dir not sanitized: %s", wt)
	}
	path := filepath.Join(wt, "pkg", "w.go")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("x"), 0o644)

	res := r.Reconcile(rec)
	if res.Tasks[0].Status != domain.TaskCompleted {
		t.Errorf("status = %s, want completed via worktree probe", res.Tasks[0].Status)
	}
}

func TestReconcile_InProgressInheritsStartedAt(t *testing.T) {
	r, _, _ := testReconciler(t)

	started := time.Now().Add(-time.Hour)
	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "thinking", Status: domain.TaskInProgress,
	})
	rec.StartedAt = &started

	res := r.Reconcile(rec)
	if res.Tasks[0].StartedAt == nil || !res.Tasks[0].StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want record's %v", res.Tasks[0].StartedAt, started)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "pkg/a.go")

	rec := recordWithTasks(
		domain.Task{ID: "T001", Description: "a", FilePath: "pkg/a.go", Status: domain.TaskPending},
		domain.Task{ID: "T002", Description: "b", FilePath: "pkg/missing.go", Status: domain.TaskCompleted},
	)

	first := r.Reconcile(rec)
	ApplyResult(rec, first)
	second := r.Reconcile(rec)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconcile not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if HasChanges(rec.PlanSpec, second) {
		t.Error("HasChanges = true after applying an identical result")
	}
}

func TestReconcile_ExtractsFromPlanContent(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "pkg/a.go")

	rec := &domain.Record{
		ID:     "feat-1",
		Status: domain.StatusRunning,
		PlanSpec: &domain.PlanSpec{
			Content: "## Phase 1\nT1: Write a | File: pkg/a.go\nT2: Write b | File: pkg/b.go\n",
		},
	}

	res := r.Reconcile(rec)
	if res == nil {
		t.Fatal("result is nil")
	}
	if res.TasksTotal != 2 || res.TasksCompleted != 1 {
		t.Errorf("completed/total = %d/%d, want 1/2", res.TasksCompleted, res.TasksTotal)
	}
	if res.CurrentTaskID != "T002" {
		t.Errorf("CurrentTaskID = %q, want T002", res.CurrentTaskID)
	}
}

func TestReconcile_FallsBackToOutputArtifact(t *testing.T) {
	r, store, _ := testReconciler(t)

	rec := &domain.Record{ID: "feat-1", Status: domain.StatusRunning}
	artifact := "## Tasks\n- [ ] T1: From artifact | File: pkg/a.go\n\n" + RebuiltMarker + "\n"
	if err := store.WriteOutput("feat-1", artifact); err != nil {
		t.Fatal(err)
	}

	res := r.Reconcile(rec)
	if res == nil {
		t.Fatal("result is nil, want extraction from artifact")
	}
	if res.Tasks[0].ID != "T001" {
		t.Errorf("task id = %q, want T001", res.Tasks[0].ID)
	}
}

func TestReconcile_NoPlanAnywhere(t *testing.T) {
	r, _, _ := testReconciler(t)
	rec := &domain.Record{ID: "feat-1", Status: domain.StatusBacklog}
	if res := r.Reconcile(rec); res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "pkg/a.go")

	rec := recordWithTasks(domain.Task{
		ID: "T001", Description: "a", FilePath: "pkg/a.go", Status: domain.TaskPending,
	})
	r.Reconcile(rec)

	if rec.PlanSpec.Tasks[0].Status != domain.TaskPending {
		t.Error("Reconcile mutated the input record")
	}
}

func TestNeedsStatusRepair(t *testing.T) {
	rec := recordWithTasks(domain.Task{ID: "T001", Description: "a"})
	rec.Status = domain.StatusVerified
	rec.PlanSpec.Status = domain.PlanApproved

	res := &Result{TasksCompleted: 1, TasksTotal: 2}
	if !NeedsStatusRepair(rec, res) {
		t.Error("NeedsStatusRepair = false, want downgrade signal")
	}

	res.TasksCompleted = 2
	if NeedsStatusRepair(rec, res) {
		t.Error("NeedsStatusRepair = true for fully completed plan")
	}

	rec.Status = domain.StatusRunning
	res.TasksCompleted = 1
	if NeedsStatusRepair(rec, res) {
		t.Error("NeedsStatusRepair = true for running record")
	}
}

// Scenario from the recovery design: one task done on disk, one claimed
// but missing, record marked verified with an approved plan.
func TestReconcile_DriftScenario(t *testing.T) {
	r, _, base := testReconciler(t)
	writeProjectFile(t, base, "path1")

	rec := recordWithTasks(
		domain.Task{ID: "T001", Description: "done", FilePath: "path1", Status: domain.TaskCompleted},
		domain.Task{ID: "T002", Description: "pending", FilePath: "path2", Status: domain.TaskPending},
	)
	rec.Status = domain.StatusVerified
	rec.PlanSpec.Status = domain.PlanApproved

	res := r.Reconcile(rec)
	if res.TasksCompleted != 1 || res.TasksTotal != 2 {
		t.Errorf("completed/total = %d/%d, want 1/2", res.TasksCompleted, res.TasksTotal)
	}
	if res.CurrentTaskID != "T002" {
		t.Errorf("CurrentTaskID = %q, want T002", res.CurrentTaskID)
	}
	if !reflect.DeepEqual(res.MissingFiles, []string{"path2"}) {
		t.Errorf("MissingFiles = %v, want [path2]", res.MissingFiles)
	}
	if !NeedsStatusRepair(rec, res) {
		t.Error("expected downgrade signal to backlog")
	}
}

func TestHasChanges(t *testing.T) {
	task := domain.Task{ID: "T001", Description: "a", Status: domain.TaskPending}
	plan := &domain.PlanSpec{Tasks: []domain.Task{task}, TasksTotal: 1}
	res := &Result{Tasks: []domain.Task{task}, TasksTotal: 1}

	if HasChanges(plan, res) {
		t.Error("HasChanges = true for identical plan and result")
	}

	changed := *res
	changed.Tasks = []domain.Task{{ID: "T001", Description: "a", Status: domain.TaskCompleted}}
	changed.TasksCompleted = 1
	if !HasChanges(plan, &changed) {
		t.Error("HasChanges = false for changed task status")
	}

	if !HasChanges(nil, res) {
		t.Error("HasChanges = false for nil plan")
	}
}
