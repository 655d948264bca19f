package recovery

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
)

func testService() *Service {
	return NewService(zerolog.Nop())
}

func writeFile(t *testing.T, base, rel string) {
	t.Helper()
	path := filepath.Join(base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("content\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func saveRecord(t *testing.T, base string, rec *domain.Record) {
	t.Helper()
	if err := recordstore.New(base).Save(rec); err != nil {
		t.Fatal(err)
	}
}

func driftedRecord(id string) *domain.Record {
	return &domain.Record{
		ID:     id,
		Title:  "Drifted " + id,
		Status: domain.StatusVerified,
		PlanSpec: &domain.PlanSpec{
			Status: domain.PlanApproved,
			Tasks: []domain.Task{
				{ID: "T001", Description: "done", FilePath: "src/done.go", Status: domain.TaskCompleted},
				{ID: "T002", Description: "open", FilePath: "src/open.go", Status: domain.TaskPending},
			},
			TasksCompleted: 2,
			TasksTotal:     2,
		},
	}
}

func TestReconcilePlan_RepairsDrift(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	saveRecord(t, base, driftedRecord("feat-1"))

	outcome, err := testService().ReconcilePlan(base, "feat-1", false)
	if err != nil {
		t.Fatal(err)
	}

	if !outcome.Changed {
		t.Error("Changed = false, want true")
	}
	if !outcome.StatusAdjusted {
		t.Error("StatusAdjusted = false, want downgrade")
	}
	if outcome.Result.TasksCompleted != 1 || outcome.Result.TasksTotal != 2 {
		t.Errorf("completed/total = %d/%d", outcome.Result.TasksCompleted, outcome.Result.TasksTotal)
	}

	// The repair must be persisted.
	persisted, err := recordstore.New(base).Get("feat-1")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Status != domain.StatusBacklog {
		t.Errorf("persisted status = %s, want backlog", persisted.Status)
	}
	if persisted.PlanSpec.TasksCompleted != 1 {
		t.Errorf("persisted TasksCompleted = %d, want 1", persisted.PlanSpec.TasksCompleted)
	}
	if persisted.UpdatedAt == nil {
		t.Error("UpdatedAt not set on persisted repair")
	}
}

func TestReconcilePlan_NotFound(t *testing.T) {
	if _, err := testService().ReconcilePlan(t.TempDir(), "nope", false); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReconcilePlan_NoPlan(t *testing.T) {
	base := t.TempDir()
	saveRecord(t, base, &domain.Record{ID: "feat-1", Status: domain.StatusBacklog})

	if _, err := testService().ReconcilePlan(base, "feat-1", false); err != ErrNoPlan {
		t.Errorf("err = %v, want ErrNoPlan", err)
	}
}

func TestReconcilePlan_RebuildsOutput(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	saveRecord(t, base, driftedRecord("feat-1"))

	outcome, err := testService().ReconcilePlan(base, "feat-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.OutputRebuilt {
		t.Error("OutputRebuilt = false")
	}
	if !recordstore.New(base).HasOutput("feat-1") {
		t.Error("no output artifact written")
	}
}

func TestResumePending(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	saveRecord(t, base, driftedRecord("feat-1"))

	outcome, err := testService().ResumePending(base, "feat-1")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Result.CurrentTaskID != "T002" {
		t.Errorf("CurrentTaskID = %q, want T002", outcome.Result.CurrentTaskID)
	}
}

func TestResumePending_NothingToDo(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	writeFile(t, base, "src/open.go")
	saveRecord(t, base, driftedRecord("feat-1"))

	if _, err := testService().ResumePending(base, "feat-1"); err != ErrNoPending {
		t.Errorf("err = %v, want ErrNoPending", err)
	}
}

func TestRebuildOutput_NoPlanStillSucceeds(t *testing.T) {
	base := t.TempDir()
	saveRecord(t, base, &domain.Record{ID: "feat-1", Title: "Bare", Status: domain.StatusBacklog})

	outcome, err := testService().RebuildOutput(base, "feat-1")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Output == "" {
		t.Error("empty rebuilt output")
	}
	if !recordstore.New(base).HasOutput("feat-1") {
		t.Error("artifact not saved")
	}
}

func TestRestoreDependencies_DryRunThenLive(t *testing.T) {
	base := t.TempDir()
	store := recordstore.New(base)

	saveRecord(t, base, &domain.Record{ID: "feat-a", Status: domain.StatusCompleted})
	saveRecord(t, base, &domain.Record{ID: "feat-b", Status: domain.StatusCompleted})

	// feat-1 once depended on feat-a and feat-b; the declared set lost both.
	rec := &domain.Record{
		ID:           "feat-1",
		Status:       domain.StatusBacklog,
		Dependencies: []string{"feat-a", "feat-b"},
	}
	saveRecord(t, base, rec)
	rec.Dependencies = nil
	rec.PlanSpec = &domain.PlanSpec{Content: "Dependencies: [feat-b]\n"}
	saveRecord(t, base, rec)

	svc := testService()

	dry, err := svc.RestoreDependencies(base, []string{"feat-1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(dry.Results) != 1 {
		t.Fatalf("result count = %d, want 1", len(dry.Results))
	}
	if !reflect.DeepEqual(dry.Results[0].Missing, []string{"feat-a", "feat-b"}) {
		t.Errorf("Missing = %v, want [feat-a feat-b]", dry.Results[0].Missing)
	}
	if got, _ := store.Get("feat-1"); len(got.Dependencies) != 0 {
		t.Error("dry run mutated the record")
	}

	live, err := svc.RestoreDependencies(base, []string{"feat-1"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if live.TotalRestored != 2 {
		t.Errorf("TotalRestored = %d, want 2", live.TotalRestored)
	}
	got, _ := store.Get("feat-1")
	if !reflect.DeepEqual(got.Dependencies, []string{"feat-a", "feat-b"}) {
		t.Errorf("persisted Dependencies = %v", got.Dependencies)
	}
}

func TestRestoreDependencies_UnknownRecord(t *testing.T) {
	if _, err := testService().RestoreDependencies(t.TempDir(), []string{"ghost"}, true); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTimeline_SortedAndFiltered(t *testing.T) {
	base := t.TempDir()
	store := recordstore.New(base)

	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Minute)
	t2 := t0.Add(20 * time.Minute)
	t3 := t0.Add(30 * time.Minute)

	rec := &domain.Record{
		ID:        "feat-1",
		Status:    domain.StatusRunning,
		StartedAt: &t0,
		PlanSpec: &domain.PlanSpec{
			GeneratedAt: &t1,
			ApprovedAt:  &t2,
			Tasks: []domain.Task{
				{ID: "T001", Description: "a", StartedAt: &t2, CompletedAt: &t3},
			},
		},
	}
	saveRecord(t, base, rec)
	store.WriteOutput("feat-1", "● Write(src/a.go)\nsome text\nEdit(src/b.go)\n")

	entries, err := testService().Timeline(base, "feat-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("entry count = %d, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Time.Before(entries[i-1].Time) {
			t.Errorf("entries not sorted at %d", i)
		}
	}
	if entries[0].Type != "record_started" || entries[len(entries)-1].Type != "task_completed" {
		t.Errorf("order = %s ... %s", entries[0].Type, entries[len(entries)-1].Type)
	}

	withFiles, err := testService().Timeline(base, "feat-1", true)
	if err != nil {
		t.Fatal(err)
	}
	fileEntries := 0
	for _, e := range withFiles {
		if e.Type == "file_changed" {
			fileEntries++
		}
	}
	if fileEntries != 2 {
		t.Errorf("file_changed count = %d, want 2", fileEntries)
	}
}

func TestReport_Aggregates(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	store := recordstore.New(base)

	// Drifted record: incomplete plan, one missing file, no output,
	// stale approved status.
	saveRecord(t, base, driftedRecord("feat-1"))

	// Healthy record: complete plan, output present.
	healthy := &domain.Record{
		ID:     "feat-2",
		Status: domain.StatusCompleted,
		PlanSpec: &domain.PlanSpec{
			Tasks:          []domain.Task{{ID: "T001", Description: "done", FilePath: "src/done.go", Status: domain.TaskCompleted}},
			TasksCompleted: 1,
			TasksTotal:     1,
		},
	}
	saveRecord(t, base, healthy)
	store.WriteOutput("feat-2", "all done\n")

	report, err := testService().Report(context.Background(), base, false)
	if err != nil {
		t.Fatal(err)
	}

	if report.Summary.TotalItems != 2 {
		t.Errorf("TotalItems = %d, want 2", report.Summary.TotalItems)
	}
	if report.Summary.Total != 1 {
		t.Errorf("Total = %d, want 1 record with issues", report.Summary.Total)
	}
	if report.Summary.IncompletePlans != 1 {
		t.Errorf("IncompletePlans = %d, want 1", report.Summary.IncompletePlans)
	}
	if report.Summary.MissingFiles != 1 {
		t.Errorf("MissingFiles = %d, want 1", report.Summary.MissingFiles)
	}
	if report.Summary.MissingOutputs != 1 {
		t.Errorf("MissingOutputs = %d, want 1", report.Summary.MissingOutputs)
	}

	if len(report.Items) != 1 {
		t.Fatalf("item count = %d, want 1 (healthy record excluded)", len(report.Items))
	}
	item := report.Items[0]
	if item.RecordID != "feat-1" {
		t.Errorf("item record = %s", item.RecordID)
	}
	for _, issue := range []string{IssueIncompletePlan, IssueMissingFiles, IssueMissingOutput, IssueStatusMismatch} {
		if !hasIssue(item, issue) {
			t.Errorf("missing issue %s in %v", issue, item.Issues)
		}
	}
	if !item.CanResume {
		t.Error("CanResume = false for incomplete plan")
	}
	if !item.CanRebuild {
		t.Error("CanRebuild = false with missing output and files")
	}

	// Repairs persisted before the report returned.
	persisted, _ := store.Get("feat-1")
	if persisted.Status != domain.StatusBacklog {
		t.Errorf("persisted status = %s, want backlog", persisted.Status)
	}
}

func TestReport_IncludeAll(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "src/done.go")
	store := recordstore.New(base)

	healthy := &domain.Record{
		ID:     "feat-2",
		Status: domain.StatusCompleted,
		PlanSpec: &domain.PlanSpec{
			Tasks:          []domain.Task{{ID: "T001", Description: "done", FilePath: "src/done.go", Status: domain.TaskCompleted}},
			TasksCompleted: 1,
			TasksTotal:     1,
		},
	}
	saveRecord(t, base, healthy)
	store.WriteOutput("feat-2", "all done\n")

	report, err := testService().Report(context.Background(), base, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("item count = %d, want 1 with includeAll", len(report.Items))
	}
	if report.Summary.Total != 0 {
		t.Errorf("Total = %d, want 0", report.Summary.Total)
	}
}
