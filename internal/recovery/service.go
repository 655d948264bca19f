// Package recovery aggregates reconciliation, output rebuilding, and
// dependency restoration into the per-record and per-project operations
// exposed to the CLI and the web API.
package recovery

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/reconcile"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
	"github.com/hanoibanhcuon/automaker/internal/restore"
)

// Declined-action conditions, distinct from hard errors so callers can
// explain why an action is unavailable.
var (
	ErrNoPlan    = errors.New("no task list available for record")
	ErrNoPending = errors.New("record has no incomplete tasks")
)

// ErrNotFound mirrors the store sentinel for callers that only import
// this package.
var ErrNotFound = recordstore.ErrNotFound

// Service runs recovery operations against project directories. One
// instance serves all projects; per-call state is confined to the stack,
// so concurrent calls are safe.
type Service struct {
	log           zerolog.Logger
	maxConcurrent int
}

// NewService creates a recovery service.
func NewService(log zerolog.Logger) *Service {
	return &Service{log: log, maxConcurrent: 4}
}

// ReconcileOutcome is the result of a reconcile-plan operation.
type ReconcileOutcome struct {
	Record         *domain.Record    `json:"record"`
	Result         *reconcile.Result `json:"result"`
	Changed        bool              `json:"changed"`
	StatusAdjusted bool              `json:"statusAdjusted"`
	OutputRebuilt  bool              `json:"outputRebuilt,omitempty"`
}

// ReconcilePlan reconciles one record against filesystem evidence,
// persisting the merged plan and any status repair. With rebuildOutput
// set, the execution artifact is regenerated as well.
func (s *Service) ReconcilePlan(projectBase, recordID string, rebuildOutput bool) (*ReconcileOutcome, error) {
	store := recordstore.New(projectBase)
	rec, err := store.Get(recordID)
	if err != nil {
		return nil, err
	}

	rc := reconcile.New(store)
	res := rc.Reconcile(rec)
	if res == nil {
		return nil, ErrNoPlan
	}

	outcome := &ReconcileOutcome{Record: rec, Result: res}
	outcome.Changed = reconcile.HasChanges(rec.PlanSpec, res)
	outcome.StatusAdjusted = reconcile.NeedsStatusRepair(rec, res)

	if outcome.StatusAdjusted {
		rec.Status = domain.StatusBacklog
	}
	if outcome.Changed {
		reconcile.ApplyResult(rec, res)
	}
	if outcome.Changed || outcome.StatusAdjusted {
		touch(rec)
		if err := store.Save(rec); err != nil {
			return nil, err
		}
	}

	if rebuildOutput {
		text := rc.RebuildOutput(rec, res.Tasks, res.MissingFiles)
		if err := store.WriteOutput(rec.ID, text); err != nil {
			return nil, err
		}
		outcome.OutputRebuilt = true
	}

	return outcome, nil
}

// RebuildOutcome is the result of a rebuild-output operation.
type RebuildOutcome struct {
	Output       string   `json:"output"`
	MissingFiles []string `json:"missingFiles"`
}

// RebuildOutput regenerates a record's execution artifact from whatever
// task evidence is available and saves it as the record's output.
func (s *Service) RebuildOutput(projectBase, recordID string) (*RebuildOutcome, error) {
	store := recordstore.New(projectBase)
	rec, err := store.Get(recordID)
	if err != nil {
		return nil, err
	}

	rc := reconcile.New(store)
	var tasks []domain.Task
	var missing []string
	if res := rc.Reconcile(rec); res != nil {
		tasks = res.Tasks
		missing = res.MissingFiles
	}

	text := rc.RebuildOutput(rec, tasks, missing)
	if err := store.WriteOutput(rec.ID, text); err != nil {
		return nil, err
	}
	return &RebuildOutcome{Output: text, MissingFiles: missing}, nil
}

// ResumePending reconciles a record and confirms it has unfinished tasks
// to hand back to the execution pipeline. Fails with ErrNoPending when the
// plan is already complete.
func (s *Service) ResumePending(projectBase, recordID string) (*ReconcileOutcome, error) {
	outcome, err := s.ReconcilePlan(projectBase, recordID, false)
	if err != nil {
		return nil, err
	}
	if outcome.Result.TasksCompleted >= outcome.Result.TasksTotal {
		return nil, ErrNoPending
	}
	return outcome, nil
}

// RestoreResult is the dependency-restore outcome for one record.
type RestoreResult struct {
	RecordID   string   `json:"recordId"`
	Candidates []string `json:"candidates"`
	Missing    []string `json:"missing"`
	Restored   []string `json:"restored,omitempty"`
}

// RestoreReport aggregates dependency restoration across records.
type RestoreReport struct {
	Results        []RestoreResult `json:"results"`
	TotalCandidates int            `json:"totalCandidates"`
	TotalRestored   int            `json:"totalRestored"`
	DryRun          bool           `json:"dryRun"`
}

// RestoreDependencies recovers lost dependency edges for the named records
// (or every record when ids is empty). Dry-run mode reports candidates
// without mutating state; live mode merges missing edges into each
// record's persisted dependency set.
func (s *Service) RestoreDependencies(projectBase string, ids []string, dryRun bool) (*RestoreReport, error) {
	store := recordstore.New(projectBase)
	all, err := store.List()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(all))
	byID := make(map[string]*domain.Record, len(all))
	for _, rec := range all {
		known[rec.ID] = true
		byID[rec.ID] = rec
	}

	targets := all
	if len(ids) > 0 {
		targets = nil
		for _, id := range ids {
			rec, ok := byID[id]
			if !ok {
				return nil, ErrNotFound
			}
			targets = append(targets, rec)
		}
	}

	report := &RestoreReport{Results: []RestoreResult{}, DryRun: dryRun}
	for _, rec := range targets {
		planText := ""
		if rec.PlanSpec != nil {
			planText = rec.PlanSpec.Content
		}
		ev := restore.Candidates(rec, known,
			restore.BackupDeps(store, rec.ID),
			restore.PlanDeps(planText))

		result := RestoreResult{RecordID: rec.ID, Candidates: ev.Candidates, Missing: ev.Missing}
		if !dryRun && len(ev.Missing) > 0 {
			restore.MergeMissing(rec, ev.Missing)
			touch(rec)
			if err := store.Save(rec); err != nil {
				return nil, err
			}
			result.Restored = ev.Missing
		}

		report.TotalCandidates += len(ev.Candidates)
		report.TotalRestored += len(result.Restored)
		report.Results = append(report.Results, result)
	}

	return report, nil
}

func touch(rec *domain.Record) {
	now := time.Now().UTC()
	rec.UpdatedAt = &now
}
