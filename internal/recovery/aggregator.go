package recovery

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/reconcile"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
	"github.com/hanoibanhcuon/automaker/internal/restore"
)

// Issue taxonomy for recovery items.
const (
	IssueExecutionError   = "execution_error"
	IssueIncompletePlan   = "incomplete_plan"
	IssueMissingFiles     = "missing_files"
	IssueMissingOutput    = "missing_output"
	IssueStatusMismatch   = "status_mismatch"
	IssueLostDependencies = "lost_dependencies"
)

// Item is a computed, read-only projection of one record's outstanding
// issues and available repair actions. Never persisted.
type Item struct {
	RecordID            string              `json:"recordId"`
	Title               string              `json:"title"`
	Status              domain.RecordStatus `json:"status"`
	Issues              []string            `json:"issues"`
	TasksCompleted      int                 `json:"tasksCompleted"`
	TasksTotal          int                 `json:"tasksTotal"`
	CurrentTaskID       string              `json:"currentTaskId,omitempty"`
	MissingFiles        []string            `json:"missingFiles"`
	MissingDependencies []string            `json:"missingDependencies"`
	HasOutput           bool                `json:"hasOutput"`
	CanResume           bool                `json:"canResume"`
	CanRebuild          bool                `json:"canRebuild"`
}

// Summary holds the report's running counters. MissingFiles and
// MissingDependencies are sums over items, not distinct-record counts.
type Summary struct {
	Total               int `json:"total"`
	TotalItems          int `json:"totalItems"`
	IncompletePlans     int `json:"incompletePlans"`
	MissingFiles        int `json:"missingFiles"`
	MissingOutputs      int `json:"missingOutputs"`
	MissingDependencies int `json:"missingDependencies"`
}

// Report is the project-wide recovery report.
type Report struct {
	Summary     Summary   `json:"summary"`
	Items       []Item    `json:"items"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Report reconciles every record of a project with bounded concurrent
// fan-out and classifies each into the issue taxonomy. Plans and repaired
// statuses are persisted before the report is assembled, so the report
// never disagrees with on-disk state. Records with zero issues are
// excluded from Items unless includeAll is set, but always count toward
// Summary.TotalItems.
func (s *Service) Report(ctx context.Context, projectBase string, includeAll bool) (*Report, error) {
	store := recordstore.New(projectBase)
	records, err := store.List()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = true
	}

	items := make([]Item, len(records))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			item, err := s.buildItem(store, rec, known)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Items:       []Item{},
		GeneratedAt: time.Now().UTC(),
	}
	report.Summary.TotalItems = len(records)
	for _, item := range items {
		if len(item.Issues) > 0 {
			report.Summary.Total++
		}
		if hasIssue(item, IssueIncompletePlan) {
			report.Summary.IncompletePlans++
		}
		if !item.HasOutput {
			report.Summary.MissingOutputs++
		}
		report.Summary.MissingFiles += len(item.MissingFiles)
		report.Summary.MissingDependencies += len(item.MissingDependencies)

		if len(item.Issues) > 0 || includeAll {
			report.Items = append(report.Items, item)
		}
	}

	return report, nil
}

// buildItem reconciles one record, persists any drift repair, and
// classifies the record's issues. Issue tests are independent of each
// other; the action gates are pure functions of already-computed fields.
func (s *Service) buildItem(store *recordstore.Store, rec *domain.Record, known map[string]bool) (Item, error) {
	item := Item{
		RecordID:            rec.ID,
		Title:               rec.Title,
		Status:              rec.Status,
		Issues:              []string{},
		MissingFiles:        []string{},
		MissingDependencies: []string{},
		HasOutput:           store.HasOutput(rec.ID),
	}

	rc := reconcile.New(store)
	res := rc.Reconcile(rec)

	statusAdjusted := false
	if res != nil {
		statusAdjusted = reconcile.NeedsStatusRepair(rec, res)
		changed := reconcile.HasChanges(rec.PlanSpec, res)
		if statusAdjusted {
			rec.Status = domain.StatusBacklog
			item.Status = rec.Status
		}
		if changed {
			reconcile.ApplyResult(rec, res)
		}
		if changed || statusAdjusted {
			touch(rec)
			if err := store.Save(rec); err != nil {
				return Item{}, err
			}
		}

		item.TasksCompleted = res.TasksCompleted
		item.TasksTotal = res.TasksTotal
		item.CurrentTaskID = res.CurrentTaskID
		item.MissingFiles = res.MissingFiles
	}

	planText := ""
	if rec.PlanSpec != nil {
		planText = rec.PlanSpec.Content
	}
	ev := restore.Candidates(rec, known,
		restore.BackupDeps(store, rec.ID),
		restore.PlanDeps(planText))
	item.MissingDependencies = ev.Missing

	if rec.Error != "" {
		item.Issues = append(item.Issues, IssueExecutionError)
	}
	if res != nil && res.TasksTotal > 0 && res.TasksCompleted < res.TasksTotal {
		item.Issues = append(item.Issues, IssueIncompletePlan)
	}
	if len(item.MissingFiles) > 0 {
		item.Issues = append(item.Issues, IssueMissingFiles)
	}
	if !item.HasOutput {
		item.Issues = append(item.Issues, IssueMissingOutput)
	}
	if statusAdjusted {
		item.Issues = append(item.Issues, IssueStatusMismatch)
	}
	if len(item.MissingDependencies) > 0 {
		item.Issues = append(item.Issues, IssueLostDependencies)
	}

	item.CanResume = hasIssue(item, IssueIncompletePlan)
	item.CanRebuild = !item.HasOutput || len(item.MissingFiles) > 0

	return item, nil
}

func hasIssue(item Item, issue string) bool {
	for _, i := range item.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
