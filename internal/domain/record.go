package domain

import "time"

// RecordStatus is the lifecycle status of a record. The set of values is an
// external contract shared with the execution pipeline and the UI.
type RecordStatus string

const (
	StatusBacklog         RecordStatus = "backlog"
	StatusRunning         RecordStatus = "running"
	StatusWaitingApproval RecordStatus = "waiting_approval"
	StatusVerified        RecordStatus = "verified"
	StatusCompleted       RecordStatus = "completed"
	StatusFailed          RecordStatus = "failed"
	StatusError           RecordStatus = "error"
)

// ImpliesDone returns true for statuses that claim finished or
// review-ready work.
func (s RecordStatus) ImpliesDone() bool {
	switch s {
	case StatusWaitingApproval, StatusVerified, StatusCompleted:
		return true
	}
	return false
}

// PlanStatus is the approval state of a record's plan.
type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanApproved PlanStatus = "approved"
)

// PlanSpec is the structured plan owned by a record. Content holds the raw
// plan text as produced by the agent; Tasks is the structured list derived
// from it (or attached directly by the pipeline).
type PlanSpec struct {
	Content        string     `json:"content,omitempty"`
	Tasks          []Task     `json:"tasks,omitempty"`
	TasksCompleted int        `json:"tasksCompleted"`
	TasksTotal     int        `json:"tasksTotal"`
	CurrentTaskID  string     `json:"currentTaskId,omitempty"`
	Status         PlanStatus `json:"status,omitempty"`
	GeneratedAt    *time.Time `json:"generatedAt,omitempty"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
}

// Record is a unit of trackable work (a "feature") with a persisted plan
// and execution artifact.
//
// Invariants: TasksCompleted <= TasksTotal; CurrentTaskID, if set, names a
// task whose status is not completed.
type Record struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       RecordStatus `json:"status"`
	BranchName   string       `json:"branchName,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	PlanSpec     *PlanSpec    `json:"planSpec,omitempty"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	UpdatedAt    *time.Time   `json:"updatedAt,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// HasDependency reports whether id is already declared on the record.
func (r *Record) HasDependency(id string) bool {
	for _, d := range r.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}
