package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var taskIDRegex = regexp.MustCompile(`(?i)^t(?:ask)?\s*0*(\d+)$`)

// TaskStatus is the execution status of a single plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one step of a record's plan, optionally tied to a file.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	FilePath    string     `json:"filePath,omitempty"`
	Phase       string     `json:"phase,omitempty"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TaskID formats a task number in canonical T-prefixed zero-padded form,
// e.g. 7 -> "T007".
func TaskID(num int) string {
	return fmt.Sprintf("T%03d", num)
}

// NormalizeTaskID converts any accepted spelling of a task id ("T7",
// "task 07", "T007") to canonical form. Returns false if the input does
// not look like a task id at all.
func NormalizeTaskID(raw string) (string, bool) {
	matches := taskIDRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if matches == nil {
		return "", false
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return "", false
	}
	return TaskID(num), true
}
