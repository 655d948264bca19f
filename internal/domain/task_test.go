package domain

import "testing"

func TestNormalizeTaskID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"T7", "T007", true},
		{"t7", "T007", true},
		{"T007", "T007", true},
		{"task 07", "T007", true},
		{"Task 42", "T042", true},
		{"TASK 042", "T042", true},
		{"T1000", "T1000", true},
		{" T9 ", "T009", true},
		{"E05", "", false},
		{"T", "", false},
		{"hello", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeTaskID(tt.in)
		if ok != tt.ok {
			t.Errorf("NormalizeTaskID(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeTaskID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordStatusImpliesDone(t *testing.T) {
	done := []RecordStatus{StatusWaitingApproval, StatusVerified, StatusCompleted}
	for _, s := range done {
		if !s.ImpliesDone() {
			t.Errorf("%s.ImpliesDone() = false, want true", s)
		}
	}
	notDone := []RecordStatus{StatusBacklog, StatusRunning, StatusFailed, StatusError}
	for _, s := range notDone {
		if s.ImpliesDone() {
			t.Errorf("%s.ImpliesDone() = true, want false", s)
		}
	}
}
