package domain

import "time"

// StoredEvent is a discrete project event persisted by the event history
// store. The full object lives in its own file; a compact EventSummary is
// kept in the bounded index.
type StoredEvent struct {
	ID          string         `json:"id"`
	Trigger     string         `json:"trigger"`
	Timestamp   time.Time      `json:"timestamp"`
	ProjectPath string         `json:"projectPath"`
	ProjectName string         `json:"projectName"`
	FeatureID   string         `json:"featureId,omitempty"`
	FeatureName string         `json:"featureName,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorType   string         `json:"errorType,omitempty"`
	Passes      *bool          `json:"passes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Summary returns the compact index representation of the event.
func (e StoredEvent) Summary() EventSummary {
	return EventSummary{
		ID:          e.ID,
		Trigger:     e.Trigger,
		Timestamp:   e.Timestamp,
		FeatureID:   e.FeatureID,
		FeatureName: e.FeatureName,
		Error:       e.Error,
		ErrorType:   e.ErrorType,
		Passes:      e.Passes,
	}
}

// EventSummary is one entry of the event index, newest first.
type EventSummary struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	Timestamp   time.Time `json:"timestamp"`
	FeatureID   string    `json:"featureId,omitempty"`
	FeatureName string    `json:"featureName,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorType   string    `json:"errorType,omitempty"`
	Passes      *bool     `json:"passes,omitempty"`
}

// EventIndex is the bounded, newest-first summary list backing the event
// history store.
type EventIndex struct {
	Events []EventSummary `json:"events"`
}
