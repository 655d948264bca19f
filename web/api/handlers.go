package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/eventstore"
	"github.com/hanoibanhcuon/automaker/internal/recovery"
)

// RecoveryRequest is the body shared by the per-record recovery actions.
type RecoveryRequest struct {
	Project       string `json:"project"`
	FeatureID     string `json:"featureId"`
	RebuildOutput bool   `json:"rebuildOutput,omitempty"`
}

// RestoreDepsRequest is the body for dependency restoration.
type RestoreDepsRequest struct {
	Project    string   `json:"project"`
	FeatureIDs []string `json:"featureIds,omitempty"`
	DryRun     bool     `json:"dryRun,omitempty"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps service sentinels onto HTTP status codes.
// Declined actions are conflicts, not server failures.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recovery.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, recovery.ErrNoPlan), errors.Is(err, recovery.ErrNoPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// recordEvent persists an event and mirrors it onto the live bus. Event
// history is best-effort relative to the action that triggered it.
func (s *Server) recordEvent(project string, event domain.StoredEvent) {
	if s.events != nil {
		stored, err := s.events.Append(project, event)
		if err != nil {
			s.log.Warn().Err(err).Str("trigger", event.Trigger).Msg("failed to record event")
		} else {
			event = stored
		}
	}
	if s.bus != nil {
		s.bus.Emit(event.Trigger, event)
	}
}

func (s *Server) reportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		project := r.URL.Query().Get("project")
		if project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}
		includeAll := r.URL.Query().Get("all") == "true"

		report, err := s.svc.Report(r.Context(), project, includeAll)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, report)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.reports == nil {
			writeError(w, http.StatusServiceUnavailable, "sweep archive not configured")
			return
		}

		project := r.URL.Query().Get("project")
		if project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		runs, err := s.reports.ListRuns(project, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, runs)
	}
}

func (s *Server) reconcileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RecoveryRequest
		if err := decodeBody(r, &req); err != nil || req.Project == "" || req.FeatureID == "" {
			writeError(w, http.StatusBadRequest, "project and featureId required")
			return
		}

		outcome, err := s.svc.ReconcilePlan(req.Project, req.FeatureID, req.RebuildOutput)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.recordEvent(req.Project, domain.StoredEvent{
			Trigger:   "plan_reconciled",
			FeatureID: req.FeatureID,
			Metadata: map[string]any{
				"changed":        outcome.Changed,
				"statusAdjusted": outcome.StatusAdjusted,
				"outputRebuilt":  outcome.OutputRebuilt,
			},
		})
		writeJSON(w, outcome)
	}
}

func (s *Server) rebuildOutputHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RecoveryRequest
		if err := decodeBody(r, &req); err != nil || req.Project == "" || req.FeatureID == "" {
			writeError(w, http.StatusBadRequest, "project and featureId required")
			return
		}

		outcome, err := s.svc.RebuildOutput(req.Project, req.FeatureID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.recordEvent(req.Project, domain.StoredEvent{
			Trigger:   "output_rebuilt",
			FeatureID: req.FeatureID,
			Metadata:  map[string]any{"missingFiles": len(outcome.MissingFiles)},
		})
		writeJSON(w, outcome)
	}
}

func (s *Server) resumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RecoveryRequest
		if err := decodeBody(r, &req); err != nil || req.Project == "" || req.FeatureID == "" {
			writeError(w, http.StatusBadRequest, "project and featureId required")
			return
		}

		outcome, err := s.svc.ResumePending(req.Project, req.FeatureID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.recordEvent(req.Project, domain.StoredEvent{
			Trigger:   "feature_resumed",
			FeatureID: req.FeatureID,
			Metadata: map[string]any{
				"tasksCompleted": outcome.Result.TasksCompleted,
				"tasksTotal":     outcome.Result.TasksTotal,
				"currentTaskId":  outcome.Result.CurrentTaskID,
			},
		})
		writeJSON(w, outcome)
	}
}

func (s *Server) restoreDepsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RestoreDepsRequest
		if err := decodeBody(r, &req); err != nil || req.Project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}

		report, err := s.svc.RestoreDependencies(req.Project, req.FeatureIDs, req.DryRun)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if !req.DryRun && report.TotalRestored > 0 {
			s.recordEvent(req.Project, domain.StoredEvent{
				Trigger:  "dependencies_restored",
				Metadata: map[string]any{"restored": report.TotalRestored},
			})
		}
		writeJSON(w, report)
	}
}

func (s *Server) recordTimelineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// Path shape: /api/records/{id}/timeline
		path := strings.TrimPrefix(r.URL.Path, "/api/records/")
		recordID := strings.TrimSuffix(path, "/timeline")
		if recordID == "" || recordID == path {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		project := r.URL.Query().Get("project")
		if project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}
		includeFiles := r.URL.Query().Get("files") == "true"

		entries, err := s.svc.Timeline(project, recordID, includeFiles)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, entries)
	}
}

func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("project")
		if project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}

		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			filter := eventstore.Filter{
				Trigger:   query.Get("trigger"),
				FeatureID: query.Get("featureId"),
			}
			filter.Offset, _ = strconv.Atoi(query.Get("offset"))
			filter.Limit, _ = strconv.Atoi(query.Get("limit"))
			if since := query.Get("since"); since != "" {
				if t, err := time.Parse(time.RFC3339, since); err == nil {
					filter.Since = t
				}
			}
			if until := query.Get("until"); until != "" {
				if t, err := time.Parse(time.RFC3339, until); err == nil {
					filter.Until = t
				}
			}
			writeJSON(w, s.events.List(project, filter))

		case http.MethodDelete:
			count, err := s.events.Clear(project)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, map[string]int{"cleared": count})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) eventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("project")
		if project == "" {
			writeError(w, http.StatusBadRequest, "project required")
			return
		}

		eventID := strings.TrimPrefix(r.URL.Path, "/api/events/")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "event ID required")
			return
		}

		switch r.Method {
		case http.MethodGet:
			event, err := s.events.Get(project, eventID)
			if err != nil {
				if errors.Is(err, eventstore.ErrNotFound) {
					writeError(w, http.StatusNotFound, "event not found")
					return
				}
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, event)

		case http.MethodDelete:
			ok, err := s.events.Delete(project, eventID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "event not found")
				return
			}
			writeJSON(w, map[string]string{"status": "deleted"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
