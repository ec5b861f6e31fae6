package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qaforge/qaforge/pkg/store"
)

const defaultRunListLimit = 50

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeStoreError maps store errors onto HTTP statuses.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	default:
		s.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// decodeJSON parses a request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body: " + err.Error()})

		return false
	}

	return true
}

// parseDate accepts either a plain date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}

	return t, nil
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Catalog handlers ---

func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(r.Context())
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, files)
}

func (s *server) handleListFileCases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetFile(r.Context(), id); err != nil {
		s.writeStoreError(w, err)

		return
	}

	cases, err := s.store.ListActiveCasesByFile(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, cases)
}

// --- Schedule handlers ---

type createScheduleRequest struct {
	TestCaseID    *string `json:"test_case_id,omitempty"`
	TestFileID    *string `json:"test_file_id,omitempty"`
	ScheduleType  string  `json:"schedule_type"`
	ScheduledDate string  `json:"scheduled_date,omitempty"`
	ScheduledTime string  `json:"scheduled_time"`
	WeekDays      []int   `json:"week_days,omitempty"`
	DayOfMonth    *int    `json:"day_of_month,omitempty"`
	CreatedBy     *string `json:"created_by,omitempty"`
}

func (s *server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := &store.CreateScheduleParams{
		TestCaseID:    req.TestCaseID,
		TestFileID:    req.TestFileID,
		ScheduleType:  req.ScheduleType,
		ScheduledTime: req.ScheduledTime,
		WeekDays:      req.WeekDays,
		DayOfMonth:    req.DayOfMonth,
		CreatedBy:     req.CreatedBy,
	}

	if req.ScheduledDate != "" {
		date, err := parseDate(req.ScheduledDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		params.ScheduledDate = &date
	}

	sched, err := s.store.CreateSchedule(r.Context(), params)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

type updateScheduleRequest struct {
	ScheduleType  *string `json:"schedule_type,omitempty"`
	ScheduledDate *string `json:"scheduled_date,omitempty"`
	ScheduledTime *string `json:"scheduled_time,omitempty"`
	WeekDays      *[]int  `json:"week_days,omitempty"`
	DayOfMonth    *int    `json:"day_of_month,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

func (s *server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := &store.UpdateScheduleParams{
		ScheduleType:  req.ScheduleType,
		ScheduledTime: req.ScheduledTime,
		WeekDays:      req.WeekDays,
		DayOfMonth:    req.DayOfMonth,
		Enabled:       req.Enabled,
	}

	if req.ScheduledDate != nil {
		date, err := parseDate(*req.ScheduledDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		params.ScheduledDate = &date
	}

	sched, err := s.store.UpdateSchedule(r.Context(), id, params)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := store.ScheduleFilter{}

	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid enabled filter"})

			return
		}

		filter.Enabled = &enabled
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		filter.ScheduleType = &raw
	}

	if raw := r.URL.Query().Get("created_by"); raw != "" {
		filter.CreatedBy = &raw
	}

	schedules, err := s.store.ListSchedules(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, schedules)
}

func (s *server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.store.ToggleSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// --- Run handlers ---

type triggerRunRequest struct {
	CaseIDs     []string `json:"case_ids,omitempty"`
	TestFileID  *string  `json:"test_file_id,omitempty"`
	TriggeredBy *string  `json:"triggered_by,omitempty"`
}

func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if (len(req.CaseIDs) == 0) == (req.TestFileID == nil) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"exactly one of case_ids or test_file_id is required"})

		return
	}

	caseIDs := req.CaseIDs

	if req.TestFileID != nil {
		if _, err := s.store.GetFile(r.Context(), *req.TestFileID); err != nil {
			s.writeStoreError(w, err)

			return
		}

		cases, err := s.store.ListActiveCasesByFile(r.Context(), *req.TestFileID)
		if err != nil {
			s.writeStoreError(w, err)

			return
		}

		for _, c := range cases {
			caseIDs = append(caseIDs, c.ID)
		}
	} else {
		cases, err := s.store.GetCasesByIDs(r.Context(), req.CaseIDs)
		if err != nil {
			s.writeStoreError(w, err)

			return
		}

		if len(cases) != len(req.CaseIDs) {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"one or more case ids do not exist"})

			return
		}
	}

	if len(caseIDs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"no active cases to run"})

		return
	}

	run := &store.TestRun{
		Token: fmt.Sprintf("manual-%s-%s",
			time.Now().UTC().Format("20060102-150405"),
			uuid.NewString()[:8]),
		TriggeredBy: req.TriggeredBy,
	}

	if err := s.store.CreateRun(r.Context(), run, caseIDs); err != nil {
		s.writeStoreError(w, err)

		return
	}

	// Execution is asynchronous; poll GET /runs/{id} for progress.
	go func() {
		if err := s.dispatcher.ExecuteRun(
			context.Background(), run.ID, caseIDs,
		); err != nil {
			s.log.WithError(err).WithField("run_id", run.ID).
				Error("Manual run execution failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, run)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid limit"})

			return
		}

		limit = parsed
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.dispatcher.StopRun(r.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

			return
		}

		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListRunResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, err)

		return
	}

	results, err := s.store.ListResultsByRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, results)
}

// --- Scanner handlers ---

func (s *server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scanner == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"running": false})

		return
	}

	writeJSON(w, http.StatusOK, s.scanner.Status())
}
