package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
	"github.com/gorilla/mux"
)

const (
	defaultTaskLimit = 100
	maxTaskLimit     = 1000
)

// parseTaskFilter reads status, user_id, prefix, limit and offset from the query
func parseTaskFilter(r *http.Request) (storage.TaskFilter, error) {
	q := r.URL.Query()
	f := storage.TaskFilter{
		Prefix: q.Get("prefix"),
		Limit:  defaultTaskLimit,
	}

	if raw := q.Get("status"); raw != "" {
		status := types.TaskStatus(raw)
		switch status {
		case types.TaskPending, types.TaskRunning, types.TaskSuccess,
			types.TaskRetrying, types.TaskFailed, types.TaskCancelled:
		default:
			return f, apperrors.NewValidationError("status", "unknown task status "+raw)
		}
		f.Status = &status
	}

	if raw := q.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return f, apperrors.NewValidationError("user_id", "must be a positive integer")
		}
		f.UserID = &userID
	}

	// Invalid paging values fall back to the defaults
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	if f.Limit > maxTaskLimit {
		f.Limit = maxTaskLimit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		f.Offset = offset
	}
	return f, nil
}

// handleListTasks handles GET /api/v1/tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := parseTaskFilter(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	tasks, err := s.services.Tasks.List(r.Context(), f)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":  tasks,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// handleGetTask handles GET /api/v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.services.Tasks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleCancelTask handles POST /api/v1/tasks/{id}/cancel
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.services.Tasks.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleRetryTask handles POST /api/v1/tasks/{id}/retry
func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.services.Tasks.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleRebuildUser handles POST /api/v1/users/{user_id}/rebuild
func (s *Server) handleRebuildUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	created, err := s.services.Rebuilds.EnqueueUserRebuild(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"userId":       userID,
		"tasksCreated": created,
	})
}

// handleRebuildHolding handles POST /api/v1/users/{user_id}/holdings/{holding_id}/rebuild
func (s *Server) handleRebuildHolding(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	holdingID, err := pathInt64(r, "holding_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.services.Rebuilds.EnqueueHoldingRecompute(r.Context(), userID, holdingID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"userId":    userID,
		"holdingId": holdingID,
	})
}
