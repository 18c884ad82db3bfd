package server

import (
	"net/http"
	"strconv"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"
)

// submitRequest is the body of POST /api/topics.
type submitRequest struct {
	Titles []string `json:"titles"`
}

// submitResponse groups Intake.Submit results by outcome, matching the
// spec's {queued, skipped, retried, already_queued} response shape.
type submitResponse struct {
	Queued        []int64 `json:"queued"`
	Skipped       []int64 `json:"skipped"`
	Retried       []int64 `json:"retried"`
	AlreadyQueued []int64 `json:"already_queued"`
	Errors        []string `json:"errors,omitempty"`
}

// handleSubmitTopics serves POST /api/topics.
func (s *Server) handleSubmitTopics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req submitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Titles) == 0 {
		WriteError(w, http.StatusBadRequest, "titles must be a non-empty array")
		return
	}

	resp := submitResponse{}
	for _, title := range req.Titles {
		result, err := s.app.Intake.Submit(r.Context(), title)
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		switch result.Status {
		case interfaces.SubmitQueued:
			resp.Queued = append(resp.Queued, result.ID)
		case interfaces.SubmitSkipped:
			resp.Skipped = append(resp.Skipped, result.ID)
		case interfaces.SubmitRetried:
			resp.Retried = append(resp.Retried, result.ID)
		case interfaces.SubmitQueuedAlready:
			resp.AlreadyQueued = append(resp.AlreadyQueued, result.ID)
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleProcessingStatus serves GET /api/processing-status.
func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.app.Intake.Status(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// handleListTopics serves GET /api/topics?state=&page=&page_size=.
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	state := models.State(q.Get("state"))
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	items, err := s.app.Store.ListTopics(r.Context(), state, page, pageSize)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// requeueRequest is the body of POST /api/admin/requeue.
type requeueRequest struct {
	ID int64 `json:"id"`
}

// handleAdminRequeue serves POST /api/admin/requeue, the operator escape
// hatch transitioning a failed row back to pending.
func (s *Server) handleAdminRequeue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req requeueRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.ID == 0 {
		WriteError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := s.app.Store.Requeue(r.Context(), req.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": req.ID, "status": "pending"})
}

// handleHealth serves GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion serves GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
