package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"noria-api/internal/service"
)

// JobHandler is the polling surface for analysis workers.
type JobHandler struct {
	responder
	jobService *service.JobService
}

func NewJobHandler(jobService *service.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		responder:  responder{logger: logger},
		jobService: jobService,
	}
}

func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListPending)
		r.Get("/{jobID}", h.GetJob)
		r.Post("/{jobID}/complete", h.CompleteJob)
	})
	router.Get("/users/{userID}/jobs", h.ListUserJobs)
}

// ListPending handles GET /jobs?name=analysis_job&limit=N.
func (h *JobHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit == 0 {
		limit = service.DefaultJobListLimit
	}
	if limit > service.MaxJobListLimit {
		limit = service.MaxJobListLimit
	}

	jobs, err := h.jobService.ListPending(r.Context(), r.URL.Query().Get("name"), limit)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to list jobs")
		return
	}
	resp := successResponse(jobs, "Jobs retrieved successfully")
	resp.Meta = &Meta{Total: len(jobs), Limit: limit}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get job")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(job, "Job retrieved successfully"))
}

func (h *JobHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	job, err := h.jobService.CompleteJob(r.Context(), jobID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to complete job")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(job, "Job completed"))
}

func (h *JobHandler) ListUserJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	jobs, err := h.jobService.ListAnalysisJobs(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to list jobs")
		return
	}
	resp := successResponse(jobs, "Jobs retrieved successfully")
	resp.Meta = &Meta{Total: len(jobs)}
	h.respondWithJSON(w, http.StatusOK, resp)
}
