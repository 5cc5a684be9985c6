package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"noria-api/internal/service"
)

type AnalysisHandler struct {
	responder
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		responder:       responder{logger: logger},
		analysisService: analysisService,
	}
}

func (h *AnalysisHandler) RegisterRoutes(router chi.Router) {
	router.Post("/users/{userID}/analysis", h.CreateResult)
	router.Get("/users/{userID}/analysis", h.ListResults)

	router.Route("/analysis/{analysisID}", func(r chi.Router) {
		r.Get("/", h.GetResult)
		r.Patch("/", h.UpdateResult)
		r.Delete("/", h.DeleteResult)
	})
}

func (h *AnalysisHandler) CreateResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	var req service.CreateAnalysisRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.analysisService.CreateResult(r.Context(), userID, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to record analysis result")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Analysis result recorded"))
}

func (h *AnalysisHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	results, err := h.analysisService.ListResults(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to list analysis results")
		return
	}
	resp := successResponse(results, "Analysis results retrieved successfully")
	resp.Meta = &Meta{Total: len(results)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AnalysisHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "analysisID"))
	if !ok {
		return
	}

	result, err := h.analysisService.GetResult(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get analysis result")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Analysis result retrieved successfully"))
}

func (h *AnalysisHandler) UpdateResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "analysisID"))
	if !ok {
		return
	}
	var req service.UpdateAnalysisRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.analysisService.UpdateResult(r.Context(), id, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update analysis result")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Analysis result updated successfully"))
}

func (h *AnalysisHandler) DeleteResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "analysisID"))
	if !ok {
		return
	}

	if err := h.analysisService.DeleteResult(r.Context(), id); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete analysis result")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Analysis result deleted successfully"))
}
