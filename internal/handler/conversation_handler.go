package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"noria-api/internal/models"
	"noria-api/internal/service"
	"noria-api/internal/util"
)

type ConversationHandler struct {
	responder
	conversationService *service.ConversationService
}

// CreateMessageResponse is returned for a saved message. AnalysisQueueError is
// set when the message was saved but its analysis job was not.
type CreateMessageResponse struct {
	Message             *models.Conversation `json:"message"`
	UserMessageCount    int64                `json:"user_message_count"`
	AnalysisJobEnqueued bool                 `json:"analysis_job_enqueued"`
	AnalysisJobID       string               `json:"analysis_job_id,omitempty"`
	AnalysisQueueError  string               `json:"analysis_queue_error,omitempty"`
}

func NewConversationHandler(conversationService *service.ConversationService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		responder:           responder{logger: logger},
		conversationService: conversationService,
	}
}

func (h *ConversationHandler) RegisterRoutes(router chi.Router) {
	router.Post("/users/{userID}/conversations", h.CreateMessage)
	router.Get("/users/{userID}/conversations", h.ListMessages)

	router.Route("/conversations/{messageID}", func(r chi.Router) {
		r.Get("/", h.GetMessage)
		r.Patch("/", h.UpdateMessage)
		r.Delete("/", h.DeleteMessage)
	})
}

func (h *ConversationHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	var req service.CreateMessageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.conversationService.CreateMessage(r.Context(), userID, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to save message")
		return
	}

	resp := CreateMessageResponse{
		Message:             result.Message,
		UserMessageCount:    result.UserMessageCount,
		AnalysisJobEnqueued: result.AnalysisJob != nil,
	}
	if result.AnalysisJob != nil {
		resp.AnalysisJobID = result.AnalysisJob.ID.String()
	}
	if result.QueueErr != nil {
		resp.AnalysisQueueError = "analysis job could not be queued"
		h.logger.Warn("Message saved without analysis job",
			util.String("message_id", result.Message.ID.String()),
			util.ErrorField(result.QueueErr))
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(resp, "Message saved"))
}

func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	messages, err := h.conversationService.ListMessages(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to list messages")
		return
	}
	resp := successResponse(messages, "Messages retrieved successfully")
	resp.Meta = &Meta{Total: len(messages)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *ConversationHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := h.parseID(w, chi.URLParam(r, "messageID"))
	if !ok {
		return
	}

	msg, err := h.conversationService.GetMessage(r.Context(), messageID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get message")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(msg, "Message retrieved successfully"))
}

func (h *ConversationHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := h.parseID(w, chi.URLParam(r, "messageID"))
	if !ok {
		return
	}
	var req service.UpdateMessageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.conversationService.UpdateMessage(r.Context(), messageID, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update message")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(msg, "Message updated successfully"))
}

func (h *ConversationHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := h.parseID(w, chi.URLParam(r, "messageID"))
	if !ok {
		return
	}

	if err := h.conversationService.DeleteMessage(r.Context(), messageID); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete message")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Message deleted successfully"))
}
