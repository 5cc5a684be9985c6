package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"noria-api/internal/service"
	"noria-api/internal/util"
)

// UserHandler handles HTTP requests for user operations
type UserHandler struct {
	responder
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		responder:   responder{logger: logger},
		userService: userService,
	}
}

func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users/{userID}", h.GetUser)
	router.Patch("/users/{userID}", h.UpdateUser)
	router.Delete("/users/{userID}", h.DeleteUser)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(user, "User retrieved successfully"))
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	var req service.UpdateUserRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateUser(r.Context(), userID, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(user, "User updated successfully"))
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	if err := h.userService.DeleteUser(r.Context(), userID); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "User deleted successfully"))
	h.logger.Info("User deleted via HTTP", util.String("user_id", userID.String()))
}
