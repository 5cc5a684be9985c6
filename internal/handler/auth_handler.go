package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"noria-api/internal/metrics"
	"noria-api/internal/models"
	"noria-api/internal/ratelimit"
	"noria-api/internal/service"
	"noria-api/internal/util"
)

const signupLimiterName = "signup"

// AuthHandler serves the public signup endpoint behind a per-client limiter.
type AuthHandler struct {
	responder
	userService *service.UserService
	limiter     ratelimit.Limiter
	proxies     *TrustedProxies
	metrics     *metrics.Metrics
}

type SignupResponse struct {
	User *models.User `json:"user"`
}

// NewAuthHandler builds the signup handler. proxies may be nil, in which case
// the limiter is keyed on the TCP peer alone.
func NewAuthHandler(userService *service.UserService, limiter ratelimit.Limiter, proxies *TrustedProxies, m *metrics.Metrics, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		responder:   responder{logger: logger},
		userService: userService,
		limiter:     limiter,
		proxies:     proxies,
		metrics:     m,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
	})
}

// Signup creates an account. Every call, accepted or not, is charged to the
// client's limiter key before the body is read.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	key := h.proxies.ClientKey(r)

	allowed := h.limiter.Allow(key)
	h.metrics.RateLimitDecision(signupLimiterName, allowed)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.limiter.Remaining(key)))
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(h.limiter.WindowSeconds()))
		h.respondWithError(w, http.StatusTooManyRequests, ErrRateLimited, "Too many signup attempts. Try again later.")
		return
	}

	var req service.RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.RegisterUser(r.Context(), &req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to create account")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(SignupResponse{User: user}, "Account created"))
	h.logger.Info("User signed up via HTTP",
		util.String("user_id", user.ID.String()),
		util.Duration("duration", time.Since(startTime)),
	)
}
