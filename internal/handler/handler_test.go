package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"noria-api/internal/analysis"
	"noria-api/internal/hashing"
	"noria-api/internal/metrics"
	"noria-api/internal/models"
	"noria-api/internal/ratelimit"
	"noria-api/internal/repository/sqldb/sqldbtest"
	"noria-api/internal/service"
)

const strongPassword = "Secur3Passw0rd"

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Meta    *Meta           `json:"meta"`
}

type testServer struct {
	router chi.Router
	clock  *ratelimit.ManualClock
}

type stubHealth map[string]error

func (s stubHealth) HealthCheck(context.Context) map[string]error { return s }

func newTestServer(t *testing.T, signupLimit int) *testServer {
	t.Helper()
	return newTestServerWithProxies(t, signupLimit, nil)
}

func newTestServerWithProxies(t *testing.T, signupLimit int, proxies []string) *testServer {
	t.Helper()

	trusted, err := ParseTrustedProxies(proxies)
	require.NoError(t, err)

	db := sqldbtest.New(t)
	hasher, err := hashing.NewPasswordHasher("test-pepper", bcrypt.MinCost)
	require.NoError(t, err)
	m := metrics.New()
	trigger, err := analysis.NewTrigger(analysis.DefaultThreshold, zap.NewNop(), analysis.WithMetrics(m))
	require.NoError(t, err)
	services := service.NewServiceFactory(db, hasher, trigger, m, zap.NewNop())

	clock := ratelimit.NewManualClock()
	limiter, err := ratelimit.NewSlidingWindow(signupLimit, 60, ratelimit.WithClock(clock))
	require.NoError(t, err)

	logger := zap.NewNop()
	router := NewRouter(RouterConfig{
		Environment:        "test",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		MetricsPath:        "/metrics",
		Metrics:            m,
		Health:             stubHealth{},
		Logger:             logger,
	},
		NewAuthHandler(services.UserService(), limiter, trusted, m, logger),
		NewUserHandler(services.UserService(), logger),
		NewConversationHandler(services.ConversationService(), logger),
		NewAnalysisHandler(services.AnalysisService(), logger),
		NewJobHandler(services.JobService(), logger),
	)
	return &testServer{router: router, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path, remoteAddr string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	return s.doWithHeaders(t, method, path, remoteAddr, nil, body)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path, remoteAddr string, headers map[string]string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (s *testServer) signup(t *testing.T, email string) *models.User {
	t.Helper()
	rec, resp := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": strongPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var data SignupResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data.User
}

func TestSignup_Created(t *testing.T) {
	srv := newTestServer(t, 10)

	rec, resp := srv.do(t, http.MethodPost, "/api/v1/auth/signup", "203.0.113.7:5555", map[string]any{
		"email":    "new@example.com",
		"password": strongPassword,
		"goals":    map[string]any{"focus": "career"},
		"stage":    2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Account created", resp.Message)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))

	var data map[string]map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	user := data["user"]
	assert.Equal(t, "new@example.com", user["email"])
	assert.EqualValues(t, 2, user["stage"])
	assert.NotContains(t, user, "password_hash")
	assert.NotContains(t, user, "PasswordHash")
}

func TestSignup_ErrorMapping(t *testing.T) {
	srv := newTestServer(t, 100)
	srv.signup(t, "taken@example.com")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "duplicate email",
			body:       map[string]any{"email": "Taken@example.com", "password": strongPassword},
			wantStatus: http.StatusConflict,
			wantMsg:    "Email already registered",
		},
		{
			name:       "weak password",
			body:       map[string]any{"email": "weak@example.com", "password": "password"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid email",
			body:       map[string]any{"email": "nope", "password": strongPassword},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "stage out of range",
			body:       map[string]any{"email": "stage@example.com", "password": strongPassword, "stage": 7},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := srv.do(t, http.MethodPost, "/api/v1/auth/signup", "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Message)
			}
		})
	}
}

func TestSignup_RateLimited(t *testing.T) {
	srv := newTestServer(t, 2)
	addr := "198.51.100.4:40000"

	for i := 0; i < 2; i++ {
		rec, _ := srv.do(t, http.MethodPost, "/api/v1/auth/signup", addr, map[string]any{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": strongPassword,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := srv.do(t, http.MethodPost, "/api/v1/auth/signup", addr, map[string]any{
		"email":    "third@example.com",
		"password": strongPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many signup attempts. Try again later.", resp.Message)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Another port on the same host shares the budget; another host does not.
	rec, _ = srv.do(t, http.MethodPost, "/api/v1/auth/signup", "198.51.100.4:40001", map[string]any{
		"email": "third@example.com", "password": strongPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/auth/signup", "198.51.100.5:40000", map[string]any{
		"email": "third@example.com", "password": strongPassword,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	srv.clock.Advance(61 * time.Second)
	rec, _ = srv.do(t, http.MethodPost, "/api/v1/auth/signup", addr, map[string]any{
		"email": "fourth@example.com", "password": strongPassword,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSignup_RateLimitIgnoresForwardedHeadersFromUntrustedPeer(t *testing.T) {
	srv := newTestServer(t, 2)
	addr := "203.0.113.7:5555"

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := srv.doWithHeaders(t, http.MethodPost, "/api/v1/auth/signup", addr, map[string]string{
			"X-Real-IP":       fmt.Sprintf("192.0.2.%d", i+1),
			"X-Forwarded-For": fmt.Sprintf("198.18.0.%d", i+1),
		}, map[string]any{
			"email":    fmt.Sprintf("rotating%d@example.com", i),
			"password": strongPassword,
		})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestSignup_RateLimitUsesForwardedClientFromTrustedProxy(t *testing.T) {
	srv := newTestServerWithProxies(t, 1, []string{"10.0.0.0/8"})
	proxy := "10.1.2.3:443"

	send := func(xff, email string) int {
		rec, _ := srv.doWithHeaders(t, http.MethodPost, "/api/v1/auth/signup", proxy, map[string]string{
			"X-Forwarded-For": xff,
		}, map[string]any{"email": email, "password": strongPassword})
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, send("192.0.2.1", "a@example.com"))
	assert.Equal(t, http.StatusCreated, send("192.0.2.2", "b@example.com"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1", "c@example.com"))
	// A client-supplied left-most hop does not change the key.
	assert.Equal(t, http.StatusTooManyRequests, send("8.8.8.8, 192.0.2.2", "d@example.com"))
}

func TestConversationEndpoints_TriggerAnalysis(t *testing.T) {
	srv := newTestServer(t, 10)
	user := srv.signup(t, "chatty@example.com")
	path := "/api/v1/users/" + user.ID.String() + "/conversations"

	var last CreateMessageResponse
	for i := 1; i <= 25; i++ {
		rec, resp := srv.do(t, http.MethodPost, path, "", map[string]any{
			"message_text": fmt.Sprintf("hello %d", i),
			"sender_type":  models.SenderUser,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(resp.Data, &last))
		assert.Equal(t, int64(i), last.UserMessageCount)
		assert.Equal(t, i == 25, last.AnalysisJobEnqueued, "message %d", i)
	}
	require.NotEmpty(t, last.AnalysisJobID)

	rec, resp := srv.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 25, resp.Meta.Total)

	rec, resp = srv.do(t, http.MethodGet, "/api/v1/jobs?name="+analysis.JobName, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []models.QueueJob
	require.NoError(t, json.Unmarshal(resp.Data, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, last.AnalysisJobID, jobs[0].ID.String())

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/jobs/"+last.AnalysisJobID+"/complete", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, resp = srv.do(t, http.MethodPost, "/api/v1/jobs/"+last.AnalysisJobID+"/complete", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Job already completed", resp.Message)

	msgPath := "/api/v1/conversations/" + last.Message.ID.String()
	rec, _ = srv.do(t, http.MethodPatch, msgPath, "", map[string]any{"message_text": "edited"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = srv.do(t, http.MethodDelete, msgPath, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = srv.do(t, http.MethodGet, msgPath, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationEndpoints_Errors(t *testing.T) {
	srv := newTestServer(t, 10)

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/users/not-a-uuid/conversations", "", map[string]any{
		"message_text": "hi", "sender_type": "user",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/users/"+uuid.NewString()+"/conversations", "", map[string]any{
		"message_text": "hi", "sender_type": "user",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	user := srv.signup(t, "errs@example.com")
	rec, _ = srv.do(t, http.MethodPost, "/api/v1/users/"+user.ID.String()+"/conversations", "", map[string]any{
		"message_text": "hi", "sender_type": "bot",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserAndAnalysisEndpoints(t *testing.T) {
	srv := newTestServer(t, 10)
	user := srv.signup(t, "profile@example.com")
	userPath := "/api/v1/users/" + user.ID.String()

	rec, _ := srv.do(t, http.MethodPatch, userPath, "", map[string]any{"stage": 3})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := srv.do(t, http.MethodPost, userPath+"/analysis", "", map[string]any{
		"chat_score": 64, "message_range": "1-25",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 64, result.ChatScore)

	rec, _ = srv.do(t, http.MethodPatch, "/api/v1/analysis/"+result.ID.String(), "", map[string]any{"chat_score": 70})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = srv.do(t, http.MethodGet, userPath+"/analysis", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Meta.Total)

	rec, _ = srv.do(t, http.MethodDelete, userPath, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = srv.do(t, http.MethodGet, userPath, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = srv.do(t, http.MethodGet, "/api/v1/analysis/"+result.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	srv := newTestServer(t, 10)

	rec, _ := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"environment":"test"`)

	rec, _ = srv.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.signup(t, "metrics@example.com")
	rec, _ = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `noria_rate_limit_decisions_total{decision="allowed",limiter="signup"} 1`)

	rec, _ = srv.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyReportsFailures(t *testing.T) {
	router := NewRouter(RouterConfig{
		Health: stubHealth{"database": errors.New("connection refused")},
		Logger: zap.NewNop(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrUserNotFound, http.StatusNotFound},
		{service.ErrMessageNotFound, http.StatusNotFound},
		{service.ErrAnalysisNotFound, http.StatusNotFound},
		{service.ErrJobNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad", service.ErrInvalidInput), http.StatusBadRequest},
		{hashing.ErrWeakPassword, http.StatusBadRequest},
		{service.ErrEmailAlreadyExists, http.StatusConflict},
		{service.ErrJobAlreadyDone, http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getStatusCode(tt.err), tt.err.Error())
	}
}
